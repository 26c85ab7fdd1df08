package bus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/deckpace/go/internal/protocol"
)

func TestLocal_deliversToAllSubscribers(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	var got1, got2 []protocol.MessageType
	unsub1, err := b.Subscribe(func(env protocol.Envelope) { got1 = append(got1, env.Type) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := b.Subscribe(func(env protocol.Envelope) { got2 = append(got2, env.Type) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	if err := b.Publish(ctx, protocol.Query(protocol.TypeQuerySlideInfo)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	unsub1()
	unsub1()
	if err := b.Publish(ctx, protocol.Query(protocol.TypeQueryTimerState)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(got1) != 1 || got1[0] != protocol.TypeQuerySlideInfo {
		t.Errorf("subscriber 1 got %v", got1)
	}
	if len(got2) != 2 {
		t.Errorf("subscriber 2 got %v", got2)
	}

	stats := b.Stats()
	if stats.Published != 2 || stats.Delivered != 3 || stats.Subscribers != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLocal_handlerMayPublish(t *testing.T) {
	b := NewLocal()
	defer b.Close()
	ctx := context.Background()

	var seen []protocol.MessageType
	_, _ = b.Subscribe(func(env protocol.Envelope) {
		seen = append(seen, env.Type)
		if env.Type == protocol.TypeQuerySlideInfo {
			reply, _ := protocol.NewEnvelope(protocol.TypeSlideInfo, "s", protocol.SlideInfoPayload{CurrentSlide: 1})
			if err := b.Publish(ctx, reply); err != nil {
				t.Errorf("nested Publish: %v", err)
			}
		}
	})

	if err := b.Publish(ctx, protocol.Query(protocol.TypeQuerySlideInfo)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(seen) != 2 || seen[1] != protocol.TypeSlideInfo {
		t.Errorf("seen = %v", seen)
	}
}

func TestLocal_closed(t *testing.T) {
	b := NewLocal()
	b.Close()

	if err := b.Publish(context.Background(), protocol.Query(protocol.TypeQuerySlideInfo)); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close error = %v", err)
	}
	if _, err := b.Subscribe(func(protocol.Envelope) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close error = %v", err)
	}
}

func TestLocal_cancelledContext(t *testing.T) {
	b := NewLocal()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Publish(ctx, protocol.Query(protocol.TypeQuerySlideInfo)); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWebSocketConfig_Endpoint(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	cfg.URL = "http://relay.local:9000/"
	got, err := cfg.Endpoint()
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if want := "ws://relay.local:9000/ws/channel?name=presentation"; got != want {
		t.Errorf("Endpoint = %q, want %q", got, want)
	}
}

// replyServer answers every query_slide_info with slide_info.
func replyServer(t *testing.T, received chan<- protocol.Envelope) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/channel" || r.URL.Query().Get("name") != protocol.ChannelName {
			http.Error(w, "bad channel", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			received <- env
			if env.Type == protocol.TypeQuerySlideInfo {
				reply, _ := protocol.NewEnvelope(protocol.TypeSlideInfo, "sess", protocol.SlideInfoPayload{CurrentSlide: 4})
				out, _ := protocol.Encode(reply)
				if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
					return
				}
			}
		}
	}))
}

func TestWebSocket_publishAndReceive(t *testing.T) {
	received := make(chan protocol.Envelope, 4)
	srv := replyServer(t, received)
	defer srv.Close()

	cfg := DefaultWebSocketConfig()
	cfg.URL = srv.URL
	cfg.ReconnectWait = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := DialWebSocket(ctx, cfg)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer b.Close()

	var mu sync.Mutex
	var local int
	slideInfo := make(chan protocol.Envelope, 1)
	_, _ = b.Subscribe(func(env protocol.Envelope) {
		switch env.Type {
		case protocol.TypeQuerySlideInfo:
			mu.Lock()
			local++
			mu.Unlock()
		case protocol.TypeSlideInfo:
			slideInfo <- env
		}
	})

	if err := b.Publish(ctx, protocol.Query(protocol.TypeQuerySlideInfo)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-received:
		if env.Type != protocol.TypeQuerySlideInfo {
			t.Errorf("server received %s", env.Type)
		}
	case <-ctx.Done():
		t.Fatal("server never received the query")
	}

	select {
	case env := <-slideInfo:
		payload, err := protocol.ParsePayload(env)
		if err != nil {
			t.Fatalf("ParsePayload: %v", err)
		}
		if payload.(protocol.SlideInfoPayload).CurrentSlide != 4 {
			t.Errorf("payload = %+v", payload)
		}
	case <-ctx.Done():
		t.Fatal("client never received slide_info")
	}

	mu.Lock()
	defer mu.Unlock()
	if local != 1 {
		t.Errorf("local subscriber saw own publish %d times, want 1", local)
	}
}

func TestWebSocket_dialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := DefaultWebSocketConfig()
	cfg.URL = srv.URL
	if _, err := DialWebSocket(context.Background(), cfg); err == nil {
		t.Fatal("DialWebSocket succeeded against a non-websocket server")
	}
}

func TestOpen(t *testing.T) {
	b, err := Open(context.Background(), Options{Transport: "local"})
	if err != nil {
		t.Fatalf("Open(local): %v", err)
	}
	if _, ok := b.(*Local); !ok {
		t.Errorf("Open(local) = %T", b)
	}
	b.Close()

	if _, err := Open(context.Background(), Options{Transport: "carrier-pigeon"}); !errors.Is(err, ErrUnknownTransport) {
		t.Errorf("Open(carrier-pigeon) error = %v", err)
	}
}
