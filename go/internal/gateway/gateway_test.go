package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/deckpace/go/internal/metrics"
	"github.com/mcdev12/deckpace/go/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func newTestGateway(t *testing.T) (*Service, *metrics.Metrics, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	met := metrics.New()
	svc, err := NewService(ctx, DefaultConfig(), met)
	if err != nil {
		cancel()
		t.Fatalf("NewService: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Start(ctx)
	}()

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return svc, met, srv
}

func dial(t *testing.T, srv *httptest.Server, channel string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/channel?name=" + channel
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, cm *ConnectionManager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cm.GetConnectionStats().TotalConnections == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connections = %d, want %d", cm.GetConnectionStats().TotalConnections, want)
}

func slideInfo(t *testing.T, slide int) []byte {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeSlideInfo, "session-1", protocol.SlideInfoPayload{CurrentSlide: slide})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return env
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestGateway_relaysToOtherConnections(t *testing.T) {
	svc, _, srv := newTestGateway(t)

	presenter := dial(t, srv, "talk")
	monitor := dial(t, srv, "talk")
	other := dial(t, srv, "elsewhere")
	waitForConnections(t, svc.ConnectionManager(), 3)

	if err := presenter.WriteMessage(websocket.TextMessage, slideInfo(t, 4)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	env := readEnvelope(t, monitor)
	if env.Type != protocol.TypeSlideInfo || env.SessionID != "session-1" {
		t.Fatalf("monitor got %+v", env)
	}
	payload, err := protocol.ParsePayload(env)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got := payload.(protocol.SlideInfoPayload).CurrentSlide; got != 4 {
		t.Errorf("slide = %d, want 4", got)
	}

	// Neither the sender nor another channel sees the frame
	for name, conn := range map[string]*websocket.Conn{"sender": presenter, "other channel": other} {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if _, data, err := conn.ReadMessage(); err == nil {
			t.Errorf("%s received %s", name, data)
		}
	}
}

func TestGateway_dropsInvalidFrames(t *testing.T) {
	svc, _, srv := newTestGateway(t)

	sender := dial(t, srv, "talk")
	receiver := dial(t, srv, "talk")
	waitForConnections(t, svc.ConnectionManager(), 2)

	for _, frame := range []string{"not json", `{"data":{}}`, `{"type":"bogus"}`} {
		if err := sender.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	if err := sender.WriteMessage(websocket.TextMessage, slideInfo(t, 2)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	if env := readEnvelope(t, receiver); env.Type != protocol.TypeSlideInfo {
		t.Fatalf("first relayed frame = %+v, want slide_info", env)
	}

	_, body := get(t, srv.URL+"/metrics")
	for _, want := range []string{
		`deckpace_messages_dropped_total{reason="malformed"} 2`,
		`deckpace_messages_dropped_total{reason="unknown_type"} 1`,
		`deckpace_messages_total{type="slide_info"} 1`,
		`deckpace_relay_connections 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestGateway_rejectsBadChannelNames(t *testing.T) {
	_, _, srv := newTestGateway(t)

	for _, query := range []string{"", "?name=", "?name=a.b", "?name=" + strings.Repeat("x", 65)} {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/channel" + query
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Errorf("Dial(%q) succeeded", query)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Dial(%q) response = %v", query, resp)
		}
	}
}

func TestGateway_httpRoutes(t *testing.T) {
	svc, _, srv := newTestGateway(t)

	resp, body := get(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK || body != "OK" {
		t.Errorf("/health = %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, srv.URL+"/health/ready")
	var health HealthStatus
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !health.Healthy || health.FanoutEnabled || health.GatewayID != svc.ID() {
		t.Errorf("/health/ready = %d %+v", resp.StatusCode, health)
	}

	dial(t, srv, "talk")
	dial(t, srv, "talk")
	dial(t, srv, "rehearsal")
	waitForConnections(t, svc.ConnectionManager(), 3)

	resp, body = get(t, srv.URL+"/api/channels")
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var stats ConnectionStats
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if stats.TotalConnections != 3 || stats.ActiveChannels != 2 || stats.Channels["talk"] != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if names := svc.ConnectionManager().ChannelNames(); len(names) != 2 || names[0] != "rehearsal" {
		t.Errorf("ChannelNames = %v", names)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Origin", "http://slides.example")
	corsResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	corsResp.Body.Close()
	if got := corsResp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestGateway_journalRequiresNATS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JournalEnabled = true
	if _, err := NewService(context.Background(), cfg, nil); !errors.Is(err, ErrJournalWithoutNATS) {
		t.Fatal("NewService accepted a journal without NATS")
	}
}

func TestFanout_handleMsg(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), nil)
	f := &Fanout{prefix: "deckpace.relay", gatewayID: "self", cm: cm}

	if got := f.Subject("talk"); got != "deckpace.relay.talk" {
		t.Errorf("Subject = %q", got)
	}

	f.handleMsg(&nats.Msg{
		Subject: "deckpace.relay.talk",
		Data:    []byte("own"),
		Header:  nats.Header{gatewayIDHeader: []string{"self"}},
	})
	f.handleMsg(&nats.Msg{
		Subject: "deckpace.relay.a.b",
		Data:    []byte("nested"),
		Header:  nats.Header{gatewayIDHeader: []string{"peer"}},
	})
	f.handleMsg(&nats.Msg{
		Subject: "deckpace.relay.talk",
		Data:    []byte("peer"),
		Header:  nats.Header{gatewayIDHeader: []string{"peer"}},
	})

	if n := len(cm.broadcastCh); n != 1 {
		t.Fatalf("queued %d broadcasts, want 1", n)
	}
	msg := <-cm.broadcastCh
	if msg.Channel != "talk" || string(msg.Data) != "peer" || msg.Sender != nil {
		t.Errorf("broadcast = %+v", msg)
	}
}

func TestJournal_subjectsAndQueries(t *testing.T) {
	j := &Journal{config: DefaultJournalConfig()}

	if got := j.Subject("talk", protocol.TypeTimerState); got != "presentation.events.talk.timer_state" {
		t.Errorf("Subject = %q", got)
	}
	// Queries are skipped before touching JetStream
	if err := j.Record(context.Background(), "talk", protocol.Query(protocol.TypeQueryTimerState), nil); err != nil {
		t.Errorf("Record(query) = %v", err)
	}

	sc := j.streamConfig()
	if sc.Subjects[0] != "presentation.events.>" {
		t.Errorf("stream subjects = %v", sc.Subjects)
	}
	changed := sc
	changed.MaxAge = time.Hour
	if !isStreamConfigEqual(sc, sc) || isStreamConfigEqual(sc, changed) {
		t.Error("isStreamConfigEqual mismatch")
	}
	if sc.Retention != jetstream.LimitsPolicy {
		t.Errorf("retention = %v", sc.Retention)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("NATS_URL", "nats://relay:4222")
	t.Setenv("JOURNAL_ENABLED", "true")
	t.Setenv("GATEWAY_PING_INTERVAL", "15s")
	t.Setenv("JOURNAL_MAX_AGE", "24h")

	cfg := NewConfigFromEnv()
	if cfg.NATSURL != "nats://relay:4222" || !cfg.JournalEnabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ConnectionConfig.PingInterval != 15*time.Second || cfg.JournalConfig.MaxAge != 24*time.Hour {
		t.Errorf("durations = %v, %v", cfg.ConnectionConfig.PingInterval, cfg.JournalConfig.MaxAge)
	}
	if cfg.FanoutPrefix != "deckpace.relay" || cfg.JournalConfig.StreamName != "PRESENTATION_EVENTS" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}
