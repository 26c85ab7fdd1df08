package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/deckpace/go/clients"
)

func TestSender_Submit(t *testing.T) {
	var (
		got     Submission
		gotPath string
		gotCT   string
		calls   int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotPath = r.URL.RequestURI()
		gotCT = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewSender(srv.URL+"/feedback?talk=7", map[string]any{"renderer": "deckpace"})
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}

	outcome, err := s.Submit(context.Background(), map[string]string{"rating": "5", "comment": ""})
	if err != nil || outcome != OutcomeSuccess {
		t.Fatalf("Submit = %s, %v", outcome, err)
	}
	if gotPath != "/feedback?talk=7" || gotCT != "application/json" {
		t.Errorf("request = %s (%s)", gotPath, gotCT)
	}
	if got.StaticInfo["renderer"] != "deckpace" || got.Collected["rating"] != "5" {
		t.Errorf("submission = %+v", got)
	}

	outcome, err = s.Submit(context.Background(), map[string]string{"rating": "", "comment": "  "})
	if outcome != OutcomeEmpty || !errors.Is(err, ErrEmptyForm) {
		t.Errorf("empty Submit = %s, %v", outcome, err)
	}
	if calls != 1 {
		t.Errorf("server called %d times, want 1", calls)
	}
}

func TestSender_SubmitErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))

	s, err := NewSender(srv.URL+"/feedback", nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	outcome, err := s.Submit(context.Background(), map[string]string{"comment": "great"})
	var statusErr *clients.StatusError
	if outcome != OutcomeError || !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("Submit = %s, %v", outcome, err)
	}
	if !errors.Is(err, clients.ErrStatus) {
		t.Errorf("error %v does not wrap ErrStatus", err)
	}

	srv.Close()
	outcome, err = s.Submit(context.Background(), map[string]string{"comment": "great"})
	if outcome != OutcomeError || err == nil || errors.Is(err, clients.ErrStatus) {
		t.Errorf("Submit after close = %s, %v", outcome, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Submit(ctx, map[string]string{"comment": "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Submit error = %v", err)
	}
}

func TestNewSender_rejectsRelativeURL(t *testing.T) {
	for _, target := range []string{"/feedback", "ftp://host/x", "http://"} {
		if _, err := NewSender(target, nil); err == nil {
			t.Errorf("NewSender(%q) accepted", target)
		}
	}
}
