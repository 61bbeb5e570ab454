package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifySignsAndDelivers(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := New([]Endpoint{{URL: srv.URL, Secret: "s3cret"}}, Options{Logger: discard()})
	err := f.Notify(context.Background(), "document/embed.completed", map[string]any{
		"documentId": "doc_1",
		"chunkCount": 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !Verify("s3cret", gotBody, gotSig) {
		t.Fatalf("signature %q does not verify", gotSig)
	}

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "document/embed.completed" {
		t.Errorf("event = %q", env.Event)
	}
}

func TestNotifyEventFilter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	f := New([]Endpoint{
		{URL: srv.URL, Events: []string{"document/embed.completed"}},
	}, Options{Logger: discard()})

	if err := f.Notify(context.Background(), "document/analyze.completed", nil); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Fatalf("filtered event delivered %d times", calls.Load())
	}

	if err := f.Notify(context.Background(), "document/embed.completed", nil); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("wanted 1 delivery, got %d", calls.Load())
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New([]Endpoint{{URL: srv.URL}}, Options{MaxRetries: 2, Logger: discard()})
	if err := f.Notify(context.Background(), "document/embed.completed", nil); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestNotifyDeadEndpointDoesNotFail(t *testing.T) {
	f := New([]Endpoint{{URL: "http://127.0.0.1:1/unreachable"}}, Options{MaxRetries: 1, Logger: discard()})
	if err := f.Notify(context.Background(), "document/embed.completed", nil); err != nil {
		t.Fatalf("Notify returned %v for dead endpoint", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	sig := Sign("key", body)
	if !Verify("key", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if Verify("key", []byte(`{"event":"y"}`), sig) {
		t.Fatal("tampered body accepted")
	}
	if Verify("other", body, sig) {
		t.Fatal("wrong secret accepted")
	}
}
