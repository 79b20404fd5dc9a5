package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhook_Delivers(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	msg := Message{Kind: "restock", Text: "Widget back in stock", At: time.Now()}
	if err := w.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if got.Kind != "restock" || got.Text != msg.Text {
		t.Fatalf("delivered message: %+v", got)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(3))
	if err := w.Send(context.Background(), Message{Kind: "pause", Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls: %d", calls.Load())
	}
}

func TestWebhook_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1))
	if err := w.Send(context.Background(), Message{Kind: "pause", Text: "x"}); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	s.Send(context.Background(), Message{Kind: "digest", Text: "summary"})

	var msg Message
	if err := json.Unmarshal(buf.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Kind != "digest" {
		t.Fatalf("got %+v", msg)
	}
}

type failingSink struct{ err error }

func (f *failingSink) Send(context.Context, Message) error { return f.err }
func (f *failingSink) Close() error                        { return nil }

func TestRouter_OneFailureDoesNotBlockOthers(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	r := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)),
		&failingSink{err: boom}, NewStdout(&buf))

	err := r.Send(context.Background(), Message{Kind: "restock", Text: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected first error returned, got %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("second sink did not receive the message")
	}
}
