package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/restockd/restockd/engine"
	"github.com/restockd/restockd/history"
	"github.com/restockd/restockd/stock"
)

type stubStatus struct{ snap engine.Snapshot }

func (s stubStatus) Snapshot() engine.Snapshot { return s.snap }

type stubHistory struct {
	entries []history.Entry
	err     error
	lastN   int
}

func (s *stubHistory) Recent(_ context.Context, n int) ([]history.Entry, error) {
	s.lastN = n
	return s.entries, s.err
}

func newTestServer(status StatusSource, hist HistorySource) *Server {
	return New("127.0.0.1:0", status, hist,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(stubStatus{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body: %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	snap := engine.Snapshot{
		Targets: []engine.TargetState{
			{URL: "https://shop/a", State: stock.State{Status: stock.InStock, Price: "$9.99"}},
		},
		Failures: 2,
		Cooldown: "4m0s",
		Cycle:    7,
		Daily:    engine.DailyCounters{Restocks: 1},
	}
	s := newTestServer(stubStatus{snap: snap}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/status", nil))

	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var got engine.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Failures != 2 || got.Cycle != 7 || len(got.Targets) != 1 {
		t.Fatalf("snapshot: %+v", got)
	}
	if got.Targets[0].State.Status != stock.InStock {
		t.Fatalf("target state: %+v", got.Targets[0])
	}
}

func TestHistoryEndpoint(t *testing.T) {
	hist := &stubHistory{entries: []history.Entry{
		{URL: "https://shop/a", Kind: stock.TransitionRestock, At: time.Now()},
	}}
	s := newTestServer(stubStatus{}, hist)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history?n=5", nil))

	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	if hist.lastN != 5 {
		t.Fatalf("limit passed: %d, want 5", hist.lastN)
	}
	var got []history.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].URL != "https://shop/a" {
		t.Fatalf("entries: %+v", got)
	}
}

func TestHistoryEndpoint_DefaultLimitAndErrors(t *testing.T) {
	hist := &stubHistory{}
	s := newTestServer(stubStatus{}, hist)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history?n=bogus", nil))
	if rec.Code != 200 || hist.lastN != 20 {
		t.Fatalf("code=%d lastN=%d, want 200/20", rec.Code, hist.lastN)
	}

	// nil store behaves as empty history.
	s = newTestServer(stubStatus{}, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history", nil))
	if rec.Code != 200 || rec.Body.String() != "[]\n" {
		t.Fatalf("nil store: code=%d body=%q", rec.Code, rec.Body.String())
	}

	hist.err = errors.New("db closed")
	s = newTestServer(stubStatus{}, hist)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history", nil))
	if rec.Code != 500 {
		t.Fatalf("error path: code=%d", rec.Code)
	}
}
