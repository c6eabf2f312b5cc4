package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tools.zach/dev/freezewatch/internal/report"
)

// ///////////////////////////////////////////////
// Test Endpoint
// ///////////////////////////////////////////////

// endpoint records received reports and answers with the next status in
// statuses (200 once they run out).
type endpoint struct {
	mu       sync.Mutex
	statuses []int
	received []*report.Event
	headers  []http.Header
	hits     atomic.Int32
}

func (ep *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ep.hits.Add(1)
	ep.mu.Lock()
	status := http.StatusOK
	if len(ep.statuses) > 0 {
		status, ep.statuses = ep.statuses[0], ep.statuses[1:]
	}
	if status == http.StatusOK {
		var e report.Event
		if err := json.NewDecoder(r.Body).Decode(&e); err == nil {
			ep.received = append(ep.received, &e)
			ep.headers = append(ep.headers, r.Header.Clone())
		}
	}
	ep.mu.Unlock()
	w.WriteHeader(status)
}

func newEndpoint(t *testing.T, statuses ...int) (*endpoint, *httptest.Server) {
	t.Helper()
	ep := &endpoint{statuses: statuses}
	srv := httptest.NewServer(ep)
	t.Cleanup(srv.Close)
	return ep, srv
}

func testDeliverer(url string, retries int, gate func(string) bool) *Deliverer {
	return NewDeliverer(DeliveryOptions{
		Endpoint:     url,
		RetryMax:     retries,
		Timeout:      5 * time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
		ShouldNotify: gate,
	})
}

func stagedEvent(t *testing.T, stage string) *report.Event {
	t.Helper()
	e := newEvent(t)
	e.APIKey = "secret-key"
	e.App.ReleaseStage = stage
	return e
}

// ///////////////////////////////////////////////
// Send
// ///////////////////////////////////////////////

func TestDeliverer_Send(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		retries  int
		wantErr  bool
		rejected bool
		wantHits int32
	}{
		{name: "accepted", wantHits: 1},
		{name: "retried after 503", statuses: []int{503}, retries: 2, wantHits: 2},
		{name: "retries exhausted", statuses: []int{500, 500, 500}, retries: 1, wantErr: true, wantHits: 2},
		{name: "rejected 400", statuses: []int{400}, retries: 3, wantErr: true, rejected: true, wantHits: 1},
		{name: "rejected 401", statuses: []int{401}, wantErr: true, rejected: true, wantHits: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, srv := newEndpoint(t, tt.statuses...)
			d := testDeliverer(srv.URL, tt.retries, nil)

			err := d.Send(context.Background(), stagedEvent(t, "production"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Send error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrRejected) != tt.rejected {
				t.Errorf("errors.Is(err, ErrRejected) = %v, want %v", errors.Is(err, ErrRejected), tt.rejected)
			}
			if got := ep.hits.Load(); got != tt.wantHits {
				t.Errorf("hits = %d, want %d", got, tt.wantHits)
			}
		})
	}
}

func TestDeliverer_SendHeaders(t *testing.T) {
	ep, srv := newEndpoint(t)
	e := stagedEvent(t, "production")
	if err := testDeliverer(srv.URL, 0, nil).Send(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if len(ep.received) != 1 || ep.received[0].ID != e.ID {
		t.Fatalf("received = %v", ep.received)
	}
	h := ep.headers[0]
	if h.Get(HeaderAPIKey) != "secret-key" {
		t.Errorf("%s = %q", HeaderAPIKey, h.Get(HeaderAPIKey))
	}
	if h.Get(HeaderPayloadVersion) != "2" {
		t.Errorf("%s = %q, want 2", HeaderPayloadVersion, h.Get(HeaderPayloadVersion))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
}

// ///////////////////////////////////////////////
// Flush
// ///////////////////////////////////////////////

func TestDeliverer_Flush(t *testing.T) {
	ep, srv := newEndpoint(t)
	s := newTestSpool(t, 10)
	for _, stage := range []string{"production", "development", "production"} {
		if _, err := s.Put(stagedEvent(t, stage)); err != nil {
			t.Fatal(err)
		}
	}

	gate := func(stage string) bool { return stage == "production" }
	res, err := testDeliverer(srv.URL, 0, gate).Flush(context.Background(), s)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res != (FlushResult{Sent: 2, Held: 1}) {
		t.Errorf("result = %+v, want 2 sent 1 held", res)
	}
	if got := ep.hits.Load(); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}

	names, _ := s.List()
	if len(names) != 1 {
		t.Fatalf("spool = %v, want only the held report", names)
	}
	held, err := s.Load(names[0])
	if err != nil {
		t.Fatal(err)
	}
	if held.App.ReleaseStage != "development" {
		t.Errorf("held stage = %q, want development", held.App.ReleaseStage)
	}
}

func TestDeliverer_FlushStopsOnTransientFailure(t *testing.T) {
	ep, srv := newEndpoint(t, 500)
	s := newTestSpool(t, 10)
	for range 3 {
		if _, err := s.Put(stagedEvent(t, "production")); err != nil {
			t.Fatal(err)
		}
	}

	res, err := testDeliverer(srv.URL, 0, nil).Flush(context.Background(), s)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Sent != 0 {
		t.Errorf("sent = %d, want 0", res.Sent)
	}
	if got := ep.hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1 (flush must stop)", got)
	}
	if names, _ := s.List(); len(names) != 3 {
		t.Errorf("spool holds %d reports, want 3", len(names))
	}
}

func TestDeliverer_FlushDropsRejectedAndCorrupt(t *testing.T) {
	_, srv := newEndpoint(t, 400)
	s := newTestSpool(t, 10)
	if _, err := s.Put(stagedEvent(t, "production")); err != nil {
		t.Fatal(err)
	}
	if err := writeRaw(s, "00000000000000000001-bad.json", "not json"); err != nil {
		t.Fatal(err)
	}

	res, err := testDeliverer(srv.URL, 0, nil).Flush(context.Background(), s)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", res.Dropped)
	}
	if names, _ := s.List(); len(names) != 0 {
		t.Errorf("spool = %v, want empty", names)
	}
}

func TestDeliverer_Disabled(t *testing.T) {
	s := newTestSpool(t, 10)
	if _, err := s.Put(stagedEvent(t, "production")); err != nil {
		t.Fatal(err)
	}
	d := testDeliverer("", 0, nil)
	if d.Enabled() {
		t.Error("Enabled() = true with no endpoint")
	}
	res, err := d.Flush(context.Background(), s)
	if err != nil || res != (FlushResult{}) {
		t.Errorf("Flush = %+v, %v; want no-op", res, err)
	}
}
