package adsb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yegors/ridscan/internal/location"
	"github.com/yegors/ridscan/internal/websocket"
	"github.com/yegors/ridscan/pkg/logger"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []*websocket.Message
}

func (b *recordingBroadcaster) Broadcast(message *websocket.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, message)
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.messages))
	for i, m := range b.messages {
		out[i] = m.Type
	}
	return out
}

type recordingJournal struct {
	mu      sync.Mutex
	records []FetchRecord
}

func (j *recordingJournal) RecordFetch(_ context.Context, record FetchRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, record)
	return nil
}

func (j *recordingJournal) outcomes() map[uint64]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[uint64]string)
	for _, r := range j.records {
		out[r.Generation] = r.Outcome
	}
	return out
}

// flightServer answers with one aircraft named after the requested latitude.
// Requests for latitudes in hold block until release is closed.
func flightServer(t *testing.T, hold map[string]chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		lat := parts[len(parts)-3]
		if ch, ok := hold[lat]; ok {
			<-ch
		}
		if lat == "9.0000" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if lat == "8.0000" {
			w.Write([]byte(`{"unexpectedKey":[]}`))
			return
		}
		fmt.Fprintf(w, `{"ac":[{"flight":"LAT%s","lat":0,"lon":0}]}`, lat)
	}))
}

func newTestService(t *testing.T, url string) (*Service, *recordingBroadcaster, *recordingJournal) {
	t.Helper()
	ws := &recordingBroadcaster{}
	journal := &recordingJournal{}
	client := NewClient(url, 15, 5*time.Second, logger.NewNop())
	return NewService(client, Normalizer{}, ws, journal, logger.NewNop()), ws, journal
}

func TestServiceAppliesLatest(t *testing.T) {
	server := flightServer(t, nil)
	defer server.Close()
	svc, ws, _ := newTestService(t, server.URL)

	gen := svc.HandleFix(context.Background(), location.Fix{Latitude: 1, Longitude: 0})
	svc.Wait()

	got := svc.Aircraft()
	if len(got) != 1 || got[0].Flight != "LAT1.0000" {
		t.Fatalf("Unexpected aircraft %+v", got)
	}
	status := svc.Status()
	if status.LatestApplied != gen || status.State != FetchIdle || status.Applied != 1 {
		t.Errorf("Unexpected status %+v", status)
	}
	if types := ws.types(); len(types) != 1 || types[0] != websocket.MessageTypeAircraftUpdated {
		t.Errorf("Expected one aircraft_updated message, got %v", types)
	}
}

func TestServiceDiscardsStaleGeneration(t *testing.T) {
	release := make(chan struct{})
	server := flightServer(t, map[string]chan struct{}{"1.0000": release})
	defer server.Close()
	svc, _, journal := newTestService(t, server.URL)
	ctx := context.Background()

	first := svc.HandleFix(ctx, location.Fix{Latitude: 1, Longitude: 0})
	second := svc.HandleFix(ctx, location.Fix{Latitude: 2, Longitude: 0})

	// Let the newer request land first, then release the older one
	deadline := time.After(2 * time.Second)
	for svc.Status().LatestApplied != second {
		select {
		case <-deadline:
			t.Fatal("Second fetch never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(release)
	svc.Wait()

	got := svc.Aircraft()
	if len(got) != 1 || got[0].Flight != "LAT2.0000" {
		t.Errorf("Stale result overwrote the list: %+v", got)
	}
	outcomes := journal.outcomes()
	if outcomes[first] != OutcomeStale || outcomes[second] != OutcomeApplied {
		t.Errorf("Unexpected outcomes %v", outcomes)
	}
	if svc.Status().Discarded != 1 {
		t.Errorf("Expected one discarded result, got %d", svc.Status().Discarded)
	}
}

func TestServiceFailureKeepsPreviousList(t *testing.T) {
	server := flightServer(t, nil)
	defer server.Close()
	svc, ws, _ := newTestService(t, server.URL)
	ctx := context.Background()

	svc.HandleFix(ctx, location.Fix{Latitude: 1, Longitude: 0})
	svc.Wait()

	for _, lat := range []float64{9, 8} {
		svc.HandleFix(ctx, location.Fix{Latitude: lat, Longitude: 0})
		svc.Wait()

		got := svc.Aircraft()
		if len(got) != 1 || got[0].Flight != "LAT1.0000" {
			t.Errorf("Expected previous list after failure at lat %v, got %+v", lat, got)
		}
		if svc.Status().LastError == "" {
			t.Errorf("Expected last error to be recorded at lat %v", lat)
		}
	}

	types := ws.types()
	want := []string{
		websocket.MessageTypeAircraftUpdated,
		websocket.MessageTypeAircraftFetchError,
		websocket.MessageTypeAircraftFetchError,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("Expected messages %v, got %v", want, types)
	}
}

func TestServiceDiscardsAfterCancellation(t *testing.T) {
	release := make(chan struct{})
	server := flightServer(t, map[string]chan struct{}{"1.0000": release})
	defer server.Close()
	svc, ws, journal := newTestService(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	gen := svc.HandleFix(ctx, location.Fix{Latitude: 1, Longitude: 0})
	cancel()
	close(release)
	svc.Wait()

	if len(svc.Aircraft()) != 0 {
		t.Errorf("Expected result to be discarded after cancellation, got %+v", svc.Aircraft())
	}
	if outcome := journal.outcomes()[gen]; outcome != OutcomeCancelled {
		t.Errorf("Expected cancelled outcome, got %q", outcome)
	}
	if len(ws.types()) != 0 {
		t.Errorf("Expected no notifications, got %v", ws.types())
	}
}
