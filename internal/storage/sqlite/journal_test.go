package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yegors/ridscan/internal/adsb"
	"github.com/yegors/ridscan/internal/detection"
	"github.com/yegors/ridscan/pkg/logger"
)

func newTestJournal(t *testing.T) *JournalStorage {
	t.Helper()
	j, err := NewJournalStorage(filepath.Join(t.TempDir(), "journal.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewJournalStorage failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestDailyPath(t *testing.T) {
	day := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	if got := DailyPath("data", day); got != filepath.Join("data", "ridscan-2024-03-09.db") {
		t.Errorf("Unexpected path %s", got)
	}
}

func TestRecordDetections(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := j.RecordDetections(ctx, []detection.Detection{
		{Kind: detection.KindBLE, Name: "Drone1", Address: "AA:BB", FirstSeen: seen},
		{Kind: detection.KindWiFi, Name: "RID-1", Address: "01", FirstSeen: seen},
	})
	if err != nil {
		t.Fatalf("RecordDetections failed: %v", err)
	}
	if err := j.RecordDetections(ctx, nil); err != nil {
		t.Fatalf("Empty RecordDetections failed: %v", err)
	}

	got, err := j.RecentDetections(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	// Newest first
	if got[0].Name != "RID-1" || got[0].Kind != "WIFI" {
		t.Errorf("Unexpected first record %+v", got[0])
	}
	if !got[1].FirstSeen.Equal(seen) {
		t.Errorf("Expected first seen %v, got %v", seen, got[1].FirstSeen)
	}

	limited, err := j.RecentDetections(ctx, 1)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}
}

func TestRecordFetch(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	records := []adsb.FetchRecord{
		{Generation: 1, Latitude: 43.6, Longitude: -79.6, StartedAt: started, Duration: 120 * time.Millisecond, Outcome: adsb.OutcomeApplied, Count: 4},
		{Generation: 2, Latitude: 43.7, Longitude: -79.5, StartedAt: started.Add(time.Second), Duration: time.Second, Outcome: adsb.OutcomeFailed, Error: "unexpected status code 502"},
	}
	for _, r := range records {
		if err := j.RecordFetch(ctx, r); err != nil {
			t.Fatalf("RecordFetch failed: %v", err)
		}
	}

	got, err := j.RecentFetches(ctx, 10)
	if err != nil {
		t.Fatalf("RecentFetches failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(got))
	}
	if got[0].Generation != 2 || got[0].Error == "" || got[0].Outcome != adsb.OutcomeFailed {
		t.Errorf("Unexpected newest row %+v", got[0])
	}
	if got[1].Count != 4 || got[1].Duration != 120*time.Millisecond || got[1].Error != "" {
		t.Errorf("Unexpected oldest row %+v", got[1])
	}
	if !got[1].StartedAt.Equal(started) {
		t.Errorf("Expected started at %v, got %v", started, got[1].StartedAt)
	}
}
