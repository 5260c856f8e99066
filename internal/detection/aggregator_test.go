package detection

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ble(name, addr string) Detection {
	return Detection{Kind: KindBLE, Name: name, Address: addr, FirstSeen: t0}
}

func wifi(name, addr string) Detection {
	return Detection{Kind: KindWiFi, Name: name, Address: addr, FirstSeen: t0}
}

func TestObserveBLEIdempotent(t *testing.T) {
	a := NewAggregator(nil)

	first := ble("Drone1", "AA:BB")
	if !a.ObserveBLE(first) {
		t.Fatal("Expected first observation to change the set")
	}

	again := first
	again.FirstSeen = t0.Add(time.Minute)
	if a.ObserveBLE(again) {
		t.Error("Expected repeated observation to be a no-op")
	}

	got := a.CurrentVisible()
	if diff := cmp.Diff([]Detection{first}, got); diff != "" {
		t.Errorf("Visible set mismatch (-want +got):\n%s", diff)
	}
	if a.Version() != 1 {
		t.Errorf("Expected version 1, got %d", a.Version())
	}
}

func TestObserveBLEDistinctIdentities(t *testing.T) {
	a := NewAggregator(nil)
	a.ObserveBLE(ble("Drone1", "AA:BB"))
	a.ObserveBLE(ble("Drone1", "AA:CC"))
	a.ObserveBLE(ble("", ""))
	// Same name and address as a BLE entry but a different kind
	a.Observe(wifi("Drone1", "AA:BB"))

	if got := a.Len(); got != 4 {
		t.Errorf("Expected 4 distinct detections, got %d", got)
	}
}

func TestObserveWifiSnapshot(t *testing.T) {
	a := NewAggregator(nil)
	a.ObserveBLE(ble("Drone1", "AA:BB"))

	changed := a.ObserveWifiSnapshot([]Detection{
		wifi("RID-100", "11:11"),
		wifi("HomeNet", "22:22"),
		wifi("RID-200", "33:33"),
	}, "RID-")
	if !changed {
		t.Fatal("Expected snapshot to change the set")
	}

	want := []Detection{
		ble("Drone1", "AA:BB"),
		wifi("RID-100", "11:11"),
		wifi("RID-200", "33:33"),
	}
	if diff := cmp.Diff(want, a.CurrentVisible()); diff != "" {
		t.Errorf("After first snapshot (-want +got):\n%s", diff)
	}

	// The next snapshot is authoritative: RID-100 disappears, RID-300 appears,
	// RID-200 keeps its position and first-seen time
	later := t0.Add(10 * time.Second)
	a.ObserveWifiSnapshot([]Detection{
		{Kind: KindWiFi, Name: "RID-300", Address: "44:44", FirstSeen: later},
		{Kind: KindWiFi, Name: "RID-200", Address: "33:33", FirstSeen: later},
		{Kind: KindWiFi, Name: "RID-300", Address: "44:44", FirstSeen: later},
	}, "RID-")

	want = []Detection{
		ble("Drone1", "AA:BB"),
		wifi("RID-200", "33:33"),
		{Kind: KindWiFi, Name: "RID-300", Address: "44:44", FirstSeen: later},
	}
	if diff := cmp.Diff(want, a.CurrentVisible()); diff != "" {
		t.Errorf("After second snapshot (-want +got):\n%s", diff)
	}

	// An empty snapshot clears Wi-Fi only
	if !a.ObserveWifiSnapshot(nil, "RID-") {
		t.Error("Expected empty snapshot to remove Wi-Fi entries")
	}
	if diff := cmp.Diff([]Detection{ble("Drone1", "AA:BB")}, a.CurrentVisible()); diff != "" {
		t.Errorf("After empty snapshot (-want +got):\n%s", diff)
	}

	if a.ObserveWifiSnapshot(nil, "RID-") {
		t.Error("Expected repeated empty snapshot to be a no-op")
	}
}

func TestObserveWifiSnapshotDropsPreviouslySeenNonMatching(t *testing.T) {
	a := NewAggregator(nil)
	a.ObserveWifiSnapshot([]Detection{wifi("HomeNet", "22:22")}, "")
	if a.Len() != 1 {
		t.Fatalf("Expected HomeNet with empty filter, got %d entries", a.Len())
	}

	a.ObserveWifiSnapshot([]Detection{wifi("HomeNet", "22:22")}, "RID-")
	if a.Len() != 0 {
		t.Errorf("Expected non-matching entry to be dropped, got %v", a.CurrentVisible())
	}
}

func TestMergePolicyOverride(t *testing.T) {
	a := NewAggregator(map[Kind]MergePolicy{KindWiFi: MergeAccumulate})

	a.ObserveWifiSnapshot([]Detection{wifi("RID-1", "01")}, "RID-")
	a.ObserveWifiSnapshot([]Detection{wifi("RID-2", "02")}, "RID-")

	if got := a.Len(); got != 2 {
		t.Errorf("Expected accumulate policy to keep both entries, got %d", got)
	}
	if a.Policy(KindBLE) != MergeAccumulate {
		t.Errorf("Expected BLE default to stay accumulate")
	}
}

func TestBLEReplacePolicyUsesFlushWindows(t *testing.T) {
	a := NewAggregator(map[Kind]MergePolicy{KindBLE: MergeReplaceOnSnapshot})

	if a.ObserveBLE(ble("old", "01")) {
		t.Error("Expected a staged advertisement not to change the set yet")
	}
	a.ObserveBLE(ble("new", "02"))
	a.ObserveBLE(ble("new", "02"))
	if got := a.Len(); got != 0 {
		t.Fatalf("Expected nothing visible before the flush, got %d", got)
	}

	change := a.FlushBLE()
	if len(change.Added) != 2 || change.Removed != 0 {
		t.Fatalf("Expected 2 added and 0 removed, got %+v", change)
	}

	// Next window only hears "new"; "old" is no longer in range
	a.ObserveBLE(ble("new", "02"))
	change = a.FlushBLE()
	if len(change.Added) != 0 || change.Removed != 1 {
		t.Errorf("Expected 0 added and 1 removed, got %+v", change)
	}
	want := []Detection{ble("new", "02")}
	if diff := cmp.Diff(want, a.CurrentVisible()); diff != "" {
		t.Errorf("Visible set mismatch (-want +got):\n%s", diff)
	}

	// An empty window clears the BLE entries
	if change := a.FlushBLE(); change.Removed != 1 {
		t.Errorf("Expected the empty window to remove 1 entry, got %+v", change)
	}
	if got := a.Len(); got != 0 {
		t.Errorf("Expected no BLE entries after an empty window, got %d", got)
	}
}

func TestFlushBLEAccumulateIsNoop(t *testing.T) {
	a := NewAggregator(nil)
	a.ObserveBLE(ble("Drone1", "AA:BB"))

	if change := a.FlushBLE(); change.Changed() {
		t.Errorf("Expected no change under accumulate, got %+v", change)
	}
	if got := a.Len(); got != 1 {
		t.Errorf("Expected the advertisement to stay visible, got %d", got)
	}
}

func TestClearDropsStagedBLE(t *testing.T) {
	a := NewAggregator(map[Kind]MergePolicy{KindBLE: MergeReplaceOnSnapshot})
	a.ObserveBLE(ble("Drone1", "AA:BB"))

	a.ClearKind(KindBLE)
	if change := a.FlushBLE(); change.Changed() {
		t.Errorf("Expected the staged advertisement to be dropped, got %+v", change)
	}
}

func TestMergeSnapshotReportsAdded(t *testing.T) {
	a := NewAggregator(nil)
	a.ObserveWifiSnapshot([]Detection{wifi("RID-1", "01")}, "RID-")

	change := a.MergeWifiSnapshot([]Detection{wifi("RID-1", "01"), wifi("RID-2", "02"), wifi("Cafe", "03")}, "RID-")
	if diff := cmp.Diff([]Detection{wifi("RID-2", "02")}, change.Added); diff != "" {
		t.Errorf("Added mismatch (-want +got):\n%s", diff)
	}
	if change.Removed != 0 {
		t.Errorf("Expected nothing removed, got %d", change.Removed)
	}

	change = a.MergeWifiSnapshot(nil, "RID-")
	if len(change.Added) != 0 || change.Removed != 2 {
		t.Errorf("Expected 2 removed by an empty scan, got %+v", change)
	}
}

func TestParseMergePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    MergePolicy
		wantErr bool
	}{
		{"accumulate", MergeAccumulate, false},
		{" Replace ", MergeReplaceOnSnapshot, false},
		{"merge", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMergePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClear(t *testing.T) {
	a := NewAggregator(nil)
	a.ObserveBLE(ble("Drone1", "AA:BB"))
	a.ObserveWifiSnapshot([]Detection{wifi("RID-1", "01")}, "RID-")

	if !a.ClearKind(KindBLE) {
		t.Error("Expected ClearKind to remove BLE entry")
	}
	if a.ClearKind(KindBLE) {
		t.Error("Expected second ClearKind to be a no-op")
	}
	if diff := cmp.Diff([]Detection{wifi("RID-1", "01")}, a.CurrentVisible()); diff != "" {
		t.Errorf("After ClearKind (-want +got):\n%s", diff)
	}

	// Cleared BLE entries can be observed again
	if !a.ObserveBLE(ble("Drone1", "AA:BB")) {
		t.Error("Expected re-observation after clear to insert")
	}

	if !a.Clear() {
		t.Error("Expected Clear to report a change")
	}
	if a.Len() != 0 {
		t.Errorf("Expected empty set, got %d", a.Len())
	}
	if a.Clear() {
		t.Error("Expected Clear on an empty set to be a no-op")
	}
}

func TestCurrentVisibleIsACopy(t *testing.T) {
	a := NewAggregator(nil)
	a.ObserveBLE(ble("Drone1", "AA:BB"))

	got := a.CurrentVisible()
	got[0].Name = "mutated"

	if a.CurrentVisible()[0].Name != "Drone1" {
		t.Error("Mutating a returned snapshot changed the aggregator")
	}
}

func TestAggregatorConcurrentAccess(t *testing.T) {
	a := NewAggregator(nil)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a.ObserveBLE(ble("Drone", string(rune('A'+w))+string(rune('a'+i%26))))
				a.ObserveWifiSnapshot([]Detection{wifi("RID-x", "01")}, "RID-")
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				seen := make(map[Key]bool)
				for _, d := range a.CurrentVisible() {
					if seen[d.Key()] {
						t.Errorf("Duplicate identity in snapshot: %v", d.Key())
						return
					}
					seen[d.Key()] = true
				}
			}
		}()
	}
	wg.Wait()

	// 4 writers x 26 distinct addresses, plus the single Wi-Fi entry
	if got := a.Len(); got != 4*26+1 {
		t.Errorf("Expected %d detections, got %d", 4*26+1, got)
	}
}

func TestLabel(t *testing.T) {
	if got := ble("Drone1", "AA:BB").Label(); got != "Bluetooth: Drone1 (AA:BB)" {
		t.Errorf("Unexpected BLE label %q", got)
	}
	if got := wifi("RID-1", "01").Label(); got != "Wi-Fi: RID-1 (01)" {
		t.Errorf("Unexpected Wi-Fi label %q", got)
	}
}
