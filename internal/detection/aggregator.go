package detection

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// MergePolicy decides how a scan snapshot from one source kind is merged into the
// visible set.
type MergePolicy int

const (
	// MergeAccumulate inserts unseen entries and never removes anything
	MergeAccumulate MergePolicy = iota
	// MergeReplaceOnSnapshot treats each snapshot as authoritative for its kind:
	// entries of that kind missing from the snapshot are removed
	MergeReplaceOnSnapshot
)

func (p MergePolicy) String() string {
	switch p {
	case MergeAccumulate:
		return "accumulate"
	case MergeReplaceOnSnapshot:
		return "replace"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// ParseMergePolicy parses "accumulate" or "replace"
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accumulate":
		return MergeAccumulate, nil
	case "replace":
		return MergeReplaceOnSnapshot, nil
	default:
		return 0, fmt.Errorf("invalid merge policy: %q (must be 'accumulate' or 'replace')", s)
	}
}

// DefaultPolicies keeps BLE detections until cleared and lets every Wi-Fi
// snapshot replace the previous Wi-Fi entries.
func DefaultPolicies() map[Kind]MergePolicy {
	return map[Kind]MergePolicy{
		KindBLE:  MergeAccumulate,
		KindWiFi: MergeReplaceOnSnapshot,
	}
}

// Aggregator owns the de-duplicated set of currently visible detections.
// Writers are serialized; readers load an immutable snapshot and never block.
type Aggregator struct {
	mu       sync.Mutex
	policies map[Kind]MergePolicy
	order    []Detection
	index    map[Key]struct{}

	pendingBLE []Detection

	snapshot atomic.Pointer[[]Detection]
	version  atomic.Uint64
}

// NewAggregator creates an aggregator. Kinds missing from policies accumulate.
func NewAggregator(policies map[Kind]MergePolicy) *Aggregator {
	p := DefaultPolicies()
	for k, v := range policies {
		p[k] = v
	}

	a := &Aggregator{
		policies: p,
		index:    make(map[Key]struct{}),
	}
	empty := []Detection{}
	a.snapshot.Store(&empty)
	return a
}

// Policy returns the merge policy used for a kind
func (a *Aggregator) Policy(kind Kind) MergePolicy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policies[kind]
}

// Observe inserts a single detection if its identity is not present yet.
// Existing entries are never overwritten. Reports whether the set changed.
func (a *Aggregator) Observe(d Detection) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.insertLocked(d) {
		return false
	}
	a.publishLocked()
	return true
}

// ObserveBLE records one BLE advertisement. Under MergeAccumulate it is merged
// immediately. Under MergeReplaceOnSnapshot it is staged until the next FlushBLE,
// which treats everything staged since the previous flush as one snapshot.
func (a *Aggregator) ObserveBLE(d Detection) bool {
	d.Kind = KindBLE

	a.mu.Lock()
	if a.policies[KindBLE] == MergeReplaceOnSnapshot {
		a.pendingBLE = append(a.pendingBLE, d)
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	return a.Observe(d)
}

// FlushBLE closes the current BLE snapshot window. It is a no-op unless BLE uses
// MergeReplaceOnSnapshot.
func (a *Aggregator) FlushBLE() SnapshotChange {
	a.mu.Lock()
	if a.policies[KindBLE] != MergeReplaceOnSnapshot {
		a.mu.Unlock()
		return SnapshotChange{}
	}
	batch := a.pendingBLE
	a.pendingBLE = nil
	a.mu.Unlock()

	return a.MergeSnapshot(KindBLE, batch, "")
}

// ObserveWifiSnapshot merges one Wi-Fi scan batch. Only entries whose name starts
// with nameFilter are considered.
func (a *Aggregator) ObserveWifiSnapshot(batch []Detection, nameFilter string) bool {
	return a.MergeWifiSnapshot(batch, nameFilter).Changed()
}

// MergeWifiSnapshot is ObserveWifiSnapshot reporting what changed
func (a *Aggregator) MergeWifiSnapshot(batch []Detection, nameFilter string) SnapshotChange {
	tagged := make([]Detection, len(batch))
	for i, d := range batch {
		d.Kind = KindWiFi
		tagged[i] = d
	}
	return a.MergeSnapshot(KindWiFi, tagged, nameFilter)
}

// ObserveSnapshot merges a batch of detections of one kind according to the
// kind's merge policy. Entries of other kinds in the batch are ignored.
func (a *Aggregator) ObserveSnapshot(kind Kind, batch []Detection, nameFilter string) bool {
	return a.MergeSnapshot(kind, batch, nameFilter).Changed()
}

// SnapshotChange describes what one merge did to the visible set
type SnapshotChange struct {
	Added   []Detection
	Removed int
}

// Changed reports whether the visible set changed
func (c SnapshotChange) Changed() bool {
	return len(c.Added) > 0 || c.Removed > 0
}

// MergeSnapshot is ObserveSnapshot reporting the inserted detections, computed
// under the same lock as the merge itself.
func (a *Aggregator) MergeSnapshot(kind Kind, batch []Detection, nameFilter string) SnapshotChange {
	matching := make([]Detection, 0, len(batch))
	seen := make(map[Key]struct{}, len(batch))
	for _, d := range batch {
		if d.Kind != kind || !strings.HasPrefix(d.Name, nameFilter) {
			continue
		}
		k := d.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		matching = append(matching, d)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var change SnapshotChange
	if a.policies[kind] == MergeReplaceOnSnapshot {
		kept := a.order[:0:0]
		for _, d := range a.order {
			if d.Kind == kind {
				if _, ok := seen[d.Key()]; !ok {
					delete(a.index, d.Key())
					change.Removed++
					continue
				}
			}
			kept = append(kept, d)
		}
		a.order = kept
	}

	for _, d := range matching {
		if a.insertLocked(d) {
			change.Added = append(change.Added, d)
		}
	}

	if change.Changed() {
		a.publishLocked()
	}
	return change
}

// Clear removes every detection
func (a *Aggregator) Clear() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pendingBLE = nil
	if len(a.order) == 0 {
		return false
	}
	a.order = nil
	a.index = make(map[Key]struct{})
	a.publishLocked()
	return true
}

// ClearKind removes every detection of one kind
func (a *Aggregator) ClearKind(kind Kind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if kind == KindBLE {
		a.pendingBLE = nil
	}
	kept := a.order[:0:0]
	for _, d := range a.order {
		if d.Kind == kind {
			delete(a.index, d.Key())
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == len(a.order) {
		return false
	}
	a.order = kept
	a.publishLocked()
	return true
}

// CurrentVisible returns the visible detections in insertion order. The returned
// slice is a copy owned by the caller.
func (a *Aggregator) CurrentVisible() []Detection {
	snap := *a.snapshot.Load()
	out := make([]Detection, len(snap))
	copy(out, snap)
	return out
}

// Len returns the number of visible detections
func (a *Aggregator) Len() int {
	return len(*a.snapshot.Load())
}

// Version increments on every change of the visible set
func (a *Aggregator) Version() uint64 {
	return a.version.Load()
}

func (a *Aggregator) insertLocked(d Detection) bool {
	k := d.Key()
	if _, exists := a.index[k]; exists {
		return false
	}
	a.index[k] = struct{}{}
	a.order = append(a.order, d)
	return true
}

// publishLocked swaps in a fresh snapshot. a.order may later be appended to in
// place, so the snapshot gets its own backing array.
func (a *Aggregator) publishLocked() {
	snap := make([]Detection, len(a.order))
	copy(snap, a.order)
	a.snapshot.Store(&snap)
	a.version.Add(1)
}
