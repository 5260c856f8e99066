package permissions

import (
	"errors"
	"fmt"
	"sync"
)

// Kind identifies a permission-gated capability
type Kind string

const (
	BLE      Kind = "ble"
	WiFi     Kind = "wifi"
	Location Kind = "location"
)

// ErrPermissionDenied is matched by every DeniedError via errors.Is
var ErrPermissionDenied = errors.New("permission denied")

// DeniedError reports which capability was not granted
type DeniedError struct {
	Kind Kind
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s access not granted", e.Kind)
}

// Is lets errors.Is(err, ErrPermissionDenied) match
func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// State is a snapshot of all grants
type State struct {
	BLE      bool `json:"ble"`
	WiFi     bool `json:"wifi"`
	Location bool `json:"location"`
}

// Gate holds the grants reported by the hosting platform. The platform owns the
// prompts; the gate only remembers the answer.
type Gate struct {
	mu     sync.RWMutex
	grants map[Kind]bool
}

// NewGate creates a gate with the initial grants
func NewGate(initial State) *Gate {
	g := &Gate{grants: make(map[Kind]bool)}
	g.Set(initial)
	return g
}

// Granted reports whether a capability is currently granted
func (g *Gate) Granted(kind Kind) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.grants[kind]
}

// Check returns a *DeniedError when the capability is not granted
func (g *Gate) Check(kind Kind) error {
	if !g.Granted(kind) {
		return &DeniedError{Kind: kind}
	}
	return nil
}

// Grant changes a single capability
func (g *Gate) Grant(kind Kind, granted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[kind] = granted
}

// Set replaces all grants
func (g *Gate) Set(s State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[BLE] = s.BLE
	g.grants[WiFi] = s.WiFi
	g.grants[Location] = s.Location
}

// State returns the current grants
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return State{
		BLE:      g.grants[BLE],
		WiFi:     g.grants[WiFi],
		Location: g.grants[Location],
	}
}
