package detection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yegors/ridscan/internal/permissions"
	"github.com/yegors/ridscan/pkg/logger"
)

// ErrRadioUnavailable is returned when the radio backing a source is missing,
// switched off or otherwise cannot scan
var ErrRadioUnavailable = errors.New("radio unavailable")

// BLESource streams BLE advertisements as they arrive. The channel is closed once
// ctx is done.
type BLESource interface {
	Advertisements(ctx context.Context) (<-chan Advertisement, error)
}

// WifiSource returns the most recent cached Wi-Fi scan batch
type WifiSource interface {
	ScanResults(ctx context.Context) ([]WifiResult, error)
}

const advertisementBuffer = 256

// PushBLESource receives advertisements from the hosting platform and fans them
// out to subscribers
type PushBLESource struct {
	gate   *permissions.Gate
	logger *logger.Logger

	mu          sync.Mutex
	subscribers map[chan Advertisement]struct{}
}

// NewPushBLESource creates a BLE source gated on the BLE permission
func NewPushBLESource(gate *permissions.Gate, log *logger.Logger) *PushBLESource {
	return &PushBLESource{
		gate:        gate,
		logger:      log.Named("ble-source"),
		subscribers: make(map[chan Advertisement]struct{}),
	}
}

// Advertisements subscribes to incoming advertisements until ctx is cancelled
func (s *PushBLESource) Advertisements(ctx context.Context) (<-chan Advertisement, error) {
	if err := s.gate.Check(permissions.BLE); err != nil {
		return nil, err
	}

	ch := make(chan Advertisement, advertisementBuffer)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

// Publish hands advertisements to every subscriber. Returns the number accepted.
func (s *PushBLESource) Publish(ads ...Advertisement) (int, error) {
	if err := s.gate.Check(permissions.BLE); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for i := range ads {
		if ads[i].Seen.IsZero() {
			ads[i].Seen = now
		}
		for ch := range s.subscribers {
			select {
			case ch <- ads[i]:
			default:
				dropped++
			}
		}
	}

	if dropped > 0 {
		s.logger.Warn("Advertisement buffer full, dropping advertisements",
			logger.Int("dropped", dropped))
	}
	return len(ads), nil
}

// PushWifiSource caches the latest Wi-Fi scan batch reported by the hosting
// platform
type PushWifiSource struct {
	gate *permissions.Gate

	mu      sync.RWMutex
	results []WifiResult
	updated time.Time
}

// NewPushWifiSource creates a Wi-Fi source gated on the Wi-Fi permission
func NewPushWifiSource(gate *permissions.Gate) *PushWifiSource {
	return &PushWifiSource{gate: gate}
}

// Update replaces the cached batch
func (s *PushWifiSource) Update(results []WifiResult) error {
	if err := s.gate.Check(permissions.WiFi); err != nil {
		return err
	}

	batch := make([]WifiResult, len(results))
	copy(batch, results)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = batch
	s.updated = time.Now().UTC()
	return nil
}

// ScanResults returns a copy of the cached batch
func (s *PushWifiSource) ScanResults(ctx context.Context) ([]WifiResult, error) {
	if err := s.gate.Check(permissions.WiFi); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WifiResult, len(s.results))
	copy(out, s.results)
	return out, nil
}

// Updated returns when the cache was last replaced
func (s *PushWifiSource) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
