package location

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yegors/ridscan/internal/permissions"
	"github.com/yegors/ridscan/internal/physics"
	"github.com/yegors/ridscan/pkg/logger"
)

// Fix is a single geolocation reading
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"` // "gps", "network", "station", ...
}

// Point returns the fix as a geometry point
func (f Fix) Point() physics.Point {
	return physics.Point{Lat: f.Latitude, Lon: f.Longitude}
}

// Validate checks that the coordinates are usable
func (f Fix) Validate() error {
	if math.IsNaN(f.Latitude) || f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %v", f.Latitude)
	}
	if math.IsNaN(f.Longitude) || f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("invalid longitude: %v", f.Longitude)
	}
	return nil
}

// Provider delivers fixes asynchronously. The channel is closed once ctx is done.
type Provider interface {
	Subscribe(ctx context.Context) (<-chan Fix, error)
}

const subscriberBuffer = 16

// PushProvider receives fixes from the hosting platform (over the HTTP API) and
// fans them out to subscribers.
type PushProvider struct {
	gate   *permissions.Gate
	logger *logger.Logger

	mu          sync.Mutex
	subscribers map[chan Fix]struct{}
	seed        *Fix
}

// NewPushProvider creates a provider gated on the location permission
func NewPushProvider(gate *permissions.Gate, log *logger.Logger) *PushProvider {
	return &PushProvider{
		gate:        gate,
		logger:      log.Named("location"),
		subscribers: make(map[chan Fix]struct{}),
	}
}

// Seed sets a fallback fix (e.g. the configured station) that every new subscriber
// receives first. It is not subject to the location permission.
func (p *PushProvider) Seed(fix Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seed = &fix
	return nil
}

// Publish delivers a fix to all subscribers
func (p *PushProvider) Publish(fix Fix) error {
	if err := p.gate.Check(permissions.Location); err != nil {
		return err
	}
	if err := fix.Validate(); err != nil {
		return err
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for ch := range p.subscribers {
		deliverLatest(ch, fix)
	}

	p.logger.Debug("Location fix published",
		logger.Float64("latitude", fix.Latitude),
		logger.Float64("longitude", fix.Longitude),
		logger.Int("subscribers", len(p.subscribers)))
	return nil
}

// Subscribe registers a subscriber until ctx is cancelled
func (p *PushProvider) Subscribe(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix, subscriberBuffer)

	p.mu.Lock()
	if p.seed != nil {
		ch <- *p.seed
	}
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subscribers, ch)
		close(ch)
		p.mu.Unlock()
	}()

	return ch, nil
}

// deliverLatest sends without blocking; when the subscriber is behind, the oldest
// pending fix is dropped so the newest always gets through.
func deliverLatest(ch chan Fix, fix Fix) {
	for {
		select {
		case ch <- fix:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// StaticProvider delivers a single configured fix, for hosts without a
// location collaborator
type StaticProvider struct {
	fix Fix
}

// NewStaticProvider creates a provider for a fixed position
func NewStaticProvider(fix Fix) (*StaticProvider, error) {
	if err := fix.Validate(); err != nil {
		return nil, err
	}
	if fix.Source == "" {
		fix.Source = "station"
	}
	return &StaticProvider{fix: fix}, nil
}

// Subscribe delivers the fix once and closes the channel when ctx is done
func (p *StaticProvider) Subscribe(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix, 1)
	fix := p.fix
	fix.Timestamp = time.Now().UTC()
	ch <- fix

	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
