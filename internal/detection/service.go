package detection

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yegors/ridscan/internal/permissions"
	"github.com/yegors/ridscan/internal/websocket"
	"github.com/yegors/ridscan/pkg/logger"
)

// ScanState is the state of the scan timeline
type ScanState string

const (
	ScanIdle     ScanState = "idle"
	ScanScanning ScanState = "scanning"
)

const warnInterval = time.Minute

// WebSocketServer defines the interface for a WebSocket server
type WebSocketServer interface {
	Broadcast(message *websocket.Message)
}

// Journal records newly visible detections. It is write-only history.
type Journal interface {
	RecordDetections(ctx context.Context, detections []Detection) error
}

// Status is a point-in-time view of the scan timeline
type Status struct {
	State        ScanState `json:"state"`
	Ticks        uint64    `json:"ticks"`
	LastTick     time.Time `json:"last_tick,omitempty"`
	LastTickErr  string    `json:"last_tick_error,omitempty"`
	Visible      int       `json:"visible"`
	Version      uint64    `json:"version"`
	NamePrefix   string    `json:"wifi_name_prefix"`
	BLEPolicy    string    `json:"ble_policy"`
	WifiPolicy   string    `json:"wifi_policy"`
	BLEListening bool      `json:"ble_listening"`
}

// Service runs scan ticks and BLE ingestion against an Aggregator and notifies
// observers whenever the visible set changes
type Service struct {
	aggregator *Aggregator
	ble        BLESource
	wifi       WifiSource
	namePrefix string
	wsServer   WebSocketServer
	journal    Journal
	logger     *logger.Logger

	wifiWarn rate.Sometimes
	bleWarn  rate.Sometimes

	tickMu sync.Mutex // serializes Tick and Rescan

	mu           sync.RWMutex
	state        ScanState
	ticks        uint64
	lastTick     time.Time
	lastTickErr  string
	bleListening bool
}

// NewService creates a detection service. wsServer and journal may be nil.
func NewService(
	aggregator *Aggregator,
	ble BLESource,
	wifi WifiSource,
	namePrefix string,
	wsServer WebSocketServer,
	journal Journal,
	log *logger.Logger,
) *Service {
	return &Service{
		aggregator: aggregator,
		ble:        ble,
		wifi:       wifi,
		namePrefix: namePrefix,
		wsServer:   wsServer,
		journal:    journal,
		logger:     log.Named("detection"),
		wifiWarn:   rate.Sometimes{Interval: warnInterval},
		bleWarn:    rate.Sometimes{Interval: warnInterval},
		state:      ScanIdle,
	}
}

// Tick performs one scan: it closes the BLE snapshot window (when BLE replaces
// on snapshot), reads the cached Wi-Fi batch and merges it.
// A denied permission or missing radio turns the Wi-Fi part into a no-op; the
// error is returned and recorded but the timeline keeps going.
func (s *Service) Tick(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	bleChange := s.aggregator.FlushBLE()
	err := s.scanWifi(ctx, bleChange)
	s.recordTick(err)
	return err
}

// Rescan merges the cached Wi-Fi batch right away. It does not count as a tick
// and leaves the BLE snapshot window open.
func (s *Service) Rescan(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	return s.scanWifi(ctx, SnapshotChange{})
}

// scanWifi must be called with tickMu held
func (s *Service) scanWifi(ctx context.Context, bleChange SnapshotChange) error {
	s.setState(ScanScanning)
	defer s.setState(ScanIdle)

	added := bleChange.Added
	changed := bleChange.Changed()
	defer func() {
		if changed {
			s.record(ctx, added)
			s.notify()
		}
	}()

	results, err := s.wifi.ScanResults(ctx)
	if err != nil {
		if errors.Is(err, permissions.ErrPermissionDenied) || errors.Is(err, ErrRadioUnavailable) {
			s.wifiWarn.Do(func() {
				s.logger.Warn("Wi-Fi scan skipped", logger.Error(err))
			})
		} else {
			s.logger.Error("Wi-Fi scan failed", logger.Error(err))
		}
		return err
	}

	now := time.Now().UTC()
	batch := make([]Detection, len(results))
	for i, r := range results {
		batch[i] = r.Detection(now)
	}

	wifiChange := s.aggregator.MergeWifiSnapshot(batch, s.namePrefix)
	if !wifiChange.Changed() {
		return nil
	}
	added = append(added, wifiChange.Added...)
	changed = true

	s.logger.Debug("Wi-Fi snapshot merged",
		logger.Int("batch", len(results)),
		logger.Int("new", len(wifiChange.Added)),
		logger.Int("removed", wifiChange.Removed))
	return nil
}

// ObserveAdvertisement merges one BLE advertisement
func (s *Service) ObserveAdvertisement(ctx context.Context, ad Advertisement) bool {
	d := ad.Detection(time.Now().UTC())
	// Under a replace policy the advertisement is merged on the next tick
	if !s.aggregator.ObserveBLE(d) {
		return false
	}

	s.logger.Debug("BLE detection added",
		logger.String("name", d.Name),
		logger.String("address", d.Address))

	s.record(ctx, []Detection{d})
	s.notify()
	return true
}

// PumpBLE subscribes to the BLE source and merges advertisements until ctx is
// done. When the source refuses (permission denied, radio unavailable) the
// subscription is retried every retry interval.
func (s *Service) PumpBLE(ctx context.Context, retry time.Duration) error {
	for {
		ch, err := s.ble.Advertisements(ctx)
		if err != nil {
			s.bleWarn.Do(func() {
				s.logger.Warn("BLE listening unavailable", logger.Error(err))
			})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
				continue
			}
		}

		s.setListening(true)
		s.logger.Info("BLE listening started")
		for ad := range ch {
			s.ObserveAdvertisement(ctx, ad)
		}
		s.setListening(false)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Visible returns the current visible set
func (s *Service) Visible() []Detection {
	return s.aggregator.CurrentVisible()
}

// Clear removes detections; an empty kind clears everything
func (s *Service) Clear(kind Kind) bool {
	var changed bool
	if kind == "" {
		changed = s.aggregator.Clear()
	} else {
		changed = s.aggregator.ClearKind(kind)
	}
	if changed {
		s.logger.Info("Detections cleared", logger.String("kind", string(kind)))
		s.notify()
	}
	return changed
}

// Status returns the scan timeline status
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:        s.state,
		Ticks:        s.ticks,
		LastTick:     s.lastTick,
		LastTickErr:  s.lastTickErr,
		Visible:      s.aggregator.Len(),
		Version:      s.aggregator.Version(),
		NamePrefix:   s.namePrefix,
		BLEPolicy:    s.aggregator.Policy(KindBLE).String(),
		WifiPolicy:   s.aggregator.Policy(KindWiFi).String(),
		BLEListening: s.bleListening,
	}
}

// SnapshotMessage builds the websocket message describing the visible set
func (s *Service) SnapshotMessage() *websocket.Message {
	visible := s.aggregator.CurrentVisible()
	labels := make([]string, len(visible))
	for i, d := range visible {
		labels[i] = d.Label()
	}
	return &websocket.Message{
		Type: websocket.MessageTypeDetectionsUpdated,
		Data: map[string]any{
			"detections": visible,
			"labels":     labels,
			"count":      len(visible),
			"version":    s.aggregator.Version(),
		},
	}
}

func (s *Service) notify() {
	if s.wsServer != nil {
		s.wsServer.Broadcast(s.SnapshotMessage())
	}
}

func (s *Service) record(ctx context.Context, added []Detection) {
	if s.journal == nil || len(added) == 0 {
		return
	}
	if err := s.journal.RecordDetections(ctx, added); err != nil {
		s.logger.Error("Failed to journal detections", logger.Error(err))
	}
}

func (s *Service) setState(state ScanState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Service) setListening(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bleListening = v
}

func (s *Service) recordTick(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.lastTick = time.Now().UTC()
	if err != nil {
		s.lastTickErr = err.Error()
	} else {
		s.lastTickErr = ""
	}
}
