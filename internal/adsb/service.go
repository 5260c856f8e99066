package adsb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/ridscan/internal/location"
	"github.com/yegors/ridscan/internal/websocket"
	"github.com/yegors/ridscan/pkg/logger"
)

// WebSocketServer defines the interface for a WebSocket server
type WebSocketServer interface {
	Broadcast(message *websocket.Message)
}

// FetchState is the state of the fetch timeline
type FetchState string

const (
	FetchIdle     FetchState = "idle"
	FetchFetching FetchState = "fetching"
)

// Fetch outcomes recorded in the journal
const (
	OutcomeApplied   = "applied"
	OutcomeFailed    = "failed"
	OutcomeStale     = "stale"
	OutcomeCancelled = "cancelled"
)

// FetchRecord describes one completed request
type FetchRecord struct {
	Generation uint64        `json:"generation"`
	Latitude   float64       `json:"latitude"`
	Longitude  float64       `json:"longitude"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Outcome    string        `json:"outcome"`
	Count      int           `json:"count"`
	Error      string        `json:"error,omitempty"`
}

// Journal records fetch outcomes. It is write-only history.
type Journal interface {
	RecordFetch(ctx context.Context, record FetchRecord) error
}

// Status is a point-in-time view of the fetch timeline
type Status struct {
	State            FetchState    `json:"state"`
	InFlight         int           `json:"in_flight"`
	LatestDispatched uint64        `json:"latest_dispatched"`
	LatestApplied    uint64        `json:"latest_applied"`
	Aircraft         int           `json:"aircraft"`
	LastFix          *location.Fix `json:"last_fix,omitempty"`
	LastSuccess      time.Time     `json:"last_success,omitempty"`
	LastError        string        `json:"last_error,omitempty"`
	LastErrorAt      time.Time     `json:"last_error_at,omitempty"`
	Applied          uint64        `json:"applied"`
	Failed           uint64        `json:"failed"`
	Discarded        uint64        `json:"discarded"`
}

// Service owns the nearby-aircraft list. Each location fix dispatches exactly one
// request tagged with a generation; only the latest generation may replace the list.
type Service struct {
	client     *Client
	normalizer Normalizer
	wsServer   WebSocketServer
	journal    Journal
	logger     *logger.Logger

	dispatched atomic.Uint64
	wg         sync.WaitGroup

	mu          sync.RWMutex
	aircraft    []EnrichedAircraft
	applied     uint64
	inFlight    int
	lastFix     *location.Fix
	lastSuccess time.Time
	lastError   string
	lastErrorAt time.Time
	nApplied    uint64
	nFailed     uint64
	nDiscarded  uint64
}

// NewService creates the aircraft service. wsServer and journal may be nil.
func NewService(
	client *Client,
	normalizer Normalizer,
	wsServer WebSocketServer,
	journal Journal,
	log *logger.Logger,
) *Service {
	l := log.Named("adsb")
	if normalizer.Logger == nil {
		normalizer.Logger = l
	}
	return &Service{
		client:     client,
		normalizer: normalizer,
		wsServer:   wsServer,
		journal:    journal,
		logger:     l,
		aircraft:   []EnrichedAircraft{},
	}
}

// HandleFix dispatches one fetch for fix and returns its generation. It does not
// wait for the response. A result is applied only if no newer fix was dispatched
// meanwhile and ctx is still live when it arrives.
func (s *Service) HandleFix(ctx context.Context, fix location.Fix) uint64 {
	gen := s.dispatched.Add(1)

	s.mu.Lock()
	s.inFlight++
	f := fix
	s.lastFix = &f
	s.mu.Unlock()

	s.logger.Debug("Dispatching aircraft fetch",
		logger.Uint64("generation", gen),
		logger.Float64("latitude", fix.Latitude),
		logger.Float64("longitude", fix.Longitude))

	s.wg.Add(1)
	go s.fetch(ctx, gen, fix)
	return gen
}

// Wait blocks until every dispatched fetch has completed
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) fetch(ctx context.Context, gen uint64, fix location.Fix) {
	defer s.wg.Done()

	// The request outlives cancellation; the client timeout bounds it and the
	// result is discarded below.
	reqCtx := context.WithoutCancel(ctx)
	started := time.Now().UTC()

	var list []EnrichedAircraft
	body, err := s.client.FetchPoint(reqCtx, fix.Latitude, fix.Longitude)
	if err == nil {
		list, err = s.normalizer.Normalize(body, fix)
	}

	record := FetchRecord{
		Generation: gen,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		StartedAt:  started,
		Duration:   time.Since(started),
		Count:      len(list),
	}
	record.Outcome = s.complete(ctx, gen, list, err)
	if err != nil {
		record.Error = err.Error()
	}

	if s.journal != nil {
		if jerr := s.journal.RecordFetch(reqCtx, record); jerr != nil {
			s.logger.Error("Failed to journal fetch", logger.Error(jerr))
		}
	}
}

// complete applies or discards a finished fetch and returns its outcome
func (s *Service) complete(ctx context.Context, gen uint64, list []EnrichedAircraft, err error) string {
	s.mu.Lock()
	s.inFlight--

	switch {
	case ctx.Err() != nil:
		s.nDiscarded++
		s.mu.Unlock()
		s.logger.Debug("Discarding fetch result after cancellation", logger.Uint64("generation", gen))
		return OutcomeCancelled

	case gen != s.dispatched.Load() || gen <= s.applied:
		s.nDiscarded++
		s.mu.Unlock()
		s.logger.Debug("Discarding stale fetch result", logger.Uint64("generation", gen))
		return OutcomeStale

	case err != nil:
		s.nFailed++
		s.lastError = err.Error()
		s.lastErrorAt = time.Now().UTC()
		s.mu.Unlock()
		s.logger.Warn("Aircraft fetch failed, keeping previous list",
			logger.Uint64("generation", gen),
			logger.Error(err))
		s.broadcast(&websocket.Message{
			Type: websocket.MessageTypeAircraftFetchError,
			Data: map[string]any{
				"generation": gen,
				"error":      err.Error(),
			},
		})
		return OutcomeFailed

	default:
		s.aircraft = list
		s.applied = gen
		s.nApplied++
		s.lastSuccess = time.Now().UTC()
		s.lastError = ""
		s.mu.Unlock()
		s.logger.Debug("Aircraft list replaced",
			logger.Uint64("generation", gen),
			logger.Int("aircraft_count", len(list)))
		s.broadcast(s.SnapshotMessage())
		return OutcomeApplied
	}
}

// Aircraft returns a copy of the current list
func (s *Service) Aircraft() []EnrichedAircraft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EnrichedAircraft, len(s.aircraft))
	copy(out, s.aircraft)
	return out
}

// Status returns the fetch timeline status
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := FetchIdle
	if s.inFlight > 0 {
		state = FetchFetching
	}
	var lastFix *location.Fix
	if s.lastFix != nil {
		f := *s.lastFix
		lastFix = &f
	}
	return Status{
		State:            state,
		InFlight:         s.inFlight,
		LatestDispatched: s.dispatched.Load(),
		LatestApplied:    s.applied,
		Aircraft:         len(s.aircraft),
		LastFix:          lastFix,
		LastSuccess:      s.lastSuccess,
		LastError:        s.lastError,
		LastErrorAt:      s.lastErrorAt,
		Applied:          s.nApplied,
		Failed:           s.nFailed,
		Discarded:        s.nDiscarded,
	}
}

// SnapshotMessage builds the websocket message describing the aircraft list
func (s *Service) SnapshotMessage() *websocket.Message {
	s.mu.RLock()
	list := make([]EnrichedAircraft, len(s.aircraft))
	copy(list, s.aircraft)
	gen := s.applied
	s.mu.RUnlock()

	return &websocket.Message{
		Type: websocket.MessageTypeAircraftUpdated,
		Data: map[string]any{
			"aircraft":   list,
			"count":      len(list),
			"generation": gen,
		},
	}
}

func (s *Service) broadcast(message *websocket.Message) {
	if s.wsServer != nil {
		s.wsServer.Broadcast(message)
	}
}
