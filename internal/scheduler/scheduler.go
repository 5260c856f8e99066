package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yegors/ridscan/internal/location"
	"github.com/yegors/ridscan/pkg/logger"
)

// DefaultScanInterval is the period of the scan timeline
const DefaultScanInterval = 10 * time.Second

// Scanner runs scan ticks and BLE ingestion
type Scanner interface {
	Tick(ctx context.Context) error
	PumpBLE(ctx context.Context, retry time.Duration) error
}

// FlightFetcher dispatches one aircraft fetch per location fix
type FlightFetcher interface {
	HandleFix(ctx context.Context, fix location.Fix) uint64
	Wait()
}

// Scheduler drives the scan timeline and the fetch timeline under one context
type Scheduler struct {
	scanner   Scanner
	flights   FlightFetcher
	locations location.Provider
	interval  time.Duration
	logger    *logger.Logger

	latest  atomic.Pointer[location.Fix]
	running atomic.Bool
}

// New creates a scheduler. A non-positive interval uses DefaultScanInterval.
func New(scanner Scanner, flights FlightFetcher, locations location.Provider, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Scheduler{
		scanner:   scanner,
		flights:   flights,
		locations: locations,
		interval:  interval,
		logger:    log.Named("scheduler"),
	}
}

// Run starts both timelines and blocks until ctx is cancelled. It returns only
// after the ticker, the BLE pump, the location subscription and every in-flight
// fetch have finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting scheduler", logger.Duration("scan_interval", s.interval))
	s.running.Store(true)
	defer s.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.scanLoop(gctx) })
	g.Go(func() error { return s.scanner.PumpBLE(gctx, s.interval) })
	g.Go(func() error { return s.locationLoop(gctx) })

	err := g.Wait()
	s.flights.Wait()

	s.logger.Info("Scheduler stopped")
	return err
}

// Running reports whether Run is active
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LatestFix returns the most recent fix, or nil before the first one
func (s *Scheduler) LatestFix() *location.Fix {
	fix := s.latest.Load()
	if fix == nil {
		return nil
	}
	f := *fix
	return &f
}

// Interval returns the scan period
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// Errors are scoped to the tick; the scanner already logged them
		_ = s.scanner.Tick(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Scheduler) locationLoop(ctx context.Context) error {
	fixes, err := s.locations.Subscribe(ctx)
	if err != nil {
		s.logger.Warn("Location updates unavailable, aircraft fetching disabled", logger.Error(err))
		return nil
	}

	for fix := range fixes {
		if ctx.Err() != nil {
			continue
		}
		f := fix
		s.latest.Store(&f)
		s.flights.HandleFix(ctx, fix)
	}
	return nil
}
