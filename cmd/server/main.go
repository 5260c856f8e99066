package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegors/ridscan/internal/adsb"
	"github.com/yegors/ridscan/internal/api"
	"github.com/yegors/ridscan/internal/config"
	"github.com/yegors/ridscan/internal/detection"
	"github.com/yegors/ridscan/internal/location"
	"github.com/yegors/ridscan/internal/permissions"
	"github.com/yegors/ridscan/internal/scheduler"
	"github.com/yegors/ridscan/internal/storage/sqlite"
	"github.com/yegors/ridscan/internal/websocket"
	"github.com/yegors/ridscan/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	envFile := flag.String("env", ".env", "Path to a .env file with RIDSCAN_* overrides")
	flag.Parse()

	// Load configuration with fallback logic. Without a file the defaults plus
	// environment overrides are used.
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		if *configPath != "" {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "No configuration file found, using defaults\n")
		cfg = config.Default()
	}

	if err := cfg.ApplyEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying environment: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ridscan",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Grants reported by the hosting platform
	gate := permissions.NewGate(permissions.State{
		BLE:      cfg.Permissions.BLE,
		WiFi:     cfg.Permissions.WiFi,
		Location: cfg.Permissions.Location,
	})

	// Location fixes
	locations := location.NewPushProvider(gate, log)
	var fixSource location.Provider = locations
	if cfg.Station.Enabled && cfg.Station.Fixed {
		static, err := location.NewStaticProvider(location.Fix{
			Latitude:  cfg.Station.Latitude,
			Longitude: cfg.Station.Longitude,
		})
		if err != nil {
			log.Error("Invalid station position", logger.Error(err))
			os.Exit(1)
		}
		fixSource = static
		log.Info("Using fixed station position, live fixes are ignored",
			logger.Float64("lat", cfg.Station.Latitude),
			logger.Float64("lon", cfg.Station.Longitude))
	} else if cfg.Station.Enabled {
		if err := locations.Seed(location.Fix{
			Latitude:  cfg.Station.Latitude,
			Longitude: cfg.Station.Longitude,
			Source:    "station",
		}); err != nil {
			log.Error("Invalid station position", logger.Error(err))
			os.Exit(1)
		}
		log.Info("Using station position until a live fix arrives",
			logger.Float64("lat", cfg.Station.Latitude),
			logger.Float64("lon", cfg.Station.Longitude))
	}

	// Radio sources
	bleSource := detection.NewPushBLESource(gate, log)
	var (
		wifiSource     detection.WifiSource
		pushWifiSource *detection.PushWifiSource
	)
	switch cfg.Scan.WifiSource {
	case "nmcli":
		wifiSource = detection.NewNmcliWifiSource(gate, cfg.Scan.NmcliPath)
		log.Info("Reading Wi-Fi scans from NetworkManager", logger.String("nmcli", cfg.Scan.NmcliPath))
	default:
		pushWifiSource = detection.NewPushWifiSource(gate)
		wifiSource = pushWifiSource
	}

	blePolicy, err := detection.ParseMergePolicy(cfg.Scan.BLEPolicy)
	if err != nil {
		log.Error("Invalid BLE policy", logger.Error(err))
		os.Exit(1)
	}
	wifiPolicy, err := detection.ParseMergePolicy(cfg.Scan.WifiPolicy)
	if err != nil {
		log.Error("Invalid Wi-Fi policy", logger.Error(err))
		os.Exit(1)
	}
	aggregator := detection.NewAggregator(map[detection.Kind]detection.MergePolicy{
		detection.KindBLE:  blePolicy,
		detection.KindWiFi: wifiPolicy,
	})

	// Sighting journal
	var (
		journal           *sqlite.JournalStorage
		detectionsJournal detection.Journal
		fetchJournal      adsb.Journal
	)
	if cfg.Storage.JournalEnabled {
		// Ensure the directory exists
		if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLiteBasePath))
			os.Exit(1)
		}

		dbPath := sqlite.DailyPath(cfg.Storage.SQLiteBasePath, time.Now())
		journal, err = sqlite.NewJournalStorage(dbPath, log)
		if err != nil {
			log.Error("Failed to create SQLite journal", logger.Error(err))
			os.Exit(1)
		}
		defer journal.Close()
		detectionsJournal = journal
		fetchJournal = journal
		log.Info("Using daily journal", logger.String("path", dbPath))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run(ctx)

	detectionService := detection.NewService(
		aggregator,
		bleSource,
		wifiSource,
		cfg.Scan.WifiNamePrefix,
		wsServer,
		detectionsJournal,
		log,
	)

	adsbClient := adsb.NewClient(
		cfg.Flights.BaseURL,
		cfg.Flights.RadiusNM,
		time.Duration(cfg.Flights.TimeoutSecs)*time.Second,
		log,
	)
	adsbService := adsb.NewService(
		adsbClient,
		adsb.Normalizer{
			ArrayKey:           cfg.Flights.ArrayKey,
			IsolateEntryErrors: cfg.Flights.IsolateEntryErrors,
			MagneticBearing:    cfg.Flights.MagneticBearing,
		},
		wsServer,
		fetchJournal,
		log,
	)

	sched := scheduler.New(
		detectionService,
		adsbService,
		fixSource,
		time.Duration(cfg.Scan.IntervalSecs)*time.Second,
		log,
	)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := sched.Run(ctx); err != nil {
			log.Error("Scheduler stopped with error", logger.Error(err))
		}
	}()

	// Create API router
	router := api.NewRouter(api.Services{
		Detections: detectionService,
		Flights:    adsbService,
		BLESource:  bleSource,
		WifiSource: pushWifiSource,
		Locations:  locations,
		Gate:       gate,
		Journal:    journal,
		WSServer:   wsServer,
		Scheduler:  sched,
		Config:     cfg,
	}, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serverErr:
		log.Error("HTTP server error", logger.String("addr", addr), logger.Error(err))
	}

	log.Info("Shutting down server...")

	// Stop both timelines; in-flight fetches are discarded
	cancel()
	stopWait := cfg.SchedulerStopWait()
	select {
	case <-schedulerDone:
		log.Info("Scheduler stopped.")
	case <-time.After(stopWait):
		log.Warn("Scheduler did not stop in time", logger.Duration("waited", stopWait))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.String("addr", addr), logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete", logger.String("addr", addr))
	}

	log.Info("Server fully stopped")
}
