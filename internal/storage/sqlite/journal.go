package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/yegors/ridscan/internal/adsb"
	"github.com/yegors/ridscan/internal/detection"
	"github.com/yegors/ridscan/pkg/logger"
	_ "modernc.org/sqlite"
)

// DetectionRecord is one journaled detection
type DetectionRecord struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	FirstSeen  time.Time `json:"first_seen"`
	RecordedAt time.Time `json:"recorded_at"`
}

// FetchRow is one journaled aircraft fetch
type FetchRow struct {
	ID int64 `json:"id"`
	adsb.FetchRecord
}

// JournalStorage is an append-only SQLite history of new detections and fetch
// outcomes. Nothing in it is ever loaded back into live state.
type JournalStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// DailyPath returns the journal file for the given day under basePath
func DailyPath(basePath string, day time.Time) string {
	return filepath.Join(basePath, fmt.Sprintf("ridscan-%s.db", day.Format("2006-01-02")))
}

// NewJournalStorage opens (or creates) the journal at dbPath
func NewJournalStorage(dbPath string, log *logger.Logger) (*JournalStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite journal",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initJournal(db); err != nil {
		db.Close()
		return nil, err
	}

	return &JournalStorage{db: db, logger: storageLogger}, nil
}

// Close closes the database connection
func (s *JournalStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func initJournal(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			first_seen TIMESTAMP NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create detections table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS fetches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			generation INTEGER NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			started_at TIMESTAMP NOT NULL,
			duration_ms INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			aircraft_count INTEGER NOT NULL,
			error TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create fetches table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_detections_kind ON detections(kind)`); err != nil {
		return fmt.Errorf("failed to create kind index: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_fetches_started_at ON fetches(started_at)`); err != nil {
		return fmt.Errorf("failed to create started_at index: %w", err)
	}
	return nil
}

// RecordDetections appends newly visible detections in one transaction
func (s *JournalStorage) RecordDetections(ctx context.Context, detections []detection.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO detections (kind, name, address, first_seen, recorded_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, d := range detections {
		if _, err := stmt.ExecContext(ctx,
			string(d.Kind), d.Name, d.Address,
			d.FirstSeen.UTC().Format(time.RFC3339Nano), now,
		); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit detections: %w", err)
	}

	s.logger.Debug("Journaled detections", logger.Int("count", len(detections)))
	return nil
}

// RecordFetch appends one fetch outcome
func (s *JournalStorage) RecordFetch(ctx context.Context, record adsb.FetchRecord) error {
	var errText any
	if record.Error != "" {
		errText = record.Error
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetches
		(generation, latitude, longitude, started_at, duration_ms, outcome, aircraft_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(record.Generation),
		record.Latitude,
		record.Longitude,
		record.StartedAt.UTC().Format(time.RFC3339Nano),
		record.Duration.Milliseconds(),
		record.Outcome,
		record.Count,
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fetch: %w", err)
	}
	return nil
}

// RecentDetections returns the newest journaled detections first
func (s *JournalStorage) RecentDetections(ctx context.Context, limit int) ([]DetectionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, address, first_seen, recorded_at
		FROM detections ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	records := make([]DetectionRecord, 0)
	for rows.Next() {
		var (
			r                     DetectionRecord
			firstSeen, recordedAt string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Name, &r.Address, &firstSeen, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		r.FirstSeen = parseTime(firstSeen)
		r.RecordedAt = parseTime(recordedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detections: %w", err)
	}
	return records, nil
}

// RecentFetches returns the newest journaled fetches first
func (s *JournalStorage) RecentFetches(ctx context.Context, limit int) ([]FetchRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, generation, latitude, longitude, started_at, duration_ms, outcome, aircraft_count, error
		FROM fetches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetches: %w", err)
	}
	defer rows.Close()

	records := make([]FetchRow, 0)
	for rows.Next() {
		var (
			r          FetchRow
			generation int64
			startedAt  string
			durationMS int64
			errText    sql.NullString
		)
		if err := rows.Scan(&r.ID, &generation, &r.Latitude, &r.Longitude, &startedAt,
			&durationMS, &r.Outcome, &r.Count, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan fetch: %w", err)
		}
		r.Generation = uint64(generation)
		r.StartedAt = parseTime(startedAt)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Error = errText.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fetches: %w", err)
	}
	return records, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
