package state

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS breaker_state (
		vendor     TEXT PRIMARY KEY,
		failures   INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS hourly_cost (
		bucket     TEXT PRIMARY KEY,
		cost       REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// SQLiteStore shares breaker/cost state between instances on one host.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the shared-state database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) hourBucket() string {
	return s.now().UTC().Format("2006010215")
}

func (s *SQLiteStore) GetFailures(ctx context.Context, vendor string) (int, error) {
	var failures int
	err := s.db.QueryRowContext(ctx,
		`SELECT failures FROM breaker_state WHERE vendor = ?`, vendor,
	).Scan(&failures)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return failures, err
}

func (s *SQLiteStore) SetFailures(ctx context.Context, vendor string, failures int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO breaker_state (vendor, failures, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(vendor) DO UPDATE SET failures = excluded.failures, updated_at = CURRENT_TIMESTAMP`,
		vendor, failures,
	)
	return err
}

func (s *SQLiteStore) GetHourlyCost(ctx context.Context) (float64, error) {
	var cost float64
	err := s.db.QueryRowContext(ctx,
		`SELECT cost FROM hourly_cost WHERE bucket = ?`, s.hourBucket(),
	).Scan(&cost)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cost, err
}

func (s *SQLiteStore) IncrHourlyCost(ctx context.Context, delta float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hourly_cost (bucket, cost, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(bucket) DO UPDATE SET cost = cost + excluded.cost, updated_at = CURRENT_TIMESTAMP`,
		s.hourBucket(), delta,
	)
	return err
}

// DB exposes the handle so tool handlers can share the same database.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
