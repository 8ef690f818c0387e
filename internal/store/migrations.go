package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Blocks, schedules and irrigation events",
		SQL: `
CREATE TABLE IF NOT EXISTS blocks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    acres REAL NOT NULL DEFAULT 0,
    latitude REAL,
    longitude REAL,
    flow_rate_gpm REAL NOT NULL DEFAULT 0,
    soil_type TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS irrigation_schedules (
    id TEXT PRIMARY KEY,
    block_id TEXT NOT NULL REFERENCES blocks(id),
    name TEXT NOT NULL DEFAULT '',
    start_date TEXT NOT NULL,
    end_date TEXT,
    start_time TEXT NOT NULL,
    stop_time TEXT NOT NULL,
    flow_rate_gpm REAL NOT NULL,
    method TEXT NOT NULL DEFAULT '',
    days_of_week TEXT NOT NULL,
    times_per_day INTEGER NOT NULL DEFAULT 1,
    zone_number INTEGER,
    state TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS irrigation_events (
    id TEXT PRIMARY KEY,
    block_id TEXT NOT NULL REFERENCES blocks(id),
    date TEXT NOT NULL,
    duration_hours REAL NOT NULL,
    flow_rate_gpm REAL NOT NULL,
    total_water_gallons REAL NOT NULL,
    method TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    schedule_id TEXT,
    zone_number INTEGER,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_block_date ON irrigation_events(block_id, date);
CREATE INDEX IF NOT EXISTS idx_schedules_block ON irrigation_schedules(block_id);
`,
	},
	{
		Version:     2,
		Description: "One generated event per schedule per day",
		SQL: `
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_schedule_date
    ON irrigation_events(block_id, schedule_id, date)
    WHERE schedule_id IS NOT NULL;
`,
	},
	{
		Version:     3,
		Description: "ET cache",
		SQL: `
CREATE TABLE IF NOT EXISTS et_records (
    block_id TEXT NOT NULL REFERENCES blocks(id),
    date TEXT NOT NULL,
    et REAL NOT NULL,
    source TEXT NOT NULL,
    quality_flags TEXT,
    fetched_at DATETIME NOT NULL,
    PRIMARY KEY (block_id, date)
);
`,
	},
	{
		Version:     4,
		Description: "Ingest run auditing and raw payload archive",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    block_id TEXT,
    http_status INTEGER,
    response_size_bytes INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER REFERENCES ingest_runs(id),
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    block_id TEXT,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER NOT NULL DEFAULT 1
);
`,
	},
	{
		Version:     5,
		Description: "Nearest CIMIS station per block",
		SQL: `
ALTER TABLE blocks ADD COLUMN cimis_station INTEGER;
`,
	},
}

// Migrate applies any migrations not yet recorded in schema_migrations, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		log.Printf("migrations: applying %d - %s", m.Version, m.Description)
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("execute migration %d: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
