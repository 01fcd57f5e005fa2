// Package migrations generates the SQL schema a track/adapters/*
// backend needs: an append-only events table for track.MessageSource
// and a claims table for track/store.TokenStore.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory the migration file is written to.
	OutputFolder string

	// OutputFilename is the migration file's name.
	OutputFilename string

	// EventsTable is the name of the events table MessageSource reads from.
	EventsTable string

	// ClaimsTable is the name of the table TokenStore keeps segment claims in.
	ClaimsTable string
}

// DefaultConfig returns the default configuration, with a
// timestamp-based filename so successive runs don't collide.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_tracking_processor.sql", timestamp),
		EventsTable:    "events",
		ClaimsTable:    "processor_claims",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return writeFile(config, generatePostgresSQL(config))
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return writeFile(config, generateMySQLSQL(config))
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return writeFile(config, generateSQLiteSQL(config))
}

func writeFile(config *Config, sql string) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Tracking event processor infrastructure migration
-- Generated: %s

-- Events table stores the append-only stream the processor tracks. Only
-- the columns a MessageSource reads back are modeled here; the producer
-- appending rows is free to carry whatever else it needs alongside them.
CREATE TABLE IF NOT EXISTS %s (
    global_position BIGSERIAL PRIMARY KEY,
    aggregate_id UUID NOT NULL,
    event_type TEXT NOT NULL,
    payload BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_%s_position
    ON %s (global_position);

-- Claims table is the distributed coordination point: one row per
-- (processor_name, segment_id), holding the current token and whichever
-- owner currently leases it.
CREATE TABLE IF NOT EXISTS %s (
    processor_name TEXT NOT NULL,
    segment_id INT NOT NULL,
    segment_mask INT NOT NULL,
    token BYTEA,
    owner TEXT,
    claimed_at TIMESTAMPTZ,

    PRIMARY KEY (processor_name, segment_id)
);

CREATE INDEX IF NOT EXISTS idx_%s_owner
    ON %s (processor_name, owner);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.EventsTable, config.EventsTable,
		config.ClaimsTable,
		config.ClaimsTable, config.ClaimsTable,
	)
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Tracking event processor infrastructure migration for MySQL/MariaDB
-- Generated: %s

CREATE TABLE IF NOT EXISTS %s (
    global_position BIGINT AUTO_INCREMENT PRIMARY KEY,
    aggregate_id BINARY(16) NOT NULL,
    event_type VARCHAR(255) NOT NULL,
    payload BLOB NOT NULL,
    created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE INDEX idx_%s_position
    ON %s (global_position);

CREATE TABLE IF NOT EXISTS %s (
    processor_name VARCHAR(255) NOT NULL,
    segment_id INT NOT NULL,
    segment_mask INT NOT NULL,
    token BLOB,
    owner VARCHAR(255),
    claimed_at TIMESTAMP(6) NULL,

    PRIMARY KEY (processor_name, segment_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE INDEX idx_%s_owner
    ON %s (processor_name, owner);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.EventsTable, config.EventsTable,
		config.ClaimsTable,
		config.ClaimsTable, config.ClaimsTable,
	)
}

func generateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Tracking event processor infrastructure migration for SQLite
-- Generated: %s

CREATE TABLE IF NOT EXISTS %s (
    global_position INTEGER PRIMARY KEY AUTOINCREMENT,
    aggregate_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_%s_position
    ON %s (global_position);

CREATE TABLE IF NOT EXISTS %s (
    processor_name TEXT NOT NULL,
    segment_id INTEGER NOT NULL,
    segment_mask INTEGER NOT NULL,
    token BLOB,
    owner TEXT,
    claimed_at TEXT,

    PRIMARY KEY (processor_name, segment_id)
);

CREATE INDEX IF NOT EXISTS idx_%s_owner
    ON %s (processor_name, owner);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.EventsTable, config.EventsTable,
		config.ClaimsTable,
		config.ClaimsTable, config.ClaimsTable,
	)
}
