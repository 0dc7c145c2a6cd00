package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/regwatch/backend/pkg/logger"
)

// UpsertStatus is the outcome of a canonical-record upsert.
const (
	UpsertCreated   = "created"
	UpsertUpdated   = "updated"
	UpsertUnchanged = "unchanged"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agencies (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offenders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		normalized_name TEXT NOT NULL UNIQUE,
		registration_number TEXT,
		address_line TEXT,
		town TEXT,
		postcode TEXT,
		total_cases INTEGER NOT NULL DEFAULT 0,
		total_notices INTEGER NOT NULL DEFAULT 0,
		placeholder INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offenders_regnum ON offenders(registration_number);

	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agency_code TEXT NOT NULL,
		source_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		action_type TEXT,
		offender_id INTEGER NOT NULL,
		title TEXT,
		description TEXT,
		event_date INTEGER,
		fine_amount REAL NOT NULL DEFAULT 0,
		costs_amount REAL NOT NULL DEFAULT 0,
		legal_citation TEXT,
		detail_url TEXT,
		water_impact INTEGER NOT NULL DEFAULT 0,
		land_impact INTEGER NOT NULL DEFAULT 0,
		air_impact INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(agency_code, source_id),
		FOREIGN KEY (agency_code) REFERENCES agencies(code),
		FOREIGN KEY (offender_id) REFERENCES offenders(id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_offender ON records(offender_id);
	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	CREATE INDEX IF NOT EXISTS idx_records_event_date ON records(event_date);

	CREATE TABLE IF NOT EXISTS match_reviews (
		id TEXT PRIMARY KEY,
		offender_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		confidence_score REAL NOT NULL,
		candidates TEXT,
		selected_candidate TEXT,
		reviewed_by TEXT,
		reviewed_at INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (offender_id) REFERENCES offenders(id)
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_status ON match_reviews(status);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agency_code TEXT NOT NULL,
		target_database TEXT NOT NULL,
		range_params TEXT,
		status TEXT NOT NULL,
		pages_processed INTEGER NOT NULL DEFAULT 0,
		records_found INTEGER NOT NULL DEFAULT 0,
		records_created INTEGER NOT NULL DEFAULT 0,
		records_updated INTEGER NOT NULL DEFAULT 0,
		records_existing INTEGER NOT NULL DEFAULT 0,
		errors_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	seed := `INSERT OR IGNORE INTO agencies (code, name) VALUES
		('EA', 'Environment Agency'),
		('HSE', 'Health and Safety Executive')`
	if _, err := c.db.Exec(seed); err != nil {
		return fmt.Errorf("failed to seed agencies: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}
