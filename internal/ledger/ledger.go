// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger persists partition terminal states and run history in a
// SQLite database, so an interrupted sweep resumes without re-fetching
// completed partitions.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xeradb/evidence-harvester/pkg/types"
)

const dbFile = "harvest.db"

// Ledger wraps the harvest state database.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at dir/harvest.db, creating the
// schema if it does not exist.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return l, nil
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			key TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			year_from INTEGER NOT NULL,
			year_to INTEGER NOT NULL,
			dialect TEXT,
			status TEXT NOT NULL,
			total_matches INTEGER DEFAULT 0,
			fetched INTEGER DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_partitions_status ON partitions(status)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			partitions_done INTEGER DEFAULT 0,
			partitions_empty INTEGER DEFAULT 0,
			partitions_failed INTEGER DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// MarkPartition upserts the partition's current state.
func (l *Ledger) MarkPartition(p types.Partition, totalMatches, fetched int) error {
	_, err := l.db.Exec(
		`INSERT INTO partitions (key, source, year_from, year_to, dialect, status, total_matches, fetched, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			status=excluded.status, total_matches=excluded.total_matches,
			fetched=excluded.fetched, updated_at=excluded.updated_at`,
		p.Key(), p.Source, p.YearFrom, p.YearTo, p.Dialect,
		string(p.Status), totalMatches, fetched,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting partition %s: %w", p.Key(), err)
	}
	return nil
}

// TerminalKeys returns each partition already in a terminal state
// (done, empty, failed), keyed by partition key.
func (l *Ledger) TerminalKeys() (map[string]types.PartitionStatus, error) {
	rows, err := l.db.Query(
		`SELECT key, status FROM partitions WHERE status IN (?, ?, ?)`,
		string(types.PartitionDone), string(types.PartitionEmpty), string(types.PartitionFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("querying terminal partitions: %w", err)
	}
	defer rows.Close()

	terminal := make(map[string]types.PartitionStatus)
	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, fmt.Errorf("scanning partition row: %w", err)
		}
		terminal[key] = types.PartitionStatus(status)
	}
	return terminal, rows.Err()
}

// Row is one ledger partition entry as shown by the status command.
type Row struct {
	Key          string
	Source       string
	YearFrom     int
	YearTo       int
	Dialect      string
	Status       types.PartitionStatus
	TotalMatches int
	Fetched      int
	UpdatedAt    string
}

// List returns all partition rows ordered by source and year.
func (l *Ledger) List() ([]Row, error) {
	rows, err := l.db.Query(
		`SELECT key, source, year_from, year_to, dialect, status, total_matches, fetched, updated_at
		 FROM partitions ORDER BY source, year_from`)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var status string
		if err := rows.Scan(&r.Key, &r.Source, &r.YearFrom, &r.YearTo, &r.Dialect,
			&status, &r.TotalMatches, &r.Fetched, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning partition row: %w", err)
		}
		r.Status = types.PartitionStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResetFailed clears failed partitions back to pending so the next sweep
// retries them. Returns the number of partitions reset.
func (l *Ledger) ResetFailed() (int, error) {
	return l.reset(`UPDATE partitions SET status=?, updated_at=? WHERE status=?`,
		string(types.PartitionPending), time.Now().UTC().Format(time.RFC3339),
		string(types.PartitionFailed))
}

// ResetAll clears every partition back to pending. Record files stay on
// disk; the store skips them cheaply on the next sweep.
func (l *Ledger) ResetAll() (int, error) {
	return l.reset(`UPDATE partitions SET status=?, updated_at=?`,
		string(types.PartitionPending), time.Now().UTC().Format(time.RFC3339))
}

func (l *Ledger) reset(query string, args ...any) (int, error) {
	res, err := l.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("resetting partitions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// BeginRun records the start of a sweep.
func (l *Ledger) BeginRun(runID string) error {
	_, err := l.db.Exec(
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", runID, err)
	}
	return nil
}

// FinishRun records a sweep's terminal partition counts.
func (l *Ledger) FinishRun(runID string, done, empty, failed int) error {
	_, err := l.db.Exec(
		`UPDATE runs SET finished_at=?, partitions_done=?, partitions_empty=?, partitions_failed=?
		 WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), done, empty, failed, runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	return nil
}
