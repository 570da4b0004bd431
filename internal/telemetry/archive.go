package telemetry

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"kipgate/internal/logging"
)

// Archive is the local slow-query archive. It backs the performance
// bookkeeping that outlives the in-memory buffer; the graph store keeps the
// rotated telemetry, this keeps the slow outliers queryable on disk.
type Archive struct {
	db *sql.DB
	mu sync.RWMutex
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS slow_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_hash TEXT NOT NULL,
	execution_time_ms INTEGER NOT NULL,
	records_returned INTEGER NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_slow_queries_hash ON slow_queries(query_hash);
CREATE INDEX IF NOT EXISTS idx_slow_queries_time ON slow_queries(timestamp);
`

// OpenArchive opens or creates the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	timer := logging.StartTimer(logging.CategoryTelemetry, "OpenArchive")
	defer timer.Stop()

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize telemetry archive schema: %w", err)
	}

	logging.Telemetry("Telemetry archive ready at %s", path)
	return &Archive{db: db}, nil
}

// RecordSlowQuery appends one slow-query event.
func (a *Archive) RecordSlowQuery(e Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(
		`INSERT INTO slow_queries (query_hash, execution_time_ms, records_returned, timestamp)
		 VALUES (?, ?, ?, ?)`,
		e.QueryHash, e.ExecutionTimeMs, e.RecordsReturned, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to archive slow query: %w", err)
	}
	logging.TelemetryDebug("Archived slow query %s (%dms)", e.QueryHash, e.ExecutionTimeMs)
	return nil
}

// SlowQueries returns the most recent archived events, newest first.
func (a *Archive) SlowQueries(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	rows, err := a.db.Query(
		`SELECT query_hash, execution_time_ms, records_returned, timestamp
		 FROM slow_queries ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry archive: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.QueryHash, &e.ExecutionTimeMs, &e.RecordsReturned, &e.Timestamp); err != nil {
			logging.Get(logging.CategoryTelemetry).Warn("Archive row scan failed: %v", err)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}
