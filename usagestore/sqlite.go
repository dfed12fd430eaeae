// Package usagestore persists per-request token usage in SQLite.
package usagestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"llmrelay/relay"
)

// Store implements relay.UsageRecorder over a SQLite ledger.
type Store struct {
	db *sql.DB
}

var _ relay.UsageRecorder = (*Store)(nil)

// Open opens (or creates) the ledger database at dbPath and runs the schema
// migration.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage (
			request_id        TEXT PRIMARY KEY,
			provider          TEXT NOT NULL,
			model             TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens      INTEGER NOT NULL,
			duration_ms       INTEGER NOT NULL,
			status            TEXT NOT NULL,
			streamed          INTEGER NOT NULL,
			created_at        TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements relay.UsageRecorder.
func (s *Store) Record(ctx context.Context, rec relay.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO usage
			(request_id, provider, model, prompt_tokens, completion_tokens,
			 total_tokens, duration_ms, status, streamed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.Model,
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.Duration.Milliseconds(), rec.Status, boolToInt(rec.Streamed),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Totals aggregates token usage per provider since the given time.
func (s *Store) Totals(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, COALESCE(SUM(total_tokens), 0)
		FROM usage
		WHERE created_at >= ?
		GROUP BY provider`,
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var provider string
		var total int
		if err := rows.Scan(&provider, &total); err != nil {
			return nil, err
		}
		out[provider] = total
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
