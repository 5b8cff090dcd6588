package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tokentap/tokentap/pkg/models"
)

// Tracker records and queries per-request token usage.
type Tracker interface {
	// Record stores a finalized usage record.
	Record(ctx context.Context, rec *models.UsageRecord) error
	// Summary returns aggregate statistics over all recorded requests.
	Summary(ctx context.Context) (*models.SummaryStats, error)
	// ByModel returns per-model aggregates over successful requests.
	ByModel(ctx context.Context) ([]models.ModelStats, error)
	// Recent returns the newest records, up to limit.
	Recent(ctx context.Context, limit int) ([]models.RecentRequest, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint TEXT NOT NULL,
	model TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	prompt TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	request_id TEXT,
	is_error INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	http_status INTEGER NOT NULL DEFAULT 200,
	was_streamed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_requests_start ON requests(start_time);
CREATE INDEX IF NOT EXISTS idx_requests_model ON requests(model);
`

// New creates a SQLiteTracker and creates the schema if needed.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a finalized usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec *models.UsageRecord) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO requests (
			endpoint, model, start_time, end_time, duration_ms,
			input_tokens, output_tokens, total_tokens,
			prompt, output, request_id, is_error, error_message,
			http_status, was_streamed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Endpoint, rec.Model,
		rec.StartTime.UTC().Format(time.RFC3339Nano),
		rec.EndTime.UTC().Format(time.RFC3339Nano),
		rec.DurationMs,
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.Prompt, rec.Output, rec.RequestID, rec.IsError, rec.ErrorMessage,
		rec.HTTPStatus, rec.WasStreamed,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Summary returns aggregate statistics over all recorded requests.
func (t *SQLiteTracker) Summary(ctx context.Context) (*models.SummaryStats, error) {
	var s models.SummaryStats
	err := t.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_error = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_error = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(AVG(CAST(input_tokens AS REAL)), 0.0),
			COALESCE(AVG(CAST(output_tokens AS REAL)), 0.0),
			COALESCE(AVG(CAST(duration_ms AS REAL)), 0.0)
		FROM requests`,
	).Scan(
		&s.TotalRequests, &s.SuccessfulRequests, &s.FailedRequests,
		&s.TotalInputTokens, &s.TotalOutputTokens, &s.TotalTokens,
		&s.AvgInputTokens, &s.AvgOutputTokens, &s.AvgDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("summary stats: %w", err)
	}
	return &s, nil
}

// ByModel returns per-model aggregates. Failed requests are excluded so
// zero-count error rows do not drag the averages down.
func (t *SQLiteTracker) ByModel(ctx context.Context) ([]models.ModelStats, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT
			model,
			COUNT(*),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(AVG(CAST(total_tokens AS REAL)), 0.0)
		FROM requests
		WHERE is_error = 0
		GROUP BY model
		ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("model stats: %w", err)
	}
	defer rows.Close()

	var stats []models.ModelStats
	for rows.Next() {
		var m models.ModelStats
		if err := rows.Scan(&m.Model, &m.Requests, &m.TotalTokens, &m.AvgTokensPerRequest); err != nil {
			return nil, fmt.Errorf("scan model stats: %w", err)
		}
		stats = append(stats, m)
	}
	return stats, rows.Err()
}

// Recent returns the newest records, up to limit.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.RecentRequest, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, endpoint, model, start_time, duration_ms, input_tokens, output_tokens, is_error
		 FROM requests ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent requests: %w", err)
	}
	defer rows.Close()

	var reqs []models.RecentRequest
	for rows.Next() {
		var r models.RecentRequest
		var start string
		if err := rows.Scan(&r.ID, &r.Endpoint, &r.Model, &start, &r.DurationMs, &r.InputTokens, &r.OutputTokens, &r.IsError); err != nil {
			return nil, fmt.Errorf("scan recent request: %w", err)
		}
		r.StartTime, _ = time.Parse(time.RFC3339Nano, start)
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
