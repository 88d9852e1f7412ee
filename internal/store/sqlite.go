package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"grantsmith/api/internal/proposal"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS proposals (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	template_id TEXT NOT NULL DEFAULT '',
	snapshot TEXT NOT NULL,
	assembled TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT '',
	completed INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	last_full_run_at INTEGER,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS proposal_runs (
	run_id TEXT PRIMARY KEY,
	proposal_id TEXT NOT NULL REFERENCES proposals(id) ON DELETE CASCADE,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	updated TEXT NOT NULL DEFAULT '[]',
	failed TEXT NOT NULL DEFAULT '[]',
	skipped TEXT NOT NULL DEFAULT '[]',
	cancelled INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_proposal_runs_proposal ON proposal_runs (proposal_id, started_at DESC);
`

// SQLiteStore is the single-file backend for local use.
type SQLiteStore struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, doc proposal.Document) error {
	snapshot, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	d := derive(doc)
	_, err = s.sqlDB.ExecContext(ctx, `
		INSERT INTO proposals (id, title, template_id, snapshot, assembled, fingerprint, completed, total, last_full_run_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Title, doc.TemplateID, string(snapshot), d.assembled, d.fingerprint, d.completed, d.total, nullableMillis(doc.LastFullRunAt), toMillis(s.now()))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (proposal.Document, error) {
	var raw string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT snapshot FROM proposals WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return proposal.Document{}, ErrNotFound
	}
	if err != nil {
		return proposal.Document{}, fmt.Errorf("read proposal: %w", err)
	}
	var doc proposal.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return proposal.Document{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) Save(ctx context.Context, doc proposal.Document) error {
	snapshot, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	d := derive(doc)
	result, err := s.sqlDB.ExecContext(ctx, `
		UPDATE proposals
		SET title = ?, template_id = ?, snapshot = ?, assembled = ?, fingerprint = ?,
			completed = ?, total = ?, last_full_run_at = ?, updated_at = ?
		WHERE id = ?
	`, doc.Title, doc.TemplateID, string(snapshot), d.assembled, d.fingerprint, d.completed, d.total, nullableMillis(doc.LastFullRunAt), toMillis(s.now()), doc.ID)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]ProposalSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, title, template_id, completed, total, fingerprint, last_full_run_at, updated_at
		FROM proposals
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]ProposalSummary, 0)
	for rows.Next() {
		var item ProposalSummary
		var lastRun sql.NullInt64
		var updatedAt int64
		if err := rows.Scan(&item.ID, &item.Title, &item.TemplateID, &item.Completed, &item.Total, &item.Fingerprint, &lastRun, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if lastRun.Valid {
			value := fromMillis(lastRun.Int64)
			item.LastFullRunAt = &value
		}
		item.UpdatedAt = fromMillis(updatedAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM proposals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete proposal rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run RunRecord) error {
	updated, _ := json.Marshal(nonNil(run.Updated))
	failed, _ := json.Marshal(nonNil(run.Failed))
	skipped, _ := json.Marshal(nonNil(run.Skipped))
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO proposal_runs (run_id, proposal_id, started_at, finished_at, updated, failed, skipped, cancelled, completed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.ProposalID, toMillis(run.StartedAt), toMillis(run.FinishedAt), string(updated), string(failed), string(skipped), run.Cancelled, run.Completed)
	if err != nil {
		return fmt.Errorf("insert proposal run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, proposalID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT run_id, proposal_id, started_at, finished_at, updated, failed, skipped, cancelled, completed
		FROM proposal_runs
		WHERE proposal_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, proposalID, limit)
	if err != nil {
		return nil, fmt.Errorf("list proposal runs: %w", err)
	}
	defer rows.Close()

	items := make([]RunRecord, 0)
	for rows.Next() {
		var item RunRecord
		var startedAt, finishedAt int64
		var updated, failed, skipped string
		if err := rows.Scan(&item.RunID, &item.ProposalID, &startedAt, &finishedAt, &updated, &failed, &skipped, &item.Cancelled, &item.Completed); err != nil {
			return nil, fmt.Errorf("scan proposal run: %w", err)
		}
		item.StartedAt = fromMillis(startedAt)
		item.FinishedAt = fromMillis(finishedAt)
		_ = json.Unmarshal([]byte(updated), &item.Updated)
		_ = json.Unmarshal([]byte(failed), &item.Failed)
		_ = json.Unmarshal([]byte(skipped), &item.Skipped)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal runs: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func nullableMillis(value *time.Time) any {
	if value == nil {
		return nil
	}
	return toMillis(*value)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
