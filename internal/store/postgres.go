package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"grantsmith/api/internal/proposal"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, doc proposal.Document) error {
	snapshot, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	d := derive(doc)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, title, template_id, snapshot, assembled, fingerprint, completed, total, last_full_run_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)
	`, doc.ID, doc.Title, doc.TemplateID, string(snapshot), d.assembled, d.fingerprint, d.completed, d.total, doc.LastFullRunAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (proposal.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM proposals WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return proposal.Document{}, ErrNotFound
	}
	if err != nil {
		return proposal.Document{}, fmt.Errorf("read proposal: %w", err)
	}
	var doc proposal.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return proposal.Document{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) Save(ctx context.Context, doc proposal.Document) error {
	snapshot, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	d := derive(doc)
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET title=$2, template_id=$3, snapshot=$4::jsonb, assembled=$5, fingerprint=$6,
			completed=$7, total=$8, last_full_run_at=$9, updated_at=NOW()
		WHERE id=$1
	`, doc.ID, doc.Title, doc.TemplateID, string(snapshot), d.assembled, d.fingerprint, d.completed, d.total, doc.LastFullRunAt)
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

func (s *PostgresStore) List(ctx context.Context) ([]ProposalSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var lastRun sql.NullTime
		if err := rows.Scan(&item.ID, &item.Title, &item.TemplateID, &item.Completed, &item.Total, &item.Fingerprint, &lastRun, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if lastRun.Valid {
			value := lastRun.Time
			item.LastFullRunAt = &value
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM proposals WHERE id=$1`, id)
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

func (s *PostgresStore) RecordRun(ctx context.Context, run RunRecord) error {
	updated, err := json.Marshal(nonNil(run.Updated))
	if err != nil {
		return fmt.Errorf("marshal updated sections: %w", err)
	}
	failed, err := json.Marshal(nonNil(run.Failed))
	if err != nil {
		return fmt.Errorf("marshal failed sections: %w", err)
	}
	skipped, err := json.Marshal(nonNil(run.Skipped))
	if err != nil {
		return fmt.Errorf("marshal skipped sections: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposal_runs (run_id, proposal_id, started_at, finished_at, updated, failed, skipped, cancelled, completed)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8, $9)
	`, run.RunID, run.ProposalID, run.StartedAt, run.FinishedAt, string(updated), string(failed), string(skipped), run.Cancelled, run.Completed)
	if err != nil {
		return fmt.Errorf("insert proposal run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, proposalID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, proposal_id, started_at, finished_at, updated, failed, skipped, cancelled, completed
		FROM proposal_runs
		WHERE proposal_id=$1
		ORDER BY started_at DESC
		LIMIT $2
	`, proposalID, limit)
	if err != nil {
		return nil, fmt.Errorf("list proposal runs: %w", err)
	}
	defer rows.Close()

	items := make([]RunRecord, 0)
	for rows.Next() {
		var item RunRecord
		var updatedRaw, failedRaw, skippedRaw []byte
		if err := rows.Scan(
			&item.RunID,
			&item.ProposalID,
			&item.StartedAt,
			&item.FinishedAt,
			&updatedRaw,
			&failedRaw,
			&skippedRaw,
			&item.Cancelled,
			&item.Completed,
		); err != nil {
			return nil, fmt.Errorf("scan proposal run: %w", err)
		}
		_ = json.Unmarshal(updatedRaw, &item.Updated)
		_ = json.Unmarshal(failedRaw, &item.Failed)
		_ = json.Unmarshal(skippedRaw, &item.Skipped)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal runs: %w", err)
	}
	return items, nil
}

// SearchAssembled runs a full-text query over assembled proposal bodies.
func (s *PostgresStore) SearchAssembled(ctx context.Context, query string, limit int) ([]AssembledHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title,
			ts_headline('english', assembled, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM proposals
		WHERE fts @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search proposals: %w", err)
	}
	defer rows.Close()

	items := make([]AssembledHit, 0)
	for rows.Next() {
		var item AssembledHit
		if err := rows.Scan(&item.ProposalID, &item.Title, &item.Snippet); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AssembledHit is one full-text match over assembled proposal text.
type AssembledHit struct {
	ProposalID string
	Title      string
	Snippet    string
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
