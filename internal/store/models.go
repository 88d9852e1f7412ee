package store

import (
	"context"
	"errors"
	"time"

	"grantsmith/api/internal/proposal"
)

var (
	ErrNotFound      = errors.New("proposal not found")
	ErrAlreadyExists = errors.New("proposal already exists")
)

// ProposalStore persists full proposal snapshots. Every backend keeps the
// assembled text alongside the snapshot so listings and search never need to
// decode it.
type ProposalStore interface {
	Create(ctx context.Context, doc proposal.Document) error
	Get(ctx context.Context, id string) (proposal.Document, error)
	Save(ctx context.Context, doc proposal.Document) error
	List(ctx context.Context) ([]ProposalSummary, error)
	Delete(ctx context.Context, id string) error
	RecordRun(ctx context.Context, run RunRecord) error
	ListRuns(ctx context.Context, proposalID string, limit int) ([]RunRecord, error)
	Ping(ctx context.Context) error
}

type ProposalSummary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	TemplateID    string     `json:"templateId"`
	Completed     int        `json:"completed"`
	Total         int        `json:"total"`
	Fingerprint   string     `json:"fingerprint"`
	LastFullRunAt *time.Time `json:"lastFullRunAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// RunRecord is the append-only log line written for every batch run.
type RunRecord struct {
	RunID      string    `json:"runId"`
	ProposalID string    `json:"proposalId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Updated    []string  `json:"updated"`
	Failed     []string  `json:"failed"`
	Skipped    []string  `json:"skipped"`
	Cancelled  bool      `json:"cancelled"`
	Completed  bool      `json:"completed"`
}

type derived struct {
	assembled   string
	fingerprint string
	completed   int
	total       int
}

func derive(doc proposal.Document) derived {
	assembled := proposal.Assemble(doc)
	fingerprint := ""
	if assembled != "" {
		fingerprint = proposal.Fingerprint(assembled)
	}
	return derived{
		assembled:   assembled,
		fingerprint: fingerprint,
		completed:   doc.CompletedCount(),
		total:       len(doc.Structure),
	}
}

func summarize(doc proposal.Document, updatedAt time.Time) ProposalSummary {
	d := derive(doc)
	var lastRun *time.Time
	if doc.LastFullRunAt != nil {
		value := *doc.LastFullRunAt
		lastRun = &value
	}
	return ProposalSummary{
		ID:            doc.ID,
		Title:         doc.Title,
		TemplateID:    doc.TemplateID,
		Completed:     d.completed,
		Total:         d.total,
		Fingerprint:   d.fingerprint,
		LastFullRunAt: lastRun,
		UpdatedAt:     updatedAt,
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
