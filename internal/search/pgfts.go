package search

import (
	"context"
	"fmt"
	"strings"

	"grantsmith/api/internal/store"
)

// AssembledIndex is the full-text surface of the Postgres proposal store.
type AssembledIndex interface {
	SearchAssembled(ctx context.Context, query string, limit int) ([]store.AssembledHit, error)
}

// PgFTS implements Searcher over the assembled-text tsvector column.
type PgFTS struct {
	index AssembledIndex
}

func NewPgFTS(index AssembledIndex) *PgFTS {
	return &PgFTS{index: index}
}

// Healthy always returns true: when Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	hits, err := p.index.SearchAssembled(ctx, q.Text, limit+offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if q.ProposalID != "" && hit.ProposalID != q.ProposalID {
			continue
		}
		results = append(results, Result{
			Type:       ResultProposal,
			ID:         hit.ProposalID,
			ProposalID: hit.ProposalID,
			Title:      hit.Title,
			Snippet:    hit.Snippet,
		})
	}
	total := len(results)
	if offset >= len(results) {
		return []Result{}, total, nil
	}
	return results[offset:], total, nil
}
