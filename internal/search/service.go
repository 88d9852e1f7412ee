package search

import (
	"context"
	"log"

	"grantsmith/api/internal/proposal"
)

// Service tries Meilisearch first and falls back to the store-backed
// searcher (Postgres FTS or a snapshot scan).
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured; fallback may be nil to disable search entirely.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProposal pushes a snapshot to Meilisearch (fire-and-forget).
func (s *Service) IndexProposal(doc proposal.Document) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	doc = doc.Clone()
	go func() {
		if err := s.meili.IndexProposal(doc); err != nil {
			log.Printf("search: index proposal %s: %v", doc.ID, err)
		}
	}()
}

// DeleteProposal removes a snapshot's records from Meilisearch (fire-and-forget).
func (s *Service) DeleteProposal(doc proposal.Document) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	doc = doc.Clone()
	go func() {
		if err := s.meili.DeleteProposal(doc); err != nil {
			log.Printf("search: delete proposal %s: %v", doc.ID, err)
		}
	}()
}

// ReindexAll loads every snapshot and pushes it to Meilisearch. Called at
// startup when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context, load Loader) {
	if s.meili == nil || !s.meili.Healthy() || load == nil {
		return
	}
	docs, err := load(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexProposals(docs); err != nil {
		log.Printf("search: reindex proposals: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
