package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"grantsmith/api/internal/proposal"
)

type memoryEntry struct {
	doc       proposal.Document
	updatedAt time.Time
}

// MemoryStore keeps snapshots in process. It backs tests and the
// GRANTSMITH_STORE=memory mode.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	runs  map[string][]RunRecord
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		runs:  make(map[string][]RunRecord),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, doc proposal.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[doc.ID]; ok {
		return ErrAlreadyExists
	}
	s.items[doc.ID] = memoryEntry{doc: doc.Clone(), updatedAt: s.now().UTC()}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (proposal.Document, error) {
	if err := ctx.Err(); err != nil {
		return proposal.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[id]
	if !ok {
		return proposal.Document{}, ErrNotFound
	}
	return entry.doc.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, doc proposal.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[doc.ID]; !ok {
		return ErrNotFound
	}
	s.items[doc.ID] = memoryEntry{doc: doc.Clone(), updatedAt: s.now().UTC()}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]ProposalSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	items := make([]ProposalSummary, 0, len(s.items))
	for _, entry := range s.items {
		items = append(items, summarize(entry.doc, entry.updatedAt))
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	delete(s.runs, id)
	return nil
}

func (s *MemoryStore) RecordRun(ctx context.Context, run RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Updated = append([]string(nil), nonNil(run.Updated)...)
	run.Failed = append([]string(nil), nonNil(run.Failed)...)
	run.Skipped = append([]string(nil), nonNil(run.Skipped)...)
	s.runs[run.ProposalID] = append(s.runs[run.ProposalID], run)
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, proposalID string, limit int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runs[proposalID]
	items := make([]RunRecord, 0, min(limit, len(runs)))
	for i := len(runs) - 1; i >= 0 && len(items) < limit; i-- {
		items = append(items, runs[i])
	}
	return items, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
