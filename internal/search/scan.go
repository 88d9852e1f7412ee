package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"grantsmith/api/internal/proposal"
)

// Loader returns every snapshot that should be searchable.
type Loader func(ctx context.Context) ([]proposal.Document, error)

// Scan is the fallback for stores without a text index: it walks the
// authoritative sections of every snapshot and matches all query terms
// case-insensitively.
type Scan struct {
	load Loader
}

func NewScan(load Loader) *Scan {
	return &Scan{load: load}
}

func (s *Scan) Healthy() bool {
	return true
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	docs, err := s.load(ctx)
	if err != nil {
		return nil, 0, err
	}

	var results []Result
	for _, doc := range docs {
		if q.ProposalID != "" && doc.ID != q.ProposalID {
			continue
		}
		records, _ := SectionRecords(doc)
		for _, record := range records {
			lower := strings.ToLower(record.Text + " " + record.Section)
			if !containsAll(lower, terms) {
				continue
			}
			results = append(results, Result{
				Type:       ResultSection,
				ID:         record.ID,
				ProposalID: record.ProposalID,
				Title:      record.ProposalTitle,
				Section:    record.Section,
				Snippet:    snippet(record.Text, terms[0]),
			})
		}
	}

	total := len(results)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)
	if offset >= total {
		return []Result{}, total, nil
	}
	end := min(offset+limit, total)
	return results[offset:end], total, nil
}

func containsAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

const snippetRadius = 80

func snippet(text, term string) string {
	idx := strings.Index(strings.ToLower(text), term)
	if idx < 0 {
		idx = 0
	}
	start := max(idx-snippetRadius, 0)
	end := min(idx+len(term)+snippetRadius, len(text))
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	out := strings.TrimSpace(text[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
