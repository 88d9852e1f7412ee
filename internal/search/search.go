package search

import (
	"context"

	"grantsmith/api/internal/proposal"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSection  ResultType = "section"
	ResultProposal ResultType = "proposal"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	ProposalID string     `json:"proposalId"`
	Title      string     `json:"title"`
	Section    string     `json:"section,omitempty"`
	Snippet    string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	ProposalID string // empty = all proposals
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// SectionRecord is the data we index for one authoritative section.
type SectionRecord struct {
	ID            string `json:"id"`
	ProposalID    string `json:"proposalId"`
	ProposalTitle string `json:"proposalTitle"`
	Section       string `json:"section"`
	Ordinal       int    `json:"ordinal"`
	Text          string `json:"text"`
}

// SectionRecordID derives a stable index key for a section. Index keys only
// allow [A-Za-z0-9_-], so the name is hashed.
func SectionRecordID(proposalID, section string) string {
	return proposalID + "-" + proposal.Fingerprint(section)[:16]
}

// SectionRecords splits a snapshot into indexable records and the keys of
// records that must be removed (failed, empty or detached sections).
func SectionRecords(doc proposal.Document) (records []SectionRecord, stale []string) {
	inStructure := make(map[string]bool, len(doc.Structure))
	for _, section := range doc.Ordered() {
		inStructure[section.Name] = true
		id := SectionRecordID(doc.ID, section.Name)
		if !section.Authoritative() {
			stale = append(stale, id)
			continue
		}
		records = append(records, SectionRecord{
			ID:            id,
			ProposalID:    doc.ID,
			ProposalTitle: doc.Title,
			Section:       section.Name,
			Ordinal:       section.Ordinal,
			Text:          section.Text,
		})
	}
	for name := range doc.Sections {
		if !inStructure[name] {
			stale = append(stale, SectionRecordID(doc.ID, name))
		}
	}
	return records, stale
}
