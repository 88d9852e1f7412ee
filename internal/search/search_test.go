package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"grantsmith/api/internal/proposal"
	"grantsmith/api/internal/store"
)

func searchFixture() proposal.Document {
	doc := proposal.New("prop_1", "Township Digital Skills", "standard", []string{"Summary", "Need", "Budget"})
	at := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)
	doc.Sections["Summary"] = proposal.ApplySuccess(doc.Sections["Summary"], "Sixty learners complete accredited digital literacy training.", at)
	doc.Sections["Need"] = proposal.ApplyFailure(doc.Sections["Need"], proposal.Failure{Kind: proposal.FailureRateLimited})
	doc.Sections["Budget"] = proposal.ApplySuccess(doc.Sections["Budget"], "R500,000 covers facilitators and devices.", at)
	return doc
}

func TestSectionRecordsSkipsFailedAndDetached(t *testing.T) {
	doc := searchFixture()
	doc = proposal.Restructure(doc, []string{"Summary", "Need"})

	records, stale := SectionRecords(doc)
	if len(records) != 1 || records[0].Section != "Summary" {
		t.Fatalf("unexpected records %+v", records)
	}
	want := map[string]bool{
		SectionRecordID("prop_1", "Need"):   true,
		SectionRecordID("prop_1", "Budget"): true,
	}
	if len(stale) != len(want) {
		t.Fatalf("unexpected stale ids %v", stale)
	}
	for _, id := range stale {
		if !want[id] {
			t.Fatalf("unexpected stale id %q", id)
		}
	}
}

func TestSectionRecordIDIsIndexSafe(t *testing.T) {
	id := SectionRecordID("prop_1", "Monitoring & Evaluation (M&E)")
	for _, r := range id {
		ok := r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			t.Fatalf("id %q contains %q", id, r)
		}
	}
	if id == SectionRecordID("prop_1", "Budget") {
		t.Fatal("expected distinct ids per section")
	}
}

func TestScanMatchesAllTerms(t *testing.T) {
	scan := NewScan(func(context.Context) ([]proposal.Document, error) {
		return []proposal.Document{searchFixture()}, nil
	})

	results, total, err := scan.Search(context.Background(), Query{Text: "Digital LEARNERS"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || results[0].Section != "Summary" || results[0].ProposalID != "prop_1" {
		t.Fatalf("unexpected results %+v (total %d)", results, total)
	}

	results, _, err = scan.Search(context.Background(), Query{Text: "rate limited"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("failed sections must not be searchable, got %+v", results)
	}
}

func TestScanPaging(t *testing.T) {
	scan := NewScan(func(context.Context) ([]proposal.Document, error) {
		return []proposal.Document{searchFixture()}, nil
	})
	results, total, err := scan.Search(context.Background(), Query{Text: "r", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 || len(results) != 1 || results[0].Section != "Budget" {
		t.Fatalf("unexpected page %+v (total %d)", results, total)
	}
}

func TestSnippetTrimsAroundTerm(t *testing.T) {
	text := strings.Repeat("a", 200) + " needle " + strings.Repeat("b", 200)
	got := snippet(text, "needle")
	if !strings.HasPrefix(got, "…") || !strings.HasSuffix(got, "…") || !strings.Contains(got, "needle") {
		t.Fatalf("unexpected snippet %q", got)
	}
}

type fakeAssembledIndex struct {
	hits []store.AssembledHit
	err  error
}

func (f fakeAssembledIndex) SearchAssembled(context.Context, string, int) ([]store.AssembledHit, error) {
	return f.hits, f.err
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, NewPgFTS(fakeAssembledIndex{hits: []store.AssembledHit{
		{ProposalID: "prop_1", Title: "Township Digital Skills", Snippet: "<b>learners</b>"},
	}}))

	resp := svc.Search(context.Background(), Query{Text: "learners"})
	if resp.Total != 1 || resp.Results[0].Type != ResultProposal || resp.Query != "learners" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestServiceSwallowsFallbackErrors(t *testing.T) {
	svc := NewService(nil, NewPgFTS(fakeAssembledIndex{err: errors.New("boom")}))
	resp := svc.Search(context.Background(), Query{Text: "learners"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	resp := NewService(nil, nil).Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || resp.Total != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	// indexing without meili is a no-op
	NewService(nil, nil).IndexProposal(searchFixture())
}
