package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"grantsmith/api/internal/proposal"
)

func archiveFixture() proposal.Document {
	doc := proposal.New("prop-1", "Digital Skills for Township Youth", "standard", []string{"Summary", "Need", "Budget"})
	at := time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)
	doc.Sections["Summary"] = proposal.ApplySuccess(doc.Sections["Summary"], "Sixty learners.", at)
	doc.Sections["Need"] = proposal.ApplyFailure(doc.Sections["Need"], proposal.Failure{Kind: proposal.FailureOutage})
	doc.Sections["Budget"] = proposal.ApplySuccess(doc.Sections["Budget"], "R500,000.", at)
	return doc
}

func TestContentFromSkipsFailedSections(t *testing.T) {
	content := ContentFrom(archiveFixture())
	if len(content.Sections) != 2 {
		t.Fatalf("expected 2 archived sections, got %+v", content.Sections)
	}
	if content.Sections[0].Name != "Summary" || content.Sections[1].Name != "Budget" {
		t.Fatalf("unexpected order %+v", content.Sections)
	}
	if content.Assembled != "Sixty learners.\n\nR500,000." {
		t.Fatalf("unexpected assembled text %q", content.Assembled)
	}
	if content.Fingerprint == "" {
		t.Fatal("expected fingerprint")
	}
}

func TestArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, err := svc.History("prop-1", 10); !errors.Is(err, ErrNoArchive) {
		t.Fatalf("expected ErrNoArchive before first archive, got %v", err)
	}

	doc := archiveFixture()
	first, created, err := svc.Archive("prop-1", ContentFrom(doc), "Grantsmith", "Full run")
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if !created || first.Hash == "" {
		t.Fatalf("expected first commit, got %+v created=%v", first, created)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "prop-1", contentFile)); err != nil {
		t.Fatalf("content file missing: %v", err)
	}

	again, created, err := svc.Archive("prop-1", ContentFrom(doc), "Grantsmith", "Full run")
	if err != nil {
		t.Fatalf("Archive() repeat error = %v", err)
	}
	if created || again.Hash != first.Hash {
		t.Fatalf("expected unchanged content to skip the commit, got %+v created=%v", again, created)
	}

	at := time.Date(2026, time.May, 5, 9, 0, 0, 0, time.UTC)
	doc.Sections["Budget"] = proposal.ApplyManualEdit(doc.Sections["Budget"], "R640,000.", at)
	second, created, err := svc.Archive("prop-1", ContentFrom(doc), "Grantsmith", "Manual edit: Budget")
	if err != nil || !created {
		t.Fatalf("Archive() after edit created=%v err=%v", created, err)
	}

	history, err := svc.History("prop-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("unexpected history %+v", history)
	}

	old, err := svc.GetContentByHash("prop-1", first.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	head, info, err := svc.Head("prop-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if info.Hash != second.Hash {
		t.Fatalf("head = %s, want %s", info.Hash, second.Hash)
	}

	changes := DiffSections(old, head)
	if len(changes) != 1 || changes[0].Section != "Budget" || changes[0].Change != ChangeModified {
		t.Fatalf("unexpected diff %+v", changes)
	}
	if changes[0].Before != "R500,000." || changes[0].After != "R640,000." {
		t.Fatalf("unexpected diff texts %+v", changes[0])
	}

	if err := svc.Remove("prop-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, _, err := svc.Head("prop-1"); !errors.Is(err, ErrNoArchive) {
		t.Fatalf("expected ErrNoArchive after remove, got %v", err)
	}
}

func TestDiffSectionsAddedAndRemoved(t *testing.T) {
	from := Content{Sections: []SectionContent{{Name: "Summary", Text: "a"}, {Name: "Risks", Text: "b"}}}
	to := Content{Sections: []SectionContent{{Name: "Summary", Text: "a"}, {Name: "Impact", Text: "c"}}}

	changes := DiffSections(from, to)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	if changes[0].Section != "Impact" || changes[0].Change != ChangeAdded {
		t.Fatalf("unexpected first change %+v", changes[0])
	}
	if changes[1].Section != "Risks" || changes[1].Change != ChangeRemoved {
		t.Fatalf("unexpected second change %+v", changes[1])
	}
	if !HasChanges(from, to) {
		t.Fatal("expected HasChanges")
	}
	if HasChanges(to, to) {
		t.Fatal("identical content must not report changes")
	}
}

func TestConcurrentArchiveSameProposal(t *testing.T) {
	svc := New(t.TempDir())

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := Content{
				Title:     "Concurrent",
				Structure: []string{"Summary"},
				Sections:  []SectionContent{{Name: "Summary", Text: fmt.Sprintf("draft-%02d", idx)}},
			}
			content.Assembled = content.Sections[0].Text
			content.Fingerprint = proposal.Fingerprint(content.Assembled)
			if _, _, err := svc.Archive("prop-c", content, "Grantsmith", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Archive() concurrent error = %v", err)
	}

	history, err := svc.History("prop-c", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}

func TestUnknownVersion(t *testing.T) {
	svc := New(t.TempDir())
	if _, _, err := svc.Archive("prop-1", ContentFrom(archiveFixture()), "Grantsmith", "Full run"); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if _, err := svc.GetContentByHash("prop-1", "0000000000000000000000000000000000000000"); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion for a missing commit, got %v", err)
	}
	if _, err := svc.GetCommitByHash("prop-1", "not-a-revision"); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion for a bad revision, got %v", err)
	}
}
