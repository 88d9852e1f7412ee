package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"grantsmith/api/internal/cache"
	"grantsmith/api/internal/config"
	"grantsmith/api/internal/email"
	"grantsmith/api/internal/generation"
	"grantsmith/api/internal/gitrepo"
	"grantsmith/api/internal/proposal"
	"grantsmith/api/internal/search"
	"grantsmith/api/internal/store"
)

// fakeStore wraps the memory store so individual calls can be overridden.
type fakeStore struct {
	*store.MemoryStore
	saveFn func(context.Context, proposal.Document) error
	pingFn func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: store.NewMemoryStore()}
}

func (f *fakeStore) Save(ctx context.Context, doc proposal.Document) error {
	if f.saveFn != nil {
		if err := f.saveFn(ctx, doc); err != nil {
			return err
		}
	}
	return f.MemoryStore.Save(ctx, doc)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return f.MemoryStore.Ping(ctx)
}

type archivedCommit struct {
	proposalID string
	author     string
	message    string
	content    gitrepo.Content
}

type fakeArchive struct {
	mu      sync.Mutex
	commits []archivedCommit
	removed []string
}

func (f *fakeArchive) Archive(proposalID string, content gitrepo.Content, author, message string) (gitrepo.CommitInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, archivedCommit{proposalID: proposalID, author: author, message: message, content: content})
	return gitrepo.CommitInfo{Hash: "abc1234", Message: message, Author: author}, true, nil
}

func (f *fakeArchive) Head(string) (gitrepo.Content, gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commits) == 0 {
		return gitrepo.Content{}, gitrepo.CommitInfo{}, gitrepo.ErrNoArchive
	}
	last := f.commits[len(f.commits)-1]
	return last.content, gitrepo.CommitInfo{Hash: "abc1234", Message: last.message}, nil
}

func (f *fakeArchive) History(string, int) ([]gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gitrepo.CommitInfo, 0, len(f.commits))
	for i := len(f.commits) - 1; i >= 0; i-- {
		out = append(out, gitrepo.CommitInfo{Hash: "abc1234", Message: f.commits[i].message, Author: f.commits[i].author})
	}
	return out, nil
}

func (f *fakeArchive) GetContentByHash(string, string) (gitrepo.Content, error) {
	content, _, err := f.Head("")
	return content, err
}

func (f *fakeArchive) GetCommitByHash(string, string) (gitrepo.CommitInfo, error) {
	_, commit, err := f.Head("")
	return commit, err
}

func (f *fakeArchive) Remove(proposalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, proposalID)
	return nil
}

func (f *fakeArchive) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.commits))
	for _, commit := range f.commits {
		out = append(out, commit.message)
	}
	return out
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexProposal(doc proposal.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doc.ID)
}

func (f *fakeSearch) DeleteProposal(doc proposal.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, doc.ID)
}

type fakeMailer struct {
	mu        sync.Mutex
	summaries []email.RunSummary
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendRunSummary(_ []string, summary email.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

func (f *fakeMailer) sent() []email.RunSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.RunSummary(nil), f.summaries...)
}

func draftGenerator() generation.Generator {
	return generation.GeneratorFunc(func(_ context.Context, req generation.Request) generation.Outcome {
		if strings.Contains(strings.ToLower(req.SectionName), "budget") {
			return generation.Ok("Two cohorts of artisans.\nBUDGET_RECOMMENDATION: Type 3, 2 cohort(s), R500000")
		}
		return generation.Ok("Draft of " + req.SectionName)
	})
}

type testDeps struct {
	store   *fakeStore
	archive *fakeArchive
	search  *fakeSearch
	mailer  *fakeMailer
}

func newTestService(t *testing.T, generator generation.Generator, opts ...Option) (*Service, testDeps) {
	t.Helper()
	deps := testDeps{
		store:   newFakeStore(),
		archive: &fakeArchive{},
		search:  &fakeSearch{},
		mailer:  &fakeMailer{},
	}
	cfg := config.Config{NotifyTo: []string{"lead@example.org"}}
	base := []Option{
		WithArchive(deps.archive),
		WithSearch(deps.search),
		WithMailer(deps.mailer),
		WithClock(func() time.Time { return time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC) }),
	}
	svc := New(cfg, deps.store, nil, generator, append(base, opts...)...)
	t.Cleanup(func() { svc.inflight.Wait() })
	return svc, deps
}

func createProposal(t *testing.T, svc *Service, templateID string) string {
	t.Helper()
	payload, err := svc.CreateProposal(context.Background(), "Artisans for the Eastern Cape", templateID)
	if err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}
	return payload["proposal"].(proposal.Document).ID
}

func TestCreateProposalResolvesTemplate(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())

	payload, err := svc.CreateProposal(context.Background(), "  Artisans  ", "foundation-short")
	if err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}
	doc := payload["proposal"].(proposal.Document)
	if doc.Title != "Artisans" || doc.TemplateID != "foundation-short" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if strings.Join(doc.Structure, ",") != "Summary,Need,Approach,Budget" {
		t.Fatalf("unexpected structure %v", doc.Structure)
	}
	states := payload["states"].(map[string]proposal.State)
	if states["Summary"] != proposal.StateEmpty {
		t.Fatalf("expected empty sections, got %v", states)
	}

	fallback, err := svc.CreateProposal(context.Background(), "Other", "no-such-template")
	if err != nil {
		t.Fatalf("CreateProposal() fallback error = %v", err)
	}
	if got := fallback["proposal"].(proposal.Document).TemplateID; got != "standard" {
		t.Fatalf("expected default template, got %q", got)
	}
}

func TestCreateProposalRequiresTitle(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	_, err := svc.CreateProposal(context.Background(), "   ", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetProposalUnknown(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	if _, err := svc.GetProposal(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunNowArchivesAndRecordsRun(t *testing.T) {
	svc, deps := newTestService(t, draftGenerator())
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	if _, err := svc.EditSection(ctx, id, "Need", "Youth unemployment is 60%.", "Thandi"); err != nil {
		t.Fatalf("EditSection() error = %v", err)
	}

	report, err := svc.RunNow(ctx, id)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if strings.Join(report.Skipped, ",") != "Need" {
		t.Fatalf("expected manual section skipped, got %+v", report)
	}
	if len(report.Updated) != 3 || report.Cancelled {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Ask == nil || report.Ask.Recommendation.Amount != 500000 {
		t.Fatalf("expected ask from the budget section, got %+v", report.Ask)
	}

	stored, err := deps.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if stored.LastFullRunAt == nil || stored.CompletedCount() != 4 {
		t.Fatalf("expected stored snapshot after run, got %+v", stored)
	}

	runs, err := deps.store.ListRuns(ctx, id, 10)
	if err != nil || len(runs) != 1 || !runs[0].Completed || runs[0].RunID != report.RunID {
		t.Fatalf("expected one completed run record, got %+v err=%v", runs, err)
	}

	messages := deps.archive.messages()
	if len(messages) != 2 || messages[0] != "Edit section Need" || !strings.HasPrefix(messages[1], "Full generation run ") {
		t.Fatalf("unexpected archive commits %v", messages)
	}
	if len(deps.mailer.sent()) != 0 {
		t.Fatal("synchronous runs should not send a summary")
	}

	payload, err := svc.RunStatus(ctx, id)
	if err != nil {
		t.Fatalf("RunStatus() error = %v", err)
	}
	status := payload["status"].(cache.RunStatus)
	if status.State != cache.RunCompleted || status.Done != 4 || status.Total != 4 {
		t.Fatalf("unexpected run status %+v", status)
	}
}

func TestStartRunRejectsConcurrentWorkAndCancels(t *testing.T) {
	entered := make(chan string, 8)
	release := make(chan struct{})
	gen := generation.GeneratorFunc(func(_ context.Context, req generation.Request) generation.Outcome {
		entered <- req.SectionName
		<-release
		return generation.Ok("Draft of " + req.SectionName)
	})
	svc, deps := newTestService(t, gen)
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	status, err := svc.StartRun(ctx, id)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if status.RunID == "" || status.State != cache.RunRunning {
		t.Fatalf("unexpected initial status %+v", status)
	}
	if first := <-entered; first != "Summary" {
		t.Fatalf("expected Summary first, got %q", first)
	}

	if _, err := svc.StartRun(ctx, id); !errors.Is(err, generation.ErrBusy) {
		t.Fatalf("expected ErrBusy for a second run, got %v", err)
	}
	if _, err := svc.EditSection(ctx, id, "Need", "text", ""); !errors.Is(err, generation.ErrBusy) {
		t.Fatalf("expected ErrBusy for an edit during a run, got %v", err)
	}
	if err := svc.DeleteProposal(ctx, id); !errors.Is(err, generation.ErrBusy) {
		t.Fatalf("expected ErrBusy for delete during a run, got %v", err)
	}

	payload, err := svc.GetProposal(ctx, id)
	if err != nil {
		t.Fatalf("GetProposal() error = %v", err)
	}
	if !payload["running"].(bool) || payload["states"].(map[string]proposal.State)["Summary"] != proposal.StateGenerating {
		t.Fatalf("expected Summary generating, got %+v", payload["states"])
	}

	cancelled, err := svc.CancelRun(ctx, id)
	if err != nil || !cancelled {
		t.Fatalf("CancelRun() = %v, %v", cancelled, err)
	}
	close(release)
	svc.inflight.Wait()

	runs, err := deps.store.ListRuns(ctx, id, 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run record, got %+v err=%v", runs, err)
	}
	if !runs[0].Cancelled || runs[0].Completed || strings.Join(runs[0].Updated, ",") != "Summary" {
		t.Fatalf("unexpected cancelled run %+v", runs[0])
	}
	if messages := deps.archive.messages(); len(messages) != 0 {
		t.Fatalf("cancelled runs must not be archived, got %v", messages)
	}
	sent := deps.mailer.sent()
	if len(sent) != 1 || !sent[0].Cancelled || sent[0].Outcome() != "cancelled" {
		t.Fatalf("expected a cancelled summary, got %+v", sent)
	}

	runPayload, err := svc.RunStatus(ctx, id)
	if err != nil {
		t.Fatalf("RunStatus() error = %v", err)
	}
	if state := runPayload["status"].(cache.RunStatus).State; state != cache.RunCancelled {
		t.Fatalf("expected cancelled status, got %s", state)
	}
	if _, ok := runPayload["lastRun"].(generation.RunReport); !ok {
		t.Fatalf("expected last run report, got %T", runPayload["lastRun"])
	}
}

func TestCancelWithoutRun(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	id := createProposal(t, svc, "")

	cancelled, err := svc.CancelRun(context.Background(), id)
	if err != nil || cancelled {
		t.Fatalf("expected idle cancel to be ignored, got %v %v", cancelled, err)
	}
	if _, err := svc.CancelRun(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelRightAfterStartRunStopsTheRun(t *testing.T) {
	release := make(chan struct{})
	gen := generation.GeneratorFunc(func(_ context.Context, req generation.Request) generation.Outcome {
		<-release
		return generation.Ok("Draft of " + req.SectionName)
	})
	svc, deps := newTestService(t, gen)
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	if _, err := svc.StartRun(ctx, id); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	cancelled, err := svc.CancelRun(ctx, id)
	if err != nil || !cancelled {
		t.Fatalf("CancelRun() = %v, %v", cancelled, err)
	}
	close(release)
	svc.inflight.Wait()

	runs, err := deps.store.ListRuns(ctx, id, 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run record, got %+v err=%v", runs, err)
	}
	if !runs[0].Cancelled || runs[0].Completed || len(runs[0].Updated) > 1 {
		t.Fatalf("expected the run to stop at the first boundary, got %+v", runs[0])
	}
	runPayload, err := svc.RunStatus(ctx, id)
	if err != nil {
		t.Fatalf("RunStatus() error = %v", err)
	}
	if state := runPayload["status"].(cache.RunStatus).State; state != cache.RunCancelled {
		t.Fatalf("expected cancelled status, got %s", state)
	}

	if _, err := svc.RunNow(ctx, id); err != nil {
		t.Fatalf("RunNow() after a cancelled run error = %v", err)
	}
}

func TestDeleteRejectedWhileRunPending(t *testing.T) {
	release := make(chan struct{})
	gen := generation.GeneratorFunc(func(_ context.Context, req generation.Request) generation.Outcome {
		<-release
		return generation.Ok("Draft of " + req.SectionName)
	})
	svc, deps := newTestService(t, gen)
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	if _, err := svc.StartRun(ctx, id); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if err := svc.DeleteProposal(ctx, id); !errors.Is(err, generation.ErrBusy) {
		t.Fatalf("expected ErrBusy for delete while a run is pending, got %v", err)
	}
	close(release)
	svc.inflight.Wait()

	if err := svc.DeleteProposal(ctx, id); err != nil {
		t.Fatalf("DeleteProposal() after the run error = %v", err)
	}
	if _, err := deps.store.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted proposal, got %v", err)
	}
}

func TestDeletedProposalIsNotResaved(t *testing.T) {
	svc, deps := newTestService(t, draftGenerator())
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	o, err := svc.orchestrator(ctx, id)
	if err != nil {
		t.Fatalf("orchestrator() error = %v", err)
	}
	if err := svc.DeleteProposal(ctx, id); err != nil {
		t.Fatalf("DeleteProposal() error = %v", err)
	}
	if _, err := o.GenerateSection(ctx, "Summary", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from a detached orchestrator, got %v", err)
	}
	if _, err := deps.store.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted proposal was written back: %v", err)
	}
}

func TestRunAbortsWhenSnapshotCannotBeSaved(t *testing.T) {
	svc, deps := newTestService(t, draftGenerator())
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	saves := 0
	deps.store.saveFn = func(context.Context, proposal.Document) error {
		saves++
		if saves == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	report, err := svc.RunNow(ctx, id)
	if err == nil {
		t.Fatal("expected the run to fail")
	}
	if len(report.Updated) != 2 {
		t.Fatalf("expected the run to stop after the failed save, got %+v", report)
	}
	runs, _ := deps.store.ListRuns(ctx, id, 10)
	if len(runs) != 1 || runs[0].Completed {
		t.Fatalf("expected an incomplete run record, got %+v", runs)
	}
	payload, _ := svc.RunStatus(ctx, id)
	status := payload["status"].(cache.RunStatus)
	if status.State != cache.RunFailed || !strings.Contains(status.Error, "disk full") {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestGenerateSectionAndRestore(t *testing.T) {
	calls := 0
	gen := generation.GeneratorFunc(func(_ context.Context, req generation.Request) generation.Outcome {
		calls++
		if calls == 3 {
			return generation.Err(proposal.FailureRateLimited, "429")
		}
		return generation.Ok("version " + string(rune('0'+calls)) + " " + req.CustomInstructions)
	})
	svc, deps := newTestService(t, gen)
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	instructions := "mention rural sites"
	first, err := svc.GenerateSection(ctx, id, "Approach", &instructions)
	if err != nil {
		t.Fatalf("GenerateSection() error = %v", err)
	}
	if first.CustomInstructions != instructions || !strings.Contains(first.Text, "rural sites") {
		t.Fatalf("unexpected first generation %+v", first)
	}
	if _, err := svc.GenerateSection(ctx, id, "Approach", nil); err != nil {
		t.Fatalf("GenerateSection() second error = %v", err)
	}
	failed, err := svc.GenerateSection(ctx, id, "Approach", nil)
	if err != nil {
		t.Fatalf("GenerateSection() failure should be recorded, got %v", err)
	}
	if failed.State() != proposal.StateError {
		t.Fatalf("expected error state, got %+v", failed)
	}

	restored, err := svc.RestoreSection(ctx, id, "Approach", 0, "Thandi")
	if err != nil {
		t.Fatalf("RestoreSection() error = %v", err)
	}
	if !strings.HasPrefix(restored.Text, "version 1") || restored.Failure != nil {
		t.Fatalf("unexpected restored section %+v", restored)
	}
	if _, err := svc.RestoreSection(ctx, id, "Approach", 9, ""); !errors.Is(err, proposal.ErrHistoryIndex) {
		t.Fatalf("expected ErrHistoryIndex, got %v", err)
	}
	if _, err := svc.GenerateSection(ctx, id, "Nope", nil); !errors.Is(err, proposal.ErrUnknownSection) {
		t.Fatalf("expected ErrUnknownSection, got %v", err)
	}
	if len(deps.search.indexed) == 0 {
		t.Fatal("expected search indexing after generation")
	}
	if messages := deps.archive.messages(); len(messages) != 1 || !strings.HasPrefix(messages[0], "Restore section Approach") {
		t.Fatalf("unexpected archive commits %v", messages)
	}
}

func TestEditSectionRejectsBlankText(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	id := createProposal(t, svc, "")
	_, err := svc.EditSection(context.Background(), id, "Executive Summary", "  \n", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 validation error, got %v", err)
	}
}

func TestChangeTemplateKeepsSurvivingSections(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	ctx := context.Background()
	id := createProposal(t, svc, "standard")
	if _, err := svc.EditSection(ctx, id, "Executive Summary", "Kept summary.", ""); err != nil {
		t.Fatalf("EditSection() error = %v", err)
	}

	payload, err := svc.ChangeTemplate(ctx, id, "seta-discretionary")
	if err != nil {
		t.Fatalf("ChangeTemplate() error = %v", err)
	}
	doc := payload["proposal"].(proposal.Document)
	if doc.TemplateID != "seta-discretionary" || len(doc.Structure) != 7 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if section, _ := doc.Section("Executive Summary"); section.Text != "Kept summary." {
		t.Fatalf("expected surviving section content, got %+v", section)
	}
}

func TestAskAndAssembled(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	if result, err := svc.Ask(ctx, id); err != nil || result != nil {
		t.Fatalf("expected no recommendation before generation, got %+v %v", result, err)
	}
	if _, err := svc.RunNow(ctx, id); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	result, err := svc.Ask(ctx, id)
	if err != nil || result == nil {
		t.Fatalf("Ask() = %+v, %v", result, err)
	}
	if result.Recommendation.ProgrammeTypeID != 3 || result.Recommendation.CohortMultiplier != 2 || result.SectionName != "Budget" {
		t.Fatalf("unexpected recommendation %+v", result)
	}

	assembled, err := svc.Assembled(ctx, id)
	if err != nil {
		t.Fatalf("Assembled() error = %v", err)
	}
	text := assembled["text"].(string)
	if !strings.HasPrefix(text, "Draft of Summary\n\nDraft of Need") || assembled["fingerprint"] != proposal.Fingerprint(text) {
		t.Fatalf("unexpected assembled payload %+v", assembled)
	}
}

func TestReadThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisCache := cache.NewRedisStoreWithClient(client, time.Minute)

	svc, deps := newTestService(t, draftGenerator(), WithCache(redisCache))
	ctx := context.Background()
	id := createProposal(t, svc, "")

	if !mr.Exists("proposal:" + id) {
		t.Fatal("expected the new snapshot to be cached")
	}

	// A second service sharing the cache but not the store must be served
	// from Redis.
	other := New(config.Config{}, newFakeStore(), nil, draftGenerator(), WithCache(redisCache))
	payload, err := other.GetProposal(ctx, id)
	if err != nil {
		t.Fatalf("GetProposal() via cache error = %v", err)
	}
	if payload["proposal"].(proposal.Document).ID != id {
		t.Fatalf("unexpected cached payload %+v", payload)
	}

	if err := svc.DeleteProposal(ctx, id); err != nil {
		t.Fatalf("DeleteProposal() error = %v", err)
	}
	if mr.Exists("proposal:" + id) {
		t.Fatal("expected cache invalidation on delete")
	}
	if _, err := deps.store.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected proposal deleted, got %v", err)
	}
	if len(deps.archive.removed) != 1 || len(deps.search.deleted) != 1 {
		t.Fatalf("expected archive and index cleanup, got %v %v", deps.archive.removed, deps.search.deleted)
	}
}

func TestVersionsAndExport(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	ctx := context.Background()
	id := createProposal(t, svc, "foundation-short")

	if _, _, err := svc.Export(ctx, id, "html", false); err == nil {
		t.Fatal("expected export of an empty proposal to fail")
	}
	if _, _, err := svc.Export(ctx, id, "html", true); err == nil {
		t.Fatal("expected upload without artifact storage to fail")
	}

	if _, err := svc.RunNow(ctx, id); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	result, artifact, err := svc.Export(ctx, id, "html", false)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if artifact != nil || result.ETag == "" || !strings.Contains(string(result.Data), "Draft of Approach") {
		t.Fatalf("unexpected export result %+v", result)
	}

	versions, err := svc.Versions(ctx, id)
	if err != nil || len(versions) != 1 {
		t.Fatalf("Versions() = %+v, %v", versions, err)
	}
	version, err := svc.Version(ctx, id, versions[0].Hash)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if changes := version["changesSinceThen"].([]gitrepo.SectionChange); len(changes) != 0 {
		t.Fatalf("expected no changes against head, got %+v", changes)
	}
}
