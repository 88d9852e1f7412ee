package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"grantsmith/api/internal/artifacts"
	"grantsmith/api/internal/ask"
	"grantsmith/api/internal/cache"
	"grantsmith/api/internal/config"
	"grantsmith/api/internal/email"
	"grantsmith/api/internal/export"
	"grantsmith/api/internal/generation"
	"grantsmith/api/internal/gitrepo"
	"grantsmith/api/internal/proposal"
	"grantsmith/api/internal/search"
	"grantsmith/api/internal/store"
	"grantsmith/api/internal/templates"
	"grantsmith/api/internal/util"
)

const (
	systemAuthor   = "Grantsmith"
	defaultEditor  = "Editor"
	runLogLimit    = 20
	versionsLimit  = 50
	cacheOpTimeout = 2 * time.Second
)

type snapshotCache interface {
	GetProposal(context.Context, string) (proposal.Document, bool, error)
	PutProposal(context.Context, proposal.Document) error
	InvalidateProposal(context.Context, string) error
	SaveRunStatus(context.Context, cache.RunStatus) error
	GetRunStatus(context.Context, string) (cache.RunStatus, bool, error)
}

type archiveService interface {
	Archive(string, gitrepo.Content, string, string) (gitrepo.CommitInfo, bool, error)
	Head(string) (gitrepo.Content, gitrepo.CommitInfo, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
	GetContentByHash(string, string) (gitrepo.Content, error)
	GetCommitByHash(string, string) (gitrepo.CommitInfo, error)
	Remove(string) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexProposal(proposal.Document)
	DeleteProposal(proposal.Document)
}

type artifactStore interface {
	Upload(context.Context, string, *export.Result) (artifacts.Artifact, error)
}

type notifier interface {
	IsConfigured() bool
	SendRunSummary([]string, email.RunSummary) error
}

// Service is the host around the generation engine: it owns one
// orchestrator per open proposal and fans snapshots out to persistence,
// cache, archive and search.
type Service struct {
	cfg        config.Config
	store      store.ProposalStore
	catalog    *templates.Catalog
	programmes *ask.Catalog
	generator  generation.Generator
	extractor  generation.AskExtractor
	cache      snapshotCache
	archive    archiveService
	search     searchService
	artifacts  artifactStore
	mailer     notifier
	exporter   *export.Service
	exportOpts []export.Option
	now        func() time.Time

	mu            sync.Mutex
	orchestrators map[string]*generation.Orchestrator
	runs          map[string]*cache.RunStatus
	cancels       map[string]runCancel
	inflight      sync.WaitGroup
}

// runCancel stops one run at its next section boundary, including a run
// whose goroutine has not reached the orchestrator yet.
type runCancel struct {
	runID  string
	cancel context.CancelFunc
}

type Option func(*Service)

func WithCache(c snapshotCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithArchive(a archiveService) Option {
	return func(s *Service) { s.archive = a }
}

func WithSearch(sr searchService) Option {
	return func(s *Service) { s.search = sr }
}

func WithArtifacts(a artifactStore) Option {
	return func(s *Service) { s.artifacts = a }
}

func WithMailer(m notifier) Option {
	return func(s *Service) { s.mailer = m }
}

// WithProgrammes replaces the built-in programme catalog used for ask
// extraction.
func WithProgrammes(c *ask.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.programmes = c
		}
	}
}

func WithExportOptions(opts ...export.Option) Option {
	return func(s *Service) { s.exportOpts = append(s.exportOpts, opts...) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg config.Config, dataStore store.ProposalStore, catalog *templates.Catalog, generator generation.Generator, opts ...Option) *Service {
	if catalog == nil {
		catalog = templates.Builtin()
	}
	if generator == nil {
		generator = generation.GeneratorFunc(func(context.Context, generation.Request) generation.Outcome {
			return generation.Err(proposal.FailureTransport, "no text generator configured")
		})
	}
	s := &Service{
		cfg:           cfg,
		store:         dataStore,
		catalog:       catalog,
		programmes:    ask.BuiltinCatalog(),
		generator:     generator,
		now:           time.Now,
		orchestrators: make(map[string]*generation.Orchestrator),
		runs:          make(map[string]*cache.RunStatus),
		cancels:       make(map[string]runCancel),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.extractor = ask.NewExtractor(s.programmes, ask.WithMarkerKeyword(cfg.AskMarker))
	s.exporter = export.NewService(exportSource{s}, append([]export.Option{export.WithClock(s.now)}, s.exportOpts...)...)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Templates() []templates.Template {
	return s.catalog.List()
}

func (s *Service) ListProposals(ctx context.Context) ([]map[string]any, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"id":            item.ID,
			"title":         item.Title,
			"templateId":    item.TemplateID,
			"completed":     item.Completed,
			"total":         item.Total,
			"fingerprint":   item.Fingerprint,
			"lastFullRunAt": item.LastFullRunAt,
			"updatedAt":     item.UpdatedAt,
			"running":       s.running(item.ID),
		})
	}
	return out, nil
}

func (s *Service) CreateProposal(ctx context.Context, title, templateID string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title", "title is required")
	}
	structure, err := s.catalog.Resolve(ctx, templateID)
	if err != nil {
		return nil, err
	}
	doc := proposal.New(util.NewID("prop"), title, s.catalog.Canonical(templateID), structure)
	if err := s.store.Create(ctx, doc); err != nil {
		return nil, err
	}
	s.cachePut(ctx, doc)
	log.Printf("app: created proposal %s template=%s sections=%d", doc.ID, doc.TemplateID, len(doc.Structure))
	return proposalPayload(doc, statesOf(doc), false), nil
}

func (s *Service) GetProposal(ctx context.Context, id string) (map[string]any, error) {
	if o := s.existing(id); o != nil {
		return proposalPayload(o.Store().Snapshot(), o.Store().States(), o.Running()), nil
	}
	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return proposalPayload(doc, statesOf(doc), false), nil
}

// Documents loads every stored snapshot. It backs the scan searcher and the
// startup reindex.
func (s *Service) Documents(ctx context.Context) ([]proposal.Document, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]proposal.Document, 0, len(items))
	for _, item := range items {
		doc, err := s.loadDocument(ctx, item.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Service) DeleteProposal(ctx context.Context, id string) error {
	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if o := s.orchestrators[id]; o != nil && o.Running() {
		s.mu.Unlock()
		return generation.ErrBusy
	}
	if _, pending := s.cancels[id]; pending {
		s.mu.Unlock()
		return generation.ErrBusy
	}
	delete(s.orchestrators, id)
	delete(s.runs, id)
	s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateProposal(ctx, id); err != nil {
			log.Printf("app: cache invalidate %s: %v", id, err)
		}
	}
	if s.search != nil {
		s.search.DeleteProposal(doc)
	}
	if s.archive != nil {
		if err := s.archive.Remove(id); err != nil {
			log.Printf("app: remove archive %s: %v", id, err)
		}
	}
	log.Printf("app: deleted proposal %s", id)
	return nil
}

// ChangeTemplate re-resolves the section structure from another template.
// Sections that survive keep their content.
func (s *Service) ChangeTemplate(ctx context.Context, id, templateID string) (map[string]any, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return nil, err
	}
	structure, err := s.catalog.Resolve(ctx, templateID)
	if err != nil {
		return nil, err
	}
	doc, err := o.ChangeTemplate(ctx, s.catalog.Canonical(templateID), structure)
	if err != nil {
		return nil, err
	}
	s.index(doc)
	return proposalPayload(doc, o.Store().States(), o.Running()), nil
}

func (s *Service) GenerateSection(ctx context.Context, id, name string, instructions *string) (proposal.Section, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return proposal.Section{}, err
	}
	section, err := o.GenerateSection(ctx, name, instructions)
	if err != nil {
		return proposal.Section{}, err
	}
	s.index(o.Store().Snapshot())
	return section, nil
}

func (s *Service) EditSection(ctx context.Context, id, name, text, author string) (proposal.Section, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return proposal.Section{}, err
	}
	section, err := o.EditSection(ctx, name, text)
	if errors.Is(err, generation.ErrEmptyText) {
		return proposal.Section{}, validationError("text", "text is required")
	}
	if err != nil {
		return proposal.Section{}, err
	}
	doc := o.Store().Snapshot()
	s.archiveDocument(doc, author, fmt.Sprintf("Edit section %s", name))
	s.index(doc)
	return section, nil
}

func (s *Service) RestoreSection(ctx context.Context, id, name string, index int, author string) (proposal.Section, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return proposal.Section{}, err
	}
	section, err := o.RestoreSection(ctx, name, index)
	if err != nil {
		return proposal.Section{}, err
	}
	doc := o.Store().Snapshot()
	s.archiveDocument(doc, author, fmt.Sprintf("Restore section %s from history entry %d", name, index))
	s.index(doc)
	return section, nil
}

// StartRun launches a full generation run in the background and returns its
// initial status.
func (s *Service) StartRun(ctx context.Context, id string) (cache.RunStatus, error) {
	o, status, runCtx, err := s.beginRun(ctx, id)
	if err != nil {
		return cache.RunStatus{}, err
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		report, err := o.GenerateAll(runCtx)
		s.finishRun(runCtx, o, status, report, err, true)
	}()
	return status, nil
}

// RunNow performs a full generation run and waits for it.
func (s *Service) RunNow(ctx context.Context, id string) (generation.RunReport, error) {
	o, status, runCtx, err := s.beginRun(ctx, id)
	if err != nil {
		return generation.RunReport{}, err
	}
	report, err := o.GenerateAll(runCtx)
	s.finishRun(runCtx, o, status, report, err, false)
	return report, err
}

// beginRun registers a run for id and returns the context it must run under.
// The context outlives the caller and is cancelled only through CancelRun or
// Shutdown.
func (s *Service) beginRun(ctx context.Context, id string) (*generation.Orchestrator, cache.RunStatus, context.Context, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return nil, cache.RunStatus{}, nil, err
	}
	now := s.now()
	s.mu.Lock()
	if s.orchestrators[id] != o {
		s.mu.Unlock()
		return nil, cache.RunStatus{}, nil, store.ErrNotFound
	}
	if _, pending := s.cancels[id]; pending || o.Running() {
		s.mu.Unlock()
		return nil, cache.RunStatus{}, nil, generation.ErrBusy
	}
	status := &cache.RunStatus{
		RunID:      util.NewID("run"),
		ProposalID: id,
		State:      cache.RunRunning,
		Total:      len(o.Store().Snapshot().Structure),
		StartedAt:  now,
		UpdatedAt:  now,
	}
	s.runs[id] = status
	runCtx, cancel := context.WithCancel(generation.ContextWithRunID(context.WithoutCancel(ctx), status.RunID))
	s.cancels[id] = runCancel{runID: status.RunID, cancel: cancel}
	snapshot := *status
	s.mu.Unlock()

	s.publishRun(runCtx, snapshot)
	log.Printf("app: run %s started for proposal %s sections=%d", snapshot.RunID, id, snapshot.Total)
	return o, snapshot, runCtx, nil
}

func (s *Service) finishRun(ctx context.Context, o *generation.Orchestrator, started cache.RunStatus, report generation.RunReport, runErr error, notify bool) {
	id := started.ProposalID
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	if handle, ok := s.cancels[id]; ok && handle.runID == started.RunID {
		handle.cancel()
		delete(s.cancels, id)
	}
	status, ok := s.runs[id]
	if !ok || status.RunID != started.RunID {
		status = &started
	}
	switch {
	case runErr != nil:
		status.State = cache.RunFailed
		status.Error = runErr.Error()
	case report.Cancelled:
		status.State = cache.RunCancelled
	default:
		status.State = cache.RunCompleted
	}
	status.Current = ""
	status.Done = len(report.Updated) + len(report.Failed) + len(report.Skipped)
	status.UpdatedAt = s.now()
	snapshot := *status
	s.mu.Unlock()
	s.publishRun(ctx, snapshot)

	if errors.Is(runErr, generation.ErrBusy) {
		return
	}

	record := store.RunRecord{
		RunID:      report.RunID,
		ProposalID: id,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Updated:    report.Updated,
		Failed:     report.Failed,
		Skipped:    report.Skipped,
		Cancelled:  report.Cancelled,
		Completed:  runErr == nil && !report.Cancelled,
	}
	if err := s.store.RecordRun(ctx, record); err != nil {
		log.Printf("app: record run %s: %v", report.RunID, err)
	}

	doc := o.Store().Snapshot()
	s.index(doc)
	if runErr != nil {
		return
	}
	if !report.Cancelled {
		s.archiveDocument(doc, systemAuthor, fmt.Sprintf("Full generation run %s", report.RunID))
	}
	if notify {
		s.notifyRun(doc, report)
	}
}

// CancelRun asks the proposal's in-flight run to stop before its next
// section. It reports false when nothing was running.
func (s *Service) CancelRun(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	handle, pending := s.cancels[id]
	o := s.orchestrators[id]
	s.mu.Unlock()
	if !pending {
		if _, err := s.loadDocument(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	handle.cancel()
	if o != nil {
		o.Cancel()
	}
	log.Printf("app: cancel requested for run %s of proposal %s", handle.runID, id)
	return true, nil
}

// RunStatus returns live progress, the last in-process report and the
// persisted run log.
func (s *Service) RunStatus(ctx context.Context, id string) (map[string]any, error) {
	if _, err := s.loadDocument(ctx, id); err != nil {
		return nil, err
	}
	payload := map[string]any{"status": nil, "lastRun": nil}

	s.mu.Lock()
	status, ok := s.runs[id]
	var local cache.RunStatus
	if ok {
		local = *status
	}
	s.mu.Unlock()
	if ok {
		payload["status"] = local
	} else if s.cache != nil {
		if cached, found, err := s.cache.GetRunStatus(ctx, id); err != nil {
			log.Printf("app: read run status %s: %v", id, err)
		} else if found {
			payload["status"] = cached
		}
	}

	if o := s.existing(id); o != nil {
		if report, ok := o.LastRun(); ok {
			payload["lastRun"] = report
		}
	}

	runs, err := s.store.ListRuns(ctx, id, runLogLimit)
	if err != nil {
		return nil, err
	}
	payload["runs"] = runs
	return payload, nil
}

func (s *Service) Assembled(ctx context.Context, id string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	text := proposal.Assemble(doc)
	return map[string]any{
		"text":        text,
		"fingerprint": proposal.Fingerprint(text),
		"completed":   doc.CompletedCount(),
		"total":       len(doc.Structure),
	}, nil
}

// Ask extracts the funding recommendation from the current snapshot. A nil
// result means no recommendation.
func (s *Service) Ask(ctx context.Context, id string) (*generation.AskResult, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.Ask(), nil
}

func (s *Service) Blocks(ctx context.Context, id string) (export.Blocks, error) {
	return s.exporter.Blocks(ctx, id)
}

// Export renders the proposal and, when upload is set, stores the file in
// the artifact bucket.
func (s *Service) Export(ctx context.Context, id string, format export.Format, upload bool) (*export.Result, *artifacts.Artifact, error) {
	if upload && s.artifacts == nil {
		return nil, nil, unavailable("ARTIFACTS_UNAVAILABLE", "Artifact storage is not configured", nil)
	}
	if _, err := s.loadDocument(ctx, id); err != nil {
		return nil, nil, err
	}
	result, err := s.exporter.Export(ctx, export.Request{ProposalID: id, Format: format})
	if err != nil {
		return nil, nil, err
	}
	if !upload {
		return result, nil, nil
	}
	artifact, err := s.artifacts.Upload(ctx, id, result)
	if err != nil {
		return nil, nil, err
	}
	return result, &artifact, nil
}

func (s *Service) Versions(ctx context.Context, id string) ([]gitrepo.CommitInfo, error) {
	if _, err := s.loadDocument(ctx, id); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	commits, err := s.archive.History(id, versionsLimit)
	if errors.Is(err, gitrepo.ErrNoArchive) {
		return []gitrepo.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// Version returns one archived version and how each section changed from it
// to the latest archived version.
func (s *Service) Version(ctx context.Context, id, hash string) (map[string]any, error) {
	if _, err := s.loadDocument(ctx, id); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return nil, gitrepo.ErrNoArchive
	}
	content, err := s.archive.GetContentByHash(id, hash)
	if err != nil {
		return nil, err
	}
	commit, err := s.archive.GetCommitByHash(id, hash)
	if err != nil {
		return nil, err
	}
	changes := []gitrepo.SectionChange{}
	if head, _, err := s.archive.Head(id); err == nil {
		changes = append(changes, gitrepo.DiffSections(content, head)...)
	}
	return map[string]any{
		"commit":           commit,
		"content":          content,
		"changesSinceThen": changes,
	}, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Shutdown cancels every in-flight run and waits for them to wind down.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, handle := range s.cancels {
		handle.cancel()
	}
	for _, o := range s.orchestrators {
		o.Cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) existing(id string) *generation.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orchestrators[id]
}

func (s *Service) running(id string) bool {
	o := s.existing(id)
	return o != nil && o.Running()
}

// orchestrator returns the proposal's orchestrator, loading the snapshot on
// first use. The in-process store is authoritative from then on.
func (s *Service) orchestrator(ctx context.Context, id string) (*generation.Orchestrator, error) {
	if o := s.existing(id); o != nil {
		return o, nil
	}
	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orchestrators[id]; ok {
		return o, nil
	}
	o, err := generation.New(
		proposal.NewStore(doc),
		s.trackingGenerator(id),
		generation.SinkFunc(s.persist),
		generation.WithClock(s.now),
		generation.WithAskKeyword(s.cfg.AskSectionKeyword),
		generation.WithExtractor(s.extractor),
	)
	if err != nil {
		return nil, err
	}
	s.orchestrators[id] = o
	return o, nil
}

func (s *Service) loadDocument(ctx context.Context, id string) (proposal.Document, error) {
	if o := s.existing(id); o != nil {
		return o.Store().Snapshot(), nil
	}
	if s.cache != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		doc, ok, err := s.cache.GetProposal(cacheCtx, id)
		cancel()
		if err != nil {
			log.Printf("app: cache read %s: %v", id, err)
		} else if ok {
			return doc, nil
		}
	}
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return proposal.Document{}, err
	}
	s.cachePut(ctx, doc)
	return doc, nil
}

// persist is the orchestrators' sink: the store write is authoritative, the
// cache write is best effort.
func (s *Service) persist(ctx context.Context, doc proposal.Document) error {
	if s.existing(doc.ID) == nil {
		return store.ErrNotFound
	}
	if err := s.store.Save(ctx, doc); err != nil {
		return err
	}
	s.cachePut(ctx, doc)
	s.advanceRun(ctx, doc.ID)
	return nil
}

func (s *Service) cachePut(ctx context.Context, doc proposal.Document) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := s.cache.PutProposal(ctx, doc); err != nil {
		log.Printf("app: cache write %s: %v", doc.ID, err)
	}
}

func (s *Service) trackingGenerator(id string) generation.Generator {
	return generation.GeneratorFunc(func(ctx context.Context, req generation.Request) generation.Outcome {
		s.updateRun(ctx, id, func(status *cache.RunStatus) {
			status.Current = req.SectionName
		})
		return s.generator.Generate(ctx, req)
	})
}

func (s *Service) advanceRun(ctx context.Context, id string) {
	s.updateRun(ctx, id, func(status *cache.RunStatus) {
		if status.Done < status.Total {
			status.Done++
		}
	})
}

func (s *Service) updateRun(ctx context.Context, id string, apply func(*cache.RunStatus)) {
	s.mu.Lock()
	status, ok := s.runs[id]
	if !ok || status.State != cache.RunRunning {
		s.mu.Unlock()
		return
	}
	apply(status)
	status.UpdatedAt = s.now()
	snapshot := *status
	s.mu.Unlock()
	s.publishRun(ctx, snapshot)
}

func (s *Service) publishRun(ctx context.Context, status cache.RunStatus) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := s.cache.SaveRunStatus(ctx, status); err != nil {
		log.Printf("app: publish run status %s: %v", status.RunID, err)
	}
}

func (s *Service) index(doc proposal.Document) {
	if s.search != nil {
		s.search.IndexProposal(doc)
	}
}

// archiveDocument commits the authoritative content when it differs from
// the last archived version.
func (s *Service) archiveDocument(doc proposal.Document, author, message string) {
	if s.archive == nil {
		return
	}
	if strings.TrimSpace(author) == "" {
		author = defaultEditor
	}
	commit, created, err := s.archive.Archive(doc.ID, gitrepo.ContentFrom(doc), author, message)
	if err != nil {
		log.Printf("app: archive %s: %v", doc.ID, err)
		return
	}
	if created {
		log.Printf("app: archived proposal %s at %s", doc.ID, commit.Hash)
	}
}

func (s *Service) notifyRun(doc proposal.Document, report generation.RunReport) {
	if s.mailer == nil || !s.mailer.IsConfigured() || len(s.cfg.NotifyTo) == 0 {
		return
	}
	summary := email.RunSummary{
		ProposalID:    doc.ID,
		ProposalTitle: doc.Title,
		RunID:         report.RunID,
		FinishedAt:    report.FinishedAt,
		Updated:       report.Updated,
		Failed:        report.Failed,
		Skipped:       report.Skipped,
		Cancelled:     report.Cancelled,
		Completed:     report.Completed,
		Total:         report.Total,
	}
	if report.Ask != nil {
		summary.Ask = ask.Describe(report.Ask.Recommendation)
	}
	if err := s.mailer.SendRunSummary(s.cfg.NotifyTo, summary); err != nil {
		log.Printf("app: run summary mail for %s: %v", report.RunID, err)
	}
}

func proposalPayload(doc proposal.Document, states map[string]proposal.State, running bool) map[string]any {
	return map[string]any{
		"proposal":  doc,
		"sections":  doc.Ordered(),
		"states":    states,
		"completed": doc.CompletedCount(),
		"total":     len(doc.Structure),
		"running":   running,
	}
}

func statesOf(doc proposal.Document) map[string]proposal.State {
	out := make(map[string]proposal.State, len(doc.Structure))
	for _, section := range doc.Ordered() {
		out[section.Name] = section.State()
	}
	return out
}

type exportSource struct {
	service *Service
}

func (e exportSource) GetProposal(ctx context.Context, id string) (proposal.Document, error) {
	return e.service.loadDocument(ctx, id)
}
