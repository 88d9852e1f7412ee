// Package generation drives section generation for one proposal: single
// section calls, sequential batch runs with cancellation, and manual edits,
// all serialized by a per-document lock.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"grantsmith/api/internal/ask"
	"grantsmith/api/internal/proposal"
	"grantsmith/api/internal/util"
)

const DefaultAskKeyword = "budget"

var (
	ErrUnknownSection = proposal.ErrUnknownSection
	ErrEmptyText      = errors.New("section text is empty")
)

// AskExtractor derives a funding recommendation from section text.
type AskExtractor interface {
	Extract(text string) (ask.Recommendation, bool)
}

// AskResult is a recommendation together with where it came from.
type AskResult struct {
	Recommendation ask.Recommendation `json:"recommendation"`
	SectionName    string             `json:"sectionName"`
	Provenance     string             `json:"provenance"`
}

// RunReport summarizes one GenerateAll call.
type RunReport struct {
	RunID      string     `json:"runId"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	Updated    []string   `json:"updated"`
	Failed     []string   `json:"failed"`
	Skipped    []string   `json:"skipped"`
	Cancelled  bool       `json:"cancelled"`
	Completed  int        `json:"completed"`
	Total      int        `json:"total"`
	Assembled  string     `json:"assembled,omitempty"`
	Ask        *AskResult `json:"ask,omitempty"`
}

// Orchestrator owns generation for a single document.
type Orchestrator struct {
	store     *proposal.Store
	generator Generator
	sink      Sink

	lock      Lock
	cancelled atomic.Bool

	clock      func() time.Time
	askKeyword string
	extractor  AskExtractor
	signals    SignalSource
	tracer     trace.Tracer
	runIDs     func() string

	mu      sync.Mutex
	lastRun *RunReport
}

// Option customizes the orchestrator instance.
type Option func(*Orchestrator)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAskKeyword selects the section ask extraction reads, by a
// case-insensitive substring of its name.
func WithAskKeyword(keyword string) Option {
	return func(o *Orchestrator) {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			o.askKeyword = strings.ToLower(keyword)
		}
	}
}

// WithExtractor replaces the funding ask extractor.
func WithExtractor(extractor AskExtractor) Option {
	return func(o *Orchestrator) {
		if extractor != nil {
			o.extractor = extractor
		}
	}
}

// WithSignals sets the source of funder and template hints.
func WithSignals(source SignalSource) Option {
	return func(o *Orchestrator) {
		if source != nil {
			o.signals = source
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRunIDs sets the run ID generator used when the context carries none.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.runIDs = next
		}
	}
}

// New wires an orchestrator to the document store, the generation service
// and the persistence sink. A nil sink discards snapshots.
func New(store *proposal.Store, generator Generator, sink Sink, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("generation: store is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generation: generator is required")
	}
	if sink == nil {
		sink = SinkFunc(func(context.Context, proposal.Document) error { return nil })
	}
	o := &Orchestrator{
		store:      store,
		generator:  generator,
		sink:       sink,
		clock:      time.Now,
		askKeyword: DefaultAskKeyword,
		extractor:  ask.NewExtractor(nil),
		signals:    SignalFunc(documentSignals),
		tracer:     otel.Tracer("grantsmith/generation"),
		runIDs:     func() string { return util.NewID("run") },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func documentSignals(_ context.Context, doc proposal.Document) map[string]string {
	signals := map[string]string{}
	if doc.Title != "" {
		signals["title"] = doc.Title
	}
	if doc.TemplateID != "" {
		signals["template"] = doc.TemplateID
	}
	return signals
}

func (o *Orchestrator) Store() *proposal.Store { return o.store }

// Running reports whether a generation, edit or restore holds the lock.
func (o *Orchestrator) Running() bool { return o.lock.Held() }

// Cancel asks an in-flight GenerateAll to stop before its next section. The
// section being generated when Cancel is called still completes.
func (o *Orchestrator) Cancel() bool {
	if !o.lock.Held() {
		return false
	}
	o.cancelled.Store(true)
	return true
}

// release clears any cancel request made while the lock was held and frees
// the lock.
func (o *Orchestrator) release() {
	o.cancelled.Store(false)
	o.lock.Release()
}

// LastRun returns the report of the most recent GenerateAll.
func (o *Orchestrator) LastRun() (RunReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastRun == nil {
		return RunReport{}, false
	}
	return *o.lastRun, true
}

// GenerateSection (re)generates one section. When instructions is non-nil
// it replaces the section's custom instructions first. Generation failures
// are recorded on the section, not returned.
func (o *Orchestrator) GenerateSection(ctx context.Context, name string, instructions *string) (proposal.Section, error) {
	if !o.lock.TryAcquire() {
		return proposal.Section{}, ErrBusy
	}
	defer o.release()

	if err := ctx.Err(); err != nil {
		return proposal.Section{}, err
	}
	if _, ok := o.store.Get(name); !ok {
		return proposal.Section{}, ErrUnknownSection
	}
	if instructions != nil {
		if _, err := o.store.Upsert(name, proposal.SectionPatch{CustomInstructions: instructions}); err != nil {
			return proposal.Section{}, err
		}
	}

	doc := o.store.Snapshot()
	signals := o.signals.Signals(ctx, doc)
	doc, _, err := o.runSection(ctx, doc, name, signals)
	if err != nil {
		return proposal.Section{}, err
	}
	if err := o.persist(ctx); err != nil {
		return proposal.Section{}, err
	}
	section, _ := doc.Section(name)
	return section, nil
}

// GenerateAll regenerates every section in structure order, skipping manual
// edits. Each section sees the output of the sections generated before it in
// the same run. The snapshot is persisted after every section; a persistence
// failure stops the run and is returned.
func (o *Orchestrator) GenerateAll(ctx context.Context) (RunReport, error) {
	if !o.lock.TryAcquire() {
		return RunReport{}, ErrBusy
	}
	defer o.release()

	report := RunReport{RunID: o.runID(ctx), StartedAt: o.clock()}
	ctx, span := o.tracer.Start(ctx, "generation.GenerateAll", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
	))
	defer span.End()

	doc := o.store.Snapshot()
	report.Total = len(doc.Structure)
	span.SetAttributes(attribute.String("document.id", doc.ID), attribute.Int("sections", report.Total))
	signals := o.signals.Signals(ctx, doc)

	err := func() error {
		for _, name := range doc.Structure {
			if o.cancelled.Load() || ctx.Err() != nil {
				report.Cancelled = true
				return nil
			}
			if doc.Sections[name].IsManualEdit {
				report.Skipped = append(report.Skipped, name)
				continue
			}
			var ok bool
			var err error
			doc, ok, err = o.runSection(ctx, doc, name, signals)
			if err != nil {
				return err
			}
			if ok {
				report.Updated = append(report.Updated, name)
			} else {
				report.Failed = append(report.Failed, name)
			}
			if err := o.persist(ctx); err != nil {
				return err
			}
		}
		return nil
	}()

	if err == nil && !report.Cancelled {
		report.Assembled = proposal.Assemble(doc)
		report.Ask = o.extractAsk(doc)
		o.store.SetLastFullRun(o.clock())
		err = o.persist(ctx)
	}

	report.Completed = o.store.Snapshot().CompletedCount()
	report.FinishedAt = o.clock()
	o.mu.Lock()
	o.lastRun = &report
	o.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("generation: run %s aborted: %v", report.RunID, err)
		return report, err
	}
	span.SetAttributes(
		attribute.Int("updated", len(report.Updated)),
		attribute.Int("failed", len(report.Failed)),
		attribute.Bool("cancelled", report.Cancelled),
	)
	log.Printf("generation: run %s finished updated=%d failed=%d skipped=%d cancelled=%t",
		report.RunID, len(report.Updated), len(report.Failed), len(report.Skipped), report.Cancelled)
	return report, nil
}

// runSection generates one section against doc, writes the record to the
// store and returns the advanced snapshot.
func (o *Orchestrator) runSection(ctx context.Context, doc proposal.Document, name string, signals map[string]string) (proposal.Document, bool, error) {
	req, err := BuildRequest(doc, name, signals)
	if err != nil {
		return doc, false, err
	}

	ctx, span := o.tracer.Start(ctx, "generation.Section", trace.WithAttributes(
		attribute.String("section", name),
		attribute.Int("ordinal", req.Ordinal),
		attribute.Int("prior_sections", len(req.PriorSections)),
	))
	defer span.End()

	// Cancellation is observed only between sections.
	o.store.SetGenerating(name, true)
	outcome := o.generator.Generate(context.WithoutCancel(ctx), req)
	o.store.SetGenerating(name, false)

	doc = Step(doc, name, outcome, o.clock())
	section := doc.Sections[name]
	if err := o.store.Put(section); err != nil {
		return doc, false, fmt.Errorf("store section %q: %w", name, err)
	}
	if section.Failure != nil {
		span.SetAttributes(attribute.String("failure.kind", string(section.Failure.Kind)))
		span.SetStatus(codes.Error, section.Failure.Message)
		log.Printf("generation: section %q failed: %s %s", name, section.Failure.Kind, section.Failure.Message)
		return doc, false, nil
	}
	return doc, true, nil
}

// Step applies one generation outcome to doc and returns the new snapshot.
// An empty successful response counts as no_response.
func Step(doc proposal.Document, name string, outcome Outcome, now time.Time) proposal.Document {
	next := doc.Clone()
	section, ok := next.Section(name)
	if !ok {
		return next
	}
	text, succeeded := outcome.Text()
	text = strings.TrimSpace(text)
	switch {
	case succeeded && text != "":
		section = proposal.ApplySuccess(section, text, now)
	case succeeded:
		section = proposal.ApplyFailure(section, proposal.Failure{Kind: proposal.FailureNoResponse, Message: "empty response"})
	default:
		failure, _ := outcome.Failure()
		section = proposal.ApplyFailure(section, failure)
	}
	next.Sections[name] = section
	return next
}

// EditSection replaces a section's text by hand.
func (o *Orchestrator) EditSection(ctx context.Context, name, text string) (proposal.Section, error) {
	if strings.TrimSpace(text) == "" {
		return proposal.Section{}, ErrEmptyText
	}
	return o.mutate(ctx, name, func(section proposal.Section) (proposal.Section, error) {
		return proposal.ApplyManualEdit(section, text, o.clock()), nil
	})
}

// RestoreSection promotes history entry index to the current text.
func (o *Orchestrator) RestoreSection(ctx context.Context, name string, index int) (proposal.Section, error) {
	return o.mutate(ctx, name, func(section proposal.Section) (proposal.Section, error) {
		return proposal.RestoreHistory(section, index, o.clock())
	})
}

// SetInstructions stores custom instructions without generating.
func (o *Orchestrator) SetInstructions(ctx context.Context, name, instructions string) (proposal.Section, error) {
	return o.mutate(ctx, name, func(section proposal.Section) (proposal.Section, error) {
		section.CustomInstructions = instructions
		return section, nil
	})
}

// ChangeTemplate records a new template and reconciles the document with
// the structure resolved from it.
func (o *Orchestrator) ChangeTemplate(ctx context.Context, templateID string, structure []string) (proposal.Document, error) {
	if !o.lock.TryAcquire() {
		return proposal.Document{}, ErrBusy
	}
	defer o.release()
	o.store.SetTemplate(templateID)
	doc := o.store.Restructure(structure)
	if err := o.persist(ctx); err != nil {
		return proposal.Document{}, err
	}
	return doc, nil
}

// Restructure reconciles the document with a new section list.
func (o *Orchestrator) Restructure(ctx context.Context, structure []string) (proposal.Document, error) {
	if !o.lock.TryAcquire() {
		return proposal.Document{}, ErrBusy
	}
	defer o.release()
	doc := o.store.Restructure(structure)
	if err := o.persist(ctx); err != nil {
		return proposal.Document{}, err
	}
	return doc, nil
}

func (o *Orchestrator) mutate(ctx context.Context, name string, apply func(proposal.Section) (proposal.Section, error)) (proposal.Section, error) {
	if !o.lock.TryAcquire() {
		return proposal.Section{}, ErrBusy
	}
	defer o.release()

	section, ok := o.store.Get(name)
	if !ok {
		return proposal.Section{}, ErrUnknownSection
	}
	updated, err := apply(section)
	if err != nil {
		return proposal.Section{}, err
	}
	if err := o.store.Put(updated); err != nil {
		return proposal.Section{}, err
	}
	if err := o.persist(ctx); err != nil {
		return proposal.Section{}, err
	}
	updated, _ = o.store.Get(name)
	return updated, nil
}

// Ask runs extraction against the current snapshot.
func (o *Orchestrator) Ask() *AskResult {
	return o.extractAsk(o.store.Snapshot())
}

// extractAsk reads the first authoritative section whose name contains the
// ask keyword.
func (o *Orchestrator) extractAsk(doc proposal.Document) *AskResult {
	for _, section := range doc.Ordered() {
		if !strings.Contains(strings.ToLower(section.Name), o.askKeyword) {
			continue
		}
		if !section.Authoritative() {
			return nil
		}
		rec, ok := o.extractor.Extract(section.Text)
		if !ok {
			return nil
		}
		return &AskResult{
			Recommendation: rec,
			SectionName:    section.Name,
			Provenance:     "ai-extracted:" + section.Name,
		}
	}
	return nil
}

type runIDKey struct{}

// ContextWithRunID makes a GenerateAll called with ctx report id as its run
// id instead of drawing a fresh one.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func (o *Orchestrator) runID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return o.runIDs()
}

func (o *Orchestrator) persist(ctx context.Context) error {
	if err := o.sink.Save(context.WithoutCancel(ctx), o.store.Snapshot()); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}
