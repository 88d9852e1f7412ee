package generation

import (
	"context"

	"grantsmith/api/internal/proposal"
)

// PriorSection is authoritative text from a section earlier in the structure.
type PriorSection struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Request is the context handed to the text-generation service for one
// section.
type Request struct {
	DocumentID         string            `json:"documentId"`
	SectionName        string            `json:"sectionName"`
	Ordinal            int               `json:"ordinal"`
	TotalSections      int               `json:"totalSections"`
	PriorSections      []PriorSection    `json:"priorSections"`
	CustomInstructions string            `json:"customInstructions,omitempty"`
	Signals            map[string]string `json:"signals,omitempty"`
}

// Generator produces text for one section.
type Generator interface {
	Generate(ctx context.Context, req Request) Outcome
}

type GeneratorFunc func(ctx context.Context, req Request) Outcome

func (f GeneratorFunc) Generate(ctx context.Context, req Request) Outcome { return f(ctx, req) }

// SignalSource supplies auxiliary inputs such as funder or template hints.
type SignalSource interface {
	Signals(ctx context.Context, doc proposal.Document) map[string]string
}

type SignalFunc func(ctx context.Context, doc proposal.Document) map[string]string

func (f SignalFunc) Signals(ctx context.Context, doc proposal.Document) map[string]string {
	return f(ctx, doc)
}

// Sink persists a snapshot after every mutating step.
type Sink interface {
	Save(ctx context.Context, doc proposal.Document) error
}

type SinkFunc func(ctx context.Context, doc proposal.Document) error

func (f SinkFunc) Save(ctx context.Context, doc proposal.Document) error { return f(ctx, doc) }

// BuildRequest assembles the request for name from doc. Only authoritative
// sections that come earlier in the structure are passed as context.
func BuildRequest(doc proposal.Document, name string, signals map[string]string) (Request, error) {
	section, ok := doc.Section(name)
	if !ok {
		return Request{}, ErrUnknownSection
	}
	ordered := doc.Ordered()
	var prior []PriorSection
	ordinal := 0
	for i, candidate := range ordered {
		if candidate.Name == name {
			ordinal = i
			break
		}
		if candidate.Authoritative() {
			prior = append(prior, PriorSection{Name: candidate.Name, Text: candidate.Text})
		}
	}
	var copied map[string]string
	if len(signals) > 0 {
		copied = make(map[string]string, len(signals))
		for k, v := range signals {
			copied[k] = v
		}
	}
	return Request{
		DocumentID:         doc.ID,
		SectionName:        name,
		Ordinal:            ordinal,
		TotalSections:      len(doc.Structure),
		PriorSections:      prior,
		CustomInstructions: section.CustomInstructions,
		Signals:            copied,
	}, nil
}
