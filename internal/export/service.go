package export

import (
	"context"
	"fmt"
	"time"

	"grantsmith/api/internal/proposal"
)

// Source loads the proposal snapshot to export.
type Source interface {
	GetProposal(ctx context.Context, id string) (proposal.Document, error)
}

// Renderer turns a standalone HTML document into a binary format.
type Renderer func(ctx context.Context, html string, title string) (*Result, error)

// Service provides proposal export functionality
type Service struct {
	source    Source
	formatter *Formatter
	renderers map[Format]Renderer
	now       func() time.Time
}

type Option func(*Service)

// WithRenderer overrides the renderer used for a binary format.
func WithRenderer(format Format, renderer Renderer) Option {
	return func(s *Service) {
		s.renderers[format] = renderer
	}
}

func WithFormatter(formatter *Formatter) Option {
	return func(s *Service) {
		if formatter != nil {
			s.formatter = formatter
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new export service
func NewService(source Source, opts ...Option) *Service {
	s := &Service{
		source:    source,
		formatter: NewFormatter(),
		renderers: map[Format]Renderer{
			FormatPDF:  exportPDF,
			FormatDOCX: exportDOCX,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Blocks returns the structured form of the proposal's assembled text.
func (s *Service) Blocks(ctx context.Context, proposalID string) (Blocks, error) {
	doc, err := s.source.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return s.formatter.Structure(proposal.Assemble(doc)), nil
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format == "" {
		req.Format = FormatHTML
	}
	if req.Format != FormatHTML {
		if _, ok := s.renderers[req.Format]; !ok {
			return nil, ErrUnsupportedFormat
		}
	}

	doc, err := s.source.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	assembled := proposal.Assemble(doc)
	if assembled == "" {
		return nil, ErrContentUnavailable
	}

	blocks := s.formatter.Structure(assembled)
	contentHTML := ProseMirrorToHTML(BlocksToProseMirror(blocks))

	updatedAt := s.now()
	if doc.LastFullRunAt != nil {
		updatedAt = *doc.LastFullRunAt
	}
	page, err := renderPage(newPageData(doc, assembled, contentHTML, updatedAt))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var result *Result
	if req.Format == FormatHTML {
		result = &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(doc.Title) + FormatHTML.Extension(),
			MimeType: "text/html; charset=utf-8",
		}
	} else {
		result, err = s.renderers[req.Format](ctx, page, doc.Title)
		if err != nil {
			return nil, err
		}
	}
	result.ETag = proposal.Fingerprint(assembled)
	return result, nil
}
