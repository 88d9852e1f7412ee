// Package proposal holds the section-level model of a funding proposal:
// section records, bounded revision history, structure reconciliation and
// assembly into a flat document body.
package proposal

import (
	"strings"
	"time"
)

// State is the lifecycle state of a section record.
type State string

const (
	StateEmpty          State = "EMPTY"
	StateGenerating     State = "GENERATING"
	StateReady          State = "READY"
	StateError          State = "ERROR"
	StateManuallyEdited State = "MANUALLY_EDITED"
)

// FailureKind classifies a non-authoritative generation result.
type FailureKind string

const (
	FailureTransport   FailureKind = "transport_failed"
	FailureRateLimited FailureKind = "rate_limited"
	FailureNoResponse  FailureKind = "no_response"
	FailureOutage      FailureKind = "provider_outage"
)

// Failure tags the current text of a section as an error marker rather than
// authoritative content.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

// HistoryEntry is one prior authoritative version of a section.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Section is the record for one named slice of the proposal.
type Section struct {
	Name               string         `json:"name"`
	Ordinal            int            `json:"ordinal"`
	Text               string         `json:"text,omitempty"`
	GeneratedAt        *time.Time     `json:"generatedAt,omitempty"`
	EditedAt           *time.Time     `json:"editedAt,omitempty"`
	IsManualEdit       bool           `json:"isManualEdit"`
	CustomInstructions string         `json:"customInstructions,omitempty"`
	History            []HistoryEntry `json:"history,omitempty"`
	Failure            *Failure       `json:"failure,omitempty"`
}

// Authoritative reports whether the current text may feed context building,
// assembly and extraction.
func (s Section) Authoritative() bool {
	return s.Failure == nil && strings.TrimSpace(s.Text) != ""
}

// State derives the lifecycle state from the record alone. In-flight
// generation is tracked by Store, see Store.State.
func (s Section) State() State {
	switch {
	case s.Failure != nil:
		return StateError
	case strings.TrimSpace(s.Text) == "":
		return StateEmpty
	case s.IsManualEdit:
		return StateManuallyEdited
	default:
		return StateReady
	}
}

func (s Section) clone() Section {
	out := s
	out.GeneratedAt = cloneTime(s.GeneratedAt)
	out.EditedAt = cloneTime(s.EditedAt)
	if s.History != nil {
		out.History = append([]HistoryEntry(nil), s.History...)
	}
	if s.Failure != nil {
		failure := *s.Failure
		out.Failure = &failure
	}
	return out
}

// Document is the full proposal snapshot exchanged with the host.
type Document struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	TemplateID    string             `json:"templateId,omitempty"`
	Structure     []string           `json:"structure"`
	Sections      map[string]Section `json:"sections"`
	LastFullRunAt *time.Time         `json:"lastFullRunAt,omitempty"`
}

// New builds a document with one empty record per structure entry.
func New(id, title, templateID string, structure []string) Document {
	doc := Document{
		ID:         id,
		Title:      title,
		TemplateID: templateID,
		Sections:   make(map[string]Section, len(structure)),
	}
	return Restructure(doc, structure)
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	out.Structure = append([]string(nil), d.Structure...)
	out.Sections = make(map[string]Section, len(d.Sections))
	for name, section := range d.Sections {
		out.Sections[name] = section.clone()
	}
	out.LastFullRunAt = cloneTime(d.LastFullRunAt)
	return out
}

// Section looks up a record that is part of the current structure.
func (d Document) Section(name string) (Section, bool) {
	if d.indexOf(name) < 0 {
		return Section{}, false
	}
	section, ok := d.Sections[name]
	if !ok {
		return Section{Name: name, Ordinal: d.indexOf(name)}, true
	}
	return section.clone(), true
}

// Ordered returns the records in structure order.
func (d Document) Ordered() []Section {
	items := make([]Section, 0, len(d.Structure))
	for i, name := range d.Structure {
		section, ok := d.Sections[name]
		if !ok {
			section = Section{Name: name}
		}
		section = section.clone()
		section.Ordinal = i
		items = append(items, section)
	}
	return items
}

// CompletedCount counts sections holding authoritative text.
func (d Document) CompletedCount() int {
	count := 0
	for _, name := range d.Structure {
		if section, ok := d.Sections[name]; ok && section.Authoritative() {
			count++
		}
	}
	return count
}

func (d Document) indexOf(name string) int {
	for i, candidate := range d.Structure {
		if candidate == name {
			return i
		}
	}
	return -1
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}
