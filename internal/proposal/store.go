package proposal

import (
	"errors"
	"sync"
	"time"
)

var ErrUnknownSection = errors.New("unknown section")

// SectionPatch is a partial update; nil fields are left unchanged.
type SectionPatch struct {
	Text               *string
	GeneratedAt        *time.Time
	EditedAt           *time.Time
	IsManualEdit       *bool
	CustomInstructions *string
	History            []HistoryEntry
	Failure            *Failure
	ClearFailure       bool
}

// Store holds the section records of one document. Every method is safe for
// concurrent use and each record update is applied under a single lock.
type Store struct {
	mu         sync.RWMutex
	doc        Document
	generating map[string]bool
}

// NewStore wraps a normalized copy of doc.
func NewStore(doc Document) *Store {
	return &Store{
		doc:        Normalize(doc),
		generating: make(map[string]bool),
	}
}

// Get returns the named section, if present.
func (s *Store) Get(name string) (Section, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Section(name)
}

// Upsert applies patch to an existing section and returns the result.
func (s *Store) Upsert(name string, patch SectionPatch) (Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section, ok := s.doc.Section(name)
	if !ok {
		return Section{}, ErrUnknownSection
	}
	if patch.Text != nil {
		section.Text = *patch.Text
	}
	if patch.GeneratedAt != nil {
		section.GeneratedAt = cloneTime(patch.GeneratedAt)
	}
	if patch.EditedAt != nil {
		section.EditedAt = cloneTime(patch.EditedAt)
	}
	if patch.IsManualEdit != nil {
		section.IsManualEdit = *patch.IsManualEdit
	}
	if patch.CustomInstructions != nil {
		section.CustomInstructions = *patch.CustomInstructions
	}
	if patch.History != nil {
		history := append([]HistoryEntry(nil), patch.History...)
		if len(history) > HistoryLimit {
			history = history[len(history)-HistoryLimit:]
		}
		section.History = history
	}
	if patch.ClearFailure {
		section.Failure = nil
	}
	if patch.Failure != nil {
		failure := *patch.Failure
		section.Failure = &failure
	}
	s.doc.Sections[name] = section
	return section.clone(), nil
}

// Put replaces a whole record. The name must be part of the structure.
func (s *Store) Put(section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.doc.indexOf(section.Name)
	if index < 0 {
		return ErrUnknownSection
	}
	section = section.clone()
	section.Ordinal = index
	s.doc.Sections[section.Name] = section
	return nil
}

// List returns the records in structure order.
func (s *Store) List() []Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Ordered()
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Replace swaps in a whole document, e.g. after a batch step or a reload.
func (s *Store) Replace(doc Document) {
	doc = Normalize(doc)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

// SetLastFullRun stamps the time of the last completed batch.
func (s *Store) SetLastFullRun(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.LastFullRunAt = &at
}

// SetTemplate records the template a structure was resolved from.
func (s *Store) SetTemplate(templateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.TemplateID = templateID
}

// Restructure applies a new section order and drops generating flags for
// sections that left it.
func (s *Store) Restructure(structure []string) Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = Restructure(s.doc, structure)
	for name := range s.generating {
		if s.doc.indexOf(name) < 0 {
			delete(s.generating, name)
		}
	}
	return s.doc.Clone()
}

// SetGenerating marks or clears a section as being generated.
func (s *Store) SetGenerating(name string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.generating[name] = true
		return
	}
	delete(s.generating, name)
}

func (s *Store) Generating(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generating[name]
}

// State derives the lifecycle state including in-flight generation.
func (s *Store) State(name string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	section, ok := s.doc.Section(name)
	if !ok {
		return "", false
	}
	if s.generating[name] {
		return StateGenerating, true
	}
	return section.State(), true
}

// States returns the state of every structured section keyed by name.
func (s *Store) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.doc.Structure))
	for _, section := range s.doc.Ordered() {
		if s.generating[section.Name] {
			out[section.Name] = StateGenerating
			continue
		}
		out[section.Name] = section.State()
	}
	return out
}
