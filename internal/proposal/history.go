package proposal

import (
	"errors"
	"time"
)

// HistoryLimit bounds the number of prior versions kept per section.
const HistoryLimit = 3

var ErrHistoryIndex = errors.New("history index out of range")

// PushHistory appends entry and evicts the oldest entries beyond HistoryLimit.
// The input slice is never modified.
func PushHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, entry)
	if len(out) > HistoryLimit {
		out = append([]HistoryEntry(nil), out[len(out)-HistoryLimit:]...)
	}
	return out
}

// ApplySuccess replaces the text with freshly generated content.
func ApplySuccess(section Section, text string, now time.Time) Section {
	section = archiveCurrent(section.clone())
	section.Text = text
	section.GeneratedAt = &now
	section.IsManualEdit = false
	section.Failure = nil
	return section
}

// ApplyFailure records a failed attempt. History is left untouched and the
// previous timestamps are kept.
func ApplyFailure(section Section, failure Failure) Section {
	section = section.clone()
	section.Text = failureText(failure)
	section.IsManualEdit = false
	section.Failure = &failure
	return section
}

// ApplyManualEdit sets user-supplied text.
func ApplyManualEdit(section Section, text string, now time.Time) Section {
	section = archiveCurrent(section.clone())
	section.Text = text
	section.IsManualEdit = true
	section.EditedAt = &now
	section.Failure = nil
	return section
}

// RestoreHistory promotes history[index] to the current text. The restored
// entry stays in history and the text it replaces is archived with its
// original timestamp.
func RestoreHistory(section Section, index int, now time.Time) (Section, error) {
	if index < 0 || index >= len(section.History) {
		return section, ErrHistoryIndex
	}
	entry := section.History[index]
	section = archiveCurrent(section.clone())
	section.Text = entry.Text
	section.IsManualEdit = true
	section.EditedAt = &now
	section.Failure = nil
	return section, nil
}

func archiveCurrent(section Section) Section {
	if !section.Authoritative() {
		return section
	}
	section.History = PushHistory(section.History, HistoryEntry{
		Timestamp: textTimestamp(section),
		Text:      section.Text,
	})
	return section
}

func textTimestamp(section Section) time.Time {
	if section.IsManualEdit && section.EditedAt != nil {
		return *section.EditedAt
	}
	if section.GeneratedAt != nil {
		return *section.GeneratedAt
	}
	if section.EditedAt != nil {
		return *section.EditedAt
	}
	return time.Time{}
}
