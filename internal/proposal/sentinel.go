package proposal

import "strings"

var failureMarkers = []struct {
	kind   FailureKind
	marker string
}{
	{FailureTransport, "[GENERATION_FAILED]"},
	{FailureRateLimited, "[RATE_LIMITED]"},
	{FailureNoResponse, "[NO_RESPONSE]"},
	{FailureOutage, "[PROVIDER_OUTAGE]"},
}

// Marker returns the sentinel prefix written into a failed section's text.
func Marker(kind FailureKind) string {
	for _, item := range failureMarkers {
		if item.kind == kind {
			return item.marker
		}
	}
	return failureMarkers[0].marker
}

// ClassifyText recognises text that starts with one of the sentinel markers.
// It exists for snapshots written before failures were tagged explicitly.
func ClassifyText(text string) (Failure, bool) {
	trimmed := strings.TrimSpace(text)
	for _, item := range failureMarkers {
		if strings.HasPrefix(trimmed, item.marker) {
			return Failure{
				Kind:    item.kind,
				Message: strings.TrimSpace(strings.TrimPrefix(trimmed, item.marker)),
			}, true
		}
	}
	return Failure{}, false
}

// Normalize tags legacy sentinel text and drops any non-authoritative text
// that slipped into history.
func Normalize(doc Document) Document {
	out := doc.Clone()
	if out.Sections == nil {
		out.Sections = make(map[string]Section)
	}
	for name, section := range out.Sections {
		if section.Failure == nil {
			if failure, ok := ClassifyText(section.Text); ok {
				section.Failure = &failure
			}
		}
		if len(section.History) > 0 {
			kept := section.History[:0]
			for _, entry := range section.History {
				if _, bad := ClassifyText(entry.Text); bad || strings.TrimSpace(entry.Text) == "" {
					continue
				}
				kept = append(kept, entry)
			}
			if len(kept) > HistoryLimit {
				kept = kept[len(kept)-HistoryLimit:]
			}
			section.History = kept
		}
		section.Name = name
		out.Sections[name] = section
	}
	return Restructure(out, out.Structure)
}

func failureText(failure Failure) string {
	marker := Marker(failure.Kind)
	message := strings.TrimSpace(failure.Message)
	if message == "" {
		return marker
	}
	return marker + " " + message
}
