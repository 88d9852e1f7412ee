package proposal

import "strings"

// DetachedOrdinal marks a record whose name is no longer in the structure.
const DetachedOrdinal = -1

// Restructure reconciles doc with a new ordered list of section names.
// Blank and duplicate names are dropped. Existing records keep their content
// and get a new ordinal; unknown names get a fresh empty record. Records that
// fell out of the structure are retained as detached so switching back to a
// template does not lose work.
func Restructure(doc Document, structure []string) Document {
	next := doc.Clone()
	if next.Sections == nil {
		next.Sections = make(map[string]Section)
	}
	seen := make(map[string]struct{}, len(structure))
	names := make([]string, 0, len(structure))
	for _, raw := range structure {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for name, section := range next.Sections {
		if _, ok := seen[name]; !ok {
			section.Ordinal = DetachedOrdinal
			next.Sections[name] = section
		}
	}
	for i, name := range names {
		section, ok := next.Sections[name]
		if !ok {
			section = Section{Name: name}
		}
		section.Ordinal = i
		next.Sections[name] = section
	}
	next.Structure = names
	return next
}
