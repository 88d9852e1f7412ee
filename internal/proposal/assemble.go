package proposal

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Delimiter separates section bodies in the assembled document.
const Delimiter = "\n\n"

// Assemble concatenates authoritative section texts in structure order.
// Failed and empty sections contribute nothing.
func Assemble(doc Document) string {
	parts := make([]string, 0, len(doc.Structure))
	for _, name := range doc.Structure {
		section, ok := doc.Sections[name]
		if !ok || !section.Authoritative() {
			continue
		}
		parts = append(parts, strings.TrimSpace(normalizeNewlines(section.Text)))
	}
	return strings.Join(parts, Delimiter)
}

// Fingerprint is a content hash of assembled text.
func Fingerprint(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func normalizeNewlines(text string) string {
	return strings.ReplaceAll(text, "\r\n", "\n")
}
