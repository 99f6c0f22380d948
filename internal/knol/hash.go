// Package knol derives stable identities for imported notes, so importing
// the same file twice finds the notes it already created.
package knol

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/conorfennell/knolsched/internal/parser"
)

// Normalize concatenates the note's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them. Tags are not part of a note's identity.
func Normalize(n parser.Note) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.TrimSpace(p)
	}

	// Joined with newlines so "question" and "answer" never run together.
	return strings.Join([]string{
		normalizePart(n.Question),
		normalizePart(n.Answer),
		normalizePart(n.Context),
	}, "\n")
}

// Hash returns the SHA-256 of the normalized note as a hex string.
func Hash(n parser.Note) string {
	sum := sha256.Sum256([]byte(Normalize(n)))
	return fmt.Sprintf("%x", sum)
}

// NoteID maps a note onto a positive note ID taken from its hash.
func NoteID(n parser.Note) int64 {
	sum := sha256.Sum256([]byte(Normalize(n)))
	id := int64(binary.BigEndian.Uint64(sum[:8]) >> 2)
	if id == 0 {
		return 1
	}
	return id
}
