package knol

import (
	"testing"

	"github.com/conorfennell/knolsched/internal/parser"
)

func TestNormalize(t *testing.T) {
	note := parser.Note{
		Question: "  What is HTMX? \r\n",
		Answer:   "A library for AJAX.",
		Context:  "Web Development",
		Tags:     []string{"web"},
	}
	expected := "what is htmx?\na library for ajax.\nweb development"
	normalized := Normalize(note)

	if normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestHash(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		note := parser.Note{Question: "Q", Answer: "A", Context: "C"}
		// Hash for "q\na\nc"
		expectedHash := "eb2456c1ee4f36305069dd0f63a30e92d5443129f5e8fd9a5ec490fbc4d4d8a2"

		if hash := Hash(note); hash != expectedHash {
			t.Errorf("Expected hash '%s', but got '%s'", expectedHash, hash)
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		n1 := parser.Note{Question: "  what is go? ", Answer: "A programming language."}
		n2 := parser.Note{Question: "What Is Go?", Answer: "A programming language.", Line: 40}
		if Hash(n1) != Hash(n2) {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("different notes have different hashes", func(t *testing.T) {
		if Hash(parser.Note{Question: "Card 1"}) == Hash(parser.Note{Question: "Card 2"}) {
			t.Error("Expected hashes for different notes to be different")
		}
	})
}

func TestNoteID(t *testing.T) {
	n := parser.Note{Question: "What is Go?", Answer: "A language"}
	id := NoteID(n)
	if id <= 0 {
		t.Fatalf("Expected a positive note id, but got %d", id)
	}
	if again := NoteID(parser.Note{Question: "what is go?", Answer: "a language", Tags: []string{"x"}}); again != id {
		t.Errorf("Expected note id %d to survive normalization, but got %d", id, again)
	}
	if other := NoteID(parser.Note{Question: "What is Rust?"}); other == id {
		t.Errorf("Expected different notes to get different ids, both got %d", id)
	}
}
