// Package filtered implements filtered decks: a search pulls cards out of
// their home decks, and emptying the deck puts them back.
package filtered

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/conorfennell/knolsched/internal/domain"
)

// Term is one search condition such as "deck:Spanish" or "-is:new".
type Term struct {
	Key    string
	Value  string
	Negate bool
}

// Search is a conjunction of terms. The empty search matches every card.
type Search []Term

var knownStates = map[string]bool{
	"due": true, "new": true, "review": true, "learn": true, "suspended": true, "buried": true,
}

// ParseSearch parses space separated terms. Values containing spaces may be
// double quoted, e.g. deck:"Spanish Verbs".
func ParseSearch(s string) (Search, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	var search Search
	for _, tok := range tokens {
		var t Term
		if strings.HasPrefix(tok, "-") {
			t.Negate = true
			tok = tok[1:]
		}
		key, value, ok := strings.Cut(tok, ":")
		if !ok || value == "" {
			return nil, fmt.Errorf("unsupported search term %q: %w", tok, domain.ErrInvalidArgument)
		}
		t.Key = strings.ToLower(key)
		t.Value = strings.Trim(value, `"`)
		switch t.Key {
		case "is":
			t.Value = strings.ToLower(t.Value)
			if !knownStates[t.Value] {
				return nil, fmt.Errorf("unknown card state %q: %w", t.Value, domain.ErrInvalidArgument)
			}
		case "deck", "tag":
		default:
			return nil, fmt.Errorf("unsupported search key %q: %w", key, domain.ErrInvalidArgument)
		}
		search = append(search, t)
	}
	return search, nil
}

func tokenize(s string) ([]string, error) {
	var (
		tokens []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case unicode.IsSpace(r) && !quoted:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in search %q: %w", s, domain.ErrInvalidArgument)
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// Env is what a search needs besides the card itself.
type Env struct {
	Today int
	Now   int64
	// DeckName resolves a card's home deck to its full name.
	DeckName func(deckID int64) string
}

// Match reports whether every term holds for c.
func (s Search) Match(c *domain.Card, env Env) bool {
	for _, t := range s {
		if t.match(c, env) == t.Negate {
			return false
		}
	}
	return true
}

func (t Term) match(c *domain.Card, env Env) bool {
	switch t.Key {
	case "deck":
		name := ""
		if env.DeckName != nil {
			name = env.DeckName(c.HomeDeckID())
		}
		return deckMatches(t.Value, name)
	case "tag":
		return c.HasTag(t.Value)
	case "is":
		switch t.Value {
		case "due":
			switch c.Queue {
			case domain.QueueReview, domain.QueueDayLearnRelearn:
				return c.Due <= int64(env.Today)
			case domain.QueueLearning:
				return c.Due <= env.Now
			}
			return false
		case "new":
			return c.Type == domain.TypeNew
		case "review":
			return c.Type == domain.TypeReview || c.Type == domain.TypeRelearning
		case "learn":
			return c.Queue == domain.QueueLearning || c.Queue == domain.QueueDayLearnRelearn
		case "suspended":
			return c.Queue == domain.QueueSuspended
		case "buried":
			return c.Queue.Buried()
		}
	}
	return false
}

// deckMatches compares case-insensitively. A pattern matches the deck and
// its children; a trailing "*" matches any name with that prefix.
func deckMatches(pattern, name string) bool {
	pattern = strings.ToLower(pattern)
	name = strings.ToLower(name)
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return name == pattern || strings.HasPrefix(name, pattern+domain.DeckSeparator)
}
