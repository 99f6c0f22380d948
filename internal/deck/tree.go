// Package deck models the deck hierarchy and rolls per-deck counts up it.
package deck

import (
	"slices"

	"github.com/conorfennell/knolsched/internal/domain"
)

const noParent = -1

type entry struct {
	deck     domain.Deck
	parent   int
	children []int
	depth    int
}

// Tree is an arena of decks in hierarchical preorder. Parents and children
// refer to each other by index, never by pointer.
type Tree struct {
	entries []entry
	index   map[int64]int
}

// NewTree arranges decks by their "::" separated names. A deck whose parent
// name is missing becomes a root.
func NewTree(decks []domain.Deck) *Tree {
	sorted := slices.Clone(decks)
	slices.SortFunc(sorted, func(a, b domain.Deck) int {
		return slices.Compare(a.NameParts(), b.NameParts())
	})

	t := &Tree{
		entries: make([]entry, len(sorted)),
		index:   make(map[int64]int, len(sorted)),
	}
	byName := make(map[string]int, len(sorted))
	for i, d := range sorted {
		t.entries[i] = entry{deck: d, parent: noParent}
		t.index[d.ID] = i
		byName[d.Name] = i
	}
	for i := range t.entries {
		name := t.entries[i].deck.ParentName()
		if name == "" {
			continue
		}
		if p, ok := byName[name]; ok {
			t.entries[i].parent = p
			t.entries[p].children = append(t.entries[p].children, i)
		}
	}
	for i := range t.entries {
		if p := t.entries[i].parent; p != noParent {
			// Parents sort before their children, so depth is already set.
			t.entries[i].depth = t.entries[p].depth + 1
		}
	}
	return t
}

// Len returns the number of decks in the tree.
func (t *Tree) Len() int {
	return len(t.entries)
}

// Deck returns the deck with the given id.
func (t *Tree) Deck(id int64) (*domain.Deck, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return &t.entries[i].deck, true
}

// Depth returns how many ancestors the deck has.
func (t *Tree) Depth(id int64) int {
	i, ok := t.index[id]
	if !ok {
		return 0
	}
	return t.entries[i].depth
}

// Roots returns the top-level decks in order.
func (t *Tree) Roots() []int64 {
	var ids []int64
	for _, e := range t.entries {
		if e.parent == noParent {
			ids = append(ids, e.deck.ID)
		}
	}
	return ids
}

// Children returns the direct children of a deck in order.
func (t *Tree) Children(id int64) []int64 {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(t.entries[i].children))
	for _, c := range t.entries[i].children {
		ids = append(ids, t.entries[c].deck.ID)
	}
	return ids
}

// Ancestors returns the ancestors of a deck, nearest first.
func (t *Tree) Ancestors(id int64) []int64 {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	var ids []int64
	for p := t.entries[i].parent; p != noParent; p = t.entries[p].parent {
		ids = append(ids, t.entries[p].deck.ID)
	}
	return ids
}

// Preorder returns the deck and all of its descendants, parents before
// children and siblings in name order.
func (t *Tree) Preorder(id int64) []int64 {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	var ids []int64
	var walk func(int)
	walk = func(n int) {
		ids = append(ids, t.entries[n].deck.ID)
		for _, c := range t.entries[n].children {
			walk(c)
		}
	}
	walk(i)
	return ids
}

// Descendants returns every deck below id, in preorder.
func (t *Tree) Descendants(id int64) []int64 {
	ids := t.Preorder(id)
	if len(ids) == 0 {
		return nil
	}
	return ids[1:]
}
