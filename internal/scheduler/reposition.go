package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/conorfennell/knolsched/internal/domain"
)

// Reposition moves new cards to consecutive places in the new queue,
// starting at start and step apart, in the order of ids. Cards of one note
// share a place. With randomize the notes are shuffled first. With shift the
// other new cards at or after start move back to make room. Cards that are
// not new are left alone. It returns the number of cards moved.
func (s *Scheduler) Reposition(ctx context.Context, ids []int64, start, step int, randomize, shift bool) (int, error) {
	if start < 0 || step < 1 {
		return 0, fmt.Errorf("bad position start %d step %d: %w", start, step, domain.ErrInvalidArgument)
	}
	var n int
	err := s.mutate(ctx, "reposition", func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		n, err = s.reposition(ctx, st, e, ids, start, step, randomize, shift)
		return err
	})
	if err == nil && n > 0 {
		s.log.Info("Repositioned new cards", "count", n, "start", start, "step", step, "randomize", randomize, "shift", shift)
	}
	return n, err
}

// RandomizeDeck shuffles the new cards of a deck into positions 1 onwards.
func (s *Scheduler) RandomizeDeck(ctx context.Context, deckID int64) (int, error) {
	return s.sortDeck(ctx, "randomize deck", deckID, true)
}

// OrderDeck puts the new cards of a deck back into the order they were
// added, at positions 1 onwards.
func (s *Scheduler) OrderDeck(ctx context.Context, deckID int64) (int, error) {
	return s.sortDeck(ctx, "order deck", deckID, false)
}

func (s *Scheduler) sortDeck(ctx context.Context, op string, deckID int64, randomize bool) (int, error) {
	var n int
	err := s.mutate(ctx, op, func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		if _, err := s.loadDeck(ctx, st, deckID); err != nil {
			return err
		}
		cards, err := st.Cards(ctx, domain.CardFilter{DeckIDs: []int64{deckID}})
		if err != nil {
			return err
		}
		var ids []int64
		for _, c := range cards {
			if c.Type == domain.TypeNew {
				ids = append(ids, c.ID)
			}
		}
		slices.Sort(ids)
		n, err = s.reposition(ctx, st, e, ids, 1, 1, randomize, false)
		return err
	})
	return n, err
}

func (s *Scheduler) reposition(ctx context.Context, st domain.Store, e env, ids []int64, start, step int, randomize, shift bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cards, err := st.Cards(ctx, domain.CardFilter{IDs: ids})
	if err != nil {
		return 0, err
	}
	byID := make(map[int64]domain.Card, len(cards))
	for _, c := range cards {
		byID[c.ID] = c
	}

	var notes, selected []int64
	seen := make(map[int64]bool)
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return 0, fmt.Errorf("card %d: %w", id, domain.ErrNotFound)
		}
		if c.Type != domain.TypeNew {
			continue
		}
		selected = append(selected, id)
		if !seen[c.NoteID] {
			seen[c.NoteID] = true
			notes = append(notes, c.NoteID)
		}
	}
	if len(notes) == 0 {
		return 0, nil
	}
	if randomize {
		rng := rand.New(rand.NewPCG(uint64(e.today), uint64(len(ids))))
		rng.Shuffle(len(notes), func(i, j int) { notes[i], notes[j] = notes[j], notes[i] })
	}
	place := make(map[int64]int64, len(notes))
	for i, nid := range notes {
		place[nid] = int64(start + i*step)
	}

	if shift {
		high := int64(start + (len(notes)-1)*step)
		if err := s.shiftNewCards(ctx, st, e, selected, int64(start), high); err != nil {
			return 0, err
		}
	}
	return s.eachCard(ctx, st, e, selected, func(c *domain.Card) (bool, error) {
		return setPosition(c, place[c.NoteID]), nil
	})
}

// shiftNewCards moves the new cards outside skip that sit at or after start
// far enough back that the lowest of them lands right after high.
func (s *Scheduler) shiftNewCards(ctx context.Context, st domain.Store, e env, skip []int64, start, high int64) error {
	all, err := st.Cards(ctx, domain.CardFilter{})
	if err != nil {
		return err
	}
	var ids []int64
	low := int64(-1)
	for i := range all {
		c := &all[i]
		if c.Type != domain.TypeNew || slices.Contains(skip, c.ID) {
			continue
		}
		if pos := c.OriginalOrCurrentDue(); pos >= start {
			ids = append(ids, c.ID)
			if low < 0 || pos < low {
				low = pos
			}
		}
	}
	if low < 0 {
		return nil
	}
	by := high - low + 1
	if by <= 0 {
		return nil
	}
	_, err = s.eachCard(ctx, st, e, ids, func(c *domain.Card) (bool, error) {
		return setPosition(c, c.OriginalOrCurrentDue()+by), nil
	})
	return err
}

// setPosition puts a new card at pos in its home deck's new queue and
// reports whether anything changed.
func setPosition(c *domain.Card, pos int64) bool {
	if c.OriginalOrCurrentDue() == pos {
		return false
	}
	if c.InFiltered() {
		c.OriginalDue = pos
	} else {
		c.Due = pos
	}
	return true
}
