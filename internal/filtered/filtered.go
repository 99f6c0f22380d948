package filtered

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
)

// Overlay moves cards in and out of filtered decks. It works on whatever
// Store it is given, normally the transaction of the caller.
type Overlay struct {
	store domain.Store
}

// New creates an Overlay over s.
func New(s domain.Store) *Overlay {
	return &Overlay{store: s}
}

func (o *Overlay) filteredDeck(ctx context.Context, deckID int64) (*domain.Deck, error) {
	d, err := o.store.Deck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
	}
	if !d.IsFiltered() {
		return nil, fmt.Errorf("deck %d (%s): %w", deckID, d.Name, domain.ErrNotFiltered)
	}
	return d, nil
}

// Empty returns every card in the filtered deck to its home deck and due.
// Learning progress made while filtered is kept. It returns the number of
// cards moved.
func (o *Overlay) Empty(ctx context.Context, deckID int64, now time.Time) (int, error) {
	if _, err := o.filteredDeck(ctx, deckID); err != nil {
		return 0, err
	}
	cards, err := o.store.Cards(ctx, domain.CardFilter{DeckIDs: []int64{deckID}})
	if err != nil {
		return 0, err
	}
	for i := range cards {
		c := &cards[i]
		c.RemoveFromFiltered()
		c.Modified = now
		if err := o.store.UpdateCard(ctx, c); err != nil {
			return 0, err
		}
	}
	return len(cards), nil
}

// Rebuild empties the filtered deck and refills it from its search, order
// and limit. Suspended and buried cards, and cards already in another
// filtered deck, are never pulled in. It returns the number of cards moved in.
func (o *Overlay) Rebuild(ctx context.Context, deckID int64, today int, now time.Time) (int, error) {
	d, err := o.filteredDeck(ctx, deckID)
	if err != nil {
		return 0, err
	}
	search, err := ParseSearch(d.Filtered.Search)
	if err != nil {
		return 0, err
	}
	if _, err := o.Empty(ctx, deckID, now); err != nil {
		return 0, err
	}

	decks, err := o.store.Decks(ctx)
	if err != nil {
		return 0, err
	}
	byID := make(map[int64]domain.Deck, len(decks))
	for _, dk := range decks {
		byID[dk.ID] = dk
	}
	env := Env{
		Today:    today,
		Now:      now.Unix(),
		DeckName: func(id int64) string { return byID[id].Name },
	}

	all, err := o.store.Cards(ctx, domain.CardFilter{})
	if err != nil {
		return 0, err
	}
	var candidates []domain.Card
	for _, c := range all {
		if home := byID[c.DeckID]; c.InFiltered() || home.IsFiltered() {
			continue
		}
		if c.Queue == domain.QueueSuspended || c.Queue.Buried() {
			continue
		}
		if search.Match(&c, env) {
			candidates = append(candidates, c)
		}
	}
	Sort(candidates, d.Filtered.Order, today, deckID)
	if len(candidates) > d.Filtered.Limit {
		candidates = candidates[:d.Filtered.Limit]
	}

	for i := range candidates {
		c := &candidates[i]
		c.MoveIntoFiltered(deckID, i)
		c.Modified = now
		if err := o.store.UpdateCard(ctx, c); err != nil {
			return 0, err
		}
	}
	return len(candidates), nil
}

// Sort orders candidate cards for a filtered deck. The random order is
// stable for a given deck and day.
func Sort(cards []domain.Card, order domain.FilteredOrder, today int, deckID int64) {
	byID := func(a, b domain.Card) int { return cmp.Compare(a.ID, b.ID) }
	switch order {
	case domain.OrderRandom:
		slices.SortFunc(cards, byID)
		r := rand.New(rand.NewPCG(uint64(deckID), uint64(today)))
		r.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	case domain.OrderIntervalsAsc:
		slices.SortFunc(cards, func(a, b domain.Card) int {
			return cmp.Or(cmp.Compare(a.Interval, b.Interval), byID(a, b))
		})
	case domain.OrderIntervalsDesc:
		slices.SortFunc(cards, func(a, b domain.Card) int {
			return cmp.Or(cmp.Compare(b.Interval, a.Interval), byID(a, b))
		})
	case domain.OrderMostLapses:
		slices.SortFunc(cards, func(a, b domain.Card) int {
			return cmp.Or(cmp.Compare(b.Lapses, a.Lapses), byID(a, b))
		})
	case domain.OrderAdded:
		slices.SortFunc(cards, func(a, b domain.Card) int {
			return cmp.Or(cmp.Compare(a.NoteID, b.NoteID), byID(a, b))
		})
	case domain.OrderReverseAdded:
		slices.SortFunc(cards, func(a, b domain.Card) int {
			return cmp.Or(cmp.Compare(b.NoteID, a.NoteID), byID(b, a))
		})
	case domain.OrderRelativeOverdue:
		slices.SortFunc(cards, func(a, b domain.Card) int {
			return cmp.Or(cmp.Compare(overdueRatio(b, today), overdueRatio(a, today)), byID(a, b))
		})
	default:
		// Due order: anything with a day or time schedule first, new cards last
		// in position order.
		slices.SortFunc(cards, func(a, b domain.Card) int {
			return cmp.Or(
				cmp.Compare(isNew(a), isNew(b)),
				cmp.Compare(a.Due, b.Due),
				byID(a, b),
			)
		})
	}
}

func isNew(c domain.Card) int {
	if c.Queue == domain.QueueNew {
		return 1
	}
	return 0
}

// overdueRatio is how late a review is relative to its interval. Cards
// that are not reviews sort after every review.
func overdueRatio(c domain.Card, today int) float64 {
	if c.Queue != domain.QueueReview || c.Interval <= 0 {
		return math.Inf(-1)
	}
	return float64(int64(today)-c.Due) / float64(c.Interval)
}
