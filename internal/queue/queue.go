// Package queue decides which cards are studied next and in what order.
//
// Queues are built from a snapshot of cards and never consume anything
// themselves, so building twice from the same snapshot yields the same order.
package queue

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/domain"
)

// Mix controls how new cards are combined with reviews.
type Mix int

const (
	ReviewsFirst Mix = iota
	NewFirst
	Interleave
)

func (m Mix) String() string {
	switch m {
	case ReviewsFirst:
		return "reviews_first"
	case NewFirst:
		return "new_first"
	case Interleave:
		return "interleave"
	}
	return fmt.Sprintf("Mix(%d)", int(m))
}

// ParseMix reads a mix policy name. The empty string selects ReviewsFirst.
func ParseMix(s string) (Mix, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reviews_first":
		return ReviewsFirst, nil
	case "new_first":
		return NewFirst, nil
	case "interleave", "mix":
		return Interleave, nil
	}
	return ReviewsFirst, fmt.Errorf("unknown new/review mix %q: %w", s, domain.ErrInvalidArgument)
}

// DefaultLearnAheadSecs is how far ahead learning cards may be shown once
// nothing else is due.
const DefaultLearnAheadSecs = 1200

// Options are the request-scoped inputs to Build.
type Options struct {
	Today int
	// Now is the current time in epoch seconds.
	Now            int64
	LearnAheadSecs int64
	Mix            Mix
	// Limits holds the remaining allowance of every deck in the tree,
	// including ancestors of the selected deck.
	Limits map[int64]deck.Limit
}

// Queues is the ordered study queue for one selected deck.
type Queues struct {
	// Learning holds intraday learning and preview cards due now.
	Learning []domain.Card
	// Main holds interday learning, review and new cards within limits.
	Main []domain.Card
	// LearnAhead holds intraday learning cards due within the learn-ahead
	// window. They are only shown once Main is exhausted.
	LearnAhead []domain.Card
	Counts     domain.Counts

	learnCutoff int64
}

// Build gathers the study queue for the deck rootID and its descendants
// from cards. Cards outside the subtree, suspended and buried cards are
// ignored.
func Build(tree *deck.Tree, rootID int64, cards []domain.Card, opts Options) (*Queues, error) {
	if _, ok := tree.Deck(rootID); !ok {
		return nil, fmt.Errorf("deck %d: %w", rootID, domain.ErrNotFound)
	}
	q := &Queues{learnCutoff: opts.Now + opts.LearnAheadSecs}

	decks := tree.Preorder(rootID)
	type bucket struct {
		newCards []domain.Card
		dayLearn []domain.Card
		reviews  []domain.Card
	}
	buckets := make(map[int64]*bucket, len(decks))
	for _, id := range decks {
		buckets[id] = &bucket{}
	}

	for _, c := range cards {
		b, ok := buckets[c.DeckID]
		if !ok {
			continue
		}
		switch c.Queue {
		case domain.QueueLearning, domain.QueuePreview:
			switch {
			case c.Due <= opts.Now:
				q.Learning = append(q.Learning, c)
			case c.Due <= q.learnCutoff:
				q.LearnAhead = append(q.LearnAhead, c)
			}
		case domain.QueueDayLearnRelearn:
			if c.Due <= int64(opts.Today) {
				b.dayLearn = append(b.dayLearn, c)
			}
		case domain.QueueReview:
			if c.Due <= int64(opts.Today) {
				b.reviews = append(b.reviews, c)
			}
		case domain.QueueNew:
			b.newCards = append(b.newCards, c)
		}
	}
	slices.SortFunc(q.Learning, byDue)
	slices.SortFunc(q.LearnAhead, byDue)

	remaining := make(map[int64]deck.Limit, len(opts.Limits))
	for id, l := range opts.Limits {
		remaining[id] = l
	}

	var newCards, dayLearn, reviews []domain.Card
	for _, id := range decks {
		b := buckets[id]
		slices.SortFunc(b.newCards, byDue)
		slices.SortFunc(b.dayLearn, byDue)
		slices.SortFunc(b.reviews, byDue)

		d, _ := tree.Deck(id)
		chain := append([]int64{id}, tree.Ancestors(id)...)

		// Interday learning shares the review limit and is taken first.
		n := takeable(d, chain, remaining, len(b.dayLearn)+len(b.reviews), reviewOf)
		nLearn := min(n, len(b.dayLearn))
		dayLearn = append(dayLearn, b.dayLearn[:nLearn]...)
		reviews = append(reviews, b.reviews[:n-nLearn]...)
		consume(d, chain, remaining, n, func(l *deck.Limit, k int) { l.Review -= k })

		n = takeable(d, chain, remaining, len(b.newCards), newOf)
		newCards = append(newCards, b.newCards[:n]...)
		consume(d, chain, remaining, n, func(l *deck.Limit, k int) { l.New -= k })
	}
	slices.SortStableFunc(reviews, byDue)

	q.Counts.New = len(newCards)
	q.Counts.Review = len(reviews)
	q.Counts.Learning = len(q.Learning) + len(q.LearnAhead) + len(dayLearn)

	due := append(dayLearn, reviews...)
	switch opts.Mix {
	case NewFirst:
		q.Main = append(newCards, due...)
	case Interleave:
		q.Main = interleave(due, newCards)
	default:
		q.Main = append(due, newCards...)
	}
	return q, nil
}

func reviewOf(l deck.Limit) int { return l.Review }
func newOf(l deck.Limit) int    { return l.New }

// takeable returns how many of want cards the deck may take given its own
// and every ancestor's remaining allowance. Filtered decks take everything.
func takeable(d *domain.Deck, chain []int64, remaining map[int64]deck.Limit, want int, field func(deck.Limit) int) int {
	if d.IsFiltered() {
		return want
	}
	n := want
	for _, id := range chain {
		l, ok := remaining[id]
		if !ok || l.Unlimited {
			continue
		}
		n = min(n, max(field(l), 0))
	}
	return n
}

func consume(d *domain.Deck, chain []int64, remaining map[int64]deck.Limit, n int, dec func(*deck.Limit, int)) {
	if d.IsFiltered() || n == 0 {
		return
	}
	for _, id := range chain {
		l, ok := remaining[id]
		if !ok || l.Unlimited {
			continue
		}
		dec(&l, n)
		remaining[id] = l
	}
}

// interleave spreads b evenly through a, starting with a.
func interleave(a, b []domain.Card) []domain.Card {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]domain.Card, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		if j >= len(b) || (i < len(a) && i*len(b) <= j*len(a)) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	return out
}

func byDue(a, b domain.Card) int {
	if c := cmp.Compare(a.Due, b.Due); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Next returns the card to study now, or nil when nothing is due.
func (q *Queues) Next() *domain.Card {
	cards := q.Fetch(1, false)
	if len(cards) == 0 {
		return nil
	}
	return &cards[0]
}

// Fetch returns up to limit cards in study order: learning cards due now,
// then the main queue, then cards inside the learn-ahead window. With
// intradayLearningOnly set, the main queue is skipped. A limit of zero or
// less returns everything.
func (q *Queues) Fetch(limit int, intradayLearningOnly bool) []domain.Card {
	var out []domain.Card
	out = append(out, q.Learning...)
	if !intradayLearningOnly {
		out = append(out, q.Main...)
	}
	out = append(out, q.LearnAhead...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// LearnCutoff is the epoch second up to which learning cards count as due.
func (q *Queues) LearnCutoff() int64 {
	return q.learnCutoff
}

// CollapseLearning adjusts the due time of a learning card that was just
// answered. When only learning cards remain, the card would otherwise come
// straight back ahead of another waiting card, so it is placed one second
// after the next one instead.
func (q *Queues) CollapseLearning(cardID int64, newDue int64) int64 {
	for _, c := range q.Main {
		if c.ID != cardID {
			return newDue
		}
	}
	var front *domain.Card
	for _, list := range [][]domain.Card{q.Learning, q.LearnAhead} {
		for i := range list {
			c := &list[i]
			if c.ID == cardID {
				continue
			}
			if front == nil || byDue(*c, *front) < 0 {
				front = c
			}
		}
	}
	if front == nil {
		return newDue
	}
	if front.Due >= newDue && front.Due < q.learnCutoff {
		return front.Due + 1
	}
	return newDue
}
