package scheduler

import (
	"context"
	"fmt"

	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/eta"
	"github.com/conorfennell/knolsched/internal/queue"
)

// Today returns the current collection day.
func (s *Scheduler) Today(ctx context.Context) (int, error) {
	var today int
	err := s.read(func(st domain.Store) error {
		e, err := s.env(ctx, st)
		today = e.today
		return err
	})
	return today, err
}

func (s *Scheduler) queues(ctx context.Context, deckID int64) (*queue.Queues, error) {
	var q *queue.Queues
	err := s.read(func(st domain.Store) error {
		snap, err := s.snapshot(ctx, st)
		if err != nil {
			return err
		}
		q, err = s.buildQueues(ctx, st, snap, deckID)
		return err
	})
	return q, err
}

// Fetch returns up to limit cards from deckID and its subdecks in study
// order. It never changes anything, so repeated calls return the same cards.
func (s *Scheduler) Fetch(ctx context.Context, deckID int64, limit int, intradayLearningOnly bool) ([]domain.Card, error) {
	q, err := s.queues(ctx, deckID)
	if err != nil {
		return nil, err
	}
	return q.Fetch(limit, intradayLearningOnly), nil
}

// Next returns the card to study now, or nil when nothing is due.
func (s *Scheduler) Next(ctx context.Context, deckID int64) (*domain.Card, error) {
	q, err := s.queues(ctx, deckID)
	if err != nil {
		return nil, err
	}
	return q.Next(), nil
}

// Counts returns the new, learning and review cards left today in deckID
// and its subdecks, after limits.
func (s *Scheduler) Counts(ctx context.Context, deckID int64) (domain.Counts, error) {
	q, err := s.queues(ctx, deckID)
	if err != nil {
		return domain.Counts{}, err
	}
	return q.Counts, nil
}

// Card loads a single card.
func (s *Scheduler) Card(ctx context.Context, id int64) (*domain.Card, error) {
	var c *domain.Card
	err := s.read(func(st domain.Store) error {
		var err error
		c, err = s.loadCard(ctx, st, id)
		return err
	})
	return c, err
}

// CountCards counts cards matching filter, in any queue.
func (s *Scheduler) CountCards(ctx context.Context, filter domain.CardFilter) (int, error) {
	var n int
	err := s.read(func(st domain.Store) error {
		var err error
		n, err = st.CountCards(ctx, filter)
		return err
	})
	return n, err
}

// Tree returns the deck hierarchy under a nameless root. With withCounts
// set, every node carries the same limited counts Counts reports for it.
func (s *Scheduler) Tree(ctx context.Context, withCounts bool) (*deck.Node, error) {
	var root *deck.Node
	err := s.read(func(st domain.Store) error {
		snap, err := s.snapshot(ctx, st)
		if err != nil {
			return err
		}
		var counts map[int64]domain.Counts
		if withCounts {
			if counts, err = s.treeCounts(ctx, st, snap); err != nil {
				return err
			}
		}
		root = deck.BuildTree(snap.tree, counts)
		return nil
	})
	return root, err
}

// treeCounts builds the study queue of every deck that has anything due in
// its subtree and keeps its counts.
func (s *Scheduler) treeCounts(ctx context.Context, st domain.Store, snap *snapshot) (map[int64]domain.Counts, error) {
	learnAhead, err := s.learnAheadSecs(ctx, st)
	if err != nil {
		return nil, err
	}
	raw, err := st.DueCounts(ctx, snap.env.today, snap.env.nowSecs()+learnAhead)
	if err != nil {
		return nil, fmt.Errorf("failed to count due cards: %w", err)
	}
	byDeck := make(map[int64]domain.DeckDueCounts, len(raw))
	for _, c := range raw {
		byDeck[c.DeckID] = c
	}
	due := deck.SubtreeDue(snap.tree, byDeck)

	cards, err := st.Cards(ctx, domain.CardFilter{Queues: studyQueues})
	if err != nil {
		return nil, err
	}
	opts := queue.Options{
		Today:          snap.env.today,
		Now:            snap.env.nowSecs(),
		LearnAheadSecs: learnAhead,
		Limits:         snap.limits,
	}
	counts := make(map[int64]domain.Counts, len(due))
	for id, n := range due {
		if n == 0 {
			continue
		}
		q, err := queue.Build(snap.tree, id, cards, opts)
		if err != nil {
			return nil, err
		}
		counts[id] = q.Counts
	}
	return counts, nil
}

// Estimate is a time-to-finish estimate for a deck.
type Estimate struct {
	Counts  domain.Counts `json:"counts"`
	Minutes int           `json:"minutes"`
	// HasHistory is false when the review log is too sparse to estimate,
	// in which case Minutes is eta.NoHistory.
	HasHistory bool `json:"has_history"`
}

// ETA estimates how many minutes the remaining cards of deckID will take.
// forceReload rereads the review log instead of using cached rates.
func (s *Scheduler) ETA(ctx context.Context, deckID int64, forceReload bool) (Estimate, error) {
	var est Estimate
	err := s.read(func(st domain.Store) error {
		snap, err := s.snapshot(ctx, st)
		if err != nil {
			return err
		}
		q, err := s.buildQueues(ctx, st, snap, deckID)
		if err != nil {
			return err
		}
		minutes, ok, err := s.eta.Estimate(ctx, q.Counts, snap.env.timing.DayCutoff(snap.env.now), forceReload)
		if err != nil {
			return err
		}
		est = Estimate{Counts: q.Counts, Minutes: minutes, HasHistory: ok}
		if !ok {
			est.Minutes = eta.NoHistory
		}
		return nil
	})
	return est, err
}
