package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/filtered"
	"github.com/google/uuid"
)

// UnburyScope selects which buried cards Unbury restores.
type UnburyScope int

const (
	UnburyAll UnburyScope = iota
	// UnburyUserOnly restores manually buried cards.
	UnburyUserOnly
	// UnburySchedOnly restores cards buried because a sibling was answered.
	UnburySchedOnly
)

func (u UnburyScope) String() string {
	switch u {
	case UnburyAll:
		return "all"
	case UnburyUserOnly:
		return "user"
	case UnburySchedOnly:
		return "sched"
	}
	return fmt.Sprintf("UnburyScope(%d)", int(u))
}

// ParseUnburyScope reads "all", "user" or "sched". The empty string is "all".
func ParseUnburyScope(s string) (UnburyScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return UnburyAll, nil
	case "user", "manual":
		return UnburyUserOnly, nil
	case "sched", "siblings":
		return UnburySchedOnly, nil
	}
	return UnburyAll, fmt.Errorf("unknown unbury scope %q: %w", s, domain.ErrInvalidArgument)
}

func (u UnburyScope) matches(q domain.Queue) bool {
	switch u {
	case UnburyUserOnly:
		return q == domain.QueueManuallyBuried
	case UnburySchedOnly:
		return q == domain.QueueSiblingBuried
	}
	return q.Buried()
}

// eachCard loads every card in ids and applies fn. Cards fn reports as
// changed are validated and saved. It returns the number saved.
func (s *Scheduler) eachCard(ctx context.Context, st domain.Store, e env, ids []int64, fn func(c *domain.Card) (bool, error)) (int, error) {
	n := 0
	for _, id := range ids {
		c, err := s.loadCard(ctx, st, id)
		if err != nil {
			return n, err
		}
		changed, err := fn(c)
		if err != nil {
			return n, err
		}
		if !changed {
			continue
		}
		c.Modified = e.now
		if err := c.Validate(); err != nil {
			return n, err
		}
		if err := st.UpdateCard(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Bury hides cards until they are unburied or the day rolls over. Suspended
// cards are left alone.
func (s *Scheduler) Bury(ctx context.Context, ids []int64, manual bool) (int, error) {
	return s.byCards(ctx, "bury", ids, buryAs(manual))
}

// BuryNotes buries every card of the given notes by hand.
func (s *Scheduler) BuryNotes(ctx context.Context, noteIDs []int64) (int, error) {
	return s.byNotes(ctx, "bury notes", noteIDs, buryAs(true))
}

func buryAs(manual bool) func(c *domain.Card) (bool, error) {
	target := domain.QueueSiblingBuried
	if manual {
		target = domain.QueueManuallyBuried
	}
	return func(c *domain.Card) (bool, error) {
		if c.Queue == domain.QueueSuspended || c.Queue == target {
			return false, nil
		}
		c.Queue = target
		return true, nil
	}
}

// byCards applies fn to the cards in ids as one mutation.
func (s *Scheduler) byCards(ctx context.Context, op string, ids []int64, fn func(c *domain.Card) (bool, error)) (int, error) {
	var n int
	err := s.mutate(ctx, op, func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		n, err = s.eachCard(ctx, st, e, ids, fn)
		return err
	})
	return n, err
}

// byNotes applies fn to every card of the notes in noteIDs as one mutation.
func (s *Scheduler) byNotes(ctx context.Context, op string, noteIDs []int64, fn func(c *domain.Card) (bool, error)) (int, error) {
	if len(noteIDs) == 0 {
		return 0, nil
	}
	var n int
	err := s.mutate(ctx, op, func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		cards, err := st.Cards(ctx, domain.CardFilter{NoteIDs: noteIDs})
		if err != nil {
			return err
		}
		ids := make([]int64, len(cards))
		for i, c := range cards {
			ids[i] = c.ID
		}
		n, err = s.eachCard(ctx, st, e, ids, fn)
		return err
	})
	return n, err
}

// Unbury restores buried cards of scope in deckID and its subdecks.
func (s *Scheduler) Unbury(ctx context.Context, deckID int64, scope UnburyScope) (int, error) {
	var n int
	err := s.mutate(ctx, "unbury", func(ctx context.Context, st domain.Store) error {
		snap, err := s.snapshot(ctx, st)
		if err != nil {
			return err
		}
		ids := snap.tree.Preorder(deckID)
		if len(ids) == 0 {
			return fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
		}
		n, err = s.unbury(ctx, st, snap.env, ids, scope)
		return err
	})
	return n, err
}

func (s *Scheduler) unbury(ctx context.Context, st domain.Store, e env, deckIDs []int64, scope UnburyScope) (int, error) {
	buried, err := st.Cards(ctx, domain.CardFilter{
		DeckIDs: deckIDs,
		Queues:  []domain.Queue{domain.QueueSiblingBuried, domain.QueueManuallyBuried},
	})
	if err != nil {
		return 0, err
	}
	var ids []int64
	for _, c := range buried {
		if scope.matches(c.Queue) {
			ids = append(ids, c.ID)
		}
	}
	return s.eachCard(ctx, st, e, ids, func(c *domain.Card) (bool, error) {
		c.RestoreQueueFromType()
		return true, nil
	})
}

// UnburyOnRollover restores every buried card once per day. It returns the
// number of cards restored, which is zero when today was already handled.
func (s *Scheduler) UnburyOnRollover(ctx context.Context) (int, error) {
	var n int
	err := s.mutate(ctx, "unbury on rollover", func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		info, err := st.Collection(ctx)
		if err != nil {
			return err
		}
		if info.LastUnburiedDay >= e.today {
			return nil
		}
		n, err = s.unbury(ctx, st, e, nil, UnburyAll)
		if err != nil {
			return err
		}
		info.LastUnburiedDay = e.today
		info.Modified = e.now
		return st.UpdateCollection(ctx, info)
	})
	if err == nil && n > 0 {
		s.log.Info("Unburied cards for the new day", "count", n)
	}
	return n, err
}

// Suspend removes cards from study until they are unsuspended.
func (s *Scheduler) Suspend(ctx context.Context, ids []int64) (int, error) {
	return s.byCards(ctx, "suspend", ids, suspendCard)
}

// SuspendNotes suspends every card of the given notes.
func (s *Scheduler) SuspendNotes(ctx context.Context, noteIDs []int64) (int, error) {
	return s.byNotes(ctx, "suspend notes", noteIDs, suspendCard)
}

func suspendCard(c *domain.Card) (bool, error) {
	if c.Queue == domain.QueueSuspended {
		return false, nil
	}
	c.Queue = domain.QueueSuspended
	return true, nil
}

// Unsuspend returns suspended cards to the queue their type implies.
func (s *Scheduler) Unsuspend(ctx context.Context, ids []int64) (int, error) {
	return s.byCards(ctx, "unsuspend", ids, func(c *domain.Card) (bool, error) {
		if c.Queue != domain.QueueSuspended {
			return false, nil
		}
		c.RestoreQueueFromType()
		return true, nil
	})
}

// nextPosition returns the position after the last new card.
func nextPosition(ctx context.Context, st domain.Store) (int64, error) {
	cards, err := st.Cards(ctx, domain.CardFilter{})
	if err != nil {
		return 0, err
	}
	var last int64
	for i := range cards {
		c := &cards[i]
		if c.Type == domain.TypeNew {
			last = max(last, c.OriginalOrCurrentDue())
		}
	}
	return last + 1, nil
}

// Forget turns cards back into new cards. With restorePosition the card
// goes back to the position it had before it was first studied; otherwise it
// goes to the end of the new queue. resetCounts clears reps and lapses.
func (s *Scheduler) Forget(ctx context.Context, ids []int64, restorePosition, resetCounts bool) (int, error) {
	var n int
	err := s.mutate(ctx, "forget", func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		pos, err := nextPosition(ctx, st)
		if err != nil {
			return err
		}
		n, err = s.eachCard(ctx, st, e, ids, func(c *domain.Card) (bool, error) {
			last := domain.DaysInterval(c.Interval)
			c.RemoveFromFiltered()
			if restorePosition && c.OriginalPosition > 0 {
				c.Due = c.OriginalPosition
			} else {
				c.Due = pos
				pos++
			}
			c.Type = domain.TypeNew
			c.Queue = domain.QueueNew
			c.Interval = 0
			c.EaseFactor = 0
			c.Remaining = 0
			c.OriginalPosition = 0
			if resetCounts {
				c.Reps = 0
				c.Lapses = 0
			}
			return true, st.AppendReview(ctx, &domain.ReviewLog{
				CardID:       c.ID,
				AnsweredAt:   e.now,
				LastInterval: last,
				Kind:         domain.KindManual,
			})
		})
		return err
	})
	if err == nil {
		s.eta.Invalidate()
	}
	return n, err
}

// DayRange is an inclusive range of days from today, as used by SetDueDate.
type DayRange struct {
	Min, Max int
	// SetInterval also resets the interval of review cards to the new delay.
	SetInterval bool
}

// ParseDayRange reads "N", "N-M" and either form followed by "!".
func ParseDayRange(s string) (DayRange, error) {
	var r DayRange
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutSuffix(s, "!"); ok {
		r.SetInterval = true
		s = rest
	}
	lo, hi, isRange := strings.Cut(s, "-")
	var err error
	if r.Min, err = strconv.Atoi(strings.TrimSpace(lo)); err != nil {
		return DayRange{}, fmt.Errorf("bad day range %q: %w", s, domain.ErrInvalidArgument)
	}
	r.Max = r.Min
	if isRange {
		if r.Max, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return DayRange{}, fmt.Errorf("bad day range %q: %w", s, domain.ErrInvalidArgument)
		}
	}
	if r.Min < 0 || r.Max < r.Min {
		return DayRange{}, fmt.Errorf("bad day range %q: %w", s, domain.ErrInvalidArgument)
	}
	return r, nil
}

// Reschedule turns cards into review cards due between minDays and maxDays
// from today, with the interval set to the chosen delay.
func (s *Scheduler) Reschedule(ctx context.Context, ids []int64, minDays, maxDays int) (int, error) {
	if minDays < 0 || maxDays < minDays {
		return 0, fmt.Errorf("bad day range %d-%d: %w", minDays, maxDays, domain.ErrInvalidArgument)
	}
	return s.setDue(ctx, "reschedule", ids, DayRange{Min: minDays, Max: maxDays, SetInterval: true}, "", "")
}

// SetDueDate makes cards due within dayRange (see ParseDayRange). When
// configKey is not empty the range string is remembered under that key.
func (s *Scheduler) SetDueDate(ctx context.Context, ids []int64, dayRange, configKey string) (int, error) {
	r, err := ParseDayRange(dayRange)
	if err != nil {
		return 0, err
	}
	return s.setDue(ctx, "set due date", ids, r, dayRange, configKey)
}

func (s *Scheduler) setDue(ctx context.Context, op string, ids []int64, r DayRange, raw, configKey string) (int, error) {
	var n int
	err := s.mutate(ctx, op, func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		rng := rand.New(rand.NewPCG(uint64(e.today), uint64(len(ids))))
		n, err = s.eachCard(ctx, st, e, ids, func(c *domain.Card) (bool, error) {
			days := r.Min + rng.IntN(r.Max-r.Min+1)
			last := domain.DaysInterval(c.Interval)
			ease := c.EaseFactor
			if ease == 0 {
				d, err := s.loadDeck(ctx, st, c.HomeDeckID())
				if err != nil {
					return false, err
				}
				cfg, err := s.resolveConfig(ctx, st, d)
				if err != nil {
					return false, err
				}
				ease = cfg.New.InitialEase
			}
			graduated := c.Type == domain.TypeReview || c.Type == domain.TypeRelearning
			leaveNew(c)
			c.LeaveFilteredForReschedule()
			if !graduated || r.SetInterval {
				c.Interval = max(days, 1)
			}
			c.Type = domain.TypeReview
			c.Queue = domain.QueueReview
			c.Due = int64(e.today + days)
			c.EaseFactor = ease
			c.Remaining = 0
			return true, st.AppendReview(ctx, &domain.ReviewLog{
				CardID:       c.ID,
				AnsweredAt:   e.now,
				Interval:     domain.DaysInterval(c.Interval),
				LastInterval: last,
				EaseFactor:   c.EaseFactor,
				Kind:         domain.KindRescheduled,
			})
		})
		if err != nil {
			return err
		}
		if configKey != "" {
			return st.SetConfigValue(ctx, configKey, raw)
		}
		return nil
	})
	if err == nil {
		s.eta.Invalidate()
	}
	return n, err
}

// RebuildFiltered refills a filtered deck from its search. It returns the
// number of cards pulled in.
func (s *Scheduler) RebuildFiltered(ctx context.Context, deckID int64) (int, error) {
	var n int
	err := s.mutate(ctx, "rebuild filtered deck", func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		n, err = filtered.New(st).Rebuild(ctx, deckID, e.today, e.now)
		return err
	})
	if err == nil {
		s.log.Info("Rebuilt filtered deck", "deck_id", deckID, "cards", n)
	}
	return n, err
}

// EmptyFiltered returns every card in a filtered deck to its home deck.
func (s *Scheduler) EmptyFiltered(ctx context.Context, deckID int64) (int, error) {
	var n int
	err := s.mutate(ctx, "empty filtered deck", func(ctx context.Context, st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		n, err = filtered.New(st).Empty(ctx, deckID, e.now)
		return err
	})
	if err == nil {
		s.log.Info("Emptied filtered deck", "deck_id", deckID, "cards", n)
	}
	return n, err
}

// ExtendLimits raises today's new and review allowance of a deck and its
// subdecks. Negative deltas lower it again.
func (s *Scheduler) ExtendLimits(ctx context.Context, deckID int64, newDelta, reviewDelta int) error {
	return s.mutate(ctx, "extend limits", func(ctx context.Context, st domain.Store) error {
		snap, err := s.snapshot(ctx, st)
		if err != nil {
			return err
		}
		ids := snap.tree.Preorder(deckID)
		if len(ids) == 0 {
			return fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
		}
		for _, id := range ids {
			d, err := s.loadDeck(ctx, st, id)
			if err != nil {
				return err
			}
			if d.IsFiltered() {
				continue
			}
			d.NewToday.Add(snap.env.today, -newDelta)
			d.ReviewToday.Add(snap.env.today, -reviewDelta)
			d.Modified = snap.env.now
			if err := st.UpdateDeck(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// CurrentSchedulerVersion is the scheduler version this package implements.
const CurrentSchedulerVersion = 2

// UpgradeScheduler converts a collection from the legacy scheduler. It
// changes the schema, so it fails with domain.ErrSchemaChangeRequired until
// the caller confirms. It returns the number of cards converted.
func (s *Scheduler) UpgradeScheduler(ctx context.Context, confirmed bool) (int, error) {
	var (
		n        int
		upgraded bool
	)
	err := s.mutate(ctx, "upgrade scheduler", func(ctx context.Context, st domain.Store) error {
		info, err := st.Collection(ctx)
		if err != nil {
			return err
		}
		if info == nil {
			return fmt.Errorf("collection not initialized: %w", domain.ErrNotFound)
		}
		if info.SchedulerVersion >= CurrentSchedulerVersion {
			return nil
		}
		if !confirmed {
			return fmt.Errorf("upgrading from scheduler v%d: %w", info.SchedulerVersion, domain.ErrSchemaChangeRequired)
		}
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		cards, err := st.Cards(ctx, domain.CardFilter{})
		if err != nil {
			return err
		}
		for i := range cards {
			c := &cards[i]
			changed := false
			// The legacy scheduler kept lapsed cards typed as reviews while relearning.
			if c.Type == domain.TypeReview && (c.Queue == domain.QueueLearning || c.Queue == domain.QueueDayLearnRelearn) {
				c.Type = domain.TypeRelearning
				changed = true
			}
			if c.InFiltered() && c.Queue != domain.QueueNew && c.Queue != domain.QueueReview {
				c.RemoveFromFiltered()
				changed = true
			}
			if !changed {
				continue
			}
			c.Modified = e.now
			if err := st.UpdateCard(ctx, c); err != nil {
				return err
			}
			n++
		}
		info.SchedulerVersion = CurrentSchedulerVersion
		info.GUID = uuid.New()
		info.SchemaModified = e.now
		info.Modified = e.now
		upgraded = true
		return st.UpdateCollection(ctx, info)
	})
	if upgraded && err == nil {
		s.log.Info("Scheduler upgraded", "version", CurrentSchedulerVersion, "cards_converted", n)
	}
	return n, err
}
