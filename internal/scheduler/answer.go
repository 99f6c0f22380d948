package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/interval"
)

// Answer is one rating given to one card.
type Answer struct {
	CardID int64
	Rating domain.Rating
	// TakenMillis is how long the card was shown. It is capped by the deck's
	// MaxAnswerSecs before being logged.
	TakenMillis int
	// DeckID is the deck being studied. Zero means the card's own deck.
	DeckID int64
}

// AnswerResult reports what an answer did.
type AnswerResult struct {
	Card  domain.Card
	Log   domain.ReviewLog
	State interval.State
	// Leech is set when the answer made the card a leech.
	Leech bool
	// Buried lists siblings buried as a consequence of the answer.
	Buried []int64
}

// study is the loaded scheduling context of a single card.
type study struct {
	card     *domain.Card
	filtered *domain.FilteredConfig
	cfg      *domain.DeckConfig
	current  interval.State
	ictx     interval.Context
}

func (s *Scheduler) loadStudy(ctx context.Context, st domain.Store, e env, cardID int64) (*study, error) {
	c, err := s.loadCard(ctx, st, cardID)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var fc *domain.FilteredConfig
	if c.InFiltered() {
		cur, err := st.Deck(ctx, c.DeckID)
		if err != nil {
			return nil, err
		}
		if cur != nil && cur.IsFiltered() {
			fc = cur.Filtered
		}
	}
	home, err := st.Deck(ctx, c.HomeDeckID())
	if err != nil {
		return nil, err
	}
	if home == nil {
		return nil, &domain.InvalidStateError{CardID: c.ID, Queue: c.Queue, Type: c.Type, Reason: "home deck does not exist"}
	}
	cfg, err := s.resolveConfig(ctx, st, home)
	if err != nil {
		return nil, err
	}
	current, err := interval.FromCard(c, e.today, fc)
	if err != nil {
		return nil, err
	}
	ictx := interval.NewContext(cfg).WithFiltered(fc)
	ictx.SecsUntilRollover = e.timing.SecsUntilRollover(e.now)
	fuzz, err := s.fuzz(ctx, st, home.ID)
	if err != nil {
		return nil, err
	}
	if fuzz {
		f := interval.FuzzFactor(c.ID, c.Reps)
		ictx.FuzzFactor = &f
	}
	return &study{card: c, filtered: fc, cfg: cfg, current: current, ictx: ictx}, nil
}

// NextStates returns the outcome of every rating for a card without
// changing anything.
func (s *Scheduler) NextStates(ctx context.Context, cardID int64) (interval.NextStates, error) {
	var next interval.NextStates
	err := s.read(func(st domain.Store) error {
		e, err := s.env(ctx, st)
		if err != nil {
			return err
		}
		sd, err := s.loadStudy(ctx, st, e, cardID)
		if err != nil {
			return err
		}
		next, err = interval.ComputeNextStates(sd.current, sd.ictx)
		return err
	})
	return next, err
}

// NextIntervalLabel describes what rating r would schedule, e.g. "10m" or "4d".
func (s *Scheduler) NextIntervalLabel(ctx context.Context, cardID int64, r domain.Rating) (string, error) {
	if !r.Valid() {
		return "", fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(r))
	}
	next, err := s.NextStates(ctx, cardID)
	if err != nil {
		return "", err
	}
	state, err := next.For(r)
	if err != nil {
		return "", err
	}
	return interval.Label(state)
}

// Answer records a rating for a card and reschedules it.
func (s *Scheduler) Answer(ctx context.Context, a Answer) (*AnswerResult, error) {
	if !a.Rating.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(a.Rating))
	}
	var res *AnswerResult
	err := s.mutate(ctx, "answer", func(ctx context.Context, st domain.Store) error {
		var err error
		res, err = s.answer(ctx, st, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.answered.Add(1)
	s.eta.Invalidate()
	s.log.Debug("Answer recorded",
		"card_id", res.Card.ID, "rating", a.Rating.String(), "queue", res.Card.Queue.String(), "due", res.Card.Due)
	if res.Leech {
		s.log.Info("Card became a leech", "card_id", res.Card.ID, "lapses", res.Card.Lapses, "suspended", res.Card.Queue == domain.QueueSuspended)
	}
	return res, nil
}

func (s *Scheduler) answer(ctx context.Context, st domain.Store, a Answer) (*AnswerResult, error) {
	snap, err := s.snapshot(ctx, st)
	if err != nil {
		return nil, err
	}
	e := snap.env
	sd, err := s.loadStudy(ctx, st, e, a.CardID)
	if err != nil {
		return nil, err
	}
	c := sd.card
	if !c.Answerable() {
		return nil, &domain.InvalidStateError{CardID: c.ID, Queue: c.Queue, Type: c.Type, Reason: "card is not in a study queue"}
	}
	before := *c

	next, err := interval.ComputeNextState(sd.current, sd.ictx, a.Rating)
	if err != nil {
		return nil, err
	}
	leech, err := applyState(c, next, e)
	if err != nil {
		return nil, err
	}
	if _, preview := next.(interval.PreviewState); !preview {
		c.Reps++
	}

	if c.Queue == domain.QueueLearning {
		selected := a.DeckID
		if selected == 0 {
			selected = before.DeckID
		}
		q, err := s.buildQueues(ctx, st, snap, selected)
		if err != nil {
			return nil, err
		}
		c.Due = q.CollapseLearning(c.ID, c.Due)
	}
	// Learning progress made inside a filtered deck survives emptying it.
	if c.InFiltered() && (c.Queue == domain.QueueLearning || c.Queue == domain.QueueDayLearnRelearn) {
		c.OriginalDue = c.Due
	}

	if leech {
		c.AddTag(domain.LeechTag)
		if sd.cfg.Lapse.LeechAction == domain.LeechSuspend {
			c.Queue = domain.QueueSuspended
		}
	}
	c.Modified = e.now
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := st.UpdateCard(ctx, c); err != nil {
		return nil, err
	}

	entry, err := logEntry(&before, c, sd, next, a, e.now)
	if err != nil {
		return nil, err
	}
	if err := st.AppendReview(ctx, entry); err != nil {
		return nil, err
	}

	if err := s.countAnswer(ctx, st, snap, &before, e.today); err != nil {
		return nil, err
	}
	buried, err := s.burySiblings(ctx, st, c, sd.cfg, e)
	if err != nil {
		return nil, err
	}
	return &AnswerResult{Card: *c, Log: *entry, State: next, Leech: leech, Buried: buried}, nil
}

// applyState writes the scheduling state s onto the card. It reports whether
// the card became a leech.
func applyState(c *domain.Card, s interval.State, e env) (bool, error) {
	switch st := s.(type) {
	case interval.ReschedulingState:
		return applyState(c, st.Original, e)
	case interval.PreviewState:
		if st.Finished {
			c.RemoveFromFiltered()
			return false, nil
		}
		c.Queue = domain.QueuePreview
		c.Due = e.nowSecs() + int64(st.ScheduledSecs)
		return false, nil
	case interval.LearningState:
		leaveNew(c)
		c.Type = domain.TypeLearning
		c.Queue = domain.QueueLearning
		c.Due = e.nowSecs() + int64(st.ScheduledSecs)
		c.Remaining = st.RemainingSteps
		return false, nil
	case interval.RelearningState:
		c.Type = domain.TypeRelearning
		c.Queue = domain.QueueLearning
		c.Due = e.nowSecs() + int64(st.Learning.ScheduledSecs)
		c.Remaining = st.Learning.RemainingSteps
		setReview(c, st.Review)
		return st.Review.Leeched, nil
	case interval.DayLearnState:
		leech, err := applyState(c, st.Step, e)
		if err != nil {
			return false, err
		}
		c.Queue = domain.QueueDayLearnRelearn
		c.Due = int64(e.today + st.Days)
		return leech, nil
	case interval.ReviewState:
		leaveNew(c)
		c.Type = domain.TypeReview
		c.Queue = domain.QueueReview
		c.Due = int64(e.today + st.ScheduledDays)
		c.Remaining = 0
		setReview(c, st)
		c.LeaveFilteredForReschedule()
		return st.Leeched, nil
	}
	return false, fmt.Errorf("%w: cannot apply %T as an answer outcome", domain.ErrInvalidState, s)
}

// leaveNew remembers the new-queue position of a card on its first answer.
func leaveNew(c *domain.Card) {
	if c.Type == domain.TypeNew {
		c.OriginalPosition = c.OriginalOrCurrentDue()
	}
}

func setReview(c *domain.Card, r interval.ReviewState) {
	c.Interval = r.ScheduledDays
	c.EaseFactor = int(math.Round(r.EaseFactor * 1000))
	c.Lapses = r.Lapses
}

func logEntry(before, after *domain.Card, sd *study, next interval.State, a Answer, now time.Time) (*domain.ReviewLog, error) {
	ivl, err := interval.LogInterval(next)
	if err != nil {
		return nil, err
	}
	kind, err := interval.ReviewKind(sd.current)
	if err != nil {
		return nil, err
	}
	taken := min(max(a.TakenMillis, 0), sd.cfg.MaxAnswerSecs*1000)
	return &domain.ReviewLog{
		CardID:       after.ID,
		AnsweredAt:   now,
		Rating:       a.Rating,
		Interval:     ivl,
		LastInterval: lastInterval(before, sd.cfg),
		EaseFactor:   after.EaseFactor,
		TakenMillis:  taken,
		Kind:         kind,
	}, nil
}

// lastInterval is the interval the card was on before the answer.
func lastInterval(c *domain.Card, cfg *domain.DeckConfig) domain.LogInterval {
	switch c.Type {
	case domain.TypeReview, domain.TypeRelearning:
		return domain.DaysInterval(c.Interval)
	case domain.TypeLearning:
		if secs, ok := interval.Steps(cfg.New.Delays).CurrentDelay(c.Remaining); ok {
			return domain.SecsInterval(secs)
		}
	}
	return 0
}

// countAnswer bumps the daily counters of the card's deck and its ancestors.
// Interday learning counts against the review limit it was taken from.
func (s *Scheduler) countAnswer(ctx context.Context, st domain.Store, snap *snapshot, before *domain.Card, today int) error {
	var bump func(d *domain.Deck)
	switch before.Queue {
	case domain.QueueNew:
		bump = func(d *domain.Deck) { d.NewToday.Add(today, 1) }
	case domain.QueueReview, domain.QueueDayLearnRelearn:
		bump = func(d *domain.Deck) { d.ReviewToday.Add(today, 1) }
	default:
		return nil
	}
	chain := append([]int64{before.DeckID}, snap.tree.Ancestors(before.DeckID)...)
	for _, id := range chain {
		d, err := st.Deck(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		bump(d)
		d.Modified = snap.env.now
		if err := st.UpdateDeck(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// burySiblings buries the other cards of the answered card's note as the
// deck config asks.
func (s *Scheduler) burySiblings(ctx context.Context, st domain.Store, c *domain.Card, cfg *domain.DeckConfig, e env) ([]int64, error) {
	if !cfg.New.Bury && !cfg.Review.Bury && !cfg.BuryInterdayLearning {
		return nil, nil
	}
	siblings, err := st.Cards(ctx, domain.CardFilter{NoteIDs: []int64{c.NoteID}})
	if err != nil {
		return nil, err
	}
	var buried []int64
	for i := range siblings {
		sib := &siblings[i]
		if sib.ID == c.ID {
			continue
		}
		due := sib.Due <= int64(e.today)
		bury := (sib.Queue == domain.QueueNew && cfg.New.Bury) ||
			(sib.Queue == domain.QueueReview && due && cfg.Review.Bury) ||
			(sib.Queue == domain.QueueDayLearnRelearn && due && cfg.BuryInterdayLearning)
		if !bury {
			continue
		}
		sib.Queue = domain.QueueSiblingBuried
		sib.Modified = e.now
		if err := st.UpdateCard(ctx, sib); err != nil {
			return nil, err
		}
		buried = append(buried, sib.ID)
	}
	return buried, nil
}
