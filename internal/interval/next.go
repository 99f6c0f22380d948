package interval

import (
	"fmt"
	"math"

	"github.com/conorfennell/knolsched/internal/domain"
)

const (
	easeAgainDelta = -0.2
	easeHardDelta  = -0.15
	easeEasyDelta  = 0.15
	minimumEase    = 1.3
)

// Context carries everything the calculator needs besides the state itself.
type Context struct {
	LearnSteps   Steps
	RelearnSteps Steps

	GraduatingIntervalGood int
	GraduatingIntervalEasy int
	InitialEase            float64

	HardMultiplier     float64
	EasyMultiplier     float64
	IntervalMultiplier float64
	MaxReviewInterval  int

	LapseMultiplier  float64
	MinLapseInterval int
	LeechThreshold   int

	// SecsUntilRollover decides when a learning step spills into the day-learn queue.
	SecsUntilRollover int
	// FuzzFactor spreads review intervals; nil disables fuzz.
	FuzzFactor *float64

	PreviewAgainSecs int
	PreviewHardSecs  int
	PreviewGoodSecs  int
}

// NewContext builds a Context from a deck config. Rollover, fuzz and preview
// settings are left for the caller.
func NewContext(cfg *domain.DeckConfig) Context {
	return Context{
		LearnSteps:             Steps(cfg.New.Delays),
		RelearnSteps:           Steps(cfg.Lapse.Delays),
		GraduatingIntervalGood: cfg.New.GraduatingInterval,
		GraduatingIntervalEasy: cfg.New.EasyInterval,
		InitialEase:            float64(cfg.New.InitialEase) / 1000,
		HardMultiplier:         cfg.Review.HardFactor,
		EasyMultiplier:         cfg.Review.EasyBonus,
		IntervalMultiplier:     cfg.Review.IntervalModifier,
		MaxReviewInterval:      cfg.Review.MaxInterval,
		LapseMultiplier:        cfg.Lapse.Multiplier,
		MinLapseInterval:       cfg.Lapse.MinInterval,
		LeechThreshold:         cfg.Lapse.LeechThreshold,
		SecsUntilRollover:      secsPerDay,
	}
}

// WithFiltered copies the preview delays of a filtered deck into the context.
func (c Context) WithFiltered(f *domain.FilteredConfig) Context {
	if f != nil {
		c.PreviewAgainSecs = f.PreviewAgainSecs
		c.PreviewHardSecs = f.PreviewHardSecs
		c.PreviewGoodSecs = f.PreviewGoodSecs
	}
	return c
}

func (c Context) minMaxReview(minimum int) (int, int) {
	maximum := max(c.MaxReviewInterval, 1)
	return clampInt(minimum, 1, maximum), maximum
}

func (c Context) graduatingGood() int {
	lo, hi := c.minMaxReview(1)
	return withFuzz(c.FuzzFactor, float64(c.GraduatingIntervalGood), lo, hi)
}

func (c Context) graduatingEasy() int {
	lo, hi := c.minMaxReview(c.GraduatingIntervalGood + 1)
	return withFuzz(c.FuzzFactor, float64(c.GraduatingIntervalEasy), lo, hi)
}

func (c Context) initialEase() float64 {
	if c.InitialEase <= 0 {
		return defaultEase
	}
	return c.InitialEase
}

// place moves learning steps that end after the current day into the
// day-learn queue.
func (c Context) place(s State) State {
	var secs int
	switch st := s.(type) {
	case LearningState:
		secs = st.ScheduledSecs
	case RelearningState:
		secs = st.Learning.ScheduledSecs
	default:
		return s
	}
	if c.SecsUntilRollover <= 0 || secs < c.SecsUntilRollover {
		return s
	}
	return DayLearnState{Step: s, Days: (secs-c.SecsUntilRollover)/secsPerDay + 1}
}

// NextStates holds the outcome of each answer button for one card.
type NextStates struct {
	Current State
	Again   State
	Hard    State
	Good    State
	Easy    State
}

// For returns the outcome of rating r.
func (n NextStates) For(r domain.Rating) (State, error) {
	switch r {
	case domain.Again:
		return n.Again, nil
	case domain.Hard:
		return n.Hard, nil
	case domain.Good:
		return n.Good, nil
	case domain.Easy:
		return n.Easy, nil
	}
	return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(r))
}

// ComputeNextState returns the state a card in current moves to when
// answered with r. It reads no clock; all time enters through ctx.
func ComputeNextState(current State, ctx Context, r domain.Rating) (State, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(r))
	}
	next, err := ComputeNextStates(current, ctx)
	if err != nil {
		return nil, err
	}
	return next.For(r)
}

// ComputeNextStates returns the outcome of all four ratings.
func ComputeNextStates(current State, ctx Context) (NextStates, error) {
	var (
		n   NextStates
		err error
	)
	switch st := current.(type) {
	case NewState:
		n = learningNext(LearningState{RemainingSteps: ctx.LearnSteps.remainingForFailed()}, ctx)
	case LearningState:
		n = learningNext(st, ctx)
	case DayLearnState:
		n, err = ComputeNextStates(st.Step, ctx)
	case ReviewState:
		n = reviewNext(st, ctx)
	case RelearningState:
		n = relearningNext(st, ctx)
	case PreviewState:
		n = previewNext(st, ctx)
	case ReschedulingState:
		n, err = reschedulingNext(st, ctx)
	case nil:
		err = fmt.Errorf("%w: nil state", domain.ErrInvalidState)
	default:
		err = fmt.Errorf("%w: unexpected state %T", domain.ErrInvalidState, current)
	}
	if err != nil {
		return NextStates{}, err
	}
	n.Current = current
	return n, nil
}

func learningNext(s LearningState, ctx Context) NextStates {
	graduate := func() State {
		return ReviewState{ScheduledDays: ctx.graduatingGood(), EaseFactor: ctx.initialEase()}
	}
	var n NextStates

	if secs, ok := ctx.LearnSteps.againDelay(); ok {
		n.Again = ctx.place(LearningState{RemainingSteps: ctx.LearnSteps.remainingForFailed(), ScheduledSecs: secs})
	} else {
		n.Again = graduate()
	}

	if secs, ok := ctx.LearnSteps.hardDelay(s.RemainingSteps); ok {
		n.Hard = ctx.place(LearningState{RemainingSteps: s.RemainingSteps, ScheduledSecs: secs})
	} else {
		n.Hard = graduate()
	}

	if secs, ok := ctx.LearnSteps.goodDelay(s.RemainingSteps); ok {
		n.Good = ctx.place(LearningState{RemainingSteps: ctx.LearnSteps.remainingForGood(s.RemainingSteps), ScheduledSecs: secs})
	} else {
		n.Good = graduate()
	}

	n.Easy = ReviewState{ScheduledDays: ctx.graduatingEasy(), EaseFactor: ctx.initialEase()}
	return n
}

func reviewNext(s ReviewState, ctx Context) NextStates {
	hard, good, easy := passingIntervals(s, ctx)
	return NextStates{
		Again: lapse(s, ctx),
		Hard:  ReviewState{ScheduledDays: hard, EaseFactor: math.Max(s.EaseFactor+easeHardDelta, minimumEase), Lapses: s.Lapses},
		Good:  ReviewState{ScheduledDays: good, EaseFactor: s.EaseFactor, Lapses: s.Lapses},
		Easy:  ReviewState{ScheduledDays: easy, EaseFactor: s.EaseFactor + easeEasyDelta, Lapses: s.Lapses},
	}
}

// lapse is the AGAIN outcome of a review card: relearning when relearning
// steps exist, otherwise straight back to review with the shrunken interval.
func lapse(s ReviewState, ctx Context) State {
	lapses := s.Lapses + 1
	review := ReviewState{
		ScheduledDays: failingInterval(s, ctx),
		EaseFactor:    math.Max(s.EaseFactor+easeAgainDelta, minimumEase),
		Lapses:        lapses,
		Leeched:       domain.IsLeech(ctx.LeechThreshold, lapses),
	}
	if secs, ok := ctx.RelearnSteps.againDelay(); ok {
		return ctx.place(RelearningState{
			Learning: LearningState{RemainingSteps: ctx.RelearnSteps.remainingForFailed(), ScheduledSecs: secs},
			Review:   review,
		})
	}
	return review
}

// failingInterval shrinks the interval of a failed card. The minimum lapse
// interval never lifts it above the interval it had.
func failingInterval(s ReviewState, ctx Context) int {
	lo, hi := ctx.minMaxReview(ctx.MinLapseInterval)
	ivl := clampInt(int(math.Round(float64(s.ScheduledDays)*ctx.LapseMultiplier)), lo, hi)
	return min(ivl, max(s.ScheduledDays, 1))
}

func passingIntervals(s ReviewState, ctx Context) (hard, good, easy int) {
	if s.DaysLate() < 0 {
		return earlyIntervals(s, ctx)
	}
	current := float64(s.ScheduledDays)
	daysLate := float64(max(s.DaysLate(), 0))

	// A hard factor of exactly 1 may not shrink the interval; below 1 it may.
	hardMin := 0
	switch {
	case ctx.HardMultiplier > 1:
		hardMin = s.ScheduledDays + 1
	case ctx.HardMultiplier == 1:
		hardMin = s.ScheduledDays
	}
	hard = constrainPassing(ctx, current*ctx.HardMultiplier, hardMin, true)

	goodMin := hard + 1
	if ctx.HardMultiplier <= 1 {
		goodMin = s.ScheduledDays + 1
	}
	good = constrainPassing(ctx, (current+daysLate/2)*s.EaseFactor, goodMin, true)
	easy = constrainPassing(ctx, (current+daysLate)*s.EaseFactor*ctx.EasyMultiplier, good+1, true)
	return hard, good, easy
}

// earlyIntervals apply to cards reviewed ahead of schedule in a filtered deck.
// They never fuzz and credit only the time that actually elapsed.
func earlyIntervals(s ReviewState, ctx Context) (hard, good, easy int) {
	scheduled := float64(s.ScheduledDays)
	elapsed := float64(s.ElapsedDays)

	hard = constrainPassing(ctx, math.Max(elapsed*ctx.HardMultiplier, scheduled*ctx.HardMultiplier/2), 0, false)
	goodRaw := math.Max(elapsed*s.EaseFactor, scheduled)
	good = constrainPassing(ctx, goodRaw, 0, false)
	reducedBonus := ctx.EasyMultiplier - (ctx.EasyMultiplier-1)/2
	easy = constrainPassing(ctx, goodRaw*reducedBonus, 0, false)
	return hard, good, easy
}

func constrainPassing(ctx Context, interval float64, minimum int, fuzz bool) int {
	interval *= ctx.IntervalMultiplier
	lo, hi := ctx.minMaxReview(minimum)
	if fuzz {
		return withFuzz(ctx.FuzzFactor, interval, lo, hi)
	}
	return clampInt(int(math.Round(interval)), lo, hi)
}

func relearningNext(s RelearningState, ctx Context) NextStates {
	review := s.Review
	review.ElapsedDays = 0
	review.Leeched = false
	var n NextStates

	if secs, ok := ctx.RelearnSteps.againDelay(); ok {
		again := review
		again.ScheduledDays = failingInterval(s.Review, ctx)
		n.Again = ctx.place(RelearningState{
			Learning: LearningState{RemainingSteps: ctx.RelearnSteps.remainingForFailed(), ScheduledSecs: secs},
			Review:   again,
		})
	} else {
		n.Again = review
	}

	if secs, ok := ctx.RelearnSteps.hardDelay(s.Learning.RemainingSteps); ok {
		n.Hard = ctx.place(RelearningState{
			Learning: LearningState{RemainingSteps: s.Learning.RemainingSteps, ScheduledSecs: secs},
			Review:   review,
		})
	} else {
		n.Hard = review
	}

	if secs, ok := ctx.RelearnSteps.goodDelay(s.Learning.RemainingSteps); ok {
		n.Good = ctx.place(RelearningState{
			Learning: LearningState{RemainingSteps: ctx.RelearnSteps.remainingForGood(s.Learning.RemainingSteps), ScheduledSecs: secs},
			Review:   review,
		})
	} else {
		n.Good = review
	}

	easy := review
	_, hi := ctx.minMaxReview(1)
	easy.ScheduledDays = min(review.ScheduledDays+1, hi)
	n.Easy = easy
	return n
}

func previewNext(s PreviewState, ctx Context) NextStates {
	delayOrFinish := func(secs int) State {
		if secs <= 0 {
			return PreviewState{Finished: true, Original: s.Original}
		}
		return PreviewState{ScheduledSecs: secs, Original: s.Original}
	}
	return NextStates{
		Again: delayOrFinish(ctx.PreviewAgainSecs),
		Hard:  delayOrFinish(ctx.PreviewHardSecs),
		Good:  delayOrFinish(ctx.PreviewGoodSecs),
		Easy:  PreviewState{Finished: true, Original: s.Original},
	}
}

func reschedulingNext(s ReschedulingState, ctx Context) (NextStates, error) {
	switch s.Original.(type) {
	case NewState, LearningState, ReviewState, RelearningState:
	default:
		return NextStates{}, fmt.Errorf("%w: rescheduling state wraps %T", domain.ErrInvalidState, s.Original)
	}
	inner, err := ComputeNextStates(s.Original, ctx)
	if err != nil {
		return NextStates{}, err
	}
	return NextStates{
		Again: ReschedulingState{Original: inner.Again},
		Hard:  ReschedulingState{Original: inner.Hard},
		Good:  ReschedulingState{Original: inner.Good},
		Easy:  ReschedulingState{Original: inner.Easy},
	}, nil
}
