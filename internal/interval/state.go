// Package interval is the pure scheduling calculator: given a card's current
// state, the deck policy and a rating it returns the card's next state.
package interval

import (
	"fmt"

	"github.com/conorfennell/knolsched/internal/domain"
)

// State is the scheduling state of a card. The concrete types are NewState,
// LearningState, DayLearnState, ReviewState, RelearningState, PreviewState
// and ReschedulingState; no other type implements it.
type State interface {
	isState()
}

// NewState is a card that has never been answered.
type NewState struct {
	Position int64
}

// LearningState is a card working through its learning steps.
type LearningState struct {
	RemainingSteps int
	ScheduledSecs  int
}

// DayLearnState is a learning or relearning step long enough to cross the
// day boundary. The card is placed in the day-learn queue Days days from today.
type DayLearnState struct {
	// Step is a LearningState or RelearningState.
	Step State
	Days int
}

// ReviewState is a graduated card.
type ReviewState struct {
	ScheduledDays int
	ElapsedDays   int
	// EaseFactor is a multiplier, 2.5 = 250%.
	EaseFactor float64
	Lapses     int
	Leeched    bool
}

// DaysLate is negative when the card is reviewed before it is due.
func (r ReviewState) DaysLate() int {
	return r.ElapsedDays - r.ScheduledDays
}

// RelearningState is a lapsed review card working through relearning steps.
type RelearningState struct {
	Learning LearningState
	Review   ReviewState
}

// PreviewState is a card in a filtered deck that does not reschedule.
type PreviewState struct {
	ScheduledSecs int
	// Finished cards go back to their home deck unchanged.
	Finished bool
	Original State
}

// ReschedulingState is a card in a filtered deck whose answers count. The
// wrapped state is always one of the normal variants.
type ReschedulingState struct {
	Original State
}

func (NewState) isState()          {}
func (LearningState) isState()     {}
func (DayLearnState) isState()     {}
func (ReviewState) isState()       {}
func (RelearningState) isState()   {}
func (PreviewState) isState()      {}
func (ReschedulingState) isState() {}

// defaultEase is used for review cards stored without an ease factor.
const defaultEase = 2.5

const secsPerDay = 86_400

// FromCard derives the current state of c. today is the collection day and
// filtered is the config of the filtered deck c sits in, if any.
func FromCard(c *domain.Card, today int, filtered *domain.FilteredConfig) (State, error) {
	normal, err := normalState(c, today)
	if err != nil {
		return nil, err
	}
	if c.InFiltered() && filtered != nil {
		if filtered.Reschedule {
			return ReschedulingState{Original: normal}, nil
		}
		return PreviewState{Original: normal}, nil
	}
	return normal, nil
}

func normalState(c *domain.Card, today int) (State, error) {
	due := c.OriginalOrCurrentDue()
	switch c.Type {
	case domain.TypeNew:
		return NewState{Position: max(due, 0)}, nil
	case domain.TypeLearning:
		return LearningState{RemainingSteps: c.Remaining}, nil
	case domain.TypeReview:
		return reviewStateOf(c, int(due), today), nil
	case domain.TypeRelearning:
		review := reviewStateOf(c, int(due), today)
		review.ElapsedDays = 0
		return RelearningState{
			Learning: LearningState{RemainingSteps: c.Remaining},
			Review:   review,
		}, nil
	}
	return nil, &domain.InvalidStateError{CardID: c.ID, Queue: c.Queue, Type: c.Type, Reason: "unknown card type"}
}

func reviewStateOf(c *domain.Card, due, today int) ReviewState {
	ivl := c.Interval
	if ivl < 0 {
		ivl = (-ivl + secsPerDay - 1) / secsPerDay
	}
	ease := float64(c.EaseFactor) / 1000
	if ease == 0 {
		ease = defaultEase
	}
	return ReviewState{
		ScheduledDays: ivl,
		ElapsedDays:   max(today-due+ivl, 0),
		EaseFactor:    ease,
		Lapses:        c.Lapses,
	}
}

// Normal unwraps filtered and day-learn wrappers, returning the underlying
// normal state.
func Normal(s State) (State, error) {
	switch st := s.(type) {
	case NewState, LearningState, ReviewState, RelearningState:
		return st, nil
	case DayLearnState:
		return Normal(st.Step)
	case ReschedulingState:
		return Normal(st.Original)
	case PreviewState:
		return Normal(st.Original)
	case nil:
		return nil, fmt.Errorf("%w: nil state", domain.ErrInvalidState)
	default:
		return nil, fmt.Errorf("%w: unexpected state %T", domain.ErrInvalidState, s)
	}
}

// ScheduledSecs returns how far ahead s places the card, in seconds.
func ScheduledSecs(s State) (int, error) {
	switch st := s.(type) {
	case NewState:
		return 0, nil
	case LearningState:
		return st.ScheduledSecs, nil
	case DayLearnState:
		return st.Days * secsPerDay, nil
	case ReviewState:
		return st.ScheduledDays * secsPerDay, nil
	case RelearningState:
		return st.Learning.ScheduledSecs, nil
	case PreviewState:
		if st.Finished {
			return 0, nil
		}
		return st.ScheduledSecs, nil
	case ReschedulingState:
		return ScheduledSecs(st.Original)
	case nil:
		return 0, fmt.Errorf("%w: nil state", domain.ErrInvalidState)
	default:
		return 0, fmt.Errorf("%w: unexpected state %T", domain.ErrInvalidState, s)
	}
}

// LogInterval returns the review-log encoding of the interval s schedules.
func LogInterval(s State) (domain.LogInterval, error) {
	switch st := s.(type) {
	case NewState:
		return 0, nil
	case LearningState:
		return domain.SecsInterval(st.ScheduledSecs), nil
	case DayLearnState:
		return domain.DaysInterval(st.Days), nil
	case ReviewState:
		return domain.DaysInterval(st.ScheduledDays), nil
	case RelearningState:
		return domain.SecsInterval(st.Learning.ScheduledSecs), nil
	case PreviewState:
		return domain.SecsInterval(st.ScheduledSecs), nil
	case ReschedulingState:
		return LogInterval(st.Original)
	case nil:
		return 0, fmt.Errorf("%w: nil state", domain.ErrInvalidState)
	default:
		return 0, fmt.Errorf("%w: unexpected state %T", domain.ErrInvalidState, s)
	}
}

// ReviewKind classifies an answer given in state current for the review log.
func ReviewKind(current State) (domain.ReviewKind, error) {
	switch st := current.(type) {
	case NewState, LearningState:
		return domain.KindLearning, nil
	case DayLearnState:
		return ReviewKind(st.Step)
	case ReviewState:
		if st.DaysLate() < 0 {
			return domain.KindFiltered, nil
		}
		return domain.KindReview, nil
	case RelearningState:
		return domain.KindRelearning, nil
	case PreviewState:
		return domain.KindFiltered, nil
	case ReschedulingState:
		return ReviewKind(st.Original)
	case nil:
		return 0, fmt.Errorf("%w: nil state", domain.ErrInvalidState)
	default:
		return 0, fmt.Errorf("%w: unexpected state %T", domain.ErrInvalidState, current)
	}
}
