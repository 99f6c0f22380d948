package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState means a card's queue and type disagree. The operation is
	// aborted and the card left untouched.
	ErrInvalidState = errors.New("invalid card state")
	// ErrConfigMissing means a deck points at a config group that no longer exists.
	ErrConfigMissing = errors.New("deck config missing")
	// ErrSchemaChangeRequired means the operation forces a full sync and must be
	// confirmed by the user first.
	ErrSchemaChangeRequired = errors.New("schema change required")
	// ErrConcurrentMutation is returned when a mutation arrives while another is in flight.
	ErrConcurrentMutation = errors.New("another mutation is in progress")
	ErrNotFound           = errors.New("not found")
	ErrInvalidRating      = errors.New("invalid rating")
	ErrNotFiltered        = errors.New("deck is not a filtered deck")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// InvalidStateError describes the inconsistent card. It unwraps to ErrInvalidState.
type InvalidStateError struct {
	CardID int64
	Queue  Queue
	Type   CardType
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("card %d: %s (queue=%s type=%s)", e.CardID, e.Reason, e.Queue, e.Type)
	}
	return fmt.Sprintf("card %d: queue %s is inconsistent with type %s", e.CardID, e.Queue, e.Type)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}
