package domain

import (
	"fmt"
	"strings"
	"time"
)

// Queue is the scheduling bucket a card currently occupies.
type Queue int

const (
	QueueNew             Queue = 0
	QueueLearning        Queue = 1
	QueueReview          Queue = 2
	QueueDayLearnRelearn Queue = 3
	QueuePreview         Queue = 4
	QueueSuspended       Queue = -1
	QueueSiblingBuried   Queue = -2
	QueueManuallyBuried  Queue = -3
)

func (q Queue) String() string {
	switch q {
	case QueueNew:
		return "new"
	case QueueLearning:
		return "learning"
	case QueueReview:
		return "review"
	case QueueDayLearnRelearn:
		return "day-learn"
	case QueuePreview:
		return "preview"
	case QueueSuspended:
		return "suspended"
	case QueueSiblingBuried:
		return "sibling-buried"
	case QueueManuallyBuried:
		return "manually-buried"
	}
	return fmt.Sprintf("Queue(%d)", int(q))
}

// Buried reports whether q is one of the two buried queues.
func (q Queue) Buried() bool {
	return q == QueueSiblingBuried || q == QueueManuallyBuried
}

// CardType is the broad learning phase of a card, persisted independently of its queue.
type CardType int

const (
	TypeNew        CardType = 0
	TypeLearning   CardType = 1
	TypeReview     CardType = 2
	TypeRelearning CardType = 3
)

func (t CardType) String() string {
	switch t {
	case TypeNew:
		return "new"
	case TypeLearning:
		return "learning"
	case TypeReview:
		return "review"
	case TypeRelearning:
		return "relearning"
	}
	return fmt.Sprintf("CardType(%d)", int(t))
}

// learnDueThreshold separates epoch-second due values from day numbers for
// learning cards whose queue has to be reconstructed from their type.
const learnDueThreshold = 1_000_000_000

// FilteredPositionBase is added to a card's position when it is pulled into a
// filtered deck, so filtered cards always sort before, and count as due
// against, any real day number.
const FilteredPositionBase = -100_000

// LeechTag is appended to a card's tags when it becomes a leech and the deck
// is configured to tag rather than suspend.
const LeechTag = "leech"

// Card is a single schedulable flashcard.
//
// Due is interpreted according to Queue: a position ordinal for New, epoch
// seconds for Learning and Preview, and a day number (days since collection
// creation) for Review and DayLearnRelearn.
type Card struct {
	ID       int64
	NoteID   int64
	DeckID   int64
	Ordinal  int
	Type     CardType
	Queue    Queue
	Due      int64
	Interval int // days
	// EaseFactor is in permille, 2500 = 250%.
	EaseFactor int
	Reps       int
	Lapses     int
	// Remaining is the number of learning or relearning steps left.
	Remaining int

	// OriginalDeckID and OriginalDue are set only while the card sits in a
	// filtered deck.
	OriginalDeckID int64
	OriginalDue    int64

	// OriginalPosition remembers the new-queue position once a card leaves it.
	OriginalPosition int64

	Tags     []string
	Modified time.Time
}

// InFiltered reports whether the card is currently homed in a filtered deck.
func (c *Card) InFiltered() bool {
	return c.OriginalDeckID != 0
}

// HomeDeckID returns the deck the card belongs to outside any filtered deck.
func (c *Card) HomeDeckID() int64 {
	if c.OriginalDeckID != 0 {
		return c.OriginalDeckID
	}
	return c.DeckID
}

// OriginalOrCurrentDue returns the due value the card would have in its home deck.
func (c *Card) OriginalOrCurrentDue() int64 {
	if c.OriginalDeckID != 0 {
		return c.OriginalDue
	}
	return c.Due
}

// HasTag reports whether tag is present, ignoring case.
func (c *Card) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// AddTag appends tag unless already present.
func (c *Card) AddTag(tag string) {
	if !c.HasTag(tag) {
		c.Tags = append(c.Tags, tag)
	}
}

// Validate checks that the queue and type agree with each other and that
// the filtered-deck fields are consistent.
func (c *Card) Validate() error {
	ok := true
	switch c.Queue {
	case QueueNew:
		ok = c.Type == TypeNew
	case QueueLearning, QueueDayLearnRelearn:
		ok = c.Type == TypeLearning || c.Type == TypeRelearning
	case QueueReview:
		ok = c.Type == TypeReview || c.Type == TypeRelearning
	case QueuePreview, QueueSuspended, QueueSiblingBuried, QueueManuallyBuried:
	default:
		ok = false
	}
	if !ok {
		return &InvalidStateError{CardID: c.ID, Queue: c.Queue, Type: c.Type}
	}
	if c.OriginalDeckID == 0 && c.OriginalDue != 0 {
		return &InvalidStateError{CardID: c.ID, Queue: c.Queue, Type: c.Type, Reason: "original due set outside a filtered deck"}
	}
	if c.Queue == QueuePreview && c.OriginalDeckID == 0 {
		return &InvalidStateError{CardID: c.ID, Queue: c.Queue, Type: c.Type, Reason: "preview queue outside a filtered deck"}
	}
	return nil
}

// Answerable reports whether the card sits in a queue that can be studied.
func (c *Card) Answerable() bool {
	switch c.Queue {
	case QueueNew, QueueLearning, QueueDayLearnRelearn, QueueReview, QueuePreview:
		return true
	}
	return false
}

// NormalizeInterval folds the legacy negative (seconds) interval encoding
// into whole days.
func (c *Card) NormalizeInterval() {
	if c.Interval < 0 {
		c.Interval = (-c.Interval + secondsPerDay - 1) / secondsPerDay
	}
}

// RestoreQueueFromType puts the card back in the queue its type implies.
func (c *Card) RestoreQueueFromType() {
	switch c.Type {
	case TypeNew:
		c.Queue = QueueNew
	case TypeLearning, TypeRelearning:
		if c.Due > learnDueThreshold {
			c.Queue = QueueLearning
		} else {
			c.Queue = QueueDayLearnRelearn
		}
	case TypeReview:
		c.Queue = QueueReview
	}
}

// MoveIntoFiltered rehomes the card into a filtered deck, recording where it
// came from. Learning cards keep their due so step progress is not lost.
func (c *Card) MoveIntoFiltered(deckID int64, position int) {
	c.OriginalDeckID = c.DeckID
	c.OriginalDue = c.Due
	c.DeckID = deckID
	switch c.Queue {
	case QueueNew, QueueReview:
		c.Due = int64(FilteredPositionBase + position)
	}
}

// RemoveFromFiltered returns the card to its home deck and due. Cards that
// were waiting in the preview queue get the queue their type implies;
// suspended and buried cards stay where they are.
func (c *Card) RemoveFromFiltered() {
	if c.OriginalDeckID == 0 {
		return
	}
	c.DeckID = c.OriginalDeckID
	c.Due = c.OriginalDue
	c.OriginalDeckID = 0
	c.OriginalDue = 0
	if c.Queue == QueuePreview {
		c.RestoreQueueFromType()
	}
}

// LeaveFilteredForReschedule drops the filtered-deck association before the
// card receives a fresh review schedule.
func (c *Card) LeaveFilteredForReschedule() {
	if c.OriginalDeckID == 0 {
		return
	}
	c.DeckID = c.OriginalDeckID
	c.OriginalDeckID = 0
	c.OriginalDue = 0
}

const secondsPerDay = 86_400
