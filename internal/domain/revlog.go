package domain

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReviewKind classifies a review-log entry by the phase the card was in.
type ReviewKind int

const (
	KindLearning    ReviewKind = 0
	KindReview      ReviewKind = 1
	KindRelearning  ReviewKind = 2
	KindFiltered    ReviewKind = 3
	KindManual      ReviewKind = 4
	KindRescheduled ReviewKind = 5
)

func (k ReviewKind) String() string {
	switch k {
	case KindLearning:
		return "learning"
	case KindReview:
		return "review"
	case KindRelearning:
		return "relearning"
	case KindFiltered:
		return "filtered"
	case KindManual:
		return "manual"
	case KindRescheduled:
		return "rescheduled"
	}
	return fmt.Sprintf("ReviewKind(%d)", int(k))
}

// LogInterval is the interval encoding stored in the review log: positive
// values are days, negative values are seconds.
type LogInterval int

// DaysInterval encodes a whole-day interval.
func DaysInterval(days int) LogInterval {
	return LogInterval(days)
}

// SecsInterval encodes a sub-day interval.
func SecsInterval(secs int) LogInterval {
	return LogInterval(-secs)
}

// Duration decodes the interval.
func (l LogInterval) Duration() time.Duration {
	if l < 0 {
		return time.Duration(-l) * time.Second
	}
	return time.Duration(l) * 24 * time.Hour
}

// ReviewLog is an immutable record of one answer or manual schedule change.
type ReviewLog struct {
	ID         ulid.ULID
	CardID     int64
	AnsweredAt time.Time
	// Rating is zero for manual and rescheduled entries.
	Rating       Rating
	Interval     LogInterval
	LastInterval LogInterval
	EaseFactor   int
	TakenMillis  int
	Kind         ReviewKind
}

// Passed reports whether the answer counts as a success for statistics.
func (r *ReviewLog) Passed() bool {
	return r.Rating > Again
}

// ReviewStats aggregates review-log entries of one kind.
type ReviewStats struct {
	Kind        ReviewKind
	Count       int
	Passed      int
	TotalMillis int64
}

// Counts are the cards remaining today in each of the three study queues.
type Counts struct {
	New      int `json:"new"`
	Learning int `json:"learning"`
	Review   int `json:"review"`
}

// Total returns the sum of all three queues.
func (c Counts) Total() int {
	return c.New + c.Learning + c.Review
}
