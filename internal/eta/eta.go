// Package eta estimates how long the remaining study queue will take.
package eta

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
)

const (
	// NoHistory is shown in place of an estimate when the review log has no
	// entries in the window.
	NoHistory = -1

	// Window is how far back the review log is read.
	Window = 10 * 24 * time.Hour

	defaultMillis  = 20_000.0
	defaultRate    = 1.0
	minRelearnRate = 0.05
)

// Rates are the historical success rate and average answer time of each
// kind of rep.
type Rates struct {
	NewRate       float64
	NewMillis     float64
	ReviewRate    float64
	ReviewMillis  float64
	RelearnRate   float64
	RelearnMillis float64
}

// RatesFrom folds review-log statistics into Rates. Learning reps count as
// new-card reps, reviews and filtered reviews as review reps, and relearning
// reps as relearn reps. A kind without any reps gets a 20 second average
// and a perfect success rate.
func RatesFrom(stats []domain.ReviewStats) Rates {
	var newB, revB, relB bucket
	for _, s := range stats {
		switch s.Kind {
		case domain.KindLearning:
			newB.add(s)
		case domain.KindReview, domain.KindFiltered:
			revB.add(s)
		case domain.KindRelearning:
			relB.add(s)
		}
	}
	r := Rates{}
	r.NewRate, r.NewMillis = newB.result()
	r.ReviewRate, r.ReviewMillis = revB.result()
	r.RelearnRate, r.RelearnMillis = relB.result()
	return r
}

type bucket struct {
	count, passed int
	millis        int64
}

func (b *bucket) add(s domain.ReviewStats) {
	b.count += s.Count
	b.passed += s.Passed
	b.millis += s.TotalMillis
}

func (b bucket) result() (rate, millis float64) {
	if b.count == 0 {
		return defaultRate, defaultMillis
	}
	return float64(b.passed) / float64(b.count), float64(b.millis) / float64(b.count)
}

// Project returns the minutes needed to clear counts at the given rates.
// Learning cards are costed as relearn reps, and every expected failure is
// followed through further relearn reps until fewer than two remain.
func Project(r Rates, c domain.Counts) int {
	newTotal := r.NewMillis * float64(c.New)
	relearnTotal := r.RelearnMillis * float64(c.Learning)
	reviewTotal := r.ReviewMillis * float64(c.Review)

	// Every new card is assumed to fail once.
	toRelearn := c.New
	toRelearn += int(math.Ceil((1 - r.RelearnRate) * float64(c.Learning)))
	toRelearn += int(math.Ceil((1 - r.ReviewRate) * float64(c.Review)))

	relearnRate := math.Max(r.RelearnRate, minRelearnRate)
	futureReps := 0
	for {
		failures := int((1 - relearnRate) * float64(toRelearn))
		futureReps += failures
		toRelearn = failures
		if toRelearn <= 1 {
			break
		}
	}
	futureTotal := r.RelearnMillis * float64(futureReps)
	return int(math.Round((newTotal + relearnTotal + reviewTotal + futureTotal) / 60_000))
}

// Estimator caches Rates between calls. It is safe for concurrent use.
type Estimator struct {
	log domain.ReviewLogStore

	mu      sync.Mutex
	loaded  bool
	history bool
	rates   Rates
}

// NewEstimator creates an Estimator reading from log.
func NewEstimator(log domain.ReviewLogStore) *Estimator {
	return &Estimator{log: log}
}

// Estimate returns the minutes needed to clear counts. ok is false when the
// review log has no entries since dayCutoff minus Window, in which case no
// estimate is made. Rates are read on first use and whenever forceReload is
// set.
func (e *Estimator) Estimate(ctx context.Context, counts domain.Counts, dayCutoff time.Time, forceReload bool) (minutes int, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if forceReload || !e.loaded {
		stats, err := e.log.ReviewStats(ctx, dayCutoff.Add(-Window))
		if err != nil {
			return 0, false, fmt.Errorf("failed to load review statistics: %w", err)
		}
		e.history = false
		for _, s := range stats {
			if s.Count > 0 {
				e.history = true
				break
			}
		}
		e.rates = RatesFrom(stats)
		e.loaded = true
	}
	if !e.history {
		return 0, false, nil
	}
	return Project(e.rates, counts), true, nil
}

// Rates returns the cached rates and whether they have been loaded.
func (e *Estimator) Rates() (Rates, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rates, e.loaded
}

// Invalidate drops the cached rates so the next Estimate reloads them.
func (e *Estimator) Invalidate() {
	e.mu.Lock()
	e.loaded = false
	e.mu.Unlock()
}
