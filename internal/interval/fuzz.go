package interval

import (
	"math"
	"math/rand/v2"
)

type fuzzRange struct {
	start, end, factor float64
}

var fuzzRanges = [...]fuzzRange{
	{start: 2.5, end: 7.0, factor: 0.15},
	{start: 7.0, end: 20.0, factor: 0.1},
	{start: 20.0, end: math.MaxFloat64, factor: 0.05},
}

// FuzzFactor returns a deterministic value in [0, 1) for a card, so the same
// card and repetition always see the same fuzz.
func FuzzFactor(cardID int64, reps int) float64 {
	r := rand.New(rand.NewPCG(uint64(cardID), uint64(reps)))
	return r.Float64()
}

func fuzzDelta(interval float64) float64 {
	if interval < 2.5 {
		return 0
	}
	delta := 1.0
	for _, fr := range fuzzRanges {
		delta += math.Max(math.Min(interval, fr.end)-fr.start, 0) * fr.factor
	}
	return delta
}

// fuzzBounds returns the inclusive range a fuzzed interval may land in,
// kept within [minimum, maximum].
func fuzzBounds(interval float64, minimum, maximum int) (int, int) {
	minimum = min(minimum, maximum)
	interval = math.Min(math.Max(interval, float64(minimum)), float64(maximum))
	delta := fuzzDelta(interval)
	lower := clampInt(int(math.Round(interval-delta)), minimum, maximum)
	upper := clampInt(int(math.Round(interval+delta)), minimum, maximum)
	if upper == lower && upper > 2 && upper < maximum {
		upper = lower + 1
	}
	return lower, upper
}

// withFuzz rounds interval into [minimum, maximum], spreading it across the
// fuzz range when factor is non-nil.
func withFuzz(factor *float64, interval float64, minimum, maximum int) int {
	if factor == nil {
		return clampInt(int(math.Round(interval)), minimum, maximum)
	}
	lower, upper := fuzzBounds(interval, minimum, maximum)
	return int(math.Floor(float64(lower) + *factor*float64(1+upper-lower)))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
