package interval

import (
	"math"
	"strconv"
	"strings"
)

const (
	secsPerMinute = 60.0
	secsPerHour   = 3600.0
	secsPerMonth  = 30.417 * secsPerDay
	secsPerYear   = 365 * secsPerDay
)

// Describe renders an interval in seconds the way answer buttons show it:
// "30s", "10m", "3h", "4d", "10.7mo", "1.5y". Months and years keep one
// decimal; the other units are whole.
func Describe(secs int) string {
	s := float64(secs)
	switch {
	case s < secsPerMinute:
		return whole(s) + "s"
	case s < secsPerHour:
		return whole(s/secsPerMinute) + "m"
	case s < secsPerDay:
		return whole(s/secsPerHour) + "h"
	case s < secsPerMonth:
		return whole(s/secsPerDay) + "d"
	case s < secsPerYear:
		return oneDecimal(s/secsPerMonth) + "mo"
	default:
		return oneDecimal(s/secsPerYear) + "y"
	}
}

// Label describes the outcome of a state for an answer button. Finished
// previews return the card to its deck and are labelled "(end)".
func Label(s State) (string, error) {
	if p, ok := s.(PreviewState); ok && p.Finished {
		return "(end)", nil
	}
	secs, err := ScheduledSecs(s)
	if err != nil {
		return "", err
	}
	return Describe(secs), nil
}

func whole(v float64) string {
	return strconv.FormatFloat(math.Round(v), 'f', 0, 64)
}

func oneDecimal(v float64) string {
	out := strconv.FormatFloat(math.Round(v*10)/10, 'f', 1, 64)
	return strings.TrimSuffix(out, ".0")
}
