package interval

// Steps are learning or relearning delays in minutes.
type Steps []float64

// index maps a remaining-steps counter onto a position in the list. Legacy
// counters pack today's count into the thousands, which is discarded.
func (s Steps) index(remaining int) int {
	total := len(s)
	remaining %= 1000
	idx := max(total-remaining, 0)
	return min(idx, max(total-1, 0))
}

func (s Steps) secsAt(i int) (int, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	return int(s[i] * 60), true
}

// againDelay is the delay for a failed step, always the first step.
func (s Steps) againDelay() (int, bool) {
	return s.secsAt(0)
}

// hardDelay repeats the current step, except on the first step where it
// sits between the first and second step.
func (s Steps) hardDelay(remaining int) (int, bool) {
	idx := s.index(remaining)
	current, ok := s.secsAt(idx)
	if !ok {
		return 0, false
	}
	if idx > 0 {
		return current, true
	}
	if next, ok := s.secsAt(1); ok {
		return roundInDays((current + next) / 2), true
	}
	// Without a second step, 50% more than the first but at most a day more.
	return roundInDays(min(current*3/2, current+secsPerDay)), true
}

func (s Steps) goodDelay(remaining int) (int, bool) {
	return s.secsAt(s.index(remaining) + 1)
}

func (s Steps) remainingForGood(remaining int) int {
	return max(len(s)-(s.index(remaining)+1), 0)
}

func (s Steps) remainingForFailed() int {
	return len(s)
}

// CurrentDelay returns the delay of the step the counter points at.
func (s Steps) CurrentDelay(remaining int) (int, bool) {
	return s.secsAt(s.index(remaining))
}

func roundInDays(secs int) int {
	if secs <= secsPerDay {
		return secs
	}
	days := (secs + secsPerDay/2) / secsPerDay
	return days * secsPerDay
}
