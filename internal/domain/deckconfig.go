package domain

import "time"

// LeechAction decides what happens to a card once it is detected as a leech.
type LeechAction string

const (
	LeechSuspend LeechAction = "suspend"
	LeechTagOnly LeechAction = "tag"
)

// DeckConfig is the scheduling policy shared by every deck in a config group.
// Changes only take effect once saved.
type DeckConfig struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name" validate:"required,max=200"`

	New    NewConfig    `json:"new" yaml:"new"`
	Review ReviewConfig `json:"review" yaml:"review"`
	Lapse  LapseConfig  `json:"lapse" yaml:"lapse"`

	BuryInterdayLearning bool `json:"bury_interday_learning" yaml:"bury_interday_learning"`
	// MaxAnswerSecs caps the answer time recorded in the review log.
	MaxAnswerSecs int `json:"max_answer_secs" yaml:"max_answer_secs" validate:"min=1,max=3600"`

	Modified time.Time `json:"-" yaml:"-"`
}

// NewConfig governs cards that have never been studied.
type NewConfig struct {
	PerDay int `json:"per_day" yaml:"per_day" validate:"min=0,max=9999"`
	// Delays are learning steps in minutes.
	Delays             []float64 `json:"delays" yaml:"delays" validate:"max=20,dive,gt=0"`
	GraduatingInterval int       `json:"graduating_interval" yaml:"graduating_interval" validate:"min=1,max=36500"`
	EasyInterval       int       `json:"easy_interval" yaml:"easy_interval" validate:"min=1,max=36500"`
	// InitialEase is in permille.
	InitialEase int  `json:"initial_ease" yaml:"initial_ease" validate:"min=1300,max=5000"`
	Bury        bool `json:"bury" yaml:"bury"`
}

// ReviewConfig governs cards in the review queue.
type ReviewConfig struct {
	PerDay           int     `json:"per_day" yaml:"per_day" validate:"min=0,max=9999"`
	EasyBonus        float64 `json:"easy_bonus" yaml:"easy_bonus" validate:"min=1,max=5"`
	HardFactor       float64 `json:"hard_factor" yaml:"hard_factor" validate:"gt=0,max=3"`
	IntervalModifier float64 `json:"interval_modifier" yaml:"interval_modifier" validate:"gt=0,max=5"`
	MaxInterval      int     `json:"max_interval" yaml:"max_interval" validate:"min=1,max=36500"`
	Bury             bool    `json:"bury" yaml:"bury"`
}

// LapseConfig governs cards that were forgotten.
type LapseConfig struct {
	// Delays are relearning steps in minutes. An empty list keeps lapsed cards
	// in the review queue.
	Delays         []float64   `json:"delays" yaml:"delays" validate:"max=20,dive,gt=0"`
	Multiplier     float64     `json:"multiplier" yaml:"multiplier" validate:"min=0,max=1"`
	MinInterval    int         `json:"min_interval" yaml:"min_interval" validate:"min=1,max=36500"`
	LeechThreshold int         `json:"leech_threshold" yaml:"leech_threshold" validate:"min=1,max=999"`
	LeechAction    LeechAction `json:"leech_action" yaml:"leech_action" validate:"oneof=suspend tag"`
}

// DefaultDeckConfig returns the stock policy used for new collections and as
// the fallback when a deck's config group has gone missing.
func DefaultDeckConfig() DeckConfig {
	return DeckConfig{
		ID:   1,
		Name: "Default",
		New: NewConfig{
			PerDay:             20,
			Delays:             []float64{1, 10},
			GraduatingInterval: 1,
			EasyInterval:       4,
			InitialEase:        2500,
		},
		Review: ReviewConfig{
			PerDay:           200,
			EasyBonus:        1.3,
			HardFactor:       1.2,
			IntervalModifier: 1.0,
			MaxInterval:      36500,
		},
		Lapse: LapseConfig{
			Delays:         []float64{10},
			Multiplier:     0,
			MinInterval:    1,
			LeechThreshold: 8,
			LeechAction:    LeechTagOnly,
		},
		MaxAnswerSecs: 60,
	}
}

// IsLeech reports whether reaching lapses makes a card a leech.
func (c LapseConfig) IsLeech(lapses int) bool {
	return IsLeech(c.LeechThreshold, lapses)
}

// IsLeech reports whether lapses hits the leech schedule for threshold. The
// first event fires at the threshold and then again each time the count doubles.
func IsLeech(threshold, lapses int) bool {
	t := threshold
	if t <= 0 || lapses < t {
		return false
	}
	for t < lapses {
		t *= 2
	}
	return t == lapses
}
