package domain

import (
	"strings"
	"time"
)

// DeckSeparator joins the components of a nested deck name.
const DeckSeparator = "::"

// DefaultDeckID is the deck every collection starts with.
const DefaultDeckID int64 = 1

// DayCount is a counter that is only meaningful on the day it was recorded.
type DayCount struct {
	Day   int `json:"day"`
	Count int `json:"count"`
}

// On returns the count if it was recorded today and zero otherwise.
func (d DayCount) On(today int) int {
	if d.Day != today {
		return 0
	}
	return d.Count
}

// Add adjusts the counter for today, resetting it if it belongs to an earlier day.
func (d *DayCount) Add(today, delta int) {
	if d.Day != today {
		d.Day = today
		d.Count = 0
	}
	d.Count += delta
}

// Deck is a named grouping of cards. Nested decks encode their hierarchy in
// the name, e.g. "Languages::Spanish".
type Deck struct {
	ID       int64
	Name     string
	ConfigID int64
	// Filtered is non-nil for filtered (cram) decks.
	Filtered  *FilteredConfig
	Collapsed bool

	NewToday    DayCount
	ReviewToday DayCount

	Modified time.Time
}

// IsFiltered reports whether the deck is populated by a search.
func (d *Deck) IsFiltered() bool {
	return d.Filtered != nil
}

// NameParts splits the deck name into its hierarchy components.
func (d *Deck) NameParts() []string {
	return strings.Split(d.Name, DeckSeparator)
}

// ParentName returns the name of the immediate parent, or "" for top-level decks.
func (d *Deck) ParentName() string {
	i := strings.LastIndex(d.Name, DeckSeparator)
	if i < 0 {
		return ""
	}
	return d.Name[:i]
}

// BaseName returns the last component of the deck name.
func (d *Deck) BaseName() string {
	i := strings.LastIndex(d.Name, DeckSeparator)
	if i < 0 {
		return d.Name
	}
	return d.Name[i+len(DeckSeparator):]
}

// FilteredOrder controls the order cards are gathered into a filtered deck.
type FilteredOrder string

const (
	OrderDue             FilteredOrder = "due"
	OrderRandom          FilteredOrder = "random"
	OrderIntervalsAsc    FilteredOrder = "intervals_asc"
	OrderIntervalsDesc   FilteredOrder = "intervals_desc"
	OrderMostLapses      FilteredOrder = "lapses"
	OrderAdded           FilteredOrder = "added"
	OrderReverseAdded    FilteredOrder = "reverse_added"
	OrderRelativeOverdue FilteredOrder = "relative_overdue"
)

// FilteredConfig is the search and scheduling policy of a filtered deck.
type FilteredConfig struct {
	Search string        `json:"search" yaml:"search" validate:"required"`
	Limit  int           `json:"limit" yaml:"limit" validate:"min=1,max=99999"`
	Order  FilteredOrder `json:"order" yaml:"order" validate:"oneof=due random intervals_asc intervals_desc lapses added reverse_added relative_overdue"`
	// Reschedule lets answers in the deck affect the cards' real schedule.
	// When false the deck is a preview deck.
	Reschedule bool `json:"reschedule" yaml:"reschedule"`

	PreviewAgainSecs int `json:"preview_again_secs" yaml:"preview_again_secs" validate:"min=0"`
	PreviewHardSecs  int `json:"preview_hard_secs" yaml:"preview_hard_secs" validate:"min=0"`
	PreviewGoodSecs  int `json:"preview_good_secs" yaml:"preview_good_secs" validate:"min=0"`
}

// DefaultFilteredConfig returns the settings a new filtered deck starts with.
func DefaultFilteredConfig() FilteredConfig {
	return FilteredConfig{
		Search:           "is:due",
		Limit:            100,
		Order:            OrderDue,
		Reschedule:       true,
		PreviewAgainSecs: 60,
		PreviewHardSecs:  600,
		PreviewGoodSecs:  0,
	}
}
