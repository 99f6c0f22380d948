package queue

import (
	"errors"
	"slices"
	"testing"

	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/domain"
)

const (
	today = 100
	now   = int64(1_700_000_000)
)

func ids(cards []domain.Card) []int64 {
	out := make([]int64, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}

func newCards(deckID int64, firstID int64, n int) []domain.Card {
	cards := make([]domain.Card, n)
	for i := range cards {
		cards[i] = domain.Card{
			ID:     firstID + int64(i),
			DeckID: deckID,
			Type:   domain.TypeNew,
			Queue:  domain.QueueNew,
			Due:    int64(i + 1),
		}
	}
	return cards
}

func TestNewLimitsAcrossHierarchy(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{
		{ID: 1, Name: "Default"},
		{ID: 2, Name: "Default::foo"},
	})
	cards := append(newCards(1, 1, 5), newCards(2, 100, 25)...)

	tests := []struct {
		name   string
		parent int
		child  int
		want   int
	}{
		{name: "both at twenty", parent: 20, child: 20, want: 20},
		{name: "parent caps", parent: 10, child: 20, want: 10},
		{name: "child caps", parent: 20, child: 4, want: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{
				Today: today,
				Now:   now,
				Limits: map[int64]deck.Limit{
					1: {New: tt.parent, Review: 200},
					2: {New: tt.child, Review: 200},
				},
			}
			q, err := Build(tree, 1, cards, opts)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if q.Counts.New != tt.want {
				t.Errorf("Expected %d new cards, but got %d", tt.want, q.Counts.New)
			}
			next := q.Next()
			if next == nil || next.DeckID != 1 {
				t.Errorf("Expected first card from the parent deck, got %+v", next)
			}
		})
	}
}

func TestSelectedChildRespectsAncestorLimit(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{
		{ID: 1, Name: "Default"},
		{ID: 2, Name: "Default::foo"},
	})
	opts := Options{
		Today: today,
		Now:   now,
		Limits: map[int64]deck.Limit{
			1: {New: 3, Review: 200},
			2: {New: 20, Review: 200},
		},
	}
	q, err := Build(tree, 2, newCards(2, 1, 10), opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if q.Counts.New != 3 {
		t.Errorf("Expected parent limit of 3 to apply to the child, but got %d", q.Counts.New)
	}
}

func TestPriorityAndExclusions(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{{ID: 1, Name: "Default"}})
	cards := []domain.Card{
		{ID: 1, DeckID: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: 1},
		{ID: 2, DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: today},
		{ID: 3, DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: today - 5},
		{ID: 4, DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: today + 1},
		{ID: 5, DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: now - 10},
		{ID: 6, DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: now + 600},
		{ID: 7, DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: now + 5000},
		{ID: 8, DeckID: 1, Type: domain.TypeRelearning, Queue: domain.QueueDayLearnRelearn, Due: today},
		{ID: 9, DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueSuspended, Due: today},
		{ID: 10, DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueManuallyBuried, Due: today},
		{ID: 11, DeckID: 1, Type: domain.TypeNew, Queue: domain.QueueSiblingBuried, Due: 2},
		{ID: 12, DeckID: 99, Type: domain.TypeNew, Queue: domain.QueueNew, Due: 1},
	}
	opts := Options{
		Today:          today,
		Now:            now,
		LearnAheadSecs: DefaultLearnAheadSecs,
		Limits:         map[int64]deck.Limit{1: {New: 20, Review: 200}},
	}
	q, err := Build(tree, 1, cards, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []int64{5, 8, 3, 2, 1, 6}
	if got := ids(q.Fetch(0, false)); !slices.Equal(got, want) {
		t.Errorf("Expected order %v, but got %v", want, got)
	}
	wantCounts := domain.Counts{New: 1, Learning: 3, Review: 2}
	if q.Counts != wantCounts {
		t.Errorf("Expected counts %+v, but got %+v", wantCounts, q.Counts)
	}
	if got := ids(q.Fetch(0, true)); !slices.Equal(got, []int64{5, 6}) {
		t.Errorf("Expected only intraday learning cards, but got %v", got)
	}
	if got := ids(q.Fetch(2, false)); !slices.Equal(got, []int64{5, 8}) {
		t.Errorf("Expected the first two cards, but got %v", got)
	}
}

func TestFetchIsIdempotent(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{{ID: 1, Name: "Default"}})
	cards := newCards(1, 1, 5)
	opts := Options{Today: today, Now: now, Limits: map[int64]deck.Limit{1: {New: 20, Review: 200}}}

	first, err := Build(tree, 1, cards, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Build(tree, 1, cards, opts)
	if err != nil {
		t.Fatal(err)
	}
	if first.Next().ID != second.Next().ID || first.Next().ID != first.Next().ID {
		t.Errorf("Expected the same top card on repeated fetches")
	}
	if first.Counts != second.Counts {
		t.Errorf("Expected counts to be unchanged by fetching, got %+v and %+v", first.Counts, second.Counts)
	}
}

func TestReviewLimitSharedWithDayLearning(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{{ID: 1, Name: "Default"}})
	cards := []domain.Card{
		{ID: 1, DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: today},
		{ID: 2, DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: today},
		{ID: 3, DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueDayLearnRelearn, Due: today},
		{ID: 4, DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueDayLearnRelearn, Due: today},
	}
	opts := Options{Today: today, Now: now, Limits: map[int64]deck.Limit{1: {New: 20, Review: 3}}}
	q, err := Build(tree, 1, cards, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(q.Main); !slices.Equal(got, []int64{3, 4, 1}) {
		t.Errorf("Expected day learning before reviews within the limit, but got %v", got)
	}
	if q.Counts.Learning != 2 || q.Counts.Review != 1 {
		t.Errorf("Expected 2 learning and 1 review, but got %+v", q.Counts)
	}
}

func TestMix(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{{ID: 1, Name: "Default"}})
	cards := newCards(1, 100, 2)
	for i := range 4 {
		cards = append(cards, domain.Card{
			ID: int64(i + 1), DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: today,
		})
	}

	tests := []struct {
		mix  Mix
		want []int64
	}{
		{mix: ReviewsFirst, want: []int64{1, 2, 3, 4, 100, 101}},
		{mix: NewFirst, want: []int64{100, 101, 1, 2, 3, 4}},
		{mix: Interleave, want: []int64{1, 100, 2, 3, 101, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.mix.String(), func(t *testing.T) {
			opts := Options{Today: today, Now: now, Mix: tt.mix, Limits: map[int64]deck.Limit{1: {New: 20, Review: 200}}}
			q, err := Build(tree, 1, cards, opts)
			if err != nil {
				t.Fatal(err)
			}
			if got := ids(q.Main); !slices.Equal(got, tt.want) {
				t.Errorf("Expected %v, but got %v", tt.want, got)
			}
		})
	}
}

func TestParseMix(t *testing.T) {
	tests := []struct {
		in      string
		want    Mix
		wantErr bool
	}{
		{in: "", want: ReviewsFirst},
		{in: "new_first", want: NewFirst},
		{in: "Interleave", want: Interleave},
		{in: "sideways", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMix(tt.in)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("ParseMix(%q): expected ErrInvalidArgument, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMix(%q): expected %v, got %v (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestFilteredDeckIgnoresLimits(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{
		{ID: 1, Name: "Default"},
		{ID: 2, Name: "Cram", Filtered: &domain.FilteredConfig{Search: "is:new"}},
	})
	opts := Options{Today: today, Now: now, Limits: map[int64]deck.Limit{
		1: {New: 1, Review: 1},
		2: {Unlimited: true},
	}}
	q, err := Build(tree, 2, newCards(2, 1, 30), opts)
	if err != nil {
		t.Fatal(err)
	}
	if q.Counts.New != 30 {
		t.Errorf("Expected all 30 cards, but got %d", q.Counts.New)
	}
}

func TestUnknownRoot(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{{ID: 1, Name: "Default"}})
	if _, err := Build(tree, 5, nil, Options{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}

func TestCollapseLearning(t *testing.T) {
	tree := deck.NewTree([]domain.Deck{{ID: 1, Name: "Default"}})
	learning := []domain.Card{
		{ID: 1, DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: now - 5},
		{ID: 2, DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: now + 300},
	}
	opts := Options{Today: today, Now: now, LearnAheadSecs: DefaultLearnAheadSecs, Limits: map[int64]deck.Limit{1: {New: 20, Review: 200}}}

	q, err := Build(tree, 1, learning, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := q.CollapseLearning(1, now+60); got != now+301 {
		t.Errorf("Expected card to be placed after the waiting card at %d, but got %d", now+301, got)
	}
	if got := q.CollapseLearning(1, now+900); got != now+900 {
		t.Errorf("Expected a due after the waiting card to stay at %d, but got %d", now+900, got)
	}

	withNew := append(slices.Clone(learning), newCards(1, 10, 1)...)
	q, err = Build(tree, 1, withNew, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := q.CollapseLearning(1, now+60); got != now+60 {
		t.Errorf("Expected no change while other cards are due, but got %d", got)
	}
}
