package filtered_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/filtered"
	"github.com/conorfennell/knolsched/internal/storage"
)

func TestParseSearch(t *testing.T) {
	tests := []struct {
		in      string
		want    filtered.Search
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "is:due", want: filtered.Search{{Key: "is", Value: "due"}}},
		{
			in: `deck:"Spanish Verbs" -is:new tag:hard`,
			want: filtered.Search{
				{Key: "deck", Value: "Spanish Verbs"},
				{Key: "is", Value: "new", Negate: true},
				{Key: "tag", Value: "hard"},
			},
		},
		{in: "IS:Review", want: filtered.Search{{Key: "is", Value: "review"}}},
		{in: "is:sleepy", wantErr: true},
		{in: "hello", wantErr: true},
		{in: "flag:1", wantErr: true},
		{in: `deck:"unterminated`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := filtered.ParseSearch(tt.in)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidArgument) {
					t.Errorf("Expected ErrInvalidArgument, but got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSearch: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Expected %+v, but got %+v", tt.want, got)
			}
		})
	}
}

func TestSearchMatch(t *testing.T) {
	names := map[int64]string{1: "Default", 2: "Spanish", 3: "Spanish::Verbs", 4: "Spanish Extra"}
	env := filtered.Env{
		Today:    50,
		Now:      1_000_000,
		DeckName: func(id int64) string { return names[id] },
	}
	review := domain.Card{DeckID: 3, Type: domain.TypeReview, Queue: domain.QueueReview, Due: 50, Tags: []string{"Hard"}}
	notDue := domain.Card{DeckID: 4, Type: domain.TypeReview, Queue: domain.QueueReview, Due: 51}
	learning := domain.Card{DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: 999_999}
	fresh := domain.Card{DeckID: 2, Type: domain.TypeNew, Queue: domain.QueueNew, Due: 3}

	tests := []struct {
		search string
		card   domain.Card
		want   bool
	}{
		{"is:due", review, true},
		{"is:due", notDue, false},
		{"is:due", learning, true},
		{"is:due", fresh, false},
		{"deck:spanish", review, true},
		{"deck:Spanish", notDue, false},
		{"deck:Spanish*", notDue, true},
		{"deck:Spanish::Verbs", fresh, false},
		{"-is:new", fresh, false},
		{"-is:new deck:Default", learning, true},
		{"tag:hard", review, true},
		{"is:learn", learning, true},
		{"", fresh, true},
	}
	for _, tt := range tests {
		s, err := filtered.ParseSearch(tt.search)
		if err != nil {
			t.Fatalf("ParseSearch(%q): %v", tt.search, err)
		}
		if got := s.Match(&tt.card, env); got != tt.want {
			t.Errorf("%q on deck %d queue %s: expected %v, but got %v", tt.search, tt.card.DeckID, tt.card.Queue, tt.want, got)
		}
	}
}

func TestSort(t *testing.T) {
	cards := func() []domain.Card {
		return []domain.Card{
			{ID: 1, NoteID: 3, Queue: domain.QueueReview, Due: 40, Interval: 10, Lapses: 1},
			{ID: 2, NoteID: 1, Queue: domain.QueueNew, Due: 1},
			{ID: 3, NoteID: 2, Queue: domain.QueueReview, Due: 45, Interval: 2, Lapses: 4},
			{ID: 4, NoteID: 4, Queue: domain.QueueReview, Due: 30, Interval: 30},
		}
	}
	ids := func(cs []domain.Card) []int64 {
		var out []int64
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}

	tests := []struct {
		order domain.FilteredOrder
		want  []int64
	}{
		{domain.OrderDue, []int64{4, 1, 3, 2}},
		{domain.OrderIntervalsAsc, []int64{2, 3, 1, 4}},
		{domain.OrderIntervalsDesc, []int64{4, 1, 3, 2}},
		{domain.OrderMostLapses, []int64{3, 1, 2, 4}},
		{domain.OrderAdded, []int64{2, 3, 1, 4}},
		{domain.OrderReverseAdded, []int64{4, 1, 3, 2}},
		// today 50: card 3 is 2.5 intervals late, card 1 is 1.0, card 4 0.67.
		{domain.OrderRelativeOverdue, []int64{3, 1, 4, 2}},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			cs := cards()
			filtered.Sort(cs, tt.order, 50, 9)
			if got := ids(cs); !slices.Equal(got, tt.want) {
				t.Errorf("Expected %v, but got %v", tt.want, got)
			}
		})
	}

	first, second := cards(), cards()
	filtered.Sort(first, domain.OrderRandom, 50, 9)
	filtered.Sort(second, domain.OrderRandom, 50, 9)
	if !slices.Equal(ids(first), ids(second)) {
		t.Errorf("Expected random order to be stable for a deck and day, got %v and %v", ids(first), ids(second))
	}
}

func TestRebuildAndEmptyRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "collection.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := db.Bootstrap(ctx, now, domain.DefaultDeckConfig()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	const today = 20

	cards := []*domain.Card{
		{DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: 18, Interval: 5, EaseFactor: 2500},
		{DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: 25, Interval: 5, EaseFactor: 2500},
		{DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: now.Unix() - 30, Remaining: 1},
		{DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueSuspended, Due: 10, Interval: 5},
		{DeckID: 1, Type: domain.TypeNew, Queue: domain.QueueNew},
	}
	for _, c := range cards {
		if err := db.AddCard(ctx, c); err != nil {
			t.Fatalf("AddCard: %v", err)
		}
	}

	for _, resched := range []bool{true, false} {
		fc := domain.DefaultFilteredConfig()
		fc.Reschedule = resched
		name := "Cram"
		if !resched {
			name = "Preview"
		}
		deckID, err := db.AddFilteredDeck(ctx, name, fc)
		if err != nil {
			t.Fatalf("AddFilteredDeck: %v", err)
		}

		overlay := filtered.New(db)
		n, err := overlay.Rebuild(ctx, deckID, today, now)
		if err != nil {
			t.Fatalf("Rebuild: %v", err)
		}
		if n != 2 {
			t.Fatalf("Expected 2 due cards in %s, but got %d", name, n)
		}
		moved, err := db.Cards(ctx, domain.CardFilter{DeckIDs: []int64{deckID}})
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range moved {
			if c.OriginalDeckID != 1 {
				t.Errorf("Expected card %d to remember deck 1, but got %d", c.ID, c.OriginalDeckID)
			}
		}
		if moved[0].ID != cards[0].ID || moved[0].Due != domain.FilteredPositionBase {
			t.Errorf("Expected the review card at the first filtered position, got %+v", moved[0])
		}

		if _, err := overlay.Empty(ctx, deckID, now); err != nil {
			t.Fatalf("Empty: %v", err)
		}
		for _, want := range cards {
			got, err := db.Card(ctx, want.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.DeckID != want.DeckID || got.Due != want.Due || got.Queue != want.Queue || got.OriginalDeckID != 0 || got.OriginalDue != 0 {
				t.Errorf("%s: expected card %d restored to deck %d due %d, got deck %d due %d (orig %d/%d)",
					name, want.ID, want.DeckID, want.Due, got.DeckID, got.Due, got.OriginalDeckID, got.OriginalDue)
			}
		}
	}

	if _, err := filtered.New(db).Rebuild(ctx, 1, today, now); !errors.Is(err, domain.ErrNotFiltered) {
		t.Errorf("Expected ErrNotFiltered for a normal deck, but got %v", err)
	}
	if _, err := filtered.New(db).Empty(ctx, 999, now); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing deck, but got %v", err)
	}
}

func TestRebuildSkipsCardsInOtherFilteredDecks(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "collection.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := db.Bootstrap(ctx, now, domain.DefaultDeckConfig()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	const today = 20
	card := &domain.Card{DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: 18, Interval: 5, EaseFactor: 2500}
	if err := db.AddCard(ctx, card); err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	overlay := filtered.New(db)
	first, err := db.AddFilteredDeck(ctx, "First", domain.DefaultFilteredConfig())
	if err != nil {
		t.Fatalf("AddFilteredDeck: %v", err)
	}
	if n, err := overlay.Rebuild(ctx, first, today, now); err != nil || n != 1 {
		t.Fatalf("Expected 1 card in First, but got %d (%v)", n, err)
	}

	second, err := db.AddFilteredDeck(ctx, "Second", domain.DefaultFilteredConfig())
	if err != nil {
		t.Fatalf("AddFilteredDeck: %v", err)
	}
	if n, err := overlay.Rebuild(ctx, second, today, now); err != nil || n != 0 {
		t.Errorf("Expected Second to stay empty, but got %d (%v)", n, err)
	}
	got, err := db.Card(ctx, card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeckID != first {
		t.Errorf("Expected the card to stay in deck %d, but got %d", first, got.DeckID)
	}
}
