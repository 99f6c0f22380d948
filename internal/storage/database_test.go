package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "collection.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := db.Bootstrap(context.Background(), created, domain.DefaultDeckConfig()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return db
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	info, err := db.Collection(ctx)
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if info == nil {
		t.Fatal("Expected collection row after bootstrap, got nil")
	}
	if info.SchedulerVersion != 2 {
		t.Errorf("Expected scheduler version 2, but got %d", info.SchedulerVersion)
	}

	deck, err := db.Deck(ctx, domain.DefaultDeckID)
	if err != nil {
		t.Fatalf("Deck: %v", err)
	}
	if deck == nil || deck.Name != "Default" {
		t.Fatalf("Expected default deck, got %+v", deck)
	}
	cfg, err := db.DeckConfig(ctx, deck.ConfigID)
	if err != nil {
		t.Fatalf("DeckConfig: %v", err)
	}
	if cfg == nil || cfg.New.PerDay != 20 {
		t.Fatalf("Expected default config with 20 new/day, got %+v", cfg)
	}

	// A second bootstrap must not touch the existing collection.
	if err := db.Bootstrap(ctx, time.Now(), domain.DefaultDeckConfig()); err != nil {
		t.Fatalf("Bootstrap again: %v", err)
	}
	again, err := db.Collection(ctx)
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if again.GUID != info.GUID {
		t.Errorf("Expected GUID %s to survive a second bootstrap, but got %s", info.GUID, again.GUID)
	}
}

func TestAddDeckCreatesParents(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.AddDeck(ctx, "Languages::Spanish::Verbs", 1)
	if err != nil {
		t.Fatalf("AddDeck: %v", err)
	}
	decks, err := db.Decks(ctx)
	if err != nil {
		t.Fatalf("Decks: %v", err)
	}
	var names []string
	for _, d := range decks {
		names = append(names, d.Name)
	}
	want := []string{"Default", "Languages", "Languages::Spanish", "Languages::Spanish::Verbs"}
	if len(names) != len(want) {
		t.Fatalf("Expected decks %v, but got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected deck %d to be %q, but got %q", i, want[i], names[i])
		}
	}

	same, err := db.AddDeck(ctx, " Languages :: Spanish::Verbs ", 1)
	if err != nil {
		t.Fatalf("AddDeck existing: %v", err)
	}
	if same != id {
		t.Errorf("Expected existing deck id %d, but got %d", id, same)
	}

	if _, err := db.AddDeck(ctx, " :: ", 1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for empty name, but got %v", err)
	}
}

func TestFilteredDeckRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	fc := domain.DefaultFilteredConfig()
	fc.Search = "deck:Default is:review"
	fc.Reschedule = false
	id, err := db.AddFilteredDeck(ctx, "Cram", fc)
	if err != nil {
		t.Fatalf("AddFilteredDeck: %v", err)
	}
	deck, err := db.Deck(ctx, id)
	if err != nil {
		t.Fatalf("Deck: %v", err)
	}
	if !deck.IsFiltered() {
		t.Fatal("Expected filtered deck")
	}
	if deck.Filtered.Search != fc.Search || deck.Filtered.Reschedule {
		t.Errorf("Expected filter %+v, but got %+v", fc, *deck.Filtered)
	}

	if _, err := db.AddFilteredDeck(ctx, "Cram", fc); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected duplicate filtered deck to fail, but got %v", err)
	}
	if _, err := db.AddDeck(ctx, "Cram::Child", 1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected child of filtered deck to fail, but got %v", err)
	}

	deck.NewToday.Add(10, 3)
	deck.Collapsed = true
	if err := db.UpdateDeck(ctx, deck); err != nil {
		t.Fatalf("UpdateDeck: %v", err)
	}
	reloaded, _ := db.DeckByName(ctx, "Cram")
	if reloaded.NewToday.On(10) != 3 || !reloaded.Collapsed {
		t.Errorf("Expected counters and collapsed flag to persist, got %+v", reloaded)
	}
}

func TestCardLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first := &domain.Card{DeckID: 1, Tags: []string{"verb", "spanish"}}
	second := &domain.Card{DeckID: 1}
	for _, c := range []*domain.Card{first, second} {
		if err := db.AddCard(ctx, c); err != nil {
			t.Fatalf("AddCard: %v", err)
		}
	}
	if first.Due != 1 || second.Due != 2 {
		t.Errorf("Expected positions 1 and 2, but got %d and %d", first.Due, second.Due)
	}
	if first.NoteID == second.NoteID {
		t.Errorf("Expected distinct note ids, both were %d", first.NoteID)
	}

	got, err := db.Card(ctx, first.ID)
	if err != nil {
		t.Fatalf("Card: %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "spanish" {
		t.Errorf("Expected tags to round trip, but got %v", got.Tags)
	}

	got.Type = domain.TypeReview
	got.Queue = domain.QueueReview
	got.Due = 5
	got.Interval = 3
	got.EaseFactor = 2500
	if err := db.UpdateCard(ctx, got); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}

	reviews, err := db.Cards(ctx, domain.CardFilter{Queues: []domain.Queue{domain.QueueReview}})
	if err != nil {
		t.Fatalf("Cards: %v", err)
	}
	if len(reviews) != 1 || reviews[0].ID != first.ID {
		t.Errorf("Expected only card %d in review queue, got %+v", first.ID, reviews)
	}
	n, err := db.CountCards(ctx, domain.CardFilter{DeckIDs: []int64{1}})
	if err != nil {
		t.Fatalf("CountCards: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 cards in deck 1, but got %d", n)
	}

	missing, err := db.Card(ctx, 999)
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for missing card, got %v, %v", missing, err)
	}
	if err := db.UpdateCard(ctx, &domain.Card{ID: 999}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating missing card, got %v", err)
	}
}

func TestDueCounts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	const today = 10
	const cutoff = 5_000

	cards := []domain.Card{
		{DeckID: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: 1},
		{DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: 4_000},
		{DeckID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: 6_000},
		{DeckID: 1, Type: domain.TypeRelearning, Queue: domain.QueueDayLearnRelearn, Due: 10},
		{DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: 9},
		{DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: 11},
		{DeckID: 1, Type: domain.TypeReview, Queue: domain.QueueSuspended, Due: 1},
	}
	for i := range cards {
		if err := db.AddCard(ctx, &cards[i]); err != nil {
			t.Fatalf("AddCard: %v", err)
		}
	}

	counts, err := db.DueCounts(ctx, today, cutoff)
	if err != nil {
		t.Fatalf("DueCounts: %v", err)
	}
	if len(counts) != 1 {
		t.Fatalf("Expected counts for 1 deck, but got %d", len(counts))
	}
	want := domain.DeckDueCounts{DeckID: 1, New: 1, Learning: 2, Review: 1}
	if counts[0] != want {
		t.Errorf("Expected %+v, but got %+v", want, counts[0])
	}
}

func TestAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	boom := errors.New("boom")
	err := db.Atomic(ctx, func(s domain.Store) error {
		if err := s.SetConfigValue(ctx, "rollover", "6"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if _, ok, _ := db.ConfigValue(ctx, "rollover"); ok {
		t.Error("Expected config write to be rolled back")
	}

	err = db.Atomic(ctx, func(s domain.Store) error {
		return s.SetConfigValue(ctx, "rollover", "6")
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if v, ok, _ := db.ConfigValue(ctx, "rollover"); !ok || v != "6" {
		t.Errorf("Expected rollover 6, got %q (present=%v)", v, ok)
	}
}

func TestResolveConfigValue(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := db.SetConfigValue(ctx, "new_review_mix", "reviews_first"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConfigValue(ctx, storage.DeckConfigKey(7, "new_review_mix"), "new_first"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		deckID int64
		want   string
	}{
		{deckID: 7, want: "new_first"},
		{deckID: 8, want: "reviews_first"},
	}
	for _, tt := range tests {
		got, ok, err := storage.ResolveConfigValue(ctx, db, tt.deckID, "new_review_mix")
		if err != nil || !ok {
			t.Fatalf("ResolveConfigValue(%d): %q %v %v", tt.deckID, got, ok, err)
		}
		if got != tt.want {
			t.Errorf("Expected %q for deck %d, but got %q", tt.want, tt.deckID, got)
		}
	}
}

func TestDeckConfigSave(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cfg := domain.DefaultDeckConfig()
	cfg.ID = 0
	cfg.Name = "Hard stuff"
	cfg.Lapse.LeechAction = domain.LeechSuspend
	if err := db.SaveDeckConfig(ctx, &cfg); err != nil {
		t.Fatalf("SaveDeckConfig insert: %v", err)
	}
	if cfg.ID == 0 {
		t.Fatal("Expected insert to assign an id")
	}

	cfg.Review.PerDay = 50
	if err := db.SaveDeckConfig(ctx, &cfg); err != nil {
		t.Fatalf("SaveDeckConfig update: %v", err)
	}
	all, err := db.DeckConfigs(ctx)
	if err != nil {
		t.Fatalf("DeckConfigs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 configs, but got %d", len(all))
	}
	if all[1].Review.PerDay != 50 || all[1].Lapse.LeechAction != domain.LeechSuspend {
		t.Errorf("Expected updated config, got %+v", all[1])
	}

	missing := domain.DefaultDeckConfig()
	missing.ID = 42
	if err := db.SaveDeckConfig(ctx, &missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing config, got %v", err)
	}
}

func TestReviewLog(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	entries := []domain.ReviewLog{
		{CardID: 1, AnsweredAt: base, Rating: domain.Good, Interval: domain.SecsInterval(600), Kind: domain.KindLearning, TakenMillis: 4000},
		{CardID: 1, AnsweredAt: base.Add(time.Minute), Rating: domain.Again, Interval: domain.SecsInterval(60), Kind: domain.KindLearning, TakenMillis: 6000},
		{CardID: 1, AnsweredAt: base.Add(2 * time.Minute), Rating: domain.Good, Interval: domain.DaysInterval(3), Kind: domain.KindReview, TakenMillis: 2000},
		{CardID: 1, AnsweredAt: base.Add(3 * time.Minute), Interval: domain.DaysInterval(5), Kind: domain.KindRescheduled},
	}
	for i := range entries {
		if err := db.AppendReview(ctx, &entries[i]); err != nil {
			t.Fatalf("AppendReview: %v", err)
		}
	}

	history, err := db.Reviews(ctx, 1)
	if err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("Expected 4 entries, but got %d", len(history))
	}
	if history[0].Interval.Duration() != 10*time.Minute {
		t.Errorf("Expected first interval 10m, but got %v", history[0].Interval.Duration())
	}
	if !history[2].AnsweredAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected answered time to round trip, got %v", history[2].AnsweredAt)
	}

	stats, err := db.ReviewStats(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReviewStats: %v", err)
	}
	want := []domain.ReviewStats{
		{Kind: domain.KindLearning, Count: 2, Passed: 1, TotalMillis: 10000},
		{Kind: domain.KindReview, Count: 1, Passed: 1, TotalMillis: 2000},
	}
	if len(stats) != len(want) {
		t.Fatalf("Expected %d stat rows, but got %+v", len(want), stats)
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("Expected %+v, but got %+v", want[i], stats[i])
		}
	}
}
