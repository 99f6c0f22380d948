package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CardFilter narrows a card query. Empty fields match everything.
type CardFilter struct {
	IDs     []int64
	NoteIDs []int64
	// DeckIDs matches the deck a card currently sits in, filtered or not.
	DeckIDs []int64
	Queues  []Queue
}

// CollectionInfo is the collection-wide metadata row.
type CollectionInfo struct {
	GUID             uuid.UUID
	Created          time.Time
	Modified         time.Time
	SchemaModified   time.Time
	SchedulerVersion int
	// LastUnburiedDay is the last day on which buried cards were restored.
	LastUnburiedDay int
}

// DeckDueCounts are the raw, unlimited counts of cards due in one deck.
type DeckDueCounts struct {
	DeckID   int64
	New      int
	Learning int
	Review   int
}

// CardStore loads and persists cards. Lookups of a missing card return nil, nil.
type CardStore interface {
	Card(ctx context.Context, id int64) (*Card, error)
	Cards(ctx context.Context, filter CardFilter) ([]Card, error)
	CountCards(ctx context.Context, filter CardFilter) (int, error)
	UpdateCard(ctx context.Context, card *Card) error
	// DueCounts returns per-deck raw due counts for day today, counting
	// intraday learning cards due at or before learnCutoff (epoch seconds).
	DueCounts(ctx context.Context, today int, learnCutoff int64) ([]DeckDueCounts, error)
}

// DeckStore loads and persists decks and their config groups.
type DeckStore interface {
	Deck(ctx context.Context, id int64) (*Deck, error)
	Decks(ctx context.Context) ([]Deck, error)
	UpdateDeck(ctx context.Context, deck *Deck) error
	DeckConfig(ctx context.Context, id int64) (*DeckConfig, error)
	DeckConfigs(ctx context.Context) ([]DeckConfig, error)
	// SaveDeckConfig inserts the config when its ID is zero and updates it otherwise.
	SaveDeckConfig(ctx context.Context, cfg *DeckConfig) error
}

// ConfigStore is the flat key-value collection config.
type ConfigStore interface {
	ConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// ReviewLogStore is the append-only review log.
type ReviewLogStore interface {
	AppendReview(ctx context.Context, entry *ReviewLog) error
	Reviews(ctx context.Context, cardID int64) ([]ReviewLog, error)
	ReviewStats(ctx context.Context, since time.Time) ([]ReviewStats, error)
}

// CollectionStore persists the collection metadata row.
type CollectionStore interface {
	Collection(ctx context.Context) (*CollectionInfo, error)
	UpdateCollection(ctx context.Context, info *CollectionInfo) error
}

// Store is everything the scheduler needs from persistence.
type Store interface {
	CardStore
	DeckStore
	ConfigStore
	ReviewLogStore
	CollectionStore
	// Atomic runs fn inside a transaction. Any error rolls back every write
	// made through the Store passed to fn.
	Atomic(ctx context.Context, fn func(Store) error) error
}
