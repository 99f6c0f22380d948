// Package scheduler is the study engine: it picks the next card, applies
// answers and manual schedule changes, and reports counts and estimates.
//
// Mutations are serialized: a mutation that arrives while another is in
// flight fails with domain.ErrConcurrentMutation instead of waiting. Reads
// may run concurrently with each other but wait for an in-flight mutation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conorfennell/knolsched/internal/clock"
	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/eta"
	"github.com/conorfennell/knolsched/internal/queue"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/go-playground/validator/v10"
)

// Collection config keys read by the scheduler. Mix and fuzz may be
// overridden per deck with storage.DeckConfigKey.
const (
	KeyRollover       = "rollover"
	KeyLearnAheadSecs = "learn_ahead_secs"
	KeyNewReviewMix   = "new_review_mix"
	KeyFuzz           = "fuzz"
)

// Options are the process-level defaults. Values stored in the collection
// config take precedence.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock
	// Location is the timezone the rollover hour is interpreted in.
	Location       *time.Location
	RolloverHour   int
	LearnAheadSecs int64
	Fuzz           bool
	Mix            queue.Mix
	// DefaultConfig stands in for config groups that have gone missing.
	DefaultConfig domain.DeckConfig
}

// DefaultOptions returns the stock options.
func DefaultOptions() Options {
	return Options{
		Logger:         slog.Default(),
		Clock:          clock.System{},
		Location:       time.Local,
		RolloverHour:   clock.DefaultRolloverHour,
		LearnAheadSecs: queue.DefaultLearnAheadSecs,
		Fuzz:           true,
		Mix:            queue.ReviewsFirst,
		DefaultConfig:  domain.DefaultDeckConfig(),
	}
}

// Scheduler owns one collection.
type Scheduler struct {
	store    domain.Store
	opts     Options
	log      *slog.Logger
	validate *validator.Validate
	eta      *eta.Estimator

	busy     atomic.Bool
	mu       sync.RWMutex
	answered atomic.Int64
}

// New creates a Scheduler over store.
func New(store domain.Store, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scheduler{
		store:    store,
		opts:     opts,
		log:      opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		eta:      eta.NewEstimator(store),
	}
}

// AnswersRecorded returns how many answers this process has recorded.
func (s *Scheduler) AnswersRecorded() int64 {
	return s.answered.Load()
}

// mutate runs fn in a transaction while holding the mutation guard. The
// caller's cancellation is ignored once the mutation has started.
func (s *Scheduler) mutate(ctx context.Context, op string, fn func(ctx context.Context, st domain.Store) error) error {
	if !s.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", op, domain.ErrConcurrentMutation)
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	err := s.store.Atomic(ctx, func(st domain.Store) error {
		return fn(ctx, st)
	})
	if err != nil {
		s.logFailure(op, err)
		return err
	}
	return nil
}

// read runs fn against the store, waiting for any in-flight mutation.
func (s *Scheduler) read(fn func(st domain.Store) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.store)
}

func (s *Scheduler) logFailure(op string, err error) {
	var ise *domain.InvalidStateError
	switch {
	case errors.As(err, &ise):
		s.log.Warn("Operation aborted on inconsistent card",
			"op", op, "card_id", ise.CardID, "queue", ise.Queue.String(), "type", ise.Type.String(), "error", err)
	case errors.Is(err, domain.ErrInvalidState):
		s.log.Warn("Operation aborted on invalid state", "op", op, "error", err)
	case errors.Is(err, domain.ErrConcurrentMutation), errors.Is(err, domain.ErrSchemaChangeRequired):
		s.log.Info("Operation not performed", "op", op, "error", err)
	}
}

// env is the time context of one call.
type env struct {
	timing clock.Timing
	now    time.Time
	today  int
}

func (e env) nowSecs() int64 {
	return e.now.Unix()
}

func (s *Scheduler) env(ctx context.Context, st domain.Store) (env, error) {
	info, err := st.Collection(ctx)
	if err != nil {
		return env{}, err
	}
	if info == nil {
		return env{}, fmt.Errorf("collection not initialized: %w", domain.ErrNotFound)
	}
	hour := s.opts.RolloverHour
	if v, ok, err := st.ConfigValue(ctx, KeyRollover); err != nil {
		return env{}, err
	} else if ok {
		h, perr := strconv.Atoi(v)
		if perr != nil || h < 0 || h > 23 {
			s.log.Warn("Malformed rollover hour, using default", "value", v, "default", clock.DefaultRolloverHour)
			h = clock.DefaultRolloverHour
		}
		hour = h
	}
	timing := clock.NewTiming(info.Created, hour, s.opts.Location)
	now := s.opts.Clock.Now()
	return env{timing: timing, now: now, today: timing.Today(now)}, nil
}

func (s *Scheduler) learnAheadSecs(ctx context.Context, st domain.Store) (int64, error) {
	v, ok, err := st.ConfigValue(ctx, KeyLearnAheadSecs)
	if err != nil || !ok {
		return s.opts.LearnAheadSecs, err
	}
	secs, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil || secs < 0 {
		s.log.Warn("Malformed learn-ahead setting, using default", "value", v)
		return s.opts.LearnAheadSecs, nil
	}
	return secs, nil
}

func (s *Scheduler) mix(ctx context.Context, st domain.Store, deckID int64) (queue.Mix, error) {
	v, ok, err := storage.ResolveConfigValue(ctx, st, deckID, KeyNewReviewMix)
	if err != nil || !ok {
		return s.opts.Mix, err
	}
	m, perr := queue.ParseMix(v)
	if perr != nil {
		s.log.Warn("Malformed new/review mix, using default", "deck_id", deckID, "value", v)
		return s.opts.Mix, nil
	}
	return m, nil
}

func (s *Scheduler) fuzz(ctx context.Context, st domain.Store, deckID int64) (bool, error) {
	v, ok, err := storage.ResolveConfigValue(ctx, st, deckID, KeyFuzz)
	if err != nil || !ok {
		return s.opts.Fuzz, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		s.log.Warn("Malformed fuzz setting, using default", "deck_id", deckID, "value", v)
		return s.opts.Fuzz, nil
	}
	return b, nil
}

// resolveConfig returns the config group of d, falling back to the default
// config when the group no longer exists.
func (s *Scheduler) resolveConfig(ctx context.Context, st domain.Store, d *domain.Deck) (*domain.DeckConfig, error) {
	cfg, err := st.DeckConfig(ctx, d.ConfigID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		s.log.Warn("Deck config missing, using defaults",
			"deck_id", d.ID, "config_id", d.ConfigID, "error", domain.ErrConfigMissing)
		def := s.opts.DefaultConfig
		return &def, nil
	}
	return cfg, nil
}

func (s *Scheduler) loadDeck(ctx context.Context, st domain.Store, id int64) (*domain.Deck, error) {
	d, err := st.Deck(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("deck %d: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

func (s *Scheduler) loadCard(ctx context.Context, st domain.Store, id int64) (*domain.Card, error) {
	c, err := st.Card(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("card %d: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// DeckConfigFor returns the config group governing a deck.
func (s *Scheduler) DeckConfigFor(ctx context.Context, deckID int64) (*domain.DeckConfig, error) {
	var cfg *domain.DeckConfig
	err := s.read(func(st domain.Store) error {
		d, err := s.loadDeck(ctx, st, deckID)
		if err != nil {
			return err
		}
		cfg, err = s.resolveConfig(ctx, st, d)
		return err
	})
	return cfg, err
}

// SaveDeckConfig validates and persists a config group. A zero ID inserts a
// new group and assigns its ID.
func (s *Scheduler) SaveDeckConfig(ctx context.Context, cfg *domain.DeckConfig) error {
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid deck config %q: %w: %v", cfg.Name, domain.ErrInvalidArgument, err)
	}
	cfg.Modified = s.opts.Clock.Now()
	return s.mutate(ctx, "save deck config", func(ctx context.Context, st domain.Store) error {
		return st.SaveDeckConfig(ctx, cfg)
	})
}

// snapshot is everything needed to build queues for a request.
type snapshot struct {
	env    env
	tree   *deck.Tree
	limits map[int64]deck.Limit
}

func (s *Scheduler) snapshot(ctx context.Context, st domain.Store) (*snapshot, error) {
	e, err := s.env(ctx, st)
	if err != nil {
		return nil, err
	}
	decks, err := st.Decks(ctx)
	if err != nil {
		return nil, err
	}
	configs := make(map[int64]*domain.DeckConfig)
	limits := make(map[int64]deck.Limit, len(decks))
	for i := range decks {
		d := &decks[i]
		if d.IsFiltered() {
			limits[d.ID] = deck.Remaining(d, nil, e.today)
			continue
		}
		cfg, ok := configs[d.ConfigID]
		if !ok {
			if cfg, err = s.resolveConfig(ctx, st, d); err != nil {
				return nil, err
			}
			configs[d.ConfigID] = cfg
		}
		limits[d.ID] = deck.Remaining(d, cfg, e.today)
	}
	return &snapshot{env: e, tree: deck.NewTree(decks), limits: limits}, nil
}

var studyQueues = []domain.Queue{
	domain.QueueNew,
	domain.QueueLearning,
	domain.QueueReview,
	domain.QueueDayLearnRelearn,
	domain.QueuePreview,
}

func (s *Scheduler) buildQueues(ctx context.Context, st domain.Store, snap *snapshot, deckID int64) (*queue.Queues, error) {
	ids := snap.tree.Preorder(deckID)
	if len(ids) == 0 {
		return nil, fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
	}
	cards, err := st.Cards(ctx, domain.CardFilter{DeckIDs: ids, Queues: studyQueues})
	if err != nil {
		return nil, err
	}
	learnAhead, err := s.learnAheadSecs(ctx, st)
	if err != nil {
		return nil, err
	}
	mix, err := s.mix(ctx, st, deckID)
	if err != nil {
		return nil, err
	}
	return queue.Build(snap.tree, deckID, cards, queue.Options{
		Today:          snap.env.today,
		Now:            snap.env.nowSecs(),
		LearnAheadSecs: learnAhead,
		Mix:            mix,
		Limits:         snap.limits,
	})
}
