package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
)

const deckColumns = `id, name, config_id, filtered, collapsed, new_today_day, new_today_count,
	review_today_day, review_today_count, modified_at`

func scanDeck(row rowScanner) (domain.Deck, error) {
	var (
		d        domain.Deck
		filtered sql.NullString
	)
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.ConfigID,
		&filtered,
		&d.Collapsed,
		&d.NewToday.Day,
		&d.NewToday.Count,
		&d.ReviewToday.Day,
		&d.ReviewToday.Count,
		&d.Modified,
	)
	if err != nil {
		return d, err
	}
	if filtered.Valid {
		var fc domain.FilteredConfig
		if err := json.Unmarshal([]byte(filtered.String), &fc); err != nil {
			return d, fmt.Errorf("failed to decode filtered config of deck %d: %w", d.ID, err)
		}
		d.Filtered = &fc
	}
	return d, nil
}

func encodeFiltered(fc *domain.FilteredConfig) (sql.NullString, error) {
	if fc == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode filtered config: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// AddDeck creates a normal deck, creating any missing parents along the way,
// and returns its ID. An existing deck with the same name is returned as is.
func (db *DB) AddDeck(ctx context.Context, name string, configID int64) (int64, error) {
	return db.addDeck(ctx, name, configID, nil)
}

// AddFilteredDeck creates a filtered deck and returns its ID.
func (db *DB) AddFilteredDeck(ctx context.Context, name string, fc domain.FilteredConfig) (int64, error) {
	if existing, err := db.DeckByName(ctx, name); err != nil {
		return 0, err
	} else if existing != nil {
		return 0, fmt.Errorf("deck %q already exists: %w", name, domain.ErrInvalidArgument)
	}
	return db.addDeck(ctx, name, domain.DefaultDeckID, &fc)
}

func (db *DB) addDeck(ctx context.Context, name string, configID int64, fc *domain.FilteredConfig) (int64, error) {
	name = normalizeDeckName(name)
	if name == "" {
		return 0, fmt.Errorf("deck name is empty: %w", domain.ErrInvalidArgument)
	}
	parts := strings.Split(name, domain.DeckSeparator)
	var id int64
	for i := range parts {
		prefix := strings.Join(parts[:i+1], domain.DeckSeparator)
		existing, err := db.DeckByName(ctx, prefix)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			if existing.IsFiltered() && i < len(parts)-1 {
				return 0, fmt.Errorf("filtered deck %q cannot have children: %w", prefix, domain.ErrInvalidArgument)
			}
			id = existing.ID
			continue
		}
		var filtered sql.NullString
		if i == len(parts)-1 {
			if filtered, err = encodeFiltered(fc); err != nil {
				return 0, err
			}
		}
		res, err := db.q.ExecContext(ctx, `
			INSERT INTO decks (name, config_id, filtered, modified_at)
			VALUES (?, ?, ?, ?)
		`, prefix, configID, filtered, time.Now())
		if err != nil {
			return 0, fmt.Errorf("failed to insert deck %s: %w", prefix, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to get last insert ID for deck %s: %w", prefix, err)
		}
	}
	return id, nil
}

func normalizeDeckName(name string) string {
	parts := strings.Split(name, domain.DeckSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, domain.DeckSeparator)
}

// Deck retrieves a deck by ID.
func (db *DB) Deck(ctx context.Context, id int64) (*domain.Deck, error) {
	d, err := scanDeck(db.q.QueryRowContext(ctx, `SELECT `+deckColumns+` FROM decks WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Deck not found
		}
		return nil, fmt.Errorf("failed to find deck %d: %w", id, err)
	}
	return &d, nil
}

// DeckByName retrieves a deck by its full name.
func (db *DB) DeckByName(ctx context.Context, name string) (*domain.Deck, error) {
	d, err := scanDeck(db.q.QueryRowContext(ctx, `SELECT `+deckColumns+` FROM decks WHERE name = ?`, normalizeDeckName(name)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Deck not found
		}
		return nil, fmt.Errorf("failed to find deck %q: %w", name, err)
	}
	return &d, nil
}

// Decks retrieves every deck ordered by name.
func (db *DB) Decks(ctx context.Context) ([]domain.Deck, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT `+deckColumns+` FROM decks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all decks: %w", err)
	}
	defer rows.Close()

	var decks []domain.Deck
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decks = append(decks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deck rows: %w", err)
	}
	return decks, nil
}

// UpdateDeck persists a deck's config, filter, collapsed flag and daily counters.
func (db *DB) UpdateDeck(ctx context.Context, deck *domain.Deck) error {
	filtered, err := encodeFiltered(deck.Filtered)
	if err != nil {
		return err
	}
	_, err = db.q.ExecContext(ctx, `
		UPDATE decks
		SET name = ?, config_id = ?, filtered = ?, collapsed = ?, new_today_day = ?, new_today_count = ?,
			review_today_day = ?, review_today_count = ?, modified_at = ?
		WHERE id = ?
	`,
		deck.Name,
		deck.ConfigID,
		filtered,
		deck.Collapsed,
		deck.NewToday.Day,
		deck.NewToday.Count,
		deck.ReviewToday.Day,
		deck.ReviewToday.Count,
		deck.Modified,
		deck.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deck %d: %w", deck.ID, err)
	}
	return nil
}

// DeckConfig retrieves a config group by ID.
func (db *DB) DeckConfig(ctx context.Context, id int64) (*domain.DeckConfig, error) {
	var (
		raw      string
		modified time.Time
	)
	err := db.q.QueryRowContext(ctx, `SELECT config, modified_at FROM deck_configs WHERE id = ?`, id).Scan(&raw, &modified)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Config not found
		}
		return nil, fmt.Errorf("failed to find deck config %d: %w", id, err)
	}
	var cfg domain.DeckConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode deck config %d: %w", id, err)
	}
	cfg.ID = id
	cfg.Modified = modified
	return &cfg, nil
}

// DeckConfigs retrieves every config group ordered by ID.
func (db *DB) DeckConfigs(ctx context.Context) ([]domain.DeckConfig, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT id, config, modified_at FROM deck_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all deck configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.DeckConfig
	for rows.Next() {
		var (
			id       int64
			raw      string
			modified time.Time
			cfg      domain.DeckConfig
		)
		if err := rows.Scan(&id, &raw, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan deck config row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode deck config %d: %w", id, err)
		}
		cfg.ID = id
		cfg.Modified = modified
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deck config rows: %w", err)
	}
	return configs, nil
}

// SaveDeckConfig inserts cfg when its ID is zero and updates it otherwise.
func (db *DB) SaveDeckConfig(ctx context.Context, cfg *domain.DeckConfig) error {
	if cfg.Modified.IsZero() {
		cfg.Modified = time.Now()
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode deck config %q: %w", cfg.Name, err)
	}
	if cfg.ID == 0 {
		res, err := db.q.ExecContext(ctx, `
			INSERT INTO deck_configs (name, config, modified_at) VALUES (?, ?, ?)
		`, cfg.Name, string(raw), cfg.Modified)
		if err != nil {
			return fmt.Errorf("failed to insert deck config %q: %w", cfg.Name, err)
		}
		if cfg.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID for deck config %q: %w", cfg.Name, err)
		}
		return nil
	}
	res, err := db.q.ExecContext(ctx, `
		UPDATE deck_configs SET name = ?, config = ?, modified_at = ? WHERE id = ?
	`, cfg.Name, string(raw), cfg.Modified, cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to update deck config %d: %w", cfg.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update deck config %d: %w", cfg.ID, domain.ErrNotFound)
	}
	return nil
}
