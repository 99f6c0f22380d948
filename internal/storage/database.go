package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB represents a wrapper around the SQL database connection.
// Inside Atomic, q is the open transaction.
type DB struct {
	conn *sql.DB
	q    querier
}

var _ domain.Store = (*DB)(nil)

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db, q: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Atomic runs fn in a transaction. fn must only use the Store it is given:
// the connection pool holds one connection, so touching db directly from
// inside fn blocks forever.
func (db *DB) Atomic(ctx context.Context, fn func(domain.Store) error) error {
	if _, inTx := db.q.(*sql.Tx); inTx {
		return fn(db)
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&DB{conn: db.conn, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Bootstrap creates the collection row, the default config group and the
// default deck on first use. It is a no-op for an existing collection.
func (db *DB) Bootstrap(ctx context.Context, created time.Time, defaults domain.DeckConfig) error {
	return db.Atomic(ctx, func(s domain.Store) error {
		tx := s.(*DB)
		info, err := tx.Collection(ctx)
		if err != nil {
			return err
		}
		if info != nil {
			return nil
		}
		_, err = tx.q.ExecContext(ctx, `
			INSERT INTO col (id, guid, created_at, modified_at, schema_modified_at, sched_ver, last_unburied)
			VALUES (1, ?, ?, ?, ?, 2, 0)
		`, uuid.NewString(), created, created, created)
		if err != nil {
			return fmt.Errorf("failed to insert collection: %w", err)
		}

		defaults.ID = 0
		defaults.Modified = created
		if err := tx.SaveDeckConfig(ctx, &defaults); err != nil {
			return err
		}
		if _, err := tx.AddDeck(ctx, "Default", defaults.ID); err != nil {
			return err
		}
		return nil
	})
}

// Collection returns the collection metadata row, or nil if not bootstrapped.
func (db *DB) Collection(ctx context.Context) (*domain.CollectionInfo, error) {
	var (
		info domain.CollectionInfo
		guid string
	)
	err := db.q.QueryRowContext(ctx, `
		SELECT guid, created_at, modified_at, schema_modified_at, sched_ver, last_unburied
		FROM col WHERE id = 1
	`).Scan(&guid, &info.Created, &info.Modified, &info.SchemaModified, &info.SchedulerVersion, &info.LastUnburiedDay)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not bootstrapped yet
		}
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	info.GUID, err = uuid.Parse(guid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse collection guid %q: %w", guid, err)
	}
	return &info, nil
}

// UpdateCollection persists the collection metadata row.
func (db *DB) UpdateCollection(ctx context.Context, info *domain.CollectionInfo) error {
	_, err := db.q.ExecContext(ctx, `
		UPDATE col
		SET guid = ?, modified_at = ?, schema_modified_at = ?, sched_ver = ?, last_unburied = ?
		WHERE id = 1
	`,
		info.GUID.String(),
		info.Modified,
		info.SchemaModified,
		info.SchedulerVersion,
		info.LastUnburiedDay,
	)
	if err != nil {
		return fmt.Errorf("failed to update collection: %w", err)
	}
	return nil
}

// ConfigValue reads a key from the collection config.
func (db *DB) ConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.q.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read config key %s: %w", key, err)
	}
	return value, true, nil
}

// SetConfigValue writes a key to the collection config.
func (db *DB) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config key %s: %w", key, err)
	}
	return nil
}

// DeckConfigKey scopes a collection config key to a deck.
func DeckConfigKey(deckID int64, key string) string {
	return fmt.Sprintf("deck:%d:%s", deckID, key)
}

// ResolveConfigValue reads a deck-scoped key, falling back to the
// collection-wide key.
func ResolveConfigValue(ctx context.Context, s domain.ConfigStore, deckID int64, key string) (string, bool, error) {
	if v, ok, err := s.ConfigValue(ctx, DeckConfigKey(deckID, key)); err != nil || ok {
		return v, ok, err
	}
	return s.ConfigValue(ctx, key)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
