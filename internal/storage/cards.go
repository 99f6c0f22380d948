package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
)

const cardColumns = `id, note_id, deck_id, ord, type, queue, due, ivl, factor, reps, lapses, remaining,
	original_deck_id, original_due, original_position, tags, modified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var (
		c    domain.Card
		tags string
	)
	err := row.Scan(
		&c.ID,
		&c.NoteID,
		&c.DeckID,
		&c.Ordinal,
		&c.Type,
		&c.Queue,
		&c.Due,
		&c.Interval,
		&c.EaseFactor,
		&c.Reps,
		&c.Lapses,
		&c.Remaining,
		&c.OriginalDeckID,
		&c.OriginalDue,
		&c.OriginalPosition,
		&tags,
		&c.Modified,
	)
	c.Tags = strings.Fields(tags)
	return c, err
}

// AddCard inserts a card and sets its ID. New cards without a position are
// placed after every existing new card.
func (db *DB) AddCard(ctx context.Context, card *domain.Card) error {
	if card.Queue == domain.QueueNew && card.Due == 0 {
		err := db.q.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(due), 0) + 1 FROM cards WHERE type = ?
		`, domain.TypeNew).Scan(&card.Due)
		if err != nil {
			return fmt.Errorf("failed to find next new position: %w", err)
		}
	}
	if card.Modified.IsZero() {
		card.Modified = time.Now()
	}
	if card.NoteID == 0 {
		if err := db.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(note_id), 0) + 1 FROM cards`).Scan(&card.NoteID); err != nil {
			return fmt.Errorf("failed to allocate note id: %w", err)
		}
	}
	res, err := db.q.ExecContext(ctx, `
		INSERT INTO cards (note_id, deck_id, ord, type, queue, due, ivl, factor, reps, lapses, remaining,
			original_deck_id, original_due, original_position, tags, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		card.NoteID,
		card.DeckID,
		card.Ordinal,
		card.Type,
		card.Queue,
		card.Due,
		card.Interval,
		card.EaseFactor,
		card.Reps,
		card.Lapses,
		card.Remaining,
		card.OriginalDeckID,
		card.OriginalDue,
		card.OriginalPosition,
		strings.Join(card.Tags, " "),
		card.Modified,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card for note %d: %w", card.NoteID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for card: %w", err)
	}
	card.ID = id
	return nil
}

// Card retrieves a card by ID.
func (db *DB) Card(ctx context.Context, id int64) (*domain.Card, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to find card %d: %w", id, err)
	}
	return &c, nil
}

func cardWhere(f domain.CardFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(col string, n int, values func(i int) any) {
		if n == 0 {
			return
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, placeholders(n)))
		for i := range n {
			args = append(args, values(i))
		}
	}
	add("id", len(f.IDs), func(i int) any { return f.IDs[i] })
	add("note_id", len(f.NoteIDs), func(i int) any { return f.NoteIDs[i] })
	add("deck_id", len(f.DeckIDs), func(i int) any { return f.DeckIDs[i] })
	add("queue", len(f.Queues), func(i int) any { return int(f.Queues[i]) })
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Cards retrieves every card matching the filter, ordered by ID.
func (db *DB) Cards(ctx context.Context, filter domain.CardFilter) ([]domain.Card, error) {
	where, args := cardWhere(filter)
	rows, err := db.q.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate card rows: %w", err)
	}
	return cards, nil
}

// CountCards counts the cards matching the filter.
func (db *DB) CountCards(ctx context.Context, filter domain.CardFilter) (int, error) {
	where, args := cardWhere(filter)
	var n int
	if err := db.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// UpdateCard persists every scheduling field of a card.
func (db *DB) UpdateCard(ctx context.Context, card *domain.Card) error {
	res, err := db.q.ExecContext(ctx, `
		UPDATE cards
		SET deck_id = ?, type = ?, queue = ?, due = ?, ivl = ?, factor = ?, reps = ?, lapses = ?,
			remaining = ?, original_deck_id = ?, original_due = ?, original_position = ?, tags = ?,
			modified_at = ?
		WHERE id = ?
	`,
		card.DeckID,
		card.Type,
		card.Queue,
		card.Due,
		card.Interval,
		card.EaseFactor,
		card.Reps,
		card.Lapses,
		card.Remaining,
		card.OriginalDeckID,
		card.OriginalDue,
		card.OriginalPosition,
		strings.Join(card.Tags, " "),
		card.Modified,
		card.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update card %d: %w", card.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update card %d: %w", card.ID, domain.ErrNotFound)
	}
	return nil
}

// DueCounts returns raw per-deck counts of new cards, learning cards due
// by learnCutoff or today, and reviews due today.
func (db *DB) DueCounts(ctx context.Context, today int, learnCutoff int64) ([]domain.DeckDueCounts, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT deck_id,
			SUM(CASE WHEN queue = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN (queue IN (?, ?) AND due <= ?) OR (queue = ? AND due <= ?) THEN 1 ELSE 0 END),
			SUM(CASE WHEN queue = ? AND due <= ? THEN 1 ELSE 0 END)
		FROM cards
		GROUP BY deck_id
		ORDER BY deck_id
	`,
		domain.QueueNew,
		domain.QueueLearning, domain.QueuePreview, learnCutoff,
		domain.QueueDayLearnRelearn, today,
		domain.QueueReview, today,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count due cards: %w", err)
	}
	defer rows.Close()

	var counts []domain.DeckDueCounts
	for rows.Next() {
		var c domain.DeckDueCounts
		if err := rows.Scan(&c.DeckID, &c.New, &c.Learning, &c.Review); err != nil {
			return nil, fmt.Errorf("failed to scan due count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due count rows: %w", err)
	}
	return counts, nil
}
