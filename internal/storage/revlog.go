package storage

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/oklog/ulid/v2"
)

// AppendReview writes a review-log entry, assigning a time-ordered ID if it has none.
func (db *DB) AppendReview(ctx context.Context, entry *domain.ReviewLog) error {
	if entry.ID == (ulid.ULID{}) {
		entry.ID = ulid.MustNew(ulid.Timestamp(entry.AnsweredAt), rand.Reader)
	}
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO revlog (id, card_id, answered_at, rating, ivl, last_ivl, factor, taken_ms, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID.String(),
		entry.CardID,
		entry.AnsweredAt.UnixMilli(),
		entry.Rating,
		entry.Interval,
		entry.LastInterval,
		entry.EaseFactor,
		entry.TakenMillis,
		entry.Kind,
	)
	if err != nil {
		return fmt.Errorf("failed to append review for card %d: %w", entry.CardID, err)
	}
	return nil
}

// Reviews returns the review history of a card, oldest first.
func (db *DB) Reviews(ctx context.Context, cardID int64) ([]domain.ReviewLog, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT id, card_id, answered_at, rating, ivl, last_ivl, factor, taken_ms, kind
		FROM revlog WHERE card_id = ? ORDER BY id
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews for card %d: %w", cardID, err)
	}
	defer rows.Close()

	var entries []domain.ReviewLog
	for rows.Next() {
		var (
			e          domain.ReviewLog
			id         string
			answeredAt int64
		)
		if err := rows.Scan(&id, &e.CardID, &answeredAt, &e.Rating, &e.Interval, &e.LastInterval, &e.EaseFactor, &e.TakenMillis, &e.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan review row for card %d: %w", cardID, err)
		}
		if e.ID, err = ulid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse review id %q: %w", id, err)
		}
		e.AnsweredAt = time.UnixMilli(answeredAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review rows: %w", err)
	}
	return entries, nil
}

// ReviewStats aggregates answered reviews since the given time by kind.
// Manual and rescheduled entries carry no rating and are excluded.
func (db *DB) ReviewStats(ctx context.Context, since time.Time) ([]domain.ReviewStats, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT kind, COUNT(*), SUM(CASE WHEN rating > 1 THEN 1 ELSE 0 END), SUM(taken_ms)
		FROM revlog
		WHERE answered_at > ? AND rating > 0
		GROUP BY kind
		ORDER BY kind
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reviews: %w", err)
	}
	defer rows.Close()

	var stats []domain.ReviewStats
	for rows.Next() {
		var s domain.ReviewStats
		if err := rows.Scan(&s.Kind, &s.Count, &s.Passed, &s.TotalMillis); err != nil {
			return nil, fmt.Errorf("failed to scan review stats row: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review stats rows: %w", err)
	}
	return stats, nil
}
