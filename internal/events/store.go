package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("events: store unavailable")

// NewStore constructs a Store backed by the domain_events table.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// InsertEvent implements Store.
func (s *pgStore) InsertEvent(ctx context.Context, ev NewEvent) (Event, error) {
	if s == nil || s.pool == nil {
		return Event{}, ErrStoreUnavailable
	}
	var out Event
	err := s.pool.QueryRow(ctx, `INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3) RETURNING id, topic, aggregate_id, payload, occurred_at`,
		ev.Topic, ev.AggregateID, ev.Payload).
		Scan(&out.ID, &out.Topic, &out.AggregateID, &out.Payload, &out.OccurredAt)
	if err != nil {
		return Event{}, err
	}
	return out, nil
}
