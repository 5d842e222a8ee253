package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDeadLetterNotFound is returned when no dead letter has the requested ID.
var ErrDeadLetterNotFound = errors.New("queue: dead letter not found")

// Store parks tasks that exhausted their attempts so operators can inspect
// and replay them.
type Store interface {
	Park(ctx context.Context, dl DeadLetter) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (DeadLetter, error)
	List(ctx context.Context, kind string, limit, offset int) ([]DeadLetter, error)
	Count(ctx context.Context, kind string) (int64, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// DeadLetter is a parked task. Payload holds the full queued message so a
// replay restores kind, key and attempt budget.
type DeadLetter struct {
	ID             uuid.UUID `db:"id"`
	Kind           string    `db:"kind"`
	IdempotencyKey string    `db:"idem_key"`
	Payload        []byte    `db:"payload"`
	Attempts       int       `db:"attempts"`
	LastError      *string   `db:"last_error"`
	CreatedAt      time.Time `db:"created_at"`
}

const deadLetterColumns = `id, kind, COALESCE(idem_key, '') AS idem_key, payload, attempts, last_error, created_at`

// NewStore returns the Postgres-backed Store over the queue_dlq table.
func NewStore(pool *pgxpool.Pool) Store {
	return pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s pgStore) Park(ctx context.Context, dl DeadLetter) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
		 VALUES (@kind, NULLIF(@key, ''), @payload, @attempts, @last_error)
		 RETURNING id`,
		pgx.NamedArgs{
			"kind":       dl.Kind,
			"key":        dl.IdempotencyKey,
			"payload":    dl.Payload,
			"attempts":   dl.Attempts,
			"last_error": dl.LastError,
		}).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("park %s task: %w", dl.Kind, err)
	}
	return id, nil
}

func (s pgStore) Get(ctx context.Context, id uuid.UUID) (DeadLetter, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+deadLetterColumns+` FROM queue_dlq WHERE id = $1`, id)
	if err != nil {
		return DeadLetter{}, err
	}
	dl, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[DeadLetter])
	if errors.Is(err, pgx.ErrNoRows) {
		return DeadLetter{}, ErrDeadLetterNotFound
	}
	return dl, err
}

// List returns newest first. An empty kind lists every kind.
func (s pgStore) List(ctx context.Context, kind string, limit, offset int) ([]DeadLetter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deadLetterColumns+` FROM queue_dlq
		 WHERE @kind = '' OR kind = @kind
		 ORDER BY created_at DESC
		 LIMIT @limit OFFSET @offset`,
		pgx.NamedArgs{
			"kind":   strings.TrimSpace(kind),
			"limit":  min(max(limit, 1), 500),
			"offset": max(offset, 0),
		})
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[DeadLetter])
}

func (s pgStore) Count(ctx context.Context, kind string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_dlq WHERE @kind = '' OR kind = @kind`,
		pgx.NamedArgs{"kind": strings.TrimSpace(kind)}).Scan(&total)
	return total, err
}

func (s pgStore) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}
