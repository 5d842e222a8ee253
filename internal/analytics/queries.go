package analytics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewQuerier returns a Querier reading the donations table.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgQuerier{pool: pool}
}

type pgQuerier struct {
	pool *pgxpool.Pool
}

func (q *pgQuerier) DailyTotals(ctx context.Context, from, to time.Time) ([]DailyTotal, error) {
	rows, err := q.pool.Query(ctx, `SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
       COALESCE(SUM(amount), 0), COUNT(*)
FROM donations
WHERE payment_status = 'success' AND created_at >= $1 AND created_at < $2
GROUP BY day
ORDER BY day`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyTotal
	for rows.Next() {
		var d DailyTotal
		if err := rows.Scan(&d.Day, &d.Amount, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *pgQuerier) PurposeTotals(ctx context.Context, from, to time.Time) ([]PurposeTotal, error) {
	rows, err := q.pool.Query(ctx, `SELECT COALESCE(NULLIF(purpose, ''), 'General Donation') AS p,
       COALESCE(SUM(amount), 0), COUNT(*)
FROM donations
WHERE payment_status = 'success' AND created_at >= $1 AND created_at < $2
GROUP BY p
ORDER BY 2 DESC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurposeTotal
	for rows.Next() {
		var p PurposeTotal
		if err := rows.Scan(&p.Purpose, &p.Amount, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *pgQuerier) AnonymousCount(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM donations
WHERE payment_status = 'success' AND is_anonymous AND created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	return n, err
}
