package donation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("donation: store unavailable")

// Store persists donation records.
type Store interface {
	InsertDonation(ctx context.Context, rec Record) (Record, error)
	GetDonation(ctx context.Context, id uuid.UUID) (Record, error)
	GetDonationByTransaction(ctx context.Context, transactionID string) (Record, error)
	ListDonations(ctx context.Context, filter ListFilter) ([]Record, int64, error)
	MarkReceiptSent(ctx context.Context, id uuid.UUID) error
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const donationColumns = `id, amount, currency, donation_type, donor_name, donor_email, donor_phone, purpose, notes,
is_anonymous, payment_status, payment_method, transaction_id, order_id, receipt_sent, created_at, updated_at`

// InsertDonation stores a record. A second insert for the same transaction id
// returns ErrDuplicateTransaction.
func (s *pgStore) InsertDonation(ctx context.Context, rec Record) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO donations (amount, currency, donation_type, donor_name, donor_email, donor_phone,
purpose, notes, is_anonymous, payment_status, payment_method, transaction_id, order_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING `+donationColumns,
		rec.Amount, rec.Currency, rec.DonationType, rec.DonorName, text(rec.DonorEmail), text(rec.DonorPhone),
		text(rec.Purpose), text(rec.Notes), rec.IsAnonymous, string(rec.PaymentStatus), text(rec.PaymentMethod),
		text(rec.TransactionID), text(rec.OrderID))
	saved, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Record{}, ErrDuplicateTransaction
		}
		return Record{}, err
	}
	return saved, nil
}

// GetDonation fetches a record by id.
func (s *pgStore) GetDonation(ctx context.Context, id uuid.UUID) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrStoreUnavailable
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+donationColumns+` FROM donations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// GetDonationByTransaction fetches a record by gateway payment id.
func (s *pgStore) GetDonationByTransaction(ctx context.Context, transactionID string) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrStoreUnavailable
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+donationColumns+` FROM donations WHERE transaction_id = $1`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// ListDonations returns a page of records, newest first, and the total count.
func (s *pgStore) ListDonations(ctx context.Context, filter ListFilter) ([]Record, int64, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	status := string(filter.Status)

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM donations WHERE ($1 = '' OR payment_status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count donations: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+donationColumns+` FROM donations
WHERE ($1 = '' OR payment_status = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, status, limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list donations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// MarkReceiptSent flags the record once the donor receipt has been delivered.
func (s *pgStore) MarkReceiptSent(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE donations SET receipt_sent = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                                                       Record
		email, phone, purpose, notes, method, transaction, orderID pgtype.Text
		status                                                    string
	)
	err := row.Scan(&rec.ID, &rec.Amount, &rec.Currency, &rec.DonationType, &rec.DonorName, &email, &phone, &purpose, &notes,
		&rec.IsAnonymous, &status, &method, &transaction, &orderID, &rec.ReceiptSent, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.DonorEmail = email.String
	rec.DonorPhone = phone.String
	rec.Purpose = purpose.String
	rec.Notes = notes.String
	rec.PaymentMethod = method.String
	rec.TransactionID = transaction.String
	rec.OrderID = orderID.String
	rec.PaymentStatus = PaymentStatus(status)
	return rec, nil
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
