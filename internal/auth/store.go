package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAdminNotFound is returned when no administrator matches the lookup.
	ErrAdminNotFound = errors.New("auth: admin not found")
	// ErrEmailTaken is returned when an administrator with the email already exists.
	ErrEmailTaken = errors.New("auth: email already registered")
)

// AdminRecord is the persisted administrator row including the password hash.
type AdminRecord struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// Store persists administrator accounts.
type Store interface {
	CreateAdmin(ctx context.Context, name, email, passwordHash string) (AdminRecord, error)
	GetAdminByEmail(ctx context.Context, email string) (AdminRecord, error)
	GetAdminByID(ctx context.Context, id uuid.UUID) (AdminRecord, error)
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// NewStore returns a Store backed by the admin_users table.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const adminColumns = `id, name, email, password_hash, created_at, last_login_at`

func (s *pgStore) CreateAdmin(ctx context.Context, name, email, passwordHash string) (AdminRecord, error) {
	row := s.pool.QueryRow(ctx, `INSERT INTO admin_users (name, email, password_hash)
VALUES ($1, $2, $3)
RETURNING `+adminColumns, strings.TrimSpace(name), normalizeEmail(email), passwordHash)
	rec, err := scanAdmin(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return AdminRecord{}, ErrEmailTaken
		}
		return AdminRecord{}, err
	}
	return rec, nil
}

func (s *pgStore) GetAdminByEmail(ctx context.Context, email string) (AdminRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE email = $1`, normalizeEmail(email))
	return scanAdmin(row)
}

func (s *pgStore) GetAdminByID(ctx context.Context, id uuid.UUID) (AdminRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE id = $1`, id)
	return scanAdmin(row)
}

func (s *pgStore) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE admin_users SET last_login_at = $2 WHERE id = $1`, id, at)
	return err
}

func scanAdmin(row pgx.Row) (AdminRecord, error) {
	var (
		rec       AdminRecord
		lastLogin pgtype.Timestamptz
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Email, &rec.PasswordHash, &rec.CreatedAt, &lastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AdminRecord{}, ErrAdminNotFound
		}
		return AdminRecord{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		rec.LastLoginAt = &t
	}
	return rec, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
