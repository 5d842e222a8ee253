package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore returns a Store backed by the audit_logs table.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const listWhere = `WHERE (@actor_id::uuid IS NULL OR actor_id = @actor_id)
  AND (@resource_type = '' OR resource_type = @resource_type)`

func (s *pgStore) InsertAuditLog(ctx context.Context, e Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO audit_logs (actor_kind, actor_id, actor_email, action, resource_type, resource_id,
  method, path, route, status, ip, user_agent, request_id, metadata)
VALUES (@actor_kind, @actor_id, @actor_email, @action, @resource_type, @resource_id,
  @method, @path, @route, @status, @ip, @user_agent, @request_id, @metadata)`,
		pgx.NamedArgs{
			"actor_kind":    e.ActorKind,
			"actor_id":      e.ActorID,
			"actor_email":   e.ActorEmail,
			"action":        e.Action,
			"resource_type": e.ResourceType,
			"resource_id":   e.ResourceID,
			"method":        e.Method,
			"path":          e.Path,
			"route":         e.Route,
			"status":        int32(e.Status),
			"ip":            e.IP,
			"user_agent":    e.UserAgent,
			"request_id":    e.RequestID,
			"metadata":      metadata,
		})
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (s *pgStore) ListAuditLogs(ctx context.Context, filter ListFilter) ([]Entry, int64, error) {
	args := pgx.NamedArgs{
		"actor_id":      filter.ActorID,
		"resource_type": filter.ResourceType,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	}
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs `+listWhere, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, actor_kind, actor_id, actor_email, action, resource_type, resource_id,
  method, path, route, status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs `+listWhere+`
ORDER BY created_at DESC
LIMIT @limit OFFSET @offset`, args)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[Entry])
	if err != nil {
		return nil, 0, fmt.Errorf("audit: scan: %w", err)
	}
	return entries, total, nil
}
