package audit

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-donasi/internal/common"
	"github.com/noah-isme/backend-donasi/internal/obs"
)

// ActorKind is who performed an audited action.
type ActorKind string

const (
	ActorKindAdmin     ActorKind = "admin"
	ActorKindSystem    ActorKind = "system"
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind    ActorKind
	AdminID *string
	Email   string
}

// Entry is one audit_logs row.
type Entry struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ActorKind    string          `json:"actor_kind" db:"actor_kind"`
	ActorID      *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	ActorEmail   *string         `json:"actor_email,omitempty" db:"actor_email"`
	Action       string          `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   *string         `json:"resource_id,omitempty" db:"resource_id"`
	Method       string          `json:"method" db:"method"`
	Path         string          `json:"path" db:"path"`
	Route        *string         `json:"route,omitempty" db:"route"`
	Status       int             `json:"status" db:"status"`
	IP           *string         `json:"ip,omitempty" db:"ip"`
	UserAgent    *string         `json:"user_agent,omitempty" db:"user_agent"`
	RequestID    *string         `json:"request_id,omitempty" db:"request_id"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// ListFilter narrows ListAuditLogs. Zero-valued fields match everything.
type ListFilter struct {
	Limit        int
	Offset       int
	ActorID      *uuid.UUID
	ResourceType string
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, e Entry) error
	ListAuditLogs(ctx context.Context, filter ListFilter) ([]Entry, int64, error)
}

// Event is one action to audit. Empty Action and ResourceType are derived
// from the request method and route pattern.
type Event struct {
	Actor        Actor
	Action       string
	ResourceType string
	ResourceID   string
	Request      *http.Request
	Status       int
	// Metadata must be a JSON object; when empty the raw query is stored.
	Metadata []byte
}

// Service persists audit logs for admin actions.
type Service struct {
	Store   Store
	Enabled bool
	// SamplingRate in (0,1) keeps that share of events; other values keep all.
	SamplingRate float64
}

// Record stores ev unless auditing is off or the event is sampled out.
func (s Service) Record(ctx context.Context, ev Event) error {
	if !s.Enabled || !s.sampled() {
		return nil
	}
	if ev.Request == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	return s.Store.InsertAuditLog(ctx, ev.entry())
}

func (s Service) sampled() bool {
	if s.SamplingRate <= 0 || s.SamplingRate >= 1 {
		return true
	}
	return rand.Float64() < s.SamplingRate
}

func (ev Event) entry() Entry {
	req := ev.Request
	route := obs.Route(req)
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	status := ev.Status
	if status == 0 {
		status = http.StatusOK
	}
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		action = strings.ToUpper(req.Method) + " " + cmp.Or(route, "/")
	}
	return Entry{
		ActorKind:    string(ev.Actor.kind()),
		ActorID:      ev.Actor.id(),
		ActorEmail:   optional(ev.Actor.Email),
		Action:       action,
		ResourceType: buildResource(ev.ResourceType, route),
		ResourceID:   optional(ev.ResourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        optional(route),
		Status:       status,
		IP:           optional(common.ClientIP(req)),
		UserAgent:    optional(req.UserAgent()),
		RequestID:    optional(requestID(req)),
		Metadata:     metadataOrQuery(ev.Metadata, req.URL.RawQuery),
	}
}

func (a Actor) kind() ActorKind {
	if a.Kind == ActorKindAdmin || a.Kind == ActorKindSystem {
		return a.Kind
	}
	return ActorKindAnonymous
}

func (a Actor) id() *uuid.UUID {
	if a.AdminID == nil {
		return nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*a.AdminID))
	if err != nil {
		return nil
	}
	return &id
}

func requestID(req *http.Request) string {
	if id := middleware.GetReqID(req.Context()); id != "" {
		return id
	}
	return req.Header.Get(middleware.RequestIDHeader)
}

// buildResource turns a route like /api/v1/admin/donations/{id}/refunds into
// "donations.refunds" when no explicit type is given.
func buildResource(explicit, route string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	segments := strings.Split(strings.Trim(route, "/ "), "/")
	segments = trimPrefix(segments, "api", "v1")
	segments = trimPrefix(segments, "admin")
	var kept []string
	for _, seg := range segments {
		if seg != "" && !strings.HasPrefix(seg, "{") {
			kept = append(kept, seg)
		}
	}
	if len(kept) == 0 {
		return "unknown"
	}
	return strings.Join(kept, ".")
}

// trimPrefix drops prefix from segments when more segments follow it.
func trimPrefix(segments []string, prefix ...string) []string {
	if len(segments) <= len(prefix) {
		return segments
	}
	for i, p := range prefix {
		if segments[i] != p {
			return segments
		}
	}
	return segments[len(prefix):]
}

func optional(value string) *string {
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}
	return &value
}

func metadataOrQuery(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 && json.Valid(metadata) {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, _ := json.Marshal(map[string]string{"query": query})
	return data
}
