package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/common"
	"github.com/noah-isme/backend-donasi/internal/obs"
)

type stubStore struct {
	mu      sync.Mutex
	entries []Entry
	filter  ListFilter
}

func (s *stubStore) InsertAuditLog(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *stubStore) ListAuditLogs(_ context.Context, filter ListFilter) ([]Entry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filter
	return s.entries, int64(len(s.entries)), nil
}

func TestServiceRecord(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true, SamplingRate: 1}
	adminID := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "https://api.test/api/v1/admin/reconciliation/replay?kind=donation-reconcile", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoute(req.Context(), "/api/v1/admin/reconciliation/replay"))

	err := svc.Record(req.Context(), Event{
		Actor:   Actor{Kind: ActorKindAdmin, AdminID: &adminID, Email: "ops@example.org"},
		Request: req,
		Status:  http.StatusAccepted,
	})
	require.NoError(t, err)
	require.Len(t, store.entries, 1)

	e := store.entries[0]
	require.Equal(t, "admin", e.ActorKind)
	require.NotNil(t, e.ActorID)
	require.Equal(t, adminID, e.ActorID.String())
	require.Equal(t, "ops@example.org", *e.ActorEmail)
	require.Equal(t, "POST /api/v1/admin/reconciliation/replay", e.Action)
	require.Equal(t, "reconciliation.replay", e.ResourceType)
	require.Equal(t, http.StatusAccepted, e.Status)
	require.Equal(t, "10.0.0.2", *e.IP)
	require.Equal(t, "req-123", *e.RequestID)
	require.JSONEq(t, `{"query":"kind=donation-reconcile"}`, string(e.Metadata))
}

func TestServiceRecordDisabled(t *testing.T) {
	store := &stubStore{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, Service{Store: store}.Record(context.Background(), Event{Request: req}))
	require.Empty(t, store.entries)

	require.Error(t, Service{Enabled: true}.Record(context.Background(), Event{Request: req}))
	require.Error(t, Service{Store: store, Enabled: true}.Record(context.Background(), Event{}))
}

func TestBuildResource(t *testing.T) {
	cases := map[string]string{
		"/api/v1/admin/donations/{id}":  "donations",
		"/api/v1/admin/donations/stats": "donations.stats",
		"/api/v1/auth/me":               "auth.me",
		"/healthz":                      "healthz",
		"":                              "unknown",
		"/api/v1/admin":                 "admin",
	}
	for route, want := range cases {
		require.Equal(t, want, buildResource("", route), route)
	}
	require.Equal(t, "explicit", buildResource("explicit", "/x"))
}

func TestMiddlewareRecordsAdminActor(t *testing.T) {
	store := &stubStore{}
	svc := &Service{Store: store, Enabled: true}
	var recordErr error
	rec := HTTPRecorder{Service: svc, OnError: func(err error) { recordErr = err }}

	r := chi.NewRouter()
	r.Use(obs.Scoped)
	r.With(rec.Middleware(HTTPConfig{
		ResourceType:    "donation",
		ResourceIDParam: "id",
		MetadataFunc: func(_ *http.Request, status int) map[string]any {
			return map[string]any{"status": status}
		},
	})).Get("/api/v1/admin/donations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	adminID := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/donations/abc", nil)
	req = req.WithContext(common.WithAdmin(req.Context(), adminID, "ops@example.org"))
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, recordErr)
	require.Len(t, store.entries, 1)
	e := store.entries[0]
	require.Equal(t, "admin", e.ActorKind)
	require.Equal(t, "donation", e.ResourceType)
	require.Equal(t, "abc", *e.ResourceID)
	require.Equal(t, http.StatusNotFound, e.Status)
	require.JSONEq(t, `{"status":404}`, string(e.Metadata))
}

func TestMiddlewareSkipsWhenDisabled(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: &Service{Store: store}}
	h := rec.Middleware(HTTPConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, store.entries)
}

type failingStore struct{ stubStore }

func (*failingStore) ListAuditLogs(context.Context, ListFilter) ([]Entry, int64, error) {
	return nil, 0, errors.New("db down")
}

func TestHandlerList(t *testing.T) {
	store := &stubStore{entries: []Entry{{Action: "GET /api/v1/admin/donations", Method: "GET"}}}
	h := Handler{Store: store}

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/audit?page=3&limit=25&resource_type=reconciliation", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 25, store.filter.Limit)
	require.Equal(t, 50, store.filter.Offset)
	require.Equal(t, "reconciliation", store.filter.ResourceType)

	var payload struct {
		Data []Entry          `json:"data"`
		Meta common.Pagination `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload.Data, 1)
	require.Equal(t, int64(1), payload.Meta.TotalItems)

	rr = httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/audit?actor_id=nope", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	Handler{Store: &failingStore{}}.List(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "db down")
}
