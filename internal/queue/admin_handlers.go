package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/common"
)

var replayCheck = validator.New()

// AdminHandler serves the operator view of parked tasks: listing, queue
// stats and replay.
type AdminHandler struct {
	Store Store
	Queue Enqueuer
	// DefaultKind is used when a request names no kind.
	DefaultKind       string
	PageSize          int
	VisibilityTimeout time.Duration
	Logger            zerolog.Logger
}

type deadLetterView struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Payload        json.RawMessage `json:"payload"`
}

type replayRequest struct {
	IDs   []string `json:"ids" validate:"max=200,dive,uuid"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit" validate:"gte=0,lte=500"`
}

// List returns parked tasks, newest first. The payload shown is the task
// body, not the queue envelope.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue store unavailable", nil)
		return
	}
	ctx := r.Context()
	kind := h.kindParam(r.URL.Query().Get("kind"))
	page, perPage := common.ParsePagination(r, h.pageSize(), 200)

	parked, err := h.Store.List(ctx, kind, perPage, common.Offset(page, perPage))
	if err == nil {
		var total int64
		if total, err = h.Store.Count(ctx, kind); err == nil {
			common.JSON(w, http.StatusOK, map[string]any{
				"data": viewsOf(parked),
				"meta": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
			})
			return
		}
	}
	h.Logger.Error().Err(err).Str("kind", kind).Msg("reconcile_dlq_list_failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to list parked tasks", nil)
}

// Replay re-enqueues parked tasks named by id, or the oldest page of one
// kind. Each replayed task starts a fresh attempt budget.
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := replayCheck.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids must be uuids and limit at most 500", nil)
		return
	}
	ids := dedupe(req.IDs)
	kind := sanitizeKind(strings.TrimSpace(req.Kind))
	if len(ids) == 0 && kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	targets, failed, err := h.replayTargets(ctx, ids, kind, req.Limit)
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Msg("reconcile_dlq_list_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to list parked tasks", nil)
		return
	}
	replayed := make([]uuid.UUID, 0, len(targets))
	for _, dl := range targets {
		if err := h.requeue(ctx, dl); err != nil {
			h.Logger.Warn().Err(err).Stringer("dlq_id", dl.ID).Msg("reconcile_dlq_replay_failed")
			failed[dl.ID.String()] = "replay failed"
			continue
		}
		replayed = append(replayed, dl.ID)
	}

	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Msg("reconcile_dlq_replayed")
	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) replayTargets(ctx context.Context, ids []string, kind string, limit int) ([]DeadLetter, map[string]string, error) {
	failed := map[string]string{}
	if len(ids) == 0 {
		if limit <= 0 {
			limit = h.pageSize()
		}
		parked, err := h.Store.List(ctx, kind, limit, 0)
		return parked, failed, err
	}
	targets := make([]DeadLetter, 0, len(ids))
	for _, raw := range ids {
		dl, err := h.Store.Get(ctx, uuid.MustParse(raw))
		if err != nil {
			failed[raw] = "not found"
			continue
		}
		targets = append(targets, dl)
	}
	return targets, failed, nil
}

// Stats reports ready, in-flight and parked counts for one kind plus the age
// of the oldest ready task.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
		return
	}
	kind := h.kindParam(r.URL.Query().Get("kind"))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	ready, inflight, err := h.Queue.Depth(ctx, kind)
	var parked int64
	if err == nil {
		parked, err = h.Store.Count(ctx, kind)
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Msg("reconcile_stats_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to read queue", nil)
		return
	}
	QueueDepth.WithLabelValues(kind).Set(float64(ready))
	QueueDLQSize.WithLabelValues(kind).Set(float64(parked))

	var lag time.Duration
	if oldest, err := h.Queue.R.ZRangeWithScores(ctx, queueKey(h.Queue.Prefix, kind), 0, 0).Result(); err == nil && len(oldest) > 0 {
		lag = max(time.Since(time.Unix(0, int64(oldest[0].Score))), 0)
	}
	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":               kind,
		"ready":              ready,
		"processing":         inflight,
		"dlq":                parked,
		"oldest_lag_ms":      lag.Milliseconds(),
		"visibility_timeout": visibility.Seconds(),
	})
}

func (h *AdminHandler) requeue(ctx context.Context, dl DeadLetter) error {
	msg, err := decodeMessage(string(dl.Payload))
	if err != nil {
		return fmt.Errorf("decode parked task: %w", err)
	}
	// the dedup key is cleared so a key that was still held by the failed
	// delivery does not swallow the replay
	if msg.Key != "" {
		if err := h.Queue.R.Del(ctx, dedupKey(h.Queue.Prefix, msg.Kind, msg.Key)).Err(); err != nil {
			return err
		}
	}
	err = h.Queue.Enqueue(ctx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	})
	if err != nil {
		return err
	}
	if err := h.Store.Remove(ctx, dl.ID); err != nil {
		return err
	}
	if n, err := h.Store.Count(ctx, msg.Kind); err == nil {
		QueueDLQSize.WithLabelValues(queueLabel(msg.Kind)).Set(float64(n))
	}
	return nil
}

func (h *AdminHandler) kindParam(raw string) string {
	if kind := sanitizeKind(strings.TrimSpace(raw)); kind != "" {
		return kind
	}
	return sanitizeKind(h.DefaultKind)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func viewsOf(parked []DeadLetter) []deadLetterView {
	views := make([]deadLetterView, 0, len(parked))
	for _, dl := range parked {
		msg, err := decodeMessage(string(dl.Payload))
		if err != nil {
			continue
		}
		views = append(views, deadLetterView{
			ID:             dl.ID,
			Kind:           dl.Kind,
			IdempotencyKey: dl.IdempotencyKey,
			Attempts:       dl.Attempts,
			LastError:      dl.LastError,
			CreatedAt:      dl.CreatedAt,
			Payload:        asJSON(msg.Payload),
		})
	}
	return views
}

// asJSON passes valid JSON through and quotes anything else.
func asJSON(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return payload
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
