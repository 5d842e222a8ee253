package audit

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/common"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store  Store
	Logger zerolog.Logger
}

// List handles GET /api/v1/admin/audit?page=&limit=&actor_id=&resource_type=.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50, 200)
	query := r.URL.Query()
	filter := ListFilter{
		Limit:        perPage,
		Offset:       common.Offset(page, perPage),
		ResourceType: strings.TrimSpace(query.Get("resource_type")),
	}
	if raw := query.Get("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "actor_id must be a uuid", nil)
			return
		}
		filter.ActorID = &id
	}

	rows, total, err := h.Store.ListAuditLogs(r.Context(), filter)
	if err != nil {
		h.Logger.Error().Err(err).Str("resource_type", filter.ResourceType).Msg("audit_list_failed")
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	if rows == nil {
		rows = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": rows,
		"meta": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}
