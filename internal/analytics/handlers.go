package analytics

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/common"
)

const maxRangeDays = 366

// Handler exposes donation analytics endpoints.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// Stats handles GET /api/v1/admin/donations/stats?days=.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRangeDays {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "days must be between 1 and 366", nil)
			return
		}
		days = n
	}
	from, to := h.Svc.Window(days)
	stats, err := h.Svc.Stats(r.Context(), from, to)
	if err != nil {
		h.Logger.Error().Err(err).Msg("donation_stats_failed")
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to load statistics", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}
