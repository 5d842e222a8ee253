package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/common"
)

var draining atomic.Bool

// SetReady flips readiness. The API turns it off when shutdown starts so load
// balancers stop routing before the listener closes.
func SetReady(v bool) {
	draining.Store(!v)
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	Checks []Check
	Logger zerolog.Logger
}

// Live always answers ok while the process can serve HTTP.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check concurrently and answers 503 if any fails. Check
// errors are logged, the response only names the failing dependency.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	results := make([]error, len(h.Checks))
	var wg sync.WaitGroup
	for i, p := range h.Checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.run(r.Context())
		}()
	}
	wg.Wait()

	code := http.StatusOK
	body := map[string]string{"status": "ok"}
	for i, p := range h.Checks {
		body[p.Name] = "ok"
		if err := results[i]; err != nil {
			h.Logger.Warn().Err(err).Str("check", p.Name).Msg("readiness_check_failed")
			body[p.Name] = "unavailable"
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	common.JSON(w, code, body)
}

func (p Check) run(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Ping(ctx)
}
