package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-donasi/internal/common"
)

// Config picks the bucket for a request and its allowance per Window.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// RejectFunc renders a 429 response.
type RejectFunc func(w http.ResponseWriter, status int, code, message string)

// Handler enforces Config through Limiter. When the limiter cannot answer
// the request is let through and OnError is told why.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
	Reject  RejectFunc
}

// ClientIPKey buckets by path and caller address.
func ClientIPKey(r *http.Request) string {
	return r.URL.Path + ":" + common.ClientIP(r)
}

const rejectMessage = "too many requests, please slow down"

func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Config.Key == nil {
		return next
	}
	reject := h.Reject
	if reject == nil {
		reject = func(w http.ResponseWriter, status int, code, message string) {
			common.JSONError(w, status, code, message, nil)
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		d.writeHeaders(w.Header(), h.Config.Max)
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		RateLimitedTotal.WithLabelValues("sliding").Inc()
		reject(w, http.StatusTooManyRequests, "RATE_LIMITED", rejectMessage)
	})
}

func (d Decision) writeHeaders(h http.Header, limit int) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		wait := max(time.Until(d.ResetAt).Round(time.Second), 0)
		h.Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
	}
}
