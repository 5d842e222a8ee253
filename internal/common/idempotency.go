package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// Idem is an Idempotency-Key middleware backed by Redis. The first request
// for a key runs the handler and stores its response; repeats within TTL get
// the stored response back. A repeat while the first is still running, or a
// key reused on another path, is rejected. 5xx responses are not stored so
// the client can retry.
type Idem struct {
	R      redis.Cmdable
	TTL    time.Duration
	Prefix string
	// Reject renders rejections. Defaults to JSONError.
	Reject func(w http.ResponseWriter, status int, code, message string)
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

func (i Idem) key(r *http.Request, header string) string {
	prefix := strings.TrimSpace(i.Prefix)
	if prefix == "" {
		prefix = "idem"
	}
	sum := sha256.Sum256([]byte(r.URL.Path + "\n" + header))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

func (i Idem) reject(w http.ResponseWriter, status int, code, message string) {
	if i.Reject != nil {
		i.Reject(w, status, code, message)
		return
	}
	JSONError(w, status, code, message, nil)
}

// Middleware enforces idempotency for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(header) > 255 {
			i.reject(w, http.StatusBadRequest, "BAD_REQUEST", "idempotency key too long")
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		ctx := r.Context()
		key := i.key(r, header)

		claimed, err := i.R.SetNX(ctx, key, idemPending, ttl).Result()
		if err != nil {
			i.reject(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "please retry shortly")
			return
		}
		if !claimed {
			i.replay(ctx, w, key)
			return
		}

		rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			// a panicking handler releases the key so the client can retry
			if !completed {
				_ = i.R.Del(context.Background(), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)
		completed = true

		if rec.status >= http.StatusInternalServerError {
			_ = i.R.Del(context.Background(), key).Err()
			return
		}
		payload, err := json.Marshal(storedResponse{
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		})
		if err != nil {
			_ = i.R.Del(context.Background(), key).Err()
			return
		}
		_ = i.R.Set(context.Background(), key, payload, ttl).Err()
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		i.reject(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "please retry shortly")
		return
	}
	if err == redis.Nil || raw == idemPending {
		i.reject(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "request with this idempotency key is in progress")
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		i.reject(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "request with this idempotency key is in progress")
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type bodyRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bodyRecorder) WriteHeader(code int) {
	if !b.wroteHeader {
		b.status = code
		b.wroteHeader = true
	}
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.wroteHeader = true
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}
