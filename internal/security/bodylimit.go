package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/backend-donasi/internal/common"
)

// RejectFunc renders a rejected request. Public donation routes pass their
// own envelope writer; the default is common.JSONError.
type RejectFunc func(w http.ResponseWriter, status int, code, message string)

// BodyLimit caps request bodies at Max bytes. The body is read up front so
// an oversized payload is refused before any handler decodes it.
type BodyLimit struct {
	Max    int64
	Reject RejectFunc
}

func (b BodyLimit) reject(w http.ResponseWriter, status int, code, message string) {
	if b.Reject != nil {
		b.Reject(w, status, code, message)
		return
	}
	common.JSONError(w, status, code, message, nil)
}

// Middleware answers 413 for bodies over the limit and 400 for bodies that
// cannot be read.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			b.reject(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large")
			return
		}
		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, b.Max))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				b.reject(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large")
				return
			}
			b.reject(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}
