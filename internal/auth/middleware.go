package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-donasi/internal/common"
	"github.com/noah-isme/backend-donasi/internal/obs"
)

// TokenParser verifies bearer tokens.
type TokenParser interface {
	ParseAccessToken(token string) (Claims, error)
}

// Middleware guards admin routes.
type Middleware struct {
	Tokens TokenParser
}

// RequireAuth rejects requests without a valid admin bearer token and stores the
// admin identity on the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Tokens == nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth not configured", nil)
			return
		}
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		claims, err := m.Tokens.ParseAccessToken(token)
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
				common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, nil)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		obs.ScopeFrom(r.Context()).SetAdmin(claims.AdminID)
		ctx := common.WithAdmin(r.Context(), claims.AdminID, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
