package common

import "context"

type ctxKey string

const (
	adminIDKey    ctxKey = "auth/admin-id"
	adminEmailKey ctxKey = "auth/admin-email"
)

// WithAdmin stores the authenticated administrator on the provided context.
func WithAdmin(ctx context.Context, id, email string) context.Context {
	ctx = context.WithValue(ctx, adminIDKey, id)
	return context.WithValue(ctx, adminEmailKey, email)
}

// AdminID extracts the authenticated administrator identifier from the context if present.
func AdminID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(adminIDKey).(string)
	return id, ok && id != ""
}

// AdminEmail returns the email recorded alongside the admin identifier.
func AdminEmail(ctx context.Context) string {
	email, _ := ctx.Value(adminEmailKey).(string)
	return email
}
