package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/common"
)

type memStore struct {
	mu     sync.Mutex
	admins map[uuid.UUID]AdminRecord
}

func newMemStore() *memStore {
	return &memStore{admins: make(map[uuid.UUID]AdminRecord)}
}

func (m *memStore) CreateAdmin(_ context.Context, name, email, hash string) (AdminRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.Email == email {
			return AdminRecord{}, ErrEmailTaken
		}
	}
	rec := AdminRecord{ID: uuid.New(), Name: name, Email: email, PasswordHash: hash, CreatedAt: time.Now()}
	m.admins[rec.ID] = rec
	return rec, nil
}

func (m *memStore) GetAdminByEmail(_ context.Context, email string) (AdminRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.Email == email {
			return a, nil
		}
	}
	return AdminRecord{}, ErrAdminNotFound
}

func (m *memStore) GetAdminByID(_ context.Context, id uuid.UUID) (AdminRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[id]
	if !ok {
		return AdminRecord{}, ErrAdminNotFound
	}
	return a, nil
}

func (m *memStore) TouchLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.admins[id]
	a.LastLoginAt = &at
	m.admins[id] = a
	return nil
}

const testJWTSecret = "jwt-test-secret"

func newTestService(t *testing.T, now func() time.Time) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	svc, err := NewService(Config{Store: store, Secret: testJWTSecret, AccessTokenTTL: 10 * time.Minute, Now: now})
	require.NoError(t, err)
	return svc, store
}

func appCode(t *testing.T, err error) (string, int) {
	t.Helper()
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code, appErr.HTTPStatus
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Config{Store: newMemStore()})
	require.Error(t, err)
	_, err = NewService(Config{Secret: "x"})
	require.Error(t, err)
}

func TestCreateAdminAndLogin(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	admin, err := svc.CreateAdmin(ctx, "Ops", " Ops@Example.org ", "correct-horse-battery")
	require.NoError(t, err)
	require.Equal(t, "ops@example.org", admin.Email)

	_, err = svc.CreateAdmin(ctx, "Ops 2", "ops@example.org", "correct-horse-battery")
	code, status := appCode(t, err)
	require.Equal(t, "EMAIL_TAKEN", code)
	require.Equal(t, http.StatusConflict, status)

	res, err := svc.Login(ctx, "OPS@example.org", "correct-horse-battery")
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotNil(t, res.Admin.LastLoginAt)

	claims, err := svc.ParseAccessToken(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, admin.ID, claims.AdminID)
	require.Equal(t, "ops@example.org", claims.Email)

	me, err := svc.Me(ctx, claims.AdminID)
	require.NoError(t, err)
	require.Equal(t, "Ops", me.Name)
}

func TestCreateAdminValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateAdmin(ctx, "", "a@example.org", "long-enough-pass")
	code, _ := appCode(t, err)
	require.Equal(t, "VALIDATION_ERROR", code)

	_, err = svc.CreateAdmin(ctx, "A", "not-an-email", "long-enough-pass")
	code, _ = appCode(t, err)
	require.Equal(t, "VALIDATION_ERROR", code)

	_, err = svc.CreateAdmin(ctx, "A", "a@example.org", "short")
	code, _ = appCode(t, err)
	require.Equal(t, "WEAK_PASSWORD", code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.CreateAdmin(ctx, "Ops", "ops@example.org", "correct-horse-battery")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "ops@example.org", "wrong-password")
	code, status := appCode(t, err)
	require.Equal(t, "INVALID_CREDENTIALS", code)
	require.Equal(t, http.StatusUnauthorized, status)

	_, err = svc.Login(ctx, "nobody@example.org", "wrong-password")
	code, _ = appCode(t, err)
	require.Equal(t, "INVALID_CREDENTIALS", code)

	_, err = svc.Login(ctx, "", "")
	code, _ = appCode(t, err)
	require.Equal(t, "VALIDATION_ERROR", code)
}

func TestParseAccessTokenRejectsExpiredAndForeign(t *testing.T) {
	current := time.Now()
	svc, _ := newTestService(t, func() time.Time { return current })
	ctx := context.Background()
	_, err := svc.CreateAdmin(ctx, "Ops", "ops@example.org", "correct-horse-battery")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "ops@example.org", "correct-horse-battery")
	require.NoError(t, err)

	current = current.Add(11 * time.Minute)
	_, err = svc.ParseAccessToken(res.AccessToken)
	require.Error(t, err)

	tok, err := jwt.NewBuilder().Subject(uuid.NewString()).Issuer("backend-donasi").
		Audience([]string{"donasi-admin"}).Expiration(current.Add(time.Hour)).Claim("email", "x@y.z").Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("someone-else")))
	require.NoError(t, err)
	_, err = svc.ParseAccessToken(string(signed))
	require.Error(t, err)

	_, err = svc.ParseAccessToken("")
	require.Error(t, err)
}

func TestLoginAndMeHandlers(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.CreateAdmin(context.Background(), "Ops", "ops@example.org", "correct-horse-battery")
	require.NoError(t, err)
	h := &Handler{Service: svc, Logger: zerolog.Nop()}
	mw := Middleware{Tokens: svc}

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"ops@example.org","password":"correct-horse-battery"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data LoginResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.AccessToken)

	me := mw.RequireAuth(http.HandlerFunc(h.Me))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+body.Data.AccessToken)
	me.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ops@example.org")

	rec = httptest.NewRecorder()
	me.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	me.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"ops@example.org","password":"nope"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
