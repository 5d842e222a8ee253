package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-donasi/internal/common"
)

const (
	defaultAccessTTL = 30 * time.Minute
	minPasswordLen   = 10
	emailClaim       = "email"
)

// Service authenticates administrators and issues access tokens.
type Service struct {
	store     Store
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	signer    jwa.SignatureAlgorithm
	validator TokenValidator
	issuer    string
	audience  string
	clockSkew time.Duration
}

// Config configures the auth service.
type Config struct {
	Store          Store
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
	Now            func() time.Time
}

// Admin is the administrator view returned to clients.
type Admin struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// LoginResult carries the issued access token.
type LoginResult struct {
	Admin        Admin     `json:"admin"`
	AccessToken  string    `json:"access_token"`
	AccessExpiry time.Time `json:"access_expires_at"`
}

// Claims is the identity carried by a verified access token.
type Claims struct {
	AdminID string
	Email   string
}

// NewService constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-donasi"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "donasi-admin"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     cfg.Store,
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       now,
		signer:    jwa.HS256,
		validator: TokenValidator{Issuer: issuer, Audience: audience, ClockSkew: clockSkew, Algorithm: jwa.HS256, MaxLifetime: accessTTL, RequiredClaims: []string{emailClaim}},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}, nil
}

var emailCheck = validator.New()

// dummyHash keeps Login's cost uniform when the email is unknown.
var dummyHash, _ = argon2id.CreateHash("not-a-real-password", argon2id.DefaultParams)

// Login checks the credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, common.NewAppError("VALIDATION_ERROR", "email and password are required", httpStatusBadRequest, nil)
	}
	rec, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			_, _ = argon2id.ComparePasswordAndHash(password, dummyHash)
			return LoginResult{}, invalidCredentials()
		}
		return LoginResult{}, fmt.Errorf("load admin: %w", err)
	}
	match, err := argon2id.ComparePasswordAndHash(password, rec.PasswordHash)
	if err != nil {
		return LoginResult{}, fmt.Errorf("compare password: %w", err)
	}
	if !match {
		return LoginResult{}, invalidCredentials()
	}

	token, expiry, err := s.signAccessToken(rec)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	at := s.now()
	if err := s.store.TouchLogin(ctx, rec.ID, at); err == nil {
		rec.LastLoginAt = &at
	}
	return LoginResult{Admin: toAdmin(rec), AccessToken: token, AccessExpiry: expiry}, nil
}

// Me returns the administrator identified by adminID.
func (s *Service) Me(ctx context.Context, adminID string) (Admin, error) {
	id, err := uuid.Parse(strings.TrimSpace(adminID))
	if err != nil {
		return Admin{}, common.NewAppError("UNAUTHORIZED", "unauthorized", httpStatusUnauthorized, nil)
	}
	rec, err := s.store.GetAdminByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			return Admin{}, common.NewAppError("UNAUTHORIZED", "unauthorized", httpStatusUnauthorized, nil)
		}
		return Admin{}, fmt.Errorf("load admin: %w", err)
	}
	return toAdmin(rec), nil
}

// CreateAdmin registers a new administrator. It backs the bootstrap tool; there is
// no public registration route.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (Admin, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" {
		return Admin{}, common.NewAppError("VALIDATION_ERROR", "name is required", httpStatusBadRequest, nil)
	}
	if err := emailCheck.Var(email, "required,email"); err != nil {
		return Admin{}, common.NewAppError("VALIDATION_ERROR", "email is invalid", httpStatusBadRequest, err)
	}
	if len(password) < minPasswordLen {
		return Admin{}, common.NewAppError("WEAK_PASSWORD", fmt.Sprintf("password must be at least %d characters", minPasswordLen), httpStatusBadRequest, nil)
	}
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return Admin{}, fmt.Errorf("hash password: %w", err)
	}
	rec, err := s.store.CreateAdmin(ctx, name, email, hash)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return Admin{}, common.NewAppError("EMAIL_TAKEN", "email already registered", httpStatusConflict, err)
		}
		return Admin{}, fmt.Errorf("create admin: %w", err)
	}
	return toAdmin(rec), nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "missing token", httpStatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", httpStatusUnauthorized, err)
	}
	claims := Claims{AdminID: parsed.Subject()}
	if v, ok := parsed.Get(emailClaim); ok {
		claims.Email, _ = v.(string)
	}
	return claims, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

func (s *Service) signAccessToken(rec AdminRecord) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	token, err := jwt.NewBuilder().
		Subject(rec.ID.String()).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim(emailClaim, rec.Email).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func invalidCredentials() error {
	return common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", httpStatusUnauthorized, nil)
}

func toAdmin(rec AdminRecord) Admin {
	return Admin{
		ID:          rec.ID.String(),
		Name:        rec.Name,
		Email:       rec.Email,
		CreatedAt:   rec.CreatedAt,
		LastLoginAt: rec.LastLoginAt,
	}
}

const httpStatusBadRequest = 400
const httpStatusUnauthorized = 401
const httpStatusConflict = 409
