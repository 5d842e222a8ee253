package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator holds the rules an admin access token must meet beyond a
// valid signature.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
	// MaxLifetime caps exp minus iat, so a token minted with a longer TTL
	// than the server issues is refused. Zero disables the check.
	MaxLifetime    time.Duration
	RequiredClaims []string
}

// adminSubject requires sub to be an admin UUID.
var adminSubject = jwt.ValidatorFunc(func(_ context.Context, tok jwt.Token) jwt.ValidationError {
	if tok.Subject() == "" {
		return jwt.NewValidationError(errors.New("token missing subject"))
	}
	if _, err := uuid.Parse(tok.Subject()); err != nil {
		return jwt.NewValidationError(fmt.Errorf("subject is not an admin id: %w", err))
	}
	return nil
})

// Validate checks tok, signed with algorithm, as of now.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	switch {
	case algorithm == "":
		return errors.New("auth: token missing algorithm")
	case v.Algorithm != "" && algorithm != v.Algorithm:
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(v.ClockSkew),
		jwt.WithValidator(adminSubject),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	if v.MaxLifetime > 0 {
		opts = append(opts, jwt.WithMaxDelta(v.MaxLifetime, jwt.ExpirationKey, jwt.IssuedAtKey))
	}
	for _, name := range v.RequiredClaims {
		opts = append(opts, jwt.WithRequiredClaim(name))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}
