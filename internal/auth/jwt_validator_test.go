package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

const testAdminID = "5f0c7d1e-8a3b-4c2d-9e6f-1a2b3c4d5e6f"

func buildToken(t *testing.T, issuer string, nbf, exp time.Time, extra map[string]any) jwt.Token {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{"aud"}).
		Subject(testAdminID).
		IssuedAt(nbf).
		NotBefore(nbf).
		Expiration(exp)
	for k, v := range extra {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	return tok
}

func TestTokenValidatorValidateSuccess(t *testing.T) {
	now := time.Now()
	tok := buildToken(t, "issuer", now, now.Add(time.Minute), map[string]any{"email": "a@b.c"})
	v := TokenValidator{Issuer: "issuer", Audience: "aud", ClockSkew: time.Second, Algorithm: jwa.HS256, RequiredClaims: []string{"email"}}
	require.NoError(t, v.Validate(tok, jwa.HS256, now))
}

func TestTokenValidatorRejects(t *testing.T) {
	now := time.Now()
	v := TokenValidator{Issuer: "issuer", Audience: "aud", Algorithm: jwa.HS256, ClockSkew: time.Second}

	cases := map[string]struct {
		tok jwt.Token
		alg jwa.SignatureAlgorithm
		v   TokenValidator
	}{
		"issuer":     {tok: buildToken(t, "other", now, now.Add(time.Minute), nil), alg: jwa.HS256, v: v},
		"expired":    {tok: buildToken(t, "issuer", now.Add(-2*time.Hour), now.Add(-time.Minute), nil), alg: jwa.HS256, v: v},
		"not before": {tok: buildToken(t, "issuer", now.Add(5*time.Minute), now.Add(10*time.Minute), nil), alg: jwa.HS256, v: v},
		"algorithm":  {tok: buildToken(t, "issuer", now, now.Add(time.Minute), nil), alg: jwa.RS256, v: v},
		"missing claim": {
			tok: buildToken(t, "issuer", now, now.Add(time.Minute), nil),
			alg: jwa.HS256,
			v:   TokenValidator{Issuer: "issuer", Audience: "aud", Algorithm: jwa.HS256, RequiredClaims: []string{"email"}},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, tc.v.Validate(tc.tok, tc.alg, now))
		})
	}
}

func TestTokenValidatorRequiresSubject(t *testing.T) {
	now := time.Now()
	tok, err := jwt.NewBuilder().Issuer("issuer").Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)
	require.Error(t, TokenValidator{}.Validate(tok, jwa.HS256, now))
}

func TestTokenValidatorRejectsNonUUIDSubject(t *testing.T) {
	now := time.Now()
	tok, err := jwt.NewBuilder().Subject("admin-1").Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)
	require.Error(t, TokenValidator{}.Validate(tok, jwa.HS256, now))
}

func TestTokenValidatorMaxLifetime(t *testing.T) {
	now := time.Now()
	v := TokenValidator{MaxLifetime: 15 * time.Minute}
	require.NoError(t, v.Validate(buildToken(t, "issuer", now, now.Add(10*time.Minute), nil), jwa.HS256, now))
	require.Error(t, v.Validate(buildToken(t, "issuer", now, now.Add(2*time.Hour), nil), jwa.HS256, now))
}
