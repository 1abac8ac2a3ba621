// Package token issues and verifies the signed session tokens that carry a
// principal's identity and role. Verification is stateless: validity depends
// only on the HMAC signature and expiry, never on a server-side lookup.
// There is no revocation list, so a stolen token stays valid until it
// expires. That trade-off is accepted and documented, not patched around.
package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskdesk/internal/domain"
)

// DefaultTTL is the token lifetime used when the service is configured
// without one.
const DefaultTTL = time.Hour

// ErrInvalidToken is returned by Verify for every failure mode: bad
// signature, malformed payload, wrong algorithm, or expiry. Callers cannot
// distinguish which check failed, so neither can an attacker.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated identity recovered from a token.
type Principal struct {
	ID   int64
	Role domain.Role
}

// Service signs and verifies session tokens with a shared secret.
type Service struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultTTL
}

// Issue mints a signed token for the user. It fails only when the signing
// secret is missing, which is a process misconfiguration rather than a
// per-request condition.
func (s Service) Issue(u domain.User) (string, error) {
	if s.Secret == "" {
		return "", errors.New("token signing secret not configured")
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl())),
		},
		Role: string(u.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(s.Secret))
}

// Verify checks signature and expiry and returns the embedded principal.
// Any failure collapses to ErrInvalidToken.
func (s Service) Verify(tokenString string) (Principal, error) {
	if s.Secret == "" {
		return Principal{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(tokenString, c, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, ErrInvalidToken
	}
	role := domain.Role(c.Role)
	if !role.Valid() {
		return Principal{}, ErrInvalidToken
	}
	return Principal{ID: id, Role: role}, nil
}
