// Package auth issues and verifies the session tokens that carry user identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the session cookie set by the account service.
const CookieName = "jwt"

// ErrUnauthorized is returned for missing or invalid tokens.
var ErrUnauthorized = errors.New("unauthorized")

type ctxKey struct{}

// Issuer signs and verifies HS256 tokens whose "sub" claim is the user id.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer returns an issuer for secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: 7 * 24 * time.Hour}
}

// Issue mints a token for userID.
func (i *Issuer) Issue(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify validates token and returns its subject.
func (i *Issuer) Verify(token string) (string, error) {
	if len(i.secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret configured", ErrUnauthorized)
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// TokenFromRequest extracts a token from the Authorization header, the
// session cookie or the "token" query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// WithUser stores the authenticated user id in ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFromContext returns the authenticated user id.
func UserFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok && v != ""
}
