// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerToken returns middleware that validates the Authorization header
// contains a Bearer token matching the expected value. Comparison uses
// constant-time equality to prevent timing side-channel attacks.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Claims are carried by operator tokens.
type Claims struct {
	jwt.RegisteredClaims
}

const issuer = "faultline"

// IssueToken signs an HS256 operator token for subject valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("authmw: empty signing secret")
	}
	now = now.UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an operator token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	if secret == "" {
		return nil, errors.New("authmw: empty signing secret")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("authmw: invalid token")
	}
	if claims.ExpiresAt == nil {
		return nil, errors.New("authmw: token has no expiry")
	}
	return claims, nil
}

type subjectKey struct{}

// Subject returns the authenticated subject stored by JWT, if any.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// JWT returns middleware that accepts HS256 operator tokens signed with
// secret. When static is non-empty a request carrying exactly that token is
// also let through, with subject "static".
func JWT(secret, static string) func(http.Handler) http.Handler {
	staticBytes := []byte(static)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			if static != "" && subtle.ConstantTimeCompare([]byte(got), staticBytes) == 1 {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, "static")))
				return
			}
			claims, err := ParseToken(secret, got)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, claims.Subject)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return auth[len("Bearer "):], true
}

func unauthorized(w http.ResponseWriter, msg string) {
	http.Error(w, `{"error":"`+msg+`"}`, http.StatusUnauthorized)
}
