// Package auth verifies the HS256 bearer tokens minted by the auth service.
// Every service in the mesh shares one signing secret; there is no remote
// key discovery.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when a request carries no credentials at all,
// neither an Authorization header nor a token query parameter.
var ErrMissingToken = errors.New("missing authorization header")

// Claims are the token claims shared across the service mesh. Subject holds
// the account email; UserID is the numeric account id that every storage row
// keys on.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Email returns the account email carried in the subject claim.
func (c *Claims) Email() string {
	return c.Subject
}

// Verifier validates HS256 tokens against the shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret. The secret's
// minimum length is enforced at boot by config validation.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken parses and validates a token string and returns its claims.
// Only HS256 is accepted; tokens signed with any other algorithm are rejected
// before signature verification so a public key can never be replayed as an
// HMAC secret.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token is invalid")
	}
	if claims.UserID == 0 {
		return nil, errors.New("token has no user_id claim")
	}

	return claims, nil
}

// FromAuthHeader extracts the bearer token from an Authorization header
// value.
func FromAuthHeader(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("authorization header is not a bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("authorization header holds an empty token")
	}
	return token, nil
}

// FromRequest extracts credentials for both plain HTTP calls and WebSocket
// upgrades: the Authorization header wins; the token query parameter is the
// fallback for browser WebSocket clients, which cannot set custom headers.
func FromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return FromAuthHeader(header)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}
