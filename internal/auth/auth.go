// Package auth verifies bearer credentials presented at websocket attach.
// Token minting after SIWE signature verification happens in an external
// service; this package only checks what that service issued.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the verified identity of a connected client.
type Principal struct {
	UserID string
	Wallet string // lowercase hex, 0x-prefixed
}

// Verifier checks a bearer token and extracts the caller identity.
type Verifier interface {
	Verify(token string) (Principal, error)
}

var (
	// ErrNoToken is returned when the request carries no credential.
	ErrNoToken = errors.New("no bearer token")
	// ErrInvalidToken is returned for malformed, badly signed or expired tokens.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// TokenFromRequest extracts the bearer credential from an attach request.
// Checked in order: query parameter "token", Authorization header, cookie
// "authToken".
func TokenFromRequest(r *http.Request) (string, error) {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok && tok != "" {
			return tok, nil
		}
	}
	if c, err := r.Cookie("authToken"); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", ErrNoToken
}

// JWTVerifier validates HMAC-SHA256 signed tokens carrying "sub" (user id)
// and "wallet" claims.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type claims struct {
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token, returning the caller identity.
func (v *JWTVerifier) Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNoToken
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if c.Subject == "" {
		return Principal{}, ErrInvalidToken
	}

	wallet := strings.ToLower(c.Wallet)
	if !ValidWallet(wallet) {
		return Principal{}, ErrInvalidToken
	}

	return Principal{UserID: c.Subject, Wallet: wallet}, nil
}

// MintToken issues a signed token for the given identity.
// Used by tests and the dev -mint mode of the server binary.
func MintToken(secret, userID, wallet string, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Wallet: strings.ToLower(wallet),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
