// Package auth implements the thin boundary token check described in
// spec §1 ("the caller has already authenticated") and SPEC_FULL.md §1.1:
// a single HMAC-signed JWT carrying the peer's identity, verified at the
// WebSocket handshake. This is deliberately not the teacher's full
// Auth0/JWKS validator (internal/v1/auth.Validator, lestrrat-go/jwx) — this
// system has no external identity provider to federate with, only a
// caller-asserted peer identity to check the signature on.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set carried on the handshake token: the
// peer identity (as the registered "sub" claim) plus standard expiry.
type Claims struct {
	jwt.RegisteredClaims
}

// ErrInvalidToken is returned for any malformed, unsigned, or expired token.
var ErrInvalidToken = errors.New("invalid handshake token")

// Validator verifies the HMAC signature on handshake tokens using a single
// shared secret (config.Config.HandshakeSecret).
type Validator struct {
	secret []byte
}

// NewValidator constructs a Validator from the configured HANDSHAKE_SECRET.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// ValidateToken parses and verifies tokenString, returning the peer
// identity carried in its subject claim.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}
	return claims, nil
}

// IssueToken mints a handshake token for peerID, valid for ttl. Used by
// tests and by any trusted internal caller that mints tokens on a peer's
// behalf after its own authentication step has succeeded.
func (v *Validator) IssueToken(peerID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   peerID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
