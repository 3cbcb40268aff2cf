// Package auth implements bearer token authentication for the mission API.
//
// Tokens are JWTs carrying a subject plus read/control/telemetry scopes.
// HS256 (shared secret) and RS256 (public key PEM) are supported; the
// algorithm is pinned by configuration so a token cannot downgrade it.
package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/launch-control/lcc/internal/config"
)

// Scope constants. Read covers status and event queries, control covers
// mission lifecycle actions, telemetry covers the SSE stream.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// Claims are the verified token claims the API cares about.
type Claims struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether the claims carry the scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// tokenClaims is the wire shape of the JWT payload.
type tokenClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a pinned algorithm and key.
type Verifier struct {
	algorithm string
	secret    []byte
	publicKey *rsa.PublicKey
}

// NewVerifier creates a verifier from the auth configuration.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{algorithm: cfg.Algorithm}

	switch cfg.Algorithm {
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires a secret key")
		}
		v.secret = []byte(cfg.SecretKey)
	case "RS256":
		if cfg.PublicKeyPEM == "" {
			return nil, fmt.Errorf("RS256 requires a public key PEM")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
		v.publicKey = key
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", cfg.Algorithm)
	}

	return v, nil
}

// VerifyToken validates the token signature and registered claims and
// returns the extracted claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token is empty")
	}

	var tc tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &tc, v.keyFunc,
		jwt.WithValidMethods([]string{v.algorithm}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return &Claims{Subject: tc.Subject, Scopes: tc.Scopes}, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch v.algorithm {
	case "HS256":
		return v.secret, nil
	case "RS256":
		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", v.algorithm)
	}
}
