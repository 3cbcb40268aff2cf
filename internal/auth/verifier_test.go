package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/launch-control/lcc/internal/config"
)

const testSecret = "unit-test-secret"

func hs256Verifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(config.AuthConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	v := hs256Verifier(t)
	token := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub":    "operator-1",
		"scopes": []string{ScopeRead, ScopeControl},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != "operator-1" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if !claims.HasScope(ScopeRead) || !claims.HasScope(ScopeControl) {
		t.Errorf("scopes = %v", claims.Scopes)
	}
	if claims.HasScope(ScopeTelemetry) {
		t.Error("telemetry scope granted without being in the token")
	}
}

func TestVerifyTokenRejections(t *testing.T) {
	v := hs256Verifier(t)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", "   "},
		{"garbage", "not.a.jwt"},
		{"wrong key", sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
			"sub": "x", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"sub": "x", "exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"no subject", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		// The algorithm is pinned; a token declaring another method is
		// rejected even with the right key.
		{"method downgrade", sign(t, jwt.SigningMethodHS384, []byte(testSecret), jwt.MapClaims{
			"sub": "x", "exp": time.Now().Add(time.Hour).Unix(),
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.VerifyToken(tt.token); err == nil {
				t.Fatal("token accepted")
			}
		})
	}
}

func TestNewVerifierConfig(t *testing.T) {
	if _, err := NewVerifier(config.AuthConfig{Algorithm: "HS256"}); err == nil {
		t.Error("HS256 without secret accepted")
	}
	if _, err := NewVerifier(config.AuthConfig{Algorithm: "RS256"}); err == nil {
		t.Error("RS256 without public key accepted")
	}
	if _, err := NewVerifier(config.AuthConfig{Algorithm: "RS256", PublicKeyPEM: "not a pem"}); err == nil {
		t.Error("RS256 with malformed PEM accepted")
	}
	if _, err := NewVerifier(config.AuthConfig{Algorithm: "ES256"}); err == nil {
		t.Error("unsupported algorithm accepted")
	}
	if _, err := NewVerifier(config.AuthConfig{Algorithm: "HS256", SecretKey: "k"}); err != nil {
		t.Errorf("valid HS256 config rejected: %v", err)
	}
}

func TestClaimsFromContextMissing(t *testing.T) {
	if got := ClaimsFromContext(context.Background()); got != nil {
		t.Fatalf("claims from empty context: %+v", got)
	}
}
