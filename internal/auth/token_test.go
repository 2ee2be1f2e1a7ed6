package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifyRoundTrip(t *testing.T) {
	token, err := Issue("s3cret", "minerush", "player-1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := NewVerifier("s3cret", "minerush").Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "player-1" {
		t.Fatalf("expected subject player-1, got %q", sub)
	}
}

func TestVerifyRejects(t *testing.T) {
	good, _ := Issue("s3cret", "minerush", "player-1", time.Minute)
	expired, _ := Issue("s3cret", "minerush", "player-1", -time.Hour)
	wrongIssuer, _ := Issue("s3cret", "someone-else", "player-1", time.Minute)
	noSubject, _ := Issue("s3cret", "minerush", "", time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "player-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]struct {
		secret string
		token  string
	}{
		"wrong secret": {"other", good},
		"expired":      {"s3cret", expired},
		"issuer":       {"s3cret", wrongIssuer},
		"no subject":   {"s3cret", noSubject},
		"alg none":     {"s3cret", none},
		"garbage":      {"s3cret", "not.a.token"},
	}
	for name, tc := range cases {
		if _, err := NewVerifier(tc.secret, "minerush").Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}
