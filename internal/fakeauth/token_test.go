// ABOUTME: Unit tests for access and identity token signing
// ABOUTME: Tests valid tokens, foreign secrets, expiry against the server clock and GoTrue claims

package fakeauth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-jwt-signing-32b")

func TestTokenSigner_AccessTokenRoundTrip(t *testing.T) {
	signer := newTokenSigner(testSecret, time.Now)
	user := &User{ID: "user-123", Phone: "+14155552671", AppMetadata: appMetadata{Provider: "phone"}}

	token, exp, err := signer.AccessToken(user, time.Hour)
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if time.Until(exp) < 59*time.Minute {
		t.Errorf("expiry %v is not an hour out", exp)
	}

	gotID, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if gotID != user.ID {
		t.Errorf("Verify() = %q, want %q", gotID, user.ID)
	}
}

func TestTokenSigner_AccessTokenClaims(t *testing.T) {
	signer := newTokenSigner(testSecret, time.Now)
	user := &User{ID: "user-123", Email: "ada@example.com", AppMetadata: appMetadata{Provider: "google"}}

	token, _, err := signer.AccessToken(user, time.Hour)
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("ParseUnverified() error = %v", err)
	}
	if claims["aud"] != audience || claims["role"] != audience {
		t.Errorf("aud/role = %v/%v, want %q", claims["aud"], claims["role"], audience)
	}
	if claims["email"] != "ada@example.com" {
		t.Errorf("email = %v", claims["email"])
	}
	if sid, _ := claims["session_id"].(string); sid == "" {
		t.Error("session_id claim missing")
	}
}

func TestTokenSigner_InvalidToken(t *testing.T) {
	signer := newTokenSigner(testSecret, time.Now)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				other := newTokenSigner([]byte("different-secret-different-secret"), time.Now)
				token, _, _ := other.AccessToken(&User{ID: "user-123"}, time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenSigner_ExpiredOnServerClock(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	signer := newTokenSigner(testSecret, clock)

	token, _, err := signer.AccessToken(&User{ID: "user-123"}, time.Hour)
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}

	now = now.Add(2 * time.Hour)
	_, err = signer.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestTokenSigner_IdentityTokenVerifies(t *testing.T) {
	signer := newTokenSigner(testSecret, time.Now)

	token, err := signer.IdentityToken("google-sub-1", "ada@example.com", "Ada")
	if err != nil {
		t.Fatalf("IdentityToken() error = %v", err)
	}

	sub, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if sub != "google-sub-1" {
		t.Errorf("Verify() = %q, want google-sub-1", sub)
	}
}
