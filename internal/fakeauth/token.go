// ABOUTME: HS256 access and identity token signing for the development auth server
// ABOUTME: Verifies bearer tokens and extracts the user ID from the "sub" claim

package fakeauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// audience is the aud claim GoTrue puts on user access tokens.
const audience = "authenticated"

// tokenSigner signs and verifies HS256 tokens against one secret.
type tokenSigner struct {
	secret []byte
	now    func() time.Time
}

func newTokenSigner(secret []byte, now func() time.Time) *tokenSigner {
	return &tokenSigner{secret: secret, now: now}
}

// Verify validates an access token and returns the user ID from "sub".
func (v *tokenSigner) Verify(tokenString string) (userID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// AccessToken signs a user access token valid for ttl.
func (v *tokenSigner) AccessToken(user *User, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	now := v.now()
	expiresAt = now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":          user.ID,
		"aud":          audience,
		"role":         audience,
		"phone":        user.Phone,
		"email":        user.Email,
		"app_metadata": user.AppMetadata,
		"session_id":   uuid.New().String(),
		"iat":          now.Unix(),
		"exp":          expiresAt.Unix(),
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	return token, expiresAt, err
}

// IdentityToken signs a stand-in for a provider identity token.
func (v *tokenSigner) IdentityToken(subject, email, name string) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"name":  name,
		"iat":   now.Unix(),
		"exp":   now.Add(10 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
