// ABOUTME: Session, user and event types decoded from the auth service
// ABOUTME: Defines the closed set of session lifecycle events and verify modes

package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider identifies how a user originally authenticated.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
	ProviderPhone  Provider = "phone"
	ProviderEmail  Provider = "email"
)

// IsSocial reports whether p is a social identity provider that requires a
// second factor.
func (p Provider) IsSocial() bool {
	return p == ProviderGoogle || p == ProviderApple
}

// AppMetadata is the service-controlled part of a user record.
type AppMetadata struct {
	Provider  string   `json:"provider,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// User is the authenticated principal.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	PhoneConfirmedAt *time.Time     `json:"phone_confirmed_at,omitempty"`
	AppMetadata      AppMetadata    `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Provider returns the provider the user first signed in with.
func (u *User) Provider() Provider {
	if u == nil {
		return ""
	}
	return Provider(u.AppMetadata.Provider)
}

// Session is a backend-issued proof of authentication.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Provider returns the originating identity provider of the session's user.
func (s *Session) Provider() Provider {
	if s == nil {
		return ""
	}
	return s.User.Provider()
}

// Expiry returns when the access token expires, or the zero time if unknown.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the session expires within d of now.
// Sessions with an unknown expiry never report true.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return !exp.After(now.Add(d))
}

// normalize fills ExpiresAt from ExpiresIn, or from the access token's exp
// claim when the service omitted both. The token is not verified; signature
// checks are the service's job.
func (s *Session) normalize(now time.Time) {
	if s.ExpiresAt != 0 {
		return
	}
	if s.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Unix()
	}
}

// EventKind is a session lifecycle notification type.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Event is a session lifecycle notification. Session is nil for SIGNED_OUT.
type Event struct {
	Kind    EventKind
	Session *Session
}

// VerifyMode selects how the service checks an OTP.
type VerifyMode string

const (
	// ModeSMS verifies a sign-in code and creates a session.
	ModeSMS VerifyMode = "sms"
	// ModePhoneChange verifies a code sent to a phone being linked to the
	// current user.
	ModePhoneChange VerifyMode = "phone_change"
)

// UserAttributes are the fields UpdateUser may change.
type UserAttributes struct {
	Phone string         `json:"phone,omitempty"`
	Email string         `json:"email,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}
