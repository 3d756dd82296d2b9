// ABOUTME: Client interface for the hosted auth service and its error type
// ABOUTME: Decodes GoTrue error payloads into backend-class errors

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/vent-auth/internal/autherr"
)

// ErrNoSession is returned by operations that need a signed-in user when
// there is none.
var ErrNoSession = errors.New("no active session")

// Client is the backend session API consumed by the app.
type Client interface {
	// GetSession returns the current session, refreshing it first if it has
	// expired. Returns nil and no error when nobody is signed in.
	GetSession(ctx context.Context) (*Session, error)
	// SignInWithIDToken exchanges a native identity token for a session.
	SignInWithIDToken(ctx context.Context, provider Provider, idToken, nonce string) (*Session, error)
	// SignInWithOTP asks the service to text a sign-in code to phone.
	SignInWithOTP(ctx context.Context, phone string) error
	// VerifyOTP redeems a code and returns the resulting session.
	VerifyOTP(ctx context.Context, phone, code string, mode VerifyMode) (*Session, error)
	// UpdateUser changes attributes of the signed-in user. Setting Phone
	// makes the service send a phone_change code.
	UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error)
	// RefreshSession exchanges the refresh token for a new session.
	RefreshSession(ctx context.Context) (*Session, error)
	// SignOut revokes the session on the service and forgets it locally.
	// The local session is forgotten even when the service call fails.
	SignOut(ctx context.Context) error
	// Subscribe delivers session lifecycle events until ctx is done.
	Subscribe(ctx context.Context) <-chan Event
}

// APIError is an error payload returned by the auth service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth service %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth service %d: %s", e.Status, e.Message)
}

// IsInvalidGrant reports whether the service rejected a refresh token.
func (e *APIError) IsInvalidGrant() bool {
	switch e.Code {
	case "invalid_grant", "refresh_token_not_found", "refresh_token_already_used", "session_not_found":
		return true
	}
	return false
}

// errorPayload covers the error shapes GoTrue has used across versions.
type errorPayload struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// decodeAPIError builds a backend-class error from a non-2xx response.
func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{Status: status}

	var p errorPayload
	if err := json.Unmarshal(body, &p); err == nil {
		switch {
		case p.ErrorCode != "":
			apiErr.Code = p.ErrorCode
		case p.Error != "":
			apiErr.Code = p.Error
		default:
			if s, ok := p.Code.(string); ok {
				apiErr.Code = s
			}
		}
		for _, m := range []string{p.Msg, p.Message, p.ErrorDescription, p.Error} {
			if m != "" {
				apiErr.Message = m
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	return autherr.Backend(apiErr.Message, apiErr)
}

// AsAPIError extracts the service error from err, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
