// ABOUTME: Identity credential acquisition from native Apple and Google sign-in sheets
// ABOUTME: Maps native cancel and error codes into the auth error taxonomy

package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/2389/vent-auth/internal/autherr"
	"github.com/2389/vent-auth/internal/backend"
)

// Native status codes reported by the platform SDKs.
const (
	CodeAppleCanceled             = "ERR_REQUEST_CANCELED"
	CodeGoogleCancelled           = "SIGN_IN_CANCELLED"
	CodeGoogleInProgress          = "IN_PROGRESS"
	CodeGooglePlayServicesMissing = "PLAY_SERVICES_NOT_AVAILABLE"
)

// Scopes requested from the native sheet.
const (
	ScopeFullName = "full_name"
	ScopeEmail    = "email"
)

// IdentityCredential is the opaque token a provider issued, plus the profile
// fields it disclosed.
type IdentityCredential struct {
	Provider backend.Provider
	IDToken  string
	// Nonce is the raw nonce to send with the token exchange, if any.
	Nonce string
	Name  string
	Email string
}

// Request is what an acquirer asks of the native sheet.
type Request struct {
	Scopes []string
	// HashedNonce is the SHA-256 of the raw nonce, hex encoded. Empty when the
	// provider does not use one.
	HashedNonce string
}

// NativeResult is a successful native sign-in.
type NativeResult struct {
	IDToken string
	Name    string
	Email   string
}

// NativeError is a structured failure from a native SDK.
type NativeError struct {
	Code    string
	Message string
}

func (e *NativeError) Error() string {
	if e.Message == "" {
		return "native sign-in failed: " + e.Code
	}
	return fmt.Sprintf("native sign-in failed: %s: %s", e.Code, e.Message)
}

// NativeSignIn presents a platform sign-in sheet. Implementations should
// return when ctx is done, but acquirers do not depend on it.
type NativeSignIn interface {
	SignIn(ctx context.Context, req Request) (*NativeResult, error)
}

// NativeSignInFunc adapts a function to NativeSignIn.
type NativeSignInFunc func(ctx context.Context, req Request) (*NativeResult, error)

// SignIn calls f.
func (f NativeSignInFunc) SignIn(ctx context.Context, req Request) (*NativeResult, error) {
	return f(ctx, req)
}

// Acquirer obtains an identity credential from one provider.
type Acquirer interface {
	Provider() backend.Provider
	Acquire(ctx context.Context) (*IdentityCredential, error)
}

// codeMapper classifies a provider-specific native error code. It returns
// nil for codes it does not recognise.
type codeMapper func(code string, cause error) error

// acquirer is the shared implementation behind Apple and Google.
type acquirer struct {
	provider  backend.Provider
	native    NativeSignIn
	scopes    []string
	withNonce bool
	mapCode   codeMapper
	logger    *slog.Logger
}

func (a *acquirer) Provider() backend.Provider {
	return a.provider
}

type nativeOutcome struct {
	result *NativeResult
	err    error
}

// Acquire runs the native sheet. Cancelling ctx resolves to a Cancelled
// error immediately even if the sheet has not returned.
func (a *acquirer) Acquire(ctx context.Context) (*IdentityCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, autherr.Cancelled(err)
	}

	req := Request{Scopes: a.scopes}
	var rawNonce string
	if a.withNonce {
		rawNonce = uuid.NewString()
		req.HashedNonce = hashNonce(rawNonce)
	}

	done := make(chan nativeOutcome, 1)
	go func() {
		res, err := a.native.SignIn(ctx, req)
		done <- nativeOutcome{result: res, err: err}
	}()

	var out nativeOutcome
	select {
	case <-ctx.Done():
		a.logger.Debug("sign-in sheet dismissed", "provider", a.provider)
		return nil, autherr.Cancelled(ctx.Err())
	case out = <-done:
	}

	if out.err != nil {
		return nil, a.classify(out.err)
	}
	if out.result == nil || out.result.IDToken == "" {
		a.logger.Warn("native sign-in returned no identity token", "provider", a.provider)
		return nil, autherr.MissingCredential(providerName(a.provider))
	}

	cred := &IdentityCredential{
		Provider: a.provider,
		IDToken:  out.result.IDToken,
		Nonce:    rawNonce,
		Name:     out.result.Name,
		Email:    out.result.Email,
	}
	fillFromClaims(cred)
	return cred, nil
}

func (a *acquirer) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return autherr.Cancelled(err)
	}
	var nativeErr *NativeError
	if errors.As(err, &nativeErr) {
		if mapped := a.mapCode(nativeErr.Code, err); mapped != nil {
			return mapped
		}
	}
	a.logger.Error("native sign-in failed", "provider", a.provider, "error", err)
	return autherr.Wrap(autherr.KindUnexpected, autherr.GenericMessage, err)
}

// NewApple returns an Apple acquirer. It requests name and email and binds
// the identity token to a fresh nonce.
func NewApple(native NativeSignIn, logger *slog.Logger) Acquirer {
	return &acquirer{
		provider:  backend.ProviderApple,
		native:    native,
		scopes:    []string{ScopeFullName, ScopeEmail},
		withNonce: true,
		mapCode: func(code string, cause error) error {
			if code == CodeAppleCanceled {
				return autherr.Cancelled(cause)
			}
			return nil
		},
		logger: componentLogger(logger, "apple"),
	}
}

// NewGoogle returns a Google acquirer.
func NewGoogle(native NativeSignIn, logger *slog.Logger) Acquirer {
	return &acquirer{
		provider: backend.ProviderGoogle,
		native:   native,
		scopes:   []string{ScopeEmail},
		mapCode: func(code string, cause error) error {
			switch code {
			case CodeGoogleCancelled:
				return autherr.Cancelled(cause)
			case CodeGoogleInProgress:
				return autherr.Backend("Sign in is already in progress", cause)
			case CodeGooglePlayServicesMissing:
				return autherr.Backend("Google Play services are not available or outdated", cause)
			}
			return nil
		},
		logger: componentLogger(logger, "google"),
	}
}

// AppleSupported reports whether Apple sign-in is offered on platformOS.
func AppleSupported(platformOS string) bool {
	return platformOS == "ios"
}

// SignIn acquires a credential and exchanges it for a backend session. A
// cancelled acquisition is a silent no-op: both return values are nil.
func SignIn(ctx context.Context, a Acquirer, client backend.Client) (*backend.Session, error) {
	cred, err := a.Acquire(ctx)
	if autherr.IsCancelled(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cred.IDToken == "" {
		return nil, autherr.MissingCredential(providerName(a.Provider()))
	}

	return client.SignInWithIDToken(ctx, cred.Provider, cred.IDToken, cred.Nonce)
}

// fillFromClaims copies email and name from the identity token's claims when
// the sheet did not disclose them. The token is not verified here.
func fillFromClaims(cred *IdentityCredential) {
	if cred.Email != "" && cred.Name != "" {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(cred.IDToken, claims); err != nil {
		return
	}
	if cred.Email == "" {
		cred.Email, _ = claims["email"].(string)
	}
	if cred.Name == "" {
		cred.Name, _ = claims["name"].(string)
	}
}

func hashNonce(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func providerName(p backend.Provider) string {
	switch p {
	case backend.ProviderApple:
		return "Apple"
	case backend.ProviderGoogle:
		return "Google"
	}
	return string(p)
}

func componentLogger(logger *slog.Logger, provider string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "credential", "provider", provider)
}
