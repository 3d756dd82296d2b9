// ABOUTME: Typed error taxonomy for sign-in, OTP and session failures
// ABOUTME: Maps any error to a kind and a user-facing message for screens

package autherr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the presentation class of an authentication failure.
type Kind string

const (
	KindCancelled         Kind = "cancelled"
	KindInvalidFormat     Kind = "invalid_format"
	KindBackend           Kind = "backend"
	KindMissingCredential Kind = "missing_credential"
	KindUnexpected        Kind = "unexpected"
)

// GenericMessage is shown for unexpected failures.
const GenericMessage = "An unexpected error occurred"

// Sentinel causes that callers match with errors.Is.
var (
	ErrNetwork         = errors.New("network error")
	ErrResendTooSoon   = errors.New("a code was sent recently, please wait before requesting another")
	ErrNoIdentityToken = errors.New("no identity token")
)

// Error is a classified authentication failure.
type Error struct {
	Kind    Kind
	Message string // user-facing
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindCancelled}) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Cancelled reports a user-initiated abort.
func Cancelled(cause error) *Error {
	return &Error{Kind: KindCancelled, Message: "cancelled", Cause: cause}
}

// InvalidFormat reports a local validation failure.
func InvalidFormat(message string) *Error {
	return &Error{Kind: KindInvalidFormat, Message: message}
}

// Backend reports a failure from the auth service. The message is what the
// service said.
func Backend(message string, cause error) *Error {
	return &Error{Kind: KindBackend, Message: message, Cause: cause}
}

// MissingCredential reports a native success without a usable token.
func MissingCredential(provider string) *Error {
	return &Error{
		Kind:    KindMissingCredential,
		Message: fmt.Sprintf("%s sign-in did not return an identity token", provider),
		Cause:   ErrNoIdentityToken,
	}
}

// KindOf classifies err. Unclassified errors are KindUnexpected, except
// context deadlines and network failures which are backend class.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if IsNetwork(err) {
		return KindBackend
	}
	return KindUnexpected
}

// IsCancelled reports whether err is a user cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// IsNetwork reports whether err came from a timeout or transport failure.
func IsNetwork(err error) bool {
	if errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Network wraps a transport or timeout failure as a backend-class error.
func Network(cause error) *Error {
	return &Error{
		Kind:    KindBackend,
		Message: "Network error, please check your connection",
		Cause:   fmt.Errorf("%w: %v", ErrNetwork, cause),
	}
}

// UserMessage returns the text a screen should show for err. Cancellation
// yields the empty string.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if !errors.As(err, &ae) {
		if IsNetwork(err) {
			return Network(err).Message
		}
		return GenericMessage
	}
	switch ae.Kind {
	case KindCancelled:
		return ""
	case KindUnexpected:
		return GenericMessage
	case KindBackend, KindMissingCredential, KindInvalidFormat:
		if ae.Message != "" {
			return ae.Message
		}
		if ae.Cause != nil {
			return ae.Cause.Error()
		}
	}
	return GenericMessage
}
