// ABOUTME: OTP gateway for phone sign-in and second-factor phone verification
// ABOUTME: Validates numbers locally, throttles resends, and redeems codes with the backend

package otp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	"github.com/2389/vent-auth/internal/autherr"
	"github.com/2389/vent-auth/internal/backend"
	"github.com/2389/vent-auth/internal/dedupe"
)

// CodeLength is the number of digits in an SMS code.
const CodeLength = 6

// throttleCapacity bounds the number of phone/purpose pairs remembered.
const throttleCapacity = 256

// Purpose selects what a code proves.
type Purpose string

const (
	// PurposeSignIn signs the user in with their phone.
	PurposeSignIn Purpose = "sign_in"
	// PurposeSecondFactor links and verifies a phone for an existing social
	// sign-in session.
	PurposeSecondFactor Purpose = "second_factor"
)

// mode maps a purpose to the backend verification mode.
func (p Purpose) mode() (backend.VerifyMode, error) {
	switch p {
	case PurposeSignIn:
		return backend.ModeSMS, nil
	case PurposeSecondFactor:
		return backend.ModePhoneChange, nil
	}
	return "", fmt.Errorf("unknown code purpose %q", string(p))
}

// Options configures a Gateway.
type Options struct {
	Client backend.Client
	// DefaultRegion is a CLDR region (e.g. "US") used for numbers without a
	// leading +. Empty requires E.164 input.
	DefaultRegion string
	// ResendCooldown is the minimum gap between two codes for the same phone
	// and purpose. Zero disables throttling.
	ResendCooldown time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Gateway requests and verifies one-time codes.
type Gateway struct {
	client   backend.Client
	region   string
	throttle *dedupe.Cache
	logger   *slog.Logger
}

// New creates a gateway. Close releases its throttle.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var cacheOpts []dedupe.Option
	if opts.Now != nil {
		cacheOpts = append(cacheOpts, dedupe.WithClock(opts.Now))
	}

	return &Gateway{
		client:   opts.Client,
		region:   strings.ToUpper(opts.DefaultRegion),
		throttle: dedupe.New(opts.ResendCooldown, throttleCapacity, cacheOpts...),
		logger:   logger.With("component", "otp"),
	}
}

// Close stops the throttle's background sweep.
func (g *Gateway) Close() {
	g.throttle.Close()
}

// NormalizePhone checks that phone is a possible phone number and returns it
// in E.164 form.
func (g *Gateway) NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", autherr.InvalidFormat("Please enter your phone number")
	}

	num, err := phonenumbers.Parse(phone, g.region)
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return "", autherr.InvalidFormat("Please enter a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// ValidateCode checks that code is exactly CodeLength digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return autherr.InvalidFormat(fmt.Sprintf("Please enter the %d-digit code", CodeLength))
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return autherr.InvalidFormat(fmt.Sprintf("Please enter the %d-digit code", CodeLength))
		}
	}
	return nil
}

// RequestCode validates phone and asks the backend to text a sign-in code.
// Invalid numbers are rejected without contacting the backend.
func (g *Gateway) RequestCode(ctx context.Context, phone string) error {
	return g.request(ctx, phone, PurposeSignIn, func(e164 string) error {
		return g.client.SignInWithOTP(ctx, e164)
	})
}

// RequestSecondFactorCode validates phone and links it to the signed-in user,
// which makes the backend text a phone-change code.
func (g *Gateway) RequestSecondFactorCode(ctx context.Context, phone string) error {
	return g.request(ctx, phone, PurposeSecondFactor, func(e164 string) error {
		_, err := g.client.UpdateUser(ctx, backend.UserAttributes{Phone: e164})
		return err
	})
}

func (g *Gateway) request(ctx context.Context, phone string, purpose Purpose, send func(e164 string) error) error {
	e164, err := g.NormalizePhone(phone)
	if err != nil {
		return err
	}

	key := throttleKey(purpose, e164)
	if left := g.throttle.CheckAndMark(key); left > 0 {
		secs := int(math.Ceil(left.Seconds()))
		return autherr.Wrap(autherr.KindInvalidFormat,
			fmt.Sprintf("Please wait %ds before requesting another code", secs),
			autherr.ErrResendTooSoon)
	}

	if err := send(e164); err != nil {
		// A failed send does not count against the cooldown
		g.throttle.Forget(key)
		g.logger.Warn("code request failed", "purpose", purpose, "phone", maskPhone(e164), "error", err)
		return err
	}

	g.logger.Info("code requested", "purpose", purpose, "phone", maskPhone(e164))
	return nil
}

// VerifyCode redeems code. Sign-in codes create a session; second-factor
// codes upgrade the current one. Failures are returned as-is with no retry.
func (g *Gateway) VerifyCode(ctx context.Context, phone, code string, purpose Purpose) (*backend.Session, error) {
	mode, err := purpose.mode()
	if err != nil {
		return nil, autherr.Wrap(autherr.KindUnexpected, autherr.GenericMessage, err)
	}
	e164, err := g.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if err := ValidateCode(code); err != nil {
		return nil, err
	}

	sess, err := g.client.VerifyOTP(ctx, e164, code, mode)
	if err != nil {
		g.logger.Warn("code verification failed", "purpose", purpose, "phone", maskPhone(e164), "error", err)
		return nil, err
	}

	g.throttle.Forget(throttleKey(purpose, e164))
	g.logger.Info("code verified", "purpose", purpose, "phone", maskPhone(e164))
	return sess, nil
}

func throttleKey(purpose Purpose, e164 string) string {
	return string(purpose) + ":" + e164
}

// maskPhone keeps the last four digits.
func maskPhone(e164 string) string {
	if len(e164) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(e164)-4) + e164[len(e164)-4:]
}
