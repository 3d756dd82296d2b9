// ABOUTME: Phone number and one-time code form shared by sign-in and second factor
// ABOUTME: Tracks whether a code was sent and the last error shown inline

package screens

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/vent-auth/internal/autherr"
	"github.com/2389/vent-auth/internal/navigation"
	"github.com/2389/vent-auth/internal/otp"
)

// PhoneForm collects a phone number, requests a code and redeems it.
type PhoneForm struct {
	purpose otp.Purpose
	codes   Codes
	store   AuthStore
	nav     navigation.Navigator

	phone    string
	codeSent bool
	errMsg   string
}

// NewPhoneForm creates a form for purpose.
func NewPhoneForm(purpose otp.Purpose, codes Codes, store AuthStore, nav navigation.Navigator) *PhoneForm {
	return &PhoneForm{purpose: purpose, codes: codes, store: store, nav: nav}
}

// Phone returns the number the code was sent to.
func (f *PhoneForm) Phone() string { return f.phone }

// CodeSent reports whether the form is waiting for a code.
func (f *PhoneForm) CodeSent() bool { return f.codeSent }

// Error returns the message currently shown under the form.
func (f *PhoneForm) Error() string { return f.errMsg }

// SendCode requests a code for phone. On success the form switches to code
// entry.
func (f *PhoneForm) SendCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)

	var err error
	if f.purpose == otp.PurposeSecondFactor {
		err = f.codes.RequestSecondFactorCode(ctx, phone)
	} else {
		err = f.codes.RequestCode(ctx, phone)
	}
	if err != nil {
		f.errMsg = autherr.UserMessage(err)
		return err
	}

	f.phone = phone
	f.codeSent = true
	f.errMsg = ""
	return nil
}

// Verify redeems code for the phone the last code went to. A verified
// second factor clears the verification flag and goes home. A sign-in code
// leaves navigation to the auth state store, which routes the new session
// when its SIGNED_IN event lands.
func (f *PhoneForm) Verify(ctx context.Context, code string) error {
	if !f.codeSent {
		err := autherr.InvalidFormat("Please request a verification code first")
		f.errMsg = err.Message
		return err
	}

	if _, err := f.codes.VerifyCode(ctx, f.phone, code, f.purpose); err != nil {
		f.errMsg = autherr.UserMessage(err)
		return err
	}

	f.reset()
	if f.purpose == otp.PurposeSecondFactor {
		f.store.SetNeedsMobileVerification(false)
		f.nav.Replace(navigation.PathHome)
	}
	return nil
}

// ChangeNumber returns to phone entry.
func (f *PhoneForm) ChangeNumber() {
	f.codeSent = false
	f.errMsg = ""
}

func (f *PhoneForm) reset() {
	f.phone = ""
	f.codeSent = false
	f.errMsg = ""
}

// Commands lists what the form accepts in its current step.
func (f *PhoneForm) Commands() []Command {
	if !f.codeSent {
		return []Command{{Name: "phone", Args: "<number>", Help: "Send Verification Code"}}
	}
	return []Command{
		{Name: "code", Args: "<6 digits>", Help: "Verify Code"},
		{Name: "change", Help: "Change phone number"},
	}
}

// Handle runs a form command. ok is false for commands the form does not own.
func (f *PhoneForm) Handle(ctx context.Context, name string, args []string) (ok bool, err error) {
	switch name {
	case "phone":
		return true, f.SendCode(ctx, strings.Join(args, ""))
	case "code":
		return true, f.Verify(ctx, strings.Join(args, ""))
	case "change":
		f.ChangeNumber()
		return true, nil
	}
	return false, nil
}

// Render writes the form.
func (f *PhoneForm) Render(w io.Writer) {
	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)

	if !f.codeSent {
		if f.purpose == otp.PurposeSecondFactor {
			bold.Fprintln(w, "Verify your phone number for 2FA")
		} else {
			bold.Fprintln(w, "Sign in with your phone number")
		}
		gray.Fprintln(w, "Enter phone number (e.g. +1234567890)")
	} else {
		fmt.Fprintf(w, "We've sent a %d-digit code to %s\n", otp.CodeLength, f.phone)
	}

	if f.errMsg != "" {
		color.New(color.FgRed).Fprintln(w, f.errMsg)
	}
	renderCommands(w, f.Commands())
}
