// ABOUTME: The public entry, second-factor challenge and home screens
// ABOUTME: Each declares its guard requirements and the commands it offers

package screens

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"

	"github.com/2389/vent-auth/internal/backend"
	"github.com/2389/vent-auth/internal/credential"
	"github.com/2389/vent-auth/internal/guard"
	"github.com/2389/vent-auth/internal/navigation"
	"github.com/2389/vent-auth/internal/otp"
)

const notAvailable = "Not available"

// publicEntry offers social and phone sign-in.
type publicEntry struct {
	client backend.Client
	google credential.Acquirer
	apple  credential.Acquirer
	form   *PhoneForm
	logger *slog.Logger
}

func newPublicEntry(d Deps, logger *slog.Logger) *publicEntry {
	return &publicEntry{
		client: d.Client,
		google: d.Google,
		apple:  d.Apple,
		form:   NewPhoneForm(otp.PurposeSignIn, d.Codes, d.Store, d.Nav),
		logger: logger,
	}
}

func (s *publicEntry) Path() string                     { return navigation.PathPublicEntry }
func (s *publicEntry) Requirements() guard.Requirements { return guard.PublicEntry }

func (s *publicEntry) Commands() []Command {
	return append(s.socialCommands(), s.form.Commands()...)
}

func (s *publicEntry) socialCommands() []Command {
	var cmds []Command
	if s.google != nil {
		cmds = append(cmds, Command{Name: "google", Help: "Continue with Google"})
	}
	if s.apple != nil {
		cmds = append(cmds, Command{Name: "apple", Help: "Continue with Apple"})
	}
	return cmds
}

func (s *publicEntry) Render(w io.Writer) {
	heading(w, "VENT")
	color.New(color.FgCyan).Fprintln(w, "Connect through shared experiences")
	fmt.Fprintln(w)

	if social := s.socialCommands(); len(social) > 0 {
		renderCommands(w, social)
		color.New(color.FgHiBlack).Fprintln(w, "---------- or ----------")
	}
	s.form.Render(w)

	fmt.Fprintln(w)
	color.New(color.FgHiBlack).Fprintln(w, "By signing in, you agree to our Terms of Service and Privacy Policy")
}

func (s *publicEntry) Handle(ctx context.Context, w io.Writer, name string, args []string) error {
	switch name {
	case "google":
		if s.google != nil {
			return s.social(ctx, w, s.google)
		}
	case "apple":
		if s.apple != nil {
			return s.social(ctx, w, s.apple)
		}
	default:
		if ok, err := s.form.Handle(ctx, name, args); ok {
			return err
		}
	}
	return ErrUnknownCommand
}

// social runs a provider sign-in. The auth state store reacts to the
// resulting SIGNED_IN event and moves on to the second factor.
func (s *publicEntry) social(ctx context.Context, w io.Writer, a credential.Acquirer) error {
	sess, err := credential.SignIn(ctx, a, s.client)
	if err != nil {
		return err
	}
	if sess == nil {
		s.logger.Debug("social sign-in cancelled", "provider", a.Provider())
		return nil
	}
	color.New(color.FgGreen).Fprintf(w, "Signed in with %s\n", a.Provider())
	return nil
}

// verifyMobile captures the second factor after a social sign-in.
type verifyMobile struct {
	store AuthStore
	form  *PhoneForm
}

func newVerifyMobile(d Deps) *verifyMobile {
	return &verifyMobile{
		store: d.Store,
		form:  NewPhoneForm(otp.PurposeSecondFactor, d.Codes, d.Store, d.Nav),
	}
}

func (s *verifyMobile) Path() string                     { return navigation.PathVerifyMobile }
func (s *verifyMobile) Requirements() guard.Requirements { return guard.VerifyMobile }

func (s *verifyMobile) Commands() []Command {
	if s.store.State().Loading {
		return nil
	}
	return s.form.Commands()
}

func (s *verifyMobile) Render(w io.Writer) {
	if s.store.State().Loading {
		fmt.Fprintln(w, "Loading...")
		return
	}
	heading(w, "Two-Factor Authentication")
	fmt.Fprintln(w, "For added security, please verify your phone number")
	fmt.Fprintln(w)
	s.form.Render(w)
}

func (s *verifyMobile) Handle(ctx context.Context, _ io.Writer, name string, args []string) error {
	if s.store.State().Loading {
		return ErrUnknownCommand
	}
	if ok, err := s.form.Handle(ctx, name, args); ok {
		return err
	}
	return ErrUnknownCommand
}

// home shows the signed-in user.
type home struct {
	store AuthStore
}

func newHome(d Deps) *home {
	return &home{store: d.Store}
}

func (s *home) Path() string                     { return navigation.PathHome }
func (s *home) Requirements() guard.Requirements { return guard.Home }

func (s *home) Commands() []Command {
	return []Command{
		{Name: "refresh", Help: "Refresh session"},
		{Name: "signout", Help: "Sign Out"},
	}
}

func (s *home) Render(w io.Writer) {
	st := s.store.State()

	heading(w, "Welcome to VENT!")
	fmt.Fprintln(w, "VENT is focused on cultivating peer to peer connections based on")
	fmt.Fprintln(w, "shared experiences that provide emotional, past trauma or social support.")
	fmt.Fprintln(w)

	var id, email, phone, provider string
	if st.User != nil {
		id = st.User.ID
		email = st.User.Email
		phone = st.User.Phone
		provider = string(st.User.Provider())
	}

	bold := color.New(color.Bold)
	bold.Fprintln(w, "User Information")
	for _, row := range [][2]string{
		{"User ID", id},
		{"Email", email},
		{"Phone", phone},
		{"Provider", provider},
	} {
		value := row[1]
		if value == "" {
			value = notAvailable
		}
		fmt.Fprintf(w, "  %-10s %s\n", row[0]+":", value)
	}
	fmt.Fprintln(w)
	renderCommands(w, s.Commands())
}

func (s *home) Handle(ctx context.Context, w io.Writer, name string, _ []string) error {
	switch name {
	case "signout":
		s.store.SignOut(ctx)
		return nil
	case "refresh":
		st := s.store.RefreshSession(ctx)
		if st.IsAuthenticated {
			color.New(color.FgGreen).Fprintln(w, "Session refreshed")
		}
		return nil
	}
	return ErrUnknownCommand
}
