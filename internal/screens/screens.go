// ABOUTME: Screen registry, mount-time guard checks and command dispatch
// ABOUTME: Defines the narrow store and OTP interfaces screens depend on

package screens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/vent-auth/internal/authstate"
	"github.com/2389/vent-auth/internal/autherr"
	"github.com/2389/vent-auth/internal/backend"
	"github.com/2389/vent-auth/internal/credential"
	"github.com/2389/vent-auth/internal/guard"
	"github.com/2389/vent-auth/internal/navigation"
	"github.com/2389/vent-auth/internal/otp"
)

// ErrUnknownCommand is returned by Dispatch for commands the screen does not
// offer.
var ErrUnknownCommand = errors.New("unknown command")

// AuthStore is the part of the auth state store screens use.
type AuthStore interface {
	State() authstate.State
	SetNeedsMobileVerification(needs bool)
	SignOut(ctx context.Context)
	RefreshSession(ctx context.Context) authstate.State
}

// Codes requests and redeems one-time codes.
type Codes interface {
	RequestCode(ctx context.Context, phone string) error
	RequestSecondFactorCode(ctx context.Context, phone string) error
	VerifyCode(ctx context.Context, phone, code string, purpose otp.Purpose) (*backend.Session, error)
}

// Command is one action a screen offers.
type Command struct {
	Name string
	Args string
	Help string
}

// Screen is one view of the auth flow.
type Screen interface {
	Path() string
	Requirements() guard.Requirements
	Render(w io.Writer)
	Commands() []Command
	// Handle runs a command. It returns ErrUnknownCommand for names it does
	// not offer.
	Handle(ctx context.Context, w io.Writer, name string, args []string) error
}

// Deps wires screens to the rest of the app.
type Deps struct {
	Store  AuthStore
	Codes  Codes
	Client backend.Client
	Nav    navigation.Navigator
	Google credential.Acquirer
	// Apple is nil on platforms without Apple sign-in.
	Apple  credential.Acquirer
	Logger *slog.Logger
}

// App holds one instance of every screen, keyed by path.
type App struct {
	screens map[string]Screen
	store   AuthStore
	nav     navigation.Navigator
	logger  *slog.Logger
}

// New builds the screens.
func New(d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "screens")

	a := &App{
		screens: make(map[string]Screen),
		store:   d.Store,
		nav:     d.Nav,
		logger:  logger,
	}
	for _, s := range []Screen{
		newPublicEntry(d, logger),
		newVerifyMobile(d),
		newHome(d),
	} {
		a.screens[s.Path()] = s
	}
	return a
}

// Screen returns the screen registered at path.
func (a *App) Screen(path string) (Screen, bool) {
	s, ok := a.screens[path]
	return s, ok
}

// Mount returns the screen at path after applying its requirements. When
// the requirements redirect, the navigator is told and ok is false.
func (a *App) Mount(path string) (Screen, bool) {
	s, ok := a.screens[path]
	if !ok {
		return nil, false
	}
	if target, redirect := s.Requirements().Redirect(a.store.State()); redirect {
		a.logger.Debug("screen requirements redirect", "screen", path, "to", target)
		a.nav.Replace(target)
		return nil, false
	}
	return s, true
}

// Dispatch parses line and runs it on the screen mounted at path. User
// facing failures are written to w; only ErrUnknownCommand and a missing
// screen are returned.
func (a *App) Dispatch(ctx context.Context, w io.Writer, path, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	s, ok := a.Mount(path)
	if !ok {
		return fmt.Errorf("no screen mounted at %s", path)
	}

	err := s.Handle(ctx, w, fields[0], fields[1:])
	if errors.Is(err, ErrUnknownCommand) {
		return err
	}
	a.report(w, err)
	return nil
}

// report shows err the way screens surface failures.
func (a *App) report(w io.Writer, err error) {
	if err == nil {
		return
	}
	if autherr.KindOf(err) == autherr.KindUnexpected {
		a.logger.Error("unexpected screen error", "error", err)
	} else {
		a.logger.Debug("screen action failed", "kind", autherr.KindOf(err), "error", err)
	}
	if msg := autherr.UserMessage(err); msg != "" {
		color.New(color.FgRed).Fprintln(w, msg)
	}
}

func renderCommands(w io.Writer, cmds []Command) {
	cyan := color.New(color.FgCyan)
	for _, c := range cmds {
		name := c.Name
		if c.Args != "" {
			name += " " + c.Args
		}
		cyan.Fprintf(w, "  %-18s", name)
		fmt.Fprintf(w, " %s\n", c.Help)
	}
}

func heading(w io.Writer, title string) {
	color.New(color.Bold, color.FgMagenta).Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", len(title)))
}
