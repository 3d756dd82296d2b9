// ABOUTME: Terminal client for the VENT auth flow against a GoTrue-compatible backend
// ABOUTME: Renders the mounted screen, follows guard redirects and reads commands from stdin

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/vent-auth/internal/authstate"
	"github.com/2389/vent-auth/internal/backend"
	"github.com/2389/vent-auth/internal/config"
	"github.com/2389/vent-auth/internal/credential"
	"github.com/2389/vent-auth/internal/guard"
	"github.com/2389/vent-auth/internal/navigation"
	"github.com/2389/vent-auth/internal/otp"
	"github.com/2389/vent-auth/internal/screens"
	"github.com/2389/vent-auth/internal/securestore"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 __   _____ _ __ | |_
 \ \ / / _ \ '_ \| __|
  \ V /  __/ | | | |_
   \_/ \___|_| |_|\__|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// loadConfig reads the config file, or falls back to the environment when
// there is none.
func loadConfig() (*config.Config, string, error) {
	path := config.Path()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.FromEnv()
		path = "(environment)"
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func run(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	printBanner(cfg, configPath)

	storage, err := securestore.NewSQLiteStore(cfg.Storage.Path, cfg.Storage.KeyPath)
	if err != nil {
		return fmt.Errorf("opening secure store: %w", err)
	}
	defer storage.Close()

	client, err := backend.NewHTTPClient(backend.Options{
		BaseURL:        cfg.Backend.URL,
		AnonKey:        cfg.Backend.AnonKey,
		RequestTimeout: cfg.Backend.RequestTimeout,
		RefreshMargin:  cfg.Backend.RefreshMargin,
		Storage:        storage,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}
	defer client.Close()

	appCtx, stop := context.WithCancel(ctx)

	router := navigation.NewRouter(logger)
	store := authstate.New(authstate.Options{
		Client:    client,
		Storage:   storage,
		Navigator: router,
		Logger:    logger,
	})
	watcher := guard.NewWatcher(store, router, router, logger)
	codes := otp.New(otp.Options{
		Client:         client,
		DefaultRegion:  cfg.OTP.DefaultRegion,
		ResendCooldown: cfg.OTP.ResendCooldown,
		Logger:         logger,
	})

	defer func() {
		stop()
		watcher.Wait()
		store.Close()
		router.Close()
		codes.Close()
	}()

	// Subscribe before bootstrapping so no session event is lost
	store.Start(appCtx)
	routes := router.Subscribe(appCtx)
	watcher.Start(appCtx)
	if cfg.Backend.AutoRefresh {
		client.StartAutoRefresh(appCtx, cfg.Backend.RefreshMargin/4)
	}

	in := newInput(appCtx, os.Stdin)
	prompt := func(ctx context.Context, question string) (string, error) {
		color.New(color.FgYellow).Print(question)
		return in.readLine(ctx)
	}

	deps := screens.Deps{
		Store:  store,
		Codes:  codes,
		Client: client,
		Nav:    router,
		Google: credential.NewGoogle(credential.PromptSignIn(prompt, credential.CodeGoogleCancelled), logger),
		Logger: logger,
	}
	if credential.AppleSupported(cfg.Platform.OS) {
		deps.Apple = credential.NewApple(credential.PromptSignIn(prompt, credential.CodeAppleCanceled), logger)
	}

	r := &repl{
		app:    screens.New(deps),
		store:  store,
		router: router,
		out:    os.Stdout,
	}

	fmt.Println("Loading...")
	store.Bootstrap(appCtx)
	logger.Info("vent started", "backend", cfg.Backend.URL, "phase", store.State().Phase())

	return r.loop(appCtx, in, routes)
}

func printBanner(cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Backend:  %s\n", cfg.Backend.URL)
	green.Print("    ▶ ")
	fmt.Printf("Storage:  %s\n", cfg.Storage.Path)
	if cfg.Platform.OS != "" {
		green.Print("    ▶ ")
		fmt.Printf("Platform: %s\n", cfg.Platform.OS)
	}
	fmt.Println("Type /help for commands. Ctrl+C to quit.")
	fmt.Println()
}

// input reads stdin on one goroutine so both the command loop and native
// sign-in prompts can wait on it with a context.
type input struct {
	lines chan string
	errs  chan error
}

func newInput(ctx context.Context, r io.Reader) *input {
	in := &input{lines: make(chan string), errs: make(chan error, 1)}
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case in.lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			in.errs <- err
		} else {
			in.errs <- io.EOF
		}
	}()
	return in
}

func (in *input) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-in.errs:
		in.errs <- err
		return "", err
	case line := <-in.lines:
		return line, nil
	}
}

// repl renders whichever screen is mounted and dispatches commands to it.
type repl struct {
	app      *screens.App
	store    *authstate.Store
	router   *navigation.Router
	out      io.Writer
	rendered string
}

func (r *repl) loop(ctx context.Context, in *input, routes <-chan navigation.Route) error {
	r.render(r.router.Current(), true)

	for {
		select {
		case <-ctx.Done():
			return nil
		case route, ok := <-routes:
			if !ok {
				return nil
			}
			r.render(route.Path, false)
		case err := <-in.errs:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line := <-in.lines:
			if quit := r.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	switch line {
	case "":
		r.prompt()
		return false
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		r.printHelp()
		r.prompt()
		return false
	case "/state":
		r.printState()
		r.prompt()
		return false
	}

	path := r.router.Current()
	err := r.app.Dispatch(ctx, r.out, path, line)
	switch {
	case errors.Is(err, screens.ErrUnknownCommand):
		fmt.Fprintf(r.out, "Unknown command: %s (try /help)\n", strings.Fields(line)[0])
	case err != nil:
		fmt.Fprintf(r.out, "[error] %v\n", err)
	}
	fmt.Fprintln(r.out)
	r.render(r.router.Current(), true)
	return false
}

// render shows the screen at path. Unless force is set, a path that is
// already on screen is not drawn again.
func (r *repl) render(path string, force bool) {
	if !force && path == r.rendered {
		return
	}
	r.rendered = path

	s, ok := r.app.Mount(path)
	switch {
	case ok:
		fmt.Fprintln(r.out)
		s.Render(r.out)
	case r.store.State().Loading:
		fmt.Fprintln(r.out, "Loading...")
	default:
		// Redirected; the route change will render the target
		return
	}
	r.prompt()
}

func (r *repl) prompt() {
	fmt.Fprintf(r.out, "%s> ", navigation.GroupOf(r.router.Current()))
}

func (r *repl) printHelp() {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(r.out, "Commands:")
	cyan.Fprint(r.out, "  /help    ")
	fmt.Fprintln(r.out, " Show this help")
	cyan.Fprint(r.out, "  /state   ")
	fmt.Fprintln(r.out, " Show the auth state")
	cyan.Fprint(r.out, "  /quit    ")
	fmt.Fprintln(r.out, " Exit (also /exit, /q)")

	if s, ok := r.app.Screen(r.router.Current()); ok {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, "On this screen:")
		for _, c := range s.Commands() {
			name := c.Name
			if c.Args != "" {
				name += " " + c.Args
			}
			cyan.Fprintf(r.out, "  %-18s", name)
			fmt.Fprintf(r.out, " %s\n", c.Help)
		}
	}
}

func (r *repl) printState() {
	st := r.store.State()
	fmt.Fprintf(r.out, "phase:          %s\n", st.Phase())
	fmt.Fprintf(r.out, "screen:         %s\n", r.router.Current())
	if st.User != nil {
		fmt.Fprintf(r.out, "user:           %s (%s)\n", st.User.ID, st.User.Provider())
	}
	if st.Session != nil {
		if exp := st.Session.Expiry(); !exp.IsZero() {
			fmt.Fprintf(r.out, "expires:        %s\n", exp.Format("15:04:05"))
		}
	}
	fmt.Fprintf(r.out, "needs 2FA:      %t\n", st.NeedsMobileVerification)
}
