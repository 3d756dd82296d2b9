// ABOUTME: Scriptable in-memory backend.Client for package tests
// ABOUTME: Records calls, injects errors, and emits lifecycle events on demand

// Package backendtest provides a fake backend.Client.
package backendtest

import (
	"context"
	"sync"

	"github.com/2389/vent-auth/internal/backend"
	"github.com/2389/vent-auth/internal/broadcast"
)

// Fake is a backend.Client whose responses are set by the test. The zero
// value is not usable; call New.
type Fake struct {
	events *broadcast.Broadcaster[backend.Event]

	mu      sync.Mutex
	session *backend.Session
	calls   map[string]int
	errs    map[string]error

	// GetSessionHook, when set, runs inside GetSession before it returns.
	GetSessionHook func(ctx context.Context)
	// VerifySession is returned by VerifyOTP. Defaults to a phone session.
	VerifySession *backend.Session
	// LastPhone, LastCode and LastMode record the most recent OTP calls.
	LastPhone string
	LastCode  string
	LastMode  backend.VerifyMode
	LastAttrs backend.UserAttributes
}

var _ backend.Client = (*Fake)(nil)

// New returns a Fake with no session.
func New() *Fake {
	return &Fake{
		events: broadcast.New[backend.Event]("fake-auth-events", nil),
		calls:  make(map[string]int),
		errs:   make(map[string]error),
	}
}

// Session builds a session for provider.
func Session(userID string, provider backend.Provider) *backend.Session {
	return &backend.Session{
		AccessToken:  "access-" + userID,
		TokenType:    "bearer",
		RefreshToken: "refresh-" + userID,
		User: backend.User{
			ID:          userID,
			AppMetadata: backend.AppMetadata{Provider: string(provider), Providers: []string{string(provider)}},
		},
	}
}

// SetSession sets what GetSession returns.
func (f *Fake) SetSession(s *backend.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

// FailWith makes every call to method return err until cleared with nil.
func (f *Fake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// Calls returns how many times method was called.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Emit publishes an event to subscribers.
func (f *Fake) Emit(kind backend.EventKind, s *backend.Session) {
	f.events.Publish(backend.Event{Kind: kind, Session: s})
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int {
	return f.events.Len()
}

func (f *Fake) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.errs[method]
}

func (f *Fake) GetSession(ctx context.Context) (*backend.Session, error) {
	err := f.record("GetSession")
	if f.GetSessionHook != nil {
		f.GetSessionHook(ctx)
	}
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *Fake) SignInWithIDToken(_ context.Context, provider backend.Provider, idToken, _ string) (*backend.Session, error) {
	if err := f.record("SignInWithIDToken"); err != nil {
		return nil, err
	}
	s := Session("user-"+idToken, provider)
	f.SetSession(s)
	f.Emit(backend.EventSignedIn, s)
	return s, nil
}

func (f *Fake) SignInWithOTP(_ context.Context, phone string) error {
	f.mu.Lock()
	f.LastPhone = phone
	f.mu.Unlock()
	return f.record("SignInWithOTP")
}

func (f *Fake) VerifyOTP(_ context.Context, phone, code string, mode backend.VerifyMode) (*backend.Session, error) {
	f.mu.Lock()
	f.LastPhone, f.LastCode, f.LastMode = phone, code, mode
	f.mu.Unlock()
	if err := f.record("VerifyOTP"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	s := f.VerifySession
	if s == nil {
		if mode == backend.ModePhoneChange && f.session != nil {
			upgraded := *f.session
			upgraded.User.Phone = phone
			s = &upgraded
		} else {
			s = Session("phone-user", backend.ProviderPhone)
			s.User.Phone = phone
		}
	}
	f.session = s
	f.mu.Unlock()

	if mode == backend.ModePhoneChange {
		f.Emit(backend.EventUserUpdated, s)
	} else {
		f.Emit(backend.EventSignedIn, s)
	}
	return s, nil
}

func (f *Fake) UpdateUser(_ context.Context, attrs backend.UserAttributes) (*backend.User, error) {
	f.mu.Lock()
	f.LastAttrs = attrs
	f.mu.Unlock()
	if err := f.record("UpdateUser"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, backend.ErrNoSession
	}
	u := f.session.User
	return &u, nil
}

func (f *Fake) RefreshSession(_ context.Context) (*backend.Session, error) {
	if err := f.record("RefreshSession"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

// SignOut clears the session and emits SIGNED_OUT even when an error is
// injected, like the real client.
func (f *Fake) SignOut(_ context.Context) error {
	err := f.record("SignOut")
	f.SetSession(nil)
	f.Emit(backend.EventSignedOut, nil)
	return err
}

func (f *Fake) Subscribe(ctx context.Context) <-chan backend.Event {
	ch, _ := f.events.Subscribe(ctx)
	return ch
}
