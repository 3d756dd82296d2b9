// ABOUTME: Session store owning the auth state machine
// ABOUTME: Applies backend lifecycle events, provider policy and sign-out, publishing whole snapshots

package authstate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/2389/vent-auth/internal/backend"
	"github.com/2389/vent-auth/internal/broadcast"
	"github.com/2389/vent-auth/internal/navigation"
	"github.com/2389/vent-auth/internal/securestore"
)

// Options configures a Store.
type Options struct {
	Client    backend.Client
	Storage   securestore.Store
	Navigator navigation.Navigator
	Logger    *slog.Logger
}

// Store is the single writer of State. Readers use State or Subscribe.
type Store struct {
	client  backend.Client
	storage securestore.Store
	nav     navigation.Navigator
	logger  *slog.Logger

	// mu serialises mutations; gen counts the session-changing ones so a
	// slow bootstrap or refresh can tell it was overtaken. Flag-only changes
	// leave gen alone.
	mu    sync.Mutex
	gen   uint64
	state atomic.Pointer[State]

	states *broadcast.Broadcaster[State]
	flags  *flagWriter

	boot  singleflight.Group
	ready atomic.Bool

	started atomic.Bool
	loopWG  sync.WaitGroup
}

// New creates a store in the Initial state.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "authstate")

	s := &Store{
		client:  opts.Client,
		storage: opts.Storage,
		nav:     opts.Navigator,
		logger:  logger,
		states:  broadcast.New[State]("auth-state", logger),
		flags:   newFlagWriter(opts.Storage, logger),
	}
	initial := Initial()
	s.state.Store(&initial)
	return s
}

// State returns the current snapshot.
func (s *Store) State() State {
	return *s.state.Load()
}

// Subscribe delivers every new snapshot until ctx is done. The current
// snapshot is not replayed; read State first.
func (s *Store) Subscribe(ctx context.Context) <-chan State {
	ch, _ := s.states.Subscribe(ctx)
	return ch
}

// Start subscribes to backend events and applies them on a background
// goroutine until ctx is done. Call it before Bootstrap so no event is lost.
func (s *Store) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	events := s.client.Subscribe(ctx)

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.HandleEvent(ctx, ev)
			}
		}
	}()
}

// Close waits for the event loop to stop (its ctx must be done) and drains
// pending flag writes.
func (s *Store) Close() {
	s.loopWG.Wait()
	s.flags.close()
	s.states.Close()
}

// Bootstrap fetches the existing backend session and settles the initial
// state. Concurrent callers share one fetch and callers after completion get
// the current state without a fetch. A backend event applied while the fetch
// is in flight takes precedence over its result.
func (s *Store) Bootstrap(ctx context.Context) State {
	if s.ready.Load() {
		return s.State()
	}

	v, _, _ := s.boot.Do("bootstrap", func() (any, error) {
		if s.ready.Load() {
			return s.State(), nil
		}
		s.bootstrap(ctx)
		s.ready.Store(true)
		return s.State(), nil
	})
	return v.(State)
}

func (s *Store) bootstrap(ctx context.Context) {
	gen := s.generation()

	next := SignedOut()
	sess, err := s.client.GetSession(ctx)
	switch {
	case err != nil:
		s.logger.Warn("bootstrap session fetch failed, treating as signed out", "error", err)
	case sess != nil:
		next = authenticated(sess, s.readFlag(ctx, sess.User.ID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.logger.Debug("event arrived during bootstrap, keeping it", "phase", s.state.Load().Phase())
		return
	}
	s.setLocked(next)
	s.logger.Info("bootstrapped", "phase", next.Phase(), "user_id", next.UserID())
}

// Hydrate builds the authenticated state for sess. The verification flag is
// kept from memory when sess belongs to the current user, otherwise it is
// read from secure storage.
func (s *Store) Hydrate(ctx context.Context, sess *backend.Session) State {
	if sess == nil {
		return s.clear("hydrate without session")
	}
	return s.hydrate(ctx, sess, nil)
}

// hydrate publishes the authenticated state for sess. A non-nil force
// replaces the verification flag and persists it.
func (s *Store) hydrate(ctx context.Context, sess *backend.Session, force *bool) State {
	userID := sess.User.ID

	// Storage is read outside the lock unless the user is already current
	var stored *bool
	if force == nil && !isCurrentUser(s.State(), userID) {
		v := s.readFlag(ctx, userID)
		stored = &v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.state.Load()
	var needs bool
	switch {
	case force != nil:
		needs = *force
		s.flags.set(userID, needs)
	case isCurrentUser(cur, userID):
		needs = cur.NeedsMobileVerification
	case stored != nil:
		needs = *stored
	default:
		needs = s.readFlag(ctx, userID)
	}

	next := authenticated(sess, needs)
	s.setLocked(next)
	return next
}

func isCurrentUser(st State, userID string) bool {
	return st.IsAuthenticated && st.UserID() == userID
}

// HandleEvent applies one backend lifecycle event.
func (s *Store) HandleEvent(ctx context.Context, ev backend.Event) {
	s.logger.Debug("backend event", "event", ev.Kind)

	switch ev.Kind {
	case backend.EventSignedIn:
		if ev.Session == nil {
			s.logger.Warn("ignoring SIGNED_IN without a session")
			return
		}
		s.signedIn(ctx, ev.Session)

	case backend.EventSignedOut:
		s.reset()
		s.navigate(navigation.PathPublicEntry)

	default:
		if ev.Session == nil {
			s.reset()
			return
		}
		s.hydrate(ctx, ev.Session, nil)
	}
}

// signedIn hydrates sess and applies the provider policy in one snapshot:
// social providers must pass the phone challenge, phone sign-ins have.
func (s *Store) signedIn(ctx context.Context, sess *backend.Session) {
	provider := sess.Provider()

	var force *bool
	var target string
	switch {
	case provider.IsSocial():
		needs := true
		force, target = &needs, navigation.PathVerifyMobile
	case provider == backend.ProviderPhone:
		needs := false
		force, target = &needs, navigation.PathHome
	}

	next := s.hydrate(ctx, sess, force)
	s.logger.Info("signed in", "provider", provider, "user_id", sess.User.ID, "phase", next.Phase())
	if target != "" {
		s.navigate(target)
	}
}

// SetNeedsMobileVerification updates the flag in memory immediately and
// persists it in the background. It is ignored while nobody is signed in.
func (s *Store) SetNeedsMobileVerification(needs bool) {
	s.mu.Lock()
	cur := *s.state.Load()
	if !cur.IsAuthenticated {
		s.mu.Unlock()
		s.logger.Debug("ignoring verification flag change while signed out")
		return
	}
	cur.NeedsMobileVerification = needs
	s.publishLocked(cur)
	s.flags.set(cur.UserID(), needs)
	s.mu.Unlock()

	s.logger.Info("mobile verification flag changed", "needs", needs, "user_id", cur.UserID())
}

// FlushStorage waits until queued flag writes have reached secure storage.
func (s *Store) FlushStorage(ctx context.Context) error {
	return s.flags.flush(ctx)
}

// SignOut signs out with the backend and resets local state. The local
// reset happens even when the backend call fails; that failure is only
// logged.
func (s *Store) SignOut(ctx context.Context) {
	if err := s.client.SignOut(ctx); err != nil {
		s.logger.Warn("backend sign-out failed, signing out locally", "error", err)
	}

	s.reset()
	if err := s.flags.flush(ctx); err != nil {
		s.logger.Warn("verification flag removal still pending", "error", err)
	}
	s.logger.Info("signed out")
	s.navigate(navigation.PathPublicEntry)
}

// RefreshSession re-fetches the backend session and reconciles the state.
// On failure the state is left as it was apart from Loading. A flag change
// made while the fetch is in flight is kept; a session change made meanwhile
// wins over the fetched result.
func (s *Store) RefreshSession(ctx context.Context) State {
	s.mu.Lock()
	before := *s.state.Load()
	loading := before
	loading.Loading = true
	s.setLocked(loading)
	gen := s.gen
	s.mu.Unlock()

	sess, err := s.client.GetSession(ctx)
	if err != nil {
		s.logger.Warn("session refresh failed", "error", err)
		return s.settle(gen, func(cur State) State { return cur })
	}
	if sess == nil {
		return s.settle(gen, func(cur State) State {
			if cur.IsAuthenticated {
				s.flags.remove()
			}
			return SignedOut()
		})
	}

	var stored bool
	if !isCurrentUser(before, sess.User.ID) {
		stored = s.readFlag(ctx, sess.User.ID)
	}
	return s.settle(gen, func(cur State) State {
		needs := stored
		if isCurrentUser(cur, sess.User.ID) {
			needs = cur.NeedsMobileVerification
		}
		return authenticated(sess, needs)
	})
}

// settle publishes reconcile(current) unless a session-changing mutation
// happened since gen, in which case it only ends the loading phase of the
// newer state. Caller must not hold mu.
func (s *Store) settle(gen uint64, reconcile func(cur State) State) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.state.Load()
	next := cur
	switch {
	case s.gen == gen:
		next = reconcile(cur)
	case !cur.Loading:
		return cur
	}
	next.Loading = false
	s.setLocked(next)
	return next
}

// reset clears the state and queues removal of the persisted flag.
func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(SignedOut())
	s.flags.remove()
}

func (s *Store) clear(reason string) State {
	s.logger.Debug("clearing state", "reason", reason)
	s.reset()
	return SignedOut()
}

func (s *Store) navigate(path string) {
	if s.nav == nil {
		return
	}
	s.nav.Replace(path)
}

func (s *Store) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// setLocked publishes a session change. Caller holds mu.
func (s *Store) setLocked(next State) {
	s.gen++
	s.publishLocked(next)
}

// publishLocked publishes next without counting it as a session change.
// Caller holds mu.
func (s *Store) publishLocked(next State) {
	s.state.Store(&next)
	s.states.Publish(next)
}
