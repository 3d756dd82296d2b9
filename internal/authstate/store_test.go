// ABOUTME: Tests for the auth state machine
// ABOUTME: Covers bootstrap, provider policy, sign-out, flag persistence, refresh and event ordering

package authstate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/vent-auth/internal/backend"
	"github.com/2389/vent-auth/internal/backend/backendtest"
	"github.com/2389/vent-auth/internal/navigation"
	"github.com/2389/vent-auth/internal/securestore"
)

// recordingNav records Replace calls.
type recordingNav struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNav) Replace(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNav) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func (n *recordingNav) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.paths) == 0 {
		return ""
	}
	return n.paths[len(n.paths)-1]
}

type fixture struct {
	store   *Store
	fake    *backendtest.Fake
	storage securestore.Store
	nav     *recordingNav
	ctx     context.Context
}

func newFixture(t *testing.T, storage securestore.Store) *fixture {
	t.Helper()
	if storage == nil {
		storage = securestore.NewMemoryStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{
		fake:    backendtest.New(),
		storage: storage,
		nav:     &recordingNav{},
		ctx:     ctx,
	}
	f.store = New(Options{
		Client:    f.fake,
		Storage:   storage,
		Navigator: f.nav,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() {
		cancel()
		f.store.Close()
	})
	return f
}

func (f *fixture) persistedFlag(t *testing.T) (flagRecord, bool) {
	t.Helper()
	require.NoError(t, f.store.FlushStorage(f.ctx))
	raw, err := f.storage.Get(f.ctx, FlagKey)
	if errors.Is(err, securestore.ErrNotFound) {
		return flagRecord{}, false
	}
	require.NoError(t, err)
	var rec flagRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec, true
}

func writeFlag(t *testing.T, storage securestore.Store, userID string, needs bool) {
	t.Helper()
	raw, err := json.Marshal(flagRecord{UserID: userID, Needs: needs})
	require.NoError(t, err)
	require.NoError(t, storage.Set(context.Background(), FlagKey, string(raw)))
}

func TestNew_StartsInInit(t *testing.T) {
	f := newFixture(t, nil)

	st := f.store.State()
	assert.Equal(t, Initial(), st)
	assert.Equal(t, PhaseInit, st.Phase())
}

func TestBootstrap_NoSession(t *testing.T) {
	f := newFixture(t, nil)

	st := f.store.Bootstrap(f.ctx)
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Session)
	assert.Equal(t, PhaseUnauthenticated, st.Phase())
}

func TestBootstrap_ErrorTreatedAsSignedOut(t *testing.T) {
	f := newFixture(t, nil)
	f.fake.FailWith("GetSession", errors.New("disk on fire"))

	st := f.store.Bootstrap(f.ctx)
	assert.Equal(t, SignedOut(), st)
}

func TestBootstrap_SessionWithPersistedFlag(t *testing.T) {
	storage := securestore.NewMemoryStore()
	writeFlag(t, storage, "g1", true)
	f := newFixture(t, storage)
	f.fake.SetSession(backendtest.Session("g1", backend.ProviderGoogle))

	st := f.store.Bootstrap(f.ctx)
	assert.True(t, st.IsAuthenticated)
	assert.True(t, st.NeedsMobileVerification)
	assert.Equal(t, PhaseNeeds2FA, st.Phase())
	assert.Empty(t, f.nav.Paths(), "bootstrap leaves redirects to the guard")
}

func TestBootstrap_ForeignFlagIgnoredAndRemoved(t *testing.T) {
	storage := securestore.NewMemoryStore()
	writeFlag(t, storage, "previous-user", true)
	f := newFixture(t, storage)
	f.fake.SetSession(backendtest.Session("g2", backend.ProviderGoogle))

	st := f.store.Bootstrap(f.ctx)
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.NeedsMobileVerification)

	_, ok := f.persistedFlag(t)
	assert.False(t, ok)
}

func TestBootstrap_ConcurrentCallersShareOneFetch(t *testing.T) {
	f := newFixture(t, nil)
	f.fake.SetSession(backendtest.Session("p1", backend.ProviderPhone))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fake.GetSessionHook = func(context.Context) {
		once.Do(func() { close(entered) })
		<-release
	}

	const callers = 10
	results := make(chan State, callers)
	for i := 0; i < callers; i++ {
		go func() { results <- f.store.Bootstrap(f.ctx) }()
	}

	<-entered
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		st := <-results
		assert.True(t, st.IsAuthenticated)
		assert.False(t, st.Loading)
	}
	assert.Equal(t, 1, f.fake.Calls("GetSession"))

	// A later caller observes the settled result without fetching
	f.store.Bootstrap(f.ctx)
	assert.Equal(t, 1, f.fake.Calls("GetSession"))
}

func TestBootstrap_EventDuringFetchWins(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Start(f.ctx)

	google := backendtest.Session("g1", backend.ProviderGoogle)
	f.fake.GetSessionHook = func(context.Context) {
		// The fetch is stale: it still sees no session
		f.fake.Emit(backend.EventSignedIn, google)
		require.Eventually(t, func() bool { return f.store.State().IsAuthenticated }, 2*time.Second, 5*time.Millisecond)
	}

	st := f.store.Bootstrap(f.ctx)
	assert.True(t, st.IsAuthenticated)
	assert.True(t, st.NeedsMobileVerification)
	assert.Equal(t, "g1", st.UserID())
}

func TestSignedIn_SocialForcesSecondFactor(t *testing.T) {
	for _, provider := range []backend.Provider{backend.ProviderGoogle, backend.ProviderApple} {
		t.Run(string(provider), func(t *testing.T) {
			storage := securestore.NewMemoryStore()
			writeFlag(t, storage, "u1", false)
			f := newFixture(t, storage)
			f.store.Bootstrap(f.ctx)

			f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("u1", provider)})

			st := f.store.State()
			assert.True(t, st.IsAuthenticated)
			assert.True(t, st.NeedsMobileVerification)
			assert.Equal(t, navigation.PathVerifyMobile, f.nav.Last())

			rec, ok := f.persistedFlag(t)
			require.True(t, ok)
			assert.Equal(t, flagRecord{UserID: "u1", Needs: true}, rec)
		})
	}
}

func TestSignedIn_PhoneClearsSecondFactor(t *testing.T) {
	storage := securestore.NewMemoryStore()
	writeFlag(t, storage, "p1", true)
	f := newFixture(t, storage)
	f.store.Bootstrap(f.ctx)

	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("p1", backend.ProviderPhone)})

	st := f.store.State()
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.NeedsMobileVerification)
	assert.Equal(t, PhaseAuthenticated, st.Phase())
	assert.Equal(t, navigation.PathHome, f.nav.Last())

	rec, ok := f.persistedFlag(t)
	require.True(t, ok)
	assert.False(t, rec.Needs)
}

func TestSignedIn_OtherProviderKeepsPersistedFlag(t *testing.T) {
	storage := securestore.NewMemoryStore()
	writeFlag(t, storage, "e1", true)
	f := newFixture(t, storage)
	f.store.Bootstrap(f.ctx)

	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("e1", backend.ProviderEmail)})

	assert.True(t, f.store.State().NeedsMobileVerification)
	assert.Empty(t, f.nav.Paths())
}

func TestSignedIn_WithoutSessionIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)

	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn})
	assert.Equal(t, SignedOut(), f.store.State())
}

func TestSignedOutEvent_ClearsStateAndFlag(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("g1", backend.ProviderGoogle)})

	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedOut})

	assert.Equal(t, SignedOut(), f.store.State())
	assert.Equal(t, navigation.PathPublicEntry, f.nav.Last())
	_, ok := f.persistedFlag(t)
	assert.False(t, ok)
}

func TestSignOut_ResetsEvenWhenBackendFails(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	f.fake.SetSession(backendtest.Session("g1", backend.ProviderGoogle))
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("g1", backend.ProviderGoogle)})
	f.fake.FailWith("SignOut", errors.New("network down"))

	f.store.SignOut(f.ctx)

	assert.Equal(t, SignedOut(), f.store.State())
	assert.Equal(t, navigation.PathPublicEntry, f.nav.Last())
	assert.Equal(t, 1, f.fake.Calls("SignOut"))

	// No flush needed: SignOut waits for the removal
	_, err := f.storage.Get(f.ctx, FlagKey)
	assert.ErrorIs(t, err, securestore.ErrNotFound)
}

func TestSetNeedsMobileVerification(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("g1", backend.ProviderGoogle)})

	f.store.SetNeedsMobileVerification(false)

	st := f.store.State()
	assert.False(t, st.NeedsMobileVerification)
	assert.Equal(t, PhaseAuthenticated, st.Phase())

	rec, ok := f.persistedFlag(t)
	require.True(t, ok)
	assert.Equal(t, flagRecord{UserID: "g1", Needs: false}, rec)
}

func TestSetNeedsMobileVerification_IgnoredWhenSignedOut(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)

	f.store.SetNeedsMobileVerification(true)

	assert.Equal(t, SignedOut(), f.store.State())
	_, ok := f.persistedFlag(t)
	assert.False(t, ok)
}

// gatedStore blocks writes until its gate is closed.
type gatedStore struct {
	securestore.Store
	gate chan struct{}
}

func (g *gatedStore) Set(ctx context.Context, key, value string) error {
	<-g.gate
	return g.Store.Set(ctx, key, value)
}

func TestSetNeedsMobileVerification_DoesNotWaitForStorage(t *testing.T) {
	storage := &gatedStore{Store: securestore.NewMemoryStore(), gate: make(chan struct{})}
	f := newFixture(t, storage)
	defer close(storage.gate)
	f.store.Bootstrap(f.ctx)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("g1", backend.ProviderGoogle)})

	done := make(chan struct{})
	go func() {
		f.store.SetNeedsMobileVerification(false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetNeedsMobileVerification blocked on storage")
	}
	assert.False(t, f.store.State().NeedsMobileVerification)
}

func TestSecondFactorUpgradeKeepsClearedFlag(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	google := backendtest.Session("g1", backend.ProviderGoogle)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: google})

	f.store.SetNeedsMobileVerification(false)

	upgraded := *google
	upgraded.User.Phone = "+14155552671"
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventUserUpdated, Session: &upgraded})
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventTokenRefreshed, Session: &upgraded})

	st := f.store.State()
	assert.False(t, st.NeedsMobileVerification)
	assert.Equal(t, "+14155552671", st.User.Phone)
}

func TestRefreshSession_FailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("g1", backend.ProviderGoogle)})
	before := f.store.State()

	f.fake.FailWith("GetSession", errors.New("timeout"))
	after := f.store.RefreshSession(f.ctx)

	assert.Equal(t, before, after)
	assert.Equal(t, before, f.store.State())
}

func TestRefreshSession_ReconcilesSession(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	google := backendtest.Session("g1", backend.ProviderGoogle)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: google})

	rotated := *google
	rotated.AccessToken = "rotated"
	f.fake.SetSession(&rotated)

	st := f.store.RefreshSession(f.ctx)
	assert.Equal(t, "rotated", st.Session.AccessToken)
	assert.True(t, st.NeedsMobileVerification)
	assert.False(t, st.Loading)

	f.fake.SetSession(nil)
	st = f.store.RefreshSession(f.ctx)
	assert.Equal(t, SignedOut(), st)
}

func TestRefreshSession_PublishesLoading(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	states := f.store.Subscribe(f.ctx)

	f.store.RefreshSession(f.ctx)

	first := <-states
	assert.True(t, first.Loading)
	second := <-states
	assert.False(t, second.Loading)
}

func TestStart_AppliesBackendEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Start(f.ctx)
	f.store.Bootstrap(f.ctx)

	f.fake.Emit(backend.EventSignedIn, backendtest.Session("p1", backend.ProviderPhone))
	require.Eventually(t, func() bool { return f.store.State().IsAuthenticated }, 2*time.Second, 5*time.Millisecond)

	f.fake.Emit(backend.EventSignedOut, nil)
	require.Eventually(t, func() bool { return !f.store.State().IsAuthenticated }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{navigation.PathHome, navigation.PathPublicEntry}, f.nav.Paths())
}

func TestEventSequences_NoStaleSession(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)

	providers := []backend.Provider{backend.ProviderGoogle, backend.ProviderApple, backend.ProviderPhone}
	kinds := []backend.EventKind{
		backend.EventSignedIn, backend.EventSignedOut, backend.EventTokenRefreshed,
		backend.EventUserUpdated, backend.EventInitialSession,
	}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		kind := kinds[rng.Intn(len(kinds))]
		var sess *backend.Session
		if kind == backend.EventSignedIn || (kind != backend.EventSignedOut && rng.Intn(3) > 0) {
			sess = backendtest.Session("u", providers[rng.Intn(len(providers))])
		}

		f.store.HandleEvent(f.ctx, backend.Event{Kind: kind, Session: sess})
		st := f.store.State()

		require.Equal(t, sess != nil, st.IsAuthenticated, "step %d: %s", i, kind)
		require.Equal(t, st.Session != nil, st.User != nil, "step %d", i)
		require.False(t, st.Loading, "step %d", i)
		if kind == backend.EventSignedIn {
			require.Equal(t, sess.Provider().IsSocial(), st.NeedsMobileVerification, "step %d", i)
		}
		if !st.IsAuthenticated {
			require.False(t, st.NeedsMobileVerification, "step %d", i)
		}
	}
}

func TestSnapshotsDoNotAliasEventSessions(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	sess := backendtest.Session("g1", backend.ProviderGoogle)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: sess})

	sess.User.ID = "mutated"
	assert.Equal(t, "g1", f.store.State().UserID())
}

func TestRefreshSession_FlagChangeDuringFetchKeepsFetchedSession(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	google := backendtest.Session("u1", backend.ProviderGoogle)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: google})

	fresh := *google
	fresh.AccessToken = "access-fresh"
	f.fake.SetSession(&fresh)
	f.fake.GetSessionHook = func(context.Context) {
		f.store.SetNeedsMobileVerification(false)
	}

	st := f.store.RefreshSession(f.ctx)
	assert.Equal(t, "access-fresh", st.Session.AccessToken)
	assert.False(t, st.NeedsMobileVerification)
	assert.False(t, st.Loading)
	assert.Equal(t, st, f.store.State())

	rec, ok := f.persistedFlag(t)
	require.True(t, ok)
	assert.Equal(t, flagRecord{UserID: "u1", Needs: false}, rec)
}

func TestRefreshSession_FlagChangeDuringFetchStillSignsOut(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("u1", backend.ProviderGoogle)})

	f.fake.SetSession(nil)
	f.fake.GetSessionHook = func(context.Context) {
		f.store.SetNeedsMobileVerification(false)
	}

	st := f.store.RefreshSession(f.ctx)
	assert.Equal(t, SignedOut(), st)
	assert.Equal(t, SignedOut(), f.store.State())
	_, ok := f.persistedFlag(t)
	assert.False(t, ok)
}

func TestRefreshSession_SessionEventDuringFetchWins(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Bootstrap(f.ctx)
	google := backendtest.Session("u1", backend.ProviderGoogle)
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: google})

	// The fetch is stale: it still returns the signed-in session
	f.fake.SetSession(google)
	f.fake.GetSessionHook = func(ctx context.Context) {
		f.store.HandleEvent(ctx, backend.Event{Kind: backend.EventSignedOut})
	}

	st := f.store.RefreshSession(f.ctx)
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.Loading)
	assert.Equal(t, SignedOut(), f.store.State())
}

// slowRemoveStore blocks removals until its gate is closed.
type slowRemoveStore struct {
	securestore.Store
	gate chan struct{}
}

func (g *slowRemoveStore) Remove(ctx context.Context, key string) error {
	<-g.gate
	return g.Store.Remove(ctx, key)
}

func TestSignedIn_ReadsFlagAfterPendingRemoval(t *testing.T) {
	storage := &slowRemoveStore{Store: securestore.NewMemoryStore(), gate: make(chan struct{})}
	f := newFixture(t, storage)
	f.store.Bootstrap(f.ctx)

	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("u1", backend.ProviderGoogle)})
	require.NoError(t, f.store.FlushStorage(f.ctx))

	// The removal queued by SIGNED_OUT is still pending when the next
	// sign-in reads the flag
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedOut})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(storage.gate)
	}()
	f.store.HandleEvent(f.ctx, backend.Event{Kind: backend.EventSignedIn, Session: backendtest.Session("u1", backend.ProviderEmail)})

	st := f.store.State()
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.NeedsMobileVerification)
	_, ok := f.persistedFlag(t)
	assert.False(t, ok)
}
