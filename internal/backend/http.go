// ABOUTME: HTTP implementation of the auth service client (GoTrue REST API)
// ABOUTME: Persists the session in secure storage and emits lifecycle events

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/2389/vent-auth/internal/autherr"
	"github.com/2389/vent-auth/internal/broadcast"
	"github.com/2389/vent-auth/internal/securestore"
)

// SessionKey is the secure storage key holding the persisted session JSON.
const SessionKey = "vent.auth.session"

// defaultTimeout bounds every request when Options.RequestTimeout is zero.
const defaultTimeout = 15 * time.Second

// Options configures an HTTPClient.
type Options struct {
	BaseURL        string // e.g. https://project.supabase.co/auth/v1
	AnonKey        string
	RequestTimeout time.Duration
	// RefreshMargin is how long before expiry a session is considered stale.
	RefreshMargin time.Duration
	Storage       securestore.Store
	HTTPClient    *http.Client
	Logger        *slog.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// HTTPClient implements Client against a GoTrue-compatible REST API.
type HTTPClient struct {
	baseURL       string
	anonKey       string
	timeout       time.Duration
	refreshMargin time.Duration
	storage       securestore.Store
	http          *http.Client
	events        *broadcast.Broadcaster[Event]
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	session *Session
	loaded  bool

	refreshMu sync.Mutex
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client. Storage is required.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &HTTPClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		anonKey:       opts.AnonKey,
		timeout:       timeout,
		refreshMargin: opts.RefreshMargin,
		storage:       opts.Storage,
		http:          httpClient,
		events:        broadcast.New[Event]("auth-events", logger),
		logger:        logger.With("component", "backend"),
		now:           now,
	}, nil
}

// Subscribe delivers session lifecycle events until ctx is done.
func (c *HTTPClient) Subscribe(ctx context.Context) <-chan Event {
	ch, _ := c.events.Subscribe(ctx)
	return ch
}

// Close stops event delivery to all subscribers.
func (c *HTTPClient) Close() {
	c.events.Close()
}

// GetSession returns the current session, loading it from storage on first
// use and refreshing it when it is about to expire.
func (c *HTTPClient) GetSession(ctx context.Context) (*Session, error) {
	sess, err := c.currentSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	if !sess.ExpiresWithin(c.now(), c.refreshMargin) {
		return sess, nil
	}

	fresh, err := c.RefreshSession(ctx)
	if err != nil {
		// Still inside its lifetime: usable until the next refresh attempt
		if current, _ := c.currentSession(ctx); current != nil && !current.ExpiresWithin(c.now(), 0) {
			c.logger.Warn("refresh failed, using unexpired session", "error", err)
			return current, nil
		}
		return nil, err
	}
	return fresh, nil
}

// currentSession returns the in-memory session, loading the persisted one once.
func (c *HTTPClient) currentSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.session, nil
	}

	raw, err := c.storage.Get(ctx, SessionKey)
	if errors.Is(err, securestore.ErrNotFound) {
		c.loaded = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading persisted session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		c.logger.Warn("discarding unreadable persisted session", "error", err)
		_ = c.storage.Remove(ctx, SessionKey)
		c.loaded = true
		return nil, nil
	}
	c.session = &sess
	c.loaded = true
	return c.session, nil
}

// SignInWithIDToken exchanges a Google or Apple identity token for a session.
func (c *HTTPClient) SignInWithIDToken(ctx context.Context, provider Provider, idToken, nonce string) (*Session, error) {
	body := map[string]string{
		"provider": string(provider),
		"id_token": idToken,
	}
	if nonce != "" {
		body["nonce"] = nonce
	}

	var sess Session
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=id_token", "", body, &sess); err != nil {
		return nil, err
	}
	if err := c.saveSession(ctx, &sess); err != nil {
		return nil, err
	}

	c.logger.Info("signed in with identity token", "provider", provider, "user_id", sess.User.ID)
	c.emit(EventSignedIn, &sess)
	return &sess, nil
}

// SignInWithOTP asks the service to send a sign-in code to phone.
func (c *HTTPClient) SignInWithOTP(ctx context.Context, phone string) error {
	body := map[string]any{
		"phone":       phone,
		"create_user": true,
		"channel":     "sms",
	}
	if err := c.do(ctx, http.MethodPost, "/otp", "", body, nil); err != nil {
		return err
	}
	c.logger.Debug("requested sign-in code")
	return nil
}

// VerifyOTP redeems a code. A sign-in code emits SIGNED_IN; a phone change
// code upgrades the existing session and emits USER_UPDATED.
func (c *HTTPClient) VerifyOTP(ctx context.Context, phone, code string, mode VerifyMode) (*Session, error) {
	body := map[string]string{
		"type":  string(mode),
		"phone": phone,
		"token": code,
	}

	bearer := ""
	if mode == ModePhoneChange {
		sess, err := c.currentSession(ctx)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, autherr.Backend("You must be signed in to verify a phone number", ErrNoSession)
		}
		bearer = sess.AccessToken
	}

	var sess Session
	if err := c.do(ctx, http.MethodPost, "/verify", bearer, body, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, autherr.Backend("Verification did not return a session", nil)
	}
	if err := c.saveSession(ctx, &sess); err != nil {
		return nil, err
	}

	if mode == ModePhoneChange {
		c.emit(EventUserUpdated, &sess)
	} else {
		c.emit(EventSignedIn, &sess)
	}
	return &sess, nil
}

// UpdateUser changes attributes of the signed-in user.
func (c *HTTPClient) UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error) {
	sess, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, autherr.Backend("You must be signed in to update your account", ErrNoSession)
	}

	var user User
	if err := c.do(ctx, http.MethodPut, "/user", sess.AccessToken, attrs, &user); err != nil {
		return nil, err
	}

	updated := *sess
	updated.User = user
	if err := c.saveSession(ctx, &updated); err != nil {
		return nil, err
	}
	c.emit(EventUserUpdated, &updated)
	return &user, nil
}

// RefreshSession exchanges the refresh token for a new session. When the
// service rejects the refresh token the local session is dropped and
// SIGNED_OUT is emitted.
func (c *HTTPClient) RefreshSession(ctx context.Context) (*Session, error) {
	before, err := c.currentSession(ctx)
	if err != nil || before == nil {
		return nil, err
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	sess, err := c.currentSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	// Another caller refreshed while we waited
	if sess.RefreshToken != before.RefreshToken {
		return sess, nil
	}

	var fresh Session
	err = c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": sess.RefreshToken,
	}, &fresh)
	if err != nil {
		if apiErr, ok := AsAPIError(err); ok && apiErr.IsInvalidGrant() {
			c.logger.Warn("refresh token rejected, signing out locally", "code", apiErr.Code)
			c.clearSession(ctx)
			c.emit(EventSignedOut, nil)
		}
		return nil, err
	}
	if err := c.saveSession(ctx, &fresh); err != nil {
		return nil, err
	}

	c.logger.Debug("session refreshed", "expires_at", fresh.Expiry())
	c.emit(EventTokenRefreshed, &fresh)
	return &fresh, nil
}

// SignOut revokes the session on the service and forgets it locally. The
// local session is always cleared and SIGNED_OUT always emitted; the service
// error, if any, is returned for logging.
func (c *HTTPClient) SignOut(ctx context.Context) error {
	sess, loadErr := c.currentSession(ctx)

	var remoteErr error
	if sess != nil {
		remoteErr = c.do(ctx, http.MethodPost, "/logout", sess.AccessToken, nil, nil)
		if apiErr, ok := AsAPIError(remoteErr); ok && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound) {
			// Session already gone on the service
			remoteErr = nil
		}
	}

	c.clearSession(ctx)
	c.emit(EventSignedOut, nil)
	c.logger.Info("signed out")

	if loadErr != nil {
		return loadErr
	}
	return remoteErr
}

// StartAutoRefresh refreshes the session in the background whenever it is
// within the refresh margin of expiring, checking every interval until ctx
// is done. Mirrors the foreground auto refresh of mobile SDKs.
func (c *HTTPClient) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.autoRefreshTick(ctx)
			}
		}
	}()
}

func (c *HTTPClient) autoRefreshTick(ctx context.Context) {
	sess, err := c.currentSession(ctx)
	if err != nil || sess == nil {
		return
	}
	if !sess.ExpiresWithin(c.now(), c.refreshMargin) {
		return
	}
	if _, err := c.RefreshSession(ctx); err != nil {
		c.logger.Warn("auto refresh failed", "error", err)
	}
}

func (c *HTTPClient) saveSession(ctx context.Context, sess *Session) error {
	sess.normalize(c.now())

	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := c.storage.Set(ctx, SessionKey, string(raw)); err != nil {
		// The session is still usable for this process
		c.logger.Error("failed to persist session", "error", err)
	}

	c.mu.Lock()
	c.session = sess
	c.loaded = true
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) clearSession(ctx context.Context) {
	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.mu.Unlock()

	if err := c.storage.Remove(ctx, SessionKey); err != nil {
		c.logger.Error("failed to remove persisted session", "error", err)
	}
}

func (c *HTTPClient) emit(kind EventKind, sess *Session) {
	var copied *Session
	if sess != nil {
		s := *sess
		copied = &s
	}
	c.logger.Debug("auth event", "event", kind)
	c.events.Publish(Event{Kind: kind, Session: copied})
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// bearer defaults to the anon key.
func (c *HTTPClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return autherr.Wrap(autherr.KindUnexpected, "encoding request", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return autherr.Wrap(autherr.KindUnexpected, "creating request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return autherr.Cancelled(err)
		}
		return autherr.Network(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return autherr.Network(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return autherr.Wrap(autherr.KindUnexpected, "parsing auth service response", err)
	}
	return nil
}
