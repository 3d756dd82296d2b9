// ABOUTME: In-memory GoTrue-compatible auth server for development and tests
// ABOUTME: Issues HS256 sessions, generates logged OTP codes, and supports failure injection

package fakeauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	otpDigits = 6
	otpTTL    = 5 * time.Minute
)

// Options configures a Server.
type Options struct {
	Secret     []byte
	SessionTTL time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// User is the server-side user record.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud"`
	Role             string         `json:"role"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	PhoneConfirmedAt *time.Time     `json:"phone_confirmed_at,omitempty"`
	NewPhone         string         `json:"new_phone,omitempty"`
	AppMetadata      appMetadata    `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
	CreatedAt        time.Time      `json:"created_at"`

	identities map[string]string // provider -> subject
}

type appMetadata struct {
	Provider  string   `json:"provider"`
	Providers []string `json:"providers"`
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

type pendingCode struct {
	code      string
	userID    string // phone_change only
	expiresAt time.Time
}

type failure struct {
	status int
	code   string
	msg    string
}

// Server is a minimal GoTrue-compatible auth API.
type Server struct {
	tokens     *tokenSigner
	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.Mutex
	users         map[string]*User
	refreshTokens map[string]string // refresh token -> user ID
	codes         map[string]pendingCode
	failures      map[string]failure
	requests      map[string]int
}

// New creates a server. A random secret is generated when none is given.
func New(opts Options) *Server {
	secret := opts.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	ttl := opts.SessionTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Server{
		tokens:        newTokenSigner(secret, now),
		sessionTTL:    ttl,
		logger:        logger.With("component", "fakeauth"),
		now:           now,
		users:         make(map[string]*User),
		refreshTokens: make(map[string]string),
		codes:         make(map[string]pendingCode),
		failures:      make(map[string]failure),
		requests:      make(map[string]int),
	}
}

// Handler returns the HTTP handler serving the auth API at the root.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", s.wrap("/token", s.handleToken))
	mux.HandleFunc("/otp", s.wrap("/otp", s.handleOTP))
	mux.HandleFunc("/verify", s.wrap("/verify", s.handleVerify))
	mux.HandleFunc("/user", s.wrap("/user", s.handleUser))
	mux.HandleFunc("/logout", s.wrap("/logout", s.handleLogout))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": "fakeauth", "description": "GoTrue-compatible development server"})
	})
	return mux
}

// FailNext makes the next request to path fail with the given status and
// error payload.
func (s *Server) FailNext(path string, status int, code, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = failure{status: status, code: code, msg: msg}
}

// Requests returns how many requests path has received.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// LastCode returns the outstanding code for phone and verification type
// ("sms" or "phone_change").
func (s *Server) LastCode(verifyType, phone string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.codes[codeKey(verifyType, phone)]
	return p.code, ok
}

// IssueIDToken returns an unsigned-by-the-provider identity token that the
// server accepts for provider sign-in. Development only.
func (s *Server) IssueIDToken(subject, email, name string) (string, error) {
	return s.tokens.IdentityToken(subject, email, name)
}

func (s *Server) wrap(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[path]++
		f, fail := s.failures[path]
		delete(s.failures, path)
		s.mu.Unlock()

		if fail {
			writeError(w, f.status, f.code, f.msg)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	switch r.URL.Query().Get("grant_type") {
	case "id_token":
		s.handleIDTokenGrant(w, r)
	case "refresh_token":
		s.handleRefreshGrant(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type")
	}
}

func (s *Server) handleIDTokenGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		IDToken  string `json:"id_token"`
		Nonce    string `json:"nonce"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if req.Provider != "google" && req.Provider != "apple" {
		writeError(w, http.StatusBadRequest, "provider_not_supported", fmt.Sprintf("Custom OIDC provider %q not allowed", req.Provider))
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "id_token is required")
		return
	}

	subject, email, name := identityClaims(req.IDToken)

	s.mu.Lock()
	user := s.findIdentityLocked(req.Provider, subject)
	if user == nil {
		user = s.createUserLocked(req.Provider)
		user.identities[req.Provider] = subject
		user.Email = email
		if name != "" {
			user.UserMetadata["full_name"] = name
		}
	}
	resp, err := s.issueSessionLocked(user)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "failed to issue session")
		return
	}

	s.logger.Info("identity token sign-in", "provider", req.Provider, "user_id", user.ID)
	writeJSON(w, http.StatusOK, resp)
}

// identityClaims reads sub/email/name from an identity token without
// verifying it. Non-JWT tokens are hashed into a stable subject.
func identityClaims(idToken string) (subject, email, name string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
		subject, _ = claims["sub"].(string)
		email, _ = claims["email"].(string)
		name, _ = claims["name"].(string)
	}
	if subject == "" {
		sum := sha256.Sum256([]byte(idToken))
		subject = hex.EncodeToString(sum[:8])
	}
	return subject, email, name
}

func (s *Server) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
		return
	}
	delete(s.refreshTokens, req.RefreshToken)

	resp, err := s.issueSessionLocked(s.users[userID])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "failed to issue session")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if !strings.HasPrefix(req.Phone, "+") || len(req.Phone) < 8 {
		writeError(w, http.StatusBadRequest, "validation_failed", "Invalid phone number format (E.164 required)")
		return
	}

	code, err := generateOTP()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sms_send_failed", "Error sending sms OTP")
		return
	}

	s.mu.Lock()
	s.codes[codeKey("sms", req.Phone)] = pendingCode{code: code, expiresAt: s.now().Add(otpTTL)}
	s.mu.Unlock()

	// Development server: the code goes to the log instead of an SMS gateway
	s.logger.Info("sms code issued", "phone", req.Phone, "code", code)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req struct {
		Type  string `json:"type"`
		Phone string `json:"phone"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if req.Type != "sms" && req.Type != "phone_change" {
		writeError(w, http.StatusBadRequest, "validation_failed", "Verify requires a verification type")
		return
	}

	var bearerUser *User
	if req.Type == "phone_change" {
		u, ok := s.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
			return
		}
		bearerUser = u
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey(req.Type, req.Phone)
	pending, ok := s.codes[key]
	if !ok || pending.code != req.Token || !s.now().Before(pending.expiresAt) {
		writeError(w, http.StatusForbidden, "otp_expired", "Token has expired or is invalid")
		return
	}
	if bearerUser != nil && pending.userID != bearerUser.ID {
		writeError(w, http.StatusForbidden, "otp_expired", "Token has expired or is invalid")
		return
	}
	delete(s.codes, key)

	now := s.now()
	var user *User
	if req.Type == "sms" {
		user = s.findPhoneLocked(req.Phone)
		if user == nil {
			user = s.createUserLocked("phone")
			user.Phone = req.Phone
		}
	} else {
		user = s.users[bearerUser.ID]
		user.Phone = req.Phone
		user.NewPhone = ""
		if !contains(user.AppMetadata.Providers, "phone") {
			user.AppMetadata.Providers = append(user.AppMetadata.Providers, "phone")
		}
	}
	user.PhoneConfirmedAt = &now

	resp, err := s.issueSessionLocked(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "failed to issue session")
		return
	}
	s.logger.Info("otp verified", "type", req.Type, "user_id", user.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		u := *s.users[user.ID]
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, &u)

	case http.MethodPut:
		var req struct {
			Phone string         `json:"phone"`
			Email string         `json:"email"`
			Data  map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}

		var code string
		if req.Phone != "" {
			if !strings.HasPrefix(req.Phone, "+") {
				writeError(w, http.StatusBadRequest, "validation_failed", "Invalid phone number format (E.164 required)")
				return
			}
			var err error
			code, err = generateOTP()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "sms_send_failed", "Error sending sms OTP")
				return
			}
		}

		s.mu.Lock()
		u := s.users[user.ID]
		if req.Phone != "" {
			u.NewPhone = req.Phone
			s.codes[codeKey("phone_change", req.Phone)] = pendingCode{code: code, userID: u.ID, expiresAt: s.now().Add(otpTTL)}
		}
		if req.Email != "" {
			u.Email = req.Email
		}
		for k, v := range req.Data {
			u.UserMetadata[k] = v
		}
		snapshot := *u
		s.mu.Unlock()

		if code != "" {
			s.logger.Info("phone change code issued", "phone", req.Phone, "code", code)
		}
		writeJSON(w, http.StatusOK, &snapshot)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	user, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return
	}

	s.mu.Lock()
	for token, userID := range s.refreshTokens {
		if userID == user.ID {
			delete(s.refreshTokens, token)
		}
	}
	s.mu.Unlock()

	s.logger.Info("signed out", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// authenticate validates the bearer access token and returns its user.
func (s *Server) authenticate(r *http.Request) (*User, bool) {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return nil, false
	}

	sub, err := s.tokens.Verify(tokenString)
	if err != nil {
		s.logger.Debug("rejected bearer token", "error", err)
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[sub]
	return user, ok
}

func (s *Server) createUserLocked(provider string) *User {
	user := &User{
		ID:   uuid.New().String(),
		Aud:  audience,
		Role: audience,
		AppMetadata: appMetadata{
			Provider:  provider,
			Providers: []string{provider},
		},
		UserMetadata: map[string]any{},
		CreatedAt:    s.now().UTC(),
		identities:   map[string]string{},
	}
	s.users[user.ID] = user
	return user
}

func (s *Server) findIdentityLocked(provider, subject string) *User {
	for _, u := range s.users {
		if u.identities[provider] == subject {
			return u
		}
	}
	return nil
}

func (s *Server) findPhoneLocked(phone string) *User {
	for _, u := range s.users {
		if u.Phone == phone {
			return u
		}
	}
	return nil
}

func (s *Server) issueSessionLocked(user *User) (*sessionResponse, error) {
	access, exp, err := s.tokens.AccessToken(user, s.sessionTTL)
	if err != nil {
		return nil, err
	}

	refresh := uuid.New().String()
	s.refreshTokens[refresh] = user.ID

	snapshot := *user
	return &sessionResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int(s.sessionTTL.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         &snapshot,
	}, nil
}

// generateOTP returns a 6-digit numeric code from crypto/rand.
func generateOTP() (string, error) {
	b := make([]byte, otpDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, otpDigits)
	for i := range b {
		out[i] = '0' + (b[i] % 10)
	}
	return string(out), nil
}

func codeKey(verifyType, phone string) string {
	return verifyType + ":" + phone
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"code":       status,
		"error_code": code,
		"msg":        msg,
	})
}
