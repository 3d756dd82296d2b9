// ABOUTME: Immutable auth state snapshot and its derived phase
// ABOUTME: Snapshots are built whole and never mutated after publication

package authstate

import "github.com/2389/vent-auth/internal/backend"

// Phase is the state machine position derived from a snapshot.
type Phase string

const (
	PhaseInit            Phase = "INIT"
	PhaseUnauthenticated Phase = "UNAUTHENTICATED"
	PhaseNeeds2FA        Phase = "NEEDS_2FA"
	PhaseAuthenticated   Phase = "AUTHENTICATED"
)

// State is a snapshot of authentication status. Session and User are
// either both set or both nil.
type State struct {
	User                    *backend.User
	Session                 *backend.Session
	Loading                 bool
	IsAuthenticated         bool
	NeedsMobileVerification bool
}

// Initial is the state before bootstrap completes.
func Initial() State {
	return State{Loading: true}
}

// SignedOut is the settled unauthenticated state.
func SignedOut() State {
	return State{}
}

// authenticated builds the state for sess. The session and user are copied
// so the snapshot does not alias caller memory.
func authenticated(sess *backend.Session, needsMobileVerification bool) State {
	s := *sess
	u := s.User
	return State{
		User:                    &u,
		Session:                 &s,
		IsAuthenticated:         true,
		NeedsMobileVerification: needsMobileVerification,
	}
}

// Phase returns the state machine position. A loading state that already
// holds a session reports its settled phase.
func (s State) Phase() Phase {
	switch {
	case s.IsAuthenticated && s.NeedsMobileVerification:
		return PhaseNeeds2FA
	case s.IsAuthenticated:
		return PhaseAuthenticated
	case s.Loading:
		return PhaseInit
	default:
		return PhaseUnauthenticated
	}
}

// UserID returns the signed-in user's ID or "".
func (s State) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}
