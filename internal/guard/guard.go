// ABOUTME: Route guard policy mapping auth state and screen group to a redirect
// ABOUTME: Global policy, per-screen requirements, and a watcher that applies redirects

package guard

import (
	"github.com/2389/vent-auth/internal/authstate"
	"github.com/2389/vent-auth/internal/navigation"
)

// Redirect returns where a user in group should be sent, if anywhere.
// Nothing happens while st is loading.
//
//  1. signed out outside (public) -> public entry
//  2. owes the second factor outside (auth) -> verify mobile
//  3. fully signed in outside (app) -> home
func Redirect(st authstate.State, group navigation.Group) (string, bool) {
	if st.Loading {
		return "", false
	}

	switch {
	case !st.IsAuthenticated:
		if group != navigation.GroupPublic {
			return navigation.PathPublicEntry, true
		}
	case st.NeedsMobileVerification:
		if group != navigation.GroupAuth {
			return navigation.PathVerifyMobile, true
		}
	default:
		if group != navigation.GroupApp {
			return navigation.PathHome, true
		}
	}
	return "", false
}

// Requirements is the guard a single screen declares.
type Requirements struct {
	// RequireAuth sends signed-out users to the public entry.
	RequireAuth bool
	// RequireMobileVerification marks the screen that captures the second
	// factor: it is exempt from the verify-mobile redirect and sends users who
	// no longer owe the factor home.
	RequireMobileVerification bool
}

// Per-screen requirements of the auth flow.
var (
	PublicEntry  = Requirements{}
	VerifyMobile = Requirements{RequireAuth: true, RequireMobileVerification: true}
	Home         = Requirements{RequireAuth: true}
)

// Redirect applies the requirements to st.
func (r Requirements) Redirect(st authstate.State) (string, bool) {
	if st.Loading {
		return "", false
	}

	if !st.IsAuthenticated {
		if r.RequireAuth {
			return navigation.PathPublicEntry, true
		}
		return "", false
	}

	if st.NeedsMobileVerification {
		if !r.RequireMobileVerification {
			return navigation.PathVerifyMobile, true
		}
		return "", false
	}

	if !r.RequireAuth || r.RequireMobileVerification {
		return navigation.PathHome, true
	}
	return "", false
}
