// ABOUTME: Tests for the route guard policy and per-screen requirements
// ABOUTME: Verifies the rule table, loading inaction and redirect idempotency

package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/vent-auth/internal/authstate"
	"github.com/2389/vent-auth/internal/backend"
	"github.com/2389/vent-auth/internal/navigation"
)

var (
	loading     = authstate.Initial()
	signedOut   = authstate.SignedOut()
	needs2FA    = authed(true)
	fullyAuthed = authed(false)
)

func authed(needs bool) authstate.State {
	sess := &backend.Session{AccessToken: "a", User: backend.User{ID: "u1"}}
	return authstate.State{
		Session:                 sess,
		User:                    &sess.User,
		IsAuthenticated:         true,
		NeedsMobileVerification: needs,
	}
}

var groups = []navigation.Group{
	navigation.GroupNone, navigation.GroupPublic, navigation.GroupAuth, navigation.GroupApp,
}

func TestRedirect(t *testing.T) {
	tests := []struct {
		name   string
		state  authstate.State
		group  navigation.Group
		want   string
		wantOK bool
	}{
		{"loading at root", loading, navigation.GroupNone, "", false},
		{"loading in app", loading, navigation.GroupApp, "", false},
		{"signed out at root", signedOut, navigation.GroupNone, navigation.PathPublicEntry, true},
		{"signed out in app", signedOut, navigation.GroupApp, navigation.PathPublicEntry, true},
		{"signed out in auth", signedOut, navigation.GroupAuth, navigation.PathPublicEntry, true},
		{"signed out in public", signedOut, navigation.GroupPublic, "", false},
		{"needs 2fa in public", needs2FA, navigation.GroupPublic, navigation.PathVerifyMobile, true},
		{"needs 2fa in app", needs2FA, navigation.GroupApp, navigation.PathVerifyMobile, true},
		{"needs 2fa in auth", needs2FA, navigation.GroupAuth, "", false},
		{"authed in public", fullyAuthed, navigation.GroupPublic, navigation.PathHome, true},
		{"authed in auth", fullyAuthed, navigation.GroupAuth, navigation.PathHome, true},
		{"authed in app", fullyAuthed, navigation.GroupApp, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Redirect(tt.state, tt.group)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedirect_LoadingWithSessionDoesNothing(t *testing.T) {
	refreshing := fullyAuthed
	refreshing.Loading = true

	_, ok := Redirect(refreshing, navigation.GroupPublic)
	assert.False(t, ok)
}

func TestRedirect_SettlesAfterOneHop(t *testing.T) {
	for _, st := range []authstate.State{signedOut, needs2FA, fullyAuthed} {
		for _, g := range groups {
			target, ok := Redirect(st, g)
			if !ok {
				continue
			}
			_, again := Redirect(st, navigation.GroupOf(target))
			assert.False(t, again, "state %s from %q redirected to %s and then again", st.Phase(), g, target)
		}
	}
}

func TestRequirements(t *testing.T) {
	tests := []struct {
		name   string
		req    Requirements
		state  authstate.State
		want   string
		wantOK bool
	}{
		{"public: loading", PublicEntry, loading, "", false},
		{"public: signed out stays", PublicEntry, signedOut, "", false},
		{"public: needs 2fa", PublicEntry, needs2FA, navigation.PathVerifyMobile, true},
		{"public: authed", PublicEntry, fullyAuthed, navigation.PathHome, true},

		{"verify: signed out", VerifyMobile, signedOut, navigation.PathPublicEntry, true},
		{"verify: needs 2fa is exempt", VerifyMobile, needs2FA, "", false},
		{"verify: verified goes home", VerifyMobile, fullyAuthed, navigation.PathHome, true},

		{"home: signed out", Home, signedOut, navigation.PathPublicEntry, true},
		{"home: needs 2fa", Home, needs2FA, navigation.PathVerifyMobile, true},
		{"home: authed stays", Home, fullyAuthed, "", false},
		{"home: loading", Home, loading, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.req.Redirect(tt.state)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequirements_AgreeWithGlobalPolicy(t *testing.T) {
	screens := map[navigation.Group]Requirements{
		navigation.GroupPublic: PublicEntry,
		navigation.GroupAuth:   VerifyMobile,
		navigation.GroupApp:    Home,
	}

	for group, req := range screens {
		for _, st := range []authstate.State{loading, signedOut, needs2FA, fullyAuthed} {
			wantTarget, wantOK := Redirect(st, group)
			gotTarget, gotOK := req.Redirect(st)
			assert.Equal(t, wantOK, gotOK, "group %s phase %s", group, st.Phase())
			assert.Equal(t, wantTarget, gotTarget, "group %s phase %s", group, st.Phase())
		}
	}
}
