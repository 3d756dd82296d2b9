// ABOUTME: Screen groups, route paths and an in-memory stack router
// ABOUTME: Replace swaps the top route without growing history; changes are broadcast

package navigation

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/vent-auth/internal/broadcast"
)

// Group is a named partition of the navigation tree.
type Group string

const (
	GroupNone   Group = ""
	GroupPublic Group = "(public)"
	GroupAuth   Group = "(auth)"
	GroupApp    Group = "(app)"
)

// Routes the auth flow navigates between.
const (
	PathPublicEntry  = "/(public)/auth"
	PathVerifyMobile = "/(auth)/verify-mobile"
	PathHome         = "/(app)/home"
)

// GroupOf returns the group of path: its first segment when that segment is
// a parenthesised group name.
func GroupOf(path string) Group {
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if len(first) > 2 && strings.HasPrefix(first, "(") && strings.HasSuffix(first, ")") {
		return Group(first)
	}
	return GroupNone
}

// Navigator is the navigation surface the auth layer drives.
type Navigator interface {
	// Replace swaps the current route for path without adding a back-stack
	// entry.
	Replace(path string)
}

// Route is a router change notification.
type Route struct {
	Path  string
	Group Group
}

// Router is a minimal stack router. It starts on an empty root route
// outside every group.
type Router struct {
	mu      sync.Mutex
	stack   []string
	changes *broadcast.Broadcaster[Route]
	logger  *slog.Logger
}

var _ Navigator = (*Router)(nil)

// NewRouter creates a router at the root.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		stack:   []string{"/"},
		changes: broadcast.New[Route]("routes", logger),
		logger:  logger.With("component", "router"),
	}
}

// Current returns the route on top of the stack.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stack[len(r.stack)-1]
}

// CurrentGroup returns the group of the current route.
func (r *Router) CurrentGroup() Group {
	return GroupOf(r.Current())
}

// Depth returns the number of routes on the stack.
func (r *Router) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stack)
}

// Replace swaps the top route. Replacing with the current route is a no-op
// and notifies nobody.
func (r *Router) Replace(path string) {
	r.mu.Lock()
	top := len(r.stack) - 1
	if r.stack[top] == path {
		r.mu.Unlock()
		return
	}
	r.stack[top] = path
	r.mu.Unlock()

	r.logger.Debug("replace", "path", path)
	r.changes.Publish(Route{Path: path, Group: GroupOf(path)})
}

// Push adds path on top of the stack, as a user following a link would.
func (r *Router) Push(path string) {
	r.mu.Lock()
	r.stack = append(r.stack, path)
	r.mu.Unlock()

	r.logger.Debug("push", "path", path)
	r.changes.Publish(Route{Path: path, Group: GroupOf(path)})
}

// Back pops the top route. It reports false at the root.
func (r *Router) Back() bool {
	r.mu.Lock()
	if len(r.stack) == 1 {
		r.mu.Unlock()
		return false
	}
	r.stack = r.stack[:len(r.stack)-1]
	path := r.stack[len(r.stack)-1]
	r.mu.Unlock()

	r.logger.Debug("back", "path", path)
	r.changes.Publish(Route{Path: path, Group: GroupOf(path)})
	return true
}

// Subscribe delivers route changes until ctx is done.
func (r *Router) Subscribe(ctx context.Context) <-chan Route {
	ch, _ := r.changes.Subscribe(ctx)
	return ch
}

// Close ends all subscriptions.
func (r *Router) Close() {
	r.changes.Close()
}
