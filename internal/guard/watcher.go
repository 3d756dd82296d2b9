// ABOUTME: Reactive watcher re-evaluating the route guard on state and route changes
// ABOUTME: Issues a navigation replace only when the policy asks for one

package guard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/vent-auth/internal/authstate"
	"github.com/2389/vent-auth/internal/navigation"
)

// StateSource supplies auth state snapshots.
type StateSource interface {
	State() authstate.State
	Subscribe(ctx context.Context) <-chan authstate.State
}

// RouteSource supplies the current screen group and its changes.
type RouteSource interface {
	CurrentGroup() navigation.Group
	Subscribe(ctx context.Context) <-chan navigation.Route
}

// Watcher applies Redirect whenever either input changes.
type Watcher struct {
	states    StateSource
	routes    RouteSource
	nav       navigation.Navigator
	logger    *slog.Logger
	evalMu    sync.Mutex
	redirects atomic.Int64
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher. nav is usually the same router as routes.
func NewWatcher(states StateSource, routes RouteSource, nav navigation.Navigator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		states: states,
		routes: routes,
		nav:    nav,
		logger: logger.With("component", "guard"),
	}
}

// Evaluate checks the latest state against the current group and redirects
// if needed. It reports the target.
func (w *Watcher) Evaluate() (string, bool) {
	w.evalMu.Lock()
	defer w.evalMu.Unlock()

	st := w.states.State()
	group := w.routes.CurrentGroup()
	target, ok := Redirect(st, group)
	if !ok {
		return "", false
	}

	w.redirects.Add(1)
	w.logger.Debug("redirect", "from_group", group, "to", target, "phase", st.Phase())
	w.nav.Replace(target)
	return target, true
}

// Redirects returns how many redirects have been issued.
func (w *Watcher) Redirects() int {
	return int(w.redirects.Load())
}

// Start subscribes to both inputs, evaluates once, and keeps evaluating on
// every change until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	states := w.states.Subscribe(ctx)
	routes := w.routes.Subscribe(ctx)
	w.Evaluate()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-states:
				if !ok {
					return
				}
			case _, ok := <-routes:
				if !ok {
					return
				}
			}
			w.Evaluate()
		}
	}()
}

// Wait blocks until the watch loop has stopped.
func (w *Watcher) Wait() {
	w.wg.Wait()
}
