// ABOUTME: Durable mobile-verification flag bound to the user it was set for
// ABOUTME: Ordered fire-and-forget writer so callers never wait on secure storage

package authstate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/vent-auth/internal/securestore"
)

// FlagKey is the secure storage key of the mobile-verification flag.
const FlagKey = "vent.auth.needs_mobile_verification"

// flagWriteTimeout bounds a single background storage write.
const flagWriteTimeout = 5 * time.Second

// flagRecord is the persisted form of the flag. UserID scopes it so a flag
// left behind by one user never gates another.
type flagRecord struct {
	UserID string `json:"user_id"`
	Needs  bool   `json:"needs"`
}

// readFlag returns the persisted flag for userID. A missing, unreadable or
// foreign record reads as false; foreign and unreadable records are removed.
// Queued writes are flushed first so the read never sees a record the
// writer is about to replace.
func (s *Store) readFlag(ctx context.Context, userID string) bool {
	if err := s.flags.flush(ctx); err != nil {
		s.logger.Warn("verification flag writes still pending before read", "error", err)
	}

	raw, err := s.storage.Get(ctx, FlagKey)
	if errors.Is(err, securestore.ErrNotFound) {
		return false
	}
	if err != nil {
		s.logger.Warn("failed to read verification flag", "error", err)
		return false
	}

	var rec flagRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.Warn("discarding unreadable verification flag", "error", err)
		s.flags.remove()
		return false
	}
	if rec.UserID != userID {
		s.logger.Info("discarding verification flag of another user")
		s.flags.remove()
		return false
	}
	return rec.Needs
}

// flagOp is one queued storage operation. A non-nil flushed marks a flush
// barrier and carries no write.
type flagOp struct {
	remove  bool
	record  flagRecord
	flushed chan struct{}
}

// flagWriter applies flag writes in submission order on its own goroutine.
// Enqueueing never blocks.
type flagWriter struct {
	storage securestore.Store
	logger  *slog.Logger

	mu     sync.Mutex
	queue  []flagOp
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newFlagWriter(storage securestore.Store, logger *slog.Logger) *flagWriter {
	w := &flagWriter{
		storage: storage,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *flagWriter) set(userID string, needs bool) {
	w.enqueue(flagOp{record: flagRecord{UserID: userID, Needs: needs}})
}

func (w *flagWriter) remove() {
	w.enqueue(flagOp{remove: true})
}

// flush waits until every operation enqueued before it has been applied.
func (w *flagWriter) flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !w.enqueue(flagOp{flushed: barrier}) {
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *flagWriter) enqueue(op flagOp) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Debug("flag writer closed, dropping write")
		return false
	}
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

func (w *flagWriter) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		op := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.apply(op)
	}
}

func (w *flagWriter) apply(op flagOp) {
	if op.flushed != nil {
		close(op.flushed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flagWriteTimeout)
	defer cancel()

	if op.remove {
		if err := w.storage.Remove(ctx, FlagKey); err != nil {
			w.logger.Error("failed to remove verification flag", "error", err)
		}
		return
	}

	raw, err := json.Marshal(op.record)
	if err != nil {
		w.logger.Error("failed to encode verification flag", "error", err)
		return
	}
	if err := w.storage.Set(ctx, FlagKey, string(raw)); err != nil {
		w.logger.Error("failed to persist verification flag", "error", err)
	}
}

// close drains pending writes and stops the goroutine.
func (w *flagWriter) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.done
}
