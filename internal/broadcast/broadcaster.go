// ABOUTME: In-memory fan-out broadcaster with per-subscriber buffered channels
// ABOUTME: Publishes session events and auth state snapshots without blocking publishers

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the channel buffer for each subscriber.
const DefaultBufferSize = 64

// Broadcaster provides in-memory pub/sub for values of type T.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New[T any](name string, logger *slog.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]chan T),
		bufferSize:  DefaultBufferSize,
		logger:      logger.With("component", "broadcaster", "stream", name),
	}
}

// Subscribe registers a subscriber. Returns a channel that receives values
// and a subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled. Subscribing to a closed
// broadcaster returns an already closed channel.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) (<-chan T, string) {
	subID := uuid.New().String()
	ch := make(chan T, b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends v to every subscriber. Non-blocking: when a subscriber's
// channel is full its oldest pending value is dropped to make room.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- v:
			continue
		default:
		}

		// Subscriber is behind: drop its oldest value, then deliver
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
		b.logger.Debug("dropped stale value for slow subscriber", "sub_id", id)
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
