// Package broadcast provides in-memory fan-out of values to subscribers.
//
// It carries backend session events from the auth client to the session
// store, and immutable auth state snapshots from the store to the route
// guard and screens. Subscribers never block publishers: when a
// subscriber's buffer is full the oldest pending value is discarded so the
// newest one is always delivered.
package broadcast
