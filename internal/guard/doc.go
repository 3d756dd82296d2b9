// Package guard decides where the user belongs given the auth state and the
// screen group they are on.
//
// Redirect is a pure function, so it is safe to evaluate on every change. It
// returns nothing once the user is in the right group, which is what stops
// redirect loops. Watcher wires it to a state source and a router.
package guard
