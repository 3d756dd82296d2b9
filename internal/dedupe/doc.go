// Package dedupe tracks recently performed actions in a bounded TTL cache so
// callers can refuse repeats inside a cooldown window. The OTP gateway keys
// it by phone number and purpose to throttle code resends.
package dedupe
