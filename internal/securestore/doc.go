// Package securestore provides durable, device-local key-value storage for
// small authentication secrets: the persisted backend session and the
// needs-mobile-verification flag.
//
// SQLiteStore keeps values in a SQLite database (modernc.org/sqlite, no cgo)
// encrypted with XChaCha20-Poly1305 under a device key file. Deleting the
// data directory (the equivalent of uninstalling) destroys both, so nothing
// survives reinstall. MemoryStore is the in-process implementation used by
// tests.
package securestore
