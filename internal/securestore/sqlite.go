// ABOUTME: SQLite implementation of the secure store using modernc.org/sqlite
// ABOUTME: Encrypts every value with XChaCha20-Poly1305 under a per-device key file

package securestore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an encrypted SQLite table
type SQLiteStore struct {
	db     *sql.DB
	aead   cipherAEAD
	logger *slog.Logger
}

// cipherAEAD is the subset of cipher.AEAD the store needs.
type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewSQLiteStore opens (or creates) the store at path, encrypting values with
// the key at keyPath. A missing key file is generated. Parent directories are
// created if needed.
func NewSQLiteStore(path, keyPath string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "securestore")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		aead:   aead,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("secure store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS secure_items (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// loadOrCreateKey reads a 32-byte device key, generating it with 0600
// permissions when the file does not exist.
func loadOrCreateKey(keyPath string) ([]byte, error) {
	key, err := os.ReadFile(keyPath)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("device key %s has %d bytes, want %d", keyPath, len(key), chacha20poly1305.KeySize)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading device key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("writing device key: %w", err)
	}
	return key, nil
}

// Get returns the decrypted value for key.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secure_items WHERE key = ?`, key).Scan(&sealed)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying secure item: %w", err)
	}

	plain, err := s.open(key, sealed)
	if err != nil {
		return "", fmt.Errorf("decrypting %q: %w", key, err)
	}
	return string(plain), nil
}

// Set encrypts and stores value under key.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal(key, []byte(value))
	if err != nil {
		return fmt.Errorf("encrypting %q: %w", key, err)
	}

	query := `
		INSERT INTO secure_items (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, sealed, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("upserting secure item: %w", err)
	}

	s.logger.Debug("stored secure item", "key", key)
	return nil
}

// Remove deletes key.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM secure_items WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting secure item: %w", err)
	}
	s.logger.Debug("removed secure item", "key", key)
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// seal returns nonce||ciphertext. The key name is authenticated so a value
// cannot be swapped between keys.
func (s *SQLiteStore) seal(key string, plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plain, []byte(key)), nil
}

func (s *SQLiteStore) open(key string, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	return s.aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
}
