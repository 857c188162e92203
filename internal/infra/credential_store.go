package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	credentialDBName = "credentials.db"

	// SecretAIKey is the store key holding the classification API key.
	SecretAIKey = "ai_api_key"
)

// ErrSecretNotFound is returned when a key has no stored value.
var ErrSecretNotFound = errors.New("secret not found")

// CredentialStore implements domain.SecretStore using a SQLCipher encrypted
// SQLite database under the data directory.
type CredentialStore struct {
	db     *sql.DB
	dbPath string
}

// OpenCredentialStore opens (or creates) the encrypted credential database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func OpenCredentialStore(dataDir string, key []byte) (*CredentialStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, credentialDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// a wrong key surfaces here, not at Open
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to unlock credential database: %w", err)
	}

	store := &CredentialStore{db: db, dbPath: dbPath}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// OpenDefaultCredentialStore opens the store in dataDir with its keyring key.
// A rotation that re-encrypted the database but did not promote its key is
// finished here; a staged key that was never applied is dropped.
func OpenDefaultCredentialStore(dataDir string) (*CredentialStore, error) {
	keyring := NewCredentialKeyring(dataDir)
	key, err := keyring.Key()
	if err != nil {
		return nil, err
	}

	store, err := OpenCredentialStore(dataDir, key)
	if err == nil {
		keyring.discard()
		return store, nil
	}

	staged, ok := keyring.staged()
	if !ok {
		return nil, err
	}
	store, stagedErr := OpenCredentialStore(dataDir, staged)
	if stagedErr != nil {
		return nil, err
	}
	if err := keyring.commit(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// RotateCredentialKey re-encrypts the store in dataDir under a fresh key and
// replaces the key file. Stored secrets are kept.
func RotateCredentialKey(dataDir string) error {
	store, err := OpenDefaultCredentialStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	next, err := newCredentialKey()
	if err != nil {
		return err
	}
	keyring := NewCredentialKeyring(dataDir)
	if err := keyring.stage(next); err != nil {
		return err
	}
	if err := store.rekey(next); err != nil {
		keyring.discard()
		return fmt.Errorf("failed to re-encrypt credential database: %w", err)
	}
	return keyring.commit()
}

// rekey re-encrypts the database in place. The pool holds a single
// connection, so no connection is left open under the old key.
func (s *CredentialStore) rekey(key []byte) error {
	_, err := s.db.Exec(fmt.Sprintf(`PRAGMA rekey = "x'%s'"`, hex.EncodeToString(key)))
	return err
}

func (s *CredentialStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	return err
}

// GetSecret retrieves a secret by key.
func (s *CredentialStore) GetSecret(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%q: %w", key, ErrSecretNotFound)
	}
	return value, err
}

// SetSecret stores or replaces a secret.
func (s *CredentialStore) SetSecret(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO secrets (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	return err
}

// ListSecrets returns stored keys in lexical order. Values are never listed.
func (s *CredentialStore) ListSecrets() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Path returns the database file path.
func (s *CredentialStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *CredentialStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure CredentialStore implements domain.SecretStore.
var _ domain.SecretStore = (*CredentialStore)(nil)
