package infra

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	credentialKeyName = "credentials.key"
	credentialKeySize = 32 // 256-bit SQLCipher key
)

// CredentialKeyring owns the SQLCipher key of the credential store in a data
// directory. The key is a base64 file next to credentials.db, readable only
// by its owner. While a rotation is in flight the replacement key is staged
// in credentials.key.next until the database has been re-encrypted.
type CredentialKeyring struct {
	path string
}

// NewCredentialKeyring returns the keyring for dataDir.
func NewCredentialKeyring(dataDir string) *CredentialKeyring {
	return &CredentialKeyring{path: filepath.Join(dataDir, credentialKeyName)}
}

// Path returns the key file path.
func (k *CredentialKeyring) Path() string {
	return k.path
}

func (k *CredentialKeyring) stagedPath() string {
	return k.path + ".next"
}

// Key returns the current key. The first call in a fresh data directory
// creates one. An existing file that cannot be decoded is an error and is
// never replaced, because that would orphan the secrets encrypted with it.
func (k *CredentialKeyring) Key() ([]byte, error) {
	key, err := readKeyFile(k.path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key, err = newCredentialKey()
	if err != nil {
		return nil, err
	}
	if err := writeKeyFile(k.path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// staged returns the key of an unfinished rotation.
func (k *CredentialKeyring) staged() ([]byte, bool) {
	key, err := readKeyFile(k.stagedPath())
	if err != nil {
		return nil, false
	}
	return key, true
}

func (k *CredentialKeyring) stage(key []byte) error {
	return writeKeyFile(k.stagedPath(), key)
}

// commit promotes the staged key to the current key.
func (k *CredentialKeyring) commit() error {
	if err := os.Rename(k.stagedPath(), k.path); err != nil {
		return fmt.Errorf("failed to promote rotated key: %w", err)
	}
	return nil
}

func (k *CredentialKeyring) discard() {
	_ = os.Remove(k.stagedPath())
}

func readKeyFile(path string) ([]byte, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	// hand-provisioned key files usually end in a newline
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key file %s: %w", path, err)
	}
	if len(key) != credentialKeySize {
		return nil, fmt.Errorf("invalid key size in %s: got %d, want %d", path, len(key), credentialKeySize)
	}
	return key, nil
}

// writeKeyFile replaces path with key (write temp + fsync + rename, 0600).
func writeKeyFile(path string, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(base64.StdEncoding.EncodeToString(key)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync key file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace key file: %w", err)
	}
	return nil
}

func newCredentialKey() ([]byte, error) {
	key := make([]byte, credentialKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}
