package infra

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialKeyring_Key(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, keyPath string) []byte
		wantErr string
	}{
		{
			name: "first use creates a private key file",
		},
		{
			name: "existing key is reused",
			setup: func(t *testing.T, keyPath string) []byte {
				key, err := newCredentialKey()
				require.NoError(t, err)
				require.NoError(t, writeKeyFile(keyPath, key))
				return key
			},
		},
		{
			name: "hand-provisioned key with trailing newline",
			setup: func(t *testing.T, keyPath string) []byte {
				key, err := newCredentialKey()
				require.NoError(t, err)
				encoded := base64.StdEncoding.EncodeToString(key) + "\n"
				require.NoError(t, os.WriteFile(keyPath, []byte(encoded), 0600))
				return key
			},
		},
		{
			name: "undecodable key file is not replaced",
			setup: func(t *testing.T, keyPath string) []byte {
				require.NoError(t, os.WriteFile(keyPath, []byte("not base64!"), 0600))
				return nil
			},
			wantErr: "failed to decode key file",
		},
		{
			name: "short key file is rejected",
			setup: func(t *testing.T, keyPath string) []byte {
				encoded := base64.StdEncoding.EncodeToString([]byte("tooshort"))
				require.NoError(t, os.WriteFile(keyPath, []byte(encoded), 0600))
				return nil
			},
			wantErr: "invalid key size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			keyring := NewCredentialKeyring(dataDir)

			var want []byte
			if tt.setup != nil {
				want = tt.setup(t, keyring.Path())
			}
			before, _ := os.ReadFile(keyring.Path())

			key, err := keyring.Key()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				after, _ := os.ReadFile(keyring.Path())
				assert.Equal(t, before, after, "key file must be left alone")
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, credentialKeySize)
			if want != nil {
				assert.Equal(t, want, key)
			}

			info, err := os.Stat(keyring.Path())
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			again, err := keyring.Key()
			require.NoError(t, err)
			assert.Equal(t, key, again)
		})
	}
}

func TestNewCredentialKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := newCredentialKey()
		require.NoError(t, err)
		assert.False(t, seen[string(key)], "duplicate key generated")
		seen[string(key)] = true
	}
}

func TestRotateCredentialKey(t *testing.T) {
	dataDir := t.TempDir()
	keyring := NewCredentialKeyring(dataDir)

	store, err := OpenDefaultCredentialStore(dataDir)
	require.NoError(t, err)
	require.NoError(t, store.SetSecret(SecretAIKey, "sk-lab"))
	require.NoError(t, store.Close())

	oldKey, err := keyring.Key()
	require.NoError(t, err)

	require.NoError(t, RotateCredentialKey(dataDir))

	newKey, err := keyring.Key()
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, newKey)
	assert.NoFileExists(t, filepath.Join(dataDir, credentialKeyName+".next"))

	_, err = OpenCredentialStore(dataDir, oldKey)
	assert.Error(t, err, "old key must no longer unlock the store")

	reopened, err := OpenDefaultCredentialStore(dataDir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetSecret(SecretAIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-lab", got)
}

func TestOpenDefaultCredentialStore_InterruptedRotation(t *testing.T) {
	t.Run("database re-encrypted but key not promoted", func(t *testing.T) {
		dataDir := t.TempDir()
		keyring := NewCredentialKeyring(dataDir)

		store, err := OpenDefaultCredentialStore(dataDir)
		require.NoError(t, err)
		require.NoError(t, store.SetSecret(SecretAIKey, "sk-lab"))

		next, err := newCredentialKey()
		require.NoError(t, err)
		require.NoError(t, keyring.stage(next))
		require.NoError(t, store.rekey(next))
		require.NoError(t, store.Close())

		reopened, err := OpenDefaultCredentialStore(dataDir)
		require.NoError(t, err)
		defer reopened.Close()

		got, err := reopened.GetSecret(SecretAIKey)
		require.NoError(t, err)
		assert.Equal(t, "sk-lab", got)

		current, err := keyring.Key()
		require.NoError(t, err)
		assert.Equal(t, next, current, "staged key is promoted")
		_, staged := keyring.staged()
		assert.False(t, staged)
	})

	t.Run("key staged but database never re-encrypted", func(t *testing.T) {
		dataDir := t.TempDir()
		keyring := NewCredentialKeyring(dataDir)

		store, err := OpenDefaultCredentialStore(dataDir)
		require.NoError(t, err)
		require.NoError(t, store.SetSecret(SecretAIKey, "sk-lab"))
		require.NoError(t, store.Close())

		current, err := keyring.Key()
		require.NoError(t, err)
		next, err := newCredentialKey()
		require.NoError(t, err)
		require.NoError(t, keyring.stage(next))

		reopened, err := OpenDefaultCredentialStore(dataDir)
		require.NoError(t, err)
		defer reopened.Close()

		got, err := reopened.GetSecret(SecretAIKey)
		require.NoError(t, err)
		assert.Equal(t, "sk-lab", got)

		kept, err := keyring.Key()
		require.NoError(t, err)
		assert.Equal(t, current, kept)
		_, staged := keyring.staged()
		assert.False(t, staged, "unused staged key is dropped")
	})
}
