package infra

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, dataDir string)
		testFn func(t *testing.T, provider *FileKeyProvider)
	}{
		{
			name: "KeyExists returns false when no key file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				assert.False(t, provider.KeyExists())
			},
		},
		{
			name: "StoreKey creates key file with correct permissions",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key, err := GenerateKey()
				require.NoError(t, err)

				err = provider.StoreKey(key)
				require.NoError(t, err)

				assert.True(t, provider.KeyExists())

				// Check file permissions (0600)
				info, err := os.Stat(provider.keyPath)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			},
		},
		{
			name: "GetKey returns stored key",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key, err := GenerateKey()
				require.NoError(t, err)

				err = provider.StoreKey(key)
				require.NoError(t, err)

				retrieved, err := provider.GetKey()
				require.NoError(t, err)
				assert.Equal(t, key, retrieved)
			},
		},
		{
			name: "GetKey returns error when no key file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				_, err := provider.GetKey()
				assert.Error(t, err)
			},
		},
		{
			name: "StoreKey rejects wrong key size",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				shortKey := []byte("tooshort")
				err := provider.StoreKey(shortKey)
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "invalid key size")
			},
		},
		{
			name: "StoreKey creates directory if missing",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				// Override keyPath to nested directory
				nestedDir := filepath.Join(provider.keyPath+"_nested", "sub", "dir")
				provider.keyPath = filepath.Join(nestedDir, keyFileName)

				key, err := GenerateKey()
				require.NoError(t, err)

				err = provider.StoreKey(key)
				require.NoError(t, err)
				assert.True(t, provider.KeyExists())
			},
		},
		{
			name: "key file holds the same hex form as the env override",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))

				raw, err := os.ReadFile(provider.keyPath)
				require.NoError(t, err)
				t.Setenv(KeyEnvVar, string(raw))

				fromEnv, err := NewEnvKeyProvider(KeyEnvVar).GetKey()
				require.NoError(t, err)
				assert.Equal(t, key, fromEnv)
			},
		},
		{
			name: "StoreKey leaves no temp files behind",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))
				require.NoError(t, provider.StoreKey(key))

				entries, err := os.ReadDir(filepath.Dir(provider.keyPath))
				require.NoError(t, err)
				require.Len(t, entries, 1)
				assert.Equal(t, keyFileName, entries[0].Name())
			},
		},
		{
			name: "GetKey rejects a truncated key file",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				require.NoError(t, os.WriteFile(provider.keyPath, []byte("abcd\n"), 0600))

				_, err := provider.GetKey()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid key size")
			},
		},
		{
			name: "KeyExists returns true after StoreKey",
			testFn: func(t *testing.T, provider *FileKeyProvider) {
				assert.False(t, provider.KeyExists())

				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(key))

				assert.True(t, provider.KeyExists())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			provider := NewFileKeyProvider(dataDir)

			if tt.setup != nil {
				tt.setup(t, dataDir)
			}
			tt.testFn(t, provider)
		})
	}
}

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "returns 32-byte key",
			test: func(t *testing.T) {
				key, err := GenerateKey()
				require.NoError(t, err)
				assert.Len(t, key, keySize)
			},
		},
		{
			name: "generates unique keys",
			test: func(t *testing.T) {
				keys := make(map[string]bool)
				for i := 0; i < 100; i++ {
					key, err := GenerateKey()
					require.NoError(t, err)
					keyStr := string(key)
					assert.False(t, keys[keyStr], "duplicate key generated")
					keys[keyStr] = true
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestEnsureKey(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "generates new key when none exists",
			test: func(t *testing.T) {
				dataDir := t.TempDir()
				provider := NewFileKeyProvider(dataDir)

				key, err := EnsureKey(provider)
				require.NoError(t, err)
				assert.Len(t, key, keySize)
				assert.True(t, provider.KeyExists())
			},
		},
		{
			name: "returns existing key when already present",
			test: func(t *testing.T) {
				dataDir := t.TempDir()
				provider := NewFileKeyProvider(dataDir)

				// Store a key first
				originalKey, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, provider.StoreKey(originalKey))

				// EnsureKey should return the same key
				key, err := EnsureKey(provider)
				require.NoError(t, err)
				assert.Equal(t, originalKey, key)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestEnvKeyProvider(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   string
		exists  bool
		wantKey []byte
		wantErr string
	}{
		{name: "unset", value: "", exists: false, wantErr: "is not set"},
		{name: "valid hex key", value: hex.EncodeToString(key), exists: true, wantKey: key},
		{name: "surrounding whitespace", value: "  " + hex.EncodeToString(key) + "\n", exists: true, wantKey: key},
		{name: "not hex", value: "zz-not-hex", exists: true, wantErr: "failed to decode"},
		{name: "wrong size", value: "abcd", exists: true, wantErr: "invalid key size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(KeyEnvVar, tt.value)
			provider := NewEnvKeyProvider(KeyEnvVar)

			assert.Equal(t, tt.exists, provider.KeyExists())

			got, err := provider.GetKey()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, got)
		})
	}
}

func TestEnvKeyProvider_StoreKeyFails(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Error(t, NewEnvKeyProvider(KeyEnvVar).StoreKey(key))
}

func TestResolveKeyProvider(t *testing.T) {
	dataDir := t.TempDir()

	t.Setenv(KeyEnvVar, "")
	_, isFile := ResolveKeyProvider(dataDir).(*FileKeyProvider)
	assert.True(t, isFile)

	key, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv(KeyEnvVar, hex.EncodeToString(key))
	provider := ResolveKeyProvider(dataDir)
	_, isEnv := provider.(*EnvKeyProvider)
	assert.True(t, isEnv)

	got, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.Equal(t, key, got)
	_, statErr := os.Stat(filepath.Join(dataDir, keyFileName))
	assert.True(t, os.IsNotExist(statErr), "env key must not be written to disk")
}
