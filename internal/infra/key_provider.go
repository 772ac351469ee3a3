package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

const (
	keyFileName = "sessions.key"
	keySize     = 32 // SQLCipher raw key, 256 bits

	// KeyEnvVar overrides the key file with a hex-encoded key.
	KeyEnvVar = "TABMON_DB_KEY"
)

// decodeKey parses a hex-encoded database key. The key file and KeyEnvVar
// share this format, so a key file's contents can be exported as-is.
func decodeKey(source, raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s is empty", source)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", source, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size in %s: got %d, want %d", source, len(key), keySize)
	}
	return key, nil
}

// FileKeyProvider keeps the session database key in a 0600 file inside the
// data directory.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, keyFileName),
	}
}

// GetKey reads the database key.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	raw, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(p.keyPath, string(raw))
}

// StoreKey writes the key through a temp file and rename. A torn write would
// leave the encrypted database unreadable.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	dir := filepath.Dir(p.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, keyFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.keyPath); err != nil {
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// GenerateKey creates a new random database key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the provider's key, generating and storing one on first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// EnvKeyProvider reads a hex-encoded key from an environment variable. It is
// read-only: StoreKey always fails.
type EnvKeyProvider struct {
	name string
}

// NewEnvKeyProvider creates a provider for the given variable name.
func NewEnvKeyProvider(name string) *EnvKeyProvider {
	return &EnvKeyProvider{name: name}
}

// GetKey decodes the variable's value.
func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	raw, ok := os.LookupEnv(p.name)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s is not set", p.name)
	}
	return decodeKey(p.name, raw)
}

// StoreKey is not supported for environment keys.
func (p *EnvKeyProvider) StoreKey(key []byte) error {
	return errors.New("environment key provider is read-only")
}

// KeyExists reports whether the variable is set.
func (p *EnvKeyProvider) KeyExists() bool {
	return strings.TrimSpace(os.Getenv(p.name)) != ""
}

// ResolveKeyProvider prefers the environment override when it is set.
func ResolveKeyProvider(dataDir string) domain.KeyProvider {
	env := NewEnvKeyProvider(KeyEnvVar)
	if env.KeyExists() {
		return env
	}
	return NewFileKeyProvider(dataDir)
}

// Ensure providers implement domain.KeyProvider.
var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
