package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "tempmail"

// ErrNotFound is returned when no secret is stored under a key.
var ErrNotFound = errors.New("credential not found")

// TokenKey is the keyring key of an account's bearer token.
func TokenKey(accountID string) string {
	return "token:" + accountID
}

// PasswordKey is the keyring key of an account's password.
func PasswordKey(accountID string) string {
	return "password:" + accountID
}

// Store reads and writes secrets. Keyring implements it on the system
// keyring; tests use an in-memory keyring.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring is a Store on top of a keyring.Keyring.
type Keyring struct {
	ring keyring.Keyring
}

// Open returns a Keyring on the best available system backend.
func Open() (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/tempmail/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("tempmail-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// NewMemory returns a Keyring held in memory.
func NewMemory() *Keyring {
	return &Keyring{ring: keyring.NewArrayKeyring(nil)}
}

// Get retrieves a credential value by key.
func (k *Keyring) Get(key string) (string, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func (k *Keyring) Set(key string, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "tempmail " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key. Deleting a missing key is not an
// error.
func (k *Keyring) Delete(key string) error {
	err := k.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
