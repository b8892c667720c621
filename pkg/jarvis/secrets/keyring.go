// Package secrets – keyring.go stores credentials in the operating system's
// native keyring (Linux: Secret Service/GNOME Keyring, macOS: Keychain,
// Windows: Credential Manager), with a preference-table fallback for hosts
// without one.
//
// Priority for resolving the API key:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (JARVIS_API_KEY, OPENAI_API_KEY)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (plaintext on disk)
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
)

const (
	// Service is the service name used in the OS keyring.
	Service = "jarvis"

	// KeyAPIKey holds the LLM API key.
	KeyAPIKey = "api_key"

	// KeyPINHash holds the bcrypt hash of the security PIN.
	KeyPINHash = "security_pin_hash"
)

// ErrNotFound is returned when a secret is not set.
var ErrNotFound = errors.New("secret not found")

// Store reads and writes named secrets.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring is a Store backed by the OS keyring.
type Keyring struct {
	service string
}

// NewKeyring returns a keyring store for service (empty means Service).
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = Service
	}
	return &Keyring{service: service}
}

// Get implements Store.
func (k *Keyring) Get(key string) (string, error) {
	val, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return val, err
}

// Set implements Store.
func (k *Keyring) Set(key, value string) error {
	return keyring.Set(k.service, key, value)
}

// Delete implements Store. Deleting a missing key is not an error.
func (k *Keyring) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Available checks if the OS keyring is accessible with a write+delete
// cycle on a throwaway key.
func (k *Keyring) Available() bool {
	testKey := "__jarvis_test__"
	if err := keyring.Set(k.service, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(k.service, testKey)
	return true
}

// PrefStore keeps secrets in the memory store's preference table. It is
// the fallback when no keyring is reachable; values are only as safe as
// the database file.
type PrefStore struct {
	store memory.Store
}

// NewPrefStore wraps store.
func NewPrefStore(store memory.Store) *PrefStore {
	return &PrefStore{store: store}
}

// Get implements Store.
func (p *PrefStore) Get(key string) (string, error) {
	v, err := p.store.GetPreference(context.Background(), "secret:"+key)
	if errors.Is(err, memory.ErrNotFound) || (err == nil && v == "") {
		return "", ErrNotFound
	}
	return v, err
}

// Set implements Store.
func (p *PrefStore) Set(key, value string) error {
	return p.store.SetPreference(context.Background(), "secret:"+key, value)
}

// Delete implements Store.
func (p *PrefStore) Delete(key string) error {
	return p.store.SetPreference(context.Background(), "secret:"+key, "")
}

// Default returns the OS keyring when it works, otherwise a PrefStore over
// store. A nil store with no keyring yields nil.
func Default(store memory.Store) Store {
	if k := NewKeyring(Service); k.Available() {
		return k
	}
	if store == nil {
		return nil
	}
	return NewPrefStore(store)
}

// ReadPassword prompts on stdout and reads a line without echo. Non-TTY
// input is read as-is.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	password, err := term.ReadPassword(fd)
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", fmt.Errorf("reading password: %w", readErr)
		}
		password = buf[:n]
	}
	fmt.Println()

	return strings.TrimRight(string(password), "\r\n"), nil
}
