// Package keychain stores registry credentials in the operating system keyring.
package keychain

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"
)

// serviceName is the service identifier used for all digestpin credentials.
const serviceName = "digestpin"

// ErrNotFound is returned when a credential is not found in the keychain.
var ErrNotFound = errors.New("credential not found in keychain")

// Keychain provides secure credential storage.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/keychain.go . Keychain
type Keychain interface {
	// Set stores a credential in the keychain, replacing any existing value.
	Set(account, secret string) error

	// Get retrieves a credential from the keychain.
	// Returns ErrNotFound if the credential does not exist.
	Get(account string) (string, error)

	// Delete removes a credential from the keychain.
	// Returns nil if the credential does not exist.
	Delete(account string) error
}

type keychain struct {
	ring keyring.Keyring
}

// Open opens the platform keyring. dataDir holds the encrypted file backend
// used when no native keyring (macOS Keychain, Secret Service, KWallet,
// Windows Credential Manager) is available.
func Open(dataDir string) (Keychain, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		KeychainName:             serviceName,
		KeychainTrustApplication: true,
		FileDir:                  filepath.Join(dataDir, "keyring"),
		FilePasswordFunc:         keyring.TerminalPrompt,
		LibSecretCollectionName:  serviceName,
		KWalletAppID:             serviceName,
		KWalletFolder:            serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) Keychain {
	return &keychain{ring: ring}
}

func (k *keychain) Set(account, secret string) error {
	err := k.ring.Set(keyring.Item{
		Key:   account,
		Data:  []byte(secret),
		Label: "digestpin - " + account,
	})
	if err != nil {
		return fmt.Errorf("store credential for %s: %w", account, err)
	}
	return nil
}

func (k *keychain) Get(account string) (string, error) {
	item, err := k.ring.Get(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read credential for %s: %w", account, err)
	}
	return string(item.Data), nil
}

func (k *keychain) Delete(account string) error {
	err := k.ring.Remove(account)
	if err == nil || errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return fmt.Errorf("delete credential for %s: %w", account, err)
}
