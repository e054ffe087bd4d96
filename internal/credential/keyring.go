package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"

	"inboxd/internal/structures"
)

// TokenKey is the keyring item holding the realtime store bearer token.
const TokenKey = "remote-token"

// Open returns the keyring for service, falling back to an encrypted file
// under the user config dir when no system backend is available.
func Open(service string) (keyring.Keyring, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, service, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// BearerToken is the credential sent to the realtime store.
type BearerToken string

// NewBearerToken resolves the token once at startup.
func NewBearerToken(conf *structures.Config) (BearerToken, error) {
	token, err := Token(conf)
	return BearerToken(token), err
}

// Token resolves the bearer token: an explicit remote.token wins, otherwise
// the keyring named by remote.keyringService is consulted. No configured
// source yields an empty token.
func Token(conf *structures.Config) (string, error) {
	if conf.Remote.Token != "" || conf.Remote.KeyringService == "" {
		return conf.Remote.Token, nil
	}
	ring, err := Open(conf.Remote.KeyringService)
	if err != nil {
		return "", err
	}
	return Lookup(ring)
}

// Lookup reads the token item from ring. A missing item is not an error.
func Lookup(ring keyring.Keyring) (string, error) {
	item, err := ring.Get(TokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", TokenKey, err)
	}
	return string(item.Data), nil
}

// Store saves token in ring.
func Store(ring keyring.Keyring, token string) error {
	err := ring.Set(keyring.Item{
		Key:   TokenKey,
		Data:  []byte(token),
		Label: "guardian inbox realtime token",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", TokenKey, err)
	}
	return nil
}
