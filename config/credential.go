package config

import (
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

// KeyringPrefix marks a password value as a reference into the system keyring.
const KeyringPrefix = "keyring:"

const keyringService = "rimap"

// SecretLookup fetches a secret by key.
type SecretLookup func(key string) (string, error)

// KeyringLookup reads secrets from the system keyring under the "rimap"
// service.
func KeyringLookup(key string) (string, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return "", fmt.Errorf("opening keyring: %w", err)
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// ResolvePassword returns the account with a keyring: password replaced by
// the stored secret. Other passwords are returned unchanged.
func ResolvePassword(a Account, lookup SecretLookup) (Account, error) {
	key, ok := strings.CutPrefix(a.Password, KeyringPrefix)
	if !ok {
		return a, nil
	}
	if key == "" {
		return Account{}, &ConfigError{Msg: fmt.Sprintf("empty keyring reference for %s", a.Username)}
	}

	secret, err := lookup(key)
	if err != nil {
		return Account{}, &ConfigError{Msg: fmt.Sprintf("resolve password for %s", a.Username), Err: err}
	}
	if secret == "" {
		return Account{}, &ConfigError{Msg: fmt.Sprintf("keyring entry %q is empty", key)}
	}

	a.Password = secret
	return a, nil
}
