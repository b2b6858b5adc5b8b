package crypto

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
)

// SaltFile holds the key derivation salt in the data directory.
const SaltFile = "token.salt"

// TokenStore persists ciphertexts per account.
type TokenStore interface {
	SaveToken(ctx context.Context, account models.UUID, ciphertext []byte) error
	LoadToken(ctx context.Context, account models.UUID) ([]byte, error)
	DeleteToken(ctx context.Context, account models.UUID) error
}

// TokenVault encrypts refresh tokens before they reach the TokenStore.
// Each ciphertext is bound to its account.
type TokenVault struct {
	store TokenStore
	key   []byte
}

// NewTokenVault returns a vault encrypting with key.
func NewTokenVault(store TokenStore, key []byte) (*TokenVault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &TokenVault{store: store, key: append([]byte(nil), key...)}, nil
}

// OpenTokenVault derives the vault key from the machine identifier and an
// optional passphrase, using the salt kept in dataDir.
func OpenTokenVault(dataDir, passphrase string, store TokenStore, params KDFParams) (*TokenVault, error) {
	salt, err := LoadOrCreateSalt(dataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to load token salt", err)
	}
	secret := []byte(machineIdentifier() + "\x00" + passphrase)
	key, err := DeriveKey(secret, salt, "tokens", params)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to derive token key", err)
	}
	return NewTokenVault(store, key)
}

// SaveRefreshToken encrypts and stores the refresh token of account.
func (v *TokenVault) SaveRefreshToken(ctx context.Context, account models.UUID, token string) error {
	if token == "" {
		return apperrors.New(apperrors.ErrInvalid, "refresh token cannot be empty")
	}
	ct, err := Seal(v.key, []byte(token), []byte(account))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to encrypt token", err)
	}
	return v.store.SaveToken(ctx, account, ct)
}

// RefreshToken returns the decrypted refresh token of account. A missing
// or undecryptable token is an AUTH_FAILED error: the account has to be
// authorized again.
func (v *TokenVault) RefreshToken(ctx context.Context, account models.UUID) (string, error) {
	ct, err := v.store.LoadToken(ctx, account)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.Wrap(apperrors.ErrAuth, "account has no stored credentials", err)
		}
		return "", err
	}
	pt, err := Open(v.key, ct, []byte(account))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrAuth, "stored credentials cannot be decrypted", err)
	}
	return string(pt), nil
}

// DeleteRefreshToken removes the token of account.
func (v *TokenVault) DeleteRefreshToken(ctx context.Context, account models.UUID) error {
	return v.store.DeleteToken(ctx, account)
}

// LoadOrCreateSalt reads the salt file in dir, creating it on first use.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, SaltFile)
	if data, err := os.ReadFile(path); err == nil {
		if len(data) < 8 {
			return nil, fmt.Errorf("salt file %s is truncated", path)
		}
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			// Another process created it first.
			return LoadOrCreateSalt(dir)
		}
		return nil, err
	}
	if _, err := f.Write(salt); err != nil {
		f.Close()
		return nil, err
	}
	return salt, f.Close()
}

// machineIdentifier returns a platform-specific machine identifier.
func machineIdentifier() string {
	if runtime.GOOS == "linux" {
		for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if data, err := os.ReadFile(p); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return "linux:" + id
				}
			}
		}
	}
	hostname, _ := os.Hostname()
	return runtime.GOOS + ":" + hostname
}
