// Package crypto encrypts the OAuth tokens kept in the local database.
// Ciphertexts use AES-256-GCM with keys derived by argon2id.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// formatV1 prefixes every ciphertext: version byte, nonce, sealed data.
const formatV1 byte = 1

// KeySize is the length of an encryption key.
const KeySize = 32

// KDFParams tunes argon2id.
type KDFParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

// DefaultKDFParams follows the argon2id recommendation for interactive use.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKB: 64 * 1024, Threads: 4}
}

// DeriveKey stretches secret with salt and expands it into a key bound to
// purpose. Different purposes yield independent keys.
func DeriveKey(secret, salt []byte, purpose string, params KDFParams) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKey
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("salt too short: %d bytes", len(salt))
	}
	mk := argon2.IDKey(secret, salt, params.Time, params.MemoryKB, params.Threads, KeySize)
	defer func() {
		for i := range mk {
			mk[i] = 0
		}
	}()

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, mk, nil, []byte("contactsync:v1:"+purpose)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts and authenticates plaintext. aad is bound to the
// ciphertext without being stored in it.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, formatV1)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, aad), nil
}

// Open decrypts a ciphertext produced by Seal with the same key and aad.
func Open(key, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < 1+nonceSize || ciphertext[0] != formatV1 {
		return nil, ErrInvalidCiphertext
	}
	nonce, data := ciphertext[1:1+nonceSize], ciphertext[1+nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, data, aad)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// NewSalt returns random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
