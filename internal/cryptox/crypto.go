// Package cryptox implements the two-level encryption scheme used for
// capsule content: every payload is sealed with a fresh random item key
// (AES-256-GCM), and the item key itself is sealed with a process-wide
// master key. Only the wrapped item key is ever persisted.
//
// Losing the master key invalidates all wrapped item keys irrecoverably;
// rotation re-wraps stored item keys and is an external procedure.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/timecapsule/internal/common"
	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length used for both master and item keys.
const KeySize = 32

// Vault performs wrap/unwrap operations under a fixed master key. The master
// key is loaded once at startup and never mutated.
type Vault struct {
	masterKey []byte
}

// NewVault validates the master key length and returns a Vault.
func NewVault(masterKey []byte) (*Vault, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	return &Vault{masterKey: masterKey}, nil
}

// Wrap encrypts plaintext with a fresh random item key and returns the
// ciphertext together with the item key sealed under the master key.
// The nonce is carried inside each sealed blob.
func (v *Vault) Wrap(plaintext []byte) (ciphertext, wrappedKey []byte, err error) {
	itemKey := common.GenerateRandByteArray(KeySize)
	defer common.WipeByteArray(itemKey)

	ciphertext, err = seal(itemKey, plaintext)
	if err != nil {
		return nil, nil, err
	}

	wrappedKey, err = seal(v.masterKey, itemKey)
	if err != nil {
		return nil, nil, err
	}

	return ciphertext, wrappedKey, nil
}

// Unwrap recovers the item key from wrappedKey and decrypts ciphertext.
// Any authentication or key-unwrap failure yields common.ErrorCryptoFailure;
// partial plaintext is never returned.
func (v *Vault) Unwrap(ciphertext, wrappedKey []byte) ([]byte, error) {
	itemKey, err := open(v.masterKey, wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key unwrap: %v", common.ErrorCryptoFailure, err)
	}
	defer common.WipeByteArray(itemKey)

	plaintext, err := open(itemKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: content: %v", common.ErrorCryptoFailure, err)
	}
	return plaintext, nil
}

// DeriveMasterKey derives a 32-byte master key from a passphrase and salt
// using Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// MakeVerifier returns a value safe to store for checking that the same
// master key is supplied on subsequent startups.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// seal encrypts plaintext with AES-GCM under key, prefixing the random nonce.
func seal(key, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal, authenticating the ciphertext.
func open(key, sealed []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aesgcm.NonceSize() {
		return nil, errors.New("sealed blob too short")
	}
	nonce, ciphertext := sealed[:aesgcm.NonceSize()], sealed[aesgcm.NonceSize():]
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
