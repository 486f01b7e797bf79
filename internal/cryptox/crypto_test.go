package cryptox

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dmitrijs2005/timecapsule/internal/common"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault(common.GenerateRandByteArray(KeySize))
	if err != nil {
		t.Fatalf("NewVault error: %v", err)
	}
	return v
}

func TestNewVault_RejectsBadKeyLength(t *testing.T) {
	if _, err := NewVault([]byte("short")); err == nil {
		t.Fatalf("expected error for short master key")
	}
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	payloads := [][]byte{
		[]byte("hello from the past"),
		{},
		common.GenerateRandByteArray(1 << 16),
	}

	for _, plaintext := range payloads {
		ciphertext, wrappedKey, err := v.Wrap(plaintext)
		if err != nil {
			t.Fatalf("Wrap error: %v", err)
		}
		got, err := v.Unwrap(ciphertext, wrappedKey)
		if err != nil {
			t.Fatalf("Unwrap error: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plaintext))
		}
	}
}

func TestWrap_FreshItemKeyPerCall(t *testing.T) {
	v := newTestVault(t)

	_, key1, err := v.Wrap([]byte("x"))
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}
	_, key2, err := v.Wrap([]byte("x"))
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}
	if bytes.Equal(key1, key2) {
		t.Fatalf("expected distinct wrapped keys for distinct wrap calls")
	}
}

func TestUnwrap_FailsClosedOnCiphertextBitFlip(t *testing.T) {
	v := newTestVault(t)

	ciphertext, wrappedKey, err := v.Wrap([]byte("tamper me"))
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}

	for i := range ciphertext {
		mutated := bytes.Clone(ciphertext)
		mutated[i] ^= 0x01
		got, err := v.Unwrap(mutated, wrappedKey)
		if !errors.Is(err, common.ErrorCryptoFailure) {
			t.Fatalf("bit flip at %d: want ErrorCryptoFailure, got %v", i, err)
		}
		if got != nil {
			t.Fatalf("bit flip at %d: plaintext must not leak", i)
		}
	}
}

func TestUnwrap_FailsClosedOnWrappedKeyBitFlip(t *testing.T) {
	v := newTestVault(t)

	ciphertext, wrappedKey, err := v.Wrap([]byte("tamper me"))
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}

	mutated := bytes.Clone(wrappedKey)
	mutated[len(mutated)/2] ^= 0x80
	if _, err := v.Unwrap(ciphertext, mutated); !errors.Is(err, common.ErrorCryptoFailure) {
		t.Fatalf("want ErrorCryptoFailure, got %v", err)
	}
}

func TestUnwrap_WrongMasterKey(t *testing.T) {
	v1 := newTestVault(t)
	v2 := newTestVault(t)

	ciphertext, wrappedKey, err := v1.Wrap([]byte("secret"))
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}
	if _, err := v2.Unwrap(ciphertext, wrappedKey); !errors.Is(err, common.ErrorCryptoFailure) {
		t.Fatalf("want ErrorCryptoFailure with wrong master key, got %v", err)
	}
}

func TestUnwrap_TruncatedInputs(t *testing.T) {
	v := newTestVault(t)

	if _, err := v.Unwrap([]byte{1, 2}, []byte{3}); !errors.Is(err, common.ErrorCryptoFailure) {
		t.Fatalf("want ErrorCryptoFailure for truncated inputs, got %v", err)
	}
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveMasterKey(password, salt)
	key2 := DeriveMasterKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}
	if len(key1) != KeySize {
		t.Errorf("expected %d-byte key, got %d", KeySize, len(key1))
	}
}

func TestDeriveMasterKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveMasterKey(password, []byte("salt-1"))
	key2 := DeriveMasterKey(password, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestMakeVerifier_StableAndDistinct(t *testing.T) {
	k1 := common.GenerateRandByteArray(KeySize)
	k2 := common.GenerateRandByteArray(KeySize)

	if !bytes.Equal(MakeVerifier(k1), MakeVerifier(k1)) {
		t.Fatalf("verifier must be deterministic")
	}
	if bytes.Equal(MakeVerifier(k1), MakeVerifier(k2)) {
		t.Fatalf("verifier must differ for different keys")
	}
}
