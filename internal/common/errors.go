// Package common defines shared constants and sentinel errors used across
// the capsule engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Creation validation errors. All of them are raised before any state
	// is mutated.
	ErrorHorizonExceeded = errors.New("delivery time outside allowed horizon")
	ErrorQuotaExceeded   = errors.New("storage quota exceeded")
	ErrorEmptyContent    = errors.New("empty content")
	ErrorBadRecipient    = errors.New("invalid recipient")

	// Balance errors. A debit that would drive the balance below zero is
	// rejected with ErrorInsufficientBalance.
	ErrorInsufficientBalance = errors.New("insufficient balance")

	// A purchase confirmation seen twice must credit only once; replays
	// are reported with ErrorDuplicateReference.
	ErrorDuplicateReference = errors.New("duplicate ledger reference")

	// Crypto errors. An unwrap failure is terminal for the item: a tampered
	// or corrupted ciphertext cannot self-heal.
	ErrorCryptoFailure = errors.New("crypto failure")

	// Capsule lifecycle errors.
	ErrorNotPending       = errors.New("capsule is not pending")
	ErrorAlreadyCancelled = errors.New("capsule already cancelled")

	// ErrorClaimConflict means another worker finished the item first. It is
	// expected under concurrent scheduler workers and is not a failure.
	ErrorClaimConflict = errors.New("capsule claimed elsewhere")

	// Blob storage errors.
	ErrorStorageUnavailable = errors.New("blob storage unavailable")
)
