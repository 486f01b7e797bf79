package models

import "time"

// CapsuleState is the delivery lifecycle state. Transitions only ever move
// forward; Delivered, Failed, and Cancelled are terminal.
type CapsuleState string

const (
	CapsulePending   CapsuleState = "pending"
	CapsuleInFlight  CapsuleState = "in_flight"
	CapsuleDelivered CapsuleState = "delivered"
	CapsuleFailed    CapsuleState = "failed"
	CapsuleCancelled CapsuleState = "cancelled"
)

// Terminal reports whether no further transition may leave the state.
func (s CapsuleState) Terminal() bool {
	return s == CapsuleDelivered || s == CapsuleFailed || s == CapsuleCancelled
}

// RecipientKind discriminates the recipient variants.
type RecipientKind string

const (
	RecipientSelf  RecipientKind = "self"
	RecipientUser  RecipientKind = "user"
	RecipientGroup RecipientKind = "group"
)

// Recipient is a tagged variant: Kind selects how Target is interpreted
// by the dispatch transport. For RecipientSelf, Target is the owner.
type Recipient struct {
	Kind   RecipientKind
	Target string
}

// ContentKind distinguishes inline text from blob-stored binary media.
type ContentKind string

const (
	ContentText   ContentKind = "text"
	ContentBinary ContentKind = "binary"
)

// Capsule is a scheduled, encrypted unit of content bound to a delivery
// time and a recipient.
//
// For ContentText the ciphertext lives inline in EncryptedText and BlobKey
// is empty; for ContentBinary the ciphertext lives in object storage under
// BlobKey and EncryptedText is empty. WrappedItemKey is the per-item key
// sealed under the master key; plaintext keys are never stored.
type Capsule struct {
	ID        string
	AccountID string
	Recipient Recipient

	ContentKind    ContentKind
	EncryptedText  []byte
	BlobKey        string
	WrappedItemKey []byte
	Size           int64

	ScheduledAt  time.Time
	State        CapsuleState
	AttemptCount int
	LastError    string

	CreatedAt   time.Time
	ClaimedAt   *time.Time
	DeliveredAt *time.Time
}
