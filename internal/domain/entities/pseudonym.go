package entities

import "time"

// PseudonymStrategy selects how a pseudonym ID is derived.
type PseudonymStrategy string

const (
	// StrategyDeterministic derives the same pseudonym ID for the same
	// (originalId, salt) pair every time, letting correlated events
	// remain linkable without exposing the original identifier.
	StrategyDeterministic PseudonymStrategy = "deterministic"
	// StrategyRandom derives an unlinkable pseudonym ID per call.
	StrategyRandom PseudonymStrategy = "random"
)

// PseudonymMapping records the one-way mapping GDPR pseudonymization
// creates. OriginalID is never stored in the clear: EncryptedOriginal
// holds the KMS-encrypted original, and PseudonymID is the only value
// that appears in audit records afterward.
type PseudonymMapping struct {
	OriginalID        string            `db:"original_id" json:"-"`
	PseudonymID       string            `db:"pseudonym_id" json:"pseudonymId"`
	Strategy          PseudonymStrategy `db:"strategy" json:"strategy"`
	CreatedAt         time.Time         `db:"created_at" json:"createdAt"`
	EncryptedOriginal []byte            `db:"encrypted_original" json:"-"`
	EncryptionKeyID   string            `db:"encryption_key_id" json:"-"`
}
