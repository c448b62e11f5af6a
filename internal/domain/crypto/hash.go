// Package crypto implements the pipeline's integrity primitives: the
// deterministic critical-field hash and the local/KMS signing modes.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// Hasher computes and verifies the deterministic critical-field hash
// (spec §4.1). It has no state: a zero-value Hasher is ready to use.
type Hasher struct{}

// NewHasher constructs a Hasher.
func NewHasher() *Hasher { return &Hasher{} }

// Hash returns the lowercase hex SHA-256 digest of event's canonical
// critical-field projection.
func (h *Hasher) Hash(event *entities.AuditEvent) (string, error) {
	input, err := event.CanonicalHashInput()
	if err != nil {
		return "", apierr.Wrap(apierr.CodeInternal, "failed to build canonical hash input", err)
	}
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyHash recomputes event's hash and compares it to expected in
// constant time, so a timing side-channel cannot be used to discover
// valid hashes.
func (h *Hasher) VerifyHash(event *entities.AuditEvent, expected string) (bool, error) {
	computed, err := h.Hash(event)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
}
