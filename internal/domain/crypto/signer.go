package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/complyaudit/audit-core/pkg/apierr"
)

// SignatureAlgorithmHMAC is the algorithm tag attached to locally
// signed hashes.
const SignatureAlgorithmHMAC = "HMAC-SHA256"

// Signature is the result of signing an event's hash.
type Signature struct {
	Value     string
	Algorithm string
	KeyID     string
}

// Signer signs and verifies a hash, either locally (HMAC) or via a
// remote KMS. Selection between the two is configuration-driven at
// the Runtime construction site, not in this interface.
type Signer interface {
	// Sign produces a Signature over hash.
	Sign(ctx context.Context, hash string) (Signature, error)
	// Verify checks sig against hash. A non-empty sig.Algorithm that
	// does not match what this Signer produces short-circuits to false.
	Verify(ctx context.Context, hash string, sig Signature) (bool, error)
}

// Keyring holds one or more HMAC secrets, keyed by key ID, so secrets
// can be rotated without invalidating previously signed records:
// signing always uses CurrentKeyID; verification tries the signature's
// own KeyID first, then CurrentKeyID, then the remaining keys.
type Keyring struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

// NewSingleKeyKeyring builds a Keyring with exactly one key, useful
// when rotation has not been configured.
func NewSingleKeyKeyring(keyID string, secret []byte) *Keyring {
	return &Keyring{CurrentKeyID: keyID, Keys: map[string][]byte{keyID: secret}}
}

// HMACSigner implements Signer using a local keyring. It never talks
// to the network: unavailability of a key is a CONFIG_ERROR, not a
// CRYPTO_UNAVAILABLE one, since the secret is expected to be present
// in the process's own configuration.
type HMACSigner struct {
	keyring *Keyring
}

// NewHMACSigner constructs an HMACSigner over the given keyring.
func NewHMACSigner(keyring *Keyring) (*HMACSigner, error) {
	if keyring == nil || keyring.CurrentKeyID == "" || len(keyring.Keys[keyring.CurrentKeyID]) == 0 {
		return nil, apierr.New(apierr.CodeConfigError, "HMAC signer requires a non-empty current key")
	}
	return &HMACSigner{keyring: keyring}, nil
}

func (s *HMACSigner) Sign(_ context.Context, hash string) (Signature, error) {
	secret := s.keyring.Keys[s.keyring.CurrentKeyID]
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(hash))
	return Signature{
		Value:     hex.EncodeToString(mac.Sum(nil)),
		Algorithm: SignatureAlgorithmHMAC,
		KeyID:     s.keyring.CurrentKeyID,
	}, nil
}

func (s *HMACSigner) Verify(_ context.Context, hash string, sig Signature) (bool, error) {
	if sig.Algorithm != "" && sig.Algorithm != SignatureAlgorithmHMAC {
		return false, nil
	}

	candidates := s.orderedKeyIDs(sig.KeyID)
	for _, keyID := range candidates {
		secret, ok := s.keyring.Keys[keyID]
		if !ok {
			continue
		}
		mac := hmac.New(sha256.New, secret)
		mac.Write([]byte(hash))
		expected := hex.EncodeToString(mac.Sum(nil))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(sig.Value)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// orderedKeyIDs tries the signature's own KeyID first (if recognized),
// then the current key, then every remaining key in the ring.
func (s *HMACSigner) orderedKeyIDs(preferred string) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		if _, ok := s.keyring.Keys[id]; !ok {
			return
		}
		seen[id] = true
		order = append(order, id)
	}
	add(preferred)
	add(s.keyring.CurrentKeyID)
	for id := range s.keyring.Keys {
		add(id)
	}
	return order
}
