package gdpr

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/metrics"
)

// Encryptor is the narrow slice of C1's KMS signer this package needs
// to keep original identifiers encrypted at rest.
type Encryptor interface {
	EncryptOriginal(ctx context.Context, encryptionKeyID string, plaintext []byte) ([]byte, error)
	DecryptOriginal(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// complianceCriticalPrefixes names action namespaces that can never be
// hard-deleted, only pseudonymized.
var complianceCriticalPrefixes = []string{"security.", "compliance.", "gdpr."}

// complianceCriticalAllowList names specific actions (outside the
// prefix rule) that are also compliance-critical.
var complianceCriticalAllowList = map[string]bool{
	"auth.logout":               true,
	"data.access.unauthorized":  true,
	"data.breach.detected":      true,
}

// IsComplianceCritical reports whether action can never be hard
// deleted, only pseudonymized (spec §4.10).
func IsComplianceCritical(action string) bool {
	for _, prefix := range complianceCriticalPrefixes {
		if strings.HasPrefix(action, prefix) {
			return true
		}
	}
	if complianceCriticalAllowList[action] {
		return true
	}
	if strings.HasPrefix(action, "auth.login.") || strings.HasPrefix(action, "system.backup.") {
		return true
	}
	return false
}

// Pseudonymizer derives and persists pseudonym mappings.
type Pseudonymizer struct {
	repo            repositories.PseudonymRepository
	encryptor       Encryptor
	encryptionKeyID string
	salt            []byte
}

// NewPseudonymizer constructs a Pseudonymizer. salt is used exactly as
// given; nothing here decrypts it. The Runtime passes the raw
// GDPR_PSEUDONYM_SALT environment value.
func NewPseudonymizer(repo repositories.PseudonymRepository, encryptor Encryptor, encryptionKeyID string, salt []byte) *Pseudonymizer {
	return &Pseudonymizer{repo: repo, encryptor: encryptor, encryptionKeyID: encryptionKeyID, salt: salt}
}

// Pseudonymize returns a pseudonym ID for originalID under strategy,
// persisting the mapping. Deterministic calls are idempotent: a second
// call with the same originalID returns the existing pseudonym.
func (p *Pseudonymizer) Pseudonymize(ctx context.Context, originalID string, strategy entities.PseudonymStrategy) (string, error) {
	if strategy == entities.StrategyDeterministic {
		if existing, err := p.repo.FindByOriginalID(ctx, originalID, strategy); err == nil && existing != nil {
			return existing.PseudonymID, nil
		}
	}

	pseudonymID, err := p.derive(originalID, strategy)
	if err != nil {
		return "", err
	}

	if p.encryptor == nil {
		return "", apierr.New(apierr.CodeConfigError, "pseudonymization requires a KMS encryptor to be configured")
	}

	encrypted, err := p.encryptor.EncryptOriginal(ctx, p.encryptionKeyID, []byte(originalID))
	if err != nil {
		return "", apierr.Wrap(apierr.CodeCryptoUnavailable, "failed to encrypt original principal id", err)
	}

	mapping := &entities.PseudonymMapping{
		OriginalID:        originalID,
		PseudonymID:       pseudonymID,
		Strategy:          strategy,
		CreatedAt:         time.Now().UTC(),
		EncryptedOriginal: encrypted,
		EncryptionKeyID:   p.encryptionKeyID,
	}
	if err := p.repo.Save(ctx, mapping); err != nil {
		return "", apierr.Wrap(apierr.CodeStorageUnavailable, "failed to save pseudonym mapping", err)
	}

	metrics.PseudonymizationsTotal.WithLabelValues(string(strategy)).Inc()
	return pseudonymID, nil
}

// derive computes the pseudonym ID per spec §4.10's exact formula for
// the deterministic strategy, or 16 random bytes for the random one.
func (p *Pseudonymizer) derive(originalID string, strategy entities.PseudonymStrategy) (string, error) {
	switch strategy {
	case entities.StrategyDeterministic:
		sum := sha256.Sum256(append([]byte(originalID), p.salt...))
		return "pseudo-" + hex.EncodeToString(sum[:])[:16], nil
	case entities.StrategyRandom:
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", apierr.Wrap(apierr.CodeInternal, "failed to generate random pseudonym", err)
		}
		return "pseudo-" + hex.EncodeToString(buf), nil
	default:
		return "", apierr.New(apierr.CodeValidation, "unknown pseudonymization strategy: "+string(strategy))
	}
}
