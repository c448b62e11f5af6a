package crypto

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/circuitbreaker"
)

// KMSClient is the subset of the AWS KMS SDK client this package
// depends on, narrowed for testability.
type KMSClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	Verify(ctx context.Context, params *kms.VerifyInput, optFns ...func(*kms.Options)) (*kms.VerifyOutput, error)
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSSigner implements Signer by delegating to a remote KMS signing
// key, wrapped in a circuit breaker so a flaky KMS endpoint degrades
// predictably instead of stalling every signing call (spec §4.1:
// KMS unavailable surfaces as CRYPTO_UNAVAILABLE, and the caller
// decides whether to proceed unsigned).
type KMSSigner struct {
	client    KMSClient
	keyID     string
	algorithm types.SigningAlgorithmSpec
	breaker   *circuitbreaker.CircuitBreaker
}

// NewKMSSigner constructs a KMSSigner against the given signing key ARN/alias.
func NewKMSSigner(client KMSClient, keyID string, breaker *circuitbreaker.CircuitBreaker) *KMSSigner {
	return &KMSSigner{
		client:    client,
		keyID:     keyID,
		algorithm: types.SigningAlgorithmSpecRsassaPssSha256,
		breaker:   breaker,
	}
}

func (s *KMSSigner) Sign(ctx context.Context, hash string) (Signature, error) {
	var out *kms.SignOutput
	err := s.breaker.Execute(ctx, func() error {
		var signErr error
		out, signErr = s.client.Sign(ctx, &kms.SignInput{
			KeyId:            aws.String(s.keyID),
			Message:          []byte(hash),
			MessageType:      types.MessageTypeRaw,
			SigningAlgorithm: s.algorithm,
		})
		return signErr
	})
	if err != nil {
		return Signature{}, apierr.Wrap(apierr.CodeCryptoUnavailable, "KMS sign failed", err)
	}
	return Signature{
		Value:     base64.StdEncoding.EncodeToString(out.Signature),
		Algorithm: string(s.algorithm),
		KeyID:     s.keyID,
	}, nil
}

func (s *KMSSigner) Verify(ctx context.Context, hash string, sig Signature) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil {
		return false, apierr.Wrap(apierr.CodeCryptoMismatch, "malformed KMS signature encoding", err)
	}

	var out *kms.VerifyOutput
	verifyErr := s.breaker.Execute(ctx, func() error {
		var callErr error
		out, callErr = s.client.Verify(ctx, &kms.VerifyInput{
			KeyId:            aws.String(s.keyID),
			Message:          []byte(hash),
			MessageType:      types.MessageTypeRaw,
			Signature:        raw,
			SigningAlgorithm: s.algorithm,
		})
		return callErr
	})
	if verifyErr != nil {
		return false, apierr.Wrap(apierr.CodeCryptoUnavailable, "KMS verify failed", verifyErr)
	}
	return out.SignatureValid, nil
}

// EncryptOriginal encrypts plaintext (a pseudonymized original
// principal ID) under the configured KMS encryption key, for storage
// in a PseudonymMapping.
func (s *KMSSigner) EncryptOriginal(ctx context.Context, encryptionKeyID string, plaintext []byte) ([]byte, error) {
	var out *kms.EncryptOutput
	err := s.breaker.Execute(ctx, func() error {
		var encErr error
		out, encErr = s.client.Encrypt(ctx, &kms.EncryptInput{
			KeyId:     aws.String(encryptionKeyID),
			Plaintext: plaintext,
		})
		return encErr
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeCryptoUnavailable, "KMS encrypt failed", err)
	}
	return out.CiphertextBlob, nil
}

// DecryptOriginal decrypts a PseudonymMapping's EncryptedOriginal.
func (s *KMSSigner) DecryptOriginal(ctx context.Context, ciphertext []byte) ([]byte, error) {
	var out *kms.DecryptOutput
	err := s.breaker.Execute(ctx, func() error {
		var decErr error
		out, decErr = s.client.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob: ciphertext,
		})
		return decErr
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeCryptoUnavailable, "KMS decrypt failed", err)
	}
	return out.Plaintext, nil
}
