// Package producer implements C7, the audit producer: the client API
// application services call to emit audit events. It fills defaults,
// applies presets, validates/sanitizes, hashes, optionally signs, and
// enqueues.
package producer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyaudit/audit-core/internal/domain/broker"
	"github.com/complyaudit/audit-core/internal/domain/crypto"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	domainvalidation "github.com/complyaudit/audit-core/internal/domain/validation"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/logger"
	"github.com/complyaudit/audit-core/pkg/metrics"
)

// Options controls a single Log call (spec §4.7).
type Options struct {
	Preset               string
	Compliance           []string
	SkipValidation       bool
	GenerateHash         bool
	GenerateSignature    bool
	SignatureRequired    bool
	Priority             int
	Delay                time.Duration
	DurabilityGuarantees bool
}

// DefaultOptions matches spec §4.7's implied defaults: hash generation
// and validation on, signature off, not durable.
func DefaultOptions() Options {
	return Options{
		GenerateHash:   true,
		Compliance:     nil,
		DurabilityGuarantees: false,
	}
}

// Producer is C7.
type Producer struct {
	brk       broker.Broker
	validator *domainvalidation.Validator
	hasher    *crypto.Hasher
	signer    crypto.Signer // nil disables signing
	presets   *PresetRegistry
	log       *logger.Logger
	valConfig domainvalidation.Config
}

// New constructs a Producer. signer may be nil if signing is disabled.
func New(brk broker.Broker, validator *domainvalidation.Validator, hasher *crypto.Hasher, signer crypto.Signer, presets *PresetRegistry, log *logger.Logger, valConfig domainvalidation.Config) *Producer {
	return &Producer{brk: brk, validator: validator, hasher: hasher, signer: signer, presets: presets, log: log, valConfig: valConfig}
}

// Log implements spec §4.7's Log algorithm.
func (p *Producer) Log(ctx context.Context, event *entities.AuditEvent, opts Options) (*entities.AuditEvent, error) {
	prepared := event.Clone()

	if prepared.ID == "" {
		prepared.ID = uuid.NewString()
	}
	if prepared.Timestamp.IsZero() {
		prepared.Timestamp = time.Now().UTC()
	}
	prepared.ApplyDefaults()

	if opts.Preset != "" && p.presets != nil {
		preset, ok := p.presets.Get(opts.Preset)
		if !ok {
			return nil, apierr.New(apierr.CodeValidation, "unknown preset: "+opts.Preset)
		}
		preset.ApplyDefaultsTo(prepared)
	}

	if prepared.CorrelationID == "" {
		prepared.CorrelationID = uuid.NewString()
	}

	if !opts.SkipValidation {
		result := p.validator.ValidateAndSanitize(prepared, withCompliance(p.valConfig, opts.Compliance))
		if !result.Valid() {
			metrics.ValidationFailuresTotal.WithLabelValues("producer").Inc()
			return nil, apierr.New(apierr.CodePolicyViolation, joinErrors(result.Errors))
		}
		prepared = result.SanitizedEvent
		for _, w := range result.Warnings {
			_ = p.log.Warn(ctx, "producer: sanitization warning", zap.String("event_id", prepared.ID), zap.String("warning", w))
		}
	}

	if opts.GenerateHash {
		hash, err := p.hasher.Hash(prepared)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "failed to compute event hash", err)
		}
		prepared.Hash = hash
	}

	if opts.GenerateSignature {
		if p.signer == nil {
			if opts.SignatureRequired {
				return nil, apierr.New(apierr.CodeCryptoUnavailable, "signature required but no signer configured")
			}
		} else {
			sig, err := p.signer.Sign(ctx, prepared.Hash)
			if err != nil {
				if opts.SignatureRequired {
					return nil, apierr.Wrap(apierr.CodeCryptoUnavailable, "signature required and signing failed", err)
				}
				_ = p.log.Warn(ctx, "producer: signing failed, proceeding unsigned", zap.String("event_id", prepared.ID), zap.Error(err))
			} else {
				prepared.Signature = sig.Value
				prepared.SignatureAlgorithm = sig.Algorithm
				prepared.SignatureKeyID = sig.KeyID
			}
		}
	}

	job := &entities.QueueJob{
		JobID:         uuid.NewString(),
		Event:         prepared,
		Attempts:      0,
		FirstSeenAt:   time.Now().UTC(),
		NextEligibleAt: time.Now().UTC(),
		Priority:      opts.Priority,
	}

	if err := p.brk.Enqueue(ctx, job, broker.EnqueueOptions{
		Priority:             opts.Priority,
		Delay:                opts.Delay,
		DurabilityGuarantees: opts.DurabilityGuarantees,
	}); err != nil {
		return nil, apierr.Wrap(apierr.CodeBrokerUnavailable, "failed to enqueue audit event", err)
	}

	return prepared, nil
}

func withCompliance(base domainvalidation.Config, compliance []string) domainvalidation.Config {
	cfg := base
	cfg.Compliance = compliance
	return cfg
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}
