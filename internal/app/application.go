// Package app wires the pipeline's components into a single Runtime,
// following the teacher's Application lifecycle (Initialize/Start/
// Shutdown/WaitForShutdown) generalized from an HTTP+worker service to
// a broker-driven worker daemon plus a Prometheus metrics endpoint.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/complyaudit/audit-core/internal/domain/alerting"
	"github.com/complyaudit/audit-core/internal/domain/broker"
	"github.com/complyaudit/audit-core/internal/domain/crypto"
	"github.com/complyaudit/audit-core/internal/domain/dlq"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/gdpr"
	"github.com/complyaudit/audit-core/internal/domain/integrity"
	"github.com/complyaudit/audit-core/internal/domain/processor"
	"github.com/complyaudit/audit-core/internal/domain/producer"
	"github.com/complyaudit/audit-core/internal/domain/reports"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	domainvalidation "github.com/complyaudit/audit-core/internal/domain/validation"
	redisbroker "github.com/complyaudit/audit-core/internal/infrastructure/broker"
	"github.com/complyaudit/audit-core/internal/infrastructure/config"
	"github.com/complyaudit/audit-core/internal/infrastructure/database"
	awskms "github.com/complyaudit/audit-core/internal/infrastructure/kms"
	infrarepo "github.com/complyaudit/audit-core/internal/infrastructure/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/circuitbreaker"
	"github.com/complyaudit/audit-core/pkg/logger"
	"github.com/complyaudit/audit-core/pkg/metrics"
)

// Runtime owns every shared client and constructed component, built
// once at startup and handed to both the worker daemon and the CLI.
type Runtime struct {
	Config *config.Config
	Log    *logger.Logger

	DB          *sqlx.DB
	RedisClient *redis.Client
	Broker      broker.Broker

	Hasher *crypto.Hasher
	Signer crypto.Signer // nil if neither HMAC secret nor KMS signing key is configured

	AuditEvents  repositories.AuditRepository
	DLQRecords   repositories.DLQRepository
	Pseudonyms   repositories.PseudonymRepository
	Alerts       repositories.AlertRepository
	Reports      repositories.ReportRepository
	Retention    repositories.RetentionRepository
	Quarantine   repositories.QuarantineRepository

	Validator *domainvalidation.Validator
	Producer  *producer.Producer

	storageBreaker *circuitbreaker.CircuitBreaker
	kmsSigner      *crypto.KMSSigner // set whenever KMS is configured; used for pseudonym encryption even if HMAC signs events
	Processor      *processor.Processor
	DeadLetter     *dlq.DeadLetterQueue
	Verifier       *integrity.Verifier

	Pseudonymizer     *gdpr.Pseudonymizer
	RetentionSweeper  *gdpr.RetentionSweeper
	GDPR              *gdpr.Service

	ReportEngine    *reports.Engine
	ReportScheduler *reports.Scheduler

	AlertService *alerting.Service
	HealthLoop   *alerting.HealthLoop

	metricsServer *http.Server
}

// NewRuntime loads configuration and constructs every collaborator,
// mirroring the teacher's Initialize step but without an HTTP API
// surface: this pipeline's external interface is the broker and the
// auditctl CLI, per spec's excluded HTTP/GraphQL surface.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := buildLogger(cfg)
	rt := &Runtime{Config: cfg, Log: log}

	db, err := database.Open(ctx, database.Options{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt.DB = db

	migrator, err := database.NewMigrator(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to construct migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	_ = migrator.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rt.RedisClient = redis.NewClient(redisOpts)
	rt.Broker = redisbroker.NewRedisBroker(rt.RedisClient)

	rt.AuditEvents = infrarepo.NewAuditEventRepository(db)
	rt.DLQRecords = infrarepo.NewDLQRepository(db)
	rt.Pseudonyms = infrarepo.NewPseudonymRepository(db)
	rt.Alerts = infrarepo.NewAlertRepository(db)
	rt.Reports = infrarepo.NewReportRepository(db)
	rt.Retention = infrarepo.NewRetentionRepository(db)
	rt.Quarantine = infrarepo.NewQuarantineRepository(db)

	rt.Hasher = crypto.NewHasher()
	if err := rt.wireCrypto(ctx); err != nil {
		return nil, err
	}

	rt.Validator = domainvalidation.NewValidator()

	presets := producer.NewPresetRegistry()
	valConfig := domainvalidation.DefaultConfig()
	rt.Producer = producer.New(rt.Broker, rt.Validator, rt.Hasher, rt.Signer, presets, log, valConfig)
	rt.AlertService = alerting.NewService(rt.Alerts, rt.Producer)

	rt.DeadLetter = dlq.New(rt.DLQRecords, rt.Broker, rt.AlertService, log)
	rt.Verifier = integrity.New(rt.AuditEvents, rt.Hasher, rt.Signer, rt.AlertService)

	rt.storageBreaker = circuitbreaker.New(circuitbreaker.Config{
		Name:             "storage",
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	})
	procCfg := processor.DefaultConfig()
	procCfg.ConsumerGroup = cfg.Redis.ConsumerGroup
	procCfg.WorkerCount = cfg.WorkerCount
	rt.Processor = processor.New(procCfg, rt.Broker, rt.AuditEvents, rt.Validator, rt.Hasher, rt.storageBreaker, rt.DeadLetter, log)

	var encryptor gdpr.Encryptor
	if rt.kmsSigner != nil {
		encryptor = rt.kmsSigner
	}
	rt.Pseudonymizer = gdpr.NewPseudonymizer(rt.Pseudonyms, encryptor, cfg.Crypto.EncryptionKeyID, []byte(cfg.GDPR.PseudonymSalt))
	rt.RetentionSweeper = gdpr.NewRetentionSweeper(rt.AuditEvents, rt.Retention, archiveStoreFunc(rt.archiveEvent), rt.Pseudonymizer, log)
	rt.GDPR = gdpr.NewService(rt.AuditEvents, rt.Pseudonymizer, rt.Producer)

	rt.ReportEngine = reports.NewEngine(rt.AuditEvents, rt.Verifier)
	dispatchers := map[entities.DeliveryMethod]reports.ReportDelivery{
		entities.DeliveryEmail:   reports.NewEmailDispatcher(cfg.Reporting.SendGridAPIKey, cfg.Reporting.FromEmail, cfg.Reporting.FromName),
		entities.DeliveryWebhook: reports.NewWebhookDispatcher(cfg.Reporting.WebhookTimeout),
		entities.DeliveryStorage: reports.NewStorageDispatcher(rt.saveReportArtifact),
	}
	rt.ReportScheduler = reports.NewScheduler(rt.ReportEngine, rt.Reports, dispatchers, rt.Producer, log)

	rt.HealthLoop = alerting.NewHealthLoop(rt.AlertService, rt.healthProbes(), log)

	return rt, nil
}

// wireCrypto selects the KMS-backed signer when a signing key ID is
// configured, else falls back to the local HMAC keyring. The KMS
// client itself is constructed whenever any KMS setting is present,
// since pseudonymization's Encryptor contract is KMS-only regardless
// of which signer audit events use (spec §4.10 keeps originals
// encrypted at rest, independent of the hash-signing mode).
func (rt *Runtime) wireCrypto(ctx context.Context) error {
	cfg := rt.Config

	var kmsSigner *crypto.KMSSigner
	if cfg.KMS.Region != "" || cfg.KMS.Endpoint != "" || cfg.Crypto.SigningKeyID != "" || cfg.Crypto.EncryptionKeyID != "" {
		client, err := awskms.NewClient(ctx, awskms.Options{
			Region:          cfg.KMS.Region,
			Endpoint:        cfg.KMS.Endpoint,
			AccessKeyID:     cfg.KMS.AccessKeyID,
			SecretAccessKey: cfg.KMS.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to construct KMS client: %w", err)
		}
		kmsBreaker := circuitbreaker.New(circuitbreaker.Config{
			Name:             "kms",
			MaxRequests:      1,
			Interval:         30 * time.Second,
			Timeout:          15 * time.Second,
			FailureThreshold: 3,
		})
		kmsSigner = crypto.NewKMSSigner(client, cfg.Crypto.SigningKeyID, kmsBreaker)
	}

	switch {
	case cfg.Crypto.SigningKeyID != "" && kmsSigner != nil:
		rt.Signer = kmsSigner
	case cfg.Crypto.HMACSecret != "":
		keyring := crypto.NewSingleKeyKeyring("default", []byte(cfg.Crypto.HMACSecret))
		signer, err := crypto.NewHMACSigner(keyring)
		if err != nil {
			return fmt.Errorf("failed to construct HMAC signer: %w", err)
		}
		rt.Signer = signer
	default:
		rt.Signer = nil
	}

	rt.kmsSigner = kmsSigner
	return nil
}

func (rt *Runtime) saveReportArtifact(ctx context.Context, key string, artifact []byte) error {
	return rt.Quarantine.Quarantine(ctx, artifact, "report_artifact:"+key)
}

// archiveStoreFunc adapts a plain function to gdpr.ArchiveStore, the way
// reports.NewStorageDispatcher adapts one to a delivery closure.
type archiveStoreFunc func(ctx context.Context, event *entities.AuditEvent) error

func (f archiveStoreFunc) Archive(ctx context.Context, event *entities.AuditEvent) error {
	return f(ctx, event)
}

// archiveEvent copies an archive-eligible event's full record into
// cold storage; the row itself is left in place. No object-storage SDK is wired
// into this repository (see DESIGN.md), so it reuses the quarantine
// table's durable-payload boundary the way report artifacts do.
func (rt *Runtime) archiveEvent(ctx context.Context, event *entities.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event for archival: %w", err)
	}
	return rt.Quarantine.Quarantine(ctx, payload, "retention_archive:"+event.ID)
}

func (rt *Runtime) healthProbes() []alerting.Probe {
	return []alerting.Probe{
		{Category: "database", Check: func(ctx context.Context) error { return rt.DB.PingContext(ctx) }},
		{Category: "broker", Check: func(ctx context.Context) error { return rt.RedisClient.Ping(ctx).Err() }},
	}
}

// Start launches the processor's worker pool, the report scheduler,
// the health-probe loop, and a Prometheus metrics endpoint, in the
// shape of the teacher's Start()+startMetricsCollection() pair.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.Processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}
	if err := rt.ReportScheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start report scheduler: %w", err)
	}
	go rt.HealthLoop.Run(ctx, 15*time.Second)
	go rt.startMetricsServer()
	go rt.collectDatabaseMetrics(ctx)
	return nil
}

func (rt *Runtime) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	rt.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", rt.Config.MetricsPort),
		Handler: mux,
	}
	_ = rt.Log.Info(context.Background(), "metrics server starting", zap.Int("port", rt.Config.MetricsPort))
	if err := rt.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		_ = rt.Log.Error(context.Background(), "metrics server stopped unexpectedly", zap.Error(err))
	}
}

func (rt *Runtime) collectDatabaseMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := rt.DB.Stats()
			metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
			metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
			metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
		}
	}
}

// Shutdown stops every component within a fixed 30-second grace period,
// following the teacher's stopWorkers() pattern of best-effort,
// logged-not-fatal component shutdowns.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	_ = rt.Log.Info(ctx, "shutting down runtime")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := rt.Processor.Shutdown(shutdownCtx); err != nil {
		_ = rt.Log.Warn(ctx, "processor shutdown error", zap.Error(err))
	}
	rt.ReportScheduler.Stop(shutdownCtx)
	if rt.metricsServer != nil {
		if err := rt.metricsServer.Shutdown(shutdownCtx); err != nil {
			_ = rt.Log.Warn(ctx, "metrics server shutdown error", zap.Error(err))
		}
	}
	if err := rt.Log.Shutdown(shutdownCtx); err != nil {
		return apierr.Wrap(apierr.CodeInternal, "logger shutdown failed", err)
	}
	if err := rt.RedisClient.Close(); err != nil {
		return apierr.Wrap(apierr.CodeInternal, "redis client close failed", err)
	}
	return rt.DB.Close()
}

// WaitForShutdown blocks until SIGINT/SIGTERM, matching the teacher's
// signal-driven shutdown trigger.
func WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func buildLogger(cfg *config.Config) *logger.Logger {
	variant := logger.VariantProduction
	if cfg.Environment == "development" {
		variant = logger.VariantDevelopment
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "log_sink",
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	})
	sink := logger.NewBatchSink(logger.DefaultBatchSinkConfig(), breaker)
	return logger.New(variant, cfg.LogLevel, sink)
}
