// Package config loads runtime configuration via viper, the way the
// teacher's Application wires a grouped Config struct (Database,
// Server, ...) off environment variables, generalized here to the
// pipeline's dependencies (broker, KMS, signing, pseudonymization
// salt).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/complyaudit/audit-core/pkg/apierr"
)

// DatabaseConfig groups Postgres connection settings.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig groups broker connection settings.
type RedisConfig struct {
	URL           string
	ConsumerGroup string
}

// CryptoConfig groups hashing/signing settings.
type CryptoConfig struct {
	HMACSecret      string
	SigningKeyID    string // non-empty selects KMS signing over local HMAC
	EncryptionKeyID string
}

// GDPRConfig groups pseudonymization settings.
type GDPRConfig struct {
	PseudonymSalt string
}

// KMSConfig groups AWS KMS client settings.
type KMSConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// ReportingConfig groups report-delivery settings.
type ReportingConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	WebhookTimeout time.Duration
}

// Config is the pipeline's full runtime configuration.
type Config struct {
	Environment string
	LogLevel    string

	Database  DatabaseConfig
	Redis     RedisConfig
	Crypto    CryptoConfig
	GDPR      GDPRConfig
	KMS       KMSConfig
	Reporting ReportingConfig

	WorkerCount        int
	MetricsPort        int
}

// Load reads configuration from environment variables (prefixed
// AUDIT_, GDPR_, KMS_, LOG_) with defaults for pool sizes, ports and
// timeouts, failing closed when a required secret is missing outside
// the development and test environments (environment defaults to
// development).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("worker_count", 4)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("redis.consumer_group", "audit-processors")
	v.SetDefault("reporting.webhook_timeout", 15*time.Second)

	_ = v.BindEnv("environment", "AUDIT_ENVIRONMENT")
	_ = v.BindEnv("log_level", "AUDIT_LOG_LEVEL")
	_ = v.BindEnv("database.dsn", "AUDIT_DATABASE_DSN")
	_ = v.BindEnv("redis.url", "AUDIT_REDIS_URL")
	_ = v.BindEnv("crypto.hmac_secret", "AUDIT_CRYPTO_SECRET")
	_ = v.BindEnv("crypto.signing_key_id", "AUDIT_SIGNING_KEY_ID", "KMS_SIGNING_KEY")
	_ = v.BindEnv("crypto.encryption_key_id", "AUDIT_ENCRYPTION_KEY_ID", "KMS_ENCRYPTION_KEY")
	_ = v.BindEnv("gdpr.pseudonym_salt", "GDPR_PSEUDONYM_SALT")
	_ = v.BindEnv("kms.region", "KMS_REGION")
	_ = v.BindEnv("kms.endpoint", "KMS_BASE_URL")
	_ = v.BindEnv("kms.access_key_id", "KMS_ACCESS_TOKEN")
	_ = v.BindEnv("kms.secret_access_key", "KMS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("reporting.sendgrid_api_key", "AUDIT_SENDGRID_API_KEY")
	_ = v.BindEnv("reporting.from_email", "AUDIT_REPORT_FROM_EMAIL")
	_ = v.BindEnv("reporting.from_name", "AUDIT_REPORT_FROM_NAME")

	cfg := &Config{
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log_level"),
		Database: DatabaseConfig{
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL:           v.GetString("redis.url"),
			ConsumerGroup: v.GetString("redis.consumer_group"),
		},
		Crypto: CryptoConfig{
			HMACSecret:      v.GetString("crypto.hmac_secret"),
			SigningKeyID:    v.GetString("crypto.signing_key_id"),
			EncryptionKeyID: v.GetString("crypto.encryption_key_id"),
		},
		GDPR: GDPRConfig{
			PseudonymSalt: v.GetString("gdpr.pseudonym_salt"),
		},
		KMS: KMSConfig{
			Region:          v.GetString("kms.region"),
			Endpoint:        v.GetString("kms.endpoint"),
			AccessKeyID:     v.GetString("kms.access_key_id"),
			SecretAccessKey: v.GetString("kms.secret_access_key"),
		},
		Reporting: ReportingConfig{
			SendGridAPIKey: v.GetString("reporting.sendgrid_api_key"),
			FromEmail:      v.GetString("reporting.from_email"),
			FromName:       v.GetString("reporting.from_name"),
			WebhookTimeout: v.GetDuration("reporting.webhook_timeout"),
		},
		WorkerCount: v.GetInt("worker_count"),
		MetricsPort: v.GetInt("metrics_port"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return apierr.New(apierr.CodeConfigError, "AUDIT_DATABASE_DSN is required")
	}
	if c.Redis.URL == "" {
		return apierr.New(apierr.CodeConfigError, "AUDIT_REDIS_URL is required")
	}
	if c.Environment != "development" && c.Environment != "test" {
		if c.Crypto.HMACSecret == "" && c.Crypto.SigningKeyID == "" {
			return apierr.New(apierr.CodeConfigError, "either AUDIT_CRYPTO_SECRET or AUDIT_SIGNING_KEY_ID is required outside development")
		}
		if c.GDPR.PseudonymSalt == "" {
			return apierr.New(apierr.CodeConfigError, "GDPR_PSEUDONYM_SALT is required outside development")
		}
	}
	return nil
}
