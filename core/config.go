package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	VerifierHeaderHMAC = "header_hmac"
	VerifierBodySecret = "body_secret"

	DefaultSignatureHeader = "X-Signature"
	DefaultBodySecretField = "WEBHOOK_SECRET"

	maxBatchSize = 100
)

type InboundConfig struct {
	Verifier             string `koanf:"verifier" mapstructure:"verifier" env:"WEBHOOK_INBOUND_VERIFIER"`
	SignatureHeader      string `koanf:"signature_header" mapstructure:"signature_header" env:"WEBHOOK_SIGNATURE_HEADER"`
	SignaturePrefix      string `koanf:"signature_prefix" mapstructure:"signature_prefix" env:"WEBHOOK_SIGNATURE_PREFIX"`
	BodySecretField      string `koanf:"body_secret_field" mapstructure:"body_secret_field" env:"WEBHOOK_BODY_SECRET_FIELD"`
	PromptCallbackSecret string `koanf:"prompt_callback_secret" mapstructure:"prompt_callback_secret" env:"WEBHOOK_PROMPT_CALLBACK_SECRET"`
}

type Config struct {
	ServiceName          string        `koanf:"service_name" mapstructure:"service_name" env:"WEBHOOK_SERVICE_NAME"`
	OutgoingSecret       string        `koanf:"outgoing_secret" mapstructure:"outgoing_secret" env:"WEBHOOK_OUTGOING_SECRET"`
	IncomingSecret       string        `koanf:"incoming_secret" mapstructure:"incoming_secret" env:"WEBHOOK_INCOMING_SECRET"`
	DefaultTargetURL     string        `koanf:"default_target_url" mapstructure:"default_target_url" env:"WEBHOOK_OUTGOING_TARGET"`
	MaxRetries           int           `koanf:"max_retries" mapstructure:"max_retries" env:"WEBHOOK_MAX_RETRIES"`
	RetryBackoffBaseMs   int           `koanf:"retry_backoff_base_ms" mapstructure:"retry_backoff_base_ms" env:"WEBHOOK_RETRY_BACKOFF_MS"`
	RetryBackoffMaxMs    int           `koanf:"retry_backoff_max_ms" mapstructure:"retry_backoff_max_ms" env:"WEBHOOK_RETRY_BACKOFF_MAX_MS"`
	WorkerTickIntervalMs int           `koanf:"worker_tick_interval_ms" mapstructure:"worker_tick_interval_ms" env:"WEBHOOK_WORKER_INTERVAL_MS"`
	BatchSize            int           `koanf:"batch_size" mapstructure:"batch_size" env:"WEBHOOK_BATCH_SIZE"`
	SendTimeoutMs        int           `koanf:"send_timeout_ms" mapstructure:"send_timeout_ms" env:"WEBHOOK_SEND_TIMEOUT_MS"`
	ClaimLeaseMs         int           `koanf:"claim_lease_ms" mapstructure:"claim_lease_ms" env:"WEBHOOK_CLAIM_LEASE_MS"`
	Inbound              InboundConfig `koanf:"inbound" mapstructure:"inbound"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:          "webhooks",
		MaxRetries:           5,
		RetryBackoffBaseMs:   5000,
		WorkerTickIntervalMs: 5000,
		BatchSize:            10,
		SendTimeoutMs:        30000,
		Inbound: InboundConfig{
			Verifier:        VerifierHeaderHMAC,
			SignatureHeader: DefaultSignatureHeader,
			BodySecretField: DefaultBodySecretField,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.OutgoingSecret) == "" {
		return ConfigurationError("core: outgoing_secret is required", map[string]any{"field": "outgoing_secret"})
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("core: max_retries must be at least 1")
	}
	if c.RetryBackoffBaseMs <= 0 {
		return fmt.Errorf("core: retry_backoff_base_ms must be positive")
	}
	if c.RetryBackoffMaxMs < 0 {
		return fmt.Errorf("core: retry_backoff_max_ms must not be negative")
	}
	if c.RetryBackoffMaxMs > 0 && c.RetryBackoffMaxMs < c.RetryBackoffBaseMs {
		return fmt.Errorf("core: retry_backoff_max_ms must be zero or at least retry_backoff_base_ms")
	}
	if c.WorkerTickIntervalMs <= 0 {
		return fmt.Errorf("core: worker_tick_interval_ms must be positive")
	}
	if c.BatchSize < 1 || c.BatchSize > maxBatchSize {
		return fmt.Errorf("core: batch_size must be between 1 and %d", maxBatchSize)
	}
	if c.SendTimeoutMs <= 0 {
		return fmt.Errorf("core: send_timeout_ms must be positive")
	}
	if c.ClaimLeaseMs < 0 {
		return fmt.Errorf("core: claim_lease_ms must not be negative")
	}
	if target := strings.TrimSpace(c.DefaultTargetURL); target != "" {
		if _, ok := normalizeTargetURL(target); !ok {
			return fmt.Errorf("core: default_target_url %q is invalid", target)
		}
	}
	switch strings.TrimSpace(c.Inbound.Verifier) {
	case "", VerifierHeaderHMAC, VerifierBodySecret:
	default:
		return fmt.Errorf("core: inbound verifier %q is invalid", c.Inbound.Verifier)
	}
	return nil
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseMs) * time.Millisecond
}

func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.RetryBackoffMaxMs) * time.Millisecond
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.WorkerTickIntervalMs) * time.Millisecond
}

func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// ClaimLease defaults to long enough for a whole batch of timed out sends.
func (c Config) ClaimLease() time.Duration {
	if c.ClaimLeaseMs > 0 {
		return time.Duration(c.ClaimLeaseMs) * time.Millisecond
	}
	batch := c.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return c.SendTimeout()*time.Duration(batch) + 30*time.Second
}

func (c Config) WorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:    c.BatchSize,
		MaxRetries:   c.MaxRetries,
		TickInterval: c.TickInterval(),
		SendTimeout:  c.SendTimeout(),
		ClaimLease:   c.ClaimLease(),
	}
}

func (c InboundConfig) VerifierMode() string {
	mode := strings.TrimSpace(c.Verifier)
	if mode == "" {
		return VerifierHeaderHMAC
	}
	return mode
}

func (c InboundConfig) Header() string {
	if header := strings.TrimSpace(c.SignatureHeader); header != "" {
		return header
	}
	return DefaultSignatureHeader
}

func (c InboundConfig) SecretField() string {
	if field := strings.TrimSpace(c.BodySecretField); field != "" {
		return field
	}
	return DefaultBodySecretField
}
