// Package config loads the composition root's configuration from a YAML
// file with environment-variable overrides, mirroring the teacher's
// load-then-override-then-validate shape.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ServerConfig configures the operational HTTP surface (/healthz, /metrics).
type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// TenancyConfig enumerates tenants under legal hold and their billing tier.
type TenancyConfig struct {
	LegalHold   []string          `yaml:"legal_hold"`
	TenantTiers map[string]string `yaml:"tenant_tiers"`
}

// AuditConfig tunes the hash-chain writer, verification scheduler, and
// retention lifecycle (spec §4.1-§4.3).
type AuditConfig struct {
	WarmRetentionMonths int    `yaml:"warm_retention_months" validate:"gte=0"`
	BufferMonths        int    `yaml:"buffer_months" validate:"gte=0"`
	ColdBucket          string `yaml:"cold_bucket" validate:"required"`
	EvidenceBucket      string `yaml:"evidence_bucket"`
	KMSKeyID            string `yaml:"kms_key_id"`
}

// ModelConfig is the per-tier provider/model/pricing record backing
// llm.ModelConfig — kept here so deployments can override pricing and
// model IDs without a code change.
type ModelConfig struct {
	Provider               string  `yaml:"provider"`
	ModelID                string  `yaml:"model_id"`
	MaxContextTokens       int     `yaml:"max_context_tokens"`
	CostPerMTokInput       float64 `yaml:"cost_per_mtok_input"`
	CostPerMTokOutput      float64 `yaml:"cost_per_mtok_output"`
	SupportsToolUse        bool    `yaml:"supports_tool_use"`
	SupportsExtendedThink  bool    `yaml:"supports_extended_thinking"`
	SupportsPromptCaching  bool    `yaml:"supports_prompt_caching"`
	BatchEligible          bool    `yaml:"batch_eligible"`
}

// LLMConfig configures the router and provider credentials.
type LLMConfig struct {
	AnthropicAPIKey string                 `yaml:"anthropic_api_key"`
	BedrockRegion   string                 `yaml:"bedrock_region"`
	Tiers           map[string]ModelConfig `yaml:"tiers"`
	Timeout         time.Duration          `yaml:"timeout"`
}

// BreakerConfig configures a single provider's circuit breaker.
type BreakerConfig struct {
	FailureThreshold       int           `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds time.Duration `yaml:"recovery_timeout_seconds"`
}

// ConcurrencyConfig configures priority slot pools and tenant quotas.
type ConcurrencyConfig struct {
	PriorityLimits map[string]PriorityLimit `yaml:"priority_limits"`
	TenantQuotas   map[string]int           `yaml:"tenant_quotas"`
}

type PriorityLimit struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxRPM        int `yaml:"max_rpm"`
}

// AutonomyConfig configures the FP evaluation, drift, and canary thresholds.
type AutonomyConfig struct {
	PrecisionTarget   float64 `yaml:"precision_target" validate:"gte=0,lte=1"`
	RecallTarget      float64 `yaml:"recall_target" validate:"gte=0,lte=1"`
	FNRCeiling        float64 `yaml:"fnr_ceiling" validate:"gte=0,lte=1"`
	DriftThreshold    float64 `yaml:"drift_threshold" validate:"gte=0,lte=1"`
	NormalThreshold   float64 `yaml:"normal_threshold" validate:"gte=0,lte=1"`
	ElevatedThreshold float64 `yaml:"elevated_threshold" validate:"gte=0,lte=1"`
	MinPerStratum     int     `yaml:"min_per_stratum" validate:"gte=0"`
	PromotionDays     int     `yaml:"promotion_days" validate:"gte=0"`
	MinPrecision      float64 `yaml:"min_precision" validate:"gte=0,lte=1"`
	RollbackPrecision float64 `yaml:"rollback_precision" validate:"gte=0,lte=1"`
}

// StorageConfig configures all backing stores.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn" validate:"required"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	Neo4jURI      string `yaml:"neo4j_uri"`
	Neo4jUser     string `yaml:"neo4j_user"`
	Neo4jPassword string `yaml:"neo4j_password"`
	VectorIndex   string `yaml:"vector_index"`
	S3Endpoint    string `yaml:"s3_endpoint"`
}

// QueueConfig describes the topic-partition table (spec §6).
type QueueConfig struct {
	Topics map[string]TopicConfig `yaml:"topics"`
}

type TopicConfig struct {
	Partitions      int           `yaml:"partitions"`
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// EmbeddingConfig drives the flag-gated re-embedding backfill
// (pkg/migration), run on demand rather than as a startup step.
type EmbeddingConfig struct {
	OldModel   string `yaml:"old_model"`
	NewModel   string `yaml:"new_model"`
	Collection string `yaml:"collection"`
}

// LoggingConfig configures the zap logger. cmd/socd applies Level at
// startup and on reload; Format is not applied there.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration object, composed at the composition
// root and passed down to every component by dependency injection.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Tenancy    TenancyConfig     `yaml:"tenancy"`
	Audit      AuditConfig       `yaml:"audit"`
	LLM        LLMConfig         `yaml:"llm"`
	Breakers   map[string]BreakerConfig `yaml:"breakers"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Autonomy   AutonomyConfig    `yaml:"autonomy"`
	Storage    StorageConfig     `yaml:"storage"`
	Queue      QueueConfig       `yaml:"queue"`
	Logging    LoggingConfig     `yaml:"logging"`
	Embedding  EmbeddingConfig   `yaml:"embedding"`
}

// Load reads the YAML file at path, applies environment overrides, fills
// defaults, validates, and returns the composed Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate runs struct-tag validation (go-playground/validator) followed
// by the cross-field checks tags can't express.
func (cfg *Config) Validate() error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return validate(cfg)
}

// Watch starts an fsnotify watch on path's directory (editors replace
// rather than truncate-in-place, so watching the directory catches the
// rename-into-place pattern) and calls onReload with the freshly loaded
// Config whenever path changes and still validates. It runs until ctx is
// cancelled.
func Watch(ctx context.Context, path string, logger *zap.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous config", zap.Error(err))
					continue
				}
				logger.Info("config reloaded", zap.String("path", path))
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Audit.WarmRetentionMonths == 0 {
		cfg.Audit.WarmRetentionMonths = 12
	}
	if cfg.Audit.BufferMonths == 0 {
		cfg.Audit.BufferMonths = 1
	}
	if cfg.Autonomy.PrecisionTarget == 0 {
		cfg.Autonomy.PrecisionTarget = 0.98
	}
	if cfg.Autonomy.RecallTarget == 0 {
		cfg.Autonomy.RecallTarget = 0.95
	}
	if cfg.Autonomy.FNRCeiling == 0 {
		cfg.Autonomy.FNRCeiling = 0.005
	}
	if cfg.Autonomy.DriftThreshold == 0 {
		cfg.Autonomy.DriftThreshold = 0.30
	}
	if cfg.Autonomy.NormalThreshold == 0 {
		cfg.Autonomy.NormalThreshold = 0.90
	}
	if cfg.Autonomy.ElevatedThreshold == 0 {
		cfg.Autonomy.ElevatedThreshold = 0.95
	}
	if cfg.Autonomy.MinPerStratum == 0 {
		cfg.Autonomy.MinPerStratum = 30
	}
	if cfg.Autonomy.PromotionDays == 0 {
		cfg.Autonomy.PromotionDays = 7
	}
	if cfg.Autonomy.MinPrecision == 0 {
		cfg.Autonomy.MinPrecision = 0.98
	}
	if cfg.Autonomy.RollbackPrecision == 0 {
		cfg.Autonomy.RollbackPrecision = 0.95
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Server.HTTPPort == "" {
		cfg.Server.HTTPPort = "8080"
	}
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = "9090"
	}
}

// loadFromEnv overrides cfg fields from environment variables. Only the
// deployment knobs below and the drift threshold are overridable this way;
// every other field comes from the YAML file, which Watch reloads on change.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Storage.Neo4jURI = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("AUDIT_DRIFT_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid AUDIT_DRIFT_THRESHOLD: %w", err)
		}
		cfg.Autonomy.DriftThreshold = f
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required")
	}
	if cfg.Audit.ColdBucket == "" {
		return fmt.Errorf("audit.cold_bucket is required")
	}
	if cfg.Autonomy.DriftThreshold < 0 || cfg.Autonomy.DriftThreshold > 1 {
		return fmt.Errorf("autonomy.drift_threshold must be in [0,1], got %f", cfg.Autonomy.DriftThreshold)
	}
	return nil
}
