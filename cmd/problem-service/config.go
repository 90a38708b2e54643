package main

import (
	"fmt"
	"os"
	"time"

	"ojtrust/internal/common/cache"
	"ojtrust/internal/common/db"
	"ojtrust/internal/common/http/middleware"
	"ojtrust/internal/common/mq"
	"ojtrust/internal/problem/model"
	"ojtrust/internal/problem/moderation"
	pkgerrors "ojtrust/pkg/errors"
	"ojtrust/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8083"
	defaultGRPCAddr        = "0.0.0.0:9093"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultJWTIssuer       = "ojtrust"
	defaultContestCacheTTL = 5 * time.Minute
	defaultContestEmptyTTL = 30 * time.Second
	defaultRateLimitWindow = time.Minute
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// TrustedProxies may set X-Forwarded-For; the contest IP policy reads the
	// client address through them.
	TrustedProxies []string `yaml:"trustedProxies"`

	CORS middleware.CORSConfig `yaml:"cors"`
}

// GRPCConfig holds gRPC server settings.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// JWTConfig holds access token verification settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// MessagingConfig holds Kafka wiring for lifecycle events and judged submissions.
type MessagingConfig struct {
	Enabled         *bool          `yaml:"enabled"`
	Kafka           mq.KafkaConfig `yaml:"kafka"`
	LifecycleTopic  string         `yaml:"lifecycleTopic"`
	SubmissionTopic string         `yaml:"submissionTopic"`
	ConsumerGroup   string         `yaml:"consumerGroup"`
	Concurrency     int            `yaml:"concurrency"`
	MaxRetries      int            `yaml:"maxRetries"`
	RetryDelay      time.Duration  `yaml:"retryDelay"`
	DeadLetterTopic string         `yaml:"deadLetterTopic"`
}

// IsEnabled reports whether Kafka should be connected.
func (c MessagingConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

func (c MessagingConfig) toSubscribeOptions() mq.SubscribeOptions {
	return mq.SubscribeOptions{
		ConsumerGroup:   c.ConsumerGroup,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		DeadLetterTopic: c.DeadLetterTopic,
	}
}

// DifficultyRateConfig is one row of the ordered difficulty table.
type DifficultyRateConfig struct {
	Label     string   `yaml:"label"`
	Threshold *float64 `yaml:"threshold"`
}

// ModerationConfig mirrors moderation.Config. Every field must be present in
// the file; there are no defaults.
type ModerationConfig struct {
	MaxVotesBeforeTrigger     *int64                 `yaml:"maxVotesBeforeTrigger"`
	InvalidToDelete           *int64                 `yaml:"voteScoreInvalidToDelete"`
	InvalidToValid            *int64                 `yaml:"voteScoreInvalidToValid"`
	ValidToDelete             *int64                 `yaml:"voteScoreValidToDelete"`
	RankZScore                *float64               `yaml:"voteRankZScore"`
	DifficultyBaseSubmissions *int64                 `yaml:"difficultyBaseSubmissions"`
	DifficultyRates           []DifficultyRateConfig `yaml:"difficultyRates"`
	InvalidProblemsQuota      *int64                 `yaml:"invalidProblemsQuota"`
}

// ContestCacheConfig holds contest cache lifetimes.
type ContestCacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	EmptyTTL time.Duration `yaml:"emptyTTL"`
}

// RateLimitConfig throttles writes per caller. Zero maxima disable a limit.
type RateLimitConfig struct {
	Window       time.Duration `yaml:"window"`
	VoteMax      int           `yaml:"voteMax"`
	CreateMax    int           `yaml:"createMax"`
	RedisTimeout time.Duration `yaml:"redisTimeout"`
}

// AppConfig holds the service configuration.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	GRPC   GRPCConfig    `yaml:"grpc"`
	Logger logger.Config `yaml:"logger"`
	JWT    JWTConfig     `yaml:"jwt"`

	Database     db.MySQLConfig     `yaml:"database"`
	Redis        cache.RedisConfig  `yaml:"redis"`
	Messaging    MessagingConfig    `yaml:"messaging"`
	ContestCache ContestCacheConfig `yaml:"contestCache"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit"`
	Moderation   ModerationConfig   `yaml:"moderation"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize fills infrastructure defaults and rejects missing required settings.
func (cfg *AppConfig) finalize() error {
	if cfg.Database.DSN == "" {
		return pkgerrors.ValidationError("database.dsn", "is required")
	}
	if cfg.Redis.Addr == "" {
		return pkgerrors.ValidationError("redis.addr", "is required")
	}
	if cfg.JWT.Secret == "" {
		return pkgerrors.ValidationError("jwt.secret", "is required")
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = defaultJWTIssuer
	}
	applyRedisDefaults(&cfg.Redis)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = defaultGRPCAddr
	}
	if cfg.ContestCache.TTL == 0 {
		cfg.ContestCache.TTL = defaultContestCacheTTL
	}
	if cfg.ContestCache.EmptyTTL == 0 {
		cfg.ContestCache.EmptyTTL = defaultContestEmptyTTL
	}

	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = defaultRateLimitWindow
	}

	if cfg.Messaging.IsEnabled() {
		if len(cfg.Messaging.Kafka.Brokers) == 0 {
			return pkgerrors.ValidationError("messaging.kafka.brokers", "is required when messaging is enabled")
		}
		if cfg.Messaging.LifecycleTopic == "" {
			cfg.Messaging.LifecycleTopic = "problem.lifecycle"
		}
		if cfg.Messaging.SubmissionTopic == "" {
			cfg.Messaging.SubmissionTopic = "submission.judged"
		}
		if cfg.Messaging.ConsumerGroup == "" {
			cfg.Messaging.ConsumerGroup = "ojtrust-difficulty"
		}
	}

	if _, _, err := cfg.Moderation.build(); err != nil {
		return err
	}
	return nil
}

// build converts the file settings into a validated moderation.Config and the
// pending problem quota.
func (m ModerationConfig) build() (moderation.Config, int64, error) {
	required := []struct {
		field string
		set   bool
	}{
		{"moderation.maxVotesBeforeTrigger", m.MaxVotesBeforeTrigger != nil},
		{"moderation.voteScoreInvalidToDelete", m.InvalidToDelete != nil},
		{"moderation.voteScoreInvalidToValid", m.InvalidToValid != nil},
		{"moderation.voteScoreValidToDelete", m.ValidToDelete != nil},
		{"moderation.voteRankZScore", m.RankZScore != nil},
		{"moderation.difficultyBaseSubmissions", m.DifficultyBaseSubmissions != nil},
		{"moderation.invalidProblemsQuota", m.InvalidProblemsQuota != nil},
	}
	for _, r := range required {
		if !r.set {
			return moderation.Config{}, 0, pkgerrors.ValidationError(r.field, "is required")
		}
	}
	if *m.InvalidProblemsQuota < 0 {
		return moderation.Config{}, 0, pkgerrors.ValidationError("moderation.invalidProblemsQuota", "must not be negative")
	}

	rates := make([]moderation.DifficultyRate, 0, len(m.DifficultyRates))
	for i, r := range m.DifficultyRates {
		if r.Threshold == nil {
			return moderation.Config{}, 0, pkgerrors.ValidationError(fmt.Sprintf("moderation.difficultyRates[%d].threshold", i), "is required")
		}
		label, err := model.ParseDifficulty(r.Label)
		if err != nil {
			return moderation.Config{}, 0, pkgerrors.ValidationError(fmt.Sprintf("moderation.difficultyRates[%d].label", i), err.Error())
		}
		rates = append(rates, moderation.DifficultyRate{Label: label, Threshold: *r.Threshold})
	}

	cfg := moderation.Config{
		Thresholds: moderation.Thresholds{
			MaxVotesBeforeTrigger: *m.MaxVotesBeforeTrigger,
			InvalidToDelete:       *m.InvalidToDelete,
			InvalidToValid:        *m.InvalidToValid,
			ValidToDelete:         *m.ValidToDelete,
		},
		RankZScore:                *m.RankZScore,
		DifficultyBaseSubmissions: *m.DifficultyBaseSubmissions,
		DifficultyRates:           rates,
	}
	if err := cfg.Validate(); err != nil {
		return moderation.Config{}, 0, pkgerrors.Wrap(fmt.Errorf("moderation: %w", err), pkgerrors.ConfigInvalid)
	}
	return cfg, *m.InvalidProblemsQuota, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
}
