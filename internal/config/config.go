package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter"
)

// Mode selects which checker guards the HTTP server.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeMultiTier Mode = "multi_tier"
	ModeAdaptive  Mode = "adaptive"
)

// Config is the server configuration.
type Config struct {
	ListenAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int64
	StoreTimeout  time.Duration

	Strategy  string
	Mode      Mode
	LimitType string
	// AdaptiveBase is the base limit of the adaptive mode.
	AdaptiveBase int64

	TrustXFF   bool
	UserHeader string

	// MongoURI enables the Mongo audit sink when set.
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	// AuditRPS bounds audit records per second, zero disables the bound.
	AuditRPS float64
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration from the environment without validating
// it, so callers can apply overrides such as flags first.
func FromEnv() *Config {
	return &Config{
		ListenAddr:      String("LISTEN_ADDR", ":8080"),
		RedisAddr:       String("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   String("REDIS_PASSWORD", ""),
		RedisDB:         Int64("REDIS_DB", 0),
		StoreTimeout:    Duration("STORE_TIMEOUT", 250*time.Millisecond),
		Strategy:        String("RATE_LIMIT_STRATEGY", "sliding_window"),
		Mode:            Mode(String("RATE_LIMIT_MODE", string(ModeMultiTier))),
		LimitType:       String("RATE_LIMIT_TYPE", ratelimiter.LimitAPIGeneral),
		AdaptiveBase:    Int64("ADAPTIVE_BASE_LIMIT", ratelimiter.DefaultAdaptiveBaseLimit),
		TrustXFF:        Bool("TRUST_X_FORWARDED_FOR", false),
		UserHeader:      String("USER_HEADER", "X-User-ID"),
		MongoURI:        String("MONGO_URI", ""),
		MongoDatabase:   String("MONGO_DATABASE", "ratelimit"),
		MongoCollection: String("MONGO_COLLECTION", "violations"),
		AuditRPS:        Float64("AUDIT_RPS", 50),
	}
}

// Validate checks field values and their combinations.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("redis address is empty"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("redis db %d is negative", c.RedisDB))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("store timeout %s must be positive", c.StoreTimeout))
	}
	if _, err := ratelimiter.ParseType(c.Strategy); err != nil {
		errs = append(errs, err)
	}
	switch c.Mode {
	case ModeSingle, ModeMultiTier, ModeAdaptive:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.LimitType == "" {
		errs = append(errs, errors.New("limit type is empty"))
	}
	if c.AdaptiveBase <= 0 {
		errs = append(errs, fmt.Errorf("adaptive base limit %d must be positive", c.AdaptiveBase))
	}
	if c.MongoURI != "" && (c.MongoDatabase == "" || c.MongoCollection == "") {
		errs = append(errs, errors.New("mongo database and collection are required with a mongo uri"))
	}
	if c.AuditRPS < 0 {
		errs = append(errs, fmt.Errorf("audit rps %v is negative", c.AuditRPS))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ratelimiter.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Type returns the configured strategy.
func (c *Config) Type() ratelimiter.Type {
	t, _ := ratelimiter.ParseType(c.Strategy)
	return t
}
