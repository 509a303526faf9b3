package config

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"maxOpenConns"`
	MaxIdleConns   int    `yaml:"maxIdleConns"`
	MigrationsDir  string `yaml:"migrationsDir"`
	SkipMigrations bool   `yaml:"skipMigrations"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig controls bearer authentication. Tokens are either API keys
// (dh_ prefix) or HS256 access tokens issued by the managed auth backend.
type AuthConfig struct {
	Enabled         bool   `yaml:"enabled"`
	JWTSecret       string `yaml:"jwtSecret"`
	InitialAdminKey string `yaml:"initialAdminKey"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WorkerConfig controls job polling and the periodic recovery pass.
type WorkerConfig struct {
	PollIntervalMs             int `yaml:"pollIntervalMs"`
	MaxConsecutivePollFailures int `yaml:"maxConsecutivePollFailures"`
	RecoveryIntervalMs         int `yaml:"recoveryIntervalMs"`
	RecoveryBatchSize          int `yaml:"recoveryBatchSize"`
	MaxConcurrentReconciles    int `yaml:"maxConcurrentReconciles"`
}

type ReplicateConfig struct {
	APIToken          string `yaml:"apiToken"`
	BaseURL           string `yaml:"baseURL"`
	TimeoutMs         int    `yaml:"timeoutMs"`
	VideoModelVersion string `yaml:"videoModelVersion"`
}

type SieveConfig struct {
	APIKey            string `yaml:"apiKey"`
	BaseURL           string `yaml:"baseURL"`
	TimeoutMs         int    `yaml:"timeoutMs"`
	DubbingFunction   string `yaml:"dubbingFunction"`
	SubtitlesFunction string `yaml:"subtitlesFunction"`
}

type VendorsConfig struct {
	MaxRetries int             `yaml:"maxRetries"`
	Replicate  ReplicateConfig `yaml:"replicate"`
	Sieve      SieveConfig     `yaml:"sieve"`
}

// CreditPackage is a purchasable bundle of credits mapped to a Stripe price.
// Mode is "payment" for one-time purchases or "subscription" for recurring plans.
type CreditPackage struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Credits int64  `yaml:"credits" json:"credits"`
	PriceID string `yaml:"priceId" json:"-"`
	Mode    string `yaml:"mode" json:"mode"`
}

type BillingConfig struct {
	Enabled          bool            `yaml:"enabled"`
	StripeSecretKey  string          `yaml:"stripeSecretKey"`
	WebhookSecret    string          `yaml:"webhookSecret"`
	BaseURL          string          `yaml:"baseURL"`
	SuccessURL       string          `yaml:"successURL"`
	CancelURL        string          `yaml:"cancelURL"`
	TimeoutMs        int             `yaml:"timeoutMs"`
	WebhookTolerance int             `yaml:"webhookToleranceSeconds"`
	Packages         []CreditPackage `yaml:"packages"`
}

// NotificationsConfig selects the sinks that receive job notifications in
// addition to the in-memory event buffer and the log.
type NotificationsConfig struct {
	BufferSize         int    `yaml:"bufferSize"`
	AMQPURL            string `yaml:"amqpURL"`
	AMQPExchange       string `yaml:"amqpExchange"`
	RedisChannelPrefix string `yaml:"redisChannelPrefix"`
}

type CacheConfig struct {
	CompletedTTLHours int `yaml:"completedTTLHours"`
}

// JobTTLConfig controls per-job-type retention of cancelled jobs in days.
type JobTTLConfig struct {
	DefaultDays         int `yaml:"defaultDays"`
	DubbingDays         int `yaml:"dubbingDays"`
	SubtitlesDays       int `yaml:"subtitlesDays"`
	VideoGenerationDays int `yaml:"videoGenerationDays"`
}

// RetentionConfig controls TTL-like deletion of cancelled jobs. Jobs in any
// other status are never deleted by retention.
type RetentionConfig struct {
	Enabled                bool         `yaml:"enabled"`
	CleanupIntervalMinutes int          `yaml:"cleanupIntervalMinutes"`
	CancelledJobs          JobTTLConfig `yaml:"cancelledJobs"`
}

type BootstrapAPIKeyConfig struct {
	Key     string `yaml:"key"`
	Label   string `yaml:"label"`
	UserID  string `yaml:"userId"`
	IsAdmin bool   `yaml:"isAdmin"`
}

type BootstrapCreditGrantConfig struct {
	UserID      string `yaml:"userId"`
	Credits     int64  `yaml:"credits"`
	Reference   string `yaml:"reference"`
	Description string `yaml:"description"`
}

type BootstrapConfig struct {
	APIKeys      []BootstrapAPIKeyConfig      `yaml:"apiKeys"`
	CreditGrants []BootstrapCreditGrantConfig `yaml:"creditGrants"`
}

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Log           LogConfig           `yaml:"log"`
	Worker        WorkerConfig        `yaml:"worker"`
	Vendors       VendorsConfig       `yaml:"vendors"`
	Billing       BillingConfig       `yaml:"billing"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Cache         CacheConfig         `yaml:"cache"`
	Retention     RetentionConfig     `yaml:"retention"`
	Bootstrap     BootstrapConfig     `yaml:"bootstrap"`
}

func Load(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	return cfg
}

// Parse decodes a YAML document and fills in defaults for anything left unset.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "db/migrations"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Worker.PollIntervalMs <= 0 {
		c.Worker.PollIntervalMs = 5000
	}
	if c.Worker.MaxConsecutivePollFailures <= 0 {
		c.Worker.MaxConsecutivePollFailures = 3
	}
	if c.Worker.RecoveryIntervalMs <= 0 {
		c.Worker.RecoveryIntervalMs = 30000
	}
	if c.Worker.RecoveryBatchSize <= 0 {
		c.Worker.RecoveryBatchSize = 100
	}
	if c.Worker.MaxConcurrentReconciles <= 0 {
		c.Worker.MaxConcurrentReconciles = 4
	}

	if c.Vendors.MaxRetries < 0 {
		c.Vendors.MaxRetries = 0
	}
	if c.Vendors.Replicate.BaseURL == "" {
		c.Vendors.Replicate.BaseURL = "https://api.replicate.com"
	}
	if c.Vendors.Replicate.TimeoutMs <= 0 {
		c.Vendors.Replicate.TimeoutMs = 15000
	}
	if c.Vendors.Sieve.BaseURL == "" {
		c.Vendors.Sieve.BaseURL = "https://mango.sievedata.com"
	}
	if c.Vendors.Sieve.TimeoutMs <= 0 {
		c.Vendors.Sieve.TimeoutMs = 15000
	}
	if c.Vendors.Sieve.DubbingFunction == "" {
		c.Vendors.Sieve.DubbingFunction = "sieve/dubbing"
	}
	if c.Vendors.Sieve.SubtitlesFunction == "" {
		c.Vendors.Sieve.SubtitlesFunction = "sieve/autocaption"
	}

	if c.Billing.BaseURL == "" {
		c.Billing.BaseURL = "https://api.stripe.com"
	}
	if c.Billing.TimeoutMs <= 0 {
		c.Billing.TimeoutMs = 10000
	}
	if c.Billing.WebhookTolerance <= 0 {
		c.Billing.WebhookTolerance = 300
	}
	for i := range c.Billing.Packages {
		if c.Billing.Packages[i].Mode == "" {
			c.Billing.Packages[i].Mode = "payment"
		}
	}

	if c.Notifications.BufferSize <= 0 {
		c.Notifications.BufferSize = 500
	}
	if c.Notifications.AMQPExchange == "" {
		c.Notifications.AMQPExchange = "dubhub.notifications"
	}
	if c.Cache.CompletedTTLHours <= 0 {
		c.Cache.CompletedTTLHours = 24 * 30
	}
	if c.Retention.CleanupIntervalMinutes <= 0 {
		c.Retention.CleanupIntervalMinutes = 60
	}
}

func (c *Config) validate() error {
	for _, p := range c.Billing.Packages {
		if p.ID == "" {
			return fmt.Errorf("billing package without id")
		}
		if p.Credits <= 0 {
			return fmt.Errorf("billing package %s: credits must be positive", p.ID)
		}
		if p.Mode != "payment" && p.Mode != "subscription" {
			return fmt.Errorf("billing package %s: invalid mode %q", p.ID, p.Mode)
		}
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && c.Auth.InitialAdminKey == "" && len(c.Bootstrap.APIKeys) == 0 {
		return fmt.Errorf("auth enabled but neither jwtSecret nor any api key is configured")
	}
	return nil
}

// Package returns the configured credit package with the given id.
func (b BillingConfig) Package(id string) (CreditPackage, bool) {
	for _, p := range b.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPackage{}, false
}
