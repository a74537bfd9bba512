package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/commercebridge/backend/internal/domain/integration"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Redis     RedisConfig
	HTTP      HTTPConfig
	Webhook   WebhookConfig
	Providers map[integration.ProviderCode]ProviderConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// RedisConfig holds the optional durable key-value store connection.
// An empty Host means no durable store is configured: the response cache and
// the event store then degrade to in-memory with process-lifetime scope.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Configured returns true when a durable store connection is set
func (r RedisConfig) Configured() bool {
	return r.Host != ""
}

// Addr returns the host:port address for the Redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxBodySize       int64
	RateLimitEnabled  bool          // Inbound per-IP limit on the webhook route
	RateLimitRequests int           // Max webhook posts per window per IP
	RateLimitWindow   time.Duration // Inbound rate limit window
	TrustedProxies    []string
}

// WebhookConfig holds inbound webhook ingestion configuration
type WebhookConfig struct {
	Secret            string        // Shared HMAC secret; required in production
	Retention         time.Duration // Event store retention window
	PurgeInterval     time.Duration // Background purge cadence
	DispatchQueueSize int           // Bounded dispatch queue capacity
	DispatchWorkers   int           // Concurrent subscriber workers
}

// ProviderConfig holds one provider's outbound call settings
type ProviderConfig struct {
	BaseURL          string
	APIKey           string
	APISecret        string
	RequestTimeout   time.Duration // Per-attempt timeout
	MaxAttempts      int           // Retry ceiling including the first attempt
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	CacheTTL         time.Duration // Idempotent response memoization window
	RateCapacity     int           // Token bucket burst capacity
	RateRefillPerSec float64       // Token refill rate
	AcquireMaxWait   time.Duration // Max queue time for a rate-limit token
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CBR_ prefix (e.g., CBR_WEBHOOK_SECRET)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CBR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Webhook: WebhookConfig{
			Secret:            v.GetString("webhook.secret"),
			Retention:         v.GetDuration("webhook.retention"),
			PurgeInterval:     v.GetDuration("webhook.purge_interval"),
			DispatchQueueSize: v.GetInt("webhook.dispatch_queue_size"),
			DispatchWorkers:   v.GetInt("webhook.dispatch_workers"),
		},
		Providers: map[integration.ProviderCode]ProviderConfig{
			integration.ProviderCodeShipcloud: loadProvider(v, "providers.shipcloud"),
			integration.ProviderCodeBillbee:   loadProvider(v, "providers.billbee"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadProvider reads one provider section
func loadProvider(v *viper.Viper, prefix string) ProviderConfig {
	return ProviderConfig{
		BaseURL:          v.GetString(prefix + ".base_url"),
		APIKey:           v.GetString(prefix + ".api_key"),
		APISecret:        v.GetString(prefix + ".api_secret"),
		RequestTimeout:   v.GetDuration(prefix + ".request_timeout"),
		MaxAttempts:      v.GetInt(prefix + ".max_attempts"),
		BackoffBase:      v.GetDuration(prefix + ".backoff_base"),
		BackoffMax:       v.GetDuration(prefix + ".backoff_max"),
		CacheTTL:         v.GetDuration(prefix + ".cache_ttl"),
		RateCapacity:     v.GetInt(prefix + ".rate_capacity"),
		RateRefillPerSec: v.GetFloat64(prefix + ".rate_refill_per_sec"),
		AcquireMaxWait:   v.GetDuration(prefix + ".acquire_max_wait"),
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "commercebridge"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Redis.Configured() && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB webhook body cap
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Webhook.Retention == 0 {
		cfg.Webhook.Retention = 168 * time.Hour
	}
	if cfg.Webhook.PurgeInterval == 0 {
		cfg.Webhook.PurgeInterval = 10 * time.Minute
	}
	if cfg.Webhook.DispatchQueueSize == 0 {
		cfg.Webhook.DispatchQueueSize = 1024
	}
	if cfg.Webhook.DispatchWorkers == 0 {
		cfg.Webhook.DispatchWorkers = 4
	}
	for code, p := range cfg.Providers {
		if p.RequestTimeout == 0 {
			p.RequestTimeout = 10 * time.Second
		}
		if p.MaxAttempts == 0 {
			p.MaxAttempts = 3
		}
		if p.BackoffBase == 0 {
			p.BackoffBase = 500 * time.Millisecond
		}
		if p.BackoffMax == 0 {
			p.BackoffMax = 30 * time.Second
		}
		if p.CacheTTL == 0 {
			p.CacheTTL = 30 * time.Second
		}
		if p.RateCapacity == 0 {
			p.RateCapacity = 5
		}
		if p.RateRefillPerSec == 0 {
			p.RateRefillPerSec = 5
		}
		if p.AcquireMaxWait == 0 {
			p.AcquireMaxWait = 30 * time.Second
		}
		cfg.Providers[code] = p
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "commercebridge"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	for code, p := range c.Providers {
		if p.RateRefillPerSec < 0 {
			return fmt.Errorf("providers.%s.rate_refill_per_sec cannot be negative", strings.ToLower(code.String()))
		}
		if p.MaxAttempts < 1 {
			return fmt.Errorf("providers.%s.max_attempts must be at least 1", strings.ToLower(code.String()))
		}
	}

	if c.App.Env == "production" {
		if c.Webhook.Secret == "" {
			return fmt.Errorf("webhook.secret is required in production")
		}
		if len(c.Webhook.Secret) < 32 {
			return fmt.Errorf("webhook.secret must be at least 32 characters in production")
		}
		for code, p := range c.Providers {
			if p.BaseURL == "" {
				return fmt.Errorf("providers.%s.base_url is required in production", strings.ToLower(code.String()))
			}
			if p.APIKey == "" {
				return fmt.Errorf("providers.%s.api_key is required in production", strings.ToLower(code.String()))
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}
