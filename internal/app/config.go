package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Webhook      WebhookConfig
	Provider     ProviderConfig
	Sweep        SweepConfig
	Redis        RedisConfig
	Notify       NotifyConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// WebhookConfig controls payment webhook intake.
type WebhookConfig struct {
	Secret        string        `usage:"Shared secret the provider signs webhook bodies with" flag:"webhook-secret"`
	ApplyTimeout  time.Duration `default:"30s" usage:"Deadline for applying one acknowledged event"`
	Concurrency   int64         `default:"16" usage:"Events applied at once"`
	EffectTimeout time.Duration `default:"10s" usage:"Deadline for post-commit provider calls"`
}

// ProviderConfig holds payment provider API credentials.
type ProviderConfig struct {
	BaseURL   string        `usage:"Provider API base URL; empty disables linked account creation"`
	KeyID     string        `usage:"Provider API key id"`
	KeySecret string        `usage:"Provider API key secret"`
	Timeout   time.Duration `default:"10s" usage:"Provider HTTP client timeout"`
}

// SweepConfig controls the abandoned order sweep.
type SweepConfig struct {
	Enabled       bool          `default:"true" usage:"Run the abandoned order sweep"`
	Interval      time.Duration `default:"1m" usage:"Time between sweeps"`
	PaymentWindow time.Duration `default:"30m" usage:"How long an order may await payment"`
	BatchSize     int           `default:"100" usage:"Orders cancelled per transaction"`
	LeaseTTL      time.Duration `default:"2m" usage:"Sweep lease expiry"`
}

// RedisConfig locates the Redis holding the sweep lease. Empty Addr falls back
// to a process-local lease.
type RedisConfig struct {
	Addr     string `usage:"Redis address (host:port)"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// NotifyConfig selects where status changes are published.
type NotifyConfig struct {
	Driver   string   `default:"log" usage:"Notification driver: log, kafka or amqp"`
	Brokers  []string `usage:"Kafka brokers"`
	Topic    string   `default:"order-status" usage:"Kafka topic"`
	AMQPURL  string   `usage:"AMQP broker URL" flag:"amqp-url"`
	Exchange string   `default:"orders" usage:"AMQP topic exchange"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"20" usage:"Sustained requests per second per client"`
	Burst int     `default:"40" usage:"Burst size per client"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}
	if c.Webhook.Secret == "" {
		return errors.New("webhook secret is required: set STOREFRONT_WEBHOOK_SECRET")
	}
	switch c.Notify.Driver {
	case "log":
	case "kafka":
		if len(c.Notify.Brokers) == 0 {
			return errors.New("kafka notify driver requires brokers")
		}
	case "amqp":
		if c.Notify.AMQPURL == "" {
			return errors.New("amqp notify driver requires a broker URL")
		}
	default:
		return errors.Errorf("unknown notify driver %q", c.Notify.Driver)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
