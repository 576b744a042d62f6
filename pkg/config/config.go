package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size" default:"20"`
		Timeout  time.Duration `yaml:"timeout" default:"3s"`
		Prefix   string        `yaml:"prefix" default:"lendpulse"`
	} `yaml:"redis"`
	Cache    CacheConfig     `yaml:"cache"`
	Networks []NetworkConfig `yaml:"networks" validate:"required,min=1,dive"`
	Queues   struct {
		Health      QueueConfig `yaml:"health"`
		Market      QueueConfig `yaml:"market"`
		Maintenance QueueConfig `yaml:"maintenance"`
	} `yaml:"queues"`
	Schedules struct {
		MarketData    time.Duration `yaml:"market_data" default:"5m"`
		Health        time.Duration `yaml:"health" default:"10m"`
		CacheCleanup  time.Duration `yaml:"cache_cleanup" default:"1h"`
		FanOutStagger time.Duration `yaml:"fan_out_stagger" default:"1s"`
	} `yaml:"schedules"`
	RateLimit struct {
		Backend string               `yaml:"backend" default:"redis" validate:"oneof=redis memory"`
		Rules   map[string]LimitRule `yaml:"rules" validate:"dive"`
	} `yaml:"rate_limit"`
	Registry struct {
		Retention time.Duration `yaml:"retention" default:"168h"`
		MaxPerRun int           `yaml:"max_per_run" default:"500"`
	} `yaml:"registry"`
	Sinks struct {
		Kafka struct {
			Enabled     bool     `yaml:"enabled"`
			Brokers     []string `yaml:"brokers"`
			JobTopic    string   `yaml:"job_topic" default:"lendpulse.jobs"`
			HealthTopic string   `yaml:"health_topic" default:"lendpulse.health"`
			Compression string   `yaml:"compression" default:"snappy"`
		} `yaml:"kafka"`
		ClickHouse struct {
			Enabled  bool          `yaml:"enabled"`
			Host     string        `yaml:"host" default:"localhost"`
			Port     int           `yaml:"port" default:"9000"`
			Database string        `yaml:"database" default:"lendpulse"`
			User     string        `yaml:"user" default:"default"`
			Password string        `yaml:"password"`
			Timeout  time.Duration `yaml:"timeout" default:"5s"`
		} `yaml:"clickhouse"`
	} `yaml:"sinks"`
}

type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries" default:"10000" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"5m"`
	Persist         bool          `yaml:"persist"`
	TTL             struct {
		Account  time.Duration `yaml:"account" default:"2m"`
		Health   time.Duration `yaml:"health" default:"5m"`
		Market   time.Duration `yaml:"market" default:"10m"`
		Position time.Duration `yaml:"position" default:"5m"`
	} `yaml:"ttl"`
}

type NetworkConfig struct {
	ID                     uint64        `yaml:"id" validate:"required"`
	Name                   string        `yaml:"name" validate:"required"`
	Strategy               string        `yaml:"strategy" default:"sequential" validate:"oneof=sequential round-robin"`
	Endpoints              []string      `yaml:"endpoints" validate:"required,min=1,dive,url"`
	Timeout                time.Duration `yaml:"timeout" default:"8s"`
	MaxAttemptsPerEndpoint int           `yaml:"max_attempts_per_endpoint" default:"1" validate:"gte=1"`
	RPS                    float64       `yaml:"rps" default:"10"`
	Burst                  int           `yaml:"burst" default:"5"`
	Contracts              struct {
		PoolAddressesProvider string `yaml:"pool_addresses_provider" validate:"required,eth_addr"`
		DataProvider          string `yaml:"data_provider" validate:"required,eth_addr"`
	} `yaml:"contracts"`
	Watchlist []string `yaml:"watchlist" validate:"dive,eth_addr"`
}

type QueueConfig struct {
	Concurrency   int           `yaml:"concurrency" default:"1" validate:"gte=1"`
	MaxAttempts   int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
	Backoff       string        `yaml:"backoff" default:"exponential" validate:"oneof=fixed exponential"`
	BackoffDelay  time.Duration `yaml:"backoff_delay" default:"2s"`
	KeepCompleted int           `yaml:"keep_completed" default:"100"`
	KeepFailed    int           `yaml:"keep_failed" default:"500"`
	Lease         time.Duration `yaml:"lease" default:"2m"`
	PollInterval  time.Duration `yaml:"poll_interval" default:"500ms"`
}

type LimitRule struct {
	Limit  int           `yaml:"limit" validate:"gt=0"`
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	// Booleans that default to true are seeded before decoding so an explicit
	// false in YAML survives defaults.Set.
	c.Metrics.Enabled = true
	c.Redis.Enabled = true
	c.Cache.Persist = true
	// Per-queue concurrency differs; chain reads are rate-sensitive.
	c.Queues.Health.Concurrency = 2
	c.Queues.Market.Concurrency = 1
	c.Queues.Maintenance.Concurrency = 1
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	for i := range c.Networks {
		if err := defaults.Set(&c.Networks[i]); err != nil {
			return err
		}
	}
	if c.RateLimit.Rules == nil {
		c.RateLimit.Rules = map[string]LimitRule{}
	}
	if _, ok := c.RateLimit.Rules["default"]; !ok {
		c.RateLimit.Rules["default"] = LimitRule{Limit: 60, Window: time.Minute}
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Sinks.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.Sinks.ClickHouse.Host = v
	}
	for i := range c.Networks {
		n := &c.Networks[i]
		v := getenv("RPC_" + strconv.FormatUint(n.ID, 10))
		if v == "" {
			continue
		}
		extra := strings.Split(v, ",")
		n.Endpoints = append(extra, n.Endpoints...)
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[uint64]struct{}, len(c.Networks))
	for _, n := range c.Networks {
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("network %d configured twice", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	if c.Sinks.Kafka.Enabled && len(c.Sinks.Kafka.Brokers) == 0 {
		return fmt.Errorf("sinks.kafka.brokers required when kafka sink is enabled")
	}
	if c.RateLimit.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("rate_limit.backend=redis requires redis.enabled")
	}
	return nil
}

// Network returns the configuration for a network id.
func (c *Config) Network(id uint64) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.ID == id {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// Rule returns the limit rule for an action, falling back to "default".
func (c *Config) Rule(action string) LimitRule {
	if r, ok := c.RateLimit.Rules[action]; ok {
		return r
	}
	return c.RateLimit.Rules["default"]
}
