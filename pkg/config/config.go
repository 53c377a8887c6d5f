package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	API struct {
		BaseURL    string        `yaml:"base_url"`
		Username   string        `yaml:"username"`
		Password   string        `yaml:"password"`
		Timeout    time.Duration `yaml:"timeout"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"api"`
	Realtime struct {
		Path         string        `yaml:"path"`
		PingInterval time.Duration `yaml:"ping_interval"`
		BackoffMin   time.Duration `yaml:"backoff_min"`
		BackoffMax   time.Duration `yaml:"backoff_max"`
		MaxAttempts  int           `yaml:"max_attempts"`
		MaxElapsed   time.Duration `yaml:"max_elapsed"`
		PriceSymbols []string      `yaml:"price_symbols"`
	} `yaml:"realtime"`
	Feed struct {
		Capacity      int `yaml:"capacity"`
		SnapshotLimit int `yaml:"snapshot_limit"`
	} `yaml:"feed"`
	Session struct {
		Storage string `yaml:"storage"` // memory, redis, layered
	} `yaml:"session"`
	Archive struct {
		Backend      string        `yaml:"backend"` // none, kafka, clickhouse
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"archive"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		Database    string        `yaml:"database"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	// Validate required fields
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

	// Override with environment variables
	if v := os.Getenv("API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("API_USERNAME"); v != "" {
		c.API.Username = v
	}
	if v := os.Getenv("API_PASSWORD"); v != "" {
		c.API.Password = v
	}
	if v := os.Getenv("PRICE_SYMBOLS"); v != "" {
		c.Realtime.PriceSymbols = strings.Split(v, ",")
	}
	if v := os.Getenv("ARCHIVE_BACKEND"); v != "" {
		c.Archive.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.API.Timeout <= 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.API.RetryDelay <= 0 {
		c.API.RetryDelay = 500 * time.Millisecond
	}
	if c.Realtime.Path == "" {
		c.Realtime.Path = "/ws"
	}
	if c.Realtime.PingInterval <= 0 {
		c.Realtime.PingInterval = 30 * time.Second
	}
	if c.Realtime.BackoffMin <= 0 {
		c.Realtime.BackoffMin = time.Second
	}
	if c.Realtime.BackoffMax <= 0 {
		c.Realtime.BackoffMax = 30 * time.Second
	}
	if c.Feed.Capacity <= 0 {
		c.Feed.Capacity = 20
	}
	if c.Feed.SnapshotLimit <= 0 {
		c.Feed.SnapshotLimit = c.Feed.Capacity
	}
	if c.Session.Storage == "" {
		c.Session.Storage = "memory"
	}
	if c.Archive.Backend == "" {
		c.Archive.Backend = "none"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	switch c.Session.Storage {
	case "memory", "redis", "layered":
	default:
		return fmt.Errorf("session.storage must be 'memory', 'redis' or 'layered', got '%s'", c.Session.Storage)
	}
	switch c.Archive.Backend {
	case "none", "kafka", "clickhouse":
	default:
		return fmt.Errorf("archive.backend must be 'none', 'kafka' or 'clickhouse', got '%s'", c.Archive.Backend)
	}
	if c.Archive.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when archive.backend is 'kafka'")
	}
	if c.Archive.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when archive.backend is 'clickhouse'")
	}
	if (c.Session.Storage == "redis" || c.Session.Storage == "layered") && !c.Redis.Enabled {
		return fmt.Errorf("redis must be enabled for session.storage '%s'", c.Session.Storage)
	}
	return nil
}
