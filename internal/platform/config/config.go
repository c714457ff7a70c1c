// Package config loads service configuration: compiled-in defaults, then an
// optional YAML file named by TRUSTMINT_CONFIG, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   Server         `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects Postgres. An empty DSN keeps every store in memory.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// RedisConfig configures the applicant cache backend. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ApplicantTTL time.Duration `yaml:"applicant_ttl"`
}

// KafkaConfig configures the audit sink. No brokers keeps audit in memory.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	AuditTopic  string   `yaml:"audit_topic"`
	Partitions  int32    `yaml:"partitions"`
	Replication int16    `yaml:"replication"`
	QueueSize   int      `yaml:"queue_size"`
}

// ProviderConfig configures the KYC provider client.
type ProviderConfig struct {
	BaseURL          string        `yaml:"base_url"`
	APIToken         string        `yaml:"api_token"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	Timeout          time.Duration `yaml:"timeout"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	Burst            int           `yaml:"burst"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// StorageConfig bounds document downloads from object storage.
type StorageConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxBytes     int64         `yaml:"max_bytes"`
}

// LedgerConfig configures the XRPL gateway.
type LedgerConfig struct {
	Network           string        `yaml:"network"`
	URL               string        `yaml:"url"`
	ValidationTimeout time.Duration `yaml:"validation_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	FeeCushion        float64       `yaml:"fee_cushion"`
	MaxFeeDrops       uint64        `yaml:"max_fee_drops"`
	LastLedgerOffset  uint32        `yaml:"last_ledger_offset"`
}

// LoggingConfig selects log level and handler format (json or text).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			ApplicantTTL: 30 * 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			AuditTopic:  "trustmint.audit",
			Partitions:  3,
			Replication: 1,
			QueueSize:   1024,
		},
		Provider: ProviderConfig{
			BaseURL:          "https://api.eu.onfido.com/v3.6",
			Timeout:          15 * time.Second,
			RatePerSecond:    5,
			Burst:            10,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Storage: StorageConfig{
			FetchTimeout: 20 * time.Second,
			MaxBytes:     20 << 20,
		},
		Ledger: LedgerConfig{
			Network:           "testnet",
			ValidationTimeout: 60 * time.Second,
			PollInterval:      time.Second,
			FeeCushion:        1.2,
			MaxFeeDrops:       2_000_000,
			LastLedgerOffset:  20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the TRUSTMINT_CONFIG file and
// the environment, in that order.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("TRUSTMINT_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.mergeYAML(raw)
}

// mergeYAML decodes on top of the current values so keys absent from the
// document keep their defaults.
func (c *Config) mergeYAML(raw []byte) error {
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("TRUSTMINT_ADDR", &c.Server.Addr)
	e.duration("TRUSTMINT_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	e.str("DATABASE_URL", &c.Database.DSN)
	e.integer("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	e.boolean("DATABASE_MIGRATE", &c.Database.MigrateOnStart)

	e.str("REDIS_URL", &c.Redis.URL)
	e.integer("REDIS_POOL_SIZE", &c.Redis.PoolSize)
	e.duration("REDIS_APPLICANT_TTL", &c.Redis.ApplicantTTL)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	e.str("KAFKA_AUDIT_TOPIC", &c.Kafka.AuditTopic)

	e.str("PROVIDER_BASE_URL", &c.Provider.BaseURL)
	e.str("PROVIDER_API_TOKEN", &c.Provider.APIToken)
	e.str("PROVIDER_WEBHOOK_SECRET", &c.Provider.WebhookSecret)
	e.duration("PROVIDER_TIMEOUT", &c.Provider.Timeout)
	e.float("PROVIDER_RATE_PER_SECOND", &c.Provider.RatePerSecond)

	e.duration("STORAGE_FETCH_TIMEOUT", &c.Storage.FetchTimeout)

	e.str("LEDGER_NETWORK", &c.Ledger.Network)
	e.str("LEDGER_URL", &c.Ledger.URL)
	e.duration("LEDGER_VALIDATION_TIMEOUT", &c.Ledger.ValidationTimeout)
	e.float("LEDGER_FEE_CUSHION", &c.Ledger.FeeCushion)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_FORMAT", &c.Logging.Format)

	return e.err
}

// envReader records the first parse failure and ignores later keys.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	e.err = fmt.Errorf("env %s: %w", key, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
