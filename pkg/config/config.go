// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Engine, Lemmatizer, Pipeline, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	Lemmatizer LemmatizerConfig `yaml:"lemmatizer"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Search     SearchConfig     `yaml:"search"`
	Corpora    CorporaConfig    `yaml:"corpora"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// EngineConfig holds the document search engine connection parameters.
type EngineConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	BulkTimeout    time.Duration `yaml:"bulkTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	DocumentShards int           `yaml:"documentShards"`
	PositionShards int           `yaml:"positionShards"`
	Replicas       int           `yaml:"replicas"`
}

// LemmatizerConfig holds the lemgram autocomplete service parameters.
type LemmatizerConfig struct {
	URL      string        `yaml:"url"`
	Resource string        `yaml:"resource"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the run-history
// store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for operator events.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PipelineRuns  string `yaml:"pipelineRuns"`
	BulkFailures  string `yaml:"bulkFailures"`
	ParseFailures string `yaml:"parseFailures"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PipelineConfig controls ingestion concurrency and batch sizing.
type PipelineConfig struct {
	ParseWorkers  int   `yaml:"parseWorkers"`
	UploadWorkers int   `yaml:"uploadWorkers"`
	QueueSize     int   `yaml:"queueSize"`
	BatchSizeKB   int64 `yaml:"batchSizeKB"`
	MaxBatchOps   int   `yaml:"maxBatchOps"`
}

// SearchConfig controls query-side limits.
type SearchConfig struct {
	ContextSize   int `yaml:"contextSize"`
	PreviewSize   int `yaml:"previewSize"`
	MaxPageDepth  int `yaml:"maxPageDepth"`
	MaxWindowSize int `yaml:"maxWindowSize"`
	DefaultLimit  int `yaml:"defaultLimit"`
}

// CorporaConfig points at the corpus configuration and source text
// directories.
type CorporaConfig struct {
	ConfigDir string `yaml:"configDir"`
	TextsDir  string `yaml:"textsDir"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment
// variable overrides. It returns a Config populated with sensible defaults
// for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			URL:            "http://localhost:9200",
			Timeout:        120 * time.Second,
			BulkTimeout:    500 * time.Second,
			MaxRetries:     3,
			DocumentShards: 1,
			PositionShards: 4,
			Replicas:       0,
		},
		Lemmatizer: LemmatizerConfig{
			URL:      "https://ws.spraakbanken.gu.se/ws/karp/v4/autocomplete",
			Resource: "saldom",
			Timeout:  10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "strandr",
			User:            "strandr",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				PipelineRuns:  "pipeline-runs",
				BulkFailures:  "bulk-failures",
				ParseFailures: "parse-failures",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Pipeline: PipelineConfig{
			ParseWorkers:  0, // 0 means min(NumCPU, 16)
			UploadWorkers: 4,
			QueueSize:     30,
			BatchSizeKB:   10000,
			MaxBatchOps:   5000,
		},
		Search: SearchConfig{
			ContextSize:   5,
			PreviewSize:   50,
			MaxPageDepth:  10000,
			MaxWindowSize: 100,
			DefaultLimit:  10,
		},
		Corpora: CorporaConfig{
			ConfigDir: "resources/config",
			TextsDir:  "resources/texts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SR_ENGINE_URL"); v != "" {
		cfg.Engine.URL = v
	}
	if v := os.Getenv("SR_LEMMATIZER_URL"); v != "" {
		cfg.Lemmatizer.URL = v
	}
	if v := os.Getenv("SR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("SR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SR_CORPORA_CONFIG_DIR"); v != "" {
		cfg.Corpora.ConfigDir = v
	}
	if v := os.Getenv("SR_CORPORA_TEXTS_DIR"); v != "" {
		cfg.Corpora.TextsDir = v
	}
	if v := os.Getenv("SR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
