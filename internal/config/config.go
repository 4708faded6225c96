// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.intelforge/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model and dimensionality
//   - Storage: PostgreSQL connection for the pgvector index
//   - Pipeline: chunking, embedding batch size, ingestion concurrency
//   - Retrieval: top-k, dedupe delta, context budget
//   - Sources: which connectors are enabled and where they read from
//   - Serve: HTTP API address and rate limits
//   - Tracing: optional OTLP trace export
//
// Validation runs at load time (fail-fast): a missing credential or an
// inconsistent dimensionality is reported at startup, never deep inside
// the pipeline.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Sentinel errors for Go-idiomatic checking with errors.Is().
var (
	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidEmbedderDimension indicates the embedder dimensionality is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidChunking indicates chunk size or overlap is inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidBatchSize indicates the embedding batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid embed batch size")

	// ErrInvalidConcurrency indicates the ingestion concurrency limit is out of range.
	ErrInvalidConcurrency = errors.New("invalid ingest concurrency")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates an unknown PostgreSQL SSL mode.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions natively; the pipeline
	// truncates to EmbedderDimension (Matryoshka Representation Learning),
	// matching the vector(768) schema in db/migrations.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDimension is the index dimensionality the schema is
	// created with. Changing it requires a new migration.
	DefaultEmbedderDimension = 768
)

// SourcesConfig selects which connectors an ingestion run pulls from.
// Connectors are pluggable; these toggles only cover the built-in ones.
type SourcesConfig struct {
	// Dirs are local directories ingested by the filesystem connector.
	Dirs []string `mapstructure:"dirs" json:"dirs"`

	// CRMPath points at a CRM export file (JSON or CSV). Empty disables it.
	CRMPath string `mapstructure:"crm_path" json:"crm_path"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr           string  `mapstructure:"addr" json:"addr"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
}

// TracingConfig configures optional OTLP trace export.
// Tracing is disabled when Endpoint is empty.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// Sensitive values (the Postgres password) are never logged by the
// application; API keys are read by the provider SDK directly from the
// environment and never stored here.
type Config struct {
	// AI provider and model configuration
	Provider          string `mapstructure:"provider" json:"provider"`
	ModelName         string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	OllamaHost        string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Pipeline configuration
	ChunkSize         int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap      int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	EmbedBatchSize    int     `mapstructure:"embed_batch_size" json:"embed_batch_size"`
	EmbedRateLimit    float64 `mapstructure:"embed_rate_limit" json:"embed_rate_limit"`
	IngestConcurrency int     `mapstructure:"ingest_concurrency" json:"ingest_concurrency"`

	// Retrieval configuration
	TopK          int     `mapstructure:"top_k" json:"top_k"`
	DedupeDelta   float64 `mapstructure:"dedupe_delta" json:"dedupe_delta"`
	ContextBudget int     `mapstructure:"context_budget" json:"context_budget"`

	// Connector configuration
	Sources SourcesConfig `mapstructure:"sources" json:"sources"`

	// HTTP API configuration (serve mode only)
	Serve ServeConfig `mapstructure:"serve" json:"serve"`

	// Observability configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".intelforge")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail fast: a bad credential or dimension must never surface
	// mid-ingestion.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "intelforge")
	viper.SetDefault("postgres_password", "intelforge_dev_password")
	viper.SetDefault("postgres_db_name", "intelforge")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Pipeline defaults
	viper.SetDefault("chunk_size", 1000)
	viper.SetDefault("chunk_overlap", 200)
	viper.SetDefault("embed_batch_size", 10)
	viper.SetDefault("embed_rate_limit", 5.0)
	viper.SetDefault("ingest_concurrency", 4)

	// Retrieval defaults
	viper.SetDefault("top_k", 5)
	viper.SetDefault("dedupe_delta", 0.05)
	viper.SetDefault("context_budget", 4000)

	// Serve defaults
	viper.SetDefault("serve.addr", ":8090")
	viper.SetDefault("serve.rate_limit_rps", 5.0)
	viper.SetDefault("serve.rate_limit_burst", 10)

	// Tracing defaults (endpoint empty = disabled)
	viper.SetDefault("tracing.service_name", "intelforge")
	viper.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds environment variables explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by the Genkit googlegenai plugin,
// not via Viper. Validation checks its presence based on the selected
// provider in cfg.Validate().
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "INTELFORGE_PROVIDER")
	mustBind("model_name", "INTELFORGE_MODEL_NAME")
	mustBind("embedder_model", "INTELFORGE_EMBEDDER_MODEL")
	mustBind("ollama_host", "INTELFORGE_OLLAMA_HOST")
	mustBind("sources.crm_path", "INTELFORGE_CRM_PATH")
	mustBind("serve.addr", "INTELFORGE_SERVE_ADDR")
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}
