// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.passage/config.yaml or ./config.yaml)
//  3. Defaults
//
// Configuration categories:
//   - Chunking: window size and overlap for document splitting
//   - Embedder: provider, model, vector dimension, batching, rate limit
//   - Index: backend selection (memory or postgres), metric, snapshot path
//   - Retrieval: top-k, fetch multiplier, per-document cap
//   - Prompt: context budget and system instruction
//   - Storage: PostgreSQL connection for the pgvector backend
//   - Server: HTTP listen address
//   - Tracing: optional OTLP export (see tracing.go)
//
// Sensitive values (the PostgreSQL password) are masked in MarshalJSON so a
// Config can be logged safely. Validation is fail-fast: Load returns an error
// before any component sees an invalid value.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Embedding provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
)

// Index backend identifiers used in Config.IndexBackend.
const (
	IndexBackendMemory   = "memory"
	IndexBackendPostgres = "postgres"
)

// Similarity metric identifiers used in Config.IndexMetric. The metric is
// fixed per index instance; build time and query time always share it.
const (
	MetricCosine = "cosine"
	MetricDot    = "dot"
)

// DefaultEmbedderModel is the default Google AI embedding model.
// text-embedding-004 outputs 768-dimension vectors, matching the vector(768)
// column created by db/migrations.
const DefaultEmbedderModel = "text-embedding-004"

// Config stores the full application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding a new
// secret field, update MarshalJSON as well.
type Config struct {
	// Chunking
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`       // window size in runes
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"` // overlap in runes, < chunk_size

	// Embedder
	Provider          string `mapstructure:"provider" json:"provider"`
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	EmbedderBatchSize int    `mapstructure:"embedder_batch_size" json:"embedder_batch_size"`
	EmbedderRPM       int    `mapstructure:"embedder_rpm" json:"embedder_rpm"`               // requests/minute, 0 = unlimited
	EmbedderCacheSize int    `mapstructure:"embedder_cache_size" json:"embedder_cache_size"` // LRU entries, 0 disables
	OllamaHost        string `mapstructure:"ollama_host" json:"ollama_host"`                 // ollama provider only

	// Generation
	ModelName string `mapstructure:"model_name" json:"model_name"`

	// Index
	IndexBackend string `mapstructure:"index_backend" json:"index_backend"`
	IndexMetric  string `mapstructure:"index_metric" json:"index_metric"`
	SnapshotPath string `mapstructure:"snapshot_path" json:"snapshot_path"` // memory backend only

	// Retrieval
	TopK            int `mapstructure:"top_k" json:"top_k"`
	FetchMultiplier int `mapstructure:"fetch_multiplier" json:"fetch_multiplier"`
	MaxPerDocument  int `mapstructure:"max_per_document" json:"max_per_document"` // 0 = unlimited

	// Prompt
	MaxContextChars int    `mapstructure:"max_context_chars" json:"max_context_chars"`
	MinContextChars int    `mapstructure:"min_context_chars" json:"min_context_chars"`
	SystemPrompt    string `mapstructure:"system_prompt" json:"system_prompt"`

	// Ingestion
	IngestWorkers int `mapstructure:"ingest_workers" json:"ingest_workers"`

	// Storage (postgres backend)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`

	// Tracing (see tracing.go)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".passage")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything has a default.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Chunking defaults: ~1000-rune windows with 200 runes of overlap keep
	// passages self-contained while staying far below embedder input limits.
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)

	// Embedder defaults
	v.SetDefault("provider", ProviderGoogleAI)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", 768)
	v.SetDefault("embedder_batch_size", 32)
	v.SetDefault("embedder_rpm", 0)
	v.SetDefault("embedder_cache_size", 2048)
	v.SetDefault("ollama_host", "http://localhost:11434")

	// Generation defaults
	v.SetDefault("model_name", "gemini-2.5-flash")

	// Index defaults
	v.SetDefault("index_backend", IndexBackendMemory)
	v.SetDefault("index_metric", MetricCosine)
	v.SetDefault("snapshot_path", "")

	// Retrieval defaults
	v.SetDefault("top_k", 5)
	v.SetDefault("fetch_multiplier", 4)
	v.SetDefault("max_per_document", 0)

	// Prompt defaults
	v.SetDefault("max_context_chars", 6000)
	v.SetDefault("min_context_chars", 64)
	v.SetDefault("system_prompt",
		"Answer the question using only the numbered context passages. "+
			"Cite passages by their markers. If the context is empty or "+
			"insufficient, say you do not know.")

	// Ingestion defaults
	v.SetDefault("ingest_workers", 4)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "passage")
	v.SetDefault("postgres_password", "passage_dev_password")
	v.SetDefault("postgres_db_name", "passage")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	v.SetDefault("server_addr", "127.0.0.1:3400")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "passage")
	v.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via viper;
// Validate only checks its presence when the googleai provider is selected.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "PASSAGE_PROVIDER")
	mustBind("embedder_model", "PASSAGE_EMBEDDER_MODEL")
	mustBind("ollama_host", "PASSAGE_OLLAMA_HOST")
	mustBind("model_name", "PASSAGE_MODEL_NAME")
	mustBind("index_backend", "PASSAGE_INDEX_BACKEND")
	mustBind("snapshot_path", "PASSAGE_SNAPSHOT_PATH")
	mustBind("server_addr", "PASSAGE_SERVER_ADDR")
	mustBind("postgres_password", "PASSAGE_POSTGRES_PASSWORD")
	mustBind("tracing.enabled", "PASSAGE_TRACING_ENABLED")
}

// parseDatabaseURL applies DATABASE_URL, if set, on top of the individual
// postgres_* fields. The URL wins because it is the conventional way to point
// a deployment at a managed database.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("invalid port %q: %w", p, err)
		}
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := filepath.Base(u.Path); db != "." && db != "/" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// ConnURL returns the postgres:// connection URL for pgx and golang-migrate.
func (c *Config) ConnURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// FullModelName returns the provider-qualified generation model name for
// Genkit, e.g. "googleai/gemini-2.5-flash". Names already containing "/" are
// returned as-is.
func (c *Config) FullModelName() string {
	for _, r := range c.ModelName {
		if r == '/' {
			return c.ModelName
		}
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully masked
// to avoid substring leaks; longer secrets keep two characters on each side
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive fields masked.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer so accidental printing never leaks secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
