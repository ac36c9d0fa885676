package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/calderas/lattice/pkg/observability"
)

// Config holds the full indexer configuration.
type Config struct {
	Index         IndexConfig
	Datastore     DatastoreConfig
	Redis         RedisConfig
	Text          TextConfig
	Observability ObservabilityConfig

	// SettingsFile is an optional JSON settings file watched for changes.
	// Without it, LATTICE_LANGUAGES defines a static language list.
	SettingsFile    string
	Languages       []string
	DefaultLanguage string
}

// IndexConfig bounds the orchestrator.
type IndexConfig struct {
	Name       string
	BatchSize  int
	MaxRetries int
	Workers    int

	// ReindexSchedule is an optional cron expression for periodic full
	// reindexes.
	ReindexSchedule string
}

// DatastoreConfig selects and configures the persistence backend.
type DatastoreConfig struct {
	// Type is "postgres" or "memory".
	Type        string
	PostgresURL string
	MaxConns    int
	Timeout     time.Duration

	CacheEnabled bool
	CacheSize    int
}

// RedisConfig configures the shared reverse-reference index. With no URL the
// in-process index is used.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// TextConfig configures the extracted-text chunk source.
type TextConfig struct {
	S3Bucket string
	S3Prefix string
	S3Region string
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	MetricsPort    string

	TracingEnabled bool
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	OTLPInsecure   bool
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Index: IndexConfig{
			Name:            getEnv("LATTICE_INDEX", "entities"),
			BatchSize:       getEnvInt("LATTICE_BATCH_SIZE", 100),
			MaxRetries:      getEnvInt("LATTICE_MAX_RETRIES", 3),
			Workers:         getEnvInt("LATTICE_WORKERS", 4),
			ReindexSchedule: getEnv("LATTICE_REINDEX_SCHEDULE", ""),
		},
		Datastore: DatastoreConfig{
			Type:         getEnv("LATTICE_DATASTORE_TYPE", "memory"),
			PostgresURL:  getEnv("LATTICE_POSTGRES_URL", ""),
			MaxConns:     getEnvInt("LATTICE_POSTGRES_MAX_CONNS", 10),
			Timeout:      getEnvDuration("LATTICE_POSTGRES_TIMEOUT", 10*time.Second),
			CacheEnabled: getEnvBool("LATTICE_CACHE_ENABLED", true),
			CacheSize:    getEnvInt("LATTICE_CACHE_SIZE", 512),
		},
		Redis: RedisConfig{
			URL:      getEnv("LATTICE_REDIS_URL", ""),
			Password: getEnv("LATTICE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("LATTICE_REDIS_DB", 0),
		},
		Text: TextConfig{
			S3Bucket: getEnv("LATTICE_TEXT_S3_BUCKET", ""),
			S3Prefix: getEnv("LATTICE_TEXT_S3_PREFIX", "fulltext/"),
			S3Region: getEnv("LATTICE_TEXT_S3_REGION", "us-east-1"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("LATTICE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("LATTICE_METRICS_ENABLED", true),
			MetricsPort:    getEnv("LATTICE_METRICS_PORT", "9090"),
			TracingEnabled: getEnvBool("LATTICE_TRACING_ENABLED", false),
			OTLPEndpoint:   getEnv("LATTICE_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:    getEnv("LATTICE_SERVICE_NAME", "lattice-indexer"),
			ServiceVersion: getEnv("LATTICE_SERVICE_VERSION", "dev"),
			OTLPInsecure:   getEnvBool("LATTICE_OTLP_INSECURE", true),
		},
		SettingsFile:    getEnv("LATTICE_SETTINGS_FILE", ""),
		Languages:       splitList(getEnv("LATTICE_LANGUAGES", "en")),
		DefaultLanguage: getEnv("LATTICE_DEFAULT_LANGUAGE", "en"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

// Validate rejects combinations that cannot work.
func (c *Config) Validate() error {
	switch c.Datastore.Type {
	case "memory":
	case "postgres":
		if c.Datastore.PostgresURL == "" {
			return fmt.Errorf("postgres datastore requires LATTICE_POSTGRES_URL")
		}
	default:
		return fmt.Errorf("unknown datastore type %q (must be memory or postgres)", c.Datastore.Type)
	}

	if c.Index.Name == "" {
		return fmt.Errorf("index name is required")
	}
	if c.SettingsFile == "" {
		if len(c.Languages) == 0 {
			return fmt.Errorf("at least one language is required")
		}
		found := false
		for _, l := range c.Languages {
			if l == c.DefaultLanguage {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("default language %q not in configured languages", c.DefaultLanguage)
		}
	}
	if c.Observability.TracingEnabled && c.Observability.OTLPEndpoint == "" {
		return fmt.Errorf("tracing requires LATTICE_OTLP_ENDPOINT")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
