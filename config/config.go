// Package config holds the configuration surface of the messaging core.
// Values load from environment variables with sensible defaults; a local
// .env file is honored when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultConnectionName is the registry key used when a component does not
// name a connection explicitly.
const DefaultConnectionName = "default"

// Config aggregates every knob recognized by the messaging core.
type Config struct {
	// DefaultConnection is the connection name resolved when unspecified.
	DefaultConnection string
	// Connections maps connection names to broker settings. Load seeds the
	// default connection from the environment; additional named connections
	// are registered programmatically by the composing service.
	Connections map[string]ConnectionConfig

	Consumer   ConsumerConfig
	Resilience ResilienceConfig
	Outbox     OutboxConfig
	Cache      CacheConfig
	Blob       BlobConfig
}

// ConnectionConfig describes one named NATS connection. Exactly one auth
// mechanism should be set; all empty means anonymous.
type ConnectionConfig struct {
	URL          string
	Username     string
	Password     string
	Token        string
	NKeySeedFile string
	CredsFile    string
}

// ConsumerConfig controls the JetStream error policy.
type ConsumerConfig struct {
	MaxRedeliveries int           // NAKs before a transient failure is sidelined
	NakDelay        time.Duration // redelivery delay requested on NAK
	EnableDlq       bool
	DlqStreamSuffix string
}

// ResilienceConfig controls the retry + circuit-breaker pipeline wrapping
// JetStream publishes.
type ResilienceConfig struct {
	MaxRetryAttempts  int
	BaseDelay         time.Duration
	FailureRatio      float64
	SamplingDuration  time.Duration
	BreakDuration     time.Duration
	MinimumThroughput uint32
}

// OutboxConfig controls the transactional outbox processor.
type OutboxConfig struct {
	BatchSize          int
	ProcessingInterval time.Duration
	MaxRetries         int
	RetentionEnabled   bool
	RetentionPeriod    time.Duration
	// CleanupSchedule is the cron expression for purging dead-lettered rows.
	CleanupSchedule string
	// DeadLetterRetention is how long dead-lettered rows are kept before the
	// scheduled cleanup removes them.
	DeadLetterRetention time.Duration
}

// CacheConfig controls the KV-backed distributed cache.
type CacheConfig struct {
	BucketName string
	DefaultTTL time.Duration
}

// BlobConfig controls the object-store blob layer.
type BlobConfig struct {
	BucketName string
}

// Load reads configuration from the environment. A missing variable falls
// back to its documented default, so Load never fails on absent config.
func Load() *Config {
	// Optional .env for local development; ignore absence.
	_ = godotenv.Load()

	return &Config{
		DefaultConnection: getEnv("MESSAGING_DEFAULT_CONNECTION", DefaultConnectionName),
		Connections: map[string]ConnectionConfig{
			DefaultConnectionName: {
				URL:          getEnv("MESSAGING_NATS_URL", "nats://localhost:4222"),
				Username:     getEnv("MESSAGING_NATS_USERNAME", ""),
				Password:     getEnv("MESSAGING_NATS_PASSWORD", ""),
				Token:        getEnv("MESSAGING_NATS_TOKEN", ""),
				NKeySeedFile: getEnv("MESSAGING_NATS_NKEY_SEED_FILE", ""),
				CredsFile:    getEnv("MESSAGING_NATS_CREDS_FILE", ""),
			},
		},
		Consumer: ConsumerConfig{
			MaxRedeliveries: getEnvAsInt("MESSAGING_CONSUMER_MAX_REDELIVERIES", 5),
			NakDelay:        getEnvAsDuration("MESSAGING_CONSUMER_NAK_DELAY", 5*time.Second),
			EnableDlq:       getEnvAsBool("MESSAGING_CONSUMER_ENABLE_DLQ", true),
			DlqStreamSuffix: getEnv("MESSAGING_CONSUMER_DLQ_STREAM_SUFFIX", "-dlq"),
		},
		Resilience: ResilienceConfig{
			MaxRetryAttempts:  getEnvAsInt("MESSAGING_RESILIENCE_MAX_RETRY_ATTEMPTS", 3),
			BaseDelay:         getEnvAsDuration("MESSAGING_RESILIENCE_BASE_DELAY", time.Second),
			FailureRatio:      getEnvAsFloat("MESSAGING_RESILIENCE_FAILURE_RATIO", 0.5),
			SamplingDuration:  getEnvAsDuration("MESSAGING_RESILIENCE_SAMPLING_DURATION", 30*time.Second),
			BreakDuration:     getEnvAsDuration("MESSAGING_RESILIENCE_BREAK_DURATION", 30*time.Second),
			MinimumThroughput: uint32(getEnvAsInt("MESSAGING_RESILIENCE_MINIMUM_THROUGHPUT", 10)),
		},
		Outbox: OutboxConfig{
			BatchSize:           getEnvAsInt("MESSAGING_OUTBOX_BATCH_SIZE", 100),
			ProcessingInterval:  getEnvAsDuration("MESSAGING_OUTBOX_PROCESSING_INTERVAL", 5*time.Second),
			MaxRetries:          getEnvAsInt("MESSAGING_OUTBOX_MAX_RETRIES", 5),
			RetentionEnabled:    getEnvAsBool("MESSAGING_OUTBOX_RETENTION_ENABLED", true),
			RetentionPeriod:     getEnvAsDuration("MESSAGING_OUTBOX_RETENTION_PERIOD", 7*24*time.Hour),
			CleanupSchedule:     getEnv("MESSAGING_OUTBOX_CLEANUP_SCHEDULE", "0 0 2 * * *"),
			DeadLetterRetention: getEnvAsDuration("MESSAGING_OUTBOX_DEAD_LETTER_RETENTION", 30*24*time.Hour),
		},
		Cache: CacheConfig{
			BucketName: getEnv("MESSAGING_CACHE_BUCKET_NAME", "cache"),
			DefaultTTL: getEnvAsDuration("MESSAGING_CACHE_DEFAULT_TTL", time.Hour),
		},
		Blob: BlobConfig{
			BucketName: getEnv("MESSAGING_BLOB_BUCKET_NAME", "blobs"),
		},
	}
}

// Connection returns the named connection config, falling back to the
// default name when name is empty. The second result reports whether the
// name is known.
func (c *Config) Connection(name string) (ConnectionConfig, bool) {
	if name == "" {
		name = c.DefaultConnection
	}
	cc, ok := c.Connections[name]
	return cc, ok
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings ("30s", "1h") and, for
// backwards compatibility with older deployments, bare integers meaning
// seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
