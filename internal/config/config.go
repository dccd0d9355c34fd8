// Package config loads and validates Flow Core's externally configurable
// options: a YAML file first, environment variables layered on top, and
// explicit validation before the composition root starts anything.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full set of externally configurable options.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Trace     TraceConfig     `yaml:"trace"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Validator ValidatorConfig `yaml:"validator"`
	Merge     MergeConfig     `yaml:"merge"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Analytics AnalyticsConfig `yaml:"analytics"`

	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
}

type QueueConfig struct {
	Capacity               int `yaml:"capacity"`
	BackpressureThreshold  int `yaml:"backpressure_threshold"`
}

type WorkerConfig struct {
	Count               int           `yaml:"count"`
	PollTimeout         time.Duration `yaml:"poll_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

type TraceConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	MaxCount         int           `yaml:"max_count"`
	EvictionInterval time.Duration `yaml:"eviction_interval"`
	UnmergedMaxAge   time.Duration `yaml:"unmerged_max_age"`
}

type DedupConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ValidatorConfig struct {
	Strict bool `yaml:"strict"`
}

type MergeConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

type AnalyticsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Neo4jURI         string `yaml:"neo4j_uri"`
	Neo4jUsername    string `yaml:"neo4j_username"`
	Neo4jPassword    string `yaml:"neo4j_password"`
	Neo4jDatabase    string `yaml:"neo4j_database"`
	Workers          int    `yaml:"workers"`
	FailureThreshold int    `yaml:"failure_threshold"`
	InitialRPS       float64 `yaml:"initial_rps"`
	MaxRPS           float64 `yaml:"max_rps"`
}

// Default returns the configuration in effect when nothing is overridden.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Queue: QueueConfig{
			Capacity:              10000,
			BackpressureThreshold: 80,
		},
		Worker: WorkerConfig{
			Count:               2,
			PollTimeout:         100 * time.Millisecond,
			ShutdownGracePeriod: 5 * time.Second,
		},
		Trace: TraceConfig{
			TTL:              10 * time.Minute,
			MaxCount:         100000,
			EvictionInterval: 60 * time.Second,
			UnmergedMaxAge:   24 * time.Hour,
		},
		Dedup:     DedupConfig{Enabled: true},
		Validator: ValidatorConfig{Strict: false},
		Merge:     MergeConfig{MaxConcurrent: 8},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "http://localhost:4318/v1/traces",
			SampleRate: 1.0,
		},
		Analytics: AnalyticsConfig{
			Enabled:          false,
			Neo4jDatabase:    "neo4j",
			Workers:          2,
			FailureThreshold: 5,
			InitialRPS:       10,
			MaxRPS:           50,
		},
		EnqueueTimeout: 5 * time.Second,
	}
}

// Load reads configFile (if non-empty), applies environment overrides, and
// validates the result. A missing or empty configFile is not an error — it
// means "use defaults plus environment".
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(c *Config) {
	c.LogLevel = getEnvString("FLOWCORE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvString("FLOWCORE_LOG_FORMAT", c.LogFormat)

	c.Queue.Capacity = getEnvInt("FLOWCORE_QUEUE_CAPACITY", c.Queue.Capacity)
	c.Queue.BackpressureThreshold = getEnvInt("FLOWCORE_QUEUE_BACKPRESSURE_THRESHOLD", c.Queue.BackpressureThreshold)

	c.Worker.Count = getEnvInt("FLOWCORE_WORKER_COUNT", c.Worker.Count)
	c.Worker.PollTimeout = getEnvDuration("FLOWCORE_WORKER_POLL_TIMEOUT", c.Worker.PollTimeout)

	c.Trace.TTL = getEnvDuration("FLOWCORE_TRACE_TTL", c.Trace.TTL)
	c.Trace.MaxCount = getEnvInt("FLOWCORE_TRACE_MAX_COUNT", c.Trace.MaxCount)
	c.Trace.EvictionInterval = getEnvDuration("FLOWCORE_TRACE_EVICTION_INTERVAL", c.Trace.EvictionInterval)

	c.Dedup.Enabled = getEnvBool("FLOWCORE_DEDUP_ENABLED", c.Dedup.Enabled)
	c.Validator.Strict = getEnvBool("FLOWCORE_VALIDATOR_STRICT", c.Validator.Strict)

	c.EnqueueTimeout = getEnvDuration("FLOWCORE_ENQUEUE_TIMEOUT", c.EnqueueTimeout)

	c.Tracing.Enabled = getEnvBool("FLOWCORE_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnvString("FLOWCORE_TRACING_ENDPOINT", c.Tracing.Endpoint)

	c.Analytics.Enabled = getEnvBool("FLOWCORE_ANALYTICS_ENABLED", c.Analytics.Enabled)
	c.Analytics.Neo4jURI = getEnvString("FLOWCORE_NEO4J_URI", c.Analytics.Neo4jURI)
	c.Analytics.Neo4jUsername = getEnvString("FLOWCORE_NEO4J_USERNAME", c.Analytics.Neo4jUsername)
	c.Analytics.Neo4jPassword = getEnvString("FLOWCORE_NEO4J_PASSWORD", c.Analytics.Neo4jPassword)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// Validate checks that configured values are internally consistent. It
// collects every violation rather than stopping at the first.
func Validate(c *Config) error {
	var errs []string

	if c.Queue.Capacity <= 0 {
		errs = append(errs, "queue.capacity must be positive")
	}
	if c.Queue.BackpressureThreshold <= 0 || c.Queue.BackpressureThreshold > 100 {
		errs = append(errs, "queue.backpressure_threshold must be in (0, 100]")
	}
	if c.Worker.Count <= 0 {
		errs = append(errs, "worker.count must be positive")
	}
	if c.Worker.PollTimeout <= 0 {
		errs = append(errs, "worker.poll_timeout must be positive")
	}
	if c.Trace.TTL <= 0 {
		errs = append(errs, "trace.ttl must be positive")
	}
	if c.Trace.MaxCount <= 0 {
		errs = append(errs, "trace.max_count must be positive")
	}
	if c.EnqueueTimeout <= 0 {
		errs = append(errs, "enqueue_timeout must be positive")
	}
	if c.Merge.MaxConcurrent <= 0 {
		errs = append(errs, "merge.max_concurrent must be positive")
	}
	if c.Tracing.Enabled {
		if c.Tracing.Exporter != "otlp" && c.Tracing.Exporter != "console" {
			errs = append(errs, "tracing.exporter must be one of: otlp, console")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			errs = append(errs, "tracing.sample_rate must be in [0, 1]")
		}
	}
	if c.Analytics.Enabled && c.Analytics.Neo4jURI == "" {
		errs = append(errs, "analytics.neo4j_uri is required when analytics.enabled is true")
	}

	if len(errs) == 0 {
		return nil
	}
	msg := errs[0]
	for _, e := range errs[1:] {
		msg += "; " + e
	}
	return fmt.Errorf("%s", msg)
}
