package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "moxie.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MOXIE_PORT")
	setString(&cfg.Server.CORSOrigin, "MOXIE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MOXIE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MOXIE_PG_MIN_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.CacheBucket, "MOXIE_NATS_CACHE_BUCKET")
	setDuration(&cfg.NATS.CacheTTL, "MOXIE_NATS_CACHE_TTL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.APIKey, "LITELLM_API_KEY")
	setString(&cfg.LiteLLM.SynthesisModel, "MOXIE_SYNTHESIS_MODEL")
	setString(&cfg.LiteLLM.ClassifierModel, "MOXIE_CLASSIFIER_MODEL")
	setString(&cfg.LiteLLM.EmbeddingModel, "MOXIE_EMBEDDING_MODEL")
	setDuration(&cfg.LiteLLM.Timeout, "MOXIE_LLM_TIMEOUT")
	setString(&cfg.Logging.Level, "MOXIE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MOXIE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MOXIE_LOG_ASYNC")
	setInt(&cfg.Logging.AsyncBuffer, "MOXIE_LOG_ASYNC_BUFFER")
	setInt(&cfg.Logging.AsyncWorkers, "MOXIE_LOG_ASYNC_WORKERS")
	setInt(&cfg.Breaker.MaxFailures, "MOXIE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MOXIE_BREAKER_TIMEOUT")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Otel.Insecure, "MOXIE_OTEL_INSECURE")
	setInt64(&cfg.Providers.DefaultLimit, "MOXIE_PROVIDER_DEFAULT_LIMIT")
	setString(&cfg.Router.Strategy, "MOXIE_ROUTER_STRATEGY")
	setInt(&cfg.Router.MaxAgents, "MOXIE_ROUTER_MAX_AGENTS")
	setFloat64(&cfg.Router.Threshold, "MOXIE_ROUTER_THRESHOLD")
	setFloat64(&cfg.Router.FastPathThreshold, "MOXIE_ROUTER_FAST_PATH")
	setFloat64(&cfg.Router.EmbeddingWeight, "MOXIE_ROUTER_EMBEDDING_WEIGHT")
	setFloat64(&cfg.Router.ClassifierWeight, "MOXIE_ROUTER_CLASSIFIER_WEIGHT")
	setDuration(&cfg.Executor.CallTimeout, "MOXIE_CALL_TIMEOUT")
	setDuration(&cfg.Executor.OverallTimeout, "MOXIE_OVERALL_TIMEOUT")
	setString(&cfg.Aggregator.ConflictDetection, "MOXIE_CONFLICT_DETECTION")
	setBool(&cfg.Cache.Enabled, "MOXIE_CACHE_ENABLED")
	setFloat64(&cfg.Cache.Threshold, "MOXIE_CACHE_THRESHOLD")
	setFloat64(&cfg.Cache.VoiceThreshold, "MOXIE_CACHE_VOICE_THRESHOLD")
	setDuration(&cfg.Cache.TTL, "MOXIE_CACHE_TTL")
	setInt(&cfg.Cache.Capacity, "MOXIE_CACHE_CAPACITY")
	setFloat64(&cfg.Cache.MinQuality, "MOXIE_CACHE_MIN_QUALITY")
	setInt64(&cfg.Cache.L1MaxEntries, "MOXIE_CACHE_L1_MAX_ENTRIES")
}

// validate rejects configurations that cannot produce a working pipeline.
func validate(cfg *Config) error {
	switch cfg.Router.Strategy {
	case "embedding", "classifier", "hybrid":
	default:
		return fmt.Errorf("router.strategy %q: must be embedding, classifier or hybrid", cfg.Router.Strategy)
	}
	if cfg.Router.MaxAgents <= 0 {
		return fmt.Errorf("router.max_agents must be positive, got %d", cfg.Router.MaxAgents)
	}
	if cfg.Router.Threshold < 0 || cfg.Router.Threshold > 1 {
		return fmt.Errorf("router.threshold %v out of [0,1]", cfg.Router.Threshold)
	}
	if cfg.Router.FastPathThreshold < 0 || cfg.Router.FastPathThreshold > 1 {
		return fmt.Errorf("router.fast_path_threshold %v out of [0,1]", cfg.Router.FastPathThreshold)
	}
	if sum := cfg.Router.EmbeddingWeight + cfg.Router.ClassifierWeight; math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("router weights must sum to 1.0, got %v", sum)
	}
	if cfg.Executor.CallTimeout <= 0 || cfg.Executor.OverallTimeout <= 0 {
		return fmt.Errorf("executor timeouts must be positive")
	}
	if cfg.Executor.CallTimeout > cfg.Executor.OverallTimeout {
		return fmt.Errorf("executor.call_timeout %v exceeds overall_timeout %v",
			cfg.Executor.CallTimeout, cfg.Executor.OverallTimeout)
	}
	switch cfg.Aggregator.ConflictDetection {
	case "", "none", "numeric":
	default:
		return fmt.Errorf("aggregator.conflict_detection %q: must be none or numeric", cfg.Aggregator.ConflictDetection)
	}
	q := cfg.Aggregator.Quality
	if sum := q.DiversityWeight + q.ConfidenceWeight + q.LengthWeight + q.StructureWeight; math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("aggregator quality weights must sum to 1.0, got %v", sum)
	}
	if cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", cfg.Cache.Capacity)
	}
	for i := range cfg.Specialists {
		s := &cfg.Specialists[i]
		if s.Name == "" {
			return fmt.Errorf("specialists[%d]: name is required", i)
		}
		switch s.Kind {
		case "http":
			if s.URL == "" {
				return fmt.Errorf("specialist %s: url is required for http kind", s.Name)
			}
		case "mcp":
			if s.Tool == "" {
				return fmt.Errorf("specialist %s: tool is required for mcp kind", s.Name)
			}
		default:
			return fmt.Errorf("specialist %s: kind %q must be http or mcp", s.Name, s.Kind)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
