// Package config provides hierarchical configuration loading for moxie.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the moxie orchestrator.
// Everything here is read at startup and immutable for the process lifetime.
type Config struct {
	Server      Server          `yaml:"server"`
	Postgres    Postgres        `yaml:"postgres"`
	NATS        NATS            `yaml:"nats"`
	LiteLLM     LiteLLM         `yaml:"litellm"`
	Logging     Logging         `yaml:"logging"`
	Breaker     Breaker         `yaml:"breaker"`
	Otel        Otel            `yaml:"otel"`
	Providers   Providers       `yaml:"providers"`
	Router      Router          `yaml:"router"`
	Executor    Executor        `yaml:"executor"`
	Aggregator  Aggregator      `yaml:"aggregator"`
	Cache       Cache           `yaml:"cache"`
	Specialists []SpecialistDef `yaml:"specialists"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds the optional durable trace store configuration.
// An empty DSN disables the postgres trace sink.
type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// NATS holds the optional NATS JetStream configuration (trace publishing and
// the L2 exact-match cache bucket). An empty URL disables both.
type NATS struct {
	URL         string        `yaml:"url"`
	CacheBucket string        `yaml:"cache_bucket"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// LiteLLM holds the LLM proxy configuration serving the embedding,
// classifier and synthesis providers.
type LiteLLM struct {
	URL             string        `yaml:"url"`
	APIKey          string        `yaml:"api_key"`
	SynthesisModel  string        `yaml:"synthesis_model"`
	ClassifierModel string        `yaml:"classifier_model"`
	EmbeddingModel  string        `yaml:"embedding_model"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`

	// AsyncBuffer and AsyncWorkers size the async handler's queue and
	// worker pool; only consulted when Async is on.
	AsyncBuffer  int `yaml:"async_buffer"`
	AsyncWorkers int `yaml:"async_workers"`
}

// Breaker holds circuit breaker configuration for provider calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Otel holds OpenTelemetry exporter configuration. An empty endpoint
// disables the OTLP exporters (spans still record into the noop provider).
type Otel struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Providers bounds concurrent in-flight calls per downstream provider.
// Limits is the semaphore size; RatePerSecond optionally smooths the
// sustained request rate on top of the concurrency bound (0 = unlimited).
type Providers struct {
	Limits        map[string]int64   `yaml:"limits"`
	RatePerSecond map[string]float64 `yaml:"rate_per_second"`
	DefaultLimit  int64              `yaml:"default_limit"`
}

// Router holds routing strategy configuration.
type Router struct {
	Strategy          string  `yaml:"strategy"` // "embedding" | "classifier" | "hybrid"
	MaxAgents         int     `yaml:"max_agents"`
	Threshold         float64 `yaml:"threshold"`
	FastPathThreshold float64 `yaml:"fast_path_threshold"`
	EmbeddingWeight   float64 `yaml:"embedding_weight"`
	ClassifierWeight  float64 `yaml:"classifier_weight"`
}

// Executor holds fan-out timeout configuration.
type Executor struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`
	OverallTimeout time.Duration `yaml:"overall_timeout"`
}

// Quality holds the quality-score term weights and target bands. The four
// weights should sum to 1.0.
type Quality struct {
	DiversityWeight  float64 `yaml:"diversity_weight"`
	ConfidenceWeight float64 `yaml:"confidence_weight"`
	LengthWeight     float64 `yaml:"length_weight"`
	StructureWeight  float64 `yaml:"structure_weight"`
	TargetWordsMin   int     `yaml:"target_words_min"`
	TargetWordsMax   int     `yaml:"target_words_max"`
	TargetSentsMin   int     `yaml:"target_sentences_min"`
	TargetSentsMax   int     `yaml:"target_sentences_max"`
}

// Aggregator holds synthesis configuration.
type Aggregator struct {
	ConflictDetection string  `yaml:"conflict_detection"` // "none" is the explicit no-op strategy
	Quality           Quality `yaml:"quality"`
}

// Cache holds semantic cache configuration. Threshold is a cosine distance:
// smaller means stricter matching.
type Cache struct {
	Enabled        bool          `yaml:"enabled"`
	Threshold      float64       `yaml:"threshold"`
	VoiceThreshold float64       `yaml:"voice_threshold"`
	TTL            time.Duration `yaml:"ttl"`
	Capacity       int           `yaml:"capacity"`
	MinQuality     float64       `yaml:"min_quality"`
	L1MaxEntries   int64         `yaml:"l1_max_entries"`
}

// SpecialistDef declares one specialist registered at startup.
type SpecialistDef struct {
	Name     string   `yaml:"name"`
	Provider string   `yaml:"provider"`
	Tags     []string `yaml:"tags"`
	Kind     string   `yaml:"kind"` // "http" | "mcp"

	// http kind
	URL string `yaml:"url"`

	// mcp kind
	Transport string   `yaml:"transport"` // "stdio" | "sse" | "streamable_http"
	Endpoint  string   `yaml:"endpoint"`
	Tool      string   `yaml:"tool"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`

	// Declared prerequisites for dependency-ordered execution.
	DependsOn []string `yaml:"depends_on"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			MaxConns: 10,
			MinConns: 2,
		},
		NATS: NATS{
			CacheBucket: "moxie_semcache",
			CacheTTL:    time.Hour,
		},
		LiteLLM: LiteLLM{
			URL:             "http://localhost:4000",
			SynthesisModel:  "openai/gpt-4o-mini",
			ClassifierModel: "openai/gpt-4o-mini",
			EmbeddingModel:  "openai/text-embedding-3-small",
			Timeout:         30 * time.Second,
		},
		Logging: Logging{
			Level:        "info",
			Service:      "moxie",
			AsyncBuffer:  4096,
			AsyncWorkers: 2,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Providers: Providers{
			Limits: map[string]int64{
				"openai":    10,
				"anthropic": 5,
				"mcp":       30,
			},
			DefaultLimit: 10,
		},
		Router: Router{
			Strategy:          "hybrid",
			MaxAgents:         3,
			Threshold:         0.3,
			FastPathThreshold: 0.8,
			EmbeddingWeight:   0.4,
			ClassifierWeight:  0.6,
		},
		Executor: Executor{
			CallTimeout:    8 * time.Second,
			OverallTimeout: 15 * time.Second,
		},
		Aggregator: Aggregator{
			ConflictDetection: "none",
			Quality: Quality{
				DiversityWeight:  0.25,
				ConfidenceWeight: 0.35,
				LengthWeight:     0.25,
				StructureWeight:  0.15,
				TargetWordsMin:   30,
				TargetWordsMax:   200,
				TargetSentsMin:   2,
				TargetSentsMax:   10,
			},
		},
		Cache: Cache{
			Enabled:        true,
			Threshold:      0.1,
			VoiceThreshold: 0.05,
			TTL:            time.Hour,
			Capacity:       1000,
			MinQuality:     0.7,
			L1MaxEntries:   10000,
		},
	}
}
