// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (lexical index, enhancer, fusion, cache tiers, invalidation, and
// the Redis/Badger/Kafka/Postgres collaborators).
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
	Server       ServerConfig       `yaml:"server"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	Badger       BadgerConfig       `yaml:"badger"`
	Lexical      LexicalConfig      `yaml:"lexical"`
	Enhancer     EnhancerConfig     `yaml:"enhancer"`
	Fusion       FusionConfig       `yaml:"fusion"`
	Hybrid       HybridConfig       `yaml:"hybrid"`
	Semantic     SemanticConfig     `yaml:"semantic"`
	Cache        CacheConfig        `yaml:"cache"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds the search API server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"readTimeout"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
	CORSOrigins     []string        `yaml:"corsOrigins"`
}

// RateLimitConfig is the per-client token bucket for the search API.
// RequestsPerSecond <= 0 disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the document store.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	DocumentsTable  string        `yaml:"documentsTable"`
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Mutations         string `yaml:"mutations"`
	InvalidationAudit string `yaml:"invalidationAudit"`
}

// RedisConfig holds Redis connection parameters for the durable cache tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// BadgerConfig holds settings for the embedded durable cache tier.
type BadgerConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"inMemory"`
}

// LexicalConfig holds the BM25 parameters and highlight settings.
type LexicalConfig struct {
	K1                 float64 `yaml:"k1"`
	B                  float64 `yaml:"b"`
	Epsilon            float64 `yaml:"epsilon"`
	LowSignalThreshold float64 `yaml:"lowSignalThreshold"`
	TFIDFBlend         float64 `yaml:"tfidfBlend"`
	HighlightWindow    int     `yaml:"highlightWindow"`
	IndexWorkers       int     `yaml:"indexWorkers"`
}

// EnhancerConfig toggles the query enhancement stages.
type EnhancerConfig struct {
	SpellCorrection    bool `yaml:"spellCorrection"`
	Expansion          bool `yaml:"expansion"`
	IntentDetection    bool `yaml:"intentDetection"`
	MaxDomainSynonyms  int  `yaml:"maxDomainSynonyms"`
	MaxRelatedSynonyms int  `yaml:"maxRelatedSynonyms"`
	MaxEditDistance    int  `yaml:"maxEditDistance"`
	CacheSize          int  `yaml:"cacheSize"`
}

// FusionConfig selects the rank fusion algorithm and its weights.
type FusionConfig struct {
	Algorithm      string  `yaml:"algorithm"`
	RRFK           int     `yaml:"rrfK"`
	SemanticWeight float64 `yaml:"semanticWeight"`
	MinWeight      float64 `yaml:"minWeight"`
	MaxWeight      float64 `yaml:"maxWeight"`
	Adaptive       bool    `yaml:"adaptive"`
}

// HybridConfig controls the orchestrator.
type HybridConfig struct {
	DefaultMode     string               `yaml:"defaultMode"`
	TopK            int                  `yaml:"topK"`
	CandidateK      int                  `yaml:"candidateK"`
	SemanticTimeout time.Duration        `yaml:"semanticTimeout"`
	WorkerPoolSize  int                  `yaml:"workerPoolSize"`
	CacheResults    bool                 `yaml:"cacheResults"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// SemanticConfig locates the external vector search service. When disabled
// the orchestrator runs lexical-only and reports the degradation.
type SemanticConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// CircuitBreakerConfig guards the semantic collaborator.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// CacheConfig sizes the tiers and holds the per-data-type TTL policy table.
type CacheConfig struct {
	L1MaxEntries   int                     `yaml:"l1MaxEntries"`
	L1MaxBytes     int64                   `yaml:"l1MaxBytes"`
	L2Backend      string                  `yaml:"l2Backend"`
	KeyPrefix      string                  `yaml:"keyPrefix"`
	SweepInterval  time.Duration           `yaml:"sweepInterval"`
	StaleRetention int                     `yaml:"staleRetention"`
	PromotionTTL   time.Duration           `yaml:"promotionTTL"`
	OpTimeout      time.Duration           `yaml:"opTimeout"`
	Policies       map[string]PolicyConfig `yaml:"policies"`
}

// PolicyConfig is the TTL policy for one data type.
type PolicyConfig struct {
	L1TTL                time.Duration `yaml:"l1TTL"`
	L2TTL                time.Duration `yaml:"l2TTL"`
	StaleWhileRevalidate bool          `yaml:"staleWhileRevalidate"`
	CacheOnError         bool          `yaml:"cacheOnError"`
}

// InvalidationConfig sizes the event queue and carries the rule table.
type InvalidationConfig struct {
	QueueSize    int           `yaml:"queueSize"`
	AuditLogSize int           `yaml:"auditLogSize"`
	BatchSize    int           `yaml:"batchSize"`
	BatchWindow  time.Duration `yaml:"batchWindow"`
	Rules        []RuleConfig  `yaml:"rules"`
	DrainTimeout time.Duration `yaml:"drainTimeout"`
}

// RuleConfig maps a (collection, eventType) mutation to cache keys.
type RuleConfig struct {
	Collection         string   `yaml:"collection"`
	EventType          string   `yaml:"eventType"`
	KeyPattern         string   `yaml:"keyPattern"`
	DependencyPatterns []string `yaml:"dependencyPatterns"`
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

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults; the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				Burst:             100,
				IdleTimeout:       3 * time.Minute,
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ragcore",
			User:            "ragcore",
			Password:        "localdev",
			SSLMode:         "disable",
			DocumentsTable:  "documents",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "ragcore-invalidation",
			Topics: KafkaTopics{
				Mutations:         "document-mutations",
				InvalidationAudit: "cache-invalidation-audit",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Badger: BadgerConfig{
			Dir: "data/cache",
		},
		Lexical: LexicalConfig{
			K1:                 1.2,
			B:                  0.75,
			Epsilon:            0.25,
			LowSignalThreshold: 0.1,
			TFIDFBlend:         0.5,
			HighlightWindow:    50,
			IndexWorkers:       4,
		},
		Enhancer: EnhancerConfig{
			SpellCorrection:    true,
			Expansion:          true,
			IntentDetection:    true,
			MaxDomainSynonyms:  2,
			MaxRelatedSynonyms: 2,
			MaxEditDistance:    2,
			CacheSize:          4096,
		},
		Fusion: FusionConfig{
			Algorithm:      "rrf",
			RRFK:           60,
			SemanticWeight: 0.7,
			MinWeight:      0.2,
			MaxWeight:      0.8,
		},
		Hybrid: HybridConfig{
			DefaultMode:     "hybrid",
			TopK:            10,
			CandidateK:      50,
			SemanticTimeout: 2 * time.Second,
			WorkerPoolSize:  8,
			CacheResults:    true,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Semantic: SemanticConfig{
			Enabled:     false,
			Addr:        "localhost:9100",
			DialTimeout: 2 * time.Second,
		},
		Cache: CacheConfig{
			L1MaxEntries:   10000,
			L1MaxBytes:     64 << 20,
			L2Backend:      "redis",
			KeyPrefix:      "ragcore:",
			SweepInterval:  time.Minute,
			StaleRetention: 10000,
			PromotionTTL:   time.Minute,
			OpTimeout:      500 * time.Millisecond,
			Policies: map[string]PolicyConfig{
				"search":    {L1TTL: 5 * time.Minute, L2TTL: 30 * time.Minute},
				"embedding": {L1TTL: time.Hour, L2TTL: 24 * time.Hour, CacheOnError: true},
				"response":  {L1TTL: 10 * time.Minute, L2TTL: time.Hour, StaleWhileRevalidate: true, CacheOnError: true},
			},
		},
		Invalidation: InvalidationConfig{
			QueueSize:    1024,
			AuditLogSize: 1000,
			BatchSize:    64,
			BatchWindow:  10 * time.Millisecond,
			DrainTimeout: 5 * time.Second,
			Rules: []RuleConfig{
				{Collection: "documents", EventType: "update", KeyPattern: "doc:{documentId}", DependencyPatterns: []string{"search:*", "response:*"}},
				{Collection: "documents", EventType: "delete", KeyPattern: "doc:{documentId}", DependencyPatterns: []string{"search:*", "response:*", "embedding:{documentId}"}},
				{Collection: "documents", EventType: "create", KeyPattern: "doc:{documentId}", DependencyPatterns: []string{"search:*"}},
			},
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

// Validate rejects values that would leave a component in an unusable state.
func (c *Config) Validate() error {
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst < 1 {
		return fmt.Errorf("server.rateLimit.burst must be >= 1 when limiting is enabled, got %d", c.Server.RateLimit.Burst)
	}
	if c.Lexical.K1 < 0 {
		return fmt.Errorf("lexical.k1 must be >= 0, got %v", c.Lexical.K1)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical.b must be within [0,1], got %v", c.Lexical.B)
	}
	if c.Lexical.Epsilon < 0 {
		return fmt.Errorf("lexical.epsilon must be >= 0, got %v", c.Lexical.Epsilon)
	}
	switch c.Fusion.Algorithm {
	case "rrf", "combsum", "borda", "adaptive":
	default:
		return fmt.Errorf("fusion.algorithm %q is not one of rrf, combsum, borda, adaptive", c.Fusion.Algorithm)
	}
	if c.Fusion.MinWeight > c.Fusion.MaxWeight {
		return fmt.Errorf("fusion.minWeight %v exceeds fusion.maxWeight %v", c.Fusion.MinWeight, c.Fusion.MaxWeight)
	}
	switch c.Hybrid.DefaultMode {
	case "lexical", "semantic", "hybrid":
	default:
		return fmt.Errorf("hybrid.defaultMode %q is not one of lexical, semantic, hybrid", c.Hybrid.DefaultMode)
	}
	if c.Semantic.Enabled && c.Semantic.Addr == "" {
		return fmt.Errorf("semantic.addr is required when semantic search is enabled")
	}
	switch c.Cache.L2Backend {
	case "redis", "badger", "none":
	default:
		return fmt.Errorf("cache.l2Backend %q is not one of redis, badger, none", c.Cache.L2Backend)
	}
	if c.Cache.L1MaxEntries <= 0 || c.Cache.L1MaxBytes <= 0 {
		return fmt.Errorf("cache L1 limits must be positive (entries=%d bytes=%d)", c.Cache.L1MaxEntries, c.Cache.L1MaxBytes)
	}
	for _, r := range c.Invalidation.Rules {
		if r.Collection == "" || r.KeyPattern == "" {
			return fmt.Errorf("invalidation rule needs collection and keyPattern: %+v", r)
		}
		switch r.EventType {
		case "create", "update", "delete", "batchUpdate":
		default:
			return fmt.Errorf("invalidation rule eventType %q is not recognised", r.EventType)
		}
	}
	return nil
}

// applyEnvOverrides reads RC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RC_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("RC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RC_CACHE_L2_BACKEND"); v != "" {
		cfg.Cache.L2Backend = v
	}
	if v := os.Getenv("RC_BADGER_DIR"); v != "" {
		cfg.Badger.Dir = v
	}
	if v := os.Getenv("RC_SEMANTIC_ADDR"); v != "" {
		cfg.Semantic.Addr = v
		cfg.Semantic.Enabled = true
	}
	if v := os.Getenv("RC_FUSION_ALGORITHM"); v != "" {
		cfg.Fusion.Algorithm = v
	}
	if v := os.Getenv("RC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
