// Package config reads process settings from the environment. A .env file is
// loaded first when present.
package config

import (
	"fmt"
	"time"

	"github.com/mirojs/graphrag-orchestration/internal/util"
	"github.com/mirojs/graphrag-orchestration/pkg/canon"
	"github.com/mirojs/graphrag-orchestration/pkg/evidence"
	"github.com/mirojs/graphrag-orchestration/pkg/propagate"
	"github.com/mirojs/graphrag-orchestration/pkg/query"

	"github.com/go-playground/validator"
)

type AI struct {
	Adapter      string `validate:"oneof=openai ollama"`
	EmbedModel   string
	ChatModel    string
	RoutingModel string
	EmbeddingDim int `validate:"gte=0"`
	ChatURL      string
	ChatKey      string
	EmbedURL     string
	EmbedKey     string
	ParallelReq  int `validate:"gte=1"`
}

type Queue struct {
	User     string
	Password string
	Host     string
	Port     string
	// MaxRetries is how often a failed message is retried before it moves
	// to the dead-letter queue.
	MaxRetries int `validate:"gte=0"`
}

// URL is the AMQP connection string.
func (q Queue) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

type Canon struct {
	SimilarityThreshold float64 `validate:"gt=0,lte=1"`
	MinEntities         int     `validate:"gte=0"`
	EnableAcronym       bool
	EnableAbbreviation  bool
	EmbedBatchSize      int           `validate:"gte=1"`
	LockTTL             time.Duration `validate:"gt=0"`
}

type Retrieval struct {
	Damping          float64 `validate:"gt=0,lte=1"`
	MaxHops          int     `validate:"gte=0,lte=3"`
	PropagateTopK    int     `validate:"gte=0"`
	NearDupThreshold float64 `validate:"gte=0,lte=1"`
	MaxContextTokens int     `validate:"gte=0"`
	Concurrency      int     `validate:"gte=1"`
	RouterCacheSize  int     `validate:"gte=0"`
	RouterCacheTTL   time.Duration
}

type Timeouts struct {
	Graph   time.Duration `validate:"gt=0"`
	AI      time.Duration `validate:"gt=0"`
	Request time.Duration `validate:"gt=0"`
}

type Config struct {
	Debug       bool
	Port        string `validate:"required,numeric"`
	DatabaseURL string `validate:"required"`
	AuthURL     string
	MasterKey   string

	AI        AI
	Queue     Queue
	Canon     Canon
	Retrieval Retrieval
	Timeouts  Timeouts
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	util.LoadEnv()

	cfg := Config{
		Debug:       util.GetEnvBool("DEBUG", false),
		Port:        util.GetEnvString("PORT", "8080"),
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		AuthURL:     util.GetEnv("AUTH_URL"),
		MasterKey:   util.GetEnv("MASTER_API_KEY"),
		AI: AI{
			Adapter:      util.GetEnvString("AI_ADAPTER", "openai"),
			EmbedModel:   util.GetEnv("AI_EMBED_MODEL"),
			ChatModel:    util.GetEnv("AI_CHAT_MODEL"),
			RoutingModel: util.GetEnv("AI_ROUTING_MODEL"),
			EmbeddingDim: util.GetEnvInt("AI_EMBED_DIM", 0),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbedURL:     util.GetEnv("AI_EMBED_URL"),
			EmbedKey:     util.GetEnv("AI_EMBED_KEY"),
			ParallelReq:  util.GetEnvInt("AI_PARALLEL_REQ", 8),
		},
		Queue: Queue{
			User:       util.GetEnv("RABBITMQ_USER"),
			Password:   util.GetEnv("RABBITMQ_PASSWORD"),
			Host:       util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:       util.GetEnvString("RABBITMQ_PORT", "5672"),
			MaxRetries: util.GetEnvInt("QUEUE_MAX_RETRIES", 10),
		},
		Canon: Canon{
			SimilarityThreshold: util.GetEnvFloat("CANON_SIMILARITY_THRESHOLD", canon.DefaultSimilarityThreshold),
			MinEntities:         util.GetEnvInt("CANON_MIN_ENTITIES", canon.DefaultMinEntitiesForDedup),
			EnableAcronym:       util.GetEnvBool("CANON_ENABLE_ACRONYM", true),
			EnableAbbreviation:  util.GetEnvBool("CANON_ENABLE_ABBREVIATION", true),
			EmbedBatchSize:      util.GetEnvInt("CANON_EMBED_BATCH_SIZE", 64),
			LockTTL:             util.GetEnvSeconds("CANON_LOCK_TTL_SEC", 5*time.Minute),
		},
		Retrieval: Retrieval{
			Damping:          util.GetEnvFloat("PROPAGATE_DAMPING", 0.85),
			MaxHops:          util.GetEnvInt("PROPAGATE_MAX_HOPS", 2),
			PropagateTopK:    util.GetEnvInt("PROPAGATE_TOP_K", 20),
			NearDupThreshold: util.GetEnvFloat("EVIDENCE_NEAR_DUP_THRESHOLD", evidence.DefaultNearDupThreshold),
			MaxContextTokens: util.GetEnvInt("EVIDENCE_MAX_TOKENS", 12000),
			Concurrency:      util.GetEnvInt("RETRIEVAL_CONCURRENCY", 4),
			RouterCacheSize:  util.GetEnvInt("ROUTER_CACHE_SIZE", 0),
			RouterCacheTTL:   util.GetEnvSeconds("ROUTER_CACHE_TTL_SEC", 10*time.Minute),
		},
		Timeouts: Timeouts{
			Graph:   util.GetEnvSeconds("GRAPH_TIMEOUT_SEC", 10*time.Second),
			AI:      util.GetEnvSeconds("AI_TIMEOUT_SEC", 30*time.Second),
			Request: util.GetEnvSeconds("REQUEST_TIMEOUT_SEC", 120*time.Second),
		},
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges. The hop limit is capped at
// propagate.MaxHopsLimit.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Retrieval.MaxHops > propagate.MaxHopsLimit {
		return fmt.Errorf("invalid configuration: PROPAGATE_MAX_HOPS %d exceeds %d", cfg.Retrieval.MaxHops, propagate.MaxHopsLimit)
	}
	return nil
}

// CanonConfig maps the settings onto the canonicalization engine.
func (c Config) CanonConfig() canon.Config {
	return canon.Config{
		SimilarityThreshold: c.Canon.SimilarityThreshold,
		MinEntitiesForDedup: c.Canon.MinEntities,
		EnableAcronym:       c.Canon.EnableAcronym,
		EnableAbbreviation:  c.Canon.EnableAbbreviation,
	}
}

// QueryConfig maps the settings onto the orchestrator, keeping the
// orchestrator defaults for everything not configurable here.
func (c Config) QueryConfig() query.Config {
	q := query.DefaultConfig()
	q.RequestTimeout = c.Timeouts.Request
	q.GraphTimeout = c.Timeouts.Graph
	q.AITimeout = c.Timeouts.AI
	q.Concurrency = c.Retrieval.Concurrency
	q.Damping = c.Retrieval.Damping
	q.MaxHops = c.Retrieval.MaxHops
	q.PropagateTopK = c.Retrieval.PropagateTopK
	q.NearDupThreshold = c.Retrieval.NearDupThreshold
	q.MaxContextTokens = c.Retrieval.MaxContextTokens
	return q
}
