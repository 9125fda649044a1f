package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mirojs/graphrag-orchestration/pkg/ai"
	"github.com/mirojs/graphrag-orchestration/pkg/canon"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/community"
	"github.com/mirojs/graphrag-orchestration/pkg/leaselock"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/store"
)

// CanonicalizeMsg asks the worker to canonicalize one tenant's graph.
type CanonicalizeMsg struct {
	GroupID string `json:"group_id"`
	// Summarize regenerates every community summary instead of only the
	// missing ones.
	Summarize bool `json:"summarize,omitempty"`
}

// CacheInvalidateMsg is published on CacheInvalidateTopic.
type CacheInvalidateMsg struct {
	GroupID string `json:"group_id"`
}

// Locker serializes jobs per key.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

type CanonicalizeConfig struct {
	EmbedBatchSize   int
	EmbedConcurrency int
	LockTTL          time.Duration
}

type Canonicalizer struct {
	graph      store.GraphStore
	embedder   ai.Embedder
	engine     *canon.Engine
	summarizer *community.Summarizer
	locker     Locker
	publisher  Publisher
	cfg        CanonicalizeConfig
}

// NewCanonicalizer builds the canonicalize_queue handler. summarizer may be
// nil to skip community summaries.
func NewCanonicalizer(
	graph store.GraphStore,
	embedder ai.Embedder,
	engine *canon.Engine,
	summarizer *community.Summarizer,
	locker Locker,
	publisher Publisher,
	cfg CanonicalizeConfig,
) *Canonicalizer {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 64
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	return &Canonicalizer{
		graph:      graph,
		embedder:   embedder,
		engine:     engine,
		summarizer: summarizer,
		locker:     locker,
		publisher:  publisher,
		cfg:        cfg,
	}
}

// Process handles one canonicalize_queue message body.
func (c *Canonicalizer) Process(ctx context.Context, body []byte) error {
	var msg CanonicalizeMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: decode message: %v", common.ErrInputValidation, err)
	}
	tenant := strings.TrimSpace(msg.GroupID)
	if tenant == "" {
		return fmt.Errorf("%w: group_id is required", common.ErrInputValidation)
	}

	opts := leaselock.Options{TTL: c.cfg.LockTTL, Wait: true, TokenPrefix: "canonicalize-"}
	err := c.locker.WithLease(ctx, leaselock.TenantKey("canonicalize", tenant), opts, func(ctx context.Context) error {
		return c.canonicalize(ctx, tenant, msg.Summarize)
	})
	if err != nil {
		return err
	}

	data, err := json.Marshal(CacheInvalidateMsg{GroupID: tenant})
	if err != nil {
		return err
	}
	if err := PublishTopic(c.publisher, CacheInvalidateTopic, data); err != nil {
		logger.Warn("[Worker] failed to publish cache invalidation", "tenant", tenant, "err", err)
	}
	return nil
}

func (c *Canonicalizer) canonicalize(ctx context.Context, tenant string, resummarize bool) error {
	start := time.Now()

	entities, err := c.graph.FetchEntities(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	relationships, err := c.graph.FetchRelationships(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}

	candidates := make([]canon.EntityCandidate, len(entities))
	for i, e := range entities {
		candidates[i] = canon.EntityCandidate{Name: e.Name, Type: e.Type}
	}
	candidates, embedStats, err := canon.EmbedCandidates(ctx, c.embedder, candidates, c.cfg.EmbedBatchSize, c.cfg.EmbedConcurrency)
	if err != nil {
		return fmt.Errorf("embed names: %w", err)
	}

	result := c.engine.Deduplicate(candidates)
	if len(result.MergeMap) > 0 {
		canonicalEntities, canonicalRels := canon.ApplyMergeMap(entities, relationships, result)
		if err := c.graph.MergeEntities(ctx, tenant, result.MergeMap); err != nil {
			return fmt.Errorf("merge entities: %w", err)
		}
		if err := c.graph.UpsertEntities(ctx, tenant, canonicalEntities); err != nil {
			return fmt.Errorf("upsert entities: %w", err)
		}
		if err := c.graph.UpsertRelationships(ctx, tenant, canonicalRels); err != nil {
			return fmt.Errorf("upsert relationships: %w", err)
		}
	}

	summarized := 0
	if c.summarizer != nil {
		summarized, err = c.summarizer.Summarize(ctx, tenant, !resummarize)
		if err != nil {
			return fmt.Errorf("summarize communities: %w", err)
		}
	}

	logger.Info("[Worker] canonicalized graph",
		"tenant", tenant,
		"entities", len(entities),
		"merged", result.Stats.Merged,
		"skipped", result.Stats.Skipped,
		"failed_embed_batches", embedStats.FailedBatches,
		"summarized", summarized,
		"duration", time.Since(start),
	)
	return nil
}
