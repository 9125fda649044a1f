// Package propagate spreads relevance from seed entities across the graph.
//
// It approximates personalized PageRank with a bounded-hop walk: every entity
// reached from a seed within maxHops receives damping^hops, using the minimum
// hop distance over all paths, and contributions are summed across seeds.
package propagate

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	"golang.org/x/sync/errgroup"
)

// MaxHopsLimit caps the walk depth regardless of what the caller asks for.
const MaxHopsLimit = 3

// Scored is one propagated entity.
type Scored struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
}

// Graph is the part of the store propagation reads.
type Graph interface {
	store.NeighborExpander
	EntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]common.Entity, error)
}

type Config struct {
	// Concurrency bounds the number of seed expansions in flight.
	Concurrency int
	// ExcludeLabel is the edge label the walk never follows.
	ExcludeLabel string
}

func DefaultConfig() Config {
	return Config{Concurrency: 4, ExcludeLabel: common.MentionsLabel}
}

type Propagator struct {
	graph  Graph
	config Config
}

func NewPropagator(graph Graph, config Config) *Propagator {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Propagator{graph: graph, config: config}
}

type contribution struct {
	name  string
	score float64
}

// Propagate returns the topK entities by aggregated relevance. A seed whose
// expansion fails is skipped; an error is returned only when every seed
// failed or the context ended.
func (p *Propagator) Propagate(
	ctx context.Context,
	tenant string,
	seedIDs []string,
	damping float64,
	maxHops int,
	topK int,
) ([]Scored, error) {
	if damping <= 0 || damping > 1 || math.IsNaN(damping) {
		return nil, fmt.Errorf("%w: damping %v outside (0, 1]", common.ErrInputValidation, damping)
	}
	if maxHops < 0 {
		return nil, fmt.Errorf("%w: negative max hops %d", common.ErrInputValidation, maxHops)
	}
	maxHops = min(maxHops, MaxHopsLimit)

	seeds := store.DedupeStrings(seedIDs)
	if len(seeds) == 0 {
		return nil, nil
	}

	seedNames := make(map[string]string, len(seeds))
	seedEntities, err := p.graph.EntitiesByIDs(ctx, tenant, seeds)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("[Propagate] seed lookup failed, scoring seeds by id", "tenant", tenant, "err", err)
		for _, id := range seeds {
			seedNames[id] = id
		}
	}
	for _, e := range seedEntities {
		seedNames[e.ID] = e.Name
	}

	var (
		mu      sync.Mutex
		totals  = make(map[string]*contribution)
		failed  int
		lastErr error
	)
	add := func(id, name string, score float64) {
		c, ok := totals[id]
		if !ok {
			c = &contribution{name: name}
			totals[id] = c
		}
		c.score += score
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for _, seed := range seeds {
		g.Go(func() error {
			neighbors, err := p.graph.ExpandNeighbors(gCtx, tenant, seed, maxHops, p.config.ExcludeLabel)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := gCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("[Propagate] seed expansion failed", "tenant", tenant, "seed", seed, "err", err)
				failed++
				lastErr = err
				return nil
			}
			if name, ok := seedNames[seed]; ok {
				add(seed, name, 1)
			}
			for _, n := range neighbors {
				if n.EntityID == seed {
					continue
				}
				add(n.EntityID, n.Name, math.Pow(damping, float64(n.Hops)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failed == len(seeds) {
		return nil, fmt.Errorf("all %d seed expansions failed: %w", failed, lastErr)
	}

	out := make([]Scored, 0, len(totals))
	for id, c := range totals {
		if c.score < 0 || math.IsNaN(c.score) {
			common.Violation("relevance of %s is %v", id, c.score)
		}
		if c.score == 0 {
			continue
		}
		out = append(out, Scored{EntityID: id, Name: c.name, Score: c.score})
	}
	slices.SortFunc(out, func(a, b Scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.EntityID, b.EntityID)
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}

	logger.Debug("[Propagate] propagated relevance", "tenant", tenant, "seeds", len(seeds), "failed", failed, "reached", len(totals), "returned", len(out))
	return out, nil
}
