// Package community writes titles and summaries for entity communities so
// thematic questions have orientation text to synthesize from.
package community

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mirojs/graphrag-orchestration/internal/util"
	"github.com/mirojs/graphrag-orchestration/pkg/ai"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Graph is the store access the summarizer needs.
type Graph interface {
	store.CommunityReader
	FetchEntities(ctx context.Context, tenant string) ([]common.Entity, error)
	FetchRelationships(ctx context.Context, tenant string) ([]common.Relationship, error)
	UpdateCommunitySummaries(ctx context.Context, tenant string, communities []common.Community) error
}

type Config struct {
	Concurrency int
	// MaxEntities caps how many member entities go into one prompt.
	MaxEntities int
	// Attempts per community before it is skipped.
	Attempts   int
	RetryDelay time.Duration
}

type Summarizer struct {
	graph  Graph
	client ai.GraphAIClient
	cfg    Config
}

type report struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func NewSummarizer(graph Graph, client ai.GraphAIClient, cfg Config) *Summarizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = 50
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	return &Summarizer{graph: graph, client: client, cfg: cfg}
}

// Summarize regenerates community summaries for tenant. With onlyMissing set,
// communities that already have a summary are left alone. A failed model
// call skips that community; the count of updated communities is returned.
func (s *Summarizer) Summarize(ctx context.Context, tenant string, onlyMissing bool) (int, error) {
	communities, err := s.graph.Communities(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("load communities: %w", err)
	}
	if onlyMissing {
		communities = slices.DeleteFunc(communities, func(c common.Community) bool {
			return strings.TrimSpace(c.Summary) != ""
		})
	}
	if len(communities) == 0 {
		return 0, nil
	}

	entities, err := s.graph.FetchEntities(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("load entities: %w", err)
	}
	relationships, err := s.graph.FetchRelationships(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("load relationships: %w", err)
	}
	byID := make(map[string]common.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	updated := make([]*common.Community, len(communities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, c := range communities {
		g.Go(func() error {
			members, rels := s.describe(c, byID, relationships)
			if members == "" {
				return nil
			}
			var out report
			prompt := fmt.Sprintf(ai.CommunitySummaryPrompt, members, rels)
			err := util.RetryErr(gctx, s.cfg.Attempts, s.cfg.RetryDelay, func(ctx context.Context) error {
				return s.client.GenerateCompletionWithFormat(ctx, "community_report", "Title and summary of an entity community", prompt, &out)
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("[Community] summary failed", "tenant", tenant, "community", c.ID, "err", err)
				return nil
			}
			if strings.TrimSpace(out.Summary) == "" {
				logger.Warn("[Community] empty summary", "tenant", tenant, "community", c.ID)
				return nil
			}
			c.Title = strings.TrimSpace(out.Title)
			c.Summary = strings.TrimSpace(out.Summary)
			updated[i] = &c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var batch []common.Community
	for _, c := range updated {
		if c != nil {
			batch = append(batch, *c)
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := s.graph.UpdateCommunitySummaries(ctx, tenant, batch); err != nil {
		return 0, fmt.Errorf("save summaries: %w", err)
	}
	logger.Info("[Community] summarized communities", "tenant", tenant, "updated", len(batch), "requested", len(communities))
	return len(batch), nil
}

// describe renders the member entities and the relationships among them.
func (s *Summarizer) describe(c common.Community, byID map[string]common.Entity, relationships []common.Relationship) (string, string) {
	members := make(map[string]struct{}, len(c.MemberEntityIDs))
	var ents strings.Builder
	for _, id := range c.MemberEntityIDs {
		e, ok := byID[id]
		if !ok {
			continue
		}
		if len(members) == s.cfg.MaxEntities {
			break
		}
		members[id] = struct{}{}
		fmt.Fprintf(&ents, "- %s (%s): %s\n", e.Name, e.Type, e.Description)
	}

	var rels strings.Builder
	for _, r := range relationships {
		_, src := members[r.SourceID]
		_, tgt := members[r.TargetID]
		if !src || !tgt {
			continue
		}
		fmt.Fprintf(&rels, "- %s %s %s: %s\n", r.Source, r.Label, r.Target, r.Description)
	}
	return strings.TrimSpace(ents.String()), strings.TrimSpace(rels.String())
}
