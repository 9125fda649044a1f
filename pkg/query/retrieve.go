package query

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/mirojs/graphrag-orchestration/pkg/ai"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/hubs"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	"golang.org/x/sync/errgroup"
)

// entityScore is a retrieval-scored entity and the path that produced it.
type entityScore struct {
	id     string
	name   string
	score  float64
	source common.SourceTag
}

// retrieveLocal answers entity lookups: the entities closest to the question
// and the chunks that mention them.
func (o *Orchestrator) retrieveLocal(ctx context.Context, r *run) retrieval {
	seeds := o.seeds(ctx, r, r.question, "local.seeds")
	RecordSeedEntityIDs(r.trace, entityIDs(seeds)...)
	return retrieval{entity: o.chunksFor(ctx, r, seeds)}
}

// retrieveGlobal answers thematic questions: hubs of the top communities,
// relevance spread from them, and one coverage chunk per document.
func (o *Orchestrator) retrieveGlobal(ctx context.Context, r *run) retrieval {
	var top []common.Community
	gctx, cancel := o.graphContext(ctx)
	communities, err := o.cache.Communities(gctx, r.tenant)
	cancel()
	if err != nil {
		r.diag.add("global.communities", err)
	} else {
		top = topCommunities(communities, o.config.MaxCommunities)
	}

	groups, nameToID := o.communityGroups(ctx, r, top)

	var hubNames []string
	if len(groups) > 0 {
		hubNames, err = o.hubs.Select(ctx, r.tenant, groups, o.config.HubsPerCommunity)
	} else {
		seeds := o.seeds(ctx, r, r.question, "global.seeds")
		names := make([]string, 0, len(seeds))
		for _, s := range seeds {
			names = append(names, s.name)
			nameToID[s.name] = s.id
		}
		hubNames, err = o.hubs.Diversify(ctx, r.tenant, names, o.config.DynamicHubs)
	}
	if err != nil {
		r.diag.add("global.hubs", err)
	}
	RecordHubs(r.trace, hubNames...)

	hubIDs := make([]string, 0, len(hubNames))
	fallback := make([]entityScore, 0, len(hubNames))
	for _, name := range hubNames {
		id, ok := nameToID[name]
		if !ok {
			continue
		}
		hubIDs = append(hubIDs, id)
		fallback = append(fallback, entityScore{id: id, name: name, score: 1, source: common.SourceHub})
	}
	RecordSeedEntityIDs(r.trace, hubIDs...)

	scored := o.spread(ctx, r, hubIDs, common.SourceHub, fallback, "global.propagate")

	res := retrieval{
		entity:      o.chunksFor(ctx, r, scored),
		communities: top,
	}

	gctx, cancel = o.graphContext(ctx)
	defer cancel()
	coverage, err := o.graph.CoverageChunks(gctx, r.tenant, o.config.CoveragePerDocument)
	if err != nil {
		r.diag.add("global.coverage", err)
		return res
	}
	for _, c := range coverage {
		res.coverage = append(res.coverage, common.CandidateChunk{Chunk: c, Source: common.SourceCoverage})
	}
	return res
}

// communityGroups turns communities into hub candidate groups with the
// member degrees from the tenant cache.
func (o *Orchestrator) communityGroups(ctx context.Context, r *run, communities []common.Community) ([]hubs.CandidateGroup, map[string]string) {
	nameToID := make(map[string]string)
	if len(communities) == 0 {
		return nil, nameToID
	}

	var memberIDs []string
	for _, c := range communities {
		memberIDs = append(memberIDs, c.MemberEntityIDs...)
	}
	gctx, cancel := o.graphContext(ctx)
	info, err := o.cache.EntityInfo(gctx, r.tenant, memberIDs)
	cancel()
	if err != nil {
		r.diag.add("global.entities", err)
		return nil, nameToID
	}

	groups := make([]hubs.CandidateGroup, 0, len(communities))
	for _, c := range communities {
		group := hubs.CandidateGroup{ID: c.ID}
		for _, id := range c.MemberEntityIDs {
			ent, ok := info[id]
			if !ok {
				continue
			}
			degree := ent.Degree
			group.Candidates = append(group.Candidates, hubs.Candidate{Name: ent.Name, Degree: &degree})
			nameToID[ent.Name] = ent.ID
		}
		if len(group.Candidates) > 0 {
			groups = append(groups, group)
		}
	}
	return groups, nameToID
}

// retrieveDrift answers multi-hop questions: the question is decomposed,
// each sub-question finds its own seeds concurrently, and relevance is
// spread from the union of seeds.
func (o *Orchestrator) retrieveDrift(ctx context.Context, r *run) retrieval {
	subs := o.decompose(ctx, r)
	RecordSubQuestions(r.trace, subs...)

	results := make([][]entityScore, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)
	for i, q := range subs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = o.seeds(gctx, r, q, "drift.seeds")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.diag.add("drift.seeds", err)
	}

	best := make(map[string]int)
	var seeds []entityScore
	for _, res := range results {
		for _, s := range res {
			if i, ok := best[s.id]; ok {
				seeds[i].score = max(seeds[i].score, s.score)
				continue
			}
			best[s.id] = len(seeds)
			seeds = append(seeds, s)
		}
	}
	if len(seeds) == 0 {
		return retrieval{}
	}
	RecordSeedEntityIDs(r.trace, entityIDs(seeds)...)

	scored := o.spread(ctx, r, entityIDs(seeds), common.SourceEntity, seeds, "drift.propagate")
	return retrieval{entity: o.chunksFor(ctx, r, scored)}
}

// decompose splits the question into sub-questions, falling back to the
// question itself.
func (o *Orchestrator) decompose(ctx context.Context, r *run) []string {
	limit := max(o.config.MaxSubQuestions, 1)

	var out struct {
		Questions []string `json:"questions"`
	}
	actx, cancel := o.aiContext(ctx)
	defer cancel()
	err := o.client.GenerateCompletionWithFormat(actx,
		"sub_questions",
		"Self-contained sub-questions of a complex question",
		fmt.Sprintf(ai.DecomposePrompt, r.question, limit),
		&out,
	)
	if err != nil {
		r.diag.add("drift.decompose", err)
		return []string{r.question}
	}

	var subs []string
	for _, q := range out.Questions {
		q = strings.TrimSpace(q)
		if q == "" || slices.Contains(subs, q) {
			continue
		}
		subs = append(subs, q)
		if len(subs) == limit {
			break
		}
	}
	if len(subs) == 0 {
		return []string{r.question}
	}
	return subs
}

// seeds finds the entities a question is about by vector search. When the
// question cannot be embedded it falls back to looking up capitalized terms
// by name.
func (o *Orchestrator) seeds(ctx context.Context, r *run, question, stage string) []entityScore {
	actx, cancel := o.aiContext(ctx)
	embedding, err := o.client.GenerateEmbedding(actx, []byte(question))
	cancel()
	if err == nil && len(embedding) == 0 {
		err = fmt.Errorf("%w: empty embedding", common.ErrMalformedResponse)
	}
	if err != nil {
		r.diag.add(stage, err)
		return o.seedsByName(ctx, r, question, stage)
	}

	gctx, cancel := o.graphContext(ctx)
	defer cancel()
	found, err := o.graph.SearchEntities(gctx, r.tenant, embedding, o.config.LocalTopEntities)
	if err != nil {
		r.diag.add(stage, err)
		return nil
	}
	out := make([]entityScore, 0, len(found))
	for _, f := range found {
		out = append(out, entityScore{id: f.Entity.ID, name: f.Entity.Name, score: f.Score, source: common.SourceEntity})
	}
	return out
}

func (o *Orchestrator) seedsByName(ctx context.Context, r *run, question, stage string) []entityScore {
	terms := capitalizedTerms(question)
	if len(terms) == 0 {
		return nil
	}
	gctx, cancel := o.graphContext(ctx)
	defer cancel()
	found, err := o.graph.EntitiesByNames(gctx, r.tenant, terms)
	if err != nil {
		r.diag.add(stage, err)
		return nil
	}
	out := make([]entityScore, 0, len(found))
	for _, e := range found {
		out = append(out, entityScore{id: e.ID, name: e.Name, score: 1, source: common.SourceEntity})
	}
	return out
}

// capitalizedTerms returns capitalized words and runs of them, e.g.
// "Microsoft Corp" and its parts, in order of appearance.
func capitalizedTerms(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-' && r != '&' && r != '.'
	})
	var (
		out    []string
		phrase []string
	)
	flush := func() {
		if len(phrase) > 1 {
			out = append(out, strings.Join(phrase, " "))
		}
		phrase = nil
	}
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f == "" {
			flush()
			continue
		}
		if unicode.IsUpper([]rune(f)[0]) {
			out = append(out, f)
			phrase = append(phrase, f)
			continue
		}
		flush()
	}
	flush()
	return store.DedupeStrings(out)
}

// spread propagates relevance from seeds. Seeds keep the given source tag,
// reached entities are tagged as propagation. On failure the fallback scores
// are used unchanged.
func (o *Orchestrator) spread(
	ctx context.Context,
	r *run,
	seedIDs []string,
	seedSource common.SourceTag,
	fallback []entityScore,
	stage string,
) []entityScore {
	if len(seedIDs) == 0 {
		return fallback
	}
	scored, err := o.propagator.Propagate(ctx, r.tenant, seedIDs, o.config.Damping, o.config.MaxHops, o.config.PropagateTopK)
	if err != nil {
		r.diag.add(stage, err)
		return fallback
	}

	isSeed := make(map[string]struct{}, len(seedIDs))
	for _, id := range seedIDs {
		isSeed[id] = struct{}{}
	}
	out := make([]entityScore, 0, len(scored))
	for _, s := range scored {
		source := common.SourcePropagation
		if _, ok := isSeed[s.EntityID]; ok {
			source = seedSource
		}
		out = append(out, entityScore{id: s.EntityID, name: s.Name, score: s.Score, source: source})
	}
	RecordPropagatedEntityIDs(r.trace, entityIDs(out)...)
	return out
}

// chunksFor loads the chunks mentioning the scored entities. A chunk
// mentioning several entities keeps its best score.
func (o *Orchestrator) chunksFor(ctx context.Context, r *run, scored []entityScore) []common.CandidateChunk {
	if len(scored) == 0 {
		return nil
	}
	byID := make(map[string]entityScore, len(scored))
	for _, s := range scored {
		byID[s.id] = s
	}

	gctx, cancel := o.graphContext(ctx)
	defer cancel()
	linked, err := o.graph.ChunksForEntities(gctx, r.tenant, entityIDs(scored), o.config.ChunksPerEntity)
	if err != nil {
		r.diag.add("chunks", err)
		return nil
	}

	index := make(map[string]int, len(linked))
	var out []common.CandidateChunk
	for _, ec := range linked {
		s, ok := byID[ec.EntityID]
		if !ok {
			continue
		}
		if i, seen := index[ec.Chunk.ID]; seen {
			if s.score > out[i].Score {
				out[i].Score = s.score
				out[i].Source = s.source
			}
			continue
		}
		index[ec.Chunk.ID] = len(out)
		out = append(out, common.CandidateChunk{Chunk: ec.Chunk, Score: s.score, Source: s.source})
	}
	return out
}

func topCommunities(communities []common.Community, limit int) []common.Community {
	sorted := slices.Clone(communities)
	slices.SortStableFunc(sorted, func(a, b common.Community) int {
		return cmp.Compare(b.Rank, a.Rank)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func entityIDs(scores []entityScore) []string {
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.id
	}
	return out
}
