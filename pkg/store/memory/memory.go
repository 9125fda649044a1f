// Package memory implements store.GraphStore in process memory. It backs the
// tests of every retrieval component and small single-node deployments.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mirojs/graphrag-orchestration/pkg/canon"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type entityRow struct {
	entity     common.Entity
	mergedInto string
}

type tenantGraph struct {
	entities      map[string]*entityRow
	byName        map[string]string
	entityOrder   []string
	relationships []common.Relationship
	chunks        map[string]common.TextChunk
	chunkOrder    []string
	mentions      map[string][]string
	communities   []common.Community
}

func newTenantGraph() *tenantGraph {
	return &tenantGraph{
		entities: make(map[string]*entityRow),
		byName:   make(map[string]string),
		chunks:   make(map[string]common.TextChunk),
		mentions: make(map[string][]string),
	}
}

// Store is an in-memory GraphStore. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantGraph

	hookMu       sync.Mutex
	delay        time.Duration
	failures     map[string]error
	seedFailures map[string]error
	calls        map[string]int
}

var _ store.GraphStore = (*Store)(nil)

func New() *Store {
	return &Store{
		tenants:      make(map[string]*tenantGraph),
		failures:     make(map[string]error),
		seedFailures: make(map[string]error),
		calls:        make(map[string]int),
	}
}

// SetDelay makes every read wait d before answering, or until the context
// is done.
func (s *Store) SetDelay(d time.Duration) {
	s.hookMu.Lock()
	s.delay = d
	s.hookMu.Unlock()
}

// SetFailure makes the named method (e.g. "ExpandNeighbors") return err.
// A nil err clears the failure.
func (s *Store) SetFailure(op string, err error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// SetSeedFailure makes ExpandNeighbors fail for one seed only.
func (s *Store) SetSeedFailure(seedID string, err error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	if err == nil {
		delete(s.seedFailures, seedID)
		return
	}
	s.seedFailures[seedID] = err
}

// Calls returns how often the named method was invoked.
func (s *Store) Calls(op string) int {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return s.calls[op]
}

func (s *Store) enter(ctx context.Context, op string) error {
	s.hookMu.Lock()
	s.calls[op]++
	delay := s.delay
	err := s.failures[op]
	s.hookMu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return common.NewTransportError(op, ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return common.NewTransportError(op, err)
	}
	if err != nil {
		return common.NewTransportError(op, err)
	}
	return nil
}

func (s *Store) tenant(tenant string) *tenantGraph {
	g, ok := s.tenants[tenant]
	if !ok {
		g = newTenantGraph()
		s.tenants[tenant] = g
	}
	return g
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func newID() string {
	id, err := gonanoid.New()
	if err != nil {
		panic(fmt.Sprintf("generate id: %v", err))
	}
	return id
}

// AddEntity inserts an entity and returns its id. An empty ID is generated.
func (s *Store) AddEntity(tenant string, e common.Entity) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenant(tenant).insertEntity(e)
}

func (g *tenantGraph) insertEntity(e common.Entity) string {
	if e.ID == "" {
		e.ID = newID()
	}
	e.Embedding = slices.Clone(e.Embedding)
	g.entities[e.ID] = &entityRow{entity: e}
	g.byName[key(e.Name)] = e.ID
	g.entityOrder = append(g.entityOrder, e.ID)
	return e.ID
}

// AddRelationship links two existing entities, resolved by id or name.
func (s *Store) AddRelationship(tenant string, r common.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenant(tenant).upsertRelationship(r)
}

// AddChunk stores a chunk and records which entities it mentions.
func (s *Store) AddChunk(tenant string, chunk common.TextChunk, mentionedEntityIDs ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.tenant(tenant)
	if chunk.ID == "" {
		chunk.ID = newID()
	}
	if _, ok := g.chunks[chunk.ID]; !ok {
		g.chunkOrder = append(g.chunkOrder, chunk.ID)
	}
	g.chunks[chunk.ID] = chunk
	g.mentions[chunk.ID] = store.DedupeStrings(append(g.mentions[chunk.ID], mentionedEntityIDs...))
	return chunk.ID
}

// AddCommunity stores a community.
func (s *Store) AddCommunity(tenant string, c common.Community) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.tenant(tenant)
	c.MemberEntityIDs = slices.Clone(c.MemberEntityIDs)
	g.communities = append(g.communities, c)
}

// resolve follows merge pointers to the active entity.
func (g *tenantGraph) resolve(id string) (*entityRow, bool) {
	row, ok := g.entities[id]
	for steps := 0; ok && row.mergedInto != ""; steps++ {
		if steps > len(g.entities) {
			common.Violation("merge pointers of %q do not terminate", id)
		}
		row, ok = g.entities[row.mergedInto]
	}
	return row, ok
}

func (g *tenantGraph) byNameResolved(name string) (*entityRow, bool) {
	id, ok := g.byName[key(name)]
	if !ok {
		return nil, false
	}
	return g.resolve(id)
}

func (g *tenantGraph) degrees() map[string]int {
	deg := make(map[string]int)
	for _, r := range g.relationships {
		if r.Label == common.MentionsLabel {
			continue
		}
		deg[r.SourceID]++
		deg[r.TargetID]++
	}
	return deg
}

func (g *tenantGraph) snapshot(row *entityRow, deg map[string]int) common.Entity {
	e := row.entity
	e.Embedding = slices.Clone(e.Embedding)
	e.CommunityIDs = nil
	for _, c := range g.communities {
		if slices.Contains(c.MemberEntityIDs, e.ID) {
			e.CommunityIDs = append(e.CommunityIDs, c.ID)
		}
	}
	e.Degree = deg[e.ID]
	return e
}

func (s *Store) FetchEntities(ctx context.Context, tenant string) ([]common.Entity, error) {
	if err := s.enter(ctx, "FetchEntities"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok {
		return nil, nil
	}
	deg := g.degrees()
	out := make([]common.Entity, 0, len(g.entityOrder))
	for _, id := range g.entityOrder {
		row := g.entities[id]
		if row.mergedInto != "" {
			continue
		}
		out = append(out, g.snapshot(row, deg))
	}
	return out, nil
}

func (s *Store) FetchRelationships(ctx context.Context, tenant string) ([]common.Relationship, error) {
	if err := s.enter(ctx, "FetchRelationships"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok {
		return nil, nil
	}
	out := make([]common.Relationship, 0, len(g.relationships))
	for _, r := range g.relationships {
		if r.Label == common.MentionsLabel {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) EntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]common.Entity, error) {
	if err := s.enter(ctx, "EntitiesByIDs"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok {
		return nil, nil
	}
	deg := g.degrees()
	seen := make(map[string]struct{}, len(ids))
	var out []common.Entity
	for _, id := range ids {
		row, ok := g.resolve(id)
		if !ok {
			continue
		}
		if _, dup := seen[row.entity.ID]; dup {
			continue
		}
		seen[row.entity.ID] = struct{}{}
		out = append(out, g.snapshot(row, deg))
	}
	return out, nil
}

func (s *Store) EntitiesByNames(ctx context.Context, tenant string, names []string) ([]common.Entity, error) {
	if err := s.enter(ctx, "EntitiesByNames"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok {
		return nil, nil
	}
	deg := g.degrees()
	seen := make(map[string]struct{}, len(names))
	var out []common.Entity
	for _, name := range names {
		row, ok := g.byNameResolved(name)
		if !ok {
			continue
		}
		if _, dup := seen[row.entity.ID]; dup {
			continue
		}
		seen[row.entity.ID] = struct{}{}
		out = append(out, g.snapshot(row, deg))
	}
	return out, nil
}

func (s *Store) SearchEntities(ctx context.Context, tenant string, embedding []float32, limit int) ([]common.ScoredEntity, error) {
	if err := s.enter(ctx, "SearchEntities"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok || limit <= 0 {
		return nil, nil
	}
	deg := g.degrees()
	var out []common.ScoredEntity
	for _, id := range g.entityOrder {
		row := g.entities[id]
		if row.mergedInto != "" || len(row.entity.Embedding) == 0 {
			continue
		}
		score := canon.Cosine(embedding, row.entity.Embedding)
		if score <= 0 {
			continue
		}
		out = append(out, common.ScoredEntity{Entity: g.snapshot(row, deg), Score: score})
	}
	slices.SortStableFunc(out, func(a, b common.ScoredEntity) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.Entity.Name, b.Entity.Name)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExpandNeighbors walks breadth first. Chunks are graph nodes joined to the
// entities they mention by MENTIONS edges, so excluding that label keeps the
// walk on entity-to-entity relationships.
func (s *Store) ExpandNeighbors(ctx context.Context, tenant string, seedID string, maxHops int, excludeLabel string) ([]common.Neighbor, error) {
	if err := s.enter(ctx, "ExpandNeighbors"); err != nil {
		return nil, err
	}
	s.hookMu.Lock()
	seedErr := s.seedFailures[seedID]
	s.hookMu.Unlock()
	if seedErr != nil {
		return nil, common.NewTransportError("ExpandNeighbors", seedErr)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok {
		return nil, nil
	}
	seed, ok := g.resolve(seedID)
	if !ok || maxHops <= 0 {
		return nil, nil
	}

	adj := make(map[string][]string)
	link := func(a, b string) {
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	for _, r := range g.relationships {
		if r.Label == excludeLabel {
			continue
		}
		link(r.SourceID, r.TargetID)
	}
	if excludeLabel != common.MentionsLabel {
		for _, chunkID := range g.chunkOrder {
			for _, entityID := range g.mentions[chunkID] {
				link("chunk:"+chunkID, entityID)
			}
		}
	}

	hops := map[string]int{seed.entity.ID: 0}
	frontier := []string{seed.entity.ID}
	var out []common.Neighbor
	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, common.NewTransportError("ExpandNeighbors", err)
		}
		var next []string
		for _, node := range frontier {
			for _, nb := range adj[node] {
				if _, seen := hops[nb]; seen {
					continue
				}
				hops[nb] = depth
				next = append(next, nb)
				if row, ok := g.entities[nb]; ok && row.mergedInto == "" {
					out = append(out, common.Neighbor{EntityID: nb, Name: row.entity.Name, Hops: depth})
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (s *Store) EntityDocuments(ctx context.Context, tenant string, names []string) (map[string][]string, error) {
	if err := s.enter(ctx, "EntityDocuments"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(names))
	g, ok := s.tenants[tenant]
	if !ok {
		return out, nil
	}
	for _, name := range names {
		row, ok := g.byNameResolved(name)
		if !ok {
			continue
		}
		var docs []string
		for _, chunkID := range g.chunkOrder {
			if slices.Contains(g.mentions[chunkID], row.entity.ID) {
				docs = append(docs, g.chunks[chunkID].DocumentID)
			}
		}
		slices.Sort(docs)
		out[name] = slices.Compact(docs)
	}
	return out, nil
}

func (s *Store) ChunksForEntities(ctx context.Context, tenant string, entityIDs []string, perEntity int) ([]common.EntityChunk, error) {
	if err := s.enter(ctx, "ChunksForEntities"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok || perEntity <= 0 {
		return nil, nil
	}
	var out []common.EntityChunk
	for _, id := range store.DedupeStrings(entityIDs) {
		row, ok := g.resolve(id)
		if !ok {
			continue
		}
		var chunks []common.TextChunk
		for _, chunkID := range g.chunkOrder {
			if slices.Contains(g.mentions[chunkID], row.entity.ID) {
				chunks = append(chunks, g.chunks[chunkID])
			}
		}
		sortChunks(chunks)
		for i, c := range chunks {
			if i == perEntity {
				break
			}
			out = append(out, common.EntityChunk{EntityID: id, Chunk: c})
		}
	}
	return out, nil
}

func (s *Store) CoverageChunks(ctx context.Context, tenant string, perDocument int) ([]common.TextChunk, error) {
	if err := s.enter(ctx, "CoverageChunks"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok || perDocument <= 0 {
		return nil, nil
	}
	all := make([]common.TextChunk, 0, len(g.chunkOrder))
	for _, chunkID := range g.chunkOrder {
		all = append(all, g.chunks[chunkID])
	}
	sortChunks(all)
	var out []common.TextChunk
	perDoc := make(map[string]int)
	for _, c := range all {
		if perDoc[c.DocumentID] == perDocument {
			continue
		}
		perDoc[c.DocumentID]++
		out = append(out, c)
	}
	return out, nil
}

func sortChunks(chunks []common.TextChunk) {
	slices.SortStableFunc(chunks, func(a, b common.TextChunk) int {
		if c := strings.Compare(a.DocumentID, b.DocumentID); c != 0 {
			return c
		}
		return a.ChunkIndex - b.ChunkIndex
	})
}

func (s *Store) Communities(ctx context.Context, tenant string) ([]common.Community, error) {
	if err := s.enter(ctx, "Communities"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.tenants[tenant]
	if !ok {
		return nil, nil
	}
	out := make([]common.Community, len(g.communities))
	for i, c := range g.communities {
		c.MemberEntityIDs = slices.Clone(c.MemberEntityIDs)
		out[i] = c
	}
	return out, nil
}

func (s *Store) UpsertEntities(ctx context.Context, tenant string, entities []common.Entity) error {
	if err := s.enter(ctx, "UpsertEntities"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.tenant(tenant)
	for _, e := range entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		id, ok := g.byName[key(e.Name)]
		if !ok {
			g.insertEntity(e)
			continue
		}
		row := g.entities[id]
		if e.Type != "" {
			row.entity.Type = e.Type
		}
		if e.Description != "" {
			row.entity.Description = e.Description
		}
		if len(e.Embedding) > 0 {
			row.entity.Embedding = slices.Clone(e.Embedding)
		}
	}
	return nil
}

func (s *Store) UpsertRelationships(ctx context.Context, tenant string, relationships []common.Relationship) error {
	if err := s.enter(ctx, "UpsertRelationships"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.tenant(tenant)
	for _, r := range relationships {
		if err := g.upsertRelationship(r); err != nil {
			return err
		}
	}
	return nil
}

func (g *tenantGraph) endpoint(id, name string) (string, error) {
	if id != "" {
		if row, ok := g.resolve(id); ok {
			return row.entity.ID, nil
		}
	}
	if name != "" {
		if row, ok := g.byNameResolved(name); ok {
			return row.entity.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", store.ErrUnknownEntity, cmp.Or(name, id))
}

func (g *tenantGraph) upsertRelationship(r common.Relationship) error {
	src, err := g.endpoint(r.SourceID, r.Source)
	if err != nil {
		return err
	}
	tgt, err := g.endpoint(r.TargetID, r.Target)
	if err != nil {
		return err
	}
	if src == tgt {
		return nil
	}
	r.SourceID, r.TargetID = src, tgt
	r.Source = g.entities[src].entity.Name
	r.Target = g.entities[tgt].entity.Name
	for i, existing := range g.relationships {
		if existing.SourceID == src && existing.TargetID == tgt && existing.Label == r.Label {
			g.relationships[i] = r
			return nil
		}
	}
	g.relationships = append(g.relationships, r)
	return nil
}

func (s *Store) MergeEntities(ctx context.Context, tenant string, mergeMap map[string]string) error {
	if err := s.enter(ctx, "MergeEntities"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.tenant(tenant)

	variants := make([]string, 0, len(mergeMap))
	for v := range mergeMap {
		variants = append(variants, v)
	}
	slices.Sort(variants)

	for _, variant := range variants {
		canonical, ok := g.byNameResolved(mergeMap[variant])
		if !ok {
			return fmt.Errorf("%w: canonical %q", store.ErrUnknownEntity, mergeMap[variant])
		}
		id, ok := g.byName[key(variant)]
		if !ok {
			continue
		}
		row := g.entities[id]
		if row.mergedInto != "" || row.entity.ID == canonical.entity.ID {
			continue
		}
		row.mergedInto = canonical.entity.ID
		g.repoint(row.entity.ID, canonical.entity.ID, canonical.entity.Name)
	}
	return nil
}

func (g *tenantGraph) repoint(from, to, toName string) {
	kept := g.relationships[:0]
	seen := make(map[string]struct{}, len(g.relationships))
	for _, r := range g.relationships {
		if r.SourceID == from {
			r.SourceID, r.Source = to, toName
		}
		if r.TargetID == from {
			r.TargetID, r.Target = to, toName
		}
		if r.SourceID == r.TargetID {
			continue
		}
		k := r.SourceID + "\x00" + r.Label + "\x00" + r.TargetID
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, r)
	}
	g.relationships = kept

	for chunkID, ids := range g.mentions {
		for i, id := range ids {
			if id == from {
				ids[i] = to
			}
		}
		g.mentions[chunkID] = store.DedupeStrings(ids)
	}
	for i := range g.communities {
		members := g.communities[i].MemberEntityIDs
		for j, id := range members {
			if id == from {
				members[j] = to
			}
		}
		g.communities[i].MemberEntityIDs = store.DedupeStrings(members)
	}
}

func (s *Store) UpdateCommunitySummaries(ctx context.Context, tenant string, communities []common.Community) error {
	if err := s.enter(ctx, "UpdateCommunitySummaries"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.tenant(tenant)
	for _, update := range communities {
		for i := range g.communities {
			if g.communities[i].ID != update.ID {
				continue
			}
			if update.Title != "" {
				g.communities[i].Title = update.Title
			}
			g.communities[i].Summary = update.Summary
		}
	}
	return nil
}
