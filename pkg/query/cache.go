package query

import (
	"context"
	"sync"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store"
)

// CacheSource is what TenantCache loads from.
type CacheSource interface {
	store.CommunityReader
	EntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]common.Entity, error)
}

type tenantEntry struct {
	communities       []common.Community
	communitiesLoaded bool
	entities          map[string]common.Entity
}

// TenantCache holds community summaries and entity info per tenant. Entries
// load on first use and stay until invalidated; one orchestrator owns one
// cache.
type TenantCache struct {
	source CacheSource

	mu      sync.Mutex
	tenants map[string]*tenantEntry
}

func NewTenantCache(source CacheSource) *TenantCache {
	return &TenantCache{
		source:  source,
		tenants: make(map[string]*tenantEntry),
	}
}

func (c *TenantCache) entry(tenant string) *tenantEntry {
	e, ok := c.tenants[tenant]
	if !ok {
		e = &tenantEntry{entities: make(map[string]common.Entity)}
		c.tenants[tenant] = e
	}
	return e
}

// Communities returns the tenant's communities, loading them on a miss.
// Failed loads are not cached.
func (c *TenantCache) Communities(ctx context.Context, tenant string) ([]common.Community, error) {
	c.mu.Lock()
	e := c.entry(tenant)
	if e.communitiesLoaded {
		out := e.communities
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	communities, err := c.source.Communities(ctx, tenant)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e = c.entry(tenant)
	e.communities = communities
	e.communitiesLoaded = true
	return communities, nil
}

// EntityInfo returns the requested entities by id, loading only the ids not
// cached yet. Unknown ids are absent from the result.
func (c *TenantCache) EntityInfo(ctx context.Context, tenant string, ids []string) (map[string]common.Entity, error) {
	ids = store.DedupeStrings(ids)
	out := make(map[string]common.Entity, len(ids))

	c.mu.Lock()
	e := c.entry(tenant)
	var missing []string
	for _, id := range ids {
		if ent, ok := e.entities[id]; ok {
			out[id] = ent
			continue
		}
		missing = append(missing, id)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := c.source.EntitiesByIDs(ctx, tenant, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e = c.entry(tenant)
	for _, ent := range loaded {
		e.entities[ent.ID] = ent
		out[ent.ID] = ent
	}
	return out, nil
}

// Invalidate drops everything cached for tenant.
func (c *TenantCache) Invalidate(tenant string) {
	c.mu.Lock()
	delete(c.tenants, tenant)
	c.mu.Unlock()
}

// InvalidateAll drops every tenant.
func (c *TenantCache) InvalidateAll() {
	c.mu.Lock()
	c.tenants = make(map[string]*tenantEntry)
	c.mu.Unlock()
}
