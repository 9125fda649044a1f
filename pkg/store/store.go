// Package store defines the tenant-scoped graph store the retrieval core
// reads from and the canonicalization worker writes to. Every method takes
// the tenant (group) identifier and never touches another tenant's rows.
package store

import (
	"context"
	"errors"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
)

// ErrUnknownEntity is returned when a relationship or merge names an entity
// the tenant does not have.
var ErrUnknownEntity = errors.New("unknown entity")

// EntityReader reads entities and relationships.
type EntityReader interface {
	FetchEntities(ctx context.Context, tenant string) ([]common.Entity, error)
	FetchRelationships(ctx context.Context, tenant string) ([]common.Relationship, error)
	EntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]common.Entity, error)
	EntitiesByNames(ctx context.Context, tenant string, names []string) ([]common.Entity, error)
	// SearchEntities returns up to limit entities ranked by cosine
	// similarity between their embedding and the given vector.
	SearchEntities(ctx context.Context, tenant string, embedding []float32, limit int) ([]common.ScoredEntity, error)
}

// NeighborExpander walks the graph outward from one entity.
type NeighborExpander interface {
	// ExpandNeighbors returns every entity reachable from seedID within
	// maxHops edges, ignoring edge direction and edges labeled
	// excludeLabel, with the minimum hop count per entity. The seed itself
	// is not returned.
	ExpandNeighbors(ctx context.Context, tenant string, seedID string, maxHops int, excludeLabel string) ([]common.Neighbor, error)
}

// DocumentLookup resolves which documents mention an entity.
type DocumentLookup interface {
	// EntityDocuments maps each entity name to the documents whose chunks
	// mention it, ordered by document id.
	EntityDocuments(ctx context.Context, tenant string, names []string) (map[string][]string, error)
}

// ChunkReader reads text chunks.
type ChunkReader interface {
	// ChunksForEntities returns up to perEntity mentioning chunks per
	// entity, in document and chunk order.
	ChunksForEntities(ctx context.Context, tenant string, entityIDs []string, perEntity int) ([]common.EntityChunk, error)
	// CoverageChunks returns the first perDocument chunks of every
	// document, ordered by document id and chunk index.
	CoverageChunks(ctx context.Context, tenant string, perDocument int) ([]common.TextChunk, error)
}

// CommunityReader reads community membership and summaries.
type CommunityReader interface {
	Communities(ctx context.Context, tenant string) ([]common.Community, error)
}

// GraphWriter persists canonicalized graph data.
type GraphWriter interface {
	// UpsertEntities inserts entities or updates the existing entity with
	// the same case-insensitive name.
	UpsertEntities(ctx context.Context, tenant string, entities []common.Entity) error
	// UpsertRelationships resolves endpoints by id, or by name when the id
	// is empty, and inserts or updates on (source, label, target). Edges
	// whose endpoints resolve to the same entity are skipped.
	UpsertRelationships(ctx context.Context, tenant string, relationships []common.Relationship) error
	// MergeEntities points every variant name at its canonical entity and
	// moves the variant's relationships and mentions over. Variants are
	// kept as aliases and hidden from reads.
	MergeEntities(ctx context.Context, tenant string, mergeMap map[string]string) error
	UpdateCommunitySummaries(ctx context.Context, tenant string, communities []common.Community) error
}

// GraphStore is the full store used by the server and worker.
type GraphStore interface {
	EntityReader
	NeighborExpander
	DocumentLookup
	ChunkReader
	CommunityReader
	GraphWriter
}
