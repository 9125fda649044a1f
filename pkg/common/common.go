package common

// MentionsLabel is the edge label linking text chunks to the entities they
// mention. It records provenance, not semantic relatedness, so graph walks
// that spread relevance between entities skip it.
const MentionsLabel = "MENTIONS"

// DefaultRelationshipWeight is used when a relationship carries no weight.
const DefaultRelationshipWeight = 1.0

// Entity represents a node in the knowledge graph: an organization, person,
// location, or any other concept extracted from the corpus.
//
// Before canonicalization an entity is identified by its name. Afterwards a
// canonical name may own several alias variants; merged variants are never
// deleted, only pointed at their canonical entity.
type Entity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Degree       int       `json:"degree"`
	CommunityIDs []string  `json:"community_ids,omitempty"`
}

// Relationship is a directed, labeled edge between two entities.
//
// SourceID and TargetID hold store identifiers. Source and Target hold the
// endpoint names, which is what canonicalization rewrites before the store
// resolves them back to identifiers.
type Relationship struct {
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// EffectiveWeight returns the relationship weight, defaulting to 1.0 when the
// stored weight is absent or not positive.
func (r Relationship) EffectiveWeight() float64 {
	if r.Weight <= 0 {
		return DefaultRelationshipWeight
	}
	return r.Weight
}

// TextChunk is an immutable segment of a source document. It is the unit
// that ends up cited in answers.
type TextChunk struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	DocumentID  string   `json:"document_id"`
	SectionPath []string `json:"section_path,omitempty"`
	ChunkIndex  int      `json:"chunk_index"`
}

// Community is a cluster of entities produced by an external clustering run.
// Only membership and rank are consumed by retrieval; the summary feeds
// synthesis for thematic questions.
type Community struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	MemberEntityIDs []string `json:"member_entity_ids"`
	Rank            float64  `json:"rank"`
}

// SourceTag records which retrieval path produced a candidate chunk.
type SourceTag string

const (
	SourceEntity      SourceTag = "entity"
	SourcePropagation SourceTag = "propagation"
	SourceHub         SourceTag = "hub"
	SourceCoverage    SourceTag = "coverage"
)

// IsCoverage reports whether the tag marks a coverage-fill chunk.
func (t SourceTag) IsCoverage() bool {
	return t == SourceCoverage
}

// CandidateChunk is a chunk proposed by a retrieval path together with its
// relevance score. Scores are never negative.
type CandidateChunk struct {
	Chunk  TextChunk `json:"chunk"`
	Score  float64   `json:"score"`
	Source SourceTag `json:"source"`
}

// Neighbor is one row of a neighbor expansion: an entity reached from a seed
// and the minimum number of hops needed to reach it.
type Neighbor struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Hops     int    `json:"hops"`
}

// ScoredEntity pairs an entity with a retrieval score, e.g. vector similarity.
type ScoredEntity struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
}

// EntityChunk links a chunk to one entity it mentions.
type EntityChunk struct {
	EntityID string    `json:"entity_id"`
	Chunk    TextChunk `json:"chunk"`
}
