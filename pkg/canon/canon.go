// Package canon deduplicates entity name variants before they enter the
// graph. Decisions are deterministic and every merge records its reason.
package canon

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
)

const (
	DefaultSimilarityThreshold = 0.95
	DefaultMinEntitiesForDedup = 10
)

// Config controls which rules Deduplicate applies.
type Config struct {
	SimilarityThreshold float64
	MinEntitiesForDedup int
	EnableAcronym       bool
	EnableAbbreviation  bool
}

// DefaultConfig returns the conservative defaults with every rule enabled.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MinEntitiesForDedup: DefaultMinEntitiesForDedup,
		EnableAcronym:       true,
		EnableAbbreviation:  true,
	}
}

// EntityCandidate is an extracted entity awaiting canonicalization.
type EntityCandidate struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// MergeReason records why a variant was merged. Score is set for embedding
// matches only.
type MergeReason struct {
	Type  MatchType `json:"type"`
	Score *float64  `json:"score,omitempty"`
}

// Stats summarizes a Deduplicate run.
type Stats struct {
	InputEntities       int  `json:"input_entities"`
	DistinctNames       int  `json:"distinct_names"`
	Clusters            int  `json:"clusters"`
	Merged              int  `json:"merged"`
	DroppedInvalid      int  `json:"dropped_invalid"`
	DiscardedEmbeddings int  `json:"discarded_embeddings"`
	Skipped             bool `json:"skipped"`
}

// MergeResult is the output of Deduplicate.
//
// MergeMap maps every non-canonical name to its canonical name. Names absent
// from the map are their own canonical form.
type MergeResult struct {
	MergeMap            map[string]string      `json:"merge_map"`
	CanonicalToVariants map[string][]string    `json:"canonical_to_variants"`
	MergeReasons        map[string]MergeReason `json:"merge_reasons"`
	Stats               Stats                  `json:"stats"`
}

func newMergeResult() MergeResult {
	return MergeResult{
		MergeMap:            make(map[string]string),
		CanonicalToVariants: make(map[string][]string),
		MergeReasons:        make(map[string]MergeReason),
	}
}

// Resolve follows the merge map from name to its fixed point. It fails with
// an InvariantViolation when the walk does not terminate within the size of
// the map, which can only happen on a cycle.
func (r MergeResult) Resolve(name string) (string, error) {
	current := name
	for hops := 0; hops <= len(r.MergeMap); hops++ {
		next, ok := r.MergeMap[current]
		if !ok || next == current {
			return current, nil
		}
		current = next
	}
	return "", &common.InvariantViolation{What: fmt.Sprintf("merge map cycle starting at %q", name)}
}

// Canonical is Resolve for callers that treat a cycle as fatal.
func (r MergeResult) Canonical(name string) string {
	canonical, err := r.Resolve(name)
	if err != nil {
		panic(err)
	}
	return canonical
}

// Validate checks that every key resolves and that canonical names are
// never themselves mapped.
func (r MergeResult) Validate() error {
	for variant := range r.MergeMap {
		if _, err := r.Resolve(variant); err != nil {
			return err
		}
	}
	for canonical := range r.CanonicalToVariants {
		if _, mapped := r.MergeMap[canonical]; mapped {
			return &common.InvariantViolation{What: fmt.Sprintf("canonical %q appears as a variant", canonical)}
		}
	}
	return nil
}

// Engine runs entity canonicalization with a fixed configuration. It holds
// no mutable state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine returns an Engine, replacing out-of-range settings with defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MinEntitiesForDedup < 0 {
		cfg.MinEntitiesForDedup = 0
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config {
	return e.cfg
}

type node struct {
	name      string
	embedding []float32
}

// Deduplicate clusters name variants and returns the merge decisions.
//
// Every unordered pair of names not already in one cluster is compared in
// sorted name order, trying embedding similarity, then acronym, then
// abbreviation, stopping at the first rule that matches. On a match the
// shorter name becomes the cluster root; on equal length the existing root
// of the lexicographically smaller name stays.
func (e *Engine) Deduplicate(entities []EntityCandidate) MergeResult {
	result := newMergeResult()
	result.Stats.InputEntities = len(entities)

	nodes, dropped, discarded := e.prepare(entities)
	result.Stats.DroppedInvalid = dropped
	result.Stats.DiscardedEmbeddings = discarded

	distinct := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		distinct[normalizeKey(n.name)] = struct{}{}
	}
	result.Stats.DistinctNames = len(distinct)

	if len(distinct) < e.cfg.MinEntitiesForDedup {
		result.Stats.Skipped = true
		result.Stats.Clusters = len(nodes)
		logger.Debug("[Canon] skipped deduplication", "distinct", len(distinct), "min", e.cfg.MinEntitiesForDedup)
		return result
	}

	uf := NewUnionFind(func(a, b string) bool {
		return utf8.RuneCountInString(a) < utf8.RuneCountInString(b)
	})
	for _, n := range nodes {
		uf.Add(n.name)
	}

	reasons := make(map[string]MergeReason)
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := nodes[i], nodes[j]
			if uf.Connected(a.name, b.name) {
				continue
			}
			reason, ok := e.match(a, b)
			if !ok {
				continue
			}
			uf.Union(a.name, b.name)
			for _, name := range []string{a.name, b.name} {
				if _, seen := reasons[name]; !seen {
					reasons[name] = reason
				}
			}
		}
	}

	groups := uf.Groups()
	result.Stats.Clusters = len(groups)
	for root, members := range groups {
		if len(members) < 2 {
			continue
		}
		variants := make([]string, 0, len(members)-1)
		for _, m := range members {
			if m == root {
				continue
			}
			variants = append(variants, m)
			result.MergeMap[m] = root
			result.MergeReasons[m] = reasons[m]
		}
		sort.Strings(variants)
		result.CanonicalToVariants[root] = variants
		result.Stats.Merged += len(variants)
	}

	if err := result.Validate(); err != nil {
		panic(err)
	}

	logger.Info("[Canon] deduplicated entities",
		"input", result.Stats.InputEntities,
		"distinct", result.Stats.DistinctNames,
		"clusters", result.Stats.Clusters,
		"merged", result.Stats.Merged,
		"dropped_invalid", result.Stats.DroppedInvalid,
	)
	return result
}

// prepare drops blank names, folds repeated names into one node and discards
// embeddings whose width differs from the batch majority. Nodes come back in
// sorted name order.
func (e *Engine) prepare(entities []EntityCandidate) ([]node, int, int) {
	dropped := 0
	dimCount := make(map[int]int)
	dimOrder := make([]int, 0, 1)
	for _, ent := range entities {
		if strings.TrimSpace(ent.Name) == "" {
			continue
		}
		if d := len(ent.Embedding); d > 0 {
			if dimCount[d] == 0 {
				dimOrder = append(dimOrder, d)
			}
			dimCount[d]++
		}
	}
	majority := 0
	for _, d := range dimOrder {
		if dimCount[d] > dimCount[majority] {
			majority = d
		}
	}

	discarded := 0
	byName := make(map[string]*node)
	for _, ent := range entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			dropped++
			continue
		}
		emb := ent.Embedding
		if len(emb) > 0 && len(emb) != majority {
			discarded++
			emb = nil
		}
		if existing, ok := byName[name]; ok {
			if existing.embedding == nil && emb != nil {
				existing.embedding = emb
			}
			continue
		}
		byName[name] = &node{name: name, embedding: emb}
	}

	nodes := make([]node, 0, len(byName))
	for _, n := range byName {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].name < nodes[j].name })
	return nodes, dropped, discarded
}

func (e *Engine) match(a, b node) (MergeReason, bool) {
	if a.embedding != nil && b.embedding != nil {
		if sim := Cosine(a.embedding, b.embedding); sim >= e.cfg.SimilarityThreshold {
			return MergeReason{Type: MatchEmbedding, Score: &sim}, true
		}
	}
	if e.cfg.EnableAcronym && (isAcronym(a.name, b.name) || isAcronym(b.name, a.name)) {
		return MergeReason{Type: MatchAcronym}, true
	}
	if e.cfg.EnableAbbreviation && isAbbreviation(a.name, b.name) {
		return MergeReason{Type: MatchAbbreviation}, true
	}
	return MergeReason{}, false
}

func normalizeKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
