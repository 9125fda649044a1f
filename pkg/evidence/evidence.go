// Package evidence merges candidate chunks from the retrieval paths into one
// deduplicated, scored and citable context. Everything here is pure.
package evidence

import (
	"crypto/sha256"
	"strings"
	"unicode"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
)

const (
	DefaultNearDupThreshold = 0.92
	// CoverageFloor is the score given to coverage chunks when no
	// entity-derived chunk exists in the batch.
	CoverageFloor = 0.01
)

// Stats reports what Merge did with the coverage chunks. EntityDropped counts
// entity-derived chunks removed as duplicates of earlier entity chunks.
type Stats struct {
	Added           int `json:"added"`
	Dropped         int `json:"dropped"`
	ExactDuplicates int `json:"exact_duplicates"`
	NearDuplicates  int `json:"near_duplicates"`
	EntityDropped   int `json:"entity_dropped"`
}

type accepted struct {
	hash  [32]byte
	words map[string]struct{}
}

type dedupSet struct {
	threshold float64
	hashes    map[[32]byte]struct{}
	seen      []accepted
}

func newDedupSet(threshold float64) *dedupSet {
	return &dedupSet{threshold: threshold, hashes: make(map[[32]byte]struct{})}
}

// check reports whether text duplicates an accepted chunk, exactly or by
// word-set Jaccard similarity at or above the threshold.
func (d *dedupSet) check(text string) (accepted, bool, bool) {
	entry := accepted{hash: sha256.Sum256([]byte(text))}
	if _, dup := d.hashes[entry.hash]; dup {
		return entry, true, false
	}
	entry.words = WordSet(text)
	for _, prev := range d.seen {
		if Jaccard(entry.words, prev.words) >= d.threshold {
			return entry, false, true
		}
	}
	return entry, false, false
}

func (d *dedupSet) add(entry accepted) {
	d.hashes[entry.hash] = struct{}{}
	d.seen = append(d.seen, entry)
}

// Merge combines entity-derived chunks with coverage-fill chunks.
//
// Entity chunks keep their order and scores; later entity chunks that
// duplicate earlier ones are removed. Coverage chunks are processed in the
// order given and compared against every chunk accepted so far, including
// earlier coverage chunks. An accepted coverage chunk is tagged as coverage
// and scored at half the lowest entity score, or CoverageFloor when there
// are no entity chunks. If the lowest entity score is zero no coverage chunk
// can rank below it, so all are dropped.
//
// Negative scores on entity chunks are a contract violation and panic.
func Merge(
	entityChunks []common.CandidateChunk,
	coverageChunks []common.CandidateChunk,
	nearDupThreshold float64,
) ([]common.CandidateChunk, Stats) {
	if nearDupThreshold <= 0 || nearDupThreshold > 1 {
		nearDupThreshold = DefaultNearDupThreshold
	}

	var stats Stats
	set := newDedupSet(nearDupThreshold)
	merged := make([]common.CandidateChunk, 0, len(entityChunks)+len(coverageChunks))

	minEntity := -1.0
	for _, c := range entityChunks {
		if c.Score < 0 {
			common.Violation("entity chunk %q has negative score %v", c.Chunk.ID, c.Score)
		}
		entry, exact, near := set.check(c.Chunk.Text)
		if exact || near {
			stats.EntityDropped++
			continue
		}
		set.add(entry)
		merged = append(merged, c)
		if minEntity < 0 || c.Score < minEntity {
			minEntity = c.Score
		}
	}

	coverageScore := CoverageFloor
	if minEntity >= 0 {
		coverageScore = minEntity / 2
	}

	for _, c := range coverageChunks {
		if minEntity == 0 {
			stats.Dropped++
			continue
		}
		entry, exact, near := set.check(c.Chunk.Text)
		switch {
		case exact:
			stats.Dropped++
			stats.ExactDuplicates++
			continue
		case near:
			stats.Dropped++
			stats.NearDuplicates++
			continue
		}
		set.add(entry)
		c.Score = coverageScore
		c.Source = common.SourceCoverage
		merged = append(merged, c)
		stats.Added++
	}

	if minEntity == 0 && len(coverageChunks) > 0 {
		logger.Warn("[Evidence] dropped coverage chunks below a zero-scored entity chunk", "count", len(coverageChunks))
	}

	AssertInvariants(merged)
	return merged, stats
}

// AssertInvariants panics when a chunk has a negative score or a coverage
// chunk does not rank strictly below every entity-derived chunk.
func AssertInvariants(chunks []common.CandidateChunk) {
	minEntity := -1.0
	for _, c := range chunks {
		if c.Score < 0 {
			common.Violation("chunk %q has negative score %v", c.Chunk.ID, c.Score)
		}
		if !c.Source.IsCoverage() && (minEntity < 0 || c.Score < minEntity) {
			minEntity = c.Score
		}
	}
	if minEntity < 0 {
		return
	}
	for _, c := range chunks {
		if c.Source.IsCoverage() && c.Score >= minEntity {
			common.Violation("coverage chunk %q scored %v, not below entity minimum %v", c.Chunk.ID, c.Score, minEntity)
		}
	}
}

// WordSet tokenizes text into its set of lowercase alphanumeric words.
func WordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
