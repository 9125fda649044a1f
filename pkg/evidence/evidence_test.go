package evidence

import (
	"fmt"
	"math"
	"testing"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
)

func chunk(id, text string, score float64, source common.SourceTag) common.CandidateChunk {
	return common.CandidateChunk{
		Chunk:  common.TextChunk{ID: id, Text: text, DocumentID: "doc-" + id},
		Score:  score,
		Source: source,
	}
}

const invoiceText = "Invoice #100 was issued for $5,000."

func TestMerge_ExactDuplicateDropped(t *testing.T) {
	entity := []common.CandidateChunk{chunk("e1", invoiceText, 0.8, common.SourceEntity)}
	coverage := []common.CandidateChunk{chunk("c1", invoiceText, 0, common.SourceCoverage)}

	merged, stats := Merge(entity, coverage, DefaultNearDupThreshold)

	if stats.Added != 0 || stats.Dropped != 1 || stats.ExactDuplicates != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(merged) != 1 || merged[0].Chunk.ID != "e1" {
		t.Fatalf("unexpected merged chunks: %+v", merged)
	}
}

func TestMerge_CoverageScoredAtHalfMinimum(t *testing.T) {
	entity := []common.CandidateChunk{chunk("e1", invoiceText, 0.8, common.SourceEntity)}
	coverage := []common.CandidateChunk{
		chunk("c1", "Invoice #100 includes a $500 shipping surcharge.", 0.99, common.SourceEntity),
	}

	merged, stats := Merge(entity, coverage, DefaultNearDupThreshold)

	if stats.Added != 1 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	got := merged[1]
	if math.Abs(got.Score-0.4) > 1e-12 {
		t.Fatalf("coverage score = %v, want 0.4", got.Score)
	}
	if got.Source != common.SourceCoverage {
		t.Fatalf("accepted coverage chunk must be tagged coverage, got %q", got.Source)
	}
}

func TestMerge_CoverageFloorWithoutEntityChunks(t *testing.T) {
	coverage := []common.CandidateChunk{
		chunk("c1", "Alpha beta gamma", 0, common.SourceCoverage),
		chunk("c2", "Delta epsilon zeta", 0, common.SourceCoverage),
	}
	merged, stats := Merge(nil, coverage, DefaultNearDupThreshold)

	if stats.Added != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for _, c := range merged {
		if c.Score != CoverageFloor {
			t.Fatalf("expected floor score, got %v", c.Score)
		}
	}
}

func TestMerge_CoverageDedupsAgainstEarlierCoverage(t *testing.T) {
	entity := []common.CandidateChunk{chunk("e1", "Unrelated entity evidence about pumps.", 0.6, common.SourceEntity)}
	coverage := []common.CandidateChunk{
		chunk("c1", "The warranty period is twelve months from delivery.", 0, common.SourceCoverage),
		chunk("c2", "The warranty period is twelve months from delivery!", 0, common.SourceCoverage),
		chunk("c3", "The warranty period is twelve months from delivery.", 0, common.SourceCoverage),
	}

	merged, stats := Merge(entity, coverage, DefaultNearDupThreshold)

	if stats.Added != 1 || stats.Dropped != 2 || stats.NearDuplicates != 1 || stats.ExactDuplicates != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(merged) != 2 || merged[1].Chunk.ID != "c1" {
		t.Fatalf("unexpected merged: %+v", merged)
	}
}

func TestMerge_EntityDuplicatesRemoved(t *testing.T) {
	entity := []common.CandidateChunk{
		chunk("e1", invoiceText, 0.8, common.SourceEntity),
		chunk("e2", invoiceText, 0.9, common.SourcePropagation),
	}
	merged, stats := Merge(entity, nil, DefaultNearDupThreshold)
	if len(merged) != 1 || stats.EntityDropped != 1 {
		t.Fatalf("expected the repeated entity chunk to be removed, got %+v %+v", merged, stats)
	}
}

func TestMerge_ZeroEntityScoreDropsCoverage(t *testing.T) {
	entity := []common.CandidateChunk{chunk("e1", "zero scored", 0, common.SourceEntity)}
	coverage := []common.CandidateChunk{chunk("c1", "something else entirely", 0, common.SourceCoverage)}

	merged, stats := Merge(entity, coverage, DefaultNearDupThreshold)
	if len(merged) != 1 || stats.Dropped != 1 {
		t.Fatalf("coverage cannot rank below a zero score, got %+v %+v", merged, stats)
	}
}

func TestMerge_NegativeEntityScorePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on negative score")
		}
	}()
	Merge([]common.CandidateChunk{chunk("e1", "x", -0.1, common.SourceEntity)}, nil, DefaultNearDupThreshold)
}

func TestMerge_Deterministic(t *testing.T) {
	entity := []common.CandidateChunk{
		chunk("e1", "Supplier Contoso delivers pumps to Fabrikam.", 0.9, common.SourceEntity),
		chunk("e2", "Fabrikam pays within thirty days.", 0.7, common.SourceEntity),
	}
	coverage := []common.CandidateChunk{
		chunk("c1", "Annex A lists the delivery schedule.", 0, common.SourceCoverage),
		chunk("c2", "Annex B lists penalties for late delivery.", 0, common.SourceCoverage),
	}

	first, _ := Merge(entity, coverage, DefaultNearDupThreshold)
	for i := 0; i < 5; i++ {
		again, _ := Merge(entity, coverage, DefaultNearDupThreshold)
		if fmt.Sprint(again) != fmt.Sprint(first) {
			t.Fatalf("Merge is not deterministic")
		}
	}
}

func TestMerge_Properties(t *testing.T) {
	texts := []string{
		"alpha beta gamma delta",
		"alpha beta gamma delta epsilon",
		"zeta eta theta",
		"zeta eta theta",
		"iota kappa lambda mu nu",
		"iota kappa lambda mu nu xi",
		"omicron pi rho",
	}
	for _, threshold := range []float64{0.5, 0.8, 0.92} {
		var entity, coverage []common.CandidateChunk
		for i, text := range texts {
			if i%2 == 0 {
				entity = append(entity, chunk(fmt.Sprintf("e%d", i), text, 0.2+float64(i)/10, common.SourceEntity))
			} else {
				coverage = append(coverage, chunk(fmt.Sprintf("c%d", i), text, 0, common.SourceCoverage))
			}
		}

		merged, _ := Merge(entity, coverage, threshold)

		minEntity := math.Inf(1)
		for _, c := range merged {
			if c.Source != common.SourceCoverage {
				minEntity = math.Min(minEntity, c.Score)
			}
		}
		for i := range merged {
			if merged[i].Score < 0 {
				t.Fatalf("negative score in output")
			}
			if merged[i].Source == common.SourceCoverage && merged[i].Score >= minEntity {
				t.Fatalf("coverage chunk %s outranks entity evidence", merged[i].Chunk.ID)
			}
			for j := i + 1; j < len(merged); j++ {
				sim := Jaccard(WordSet(merged[i].Chunk.Text), WordSet(merged[j].Chunk.Text))
				if sim >= threshold {
					t.Fatalf("threshold %v: %s and %s have similarity %v", threshold, merged[i].Chunk.ID, merged[j].Chunk.ID, sim)
				}
			}
		}
	}
}

func TestAssertInvariants(t *testing.T) {
	ok := []common.CandidateChunk{
		chunk("e1", "a", 0.5, common.SourceEntity),
		chunk("c1", "b", 0.25, common.SourceCoverage),
	}
	AssertInvariants(ok)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when coverage ties entity score")
		}
	}()
	AssertInvariants([]common.CandidateChunk{
		chunk("e1", "a", 0.5, common.SourceEntity),
		chunk("c1", "b", 0.5, common.SourceCoverage),
	})
}

func TestJaccard(t *testing.T) {
	a := WordSet("Invoice #100 was issued for $5,000.")
	b := WordSet("Invoice #100 includes a $500 shipping surcharge.")
	if got := Jaccard(a, b); math.Abs(got-2.0/12.0) > 1e-12 {
		t.Fatalf("Jaccard = %v, want 2/12", got)
	}
	if Jaccard(WordSet(""), WordSet("")) != 1 {
		t.Fatalf("two empty sets are identical")
	}
	if Jaccard(WordSet(""), WordSet("x")) != 0 {
		t.Fatalf("empty vs non-empty is 0")
	}
}
