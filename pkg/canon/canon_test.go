package canon

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
)

func names(ns ...string) []EntityCandidate {
	out := make([]EntityCandidate, len(ns))
	for i, n := range ns {
		out[i] = EntityCandidate{Name: n, Type: "ORGANIZATION"}
	}
	return out
}

func engineWithMin(min int) *Engine {
	cfg := DefaultConfig()
	cfg.MinEntitiesForDedup = min
	return NewEngine(cfg)
}

func TestDeduplicate_MicrosoftVariants(t *testing.T) {
	res := engineWithMin(2).Deduplicate(names("MSFT", "Microsoft", "Microsoft Corp"))

	want := map[string]string{"Microsoft Corp": "Microsoft"}
	if !reflect.DeepEqual(res.MergeMap, want) {
		t.Fatalf("MergeMap = %v, want %v", res.MergeMap, want)
	}
	reason := res.MergeReasons["Microsoft Corp"]
	if reason.Type != MatchAbbreviation {
		t.Fatalf("expected abbreviation reason, got %q", reason.Type)
	}
	if reason.Score != nil {
		t.Fatalf("rule-based reasons carry no score")
	}
	if got := res.CanonicalToVariants["Microsoft"]; !reflect.DeepEqual(got, []string{"Microsoft Corp"}) {
		t.Fatalf("CanonicalToVariants = %v", res.CanonicalToVariants)
	}
	if _, ok := res.CanonicalToVariants["MSFT"]; ok {
		t.Fatalf("singleton clusters must be omitted")
	}
	if res.Stats.Clusters != 2 || res.Stats.Merged != 1 || res.Stats.Skipped {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
}

func TestDeduplicate_SkipsSmallBatches(t *testing.T) {
	res := NewEngine(DefaultConfig()).Deduplicate(names("Acme", "acme", "Acme Corp", "Globex"))

	if !res.Stats.Skipped {
		t.Fatalf("expected skip below the minimum")
	}
	if res.Stats.DistinctNames != 3 {
		t.Fatalf("expected 3 distinct normalized names, got %d", res.Stats.DistinctNames)
	}
	if len(res.MergeMap) != 0 || len(res.CanonicalToVariants) != 0 {
		t.Fatalf("expected no merges, got %v", res.MergeMap)
	}
	if got := res.Canonical("Acme Corp"); got != "Acme Corp" {
		t.Fatalf("every entity is its own canonical form when skipped, got %q", got)
	}
}

func TestDeduplicate_DropsBlankNames(t *testing.T) {
	res := engineWithMin(0).Deduplicate(names("", "   ", "Globex"))
	if res.Stats.DroppedInvalid != 2 {
		t.Fatalf("DroppedInvalid = %d, want 2", res.Stats.DroppedInvalid)
	}
	if res.Stats.InputEntities != 3 || res.Stats.DistinctNames != 1 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
}

func TestDeduplicate_EmbeddingMatchRecordsScore(t *testing.T) {
	in := []EntityCandidate{
		{Name: "Northwind Traders", Embedding: []float32{1, 0, 0}},
		{Name: "Northwind Trading Company", Embedding: []float32{0.99, 0.05, 0}},
		{Name: "Fabrikam", Embedding: []float32{0, 1, 0}},
	}
	res := engineWithMin(0).Deduplicate(in)

	if got := res.MergeMap["Northwind Trading Company"]; got != "Northwind Traders" {
		t.Fatalf("MergeMap = %v", res.MergeMap)
	}
	reason := res.MergeReasons["Northwind Trading Company"]
	if reason.Type != MatchEmbedding || reason.Score == nil || *reason.Score < 0.95 {
		t.Fatalf("unexpected reason: %+v", reason)
	}
}

func TestDeduplicate_EmbeddingCheckedBeforeAcronym(t *testing.T) {
	in := []EntityCandidate{
		{Name: "IBM", Embedding: []float32{1, 1}},
		{Name: "International Business Machines", Embedding: []float32{1, 1}},
	}
	res := engineWithMin(0).Deduplicate(in)

	if got := res.MergeReasons["International Business Machines"].Type; got != MatchEmbedding {
		t.Fatalf("expected embedding to win, got %q", got)
	}

	in[1].Embedding = []float32{1, -1}
	res = engineWithMin(0).Deduplicate(in)
	if got := res.MergeReasons["International Business Machines"].Type; got != MatchAcronym {
		t.Fatalf("expected acronym fallback, got %q", got)
	}
	if got := res.Canonical("International Business Machines"); got != "IBM" {
		t.Fatalf("canonical = %q, want IBM", got)
	}
}

func TestDeduplicate_RulesCanBeDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinEntitiesForDedup = 0
	cfg.EnableAcronym = false
	cfg.EnableAbbreviation = false

	res := NewEngine(cfg).Deduplicate(names("IBM", "International Business Machines", "Acme", "Acme Inc"))
	if len(res.MergeMap) != 0 {
		t.Fatalf("expected no merges with rules disabled, got %v", res.MergeMap)
	}
}

func TestDeduplicate_DiscardsMismatchedEmbeddings(t *testing.T) {
	in := []EntityCandidate{
		{Name: "Alpha", Embedding: []float32{1, 0, 0}},
		{Name: "Beta", Embedding: []float32{0, 1, 0}},
		{Name: "Gamma", Embedding: []float32{1, 0}},
	}
	res := engineWithMin(0).Deduplicate(in)
	if res.Stats.DiscardedEmbeddings != 1 {
		t.Fatalf("DiscardedEmbeddings = %d, want 1", res.Stats.DiscardedEmbeddings)
	}
	if len(res.MergeMap) != 0 {
		t.Fatalf("unexpected merges: %v", res.MergeMap)
	}
}

func TestDeduplicate_TieKeepsSmallerNameRoot(t *testing.T) {
	res := engineWithMin(0).Deduplicate(names("Acme Co", "ACME Co"))
	if got := res.MergeMap["Acme Co"]; got != "ACME Co" {
		t.Fatalf("MergeMap = %v, want Acme Co -> ACME Co", res.MergeMap)
	}
}

func TestDeduplicate_OrderIndependent(t *testing.T) {
	base := []string{
		"Microsoft Corporation", "Microsoft Corp", "Microsoft", "MSFT",
		"IBM", "International Business Machines", "J. Smith", "John Smith",
		"Saint Louis", "St. Louis", "Globex",
	}
	reference := engineWithMin(0).Deduplicate(names(base...))

	reversed := make([]string, len(base))
	for i, n := range base {
		reversed[len(base)-1-i] = n
	}
	rotated := append(append([]string{}, base[5:]...), base[:5]...)

	for _, order := range [][]string{reversed, rotated} {
		got := engineWithMin(0).Deduplicate(names(order...))
		if !reflect.DeepEqual(got.MergeMap, reference.MergeMap) {
			t.Fatalf("MergeMap depends on input order:\n%v\n%v", got.MergeMap, reference.MergeMap)
		}
		if !reflect.DeepEqual(got.CanonicalToVariants, reference.CanonicalToVariants) {
			t.Fatalf("CanonicalToVariants depends on input order")
		}
	}

	if got := reference.Canonical("Microsoft Corporation"); got != "Microsoft" {
		t.Fatalf("canonical = %q, want Microsoft", got)
	}
	if got := reference.Canonical("John Smith"); got != "J. Smith" {
		t.Fatalf("canonical = %q, want J. Smith", got)
	}
}

func TestMergeResult_NoCycles(t *testing.T) {
	res := engineWithMin(0).Deduplicate(names(
		"Microsoft Corporation", "Microsoft Corp", "Microsoft",
		"Acme Inc", "Acme", "ACME Incorporated",
	))
	if err := res.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	for variant := range res.MergeMap {
		canonical := res.Canonical(variant)
		if _, mapped := res.MergeMap[canonical]; mapped {
			t.Fatalf("%q resolved to %q which is still mapped", variant, canonical)
		}
	}
}

func TestMergeResult_ResolveDetectsCycle(t *testing.T) {
	res := MergeResult{MergeMap: map[string]string{"a": "b", "b": "a"}}

	_, err := res.Resolve("a")
	if !errors.Is(err, common.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if res.Validate() == nil {
		t.Fatalf("Validate() should report the cycle")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("Canonical should panic on a cycle")
		}
	}()
	res.Canonical("a")
}
