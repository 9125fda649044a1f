package canon

import (
	"reflect"
	"testing"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
)

func TestApplyMergeMap(t *testing.T) {
	res := engineWithMin(0).Deduplicate(names("Microsoft Corp", "Microsoft", "GitHub"))

	entities := []common.Entity{
		{ID: "1", Name: "Microsoft Corp", Description: "first"},
		{ID: "2", Name: "Microsoft", Description: "second"},
		{ID: "3", Name: "microsoft", Description: "lowercase"},
		{ID: "4", Name: "GitHub"},
		{ID: "5", Name: "  "},
	}
	rels := []common.Relationship{
		{SourceID: "1", Source: "Microsoft Corp", TargetID: "4", Target: "GitHub", Label: "acquired"},
		{SourceID: "2", Source: "Microsoft", TargetID: "4", Target: "GitHub", Label: "ACQUIRED"},
		{SourceID: "4", Source: "GitHub", TargetID: "2", Target: "Microsoft", Label: "owned_by"},
	}

	gotEntities, gotRels := ApplyMergeMap(entities, rels, res)

	if len(gotEntities) != 2 {
		t.Fatalf("expected 2 entities, got %+v", gotEntities)
	}
	if gotEntities[0].Name != "Microsoft" || gotEntities[0].ID != "1" || gotEntities[1].Name != "GitHub" {
		t.Fatalf("unexpected entities: %+v", gotEntities)
	}

	if len(gotRels) != 2 {
		t.Fatalf("expected 2 relationships after dedup, got %+v", gotRels)
	}
	if gotRels[0].Source != "Microsoft" || gotRels[0].SourceID != "" || gotRels[0].TargetID != "4" {
		t.Fatalf("rewritten endpoint should drop its stale id: %+v", gotRels[0])
	}
	if gotRels[1].Label != "owned_by" || gotRels[1].TargetID != "2" {
		t.Fatalf("unchanged endpoint keeps its id: %+v", gotRels[1])
	}
}

func TestApplyMergeMap_Idempotent(t *testing.T) {
	res := engineWithMin(0).Deduplicate(names(
		"Acme Inc", "Acme", "ACME Incorporated", "Globex Corp", "Globex", "Initech",
	))
	entities := []common.Entity{
		{Name: "Acme Inc"}, {Name: "Acme"}, {Name: "ACME Incorporated"},
		{Name: "Globex Corp"}, {Name: "Globex"}, {Name: "Initech"},
	}
	rels := []common.Relationship{
		{Source: "Acme Inc", Target: "Globex Corp", Label: "partners_with"},
		{Source: "Acme", Target: "Globex", Label: "partners_with"},
		{Source: "Initech", Target: "ACME Incorporated", Label: "supplies"},
	}

	onceE, onceR := ApplyMergeMap(entities, rels, res)
	twiceE, twiceR := ApplyMergeMap(onceE, onceR, res)

	if !reflect.DeepEqual(onceE, twiceE) {
		t.Fatalf("entities not idempotent:\n%+v\n%+v", onceE, twiceE)
	}
	if !reflect.DeepEqual(onceR, twiceR) {
		t.Fatalf("relationships not idempotent:\n%+v\n%+v", onceR, twiceR)
	}
	if len(onceE) != 3 || len(onceR) != 2 {
		t.Fatalf("unexpected sizes: %d entities, %d relationships", len(onceE), len(onceR))
	}
}
