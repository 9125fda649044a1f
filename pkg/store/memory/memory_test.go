package memory

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store"
)

func chainStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	for _, name := range []string{"A", "B", "C", "D"} {
		s.AddEntity("t1", common.Entity{ID: name, Name: name})
	}
	for _, r := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}} {
		if err := s.AddRelationship("t1", common.Relationship{SourceID: r[0], TargetID: r[1], Label: "RELATED"}); err != nil {
			t.Fatalf("add relationship: %v", err)
		}
	}
	return s
}

func hopsByID(ns []common.Neighbor) map[string]int {
	out := make(map[string]int, len(ns))
	for _, n := range ns {
		out[n.EntityID] = n.Hops
	}
	return out
}

func TestExpandNeighborsMinimumHops(t *testing.T) {
	s := chainStore(t)
	if err := s.AddRelationship("t1", common.Relationship{SourceID: "D", TargetID: "A", Label: "RELATED"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ExpandNeighbors(context.Background(), "t1", "A", 2, common.MentionsLabel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]int{"B": 1, "D": 1, "C": 2}
	if !reflect.DeepEqual(hopsByID(got), want) {
		t.Fatalf("hops = %v, want %v", hopsByID(got), want)
	}
}

func TestExpandNeighborsSkipsMentionEdges(t *testing.T) {
	s := New()
	a := s.AddEntity("t1", common.Entity{Name: "A"})
	b := s.AddEntity("t1", common.Entity{Name: "B"})
	s.AddChunk("t1", common.TextChunk{ID: "c1", DocumentID: "d1", Text: "A and B"}, a, b)

	got, err := s.ExpandNeighbors(context.Background(), "t1", a, 3, common.MentionsLabel)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no neighbors through chunks, got %v", got)
	}

	got, err = s.ExpandNeighbors(context.Background(), "t1", a, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if want := map[string]int{b: 2}; !reflect.DeepEqual(hopsByID(got), want) {
		t.Fatalf("hops through chunk = %v, want %v", hopsByID(got), want)
	}
}

func TestExpandNeighborsTenantIsolation(t *testing.T) {
	s := chainStore(t)
	s.AddEntity("t2", common.Entity{ID: "X", Name: "X"})
	if err := s.AddRelationship("t2", common.Relationship{SourceID: "X", Target: "X2", Label: "RELATED"}); !errors.Is(err, store.ErrUnknownEntity) {
		t.Fatalf("expected unknown entity, got %v", err)
	}

	got, err := s.ExpandNeighbors(context.Background(), "t2", "A", 3, common.MentionsLabel)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("tenant t2 must not see t1 entities, got %v", got)
	}
}

func TestFailureAndDelayHooks(t *testing.T) {
	s := chainStore(t)
	boom := errors.New("boom")
	s.SetFailure("Communities", boom)
	_, err := s.Communities(context.Background(), "t1")
	if !errors.Is(err, boom) || !errors.Is(err, common.ErrTransport) {
		t.Fatalf("expected transport-wrapped boom, got %v", err)
	}
	s.SetFailure("Communities", nil)
	if _, err := s.Communities(context.Background(), "t1"); err != nil {
		t.Fatalf("failure not cleared: %v", err)
	}

	s.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.FetchEntities(ctx, "t1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if s.Calls("FetchEntities") != 1 {
		t.Fatalf("expected one recorded call, got %d", s.Calls("FetchEntities"))
	}
}

func TestMergeEntitiesHidesVariants(t *testing.T) {
	ctx := context.Background()
	s := New()
	ms := s.AddEntity("t1", common.Entity{Name: "Microsoft"})
	corp := s.AddEntity("t1", common.Entity{Name: "Microsoft Corp"})
	gh := s.AddEntity("t1", common.Entity{Name: "GitHub"})
	if err := s.AddRelationship("t1", common.Relationship{SourceID: corp, TargetID: gh, Label: "OWNS"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRelationship("t1", common.Relationship{SourceID: ms, TargetID: gh, Label: "OWNS"}); err != nil {
		t.Fatal(err)
	}
	s.AddChunk("t1", common.TextChunk{ID: "c1", DocumentID: "d1"}, corp)

	if err := s.MergeEntities(ctx, "t1", map[string]string{"Microsoft Corp": "Microsoft"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	entities, err := s.FetchEntities(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entities {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"GitHub", "Microsoft"}) {
		t.Fatalf("visible entities = %v", names)
	}

	rels, err := s.FetchRelationships(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].SourceID != ms {
		t.Fatalf("expected one repointed relationship, got %+v", rels)
	}

	byAlias, err := s.EntitiesByNames(ctx, "t1", []string{"microsoft corp"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAlias) != 1 || byAlias[0].ID != ms {
		t.Fatalf("alias lookup = %+v, want canonical", byAlias)
	}

	chunks, err := s.ChunksForEntities(ctx, "t1", []string{ms}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Chunk.ID != "c1" {
		t.Fatalf("mentions not moved to canonical: %+v", chunks)
	}

	if err := s.MergeEntities(ctx, "t1", map[string]string{"GitHub": "Nope"}); !errors.Is(err, store.ErrUnknownEntity) {
		t.Fatalf("expected unknown canonical error, got %v", err)
	}
}

func TestUpsertEntitiesAndRelationshipsByName(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.UpsertEntities(ctx, "t1", []common.Entity{
		{Name: "Contoso", Type: "ORG"},
		{Name: "Fabrikam", Type: "ORG"},
		{Name: "  "},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEntities(ctx, "t1", []common.Entity{{Name: "contoso", Description: "supplier"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertRelationships(ctx, "t1", []common.Relationship{
		{Source: "Contoso", Target: "Fabrikam", Label: "SUPPLIES", Weight: 2},
		{Source: "Contoso", Target: "Fabrikam", Label: "SUPPLIES", Weight: 3},
	}); err != nil {
		t.Fatal(err)
	}

	entities, err := s.FetchEntities(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	if entities[0].Description != "supplier" || entities[0].Type != "ORG" || entities[0].Degree != 1 {
		t.Fatalf("unexpected merged upsert: %+v", entities[0])
	}
	rels, err := s.FetchRelationships(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].Weight != 3 {
		t.Fatalf("expected single updated relationship, got %+v", rels)
	}
}

func TestDocumentAndCoverageQueries(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := s.AddEntity("t1", common.Entity{Name: "A"})
	s.AddChunk("t1", common.TextChunk{ID: "d2-1", DocumentID: "d2", ChunkIndex: 1}, a)
	s.AddChunk("t1", common.TextChunk{ID: "d2-0", DocumentID: "d2", ChunkIndex: 0})
	s.AddChunk("t1", common.TextChunk{ID: "d1-0", DocumentID: "d1", ChunkIndex: 0}, a)

	docs, err := s.EntityDocuments(ctx, "t1", []string{"A", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(docs, map[string][]string{"A": {"d1", "d2"}}) {
		t.Fatalf("EntityDocuments = %v", docs)
	}

	cov, err := s.CoverageChunks(ctx, "t1", 1)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range cov {
		ids = append(ids, c.ID)
	}
	if !reflect.DeepEqual(ids, []string{"d1-0", "d2-0"}) {
		t.Fatalf("coverage ids = %v", ids)
	}

	ec, err := s.ChunksForEntities(ctx, "t1", []string{a}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ec) != 1 || ec[0].Chunk.ID != "d1-0" {
		t.Fatalf("ChunksForEntities = %+v", ec)
	}
}

func TestSearchEntitiesRanksByCosine(t *testing.T) {
	s := New()
	s.AddEntity("t1", common.Entity{ID: "x", Name: "X", Embedding: []float32{1, 0}})
	s.AddEntity("t1", common.Entity{ID: "y", Name: "Y", Embedding: []float32{1, 1}})
	s.AddEntity("t1", common.Entity{ID: "z", Name: "Z", Embedding: []float32{0, 1}})
	s.AddEntity("t1", common.Entity{ID: "n", Name: "N"})

	got, err := s.SearchEntities(context.Background(), "t1", []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Entity.ID != "x" || got[1].Entity.ID != "y" {
		t.Fatalf("unexpected ranking: %+v", got)
	}
}
