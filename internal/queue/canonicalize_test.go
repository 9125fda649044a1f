package queue

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/mirojs/graphrag-orchestration/pkg/ai/aitest"
	"github.com/mirojs/graphrag-orchestration/pkg/canon"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/community"
	"github.com/mirojs/graphrag-orchestration/pkg/leaselock"
	"github.com/mirojs/graphrag-orchestration/pkg/store/memory"
)

type fakeLocker struct {
	keys []string
	err  error
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func graphFixture(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	s.AddEntity("t1", common.Entity{ID: "ms", Name: "Microsoft", Type: "ORG"})
	s.AddEntity("t1", common.Entity{ID: "msc", Name: "Microsoft Corp", Type: "ORG", Description: "Software vendor"})
	s.AddEntity("t1", common.Entity{ID: "msft", Name: "MSFT", Type: "ORG"})
	s.AddEntity("t1", common.Entity{ID: "contoso", Name: "Contoso", Type: "ORG"})
	for _, r := range []common.Relationship{
		{SourceID: "msc", TargetID: "contoso", Label: "PARTNERS_WITH"},
		{SourceID: "ms", TargetID: "contoso", Label: "PARTNERS_WITH"},
		{SourceID: "msc", TargetID: "ms", Label: "SAME_AS"},
	} {
		if err := s.AddRelationship("t1", r); err != nil {
			t.Fatal(err)
		}
	}
	s.AddChunk("t1", common.TextChunk{ID: "c1", DocumentID: "d1"}, "msc")
	s.AddCommunity("t1", common.Community{ID: "com1", MemberEntityIDs: []string{"msc", "contoso"}})
	return s
}

func newTestCanonicalizer(s *memory.Store, locker Locker, pub Publisher, summarize bool) *Canonicalizer {
	cfg := canon.DefaultConfig()
	cfg.MinEntitiesForDedup = 2
	client := &aitest.Client{
		EmbedFunc: aitest.KeywordEmbedder("contoso", "msft"),
		FormatFunc: func(_ context.Context, name, prompt string, out any) error {
			return json.Unmarshal([]byte(`{"title":"Partners","summary":"Microsoft partners with Contoso."}`), out)
		},
	}
	var summarizer *community.Summarizer
	if summarize {
		summarizer = community.NewSummarizer(s, client, community.Config{})
	}
	return NewCanonicalizer(s, client, canon.NewEngine(cfg), summarizer, locker, pub, CanonicalizeConfig{})
}

func TestCanonicalizerMergesVariants(t *testing.T) {
	ctx := context.Background()
	s := graphFixture(t)
	locker := &fakeLocker{}
	pub := &fakePublisher{}

	if err := newTestCanonicalizer(s, locker, pub, true).Process(ctx, []byte(`{"group_id":"t1"}`)); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(locker.keys, []string{"canonicalize:t1"}) {
		t.Fatalf("lock keys = %v", locker.keys)
	}

	entities, _ := s.FetchEntities(ctx, "t1")
	var names []string
	for _, e := range entities {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	if want := []string{"Contoso", "MSFT", "Microsoft"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("entities = %v, want %v", names, want)
	}

	alias, _ := s.EntitiesByNames(ctx, "t1", []string{"microsoft corp"})
	if len(alias) != 1 || alias[0].ID != "ms" {
		t.Fatalf("alias must resolve to the canonical entity, got %+v", alias)
	}

	rels, _ := s.FetchRelationships(ctx, "t1")
	if len(rels) != 1 || rels[0].SourceID != "ms" || rels[0].TargetID != "contoso" {
		t.Fatalf("relationships = %+v", rels)
	}

	chunks, _ := s.ChunksForEntities(ctx, "t1", []string{"ms"}, 5)
	if len(chunks) != 1 || chunks[0].Chunk.ID != "c1" {
		t.Fatalf("mentions must move to the canonical entity, got %+v", chunks)
	}

	communities, _ := s.Communities(ctx, "t1")
	if communities[0].Summary != "Microsoft partners with Contoso." {
		t.Fatalf("community not summarized: %+v", communities[0])
	}

	if len(pub.sent) != 1 || pub.sent[0].key != CacheInvalidateTopic || string(pub.sent[0].msg.Body) != `{"group_id":"t1"}` {
		t.Fatalf("expected cache invalidation, got %+v", pub.sent)
	}
}

func TestCanonicalizerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := graphFixture(t)
	c := newTestCanonicalizer(s, &fakeLocker{}, &fakePublisher{}, false)

	for range 2 {
		if err := c.Process(ctx, []byte(`{"group_id":"t1"}`)); err != nil {
			t.Fatal(err)
		}
	}
	entities, _ := s.FetchEntities(ctx, "t1")
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities after two runs, got %d", len(entities))
	}
}

func TestCanonicalizerErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid message", func(t *testing.T) {
		c := newTestCanonicalizer(memory.New(), &fakeLocker{}, &fakePublisher{}, false)
		for _, body := range []string{`not json`, `{"group_id":"  "}`} {
			if err := c.Process(ctx, []byte(body)); !errors.Is(err, common.ErrInputValidation) {
				t.Fatalf("%s: expected input validation error, got %v", body, err)
			}
		}
	})

	t.Run("lock busy", func(t *testing.T) {
		pub := &fakePublisher{}
		c := newTestCanonicalizer(memory.New(), &fakeLocker{err: leaselock.ErrBusy}, pub, false)
		if err := c.Process(ctx, []byte(`{"group_id":"t1"}`)); !errors.Is(err, leaselock.ErrBusy) {
			t.Fatalf("expected ErrBusy, got %v", err)
		}
		if len(pub.sent) != 0 {
			t.Fatalf("no invalidation expected on failure")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		s := graphFixture(t)
		s.SetFailure("FetchRelationships", errors.New("down"))
		c := newTestCanonicalizer(s, &fakeLocker{}, &fakePublisher{}, false)
		if err := c.Process(ctx, []byte(`{"group_id":"t1"}`)); !errors.Is(err, common.ErrTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}
	})

	t.Run("publish failure is not fatal", func(t *testing.T) {
		c := newTestCanonicalizer(graphFixture(t), &fakeLocker{}, &fakePublisher{err: errors.New("closed")}, false)
		if err := c.Process(ctx, []byte(`{"group_id":"t1"}`)); err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	})
}
