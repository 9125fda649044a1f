package query

import (
	"context"
	"errors"
	"testing"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store/memory"
)

func TestTenantCacheCommunities(t *testing.T) {
	ctx := context.Background()
	s := fixture(t)
	c := NewTenantCache(s)

	for range 3 {
		got, err := c.Communities(ctx, "t1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 communities, got %d", len(got))
		}
	}
	if n := s.Calls("Communities"); n != 1 {
		t.Fatalf("expected one load, got %d", n)
	}

	if _, err := c.Communities(ctx, "t2"); err != nil {
		t.Fatal(err)
	}
	if n := s.Calls("Communities"); n != 2 {
		t.Fatalf("tenants must load separately, got %d loads", n)
	}

	c.Invalidate("t1")
	if _, err := c.Communities(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if n := s.Calls("Communities"); n != 3 {
		t.Fatalf("expected reload after invalidate, got %d loads", n)
	}

	c.InvalidateAll()
	if _, err := c.Communities(ctx, "t2"); err != nil {
		t.Fatal(err)
	}
	if n := s.Calls("Communities"); n != 4 {
		t.Fatalf("expected reload after invalidate all, got %d loads", n)
	}
}

func TestTenantCacheFailedLoadNotCached(t *testing.T) {
	ctx := context.Background()
	s := fixture(t)
	c := NewTenantCache(s)

	s.SetFailure("Communities", errors.New("down"))
	if _, err := c.Communities(ctx, "t1"); err == nil {
		t.Fatalf("expected error")
	}
	s.SetFailure("Communities", nil)
	got, err := c.Communities(ctx, "t1")
	if err != nil || len(got) != 2 {
		t.Fatalf("expected successful reload, got %v, %v", got, err)
	}
}

func TestTenantCacheEntityInfoLoadsMissingOnly(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.AddEntity("t1", common.Entity{ID: "a", Name: "A"})
	s.AddEntity("t1", common.Entity{ID: "b", Name: "B"})
	c := NewTenantCache(s)

	got, err := c.EntityInfo(ctx, "t1", []string{"a", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["a"].Name != "A" {
		t.Fatalf("unexpected info %v", got)
	}
	if _, err := c.EntityInfo(ctx, "t1", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if n := s.Calls("EntitiesByIDs"); n != 1 {
		t.Fatalf("cached id reloaded, %d loads", n)
	}
	got, err = c.EntityInfo(ctx, "t1", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || s.Calls("EntitiesByIDs") != 2 {
		t.Fatalf("expected one more load for b, got %v after %d loads", got, s.Calls("EntitiesByIDs"))
	}
}
