package canon

import (
	"sort"
	"testing"
)

func TestUnionFind_FindAddsSingleton(t *testing.T) {
	uf := NewUnionFind(nil)
	if got := uf.Find("a"); got != "a" {
		t.Fatalf("Find(a) = %q, want a", got)
	}
	if !uf.Has("a") || uf.Len() != 1 {
		t.Fatalf("expected a to be added")
	}
}

func TestUnionFind_DefaultKeepsFirstRoot(t *testing.T) {
	uf := NewUnionFind(nil)
	root, merged := uf.Union("a", "b")
	if !merged || root != "a" {
		t.Fatalf("Union(a,b) = %q,%v; want a,true", root, merged)
	}
	if _, merged := uf.Union("b", "a"); merged {
		t.Fatalf("second union of the same set should be a no-op")
	}
}

func TestUnionFind_PreferPicksRoot(t *testing.T) {
	shorter := func(a, b string) bool { return len(a) < len(b) }
	uf := NewUnionFind(shorter)

	uf.Union("Microsoft Corp", "Microsoft")
	if got := uf.Find("Microsoft Corp"); got != "Microsoft" {
		t.Fatalf("root = %q, want Microsoft", got)
	}
	uf.Union("Microsoft Corporation", "Microsoft Corp")
	if got := uf.Find("Microsoft Corporation"); got != "Microsoft" {
		t.Fatalf("root = %q, want Microsoft", got)
	}
	uf.Union("MS", "Microsoft Corporation")
	if got := uf.Find("Microsoft"); got != "MS" {
		t.Fatalf("root = %q, want MS", got)
	}
}

func TestUnionFind_TieKeepsExistingRoot(t *testing.T) {
	uf := NewUnionFind(func(a, b string) bool { return len(a) < len(b) })
	uf.Union("abc", "xyz")
	if got := uf.Find("xyz"); got != "abc" {
		t.Fatalf("root = %q, want abc", got)
	}
}

func TestUnionFind_PathCompression(t *testing.T) {
	uf := NewUnionFind(nil)
	uf.Union("a", "b")
	uf.Union("c", "d")
	uf.Union("a", "c")
	uf.Find("d")
	if uf.parent["d"] != "a" {
		t.Fatalf("expected d to point directly at a after Find, got %q", uf.parent["d"])
	}
}

func TestUnionFind_Groups(t *testing.T) {
	uf := NewUnionFind(nil)
	uf.Union("a", "b")
	uf.Add("c")

	groups := uf.Groups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	members := groups["a"]
	sort.Strings(members)
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Fatalf("unexpected group for a: %v", members)
	}
}
