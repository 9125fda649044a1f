package community

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mirojs/graphrag-orchestration/pkg/ai/aitest"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store/memory"
)

func fixture(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	s.AddEntity("t1", common.Entity{ID: "contoso", Name: "Contoso", Type: "ORG", Description: "Manufacturer"})
	s.AddEntity("t1", common.Entity{ID: "fabrikam", Name: "Fabrikam", Type: "ORG", Description: "Steel supplier"})
	s.AddEntity("t1", common.Entity{ID: "northwind", Name: "Northwind", Type: "ORG", Description: "Carrier"})
	if err := s.AddRelationship("t1", common.Relationship{SourceID: "fabrikam", TargetID: "contoso", Label: "SUPPLIES", Description: "steel"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRelationship("t1", common.Relationship{SourceID: "northwind", TargetID: "contoso", Label: "SHIPS_FOR"}); err != nil {
		t.Fatal(err)
	}
	s.AddCommunity("t1", common.Community{ID: "com1", MemberEntityIDs: []string{"contoso", "fabrikam"}})
	s.AddCommunity("t1", common.Community{ID: "com2", Summary: "Existing summary.", MemberEntityIDs: []string{"northwind"}})
	return s
}

func TestSummarizeOnlyMissing(t *testing.T) {
	ctx := context.Background()
	s := fixture(t)
	var prompts []string
	client := &aitest.Client{
		FormatFunc: func(_ context.Context, name, prompt string, out any) error {
			prompts = append(prompts, prompt)
			return json.Unmarshal([]byte(`{"title":"Steel supply","summary":"Fabrikam supplies steel to Contoso."}`), out)
		},
	}

	n, err := NewSummarizer(s, client, Config{Concurrency: 1}).Summarize(ctx, "t1", true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(prompts) != 1 {
		t.Fatalf("expected one summarized community, got %d after %d prompts", n, len(prompts))
	}
	if !strings.Contains(prompts[0], "Fabrikam SUPPLIES Contoso: steel") || strings.Contains(prompts[0], "SHIPS_FOR") {
		t.Fatalf("prompt must only carry relationships inside the community:\n%s", prompts[0])
	}

	communities, _ := s.Communities(ctx, "t1")
	got := map[string]common.Community{}
	for _, c := range communities {
		got[c.ID] = c
	}
	if got["com1"].Title != "Steel supply" || got["com1"].Summary != "Fabrikam supplies steel to Contoso." {
		t.Fatalf("com1 not updated: %+v", got["com1"])
	}
	if got["com2"].Summary != "Existing summary." {
		t.Fatalf("com2 must keep its summary: %+v", got["com2"])
	}
}

func TestSummarizeSkipsFailures(t *testing.T) {
	ctx := context.Background()
	s := fixture(t)
	client := &aitest.Client{
		FormatFunc: func(_ context.Context, name, prompt string, out any) error {
			if strings.Contains(prompt, "Northwind") {
				return errors.New("model unavailable")
			}
			return json.Unmarshal([]byte(`{"title":"Steel","summary":"Steel trade."}`), out)
		},
	}

	n, err := NewSummarizer(s, client, Config{}).Summarize(ctx, "t1", false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one update, got %d", n)
	}
	if s.Calls("UpdateCommunitySummaries") != 1 {
		t.Fatalf("expected a single batched write")
	}
}

func TestSummarizeStoreFailure(t *testing.T) {
	s := fixture(t)
	s.SetFailure("Communities", errors.New("down"))
	_, err := NewSummarizer(s, &aitest.Client{}, Config{}).Summarize(context.Background(), "t1", true)
	if !errors.Is(err, common.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSummarizeRetriesTransientFailure(t *testing.T) {
	s := fixture(t)
	var calls atomic.Int32
	client := &aitest.Client{
		FormatFunc: func(_ context.Context, name, prompt string, out any) error {
			if !strings.Contains(prompt, "Northwind") {
				return json.Unmarshal([]byte(`{"title":"Steel","summary":"Steel trade."}`), out)
			}
			if calls.Add(1) == 1 {
				return errors.New("rate limited")
			}
			return json.Unmarshal([]byte(`{"title":"Shipping","summary":"Northwind ships goods."}`), out)
		},
	}

	n, err := NewSummarizer(s, client, Config{Attempts: 2}).Summarize(context.Background(), "t1", false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected both communities updated, got %d", n)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a single retry, got %d calls", calls.Load())
	}
}
