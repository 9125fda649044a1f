package query

import (
	"reflect"
	"sync"
	"testing"
)

type countingTracer struct {
	mu     sync.Mutex
	events int
}

func (c *countingTracer) Record(TraceEvent) {
	c.mu.Lock()
	c.events++
	c.mu.Unlock()
}

func TestQueryTraceSnapshot(t *testing.T) {
	qt := NewQueryTrace()
	extra := &countingTracer{}
	tr := MultiTracer{qt, nil, extra}

	RecordRoute(tr, "global")
	RecordHubs(tr, "Zeta", "Alpha", "Zeta")
	RecordSeedEntityIDs(tr, "e2", "e1", "", "e2")
	RecordConsideredChunkIDs(tr, "c2", "c1")
	RecordUsedChunkIDs(tr, "c1")
	RecordSubQuestions(tr, "b?", "a?")

	got := qt.Snapshot()
	want := QueryTraceSnapshot{
		Route:               "global",
		SubQuestions:        []string{"b?", "a?"},
		Hubs:                []string{"Zeta", "Alpha"},
		SeedEntityIDs:       []string{"e1", "e2"},
		PropagatedEntityIDs: []string{},
		ConsideredChunkIDs:  []string{"c1", "c2"},
		UsedChunkIDs:        []string{"c1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %+v, want %+v", got, want)
	}
	if extra.events != 6 {
		t.Fatalf("expected 6 forwarded events, got %d", extra.events)
	}
}

func TestQueryTraceConcurrentRecord(t *testing.T) {
	qt := NewQueryTrace()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordConsideredChunkIDs(qt, string(rune('a'+i%5)))
		}()
	}
	wg.Wait()
	if got := qt.Snapshot().ConsideredChunkIDs; len(got) != 5 {
		t.Fatalf("expected 5 distinct ids, got %v", got)
	}
}

func TestNilTraceIsSafe(t *testing.T) {
	var qt *QueryTrace
	qt.Record(TraceEvent{Kind: TraceEventRoute, Route: "local"})
	if got := qt.Snapshot(); got.Route != "" {
		t.Fatalf("nil trace returned %+v", got)
	}
	RecordRoute(nil, "local")
}
