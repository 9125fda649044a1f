package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventRoute              TraceEventKind = "route"
	TraceEventSubQuestions       TraceEventKind = "sub_questions"
	TraceEventSeedEntityIDs      TraceEventKind = "seed_entity_ids"
	TraceEventHubs               TraceEventKind = "hubs"
	TraceEventPropagatedEntities TraceEventKind = "propagated_entity_ids"
	TraceEventConsideredChunkIDs TraceEventKind = "considered_chunk_ids"
	TraceEventUsedChunkIDs       TraceEventKind = "used_chunk_ids"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Route     string
	Values    []string
	EntityIDs []string
	ChunkIDs  []string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordRoute(t Tracer, route string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventRoute, Route: route})
}

func RecordSubQuestions(t Tracer, questions ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSubQuestions, Values: questions})
}

func RecordSeedEntityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeedEntityIDs, EntityIDs: ids})
}

func RecordHubs(t Tracer, names ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventHubs, Values: names})
}

func RecordPropagatedEntityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventPropagatedEntities, EntityIDs: ids})
}

func RecordConsideredChunkIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredChunkIDs, ChunkIDs: ids})
}

func RecordUsedChunkIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedChunkIDs, ChunkIDs: ids})
}

// QueryTrace collects what a query run looked at and what it used.
//
// Sub-questions and hubs keep their recording order; id sets are sorted in
// the snapshot.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	route              string
	subQuestions       []string
	hubs               []string
	seedEntityIDs      map[string]struct{}
	propagatedEntities map[string]struct{}
	consideredChunkIDs map[string]struct{}
	usedChunkIDs       map[string]struct{}
}

type QueryTraceSnapshot struct {
	Route               string   `json:"route"`
	SubQuestions        []string `json:"sub_questions,omitempty"`
	Hubs                []string `json:"hubs,omitempty"`
	SeedEntityIDs       []string `json:"seed_entity_ids"`
	PropagatedEntityIDs []string `json:"propagated_entity_ids,omitempty"`
	ConsideredChunkIDs  []string `json:"considered_chunk_ids"`
	UsedChunkIDs        []string `json:"used_chunk_ids"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		seedEntityIDs:      make(map[string]struct{}),
		propagatedEntities: make(map[string]struct{}),
		consideredChunkIDs: make(map[string]struct{}),
		usedChunkIDs:       make(map[string]struct{}),
	}
}

func addAll(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func appendNew(list []string, values []string) []string {
	for _, v := range values {
		if v == "" || slices.Contains(list, v) {
			continue
		}
		list = append(list, v)
	}
	return list
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventRoute:
		t.route = event.Route
	case TraceEventSubQuestions:
		t.subQuestions = appendNew(t.subQuestions, event.Values)
	case TraceEventHubs:
		t.hubs = appendNew(t.hubs, event.Values)
	case TraceEventSeedEntityIDs:
		addAll(t.seedEntityIDs, event.EntityIDs)
	case TraceEventPropagatedEntities:
		addAll(t.propagatedEntities, event.EntityIDs)
	case TraceEventConsideredChunkIDs:
		addAll(t.consideredChunkIDs, event.ChunkIDs)
	case TraceEventUsedChunkIDs:
		addAll(t.usedChunkIDs, event.ChunkIDs)
	default:
		return
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		Route:               t.route,
		SubQuestions:        slices.Clone(t.subQuestions),
		Hubs:                slices.Clone(t.hubs),
		SeedEntityIDs:       sortedKeys(t.seedEntityIDs),
		PropagatedEntityIDs: sortedKeys(t.propagatedEntities),
		ConsideredChunkIDs:  sortedKeys(t.consideredChunkIDs),
		UsedChunkIDs:        sortedKeys(t.usedChunkIDs),
	}
}
