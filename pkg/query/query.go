// Package query answers questions over a tenant's knowledge graph. It routes
// each question, runs the matching retrieval strategy, assembles the
// evidence and asks the language model for a cited answer.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mirojs/graphrag-orchestration/internal/util"
	"github.com/mirojs/graphrag-orchestration/pkg/ai"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/evidence"
	"github.com/mirojs/graphrag-orchestration/pkg/hubs"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/propagate"
	"github.com/mirojs/graphrag-orchestration/pkg/route"
	"github.com/mirojs/graphrag-orchestration/pkg/store"
)

// NoRelevantInformation is the answer text when retrieval finds no evidence.
// Callers match on it, so it never changes.
const NoRelevantInformation = "No relevant information found."

// Graph is the read side of the store the orchestrator needs.
type Graph interface {
	store.EntityReader
	store.NeighborExpander
	store.DocumentLookup
	store.ChunkReader
	store.CommunityReader
}

type Config struct {
	RequestTimeout time.Duration
	GraphTimeout   time.Duration
	AITimeout      time.Duration

	// Concurrency bounds parallel sub-retrievals and seed expansions.
	Concurrency int

	// LocalTopEntities is how many entities vector search returns.
	LocalTopEntities int
	ChunksPerEntity  int

	MaxCommunities   int
	HubsPerCommunity int
	// DynamicHubs is how many hubs are diversified when no community
	// exists.
	DynamicHubs int

	Damping       float64
	MaxHops       int
	PropagateTopK int

	MaxSubQuestions     int
	CoveragePerDocument int

	NearDupThreshold float64
	MaxContextTokens int
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout:      120 * time.Second,
		GraphTimeout:        10 * time.Second,
		AITimeout:           30 * time.Second,
		Concurrency:         4,
		LocalTopEntities:    8,
		ChunksPerEntity:     3,
		MaxCommunities:      5,
		HubsPerCommunity:    3,
		DynamicHubs:         10,
		Damping:             0.85,
		MaxHops:             2,
		PropagateTopK:       20,
		MaxSubQuestions:     4,
		CoveragePerDocument: 1,
		NearDupThreshold:    evidence.DefaultNearDupThreshold,
		MaxContextTokens:    12000,
	}
}

// Diagnostic records a failure the orchestrator recovered from.
type Diagnostic struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type diagnostics struct {
	mu    sync.Mutex
	items []Diagnostic
}

func (d *diagnostics) add(stage string, err error) {
	d.mu.Lock()
	d.items = append(d.items, Diagnostic{Stage: stage, Message: err.Error()})
	d.mu.Unlock()
	logger.Warn("[Query] recovered from failure", "stage", stage, "err", err)
}

func (d *diagnostics) list() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Diagnostic(nil), d.items...)
}

// Answer is the result of one question.
type Answer struct {
	Text      string                  `json:"text"`
	Route     route.Decision          `json:"route"`
	Citations []string                `json:"citations"`
	Evidence  []common.CandidateChunk `json:"evidence"`
	// NoEvidence is set when retrieval found nothing and Text is
	// NoRelevantInformation.
	NoEvidence  bool               `json:"no_evidence"`
	Stats       evidence.Stats     `json:"stats"`
	Tokens      int                `json:"tokens"`
	Diagnostics []Diagnostic       `json:"diagnostics,omitempty"`
	Trace       QueryTraceSnapshot `json:"trace"`
}

type Orchestrator struct {
	graph      Graph
	client     ai.GraphAIClient
	router     *route.Router
	hubs       *hubs.Selector
	propagator *propagate.Propagator
	cache      *TenantCache
	tokenizer  evidence.Tokenizer
	tracer     Tracer
	config     Config
}

type Option func(*Orchestrator)

// WithRouter replaces the default router, e.g. to enable its cache.
func WithRouter(r *route.Router) Option {
	return func(o *Orchestrator) {
		o.router = r
	}
}

func WithTokenizer(tok evidence.Tokenizer) Option {
	return func(o *Orchestrator) {
		o.tokenizer = tok
	}
}

// WithTracer forwards every trace event to t in addition to the per-answer
// trace.
func WithTracer(t Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

func NewOrchestrator(graph Graph, client ai.GraphAIClient, config Config, opts ...Option) *Orchestrator {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	o := &Orchestrator{
		graph:  graph,
		client: client,
		router: route.NewRouter(client, route.Config{ClassifierTimeout: config.AITimeout}),
		hubs:   hubs.NewSelector(graph, hubs.Config{GraphTimeout: config.GraphTimeout}),
		propagator: propagate.NewPropagator(graph, propagate.Config{
			Concurrency:  config.Concurrency,
			ExcludeLabel: common.MentionsLabel,
		}),
		cache:  NewTenantCache(graph),
		config: config,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(o)
	}
	if o.tokenizer == nil {
		o.tokenizer = evidence.DefaultTokenizer()
	}
	return o
}

// Cache exposes the tenant cache so ingestion events can invalidate it.
func (o *Orchestrator) Cache() *TenantCache {
	return o.cache
}

// Route classifies a question without answering it.
func (o *Orchestrator) Route(ctx context.Context, question string) route.Decision {
	return o.router.Route(ctx, question)
}

// run carries the per-request state shared by the strategies.
type run struct {
	tenant   string
	question string
	trace    Tracer
	diag     *diagnostics
}

// retrieval is what a strategy hands to evidence assembly.
type retrieval struct {
	entity      []common.CandidateChunk
	coverage    []common.CandidateChunk
	communities []common.Community
}

// Answer routes the question, retrieves evidence and synthesizes a cited
// answer. Recoverable failures end up in Answer.Diagnostics. An error is
// returned for invalid input, cancellation and failed synthesis.
func (o *Orchestrator) Answer(ctx context.Context, tenant, question string) (*Answer, error) {
	tenant = strings.TrimSpace(tenant)
	question = strings.TrimSpace(question)
	if tenant == "" {
		return nil, fmt.Errorf("%w: tenant is required", common.ErrInputValidation)
	}
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", common.ErrInputValidation)
	}

	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	qt := NewQueryTrace()
	r := &run{
		tenant:   tenant,
		question: question,
		trace:    MultiTracer{qt, o.tracer},
		diag:     &diagnostics{},
	}

	start := time.Now()
	decision := o.router.Route(ctx, question)
	RecordRoute(r.trace, string(decision.Kind))

	var res retrieval
	switch decision.Kind {
	case route.Global:
		res = o.retrieveGlobal(ctx, r)
	case route.Drift:
		res = o.retrieveDrift(ctx, r)
	default:
		res = o.retrieveLocal(ctx, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	RecordConsideredChunkIDs(r.trace, chunkIDs(res.entity)...)
	RecordConsideredChunkIDs(r.trace, chunkIDs(res.coverage)...)

	merged, stats := evidence.Merge(res.entity, res.coverage, o.config.NearDupThreshold)
	ranked := evidence.Rank(merged)
	fitted, tokens := evidence.FitTokenBudget(ranked, o.config.MaxContextTokens, o.tokenizer)

	answer := &Answer{
		Route:    decision,
		Evidence: fitted,
		Stats:    stats,
		Tokens:   tokens,
	}

	if len(fitted) == 0 {
		answer.Text = NoRelevantInformation
		answer.NoEvidence = true
		answer.Diagnostics = r.diag.list()
		answer.Trace = qt.Snapshot()
		logger.Info("[Query] no relevant evidence", "tenant", tenant, "route", string(decision.Kind), "duration", time.Since(start))
		return answer, nil
	}

	text, err := o.synthesize(ctx, question, fitted, res.communities)
	if err != nil {
		return nil, fmt.Errorf("synthesize answer: %w", err)
	}

	known := make(map[string]struct{}, len(fitted))
	for _, c := range fitted {
		known[c.Chunk.ID] = struct{}{}
	}
	answer.Text = util.NormalizeCitations(text, known)
	answer.Citations = util.ExtractCitations(answer.Text, known)
	RecordUsedChunkIDs(r.trace, answer.Citations...)

	answer.Diagnostics = r.diag.list()
	answer.Trace = qt.Snapshot()

	logger.Info("[Query] answered",
		"tenant", tenant,
		"route", string(decision.Kind),
		"evidence", len(fitted),
		"citations", len(answer.Citations),
		"tokens", tokens,
		"diagnostics", len(answer.Diagnostics),
		"duration", time.Since(start),
	)
	return answer, nil
}

func (o *Orchestrator) synthesize(
	ctx context.Context,
	question string,
	chunks []common.CandidateChunk,
	communities []common.Community,
) (string, error) {
	data := evidence.FormatContext(chunks)
	if summaries := evidence.FormatCommunities(communities); summaries != "" {
		data += "\n\n" + summaries
	}

	callCtx, cancel := o.aiContext(ctx)
	defer cancel()
	text, err := o.client.GenerateChat(callCtx,
		[]ai.ChatMessage{{Role: "user", Message: question}},
		ai.WithSystemPrompts(fmt.Sprintf(ai.QueryPrompt, data)),
	)
	if err != nil {
		return "", common.NewTransportError("generate chat", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty answer", common.ErrMalformedResponse)
	}
	return text, nil
}

func (o *Orchestrator) aiContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.AITimeout > 0 {
		return context.WithTimeout(ctx, o.config.AITimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) graphContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.GraphTimeout > 0 {
		return context.WithTimeout(ctx, o.config.GraphTimeout)
	}
	return context.WithCancel(ctx)
}

func chunkIDs(chunks []common.CandidateChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Chunk.ID
	}
	return out
}
