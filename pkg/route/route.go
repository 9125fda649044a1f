// Package route decides which retrieval strategy answers a question.
package route

import (
	"context"
	"fmt"
	"time"

	"github.com/mirojs/graphrag-orchestration/pkg/ai"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
)

// RouteKind is one of a closed set of retrieval strategies.
type RouteKind string

const (
	// Local looks up the entities a question names.
	Local RouteKind = "local"
	// Global synthesizes themes across documents.
	Global RouteKind = "global"
	// Drift decomposes comparative or conditional questions into hops.
	Drift RouteKind = "drift"

	Default = Local
)

// Path records how a decision was reached.
type Path string

const (
	PathClassifier Path = "classifier"
	PathHeuristic  Path = "heuristic"
)

// Decision is the single route chosen for a question.
type Decision struct {
	Kind          RouteKind `json:"route"`
	Justification string    `json:"justification"`
	Path          Path      `json:"path"`
}

type Config struct {
	// ClassifierTimeout bounds one classifier call. Zero means no bound
	// beyond the caller's context.
	ClassifierTimeout time.Duration
	// CacheSize enables a decision cache of that many questions.
	CacheSize int
	CacheTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{ClassifierTimeout: 10 * time.Second}
}

type Router struct {
	classifier ai.Completer
	config     Config
	cache      *decisionCache
}

// NewRouter creates a router. A nil classifier routes every question with
// the keyword heuristic.
func NewRouter(classifier ai.Completer, config Config) *Router {
	r := &Router{classifier: classifier, config: config}
	if config.CacheSize > 0 {
		r.cache = newDecisionCache(config.CacheSize, config.CacheTTL)
	}
	return r
}

// Route picks exactly one route for question. It never fails: classifier
// errors and timeouts fall back to Heuristic, unparseable replies resolve to
// the default route. One log event records the outcome.
func (r *Router) Route(ctx context.Context, question string) Decision {
	cached := false
	var d Decision
	if r.cache != nil {
		d, cached = r.cache.get(question)
	}
	if !cached {
		d = r.decide(ctx, question)
		if r.cache != nil && d.Path == PathClassifier {
			r.cache.set(question, d)
		}
	}

	logger.Info("[Router] route selected", "route", string(d.Kind), "path", string(d.Path), "reason", d.Justification, "cached", cached)
	return d
}

// Invalidate drops every cached decision.
func (r *Router) Invalidate() {
	if r.cache != nil {
		r.cache.clear()
	}
}

func (r *Router) decide(ctx context.Context, question string) Decision {
	if r.classifier == nil {
		d := Heuristic(question)
		d.Justification = "classifier disabled; " + d.Justification
		return d
	}

	callCtx := ctx
	if r.config.ClassifierTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.config.ClassifierTimeout)
		defer cancel()
	}
	raw, err := r.classifier.GenerateCompletion(callCtx, fmt.Sprintf(ai.RoutePrompt, question), ai.WithTemperature(0))
	if err == nil {
		err = callCtx.Err()
	}
	if err != nil {
		d := Heuristic(question)
		d.Justification = fmt.Sprintf("classifier unavailable (%v); %s", err, d.Justification)
		return d
	}

	return Fold(ParseClassification(raw),
		func(p ParsedRoute) Decision {
			reason := p.Reason
			switch {
			case p.Defaulted && p.Label == "":
				reason = "classifier returned no route, default route"
			case p.Defaulted && isLegacy(p.Label):
				reason = fmt.Sprintf("legacy route %q, default route", p.Label)
			case p.Defaulted:
				reason = fmt.Sprintf("unknown route %q, default route", p.Label)
			case reason == "":
				reason = "classifier gave no reason"
			}
			return Decision{Kind: p.Kind, Path: PathClassifier, Justification: reason}
		},
		func(m MalformedResponse) Decision {
			return Decision{Kind: Default, Path: PathClassifier, Justification: fmt.Sprintf("malformed classifier response (%v), default route", m.Err)}
		},
	)
}
