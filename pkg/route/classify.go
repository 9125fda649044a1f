package route

import (
	"strings"

	"github.com/mirojs/graphrag-orchestration/pkg/ai"
)

// legacyLabels are route names older classifier prompts produced. They are
// no longer valid routes and resolve to the default.
var legacyLabels = map[string]struct{}{
	"vector":        {},
	"graph":         {},
	"hybrid":        {},
	"raptor":        {},
	"local_search":  {},
	"global_search": {},
	"drift_search":  {},
	"basic":         {},
}

// ParsedRoute is a well-formed classifier reply.
type ParsedRoute struct {
	Kind   RouteKind
	Reason string
	// Label is the route label as the classifier wrote it.
	Label string
	// Defaulted is set when Label was missing, unknown or legacy and Kind
	// is the default route.
	Defaulted bool
}

// MalformedResponse is a classifier reply that could not be parsed.
type MalformedResponse struct {
	Raw string
	Err error
}

// Classification is the tagged result of parsing a classifier reply:
// exactly one of the two variants is set.
type Classification struct {
	ok        *ParsedRoute
	malformed *MalformedResponse
}

func Ok(p ParsedRoute) Classification {
	return Classification{ok: &p}
}

func Malformed(raw string, err error) Classification {
	return Classification{malformed: &MalformedResponse{Raw: raw, Err: err}}
}

// Match calls exactly one of the handlers depending on the variant.
func (c Classification) Match(ok func(ParsedRoute), malformed func(MalformedResponse)) {
	if c.ok != nil {
		ok(*c.ok)
		return
	}
	if c.malformed != nil {
		malformed(*c.malformed)
		return
	}
	malformed(MalformedResponse{})
}

// Fold maps a Classification to a value, requiring a handler per variant.
func Fold[T any](c Classification, ok func(ParsedRoute) T, malformed func(MalformedResponse) T) T {
	var out T
	c.Match(
		func(p ParsedRoute) { out = ok(p) },
		func(m MalformedResponse) { out = malformed(m) },
	)
	return out
}

type classifierReply struct {
	Route     string `json:"route"`
	Reason    string `json:"reason"`
	Reasoning string `json:"reasoning"`
}

// ParseClassification parses a raw classifier reply. Code fences and
// repairable JSON are tolerated; unknown, legacy or missing route labels
// resolve to the default route.
func ParseClassification(raw string) Classification {
	var reply classifierReply
	if err := ai.UnmarshalFlexible(raw, &reply); err != nil {
		return Malformed(raw, err)
	}

	reason := strings.TrimSpace(reply.Reasoning)
	if reason == "" {
		reason = strings.TrimSpace(reply.Reason)
	}
	label := strings.TrimSpace(reply.Route)

	kind, known := ParseKind(label)
	if known {
		return Ok(ParsedRoute{Kind: kind, Reason: reason, Label: label})
	}
	return Ok(ParsedRoute{Kind: Default, Reason: reason, Label: label, Defaulted: true})
}

// ParseKind maps a route label to a RouteKind. Only current labels are
// recognised.
func ParseKind(label string) (RouteKind, bool) {
	switch RouteKind(strings.ToLower(strings.TrimSpace(label))) {
	case Local:
		return Local, true
	case Global:
		return Global, true
	case Drift:
		return Drift, true
	}
	return Default, false
}

func isLegacy(label string) bool {
	_, ok := legacyLabels[strings.ToLower(strings.TrimSpace(label))]
	return ok
}
