package route

import (
	"strings"
	"unicode"
)

// comparisonSignals mark multi-hop comparative or conditional questions.
var comparisonSignals = []string{
	"compare", "compared", "comparing", "comparison",
	"versus", "vs",
	"differ", "differs", "difference", "differences", "different",
	"contrast",
	"in common",
	"if", "unless", "whether",
	"depends on", "relationship between",
	"impact of", "affect", "affects",
}

// aggregationSignals mark thematic questions spanning the corpus.
var aggregationSignals = []string{
	"summarize", "summarise", "summary", "overview",
	"themes", "theme", "trends", "trend", "patterns",
	"recurring", "overall",
	"across", "all", "every",
	"list all", "how many", "total", "aggregate",
}

// Heuristic classifies a question by keyword signals alone. Comparison and
// conditional phrasing wins over aggregation phrasing; anything else is the
// default route. It is pure: the same question always yields the same
// decision.
func Heuristic(question string) Decision {
	text := " " + strings.Join(words(question), " ") + " "
	if kw, ok := firstSignal(text, comparisonSignals); ok {
		return Decision{Kind: Drift, Path: PathHeuristic, Justification: "comparison or conditional keyword \"" + kw + "\""}
	}
	if kw, ok := firstSignal(text, aggregationSignals); ok {
		return Decision{Kind: Global, Path: PathHeuristic, Justification: "aggregation keyword \"" + kw + "\""}
	}
	return Decision{Kind: Default, Path: PathHeuristic, Justification: "no keyword signal, default route"}
}

func firstSignal(text string, signals []string) (string, bool) {
	for _, s := range signals {
		if strings.Contains(text, " "+s+" ") {
			return s, true
		}
	}
	return "", false
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
