package canon

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MatchType names the rule that justified a merge.
type MatchType string

const (
	MatchEmbedding    MatchType = "embedding"
	MatchAcronym      MatchType = "acronym"
	MatchAbbreviation MatchType = "abbreviation"
)

const (
	minAcronymLen     = 2
	maxAcronymLen     = 6
	wordMatchFraction = 0.7
)

// abbreviations expands common title and corporate abbreviations to a
// single normalized word.
var abbreviations = map[string]string{
	"corp":  "corporation",
	"inc":   "incorporated",
	"co":    "company",
	"ltd":   "limited",
	"intl":  "international",
	"natl":  "national",
	"assoc": "association",
	"dept":  "department",
	"univ":  "university",
	"mfg":   "manufacturing",
	"bros":  "brothers",
	"svcs":  "services",
	"tech":  "technology",
	"govt":  "government",
	"dr":    "doctor",
	"prof":  "professor",
	"mr":    "mister",
	"mrs":   "missus",
	"st":    "saint",
	"mt":    "mount",
	"ft":    "fort",
	"jr":    "junior",
	"sr":    "senior",
	"&":     "and",
	"und":   "and",
}

// corporateSuffixes are dropped from the end of a normalized name so that
// "Acme Corp" and "Acme" compare equal.
var corporateSuffixes = map[string]struct{}{
	"corporation":  {},
	"incorporated": {},
	"company":      {},
	"limited":      {},
	"llc":          {},
	"plc":          {},
	"gmbh":         {},
	"ag":           {},
	"sa":           {},
	"nv":           {},
	"bv":           {},
	"lp":           {},
	"llp":          {},
}

var acronymStopwords = map[string]struct{}{
	"of": {}, "and": {}, "the": {}, "for": {}, "in": {}, "on": {}, "at": {}, "&": {},
}

// Cosine returns the cosine similarity of a and b. It is 0 when either vector
// has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// words splits a name into lowercase tokens. "&" survives as its own token.
func words(name string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case r == '&':
			flush()
			out = append(out, "&")
		default:
			flush()
		}
	}
	flush()
	return out
}

func expand(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		if full, ok := abbreviations[t]; ok {
			out[i] = full
		} else {
			out[i] = t
		}
	}
	return out
}

func stripSuffixes(tokens []string) []string {
	end := len(tokens)
	for end > 1 {
		if _, ok := corporateSuffixes[tokens[end-1]]; !ok {
			break
		}
		end--
	}
	return tokens[:end]
}

// normalizedForm expands abbreviations and drops trailing corporate suffixes.
func normalizedForm(name string) string {
	return strings.Join(stripSuffixes(expand(words(name))), " ")
}

// isAcronym reports whether short is a 2..6 letter all-uppercase token whose
// letters equal the initials of long's words. Initials are tried over all
// words, without stopwords, and without trailing corporate suffixes.
func isAcronym(short, long string) bool {
	n := utf8.RuneCountInString(short)
	if n < minAcronymLen || n > maxAcronymLen {
		return false
	}
	for _, r := range short {
		if !unicode.IsLetter(r) || !unicode.IsUpper(r) {
			return false
		}
	}

	tokens := words(long)
	if len(tokens) < 2 {
		return false
	}
	target := strings.ToLower(short)

	variants := [][]string{tokens, stripSuffixes(expand(tokens))}
	for _, v := range variants[:2] {
		variants = append(variants, withoutStopwords(v))
	}
	for _, v := range variants {
		if initials(v) == target {
			return true
		}
	}
	return false
}

func withoutStopwords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := acronymStopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func initials(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		r, _ := utf8.DecodeRuneInString(t)
		b.WriteRune(r)
	}
	return b.String()
}

// isAbbreviation reports whether a and b name the same thing once titles and
// corporate suffixes are expanded, or when at least 70% of word positions
// agree exactly or by a single initial ("J." vs "John"). Both names need at
// least two words and one exactly matching word, so bare initials never
// merge.
func isAbbreviation(a, b string) bool {
	na, nb := normalizedForm(a), normalizedForm(b)
	if na != "" && na == nb {
		return true
	}

	wa, wb := expand(words(a)), expand(words(b))
	if len(wa) < 2 || len(wb) < 2 {
		return false
	}
	positions := max(len(wa), len(wb))
	matched, exact := 0, 0
	for i := 0; i < min(len(wa), len(wb)); i++ {
		switch {
		case wa[i] == wb[i]:
			matched++
			exact++
		case initialOf(wa[i], wb[i]) || initialOf(wb[i], wa[i]):
			matched++
		}
	}
	return exact > 0 && float64(matched)/float64(positions) >= wordMatchFraction
}

// initialOf reports whether short is the single-letter initial of long.
func initialOf(short, long string) bool {
	if utf8.RuneCountInString(short) != 1 || utf8.RuneCountInString(long) < 2 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(long)
	return string(r) == short
}
