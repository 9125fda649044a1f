package util

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reBoldCitation  = regexp.MustCompile(`\*\*\s*\[\[?([^][]+)\]\]?\s*\*\*`)
	reCitation      = regexp.MustCompile(`\[\[([^][]+)\]\]`)
	reCitationSep   = regexp.MustCompile(`\]\][\t ]+\[\[`)
	reCitationNoise = regexp.MustCompile(`^(?:[^,;|: ]*[,;|: ]+)+`)
)

// NormalizeCitations rewrites the citation markers a model produces into the
// canonical "[[chunk_id]]" form: bold markers are unwrapped, single brackets
// are upgraded (markdown links are left alone), prefixes like "DOC:" inside a
// marker are stripped when known is non-nil and the remainder is a known id,
// and runs of the same id separated only by whitespace collapse to one.
func NormalizeCitations(s string, known map[string]struct{}) string {
	s = reBoldCitation.ReplaceAllString(s, "[[$1]]")
	s = upgradeSingleBrackets(s)
	if known != nil {
		s = reCitation.ReplaceAllStringFunc(s, func(m string) string {
			id := m[2 : len(m)-2]
			if _, ok := known[id]; ok {
				return m
			}
			trimmed := reCitationNoise.ReplaceAllString(id, "")
			if _, ok := known[trimmed]; ok {
				return "[[" + trimmed + "]]"
			}
			return m
		})
	}
	s = collapseRepeatedCitations(s)
	return reCitationSep.ReplaceAllString(s, "]] [[")
}

// ExtractCitations returns the ids referenced as "[[id]]" in s, in order of
// first appearance. When known is non-nil, ids outside it are ignored.
func ExtractCitations(s string, known map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range reCitation.FindAllStringSubmatch(s, -1) {
		id := strings.TrimSpace(m[1])
		if known != nil {
			if _, ok := known[id]; !ok {
				continue
			}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func upgradeSingleBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '[' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '[' {
			b.WriteString("[[")
			i += 2
			continue
		}
		end := strings.IndexByte(s[i+1:], ']')
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		end += i + 1
		inner := s[i+1 : end]
		followedByLink := end+1 < len(s) && s[end+1] == '('
		if followedByLink || strings.Contains(inner, "[") || inner == "" {
			b.WriteString(s[i : end+1])
		} else {
			b.WriteString("[[" + inner + "]]")
		}
		i = end + 1
	}
	return b.String()
}

func collapseRepeatedCitations(s string) string {
	matches := reCitation.FindAllStringSubmatchIndex(s, -1)
	if len(matches) < 2 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	cursor := 0
	for i := 0; i < len(matches); i++ {
		start, end := matches[i][0], matches[i][1]
		id := s[matches[i][2]:matches[i][3]]
		b.WriteString(s[cursor:start])
		b.WriteString(s[start:end])
		cursor = end

		atLineStart := start == 0 || s[start-1] == '\n' || s[start-1] == '\r'
		for i+1 < len(matches) {
			next := matches[i+1]
			gap := s[cursor:next[0]]
			if strings.TrimFunc(gap, unicode.IsSpace) != "" {
				break
			}
			if strings.ContainsAny(gap, "\r\n") && !atLineStart {
				break
			}
			if s[next[2]:next[3]] != id {
				break
			}
			cursor = next[1]
			i++
		}
	}
	b.WriteString(s[cursor:])
	return b.String()
}
