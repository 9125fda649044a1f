package evidence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
)

// Rank orders chunks by score, highest first. Equal scores keep their input
// order, so the result is a pure function of the merge order.
func Rank(chunks []common.CandidateChunk) []common.CandidateChunk {
	out := make([]common.CandidateChunk, len(chunks))
	copy(out, chunks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// FormatContext renders chunks as the evidence block of the synthesis prompt.
// Each chunk is introduced by its "[[chunk_id]]" citation marker.
func FormatContext(chunks []common.CandidateChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[[%s]]", c.Chunk.ID)
		if loc := location(c.Chunk); loc != "" {
			fmt.Fprintf(&b, " (%s)", loc)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(c.Chunk.Text))
	}
	return b.String()
}

// FormatCommunities renders community summaries as uncited orientation text.
func FormatCommunities(communities []common.Community) string {
	var b strings.Builder
	for _, c := range communities {
		if strings.TrimSpace(c.Summary) == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Community summaries:\n")
		}
		fmt.Fprintf(&b, "- %s: %s\n", c.Title, strings.TrimSpace(c.Summary))
	}
	return strings.TrimRight(b.String(), "\n")
}

func location(chunk common.TextChunk) string {
	parts := make([]string, 0, 2)
	if chunk.DocumentID != "" {
		parts = append(parts, chunk.DocumentID)
	}
	if len(chunk.SectionPath) > 0 {
		parts = append(parts, strings.Join(chunk.SectionPath, " > "))
	}
	return strings.Join(parts, ", ")
}
