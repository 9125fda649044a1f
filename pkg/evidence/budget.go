package evidence

import (
	"sync"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "o200k_base"

// Tokenizer counts tokens the way the synthesis model will.
type Tokenizer interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateTokenizer approximates four bytes per token.
type EstimateTokenizer struct{}

func (EstimateTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// NewTokenizer loads the named tiktoken encoding.
func NewTokenizer(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return tiktokenCounter{enc: enc}, nil
}

var (
	defaultOnce sync.Once
	defaultTok  Tokenizer
)

// DefaultTokenizer returns the o200k_base tokenizer, or EstimateTokenizer
// when the encoding cannot be loaded.
func DefaultTokenizer() Tokenizer {
	defaultOnce.Do(func() {
		tok, err := NewTokenizer(DefaultEncoding)
		if err != nil {
			logger.Warn("[Evidence] tiktoken unavailable, estimating token counts", "err", err)
			defaultTok = EstimateTokenizer{}
			return
		}
		defaultTok = tok
	})
	return defaultTok
}

// FitTokenBudget keeps chunks, in order, while their combined token count
// stays within maxTokens. A chunk that does not fit is skipped and smaller
// ones after it may still be kept. maxTokens <= 0 disables the budget.
// The second return value is the number of tokens used.
func FitTokenBudget(
	chunks []common.CandidateChunk,
	maxTokens int,
	tok Tokenizer,
) ([]common.CandidateChunk, int) {
	if tok == nil {
		tok = DefaultTokenizer()
	}

	used := 0
	out := make([]common.CandidateChunk, 0, len(chunks))
	for _, c := range chunks {
		n := tok.Count(c.Chunk.Text)
		if maxTokens > 0 && used+n > maxTokens {
			continue
		}
		used += n
		out = append(out, c)
	}
	return out, used
}
