// Package aitest provides a scriptable ai.GraphAIClient for tests.
package aitest

import (
	"context"
	"strings"
	"sync"

	"github.com/mirojs/graphrag-orchestration/pkg/ai"
)

// Client is a fake ai.GraphAIClient. Every hook is optional; unset hooks
// return zero values. Calls are counted per method.
type Client struct {
	CompletionFunc func(ctx context.Context, prompt string) (string, error)
	FormatFunc     func(ctx context.Context, name, prompt string, out any) error
	ChatFunc       func(ctx context.Context, messages []ai.ChatMessage, opts ai.GenerateOptions) (string, error)
	EmbedFunc      func(ctx context.Context, input string) ([]float32, error)
	// EmbedBatchFunc overrides EmbedFunc for batch requests when set.
	EmbedBatchFunc func(ctx context.Context, inputs []string) ([][]float32, error)

	mu      sync.Mutex
	calls   map[string]int
	metrics ai.ModelMetrics
}

func (c *Client) count(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[method]++
	c.metrics.Requests++
}

// Calls reports how often method was invoked.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	c.count("GenerateCompletion")
	if c.CompletionFunc == nil {
		return "", nil
	}
	return c.CompletionFunc(ctx, prompt)
}

func (c *Client) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	c.count("GenerateCompletionWithFormat")
	if c.FormatFunc == nil {
		return nil
	}
	return c.FormatFunc(ctx, name, prompt, out)
}

func (c *Client) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	c.count("GenerateChat")
	if c.ChatFunc == nil {
		return "", nil
	}
	return c.ChatFunc(ctx, messages, ai.ApplyOptions(ai.GenerateOptions{}, opts...))
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	c.count("GenerateEmbedding")
	if c.EmbedFunc == nil {
		return nil, nil
	}
	return c.EmbedFunc(ctx, string(input))
}

func (c *Client) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	c.count("GenerateEmbeddings")
	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = string(in)
	}
	if c.EmbedBatchFunc != nil {
		return c.EmbedBatchFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if c.EmbedFunc == nil {
			continue
		}
		vec, err := c.EmbedFunc(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) ResetMetrics() {
	c.mu.Lock()
	c.metrics = ai.ModelMetrics{}
	c.mu.Unlock()
}

func (c *Client) GetMetrics() ai.ModelMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// KeywordEmbedder returns an EmbedFunc that maps text to a vector with one
// dimension per keyword, set to 1 when the lowercased text contains it.
func KeywordEmbedder(keywords ...string) func(context.Context, string) ([]float32, error) {
	return func(_ context.Context, text string) ([]float32, error) {
		lower := strings.ToLower(text)
		vec := make([]float32, len(keywords))
		for i, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				vec[i] = 1
			}
		}
		return vec, nil
	}
}

var _ ai.GraphAIClient = (*Client)(nil)
