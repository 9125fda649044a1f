package config

import (
	"github.com/mirojs/graphrag-orchestration/pkg/ai"
	oai "github.com/mirojs/graphrag-orchestration/pkg/ai/ollama"
	gai "github.com/mirojs/graphrag-orchestration/pkg/ai/openai"
)

// NewAIClient builds the language-model client for the configured adapter.
func (c Config) NewAIClient() (ai.GraphAIClient, error) {
	switch c.AI.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel: c.AI.EmbedModel,
			ChatModel:      c.AI.ChatModel,
			RoutingModel:   c.AI.RoutingModel,
			EmbeddingDim:   c.AI.EmbeddingDim,

			BaseURL: c.AI.ChatURL,
			ApiKey:  c.AI.ChatKey,

			MaxConcurrentRequests: int64(c.AI.ParallelReq),
			Timeout:               c.Timeouts.AI,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel: c.AI.EmbedModel,
			ChatModel:      c.AI.ChatModel,
			RoutingModel:   c.AI.RoutingModel,
			EmbeddingDim:   c.AI.EmbeddingDim,

			EmbeddingURL: c.AI.EmbedURL,
			EmbeddingKey: c.AI.EmbedKey,
			ChatURL:      c.AI.ChatURL,
			ChatKey:      c.AI.ChatKey,

			MaxConcurrentRequests: int64(c.AI.ParallelReq),
			Timeout:               c.Timeouts.AI,
		}), nil
	}
}
