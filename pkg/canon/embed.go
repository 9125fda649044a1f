package canon

import (
	"context"

	"github.com/mirojs/graphrag-orchestration/pkg/ai"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// EmbedStats reports how an EmbedCandidates run went.
type EmbedStats struct {
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
	Embedded      int `json:"embedded"`
}

// EmbedCandidates fills in name embeddings for candidates that have none.
// Names are sent in batches of batchSize with at most concurrency requests
// in flight. A batch that errors or returns a different number of vectors
// leaves every candidate in it without an embedding; the run itself only
// fails when ctx ends.
func EmbedCandidates(
	ctx context.Context,
	embedder ai.Embedder,
	candidates []EntityCandidate,
	batchSize int,
	concurrency int,
) ([]EntityCandidate, EmbedStats, error) {
	out := make([]EntityCandidate, len(candidates))
	copy(out, candidates)

	pending := make([]int, 0, len(out))
	for i, c := range out {
		if len(c.Embedding) == 0 {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 || embedder == nil {
		return out, EmbedStats{}, nil
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	batches := make([][]int, 0, len(pending)/batchSize+1)
	for start := 0; start < len(pending); start += batchSize {
		batches = append(batches, pending[start:min(start+batchSize, len(pending))])
	}
	results := make([][][]float32, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for bi, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			inputs := make([][]byte, len(batch))
			for k, idx := range batch {
				inputs[k] = []byte(out[idx].Name)
			}
			vecs, err := embedder.GenerateEmbeddings(gctx, inputs)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("[Canon] embedding batch failed, continuing without embeddings", "batch", bi, "size", len(batch), "err", err)
				return nil
			}
			if len(vecs) != len(batch) {
				logger.Warn("[Canon] embedding batch size mismatch, continuing without embeddings", "batch", bi, "want", len(batch), "got", len(vecs))
				return nil
			}
			results[bi] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return candidates, EmbedStats{}, err
	}

	stats := EmbedStats{Batches: len(batches)}
	for bi, batch := range batches {
		if results[bi] == nil {
			stats.FailedBatches++
			continue
		}
		for k, idx := range batch {
			if vec := results[bi][k]; len(vec) > 0 {
				out[idx].Embedding = vec
				stats.Embedded++
			}
		}
	}
	return out, stats, nil
}
