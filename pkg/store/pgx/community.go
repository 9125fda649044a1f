package pgx

import (
	"context"

	"github.com/mirojs/graphrag-orchestration/internal/util"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// Communities returns the tenant's communities by descending rank.
func (s *GraphDBStorage) Communities(ctx context.Context, tenant string) ([]common.Community, error) {
	rows, err := s.conn.Query(ctx, `
SELECT c.id, c.title, c.summary, c.rank,
	COALESCE(array_agg(m.entity_id ORDER BY m.entity_id) FILTER (WHERE m.entity_id IS NOT NULL), '{}')
FROM communities c
LEFT JOIN community_members m ON m.tenant = c.tenant AND m.community_id = c.id
WHERE c.tenant = $1
GROUP BY c.tenant, c.id
ORDER BY c.rank DESC, c.id`, tenant)
	if err != nil {
		return nil, wrap("communities", err)
	}
	defer rows.Close()

	var out []common.Community
	for rows.Next() {
		var c common.Community
		if err := rows.Scan(&c.ID, &c.Title, &c.Summary, &c.Rank, &c.MemberEntityIDs); err != nil {
			return nil, wrap("communities", err)
		}
		out = append(out, c)
	}
	return out, wrap("communities", rows.Err())
}

// UpdateCommunitySummaries rewrites summaries of existing communities. An
// empty title keeps the stored one.
func (s *GraphDBStorage) UpdateCommunitySummaries(ctx context.Context, tenant string, communities []common.Community) error {
	err := store.ChunkRange(len(communities), s.batchSize, func(start, end int) error {
		return s.inTx(ctx, func(tx pgxv5.Tx) error {
			batch := &pgxv5.Batch{}
			for _, c := range communities[start:end] {
				batch.Queue(`
UPDATE communities
SET summary = $3, title = COALESCE(NULLIF($4, ''), title)
WHERE tenant = $1 AND id = $2`,
					tenant, c.ID,
					util.SanitizePostgresText(c.Summary),
					util.SanitizePostgresText(c.Title),
				)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	return wrap("update community summaries", err)
}
