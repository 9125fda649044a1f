package pgx

import (
	"context"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
)

// neighborQuery walks relationships in both directions from the seed. Chunks
// join the walk as "chunk:<id>" nodes over their mentions unless $5 is false,
// and a path never revisits a node. Only active entities are reported, each
// with its shortest hop count.
const neighborQuery = `
WITH RECURSIVE
seed AS (
	SELECT COALESCE(merged_into, id) AS id
	FROM entities
	WHERE tenant = $1 AND id = $2
),
edges(a, b) AS (
	SELECT source_id, target_id FROM relationships WHERE tenant = $1 AND label <> $4
	UNION ALL
	SELECT target_id, source_id FROM relationships WHERE tenant = $1 AND label <> $4
	UNION ALL
	SELECT 'chunk:' || chunk_id, entity_id FROM mentions WHERE tenant = $1 AND $5
	UNION ALL
	SELECT entity_id, 'chunk:' || chunk_id FROM mentions WHERE tenant = $1 AND $5
),
walk(node, hops, path) AS (
	SELECT id, 0, ARRAY[id] FROM seed
	UNION ALL
	SELECT e.b, w.hops + 1, w.path || e.b
	FROM walk w
	JOIN edges e ON e.a = w.node
	WHERE w.hops < $3 AND NOT e.b = ANY(w.path)
)
SELECT en.id, en.name, MIN(w.hops)::int AS hops
FROM walk w
JOIN entities en ON en.id = w.node AND en.tenant = $1 AND en.merged_into IS NULL
WHERE w.hops > 0 AND w.node <> (SELECT id FROM seed)
GROUP BY en.id, en.name
ORDER BY hops, en.name`

// ExpandNeighbors returns the entities within maxHops of seedID. An unknown
// seed yields no neighbors.
func (s *GraphDBStorage) ExpandNeighbors(ctx context.Context, tenant string, seedID string, maxHops int, excludeLabel string) ([]common.Neighbor, error) {
	if maxHops <= 0 {
		return nil, nil
	}
	includeMentions := excludeLabel != common.MentionsLabel

	rows, err := s.conn.Query(ctx, neighborQuery, tenant, seedID, maxHops, excludeLabel, includeMentions)
	if err != nil {
		return nil, wrap("expand neighbors", err)
	}
	defer rows.Close()

	var out []common.Neighbor
	for rows.Next() {
		var n common.Neighbor
		if err := rows.Scan(&n.EntityID, &n.Name, &n.Hops); err != nil {
			return nil, wrap("expand neighbors", err)
		}
		out = append(out, n)
	}
	return out, wrap("expand neighbors", rows.Err())
}
