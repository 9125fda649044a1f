package pgx

import (
	"context"
	"strings"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

func scanChunk(row pgxv5.Row, lead ...any) (common.TextChunk, error) {
	var c common.TextChunk
	dest := append(lead, &c.ID, &c.DocumentID, &c.ChunkIndex, &c.SectionPath, &c.Text)
	if err := row.Scan(dest...); err != nil {
		return common.TextChunk{}, err
	}
	if len(c.SectionPath) == 0 {
		c.SectionPath = nil
	}
	return c, nil
}

// EntityDocuments keys the result by the names as requested. Names without a
// mentioning chunk are absent.
func (s *GraphDBStorage) EntityDocuments(ctx context.Context, tenant string, names []string) (map[string][]string, error) {
	names = store.DedupeStrings(names)
	out := make(map[string][]string, len(names))
	if len(names) == 0 {
		return out, nil
	}

	requested := make(map[string][]string, len(names))
	for _, name := range names {
		k := strings.ToLower(strings.TrimSpace(name))
		requested[k] = append(requested[k], name)
	}

	rows, err := s.conn.Query(ctx, `
SELECT DISTINCT lower(v.name), c.document_id
FROM entities v
JOIN mentions m ON m.tenant = v.tenant AND m.entity_id = COALESCE(v.merged_into, v.id)
JOIN chunks c ON c.id = m.chunk_id
WHERE v.tenant = $1 AND lower(v.name) = ANY($2)
ORDER BY 1, 2`, tenant, lowerAll(names))
	if err != nil {
		return nil, wrap("entity documents", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, wrap("entity documents", err)
		}
		for _, name := range requested[key] {
			out[name] = append(out[name], doc)
		}
	}
	return out, wrap("entity documents", rows.Err())
}

// ChunksForEntities returns the chunks per requested id in request order.
// EntityChunk.EntityID is the id as requested, even when it resolved to a
// canonical entity.
func (s *GraphDBStorage) ChunksForEntities(ctx context.Context, tenant string, entityIDs []string, perEntity int) ([]common.EntityChunk, error) {
	entityIDs = store.DedupeStrings(entityIDs)
	if perEntity <= 0 || len(entityIDs) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, `
SELECT req.id, c.id, c.document_id, c.chunk_index, c.section_path, c.text
FROM unnest($2::text[]) WITH ORDINALITY AS req(id, ord)
JOIN entities v ON v.tenant = $1 AND v.id = req.id
CROSS JOIN LATERAL (
	SELECT ch.id, ch.document_id, ch.chunk_index, ch.section_path, ch.text
	FROM mentions m
	JOIN chunks ch ON ch.id = m.chunk_id
	WHERE m.tenant = $1 AND m.entity_id = COALESCE(v.merged_into, v.id)
	ORDER BY ch.document_id, ch.chunk_index
	LIMIT $3
) c
ORDER BY req.ord, c.document_id, c.chunk_index`, tenant, entityIDs, perEntity)
	if err != nil {
		return nil, wrap("chunks for entities", err)
	}
	defer rows.Close()

	var out []common.EntityChunk
	for rows.Next() {
		var entityID string
		c, err := scanChunk(rows, &entityID)
		if err != nil {
			return nil, wrap("chunks for entities", err)
		}
		out = append(out, common.EntityChunk{EntityID: entityID, Chunk: c})
	}
	return out, wrap("chunks for entities", rows.Err())
}

func (s *GraphDBStorage) CoverageChunks(ctx context.Context, tenant string, perDocument int) ([]common.TextChunk, error) {
	if perDocument <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
SELECT id, document_id, chunk_index, section_path, text
FROM (
	SELECT ch.*, row_number() OVER (PARTITION BY ch.document_id ORDER BY ch.chunk_index, ch.id) AS rn
	FROM chunks ch
	WHERE ch.tenant = $1
) ranked
WHERE rn <= $2
ORDER BY document_id, chunk_index`, tenant, perDocument)
	if err != nil {
		return nil, wrap("coverage chunks", err)
	}
	defer rows.Close()

	var out []common.TextChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, wrap("coverage chunks", err)
		}
		out = append(out, c)
	}
	return out, wrap("coverage chunks", rows.Err())
}
