package pgx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mirojs/graphrag-orchestration/internal/util"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// entityColumns selects an active entity aliased as e, with its degree over
// non-mention relationships and its community memberships.
const entityColumns = `
	e.id, e.name, e.type, e.description, e.embedding,
	(SELECT count(*) FROM relationships r
	  WHERE r.tenant = e.tenant
	    AND (r.source_id = e.id OR r.target_id = e.id)
	    AND r.label <> '` + common.MentionsLabel + `')::int,
	COALESCE((SELECT array_agg(m.community_id ORDER BY m.community_id)
	  FROM community_members m
	  WHERE m.tenant = e.tenant AND m.entity_id = e.id), '{}')`

func scanEntity(row pgxv5.Row, extra ...any) (common.Entity, error) {
	var (
		ent common.Entity
		emb *pgvector.Vector
	)
	dest := append([]any{
		&ent.ID, &ent.Name, &ent.Type, &ent.Description, &emb, &ent.Degree, &ent.CommunityIDs,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return common.Entity{}, err
	}
	if emb != nil {
		ent.Embedding = emb.Slice()
	}
	if len(ent.CommunityIDs) == 0 {
		ent.CommunityIDs = nil
	}
	return ent, nil
}

func vectorOrNil(embedding []float32) *pgvector.Vector {
	if len(embedding) == 0 {
		return nil
	}
	v := pgvector.NewVector(embedding)
	return &v
}

func (s *GraphDBStorage) FetchEntities(ctx context.Context, tenant string) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, `
SELECT`+entityColumns+`
FROM entities e
WHERE e.tenant = $1 AND e.merged_into IS NULL
ORDER BY e.created_at, e.id`, tenant)
	if err != nil {
		return nil, wrap("fetch entities", err)
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, wrap("fetch entities", err)
		}
		out = append(out, ent)
	}
	return out, wrap("fetch entities", rows.Err())
}

// resolvedEntities loads the active entities behind the requested keys. key
// is the SQL expression on the requested row v that the keys match. Results
// follow the order of keys, without duplicates.
func (s *GraphDBStorage) resolvedEntities(ctx context.Context, op, tenant, key string, keys []string) ([]common.Entity, error) {
	keys = store.DedupeStrings(keys)
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
SELECT`+entityColumns+`, `+key+`
FROM entities v
JOIN entities e ON e.id = COALESCE(v.merged_into, v.id) AND e.merged_into IS NULL
WHERE v.tenant = $1 AND `+key+` = ANY($2)`, tenant, keys)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	byKey := make(map[string]common.Entity, len(keys))
	for rows.Next() {
		var k string
		ent, err := scanEntity(rows, &k)
		if err != nil {
			return nil, wrap(op, err)
		}
		byKey[k] = ent
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}

	seen := make(map[string]struct{}, len(byKey))
	out := make([]common.Entity, 0, len(byKey))
	for _, k := range keys {
		ent, ok := byKey[k]
		if !ok {
			continue
		}
		if _, dup := seen[ent.ID]; dup {
			continue
		}
		seen[ent.ID] = struct{}{}
		out = append(out, ent)
	}
	return out, nil
}

// EntitiesByIDs returns the active entities for ids. Ids of merged variants
// resolve to their canonical entity.
func (s *GraphDBStorage) EntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]common.Entity, error) {
	return s.resolvedEntities(ctx, "entities by ids", tenant, "v.id", ids)
}

// EntitiesByNames matches names case-insensitively. Alias names resolve to
// their canonical entity.
func (s *GraphDBStorage) EntitiesByNames(ctx context.Context, tenant string, names []string) ([]common.Entity, error) {
	return s.resolvedEntities(ctx, "entities by names", tenant, "lower(v.name)", lowerAll(names))
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *GraphDBStorage) SearchEntities(ctx context.Context, tenant string, embedding []float32, limit int) ([]common.ScoredEntity, error) {
	if limit <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
SELECT`+entityColumns+`, 1 - (e.embedding <=> $2) AS score
FROM entities e
WHERE e.tenant = $1
  AND e.merged_into IS NULL
  AND e.embedding IS NOT NULL
  AND 1 - (e.embedding <=> $2) > 0
ORDER BY score DESC, e.name
LIMIT $3`, tenant, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, wrap("search entities", err)
	}
	defer rows.Close()

	var out []common.ScoredEntity
	for rows.Next() {
		var score float64
		ent, err := scanEntity(rows, &score)
		if err != nil {
			return nil, wrap("search entities", err)
		}
		out = append(out, common.ScoredEntity{Entity: ent, Score: score})
	}
	return out, wrap("search entities", rows.Err())
}

// UpsertEntities writes entities in batches. An existing entity with the same
// case-insensitive name keeps its id; empty fields never overwrite stored
// values.
func (s *GraphDBStorage) UpsertEntities(ctx context.Context, tenant string, entities []common.Entity) error {
	valid := slices.DeleteFunc(slices.Clone(entities), func(e common.Entity) bool {
		return strings.TrimSpace(e.Name) == ""
	})

	err := store.ChunkRange(len(valid), s.batchSize, func(start, end int) error {
		logger.Debug("[Store][UpsertEntities] Saving chunk", "tenant", tenant, "entities", end-start)

		return s.inTx(ctx, func(tx pgxv5.Tx) error {
			batch := &pgxv5.Batch{}
			for _, e := range valid[start:end] {
				id := e.ID
				if id == "" {
					var err error
					if id, err = newID(); err != nil {
						return err
					}
				}
				batch.Queue(`
INSERT INTO entities (id, tenant, name, type, description, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant, lower(name)) DO UPDATE SET
	type        = COALESCE(NULLIF(EXCLUDED.type, ''), entities.type),
	description = COALESCE(NULLIF(EXCLUDED.description, ''), entities.description),
	embedding   = COALESCE(EXCLUDED.embedding, entities.embedding),
	updated_at  = now()`,
					id, tenant,
					util.SanitizePostgresText(strings.TrimSpace(e.Name)),
					util.SanitizePostgresText(e.Type),
					util.SanitizePostgresText(e.Description),
					vectorOrNil(e.Embedding),
				)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	return wrap("upsert entities", err)
}

// MergeEntities applies a variant to canonical name map. Each variant keeps
// its row with merged_into set; its relationships, mentions and community
// memberships move to the canonical entity. Variants are processed in sorted
// order so a run is reproducible.
func (s *GraphDBStorage) MergeEntities(ctx context.Context, tenant string, mergeMap map[string]string) error {
	if len(mergeMap) == 0 {
		return nil
	}
	variants := make([]string, 0, len(mergeMap))
	for v := range mergeMap {
		variants = append(variants, v)
	}
	slices.Sort(variants)

	err := s.inTx(ctx, func(tx pgxv5.Tx) error {
		merged := 0
		for _, variant := range variants {
			canonicalID, err := resolveByName(ctx, tx, tenant, mergeMap[variant])
			if err != nil {
				return fmt.Errorf("canonical %q: %w", mergeMap[variant], err)
			}

			var (
				variantID  string
				mergedInto *string
			)
			err = tx.QueryRow(ctx, `
SELECT id, merged_into FROM entities
WHERE tenant = $1 AND lower(name) = lower($2)`, tenant, variant).Scan(&variantID, &mergedInto)
			if errors.Is(err, pgxv5.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			if mergedInto != nil || variantID == canonicalID {
				continue
			}
			if err := repoint(ctx, tx, tenant, variantID, canonicalID); err != nil {
				return fmt.Errorf("merge %q: %w", variant, err)
			}
			merged++
		}
		logger.Debug("[Store][MergeEntities] Merged variants", "tenant", tenant, "merged", merged, "requested", len(variants))
		return nil
	})
	return wrap("merge entities", err)
}

func resolveByName(ctx context.Context, tx pgxv5.Tx, tenant, name string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
SELECT COALESCE(merged_into, id) FROM entities
WHERE tenant = $1 AND lower(name) = lower($2)`, tenant, strings.TrimSpace(name)).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return "", store.ErrUnknownEntity
	}
	return id, err
}

// repoint moves everything attached to from over to to. Relationships that
// would become self loops or duplicates of an existing edge are dropped.
func repoint(ctx context.Context, tx pgxv5.Tx, tenant, from, to string) error {
	statements := []string{
		`UPDATE entities SET merged_into = $3, updated_at = now()
		 WHERE tenant = $1 AND (id = $2 OR merged_into = $2)`,

		`DELETE FROM relationships r
		 WHERE r.tenant = $1 AND r.source_id = $2
		   AND (r.target_id = $3 OR EXISTS (
		     SELECT 1 FROM relationships o
		     WHERE o.tenant = $1 AND o.source_id = $3 AND o.label = r.label AND o.target_id = r.target_id))`,
		`UPDATE relationships SET source_id = $3 WHERE tenant = $1 AND source_id = $2`,

		`DELETE FROM relationships r
		 WHERE r.tenant = $1 AND r.target_id = $2
		   AND (r.source_id = $3 OR EXISTS (
		     SELECT 1 FROM relationships o
		     WHERE o.tenant = $1 AND o.target_id = $3 AND o.label = r.label AND o.source_id = r.source_id))`,
		`UPDATE relationships SET target_id = $3 WHERE tenant = $1 AND target_id = $2`,

		`INSERT INTO mentions (tenant, chunk_id, entity_id)
		 SELECT tenant, chunk_id, $3 FROM mentions WHERE tenant = $1 AND entity_id = $2
		 ON CONFLICT DO NOTHING`,
		`DELETE FROM mentions WHERE tenant = $1 AND entity_id = $2`,

		`INSERT INTO community_members (tenant, community_id, entity_id)
		 SELECT tenant, community_id, $3 FROM community_members WHERE tenant = $1 AND entity_id = $2
		 ON CONFLICT DO NOTHING`,
		`DELETE FROM community_members WHERE tenant = $1 AND entity_id = $2`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, tenant, from, to); err != nil {
			return err
		}
	}
	return nil
}
