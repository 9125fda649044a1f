package pgx

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mirojs/graphrag-orchestration/internal/util"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// FetchRelationships returns every relationship between entities, without
// chunk mentions.
func (s *GraphDBStorage) FetchRelationships(ctx context.Context, tenant string) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx, `
SELECT r.source_id, r.target_id, src.name, tgt.name, r.label, r.description, r.weight
FROM relationships r
JOIN entities src ON src.id = r.source_id
JOIN entities tgt ON tgt.id = r.target_id
WHERE r.tenant = $1 AND r.label <> $2
ORDER BY r.id`, tenant, common.MentionsLabel)
	if err != nil {
		return nil, wrap("fetch relationships", err)
	}
	defer rows.Close()

	var out []common.Relationship
	for rows.Next() {
		var r common.Relationship
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Source, &r.Target, &r.Label, &r.Description, &r.Weight); err != nil {
			return nil, wrap("fetch relationships", err)
		}
		out = append(out, r)
	}
	return out, wrap("fetch relationships", rows.Err())
}

type endpointKey struct {
	id   string
	name string
}

// endpointResolver looks endpoints up once per write and remembers them.
type endpointResolver struct {
	tx     pgxv5.Tx
	tenant string
	cache  map[endpointKey]string
}

// resolve prefers the id and falls back to the case-insensitive name. Merged
// variants resolve to their canonical entity.
func (r *endpointResolver) resolve(ctx context.Context, id, name string) (string, error) {
	k := endpointKey{id: id, name: strings.ToLower(strings.TrimSpace(name))}
	if resolved, ok := r.cache[k]; ok {
		return resolved, nil
	}

	var resolved string
	err := r.tx.QueryRow(ctx, `
SELECT COALESCE(merged_into, id) FROM entities
WHERE tenant = $1 AND (id = $2 OR lower(name) = $3)
ORDER BY (id = $2) DESC
LIMIT 1`, r.tenant, id, k.name).Scan(&resolved)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", store.ErrUnknownEntity, cmp.Or(name, id))
	}
	if err != nil {
		return "", err
	}
	r.cache[k] = resolved
	return resolved, nil
}

// UpsertRelationships inserts relationships or updates the description and
// weight of an existing (source, label, target) edge.
func (s *GraphDBStorage) UpsertRelationships(ctx context.Context, tenant string, relationships []common.Relationship) error {
	err := store.ChunkRange(len(relationships), s.batchSize, func(start, end int) error {
		logger.Debug("[Store][UpsertRelationships] Saving chunk", "tenant", tenant, "relationships", end-start)

		return s.inTx(ctx, func(tx pgxv5.Tx) error {
			res := &endpointResolver{tx: tx, tenant: tenant, cache: make(map[endpointKey]string)}
			for _, rel := range relationships[start:end] {
				src, err := res.resolve(ctx, rel.SourceID, rel.Source)
				if err != nil {
					return err
				}
				tgt, err := res.resolve(ctx, rel.TargetID, rel.Target)
				if err != nil {
					return err
				}
				if src == tgt {
					continue
				}
				_, err = tx.Exec(ctx, `
INSERT INTO relationships (tenant, source_id, target_id, label, description, weight)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant, source_id, label, target_id) DO UPDATE SET
	description = COALESCE(NULLIF(EXCLUDED.description, ''), relationships.description),
	weight      = EXCLUDED.weight`,
					tenant, src, tgt,
					util.SanitizePostgresText(rel.Label),
					util.SanitizePostgresText(rel.Description),
					rel.EffectiveWeight(),
				)
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	return wrap("upsert relationships", err)
}
