package canon

import (
	"strings"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
)

// ApplyMergeMap rewrites entity names and relationship endpoints to their
// canonical names. Entities whose canonical name (case-insensitive) was
// already emitted are dropped, and relationships that become identical on
// (source, label, target) after rewriting are kept once, first wins.
// Entities with blank names are dropped.
//
// Applying the same result to its own output changes nothing.
func ApplyMergeMap(
	entities []common.Entity,
	relationships []common.Relationship,
	result MergeResult,
) ([]common.Entity, []common.Relationship) {
	outEntities := make([]common.Entity, 0, len(entities))
	emitted := make(map[string]struct{}, len(entities))
	for _, ent := range entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			continue
		}
		canonical := result.Canonical(name)
		key := strings.ToLower(canonical)
		if _, dup := emitted[key]; dup {
			continue
		}
		emitted[key] = struct{}{}
		ent.Name = canonical
		outEntities = append(outEntities, ent)
	}

	outRels := make([]common.Relationship, 0, len(relationships))
	seen := make(map[string]struct{}, len(relationships))
	for _, rel := range relationships {
		source := result.Canonical(strings.TrimSpace(rel.Source))
		target := result.Canonical(strings.TrimSpace(rel.Target))
		if source != rel.Source {
			rel.SourceID = ""
		}
		if target != rel.Target {
			rel.TargetID = ""
		}
		rel.Source, rel.Target = source, target

		key := relationshipKey(rel)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		outRels = append(outRels, rel)
	}

	return outEntities, outRels
}

func relationshipKey(rel common.Relationship) string {
	return normalizeKey(rel.Source) + "\x00" + normalizeKey(rel.Label) + "\x00" + normalizeKey(rel.Target)
}
