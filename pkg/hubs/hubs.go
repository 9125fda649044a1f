// Package hubs picks representative high-connectivity entities for thematic
// questions.
package hubs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/store"
)

// Candidate is an entity that may become a hub. Degree is nil when the
// candidate was derived dynamically and has no precomputed connectivity.
type Candidate struct {
	Name   string `json:"name"`
	Degree *int   `json:"degree,omitempty"`
}

// CandidateGroup is one thematic cluster of candidates, typically a
// community.
type CandidateGroup struct {
	ID         string      `json:"id"`
	Candidates []Candidate `json:"candidates"`
}

type Config struct {
	// GraphTimeout bounds each document lookup.
	GraphTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{GraphTimeout: 10 * time.Second}
}

type Selector struct {
	docs   store.DocumentLookup
	config Config
}

func NewSelector(docs store.DocumentLookup, config Config) *Selector {
	return &Selector{docs: docs, config: config}
}

// SelectHubs picks up to topKPerGroup hubs from every group and returns the
// union without duplicates, in first-seen order. Graph failures degrade to
// the first candidates of the group.
func (s *Selector) SelectHubs(ctx context.Context, tenant string, groups []CandidateGroup, topKPerGroup int) []string {
	hubs, _ := s.Select(ctx, tenant, groups, topKPerGroup)
	return hubs
}

// Select is SelectHubs that also reports the failures it recovered from.
func (s *Selector) Select(ctx context.Context, tenant string, groups []CandidateGroup, topKPerGroup int) ([]string, error) {
	if topKPerGroup <= 0 {
		return nil, nil
	}
	var (
		picked []string
		errs   []error
	)
	for _, group := range groups {
		if ranked, ok := byDegree(group.Candidates, topKPerGroup); ok {
			picked = append(picked, ranked...)
			continue
		}
		names := make([]string, 0, len(group.Candidates))
		for _, c := range group.Candidates {
			names = append(names, c.Name)
		}
		diversified, err := s.Diversify(ctx, tenant, names, topKPerGroup)
		if err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", group.ID, err))
		}
		picked = append(picked, diversified...)
	}
	return store.DedupeStrings(picked), errors.Join(errs...)
}

// byDegree ranks candidates by degree descending, name ascending on ties.
// It reports false when any candidate lacks a degree.
func byDegree(candidates []Candidate, topK int) ([]string, bool) {
	if len(candidates) == 0 {
		return nil, true
	}
	for _, c := range candidates {
		if c.Degree == nil {
			return nil, false
		}
	}
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		if c := cmp.Compare(*b.Degree, *a.Degree); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	names := store.DedupeStrings(candidateNames(sorted))
	if len(names) > topK {
		names = names[:topK]
	}
	return names, true
}

func candidateNames(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

// DiversifyAcrossDocuments picks up to topK entities so that the picks are
// spread over the documents mentioning them. On any graph failure it returns
// the first topK entities in input order.
func (s *Selector) DiversifyAcrossDocuments(ctx context.Context, tenant string, entities []string, topK int) []string {
	out, _ := s.Diversify(ctx, tenant, entities, topK)
	return out
}

// Diversify is DiversifyAcrossDocuments that also returns the error it fell
// back from. The returned list is usable either way.
func (s *Selector) Diversify(ctx context.Context, tenant string, entities []string, topK int) ([]string, error) {
	names := store.DedupeStrings(entities)
	if topK <= 0 || len(names) == 0 {
		return nil, nil
	}
	if len(names) <= topK {
		return names, nil
	}

	lookupCtx := ctx
	if s.config.GraphTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, s.config.GraphTimeout)
		defer cancel()
	}
	docs, err := s.docs.EntityDocuments(lookupCtx, tenant, names)
	if err != nil {
		logger.Warn("[Hubs] document lookup failed, taking first candidates", "tenant", tenant, "candidates", len(names), "err", err)
		return names[:topK], err
	}

	return roundRobin(names, docs, topK), nil
}

// roundRobin files each name under every document mentioning it, keeping
// document order by first appearance, then deals names out in rounds. In
// round r a document takes its next unpicked name only while at most r of
// its names are picked, so one name shared by several documents counts for
// all of them and topK >= D covers every document. Names without a document
// share one trailing group.
func roundRobin(names []string, docs map[string][]string, topK int) []string {
	const noDocument = ""
	var (
		order  []string
		queues = make(map[string][]string)
	)
	file := func(doc, name string) {
		if _, ok := queues[doc]; !ok {
			order = append(order, doc)
		}
		queues[doc] = append(queues[doc], name)
	}
	var unassigned []string
	for _, name := range names {
		ds := store.DedupeStrings(docs[name])
		if len(ds) == 0 {
			unassigned = append(unassigned, name)
			continue
		}
		for _, doc := range ds {
			file(doc, name)
		}
	}
	for _, name := range unassigned {
		file(noDocument, name)
	}

	picked := make(map[string]struct{}, topK)
	covered := make(map[string]int, len(order))
	out := make([]string, 0, topK)
	pick := func(name string) {
		picked[name] = struct{}{}
		out = append(out, name)
		ds := store.DedupeStrings(docs[name])
		if len(ds) == 0 {
			covered[noDocument]++
		}
		for _, doc := range ds {
			covered[doc]++
		}
	}

	for round := 0; len(out) < topK; round++ {
		remaining := false
		for _, doc := range order {
			if len(out) == topK {
				break
			}
			q := queues[doc]
			for len(q) > 0 {
				if _, ok := picked[q[0]]; !ok {
					break
				}
				q = q[1:]
			}
			queues[doc] = q
			if len(q) == 0 {
				continue
			}
			remaining = true
			if covered[doc] > round {
				continue
			}
			pick(q[0])
			queues[doc] = q[1:]
		}
		if !remaining {
			break
		}
	}
	return out
}
