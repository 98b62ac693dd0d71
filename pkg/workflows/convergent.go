package workflows

import (
	"context"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func init() {
	MustRegister("convergent.search", ConvergentSearch)
}

// ConvergentEntity is one deduplicated entity across parallel searches.
type ConvergentEntity struct {
	Name         string  `json:"name"`
	URL          string  `json:"url,omitempty"`
	FoundInCount int     `json:"foundInCount"`
	FoundIn      []int   `json:"foundIn"`
	Confidence   float64 `json:"confidence"`
	EntityType   string  `json:"entityType,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// QueryBucket groups the entities found only by one query.
type QueryBucket struct {
	Query    string             `json:"query"`
	Entities []ConvergentEntity `json:"entities"`
}

// ConvergentSearch launches 2-5 searches in parallel, deduplicates entities
// across the resulting websets (exact URL first, then Dice bigram name
// similarity) and reports the intersection, per-query unique buckets and a
// pairwise overlap matrix.
func ConvergentSearch(ctx context.Context, rt *Runtime, taskID string, args map[string]any) (any, error) {
	steps := NewStepTracker(rt.Store, taskID, 4)
	steps.Begin("validate")

	queries := OptionalStringSlice(args, "queries")
	if len(queries) < 2 || len(queries) > 5 {
		return nil, Validationf("queries must contain between 2 and 5 entries, got %d", len(queries))
	}
	entityType, err := entityTypeFrom(args)
	if err != nil {
		return nil, err
	}
	count := OptionalInt(args, "count", 10)
	threshold := OptionalFloat(args, "threshold", DefaultNameThreshold)
	timeout := StepTimeout(args, rt.StepTimeout)
	criteria := criterionSpecsFrom(args)

	owner := NewWebsetOwner(rt.Client, rt.Logger)
	websetIDs := make([]string, len(queries))
	branchItems := make([][]upstream.WebsetItem, len(queries))
	var timedOut atomic.Bool

	steps.Begin("searchAll")
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		g.Go(func() error {
			ws, err := rt.Client.CreateWebset(gctx, &upstream.CreateWebsetRequest{
				Search: upstream.SearchSpec{
					Query:    query,
					Count:    count,
					Entity:   &upstream.EntitySpec{Type: entityType},
					Criteria: criteria,
				},
			})
			if err != nil {
				return wrapStep("createWebset", err)
			}
			owner.Own(ws.ID)
			websetIDs[i] = ws.ID
			_ = rt.Store.SetPartialResult(taskID, map[string]any{"websetIds": owner.IDs()})

			pr, err := PollUntilIdle(gctx, rt, taskID, ws.ID, PollOptions{Timeout: timeout, Owner: owner})
			if err != nil {
				return err
			}
			if pr.Cancelled {
				return nil
			}
			if pr.TimedOut {
				timedOut.Store(true)
			}

			items, err := CollectItems(gctx, rt, ws.ID, ItemCap(count))
			if err != nil {
				return err
			}
			branchItems[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if Cancelled(rt.Store, taskID) {
		owner.CancelAll(ctx)
		return nil, nil
	}

	steps.Begin("deduplicate")
	entities := deduplicateAcross(branchItems, threshold)

	steps.Begin("intersect")
	total := len(queries)
	var intersection []ConvergentEntity
	unique := make([]QueryBucket, total)
	for i, q := range queries {
		unique[i] = QueryBucket{Query: q, Entities: []ConvergentEntity{}}
	}
	matrix := make([][]int, total)
	for i := range matrix {
		matrix[i] = make([]int, total)
	}

	for _, e := range entities {
		e.Confidence = float64(e.FoundInCount) / float64(total)
		for _, qi := range e.FoundIn {
			for _, qj := range e.FoundIn {
				matrix[qi][qj]++
			}
		}
		if e.FoundInCount >= 2 {
			intersection = append(intersection, e)
		} else if e.FoundInCount == 1 {
			qi := e.FoundIn[0]
			unique[qi].Entities = append(unique[qi].Entities, e)
		}
	}
	sort.Slice(intersection, func(i, j int) bool {
		return intersection[i].FoundInCount > intersection[j].FoundInCount
	})
	steps.End()

	result := map[string]any{
		"queries":       queries,
		"websetIds":     websetIDs,
		"intersection":  intersection,
		"unique":        unique,
		"overlapMatrix": matrix,
		"totalEntities": len(entities),
		"duration":      steps.DurationMs(),
		"steps":         steps.Steps(),
	}
	if timedOut.Load() {
		result["timedOut"] = true
	}
	return result, nil
}

// deduplicateAcross folds the items of each query's webset into a canonical
// entity list. An exact URL match against any known entity wins before fuzzy
// name matching is consulted; the unknown name placeholder never matches by
// name.
func deduplicateAcross(branchItems [][]upstream.WebsetItem, threshold float64) []ConvergentEntity {
	var entities []ConvergentEntity
	for qi, items := range branchItems {
		for _, item := range items {
			name := projection.EntityName(item.Properties)
			url := item.Properties.URL

			idx := -1
			if url != "" {
				for i := range entities {
					if entities[i].URL == url {
						idx = i
						break
					}
				}
			}
			if idx == -1 && MatchableName(name) {
				for i := range entities {
					if MatchableName(entities[i].Name) && SameEntityName(entities[i].Name, name, threshold) {
						idx = i
						break
					}
				}
			}
			if idx == -1 {
				entities = append(entities, ConvergentEntity{
					Name:        name,
					URL:         url,
					EntityType:  item.Properties.Type,
					Description: item.Properties.Description,
				})
				idx = len(entities) - 1
			}

			e := &entities[idx]
			seen := false
			for _, q := range e.FoundIn {
				if q == qi {
					seen = true
					break
				}
			}
			if !seen {
				e.FoundIn = append(e.FoundIn, qi)
				e.FoundInCount++
			}
		}
	}
	return entities
}
