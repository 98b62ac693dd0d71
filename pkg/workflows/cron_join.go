package workflows

import (
	"sort"
	"time"
)

// DefaultMinLensOverlap is the entity-join lens-count floor.
const DefaultMinLensOverlap = 2

// LensTimestamp records when one lens observed an entity.
type LensTimestamp struct {
	LensID    string    `json:"lensId"`
	CreatedAt time.Time `json:"createdAt"`
}

// JoinedEntity is one entity seen across lenses, with a per-lens enrichment
// snapshot.
type JoinedEntity struct {
	Name            string                       `json:"name"`
	URL             string                       `json:"url,omitempty"`
	ItemID          string                       `json:"itemId,omitempty"`
	PresentInLenses []string                     `json:"presentInLenses"`
	Timestamps      []LensTimestamp              `json:"timestamps,omitempty"`
	Enrichments     map[string]map[string]string `json:"enrichments,omitempty"`
}

// Key is the canonical identity used by delta set-differences: URL preferred
// over name, item id as a last resort.
func (e *JoinedEntity) Key() string {
	if e.URL != "" {
		return e.URL
	}
	if e.Name != "" && e.Name != "unknown" {
		return e.Name
	}
	return e.ItemID
}

// JoinResult is the join engine's output. Entity modes populate Entities;
// temporal and cooccurrence modes populate only LensesWithEvidence.
type JoinResult struct {
	By                 string         `json:"by"`
	Entities           []JoinedEntity `json:"entities"`
	LensesWithEvidence []string       `json:"lensesWithEvidence"`
}

// joinLenses runs the configured cross-lens join over the shaped items.
func joinLenses(cfg JoinConfig, lenses []LensResult) *JoinResult {
	switch cfg.By {
	case "entity":
		entities := joinByEntity(cfg, lenses)
		return &JoinResult{By: cfg.By, Entities: entities, LensesWithEvidence: lensUnion(entities)}
	case "entity+temporal":
		entities := joinByEntity(cfg, lenses)
		entities = filterTemporal(entities, cfg.Temporal)
		return &JoinResult{By: cfg.By, Entities: entities, LensesWithEvidence: lensUnion(entities)}
	case "temporal":
		return &JoinResult{By: cfg.By, Entities: []JoinedEntity{}, LensesWithEvidence: temporalEvidence(cfg, lenses)}
	case "cooccurrence":
		return &JoinResult{By: cfg.By, Entities: []JoinedEntity{}, LensesWithEvidence: cooccurrenceEvidence(cfg, lenses)}
	}
	return &JoinResult{By: cfg.By, Entities: []JoinedEntity{}, LensesWithEvidence: []string{}}
}

// joinByEntity folds shaped items into canonical entities and keeps those
// seen by at least minLensOverlap lenses. An exact URL match against any
// known entity wins before name similarity is consulted, and the unknown
// name placeholder never matches by name.
func joinByEntity(cfg JoinConfig, lenses []LensResult) []JoinedEntity {
	threshold := cfg.NameThreshold
	if threshold <= 0 {
		threshold = DefaultNameThreshold
	}
	minOverlap := cfg.MinLensOverlap
	if minOverlap <= 0 {
		minOverlap = DefaultMinLensOverlap
	}

	var entities []JoinedEntity
	for _, lens := range lenses {
		for _, item := range lens.ShapedItems {
			idx := -1
			if item.URL != "" {
				for i := range entities {
					if entities[i].URL == item.URL {
						idx = i
						break
					}
				}
			}
			if idx == -1 && MatchableName(item.Name) {
				for i := range entities {
					if MatchableName(entities[i].Name) && SameEntityName(entities[i].Name, item.Name, threshold) {
						idx = i
						break
					}
				}
			}
			if idx == -1 {
				entities = append(entities, JoinedEntity{
					Name:        item.Name,
					URL:         item.URL,
					ItemID:      item.ID,
					Enrichments: make(map[string]map[string]string),
				})
				idx = len(entities) - 1
			}

			e := &entities[idx]
			if !containsString(e.PresentInLenses, lens.LensID) {
				e.PresentInLenses = append(e.PresentInLenses, lens.LensID)
			}
			e.Timestamps = append(e.Timestamps, LensTimestamp{LensID: lens.LensID, CreatedAt: item.CreatedAt})
			if len(item.Enrichments) > 0 {
				e.Enrichments[lens.LensID] = item.Enrichments
			}
		}
	}

	out := make([]JoinedEntity, 0, len(entities))
	for _, e := range entities {
		if len(e.PresentInLenses) >= minOverlap {
			out = append(out, e)
		}
	}
	return out
}

// filterTemporal keeps entities with at least two timestamps from distinct
// lenses within the window of each other.
func filterTemporal(entities []JoinedEntity, temporal *TemporalConfig) []JoinedEntity {
	if temporal == nil {
		return entities
	}
	window := temporalWindow(temporal)
	out := make([]JoinedEntity, 0, len(entities))
	for _, e := range entities {
		if hasCrossLensPair(e.Timestamps, window) {
			out = append(out, e)
		}
	}
	return out
}

func hasCrossLensPair(ts []LensTimestamp, window time.Duration) bool {
	for i := 0; i < len(ts); i++ {
		for j := i + 1; j < len(ts); j++ {
			if ts[i].LensID == ts[j].LensID {
				continue
			}
			if absDuration(ts[i].CreatedAt.Sub(ts[j].CreatedAt)) <= window {
				return true
			}
		}
	}
	return false
}

// temporalEvidence marks the lens pairs whose item timestamps come within
// the window of each other, with no entity identity.
func temporalEvidence(cfg JoinConfig, lenses []LensResult) []string {
	window := temporalWindow(cfg.Temporal)
	evidence := make(map[string]bool)
	for i := 0; i < len(lenses); i++ {
		for j := i + 1; j < len(lenses); j++ {
			if lensesOverlapInTime(lenses[i], lenses[j], window) {
				evidence[lenses[i].LensID] = true
				evidence[lenses[j].LensID] = true
			}
		}
	}
	return sortedKeys(evidence)
}

func lensesOverlapInTime(a, b LensResult, window time.Duration) bool {
	for _, ia := range a.ShapedItems {
		for _, ib := range b.ShapedItems {
			if absDuration(ia.CreatedAt.Sub(ib.CreatedAt)) <= window {
				return true
			}
		}
	}
	return false
}

// cooccurrenceEvidence marks lenses that have any shaped items. With a
// temporal window, only lenses whose timestamps fall within the window of
// the earliest timestamp across all lenses count.
func cooccurrenceEvidence(cfg JoinConfig, lenses []LensResult) []string {
	var earliest time.Time
	for _, lens := range lenses {
		for _, item := range lens.ShapedItems {
			if earliest.IsZero() || item.CreatedAt.Before(earliest) {
				earliest = item.CreatedAt
			}
		}
	}

	window := temporalWindow(cfg.Temporal)
	evidence := make(map[string]bool)
	for _, lens := range lenses {
		for _, item := range lens.ShapedItems {
			if cfg.Temporal != nil && item.CreatedAt.Sub(earliest) > window {
				continue
			}
			evidence[lens.LensID] = true
			break
		}
	}
	return sortedKeys(evidence)
}

// lensUnion collects the lens ids contributing to any joined entity.
func lensUnion(entities []JoinedEntity) []string {
	set := make(map[string]bool)
	for _, e := range entities {
		for _, id := range e.PresentInLenses {
			set[id] = true
		}
	}
	return sortedKeys(set)
}

func temporalWindow(t *TemporalConfig) time.Duration {
	if t == nil {
		return 0
	}
	return time.Duration(t.Days * 24 * float64(time.Hour))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func containsString(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
