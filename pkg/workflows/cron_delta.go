package workflows

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LensSnapshot is the per-lens summary carried in a snapshot.
type LensSnapshot struct {
	WebsetID    string   `json:"websetId"`
	TotalItems  int      `json:"totalItems"`
	ShapedCount int      `json:"shapedCount"`
	Shapes      []string `json:"shapes,omitempty"`
}

// Snapshot is the durable external state of a semantic cron. Callers hold it
// and pass it back on re-evaluation to get a delta.
type Snapshot struct {
	EvaluatedAt time.Time               `json:"evaluatedAt"`
	Lenses      map[string]LensSnapshot `json:"lenses"`
	Join        *JoinResult             `json:"join"`
	Signal      *SignalResult           `json:"signal"`
}

// SignalTransition compares the fired bit and entity sets of two snapshots.
type SignalTransition struct {
	Was          bool     `json:"was"`
	Now          bool     `json:"now"`
	Changed      bool     `json:"changed"`
	NewEntities  []string `json:"newEntities"`
	LostEntities []string `json:"lostEntities"`
}

// Delta is what changed between two snapshots of the same configuration.
type Delta struct {
	NewShapedItems    map[string]int   `json:"newShapedItems"`
	NewJoins          []string         `json:"newJoins"`
	LostJoins         []string         `json:"lostJoins"`
	SignalTransition  SignalTransition `json:"signalTransition"`
	TimeSinceLastEval string           `json:"timeSinceLastEval"`
}

// buildSnapshot assembles the snapshot for one evaluation.
func buildSnapshot(evaluatedAt time.Time, cfg *CronConfig, lenses []LensResult, join *JoinResult, signal *SignalResult) *Snapshot {
	snap := &Snapshot{
		EvaluatedAt: evaluatedAt,
		Lenses:      make(map[string]LensSnapshot, len(lenses)),
		Join:        join,
		Signal:      signal,
	}
	for _, lr := range lenses {
		snap.Lenses[lr.LensID] = LensSnapshot{
			WebsetID:    lr.WebsetID,
			TotalItems:  lr.TotalItems,
			ShapedCount: len(lr.ShapedItems),
			Shapes:      shapeSummaries(cfg.ShapesFor(lr.LensID)),
		}
	}
	return snap
}

func shapeSummaries(shapes []ShapeConfig) []string {
	out := make([]string, 0, len(shapes))
	for _, s := range shapes {
		parts := make([]string, 0, len(s.Conditions))
		for _, c := range s.Conditions {
			parts = append(parts, c.Enrichment+" "+c.Op)
		}
		combine := s.Combine
		if combine == "" {
			combine = "all"
		}
		out = append(out, combine+"("+strings.Join(parts, ", ")+")")
	}
	return out
}

// computeDelta diffs the current snapshot against the previous one. Join
// membership is compared by canonical entity key, URL preferred over name.
func computeDelta(prev, cur *Snapshot) *Delta {
	delta := &Delta{
		NewShapedItems:    make(map[string]int),
		NewJoins:          []string{},
		LostJoins:         []string{},
		TimeSinceLastEval: humanizeSince(prev.EvaluatedAt, cur.EvaluatedAt),
	}

	for id, curLens := range cur.Lenses {
		grown := curLens.ShapedCount - prev.Lenses[id].ShapedCount
		if grown < 0 {
			grown = 0
		}
		delta.NewShapedItems[id] = grown
	}

	prevKeys := entityKeySet(prev.Join)
	curKeys := entityKeySet(cur.Join)
	for k := range curKeys {
		if !prevKeys[k] {
			delta.NewJoins = append(delta.NewJoins, k)
		}
	}
	for k := range prevKeys {
		if !curKeys[k] {
			delta.LostJoins = append(delta.LostJoins, k)
		}
	}
	sort.Strings(delta.NewJoins)
	sort.Strings(delta.LostJoins)

	delta.SignalTransition = signalTransition(prev.Signal, cur.Signal)
	return delta
}

func entityKeySet(join *JoinResult) map[string]bool {
	set := make(map[string]bool)
	if join == nil {
		return set
	}
	for i := range join.Entities {
		if k := join.Entities[i].Key(); k != "" {
			set[k] = true
		}
	}
	return set
}

func signalTransition(prev, cur *SignalResult) SignalTransition {
	tr := SignalTransition{
		NewEntities:  []string{},
		LostEntities: []string{},
	}
	var prevEntities, curEntities []string
	if prev != nil {
		tr.Was = prev.Fired
		prevEntities = prev.Entities
	}
	if cur != nil {
		tr.Now = cur.Fired
		curEntities = cur.Entities
	}

	prevSet := make(map[string]bool, len(prevEntities))
	for _, e := range prevEntities {
		prevSet[e] = true
	}
	curSet := make(map[string]bool, len(curEntities))
	for _, e := range curEntities {
		curSet[e] = true
	}
	for e := range curSet {
		if !prevSet[e] {
			tr.NewEntities = append(tr.NewEntities, e)
		}
	}
	for e := range prevSet {
		if !curSet[e] {
			tr.LostEntities = append(tr.LostEntities, e)
		}
	}
	sort.Strings(tr.NewEntities)
	sort.Strings(tr.LostEntities)

	tr.Changed = tr.Was != tr.Now || len(tr.NewEntities) > 0 || len(tr.LostEntities) > 0
	return tr
}

// humanizeSince renders elapsed time as non-zero "d h m" parts joined by
// spaces, never going below minutes.
func humanizeSince(from, to time.Time) string {
	elapsed := to.Sub(from)
	if elapsed < 0 {
		elapsed = 0
	}

	days := int(elapsed / (24 * time.Hour))
	elapsed -= time.Duration(days) * 24 * time.Hour
	hours := int(elapsed / time.Hour)
	elapsed -= time.Duration(hours) * time.Hour
	minutes := int(elapsed / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}
