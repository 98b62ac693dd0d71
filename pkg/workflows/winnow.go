package workflows

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/lenslabs/webset-engine/pkg/jsonutil"
	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func init() {
	MustRegister("qd.winnow", Winnow)
}

// Elite is one selected item with its niche classification and fitness.
type Elite struct {
	Niche   string          `json:"niche"`
	Fitness float64         `json:"fitness"`
	Item    projection.Item `json:"item"`
}

// WinnowMetrics are the quality-diversity metrics for one evaluation round.
type WinnowMetrics struct {
	Coverage   float64 `json:"coverage"`
	AvgFitness float64 `json:"avgFitness"`
	Diversity  float64 `json:"diversity"`
	Stringency float64 `json:"stringency"`
}

// CriterionFeedback labels how discriminating a criterion is, from its live
// success rate.
type CriterionFeedback struct {
	Criterion   string   `json:"criterion"`
	SuccessRate *float64 `json:"successRate,omitempty"`
	Label       string   `json:"label"`
}

// Winnow runs quality-diversity winnowing over a webset: criteria define the
// behavioral niches, enrichments define fitness. Works against an existing
// webset (websetId) or creates one from a query.
func Winnow(ctx context.Context, rt *Runtime, taskID string, args map[string]any) (any, error) {
	steps := NewStepTracker(rt.Store, taskID, 4)
	steps.Begin("validate")

	websetID := OptionalString(args, "websetId", "")
	query := OptionalString(args, "query", "")
	if websetID == "" && query == "" {
		return nil, Validationf("either websetId or query is required")
	}
	strategy := OptionalString(args, "strategy", "diverse")
	switch strategy {
	case "diverse", "all-criteria", "any-criteria":
	default:
		return nil, Validationf("unknown strategy %q", strategy)
	}
	count := OptionalInt(args, "count", 10)
	rounds := OptionalInt(args, "rounds", 1)
	if rounds < 1 {
		rounds = 1
	}
	timeout := StepTimeout(args, rt.StepTimeout)

	owner := NewWebsetOwner(rt.Client, rt.Logger)

	steps.Begin("resolveWebset")
	var ws *upstream.Webset
	if websetID != "" {
		var err error
		ws, err = rt.Client.GetWebset(ctx, websetID)
		if err != nil {
			return nil, wrapStep("resolveWebset", err)
		}
	} else {
		entityType, err := entityTypeFrom(args)
		if err != nil {
			return nil, err
		}
		criteria := criterionSpecsFrom(args)
		if len(criteria) == 0 {
			return nil, Validationf("at least one criterion is required when creating a webset")
		}
		ws, err = rt.Client.CreateWebset(ctx, &upstream.CreateWebsetRequest{
			Search: upstream.SearchSpec{
				Query:    query,
				Count:    count,
				Entity:   &upstream.EntitySpec{Type: entityType},
				Criteria: criteria,
			},
			Enrichments: enrichmentSpecsFrom(args),
		})
		if err != nil {
			return nil, wrapStep("createWebset", err)
		}
		owner.Own(ws.ID)
		_ = rt.Store.SetPartialResult(taskID, map[string]any{"websetId": ws.ID})

		pr, err := PollUntilIdle(ctx, rt, taskID, ws.ID, PollOptions{Timeout: timeout, Owner: owner})
		if err != nil {
			return nil, err
		}
		if pr.Cancelled {
			return nil, nil
		}
		if pr.Webset != nil {
			ws = pr.Webset
		}
	}

	criteria := criteriaOrder(ws)
	if len(criteria) == 0 {
		return nil, Validationf("webset %s has no criteria to winnow on", ws.ID)
	}

	steps.Begin("evaluate")
	var (
		elites      []Elite
		metrics     WinnowMetrics
		nicheCounts map[string]int
		roundTrail  []WinnowMetrics
	)
	for round := 0; round < rounds; round++ {
		if Cancelled(rt.Store, taskID) {
			owner.CancelAll(ctx)
			return nil, nil
		}
		if round > 0 {
			refreshed, err := rt.Client.GetWebset(ctx, ws.ID)
			if err != nil {
				return nil, wrapStep("evaluate", err)
			}
			ws = refreshed
		}
		items, err := CollectItems(ctx, rt, ws.ID, ItemCap(count))
		if err != nil {
			return nil, err
		}

		descs := projection.EnrichmentDescriptions(ws)
		classified := classifyItems(items, criteria, descs)
		elites = selectElites(classified, strategy)
		nicheCounts = countNiches(classified)
		metrics = computeMetrics(nicheCounts, elites, len(criteria), ws)
		roundTrail = append(roundTrail, metrics)
	}

	steps.Begin("feedback")
	feedback := criterionFeedback(ws)
	steps.End()

	result := map[string]any{
		"websetId":    ws.ID,
		"strategy":    strategy,
		"criteria":    criteria,
		"elites":      elites,
		"nicheCounts": nicheCounts,
		"metrics":     metrics,
		"feedback":    feedback,
		"duration":    steps.DurationMs(),
		"steps":       steps.Steps(),
	}
	if rounds > 1 {
		result["rounds"] = roundTrail
	}
	return result, nil
}

// classifiedItem pairs an item with its niche vector and fitness.
type classifiedItem struct {
	niche   string
	allTrue bool
	anyTrue bool
	fitness float64
	item    projection.Item
}

// criteriaOrder returns criterion descriptions in the order the webset's last
// search declares them. Niche positions depend on this order being stable.
func criteriaOrder(ws *upstream.Webset) []string {
	if len(ws.Searches) == 0 {
		return nil
	}
	search := ws.Searches[len(ws.Searches)-1]
	out := make([]string, 0, len(search.Criteria))
	for _, c := range search.Criteria {
		out = append(out, c.Description)
	}
	return out
}

// classifyItems builds the niche string and fitness for every item. Position
// i of the niche is "1" iff the evaluation for criterion i is satisfied;
// missing evaluations contribute "0".
func classifyItems(items []upstream.WebsetItem, criteria []string, descs map[string]string) []classifiedItem {
	out := make([]classifiedItem, 0, len(items))
	for _, item := range items {
		verdicts := make(map[string]bool, len(item.Evaluations))
		for _, ev := range item.Evaluations {
			verdicts[ev.Criterion] = ev.Satisfied == "yes"
		}

		bits := make([]string, len(criteria))
		allTrue, anyTrue := true, false
		for i, c := range criteria {
			if verdicts[c] {
				bits[i] = "1"
				anyTrue = true
			} else {
				bits[i] = "0"
				allTrue = false
			}
		}

		out = append(out, classifiedItem{
			niche:   strings.Join(bits, ","),
			allTrue: allTrue,
			anyTrue: anyTrue,
			fitness: itemFitness(item.Enrichments),
			item:    projection.ProjectItem(item, descs),
		})
	}
	return out
}

// itemFitness is the mean of completed-enrichment sub-scores. Pending or
// cancelled enrichments score 0 and are excluded from the mean.
func itemFitness(enrichments []upstream.EnrichmentResult) float64 {
	sum, n := 0.0, 0
	for _, e := range enrichments {
		if e.Status != upstream.EnrichmentStatusCompleted {
			continue
		}
		sum += enrichmentScore(e)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func enrichmentScore(e upstream.EnrichmentResult) float64 {
	first := ""
	if len(e.Result) > 0 {
		first = strings.TrimSpace(e.Result[0])
	}
	switch e.Format {
	case "number":
		v, ok := jsonutil.FlexibleFloat(first)
		if !ok {
			return 0
		}
		return v
	default:
		// options, text, date, email, phone, url all score on presence.
		if first != "" {
			return 1
		}
		return 0
	}
}

// selectElites applies the selection strategy, returning items ordered by
// fitness descending.
func selectElites(classified []classifiedItem, strategy string) []Elite {
	var selected []classifiedItem
	switch strategy {
	case "diverse":
		best := make(map[string]classifiedItem, len(classified))
		for _, c := range classified {
			if cur, ok := best[c.niche]; !ok || c.fitness > cur.fitness {
				best[c.niche] = c
			}
		}
		for _, c := range best {
			selected = append(selected, c)
		}
	case "all-criteria":
		for _, c := range classified {
			if c.allTrue {
				selected = append(selected, c)
			}
		}
	case "any-criteria":
		for _, c := range classified {
			if c.anyTrue {
				selected = append(selected, c)
			}
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].fitness > selected[j].fitness
	})
	out := make([]Elite, 0, len(selected))
	for _, c := range selected {
		out = append(out, Elite{Niche: c.niche, Fitness: c.fitness, Item: c.item})
	}
	return out
}

func countNiches(classified []classifiedItem) map[string]int {
	counts := make(map[string]int)
	for _, c := range classified {
		counts[c.niche]++
	}
	return counts
}

// computeMetrics derives coverage, average elite fitness, normalized Shannon
// diversity and search stringency for one round.
func computeMetrics(nicheCounts map[string]int, elites []Elite, criteriaCount int, ws *upstream.Webset) WinnowMetrics {
	var m WinnowMetrics

	totalNiches := math.Pow(2, float64(criteriaCount))
	m.Coverage = float64(len(nicheCounts)) / totalNiches

	if len(elites) > 0 {
		sum := 0.0
		for _, e := range elites {
			sum += e.Fitness
		}
		m.AvgFitness = sum / float64(len(elites))
	}

	total := 0
	for _, n := range nicheCounts {
		total += n
	}
	if total > 0 && totalNiches > 1 {
		entropy := 0.0
		for _, n := range nicheCounts {
			p := float64(n) / float64(total)
			entropy -= p * math.Log2(p)
		}
		m.Diversity = entropy / math.Log2(totalNiches)
	}

	found, analyzed := 0, 0
	for _, s := range ws.Searches {
		found += s.Progress.Found
		analyzed += s.Progress.Analyzed
	}
	if analyzed > 0 {
		m.Stringency = float64(found) / float64(analyzed)
	}
	return m
}

// criterionFeedback labels each criterion from its live success rate.
func criterionFeedback(ws *upstream.Webset) []CriterionFeedback {
	if len(ws.Searches) == 0 {
		return nil
	}
	search := ws.Searches[len(ws.Searches)-1]
	out := make([]CriterionFeedback, 0, len(search.Criteria))
	for _, c := range search.Criteria {
		fb := CriterionFeedback{Criterion: c.Description, SuccessRate: c.SuccessRate}
		switch {
		case c.SuccessRate == nil:
			fb.Label = "unknown"
		case *c.SuccessRate < 5:
			fb.Label = "too-strict"
		case *c.SuccessRate > 95:
			fb.Label = "not-discriminating"
		default:
			fb.Label = "good-discriminator"
		}
		out = append(out, fb)
	}
	return out
}
