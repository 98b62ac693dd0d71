package workflows

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/lenslabs/webset-engine/pkg/jsonutil"
	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// ShapedItem is one item that passed a lens's shapes, reduced to what the
// join and delta layers need.
type ShapedItem struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	URL         string            `json:"url,omitempty"`
	Enrichments map[string]string `json:"enrichments,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// LensResult is one lens's evaluation outcome.
type LensResult struct {
	LensID      string       `json:"lensId"`
	WebsetID    string       `json:"websetId"`
	TotalItems  int          `json:"totalItems"`
	ShapedItems []ShapedItem `json:"shapedItems"`
}

// resolveLens binds or creates a lens's webset. In re-evaluation mode the
// websetID override wins and polling is skipped; bound websets on initial
// runs also skip polling.
func resolveLens(ctx context.Context, rt *Runtime, taskID string, lens LensConfig, websetID string, owner *WebsetOwner, timeout time.Duration) (*upstream.Webset, error) {
	if websetID == "" {
		websetID = lens.WebsetID
	}
	if websetID != "" {
		ws, err := rt.Client.GetWebset(ctx, websetID)
		if err != nil {
			return nil, wrapStep("resolveLenses", err)
		}
		return ws, nil
	}

	req := &upstream.CreateWebsetRequest{
		Search: upstream.SearchSpec{
			Query:  lens.Query,
			Count:  lens.Count,
			Entity: &upstream.EntitySpec{Type: lens.Entity},
		},
	}
	for _, c := range lens.Criteria {
		req.Search.Criteria = append(req.Search.Criteria, upstream.CriterionSpec{Description: c})
	}
	for _, e := range lens.Enrichments {
		spec := upstream.EnrichmentSpec{Description: e.Description, Format: e.Format}
		for _, o := range e.Options {
			spec.Options = append(spec.Options, upstream.Option{Label: o})
		}
		req.Enrichments = append(req.Enrichments, spec)
	}

	ws, err := rt.Client.CreateWebset(ctx, req)
	if err != nil {
		return nil, wrapStep("resolveLenses", err)
	}
	owner.Own(ws.ID)

	pr, err := PollUntilIdle(ctx, rt, taskID, ws.ID, PollOptions{Timeout: timeout, Owner: owner})
	if err != nil {
		return nil, err
	}
	if pr.Cancelled {
		return nil, nil
	}
	if pr.Webset != nil {
		return pr.Webset, nil
	}
	return ws, nil
}

// evaluateLens collects a lens's items and applies its shapes. Items first
// pass the permissive evaluation filter, then any of the lens's shapes.
func evaluateLens(ctx context.Context, rt *Runtime, lens LensConfig, ws *upstream.Webset, shapes []ShapeConfig, max int) (*LensResult, error) {
	items, err := CollectItems(ctx, rt, ws.ID, max)
	if err != nil {
		return nil, err
	}

	descs := projection.EnrichmentDescriptions(ws)
	result := &LensResult{
		LensID:      lens.ID,
		WebsetID:    ws.ID,
		TotalItems:  len(items),
		ShapedItems: []ShapedItem{},
	}

	for _, item := range items {
		if !projection.HasSatisfiedEvaluation(item) {
			continue
		}
		values := enrichmentValues(item, descs)
		if !anyShapePasses(shapes, values) {
			continue
		}
		result.ShapedItems = append(result.ShapedItems, ShapedItem{
			ID:          item.ID,
			Name:        projection.EntityName(item.Properties),
			URL:         item.Properties.URL,
			Enrichments: values,
			CreatedAt:   item.CreatedAt,
		})
	}
	return result, nil
}

// enrichmentValues re-keys an item's enrichment results by definition
// description, keeping the first result string.
func enrichmentValues(item upstream.WebsetItem, descs map[string]string) map[string]string {
	values := make(map[string]string, len(item.Enrichments))
	for _, er := range item.Enrichments {
		desc := descs[er.EnrichmentID]
		if desc == "" {
			desc = er.EnrichmentID
		}
		if len(er.Result) > 0 {
			values[desc] = strings.TrimSpace(er.Result[0])
		} else {
			values[desc] = ""
		}
	}
	return values
}

// anyShapePasses reports whether any shape accepts the item. A lens with no
// shapes accepts everything.
func anyShapePasses(shapes []ShapeConfig, values map[string]string) bool {
	if len(shapes) == 0 {
		return true
	}
	for _, s := range shapes {
		if shapePasses(s, values) {
			return true
		}
	}
	return false
}

func shapePasses(shape ShapeConfig, values map[string]string) bool {
	combine := shape.Combine
	if combine == "" {
		combine = "all"
	}
	for _, cond := range shape.Conditions {
		ok := conditionHolds(cond, values[cond.Enrichment])
		if combine == "all" && !ok {
			return false
		}
		if combine == "any" && ok {
			return true
		}
	}
	return combine == "all"
}

// conditionHolds evaluates one operator against a first-result string. A
// missing or empty value fails every operator; exists reports false.
func conditionHolds(cond ConditionConfig, value string) bool {
	if value == "" {
		return false
	}
	switch cond.Op {
	case "exists":
		return true
	case "gte", "gt", "lte", "lt", "eq":
		actual, ok := jsonutil.FlexibleFloat(value)
		if !ok {
			return false
		}
		want, ok := conditionNumber(cond.Value)
		if !ok {
			return false
		}
		switch cond.Op {
		case "gte":
			return actual >= want
		case "gt":
			return actual > want
		case "lte":
			return actual <= want
		case "lt":
			return actual < want
		default:
			return actual == want
		}
	case "contains":
		want, ok := cond.Value.(string)
		return ok && strings.Contains(strings.ToLower(value), strings.ToLower(want))
	case "matches":
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	case "oneOf":
		for _, want := range conditionStrings(cond.Value) {
			if strings.EqualFold(value, want) {
				return true
			}
		}
		return false
	case "withinDays":
		days, ok := conditionNumber(cond.Value)
		if !ok {
			return false
		}
		t, ok := parseDateValue(value)
		if !ok {
			return false
		}
		window := time.Duration(days * 24 * float64(time.Hour))
		return math.Abs(float64(time.Since(t))) <= float64(window)
	}
	return false
}

func conditionNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func conditionStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return []string{s}
	}
	return nil
}

func parseDateValue(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
