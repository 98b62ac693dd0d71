// Package projection reduces verbose upstream objects to decision-relevant
// shapes for the agent boundary. Raw item content, reasoning chains,
// reference lists, enrichment ids and internal statuses are stripped; single
// item gets keep the raw form.
package projection

import "github.com/lenslabs/webset-engine/pkg/upstream"

// Item is the projected form of a webset item.
type Item struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	URL         string           `json:"url,omitempty"`
	EntityType  string           `json:"entityType,omitempty"`
	Description string           `json:"description,omitempty"`
	Evaluations []ItemEvaluation `json:"evaluations,omitempty"`
	Enrichments []ItemEnrichment `json:"enrichments,omitempty"`
}

// ItemEvaluation keeps only the criterion and its verdict.
type ItemEvaluation struct {
	Criterion string `json:"criterion"`
	Satisfied string `json:"satisfied"`
}

// ItemEnrichment re-keys an enrichment result by its definition description.
type ItemEnrichment struct {
	Description string   `json:"description"`
	Format      string   `json:"format,omitempty"`
	Result      []string `json:"result,omitempty"`
}

// Envelope is the mandatory bulk-items response form.
type Envelope struct {
	Data     []Item `json:"data"`
	Total    int    `json:"total"`
	Included int    `json:"included"`
	Excluded int    `json:"excluded"`
}

// EntityName extracts an item's display name with the fixed precedence
// company.name, person.name, article.title, researchPaper.title,
// custom.title, description, "unknown".
func EntityName(p upstream.ItemProperties) string {
	switch {
	case p.Company != nil && p.Company.Name != "":
		return p.Company.Name
	case p.Person != nil && p.Person.Name != "":
		return p.Person.Name
	case p.Article != nil && p.Article.Title != "":
		return p.Article.Title
	case p.ResearchPaper != nil && p.ResearchPaper.Title != "":
		return p.ResearchPaper.Title
	case p.Custom != nil && p.Custom.Title != "":
		return p.Custom.Title
	case p.Description != "":
		return p.Description
	default:
		return "unknown"
	}
}

// ProjectItem projects one item. enrichmentDescriptions maps enrichment ids
// to their natural-language descriptions (from the owning webset).
func ProjectItem(item upstream.WebsetItem, enrichmentDescriptions map[string]string) Item {
	out := Item{
		ID:          item.ID,
		Name:        EntityName(item.Properties),
		URL:         item.Properties.URL,
		EntityType:  item.Properties.Type,
		Description: item.Properties.Description,
	}
	for _, ev := range item.Evaluations {
		out.Evaluations = append(out.Evaluations, ItemEvaluation{
			Criterion: ev.Criterion,
			Satisfied: ev.Satisfied,
		})
	}
	for _, er := range item.Enrichments {
		desc := enrichmentDescriptions[er.EnrichmentID]
		if desc == "" {
			desc = er.EnrichmentID
		}
		out.Enrichments = append(out.Enrichments, ItemEnrichment{
			Description: desc,
			Format:      er.Format,
			Result:      er.Result,
		})
	}
	return out
}

// HasSatisfiedEvaluation reports whether an item passes the permissive
// evaluation filter: items with zero evaluations pass; otherwise at least one
// evaluation must be satisfied.
func HasSatisfiedEvaluation(item upstream.WebsetItem) bool {
	if len(item.Evaluations) == 0 {
		return true
	}
	for _, ev := range item.Evaluations {
		if ev.Satisfied == "yes" {
			return true
		}
	}
	return false
}

// ProjectItems projects a bulk listing into the envelope form, filtering out
// items with evaluations but no satisfied one.
func ProjectItems(items []upstream.WebsetItem, enrichmentDescriptions map[string]string) Envelope {
	env := Envelope{
		Data:  make([]Item, 0, len(items)),
		Total: len(items),
	}
	for _, item := range items {
		if !HasSatisfiedEvaluation(item) {
			env.Excluded++
			continue
		}
		env.Data = append(env.Data, ProjectItem(item, enrichmentDescriptions))
	}
	env.Included = len(env.Data)
	return env
}

// EnrichmentDescriptions builds the id-to-description map from a webset's
// enrichment definitions.
func EnrichmentDescriptions(ws *upstream.Webset) map[string]string {
	if ws == nil {
		return nil
	}
	m := make(map[string]string, len(ws.Enrichments))
	for _, e := range ws.Enrichments {
		m[e.ID] = e.Description
	}
	return m
}

// WebsetSummary is the projected form of a webset for bulk tool responses.
type WebsetSummary struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	Searches        []SearchSummary `json:"searches,omitempty"`
	EnrichmentCount int             `json:"enrichmentCount"`
	MonitorCount    int             `json:"monitorCount"`
}

// SearchSummary keeps a search's query and progress.
type SearchSummary struct {
	Query    string                  `json:"query"`
	Status   string                  `json:"status"`
	Progress upstream.SearchProgress `json:"progress"`
}

// ProjectWebset reduces a webset to its decision-relevant shape.
func ProjectWebset(ws *upstream.Webset) WebsetSummary {
	out := WebsetSummary{
		ID:              ws.ID,
		Status:          string(ws.Status),
		EnrichmentCount: len(ws.Enrichments),
		MonitorCount:    len(ws.Monitors),
	}
	for _, s := range ws.Searches {
		out.Searches = append(out.Searches, SearchSummary{
			Query:    s.Query,
			Status:   s.Status,
			Progress: s.Progress,
		})
	}
	return out
}

// ResearchSummary is the projected form of a research job. Reasoning and
// reference chains are dropped.
type ResearchSummary struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Model  string         `json:"model,omitempty"`
	Result any            `json:"result,omitempty"`
	Parsed map[string]any `json:"parsed,omitempty"`
}

// ProjectResearch reduces a research job, preferring structured output over
// raw text.
func ProjectResearch(r *upstream.Research) ResearchSummary {
	out := ResearchSummary{
		ID:     r.ID,
		Status: r.Status,
		Model:  r.Model,
	}
	if r.Output != nil {
		if len(r.Output.Parsed) > 0 {
			out.Result = r.Output.Parsed
		} else if r.Output.Content != "" {
			out.Result = r.Output.Content
		}
	}
	return out
}
