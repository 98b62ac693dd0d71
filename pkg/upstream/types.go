// Package upstream is a thin facade over the websets search and enrichment
// API. It exposes only the operations the workflow layer consumes: dataset
// (webset) lifecycle, item listing, monitors and deep-research jobs.
package upstream

import "time"

// WebsetStatus is the composite lifecycle state of a webset.
type WebsetStatus string

const (
	WebsetStatusPending WebsetStatus = "pending"
	WebsetStatusRunning WebsetStatus = "running"
	WebsetStatusIdle    WebsetStatus = "idle"
	WebsetStatusPaused  WebsetStatus = "paused"
)

// Webset is an externally stored, stateful dataset of search results with
// attached enrichments and monitors. The engine references it by id and never
// owns its storage.
type Webset struct {
	ID          string       `json:"id"`
	Status      WebsetStatus `json:"status"`
	ExternalID  string       `json:"externalId,omitempty"`
	Searches    []Search     `json:"searches,omitempty"`
	Enrichments []Enrichment `json:"enrichments,omitempty"`
	Monitors    []Monitor    `json:"monitors,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Search is one query attached to a webset.
type Search struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Query    string         `json:"query"`
	Count    int            `json:"count"`
	Entity   *EntitySpec    `json:"entity,omitempty"`
	Criteria []Criterion    `json:"criteria,omitempty"`
	Progress SearchProgress `json:"progress"`
}

// SearchProgress reports upstream analysis progress for one search.
type SearchProgress struct {
	Found      int     `json:"found"`
	Analyzed   int     `json:"analyzed"`
	Completion float64 `json:"completion"`
	TimeLeft   int     `json:"timeLeft"`
}

// Criterion is one verification criterion attached to a search.
type Criterion struct {
	Description string   `json:"description"`
	SuccessRate *float64 `json:"successRate,omitempty"`
}

// EntitySpec names the entity type a search targets.
type EntitySpec struct {
	Type string `json:"type"`
}

// Enrichment is a definition attached to a webset. Results on items reference
// it by id.
type Enrichment struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Description string   `json:"description"`
	Format      string   `json:"format"`
	Options     []Option `json:"options,omitempty"`
}

// Option is one allowed value for an options-format enrichment.
type Option struct {
	Label string `json:"label"`
}

// Monitor re-runs a webset's searches on a cron cadence.
type Monitor struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	WebsetID string  `json:"websetId"`
	Cadence  Cadence `json:"cadence"`
}

// Cadence is a 5-field cron expression plus timezone.
type Cadence struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// WebsetItem is one entity found by a webset's searches.
type WebsetItem struct {
	ID          string             `json:"id"`
	WebsetID    string             `json:"websetId"`
	Source      string             `json:"source,omitempty"`
	Properties  ItemProperties     `json:"properties"`
	Evaluations []Evaluation       `json:"evaluations,omitempty"`
	Enrichments []EnrichmentResult `json:"enrichments,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// ItemProperties carries entity-type-specific fields. Content is the large
// raw page text and must never be surfaced by default.
type ItemProperties struct {
	Type          string        `json:"type"`
	Description   string        `json:"description,omitempty"`
	URL           string        `json:"url,omitempty"`
	Content       string        `json:"content,omitempty"`
	Company       *CompanyProps `json:"company,omitempty"`
	Person        *PersonProps  `json:"person,omitempty"`
	Article       *ArticleProps `json:"article,omitempty"`
	ResearchPaper *TitledProps  `json:"researchPaper,omitempty"`
	Custom        *TitledProps  `json:"custom,omitempty"`
}

// CompanyProps are company-entity fields.
type CompanyProps struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// PersonProps are person-entity fields.
type PersonProps struct {
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
	Company  string `json:"company,omitempty"`
}

// ArticleProps are article-entity fields.
type ArticleProps struct {
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// TitledProps covers research-paper and custom entities.
type TitledProps struct {
	Title string `json:"title"`
}

// Evaluation is the verdict for one search criterion on one item.
type Evaluation struct {
	Criterion  string   `json:"criterion"`
	Satisfied  string   `json:"satisfied"` // yes | no | unclear
	Reasoning  string   `json:"reasoning,omitempty"`
	References []string `json:"references,omitempty"`
}

// Enrichment result statuses observed upstream.
const (
	EnrichmentStatusCompleted = "completed"
	EnrichmentStatusPending   = "pending"
	EnrichmentStatusCanceled  = "canceled"
)

// EnrichmentResult is one enrichment's output on one item. Result values are
// always stringified by the upstream regardless of the declared format.
type EnrichmentResult struct {
	EnrichmentID string   `json:"enrichmentId"`
	Format       string   `json:"format"`
	Status       string   `json:"status"`
	Result       []string `json:"result,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
	References   []string `json:"references,omitempty"`
}

// Research statuses observed upstream.
const (
	ResearchStatusPending   = "pending"
	ResearchStatusRunning   = "running"
	ResearchStatusCompleted = "completed"
	ResearchStatusFailed    = "failed"
	ResearchStatusCanceled  = "canceled"
)

// Research is a deep-research job.
type Research struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Instructions string          `json:"instructions"`
	Model        string          `json:"model,omitempty"`
	Output       *ResearchOutput `json:"output,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ResearchOutput carries the research result. Parsed is present when the
// upstream produced structured output.
type ResearchOutput struct {
	Content string         `json:"content,omitempty"`
	Parsed  map[string]any `json:"parsed,omitempty"`
}

// CreateWebsetRequest creates a webset with one search and optional
// enrichments.
type CreateWebsetRequest struct {
	Search      SearchSpec       `json:"search"`
	Enrichments []EnrichmentSpec `json:"enrichments,omitempty"`
	ExternalID  string           `json:"externalId,omitempty"`
}

// SearchSpec describes the search to run.
type SearchSpec struct {
	Query    string          `json:"query"`
	Count    int             `json:"count,omitempty"`
	Entity   *EntitySpec     `json:"entity,omitempty"`
	Criteria []CriterionSpec `json:"criteria,omitempty"`
}

// CriterionSpec declares one verification criterion.
type CriterionSpec struct {
	Description string `json:"description"`
}

// EnrichmentSpec declares one enrichment to attach.
type EnrichmentSpec struct {
	Description string   `json:"description"`
	Format      string   `json:"format,omitempty"`
	Options     []Option `json:"options,omitempty"`
}

// CreateMonitorRequest registers a cron monitor on a webset.
type CreateMonitorRequest struct {
	WebsetID string  `json:"websetId"`
	Cadence  Cadence `json:"cadence"`
	Behavior string  `json:"behavior,omitempty"`
}

// CreateResearchRequest dispatches a deep-research job.
type CreateResearchRequest struct {
	Instructions string `json:"instructions"`
	Model        string `json:"model,omitempty"`
}
