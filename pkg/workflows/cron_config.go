package workflows

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// CronConfig is the declarative semantic-cron pipeline: lenses feed shapes,
// shapes feed a join, the join feeds a signal.
type CronConfig struct {
	Name    string         `json:"name,omitempty"`
	Proxy   string         `json:"proxy,omitempty"`
	Lenses  []LensConfig   `json:"lenses" validate:"required,min=1,dive"`
	Shapes  []ShapeConfig  `json:"shapes" validate:"required,min=1,dive"`
	Join    JoinConfig     `json:"join" validate:"required"`
	Signal  SignalConfig   `json:"signal" validate:"required"`
	Monitor *MonitorConfig `json:"monitor,omitempty"`
}

// LensConfig declares one independent sensor: either a new search or a
// binding to an existing webset.
type LensConfig struct {
	ID          string                 `json:"id" validate:"required"`
	WebsetID    string                 `json:"websetId,omitempty"`
	Query       string                 `json:"query,omitempty"`
	Entity      string                 `json:"entity,omitempty"`
	Count       int                    `json:"count,omitempty"`
	Criteria    []string               `json:"criteria,omitempty"`
	Enrichments []LensEnrichmentConfig `json:"enrichments,omitempty"`
}

// LensEnrichmentConfig declares one enrichment on a lens's search.
type LensEnrichmentConfig struct {
	Description string   `json:"description" validate:"required"`
	Format      string   `json:"format,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// ShapeConfig is an item-level predicate bound to one lens.
type ShapeConfig struct {
	LensID     string            `json:"lensId" validate:"required"`
	Combine    string            `json:"combine,omitempty" validate:"omitempty,oneof=all any"`
	Conditions []ConditionConfig `json:"conditions" validate:"required,min=1,dive"`
}

// ConditionConfig compares one enrichment value against an operator.
type ConditionConfig struct {
	Enrichment string `json:"enrichment" validate:"required"`
	Op         string `json:"op" validate:"required,oneof=exists gte gt lte lt eq contains matches oneOf withinDays"`
	Value      any    `json:"value,omitempty"`
}

// JoinConfig selects and parameterizes the cross-lens join.
type JoinConfig struct {
	By             string          `json:"by" validate:"required,oneof=entity entity+temporal temporal cooccurrence"`
	NameThreshold  float64         `json:"nameThreshold,omitempty"`
	MinLensOverlap int             `json:"minLensOverlap,omitempty"`
	Temporal       *TemporalConfig `json:"temporal,omitempty"`
}

// TemporalConfig bounds how far apart cross-lens timestamps may be.
type TemporalConfig struct {
	Days float64 `json:"days" validate:"gt=0"`
}

// SignalConfig wraps the firing rule.
type SignalConfig struct {
	Requires RequiresConfig `json:"requires" validate:"required"`
}

// RequiresConfig is the firing rule over lens evidence.
type RequiresConfig struct {
	Type       string     `json:"type" validate:"required,oneof=all any threshold combination"`
	Min        int        `json:"min,omitempty"`
	Sufficient [][]string `json:"sufficient,omitempty"`
}

// MonitorConfig is the optional re-run cadence, a 5-field cron expression.
type MonitorConfig struct {
	Cron     string `json:"cron" validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}

var templateToken = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ExpandCronConfig substitutes {{var}} tokens textually over the JSON form of
// the raw config and parses the result. Substituting the serialized text
// guarantees tokens nested inside strings are replaced too. Residual tokens
// after substitution are a validation failure naming each unresolved
// variable.
func ExpandCronConfig(raw map[string]any, variables map[string]string) (*CronConfig, error) {
	if raw == nil {
		return nil, Validationf("missing required argument %q", "config")
	}
	text, err := json.Marshal(raw)
	if err != nil {
		return nil, Validationf("config is not serializable: %v", err)
	}

	expanded := templateToken.ReplaceAllStringFunc(string(text), func(tok string) string {
		name := templateToken.FindStringSubmatch(tok)[1]
		if v, ok := variables[name]; ok {
			return jsonEscape(v)
		}
		return tok
	})

	if residual := templateToken.FindAllStringSubmatch(expanded, -1); len(residual) > 0 {
		seen := make(map[string]bool)
		var names []string
		for _, m := range residual {
			tok := "{{" + m[1] + "}}"
			if !seen[tok] {
				seen[tok] = true
				names = append(names, tok)
			}
		}
		sort.Strings(names)
		return nil, Validationf("unresolved template variables: %s", strings.Join(names, ", "))
	}

	var cfg CronConfig
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, Validationf("config does not parse after template expansion: %v", err)
	}
	return &cfg, nil
}

// jsonEscape escapes a substituted value so it stays valid inside the JSON
// text form.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

var cronValidate = validator.New()

// Validate runs schema validation plus the referential checks the struct
// tags cannot express.
func (c *CronConfig) Validate() error {
	if err := cronValidate.Struct(c); err != nil {
		return Validationf("invalid config: %v", err)
	}

	lensSet := make(map[string]bool, len(c.Lenses))
	for _, l := range c.Lenses {
		if lensSet[l.ID] {
			return Validationf("duplicate lens id %q", l.ID)
		}
		lensSet[l.ID] = true
		if l.WebsetID == "" && l.Query == "" {
			return Validationf("lens %q needs either websetId or query", l.ID)
		}
	}

	for _, s := range c.Shapes {
		if !lensSet[s.LensID] {
			return Validationf("shape references unknown lens %q", s.LensID)
		}
	}

	req := c.Signal.Requires
	if req.Type == "combination" {
		if len(req.Sufficient) == 0 {
			return Validationf("combination signal needs at least one sufficient set")
		}
		for _, set := range req.Sufficient {
			for _, id := range set {
				if !lensSet[id] {
					return Validationf("signal combination references unknown lens %q", id)
				}
			}
		}
	}

	switch c.Join.By {
	case "entity+temporal", "temporal":
		if c.Join.Temporal == nil {
			return Validationf("join %q requires a temporal window", c.Join.By)
		}
	}

	if c.Monitor != nil {
		if _, err := cron.ParseStandard(c.Monitor.Cron); err != nil {
			return Validationf("invalid monitor cron %q: %v", c.Monitor.Cron, err)
		}
	}
	return nil
}

// LensIDs returns the declared lens ids in declaration order.
func (c *CronConfig) LensIDs() []string {
	out := make([]string, 0, len(c.Lenses))
	for _, l := range c.Lenses {
		out = append(out, l.ID)
	}
	return out
}

// ShapesFor returns the shapes bound to one lens.
func (c *CronConfig) ShapesFor(lensID string) []ShapeConfig {
	var out []ShapeConfig
	for _, s := range c.Shapes {
		if s.LensID == lensID {
			out = append(out, s)
		}
	}
	return out
}
