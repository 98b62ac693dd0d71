package workflows

// SignalResult is the composite verdict of a semantic cron run.
type SignalResult struct {
	Fired              bool     `json:"fired"`
	Type               string   `json:"type"`
	SatisfiedBy        []string `json:"satisfiedBy"`
	MatchedCombination []string `json:"matchedCombination,omitempty"`
	Entities           []string `json:"entities"`
}

// evaluateSignal applies the firing rule. Entity joins evaluate over joined
// entities; temporal and cooccurrence joins evaluate over the lens-evidence
// set alone.
func evaluateSignal(cfg SignalConfig, declaredLenses []string, join *JoinResult) *SignalResult {
	if join.By == "entity" || join.By == "entity+temporal" {
		return signalOverEntities(cfg.Requires, declaredLenses, join.Entities)
	}
	return signalOverEvidence(cfg.Requires, declaredLenses, join.LensesWithEvidence)
}

func signalOverEntities(req RequiresConfig, declared []string, entities []JoinedEntity) *SignalResult {
	var matching []JoinedEntity
	var matched []string
	for _, e := range entities {
		ok, combo := requirementMet(req, declared, e.PresentInLenses)
		if ok {
			matching = append(matching, e)
			if matched == nil {
				matched = combo
			}
		}
	}

	out := &SignalResult{
		Type:               req.Type,
		Fired:              len(matching) > 0,
		MatchedCombination: matched,
		Entities:           []string{},
		SatisfiedBy:        []string{},
	}
	evidence := make(map[string]bool)
	for _, e := range matching {
		out.Entities = append(out.Entities, e.Name)
		for _, id := range e.PresentInLenses {
			evidence[id] = true
		}
	}
	out.SatisfiedBy = sortedKeys(evidence)
	return out
}

func signalOverEvidence(req RequiresConfig, declared, evidence []string) *SignalResult {
	fired, combo := requirementMet(req, declared, evidence)
	out := &SignalResult{
		Type:               req.Type,
		Fired:              fired,
		MatchedCombination: combo,
		Entities:           []string{},
		SatisfiedBy:        []string{},
	}
	if fired {
		out.SatisfiedBy = append([]string(nil), evidence...)
	}
	return out
}

// requirementMet checks one firing rule against a lens-evidence set. For
// combination rules it returns the first sufficient set that is fully
// covered.
func requirementMet(req RequiresConfig, declared, present []string) (bool, []string) {
	set := make(map[string]bool, len(present))
	for _, id := range present {
		set[id] = true
	}

	switch req.Type {
	case "all":
		for _, id := range declared {
			if !set[id] {
				return false, nil
			}
		}
		return true, nil
	case "any":
		return len(set) >= 1, nil
	case "threshold":
		min := req.Min
		if min <= 0 {
			min = 2
		}
		return len(set) >= min, nil
	case "combination":
		for _, combo := range req.Sufficient {
			covered := true
			for _, id := range combo {
				if !set[id] {
					covered = false
					break
				}
			}
			if covered {
				return true, combo
			}
		}
		return false, nil
	}
	return false, nil
}
