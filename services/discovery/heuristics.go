package discovery

import (
	"strings"

	"github.com/upb/llm-cascade/services/candidates"
)

// Placement puts a model into one tier with a role
type Placement struct {
	Tier candidates.Tier
	Role string
}

// engineOrder fixes the order in which engines contribute to a table
var engineOrder = []string{
	candidates.EngineGroq,
	candidates.EngineGemini,
	candidates.EngineClaude,
	candidates.EngineDeepSeek,
	candidates.EngineCerebras,
	candidates.EngineMistral,
	candidates.EngineOpenAI,
}

// maxGeminiModels caps how many Gemini models are considered
const maxGeminiModels = 5

var (
	reflexive = Placement{Tier: candidates.T1, Role: candidates.RoleReflexive}
	affective = Placement{Tier: candidates.T2, Role: candidates.RoleAffective}
	cognitive = Placement{Tier: candidates.T3, Role: candidates.RoleCognitive}
	neuroNet  = Placement{Tier: candidates.T4, Role: candidates.RoleNeuroNet}
)

// Place returns the tiers a model belongs to, judged by its name. Unknown
// models get no placement.
func Place(engine, modelID string) []Placement {
	id := strings.ToLower(modelID)
	has := func(s string) bool { return strings.Contains(id, s) }

	switch engine {
	case candidates.EngineGroq:
		switch {
		case has("8b") || has("1b"):
			return []Placement{reflexive}
		case has("70b"):
			return []Placement{reflexive, cognitive}
		}
	case candidates.EngineGemini:
		switch {
		case has("flash"):
			return []Placement{reflexive}
		case has("pro"):
			return []Placement{affective, cognitive}
		}
	case candidates.EngineClaude:
		switch {
		case has("haiku"):
			return []Placement{reflexive}
		case has("sonnet"):
			return []Placement{affective, cognitive}
		case has("opus"):
			return []Placement{cognitive}
		}
	case candidates.EngineDeepSeek:
		if has("coder") {
			return []Placement{neuroNet}
		}
		return []Placement{cognitive}
	case candidates.EngineCerebras:
		return []Placement{reflexive}
	case candidates.EngineMistral:
		switch {
		case has("codestral"):
			return []Placement{neuroNet}
		case has("small"):
			return []Placement{reflexive}
		case has("large"):
			return []Placement{affective, cognitive}
		}
	case candidates.EngineOpenAI:
		switch {
		case has("mini"):
			return []Placement{reflexive}
		case has("o1"):
			return []Placement{neuroNet}
		case has("gpt-4"):
			return []Placement{cognitive}
		}
	}
	return nil
}

// BuildTable places every live model. Engines outside the known set are
// ignored; Gemini is capped at its first five models.
func BuildTable(live map[string][]string) *candidates.Table {
	b := candidates.NewTableBuilder()
	for _, engine := range engineOrder {
		models := live[engine]
		if engine == candidates.EngineGemini && len(models) > maxGeminiModels {
			models = models[:maxGeminiModels]
		}
		for _, model := range models {
			for _, p := range Place(engine, model) {
				b.Add(p.Tier, engine, model, p.Role)
			}
		}
	}
	return b.Build()
}
