package smart

import "strings"

// Mode is a named routing bias profile.
type Mode string

// Mode constants define the supported routing modes.
const (
	// ModeAuto varies the distribution by task complexity.
	ModeAuto Mode = "auto"
	// ModePerformance always biases toward the highest-quality endpoints.
	ModePerformance Mode = "performance"
	// ModeEfficient biases toward the cheapest endpoint.
	ModeEfficient Mode = "efficient"
	// ModeLite restricts weight to free and near-free endpoints.
	ModeLite Mode = "lite"
)

// ParseMode normalizes a mode string, defaulting to auto.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModePerformance:
		return ModePerformance
	case ModeEfficient:
		return ModeEfficient
	case ModeLite:
		return ModeLite
	default:
		return ModeAuto
	}
}

// autoWeights shifts traffic by complexity: simple tasks go ~80% to the
// cheapest endpoint, complex tasks mostly to the highest-quality one.
var autoWeights = map[Complexity]map[string]float64{
	ComplexitySimple: {
		"DeepSeek": 80, "Grok": 10, "Gemini": 5, "Claude": 3, "GPT-4": 2,
	},
	ComplexityReasoning: {
		"DeepSeek": 40, "Grok": 40, "Gemini": 10, "Claude": 7, "GPT-4": 3,
	},
	ComplexityComplex: {
		"Claude": 50, "GPT-4": 25, "Gemini": 15, "Grok": 8, "DeepSeek": 2,
	},
	ComplexityMultimodal: {
		"Gemini": 70, "Claude": 15, "GPT-4": 10, "Grok": 3, "DeepSeek": 2,
	},
}

// performanceWeights ignores complexity and favors the two best endpoints.
var performanceWeights = map[string]float64{
	"Claude": 60, "GPT-4": 30, "Gemini": 8, "Grok": 2, "DeepSeek": 0,
}

// efficientWeights favors the cheapest endpoint, with the fast secondary
// endpoint weighted up specifically for reasoning tasks.
var (
	efficientReasoningWeights = map[string]float64{
		"DeepSeek": 60, "Grok": 35, "Gemini": 3, "Claude": 2, "GPT-4": 0,
	}
	efficientDefaultWeights = map[string]float64{
		"DeepSeek": 90, "Grok": 8, "Gemini": 2, "Claude": 0, "GPT-4": 0,
	}
)

// liteWeights restricts routing to free-tier endpoints.
var liteWeights = map[string]float64{
	"Grok": 70, "DeepSeek": 30, "Gemini": 0, "Claude": 0, "GPT-4": 0,
}

// ModeWeights returns the per-endpoint weight distribution for one
// selection. Weights are relative multipliers over the plan's cost
// weighting, not probabilities, and are never persisted.
func ModeWeights(mode Mode, complexity Complexity) map[string]float64 {
	switch mode {
	case ModePerformance:
		return cloneWeights(performanceWeights)
	case ModeEfficient:
		if complexity == ComplexityReasoning {
			return cloneWeights(efficientReasoningWeights)
		}
		return cloneWeights(efficientDefaultWeights)
	case ModeLite:
		return cloneWeights(liteWeights)
	default:
		weights, ok := autoWeights[complexity]
		if !ok {
			weights = autoWeights[ComplexitySimple]
		}
		return cloneWeights(weights)
	}
}

func cloneWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for name, weight := range weights {
		out[name] = weight
	}
	return out
}
