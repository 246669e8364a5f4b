package smart

import (
	"regexp"
	"strings"
)

// Complexity is the coarse task class inferred from a prompt.
type Complexity string

// Complexity constants define task classes, cheapest-first.
const (
	// ComplexitySimple covers short factual or list-style asks.
	ComplexitySimple Complexity = "simple"
	// ComplexityReasoning covers debugging, tests, and calculation.
	ComplexityReasoning Complexity = "reasoning"
	// ComplexityComplex covers reviews, architecture, and refactors.
	ComplexityComplex Complexity = "complex"
	// ComplexityMultimodal covers visual output requests.
	ComplexityMultimodal Complexity = "multimodal"
)

// Keyword patterns per class, matched in priority order multimodal >
// complex > reasoning. Heuristic only; must stay cheap enough to run on
// every request.
var (
	multimodalPatterns = compilePatterns(
		`visualize`,
		`diagram`,
		`chart`,
		`image`,
		`screenshot`,
	)
	complexPatterns = compilePatterns(
		`review`,
		`architecture`,
		`design pattern`,
		`refactor`,
		`optimize`,
		`comprehensive`,
	)
	reasoningPatterns = compilePatterns(
		`debug`,
		`test`,
		`unit test`,
		`algorithm`,
		`logic`,
		`calculate`,
	)
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Token and length thresholds used when no keyword matches.
const (
	complexTokenThreshold   = 10000
	reasoningTokenThreshold = 5000
	simplePromptLength      = 100
	reasoningPromptLength   = 500
)

// Classify infers the task complexity from the prompt text, falling back
// to token-count and then prompt-length thresholds.
func Classify(prompt string, approxTokens int) Complexity {
	lower := strings.ToLower(prompt)

	for _, pattern := range multimodalPatterns {
		if pattern.MatchString(lower) {
			return ComplexityMultimodal
		}
	}
	for _, pattern := range complexPatterns {
		if pattern.MatchString(lower) {
			return ComplexityComplex
		}
	}
	for _, pattern := range reasoningPatterns {
		if pattern.MatchString(lower) {
			return ComplexityReasoning
		}
	}

	if approxTokens > complexTokenThreshold {
		return ComplexityComplex
	}
	if approxTokens > reasoningTokenThreshold {
		return ComplexityReasoning
	}

	switch {
	case len(prompt) < simplePromptLength:
		return ComplexitySimple
	case len(prompt) < reasoningPromptLength:
		return ComplexityReasoning
	default:
		return ComplexityComplex
	}
}
