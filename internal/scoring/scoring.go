package scoring

import "github.com/oropendola/gateway/internal/models"

// Weights control the linear combination behind routing scores.
// Cost and plan weighting dominate so pricing policy steers traffic;
// priority lets higher tiers bias toward better endpoints.
type Weights struct {
	Latency         float64
	Capacity        float64
	Cost            float64
	Priority        float64
	Success         float64
	PlanCostWeight  float64
	DegradedPenalty float64
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Latency:         1.0,
		Capacity:        0.5,
		Cost:            1.5,
		Priority:        2.0,
		Success:         0.3,
		PlanCostWeight:  3.0,
		DegradedPenalty: -10,
	}
}

// Candidate pairs a model profile with its plan-level cost weight.
type Candidate struct {
	Profile    models.ModelProfile
	CostWeight float64
}

// Score computes the routing score for one candidate. An inactive or Down
// endpoint scores exactly 0 and must be excluded from candidacy.
func (w Weights) Score(profile models.ModelProfile, subscriptionPriority int, planCostWeight float64) float64 {
	if !profile.IsActive || profile.HealthStatus == models.HealthDown {
		return 0
	}

	score := w.Latency * (1.0 / (float64(profile.AvgLatencyMs) + 1))
	score += w.Capacity * (float64(profile.CapacityScore) / 100.0)
	score -= w.Cost * profile.CostPerUnit
	score += w.Priority * float64(subscriptionPriority)
	score += w.Success * (profile.SuccessRate / 100.0)
	score += w.PlanCostWeight * (planCostWeight / 10.0)
	if profile.HealthStatus == models.HealthDegraded {
		score += w.DegradedPenalty
	}
	return score
}

// SelectBest returns the highest-scoring routable candidate. Ties keep the
// earlier list position, so repeated calls over identical input are stable.
func (w Weights) SelectBest(candidates []Candidate, subscriptionPriority int) (models.ModelProfile, bool) {
	var best models.ModelProfile
	bestScore := 0.0
	found := false

	for _, candidate := range candidates {
		if !candidate.Profile.IsActive || candidate.Profile.HealthStatus == models.HealthDown {
			continue
		}
		score := w.Score(candidate.Profile, subscriptionPriority, candidate.CostWeight)
		if !found || score > bestScore {
			best = candidate.Profile
			bestScore = score
			found = true
		}
	}
	return best, found
}
