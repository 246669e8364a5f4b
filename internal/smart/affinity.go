package smart

import (
	"context"
	"strings"
	"time"

	"github.com/oropendola/gateway/internal/cache"

	log "github.com/sirupsen/logrus"
)

// Affinity tracks per-session prompt history and pinned models in the
// shared cache. Entries are advisory only: any cache error degrades to the
// no-affinity path and is never surfaced to the caller.
type Affinity struct {
	store cache.Store
}

// NewAffinity constructs an Affinity tracker over the shared cache.
func NewAffinity(store cache.Store) *Affinity {
	return &Affinity{store: store}
}

func sessionModelKey(sessionID string) string {
	return "session:" + sessionID + ":model"
}

func sessionPromptKey(sessionID string) string {
	return "session:" + sessionID + ":last_prompt"
}

// Correlation returns the Jaccard similarity between the current prompt and
// the session's last recorded prompt, storing the current prompt either way.
// The first prompt of a session scores 0.
func (a *Affinity) Correlation(ctx context.Context, sessionID, prompt string, ttl time.Duration) float64 {
	if a == nil || a.store == nil || sessionID == "" {
		return 0
	}

	key := sessionPromptKey(sessionID)
	last, ok, errGet := a.store.Get(ctx, key)
	if errGet != nil {
		log.WithError(errGet).Debug("affinity: last prompt lookup failed")
		return 0
	}

	if errSet := a.store.SetEx(ctx, key, prompt, ttl); errSet != nil {
		log.WithError(errSet).Debug("affinity: last prompt store failed")
	}
	if !ok {
		return 0
	}
	return JaccardSimilarity(prompt, last)
}

// PinnedModel returns the model previously served to the session, if any.
func (a *Affinity) PinnedModel(ctx context.Context, sessionID string) (string, bool) {
	if a == nil || a.store == nil || sessionID == "" {
		return "", false
	}
	model, ok, errGet := a.store.Get(ctx, sessionModelKey(sessionID))
	if errGet != nil {
		log.WithError(errGet).Debug("affinity: pinned model lookup failed")
		return "", false
	}
	model = strings.TrimSpace(model)
	return model, ok && model != ""
}

// PinModel records the served model for the session.
func (a *Affinity) PinModel(ctx context.Context, sessionID, modelName string, ttl time.Duration) {
	if a == nil || a.store == nil || sessionID == "" || modelName == "" {
		return
	}
	if errSet := a.store.SetEx(ctx, sessionModelKey(sessionID), modelName, ttl); errSet != nil {
		log.WithError(errSet).Debug("affinity: pin model failed")
	}
}

// JaccardSimilarity computes intersection-over-union of the whitespace-split
// lowercase token sets of two prompts.
func JaccardSimilarity(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	intersection := 0
	for token := range tokensA {
		if _, ok := tokensB[token]; ok {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}
