package gateway

import (
	"strings"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// complexityMarkers are phrases that tend to show up in requests with
// several independent sub-tasks — a cheap proxy for "this should probably
// be decomposed" rather than a learned classifier.
var complexityMarkers = []string{"and then", "after that", "also", "multiple", "each of", "compare", "plan", "steps"}

// complexityScore is a coarse heuristic over the request text and the
// retrieved memory context: longer requests, requests that read like a
// sequence of sub-tasks, and requests surfacing contradictory memory all
// raise the score. The Gateway surfaces the score to the model as a hint
// to use the delegate tool once it crosses cfg.DelegationMinScore; it does
// not force delegation itself.
func complexityScore(text string, memCtx *models.MemoryContext) int {
	score := 0

	words := len(strings.Fields(text))
	score += words / 40

	lower := strings.ToLower(text)
	for _, marker := range complexityMarkers {
		if strings.Contains(lower, marker) {
			score++
		}
	}

	if memCtx != nil {
		score += len(memCtx.Contradictions) * 2
	}

	return score
}
