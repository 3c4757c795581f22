package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// parseDelegationRequest converts the "delegate" tool call's free-form
// arguments into a DelegationRequest. The model is expected to supply a
// "briefs" array shaped like []models.DelegationBrief and an optional
// "scope" string; arguments arrive as map[string]interface{} (decoded
// JSON), so round-tripping through encoding/json is the simplest way to
// land them on the typed struct without hand-rolling a walker.
func parseDelegationRequest(sessionID string, call models.ToolCall) (*models.DelegationRequest, error) {
	raw, ok := call.Arguments["briefs"]
	if !ok {
		return nil, fmt.Errorf("delegate call missing \"briefs\" argument")
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode briefs argument: %w", err)
	}
	var briefs []models.DelegationBrief
	if err := json.Unmarshal(encoded, &briefs); err != nil {
		return nil, fmt.Errorf("decode briefs argument: %w", err)
	}
	if len(briefs) == 0 {
		return nil, fmt.Errorf("delegate call supplied zero briefs")
	}

	scope, _ := call.Arguments["scope"].(string)

	return &models.DelegationRequest{
		SessionID:     sessionID,
		ParentMessage: call.ID,
		Scope:         scope,
		Briefs:        briefs,
	}, nil
}
