package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/google/uuid"
)

// compactionThreshold is how many turns accumulate before the Gateway
// flags a session as degraded and notes that earlier turns are only
// reachable through memory retrieval now, not the live prompt window.
const compactionThreshold = maxHistoryTurns * 3

// compact marks a session degraded the first time its history crosses
// compactionThreshold. The prompt window itself is already bounded by
// ListTurns(limit) in toolLoop — compaction's job is just to make that
// truncation visible (a degraded flag, and a provenance-labeled marker
// turn) since every truncated turn was already ingested into memory by a
// prior call to ProcessMessage.
func (g *Gateway) compact(ctx context.Context, session *models.Session) error {
	if session.Degraded {
		return nil
	}

	all, err := g.store.ListTurns(ctx, session.ID, 0)
	if err != nil {
		return fmt.Errorf("list full history: %w", err)
	}
	if len(all) < compactionThreshold {
		return nil
	}

	session.Degraded = true
	if err := g.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("mark session degraded: %w", err)
	}

	marker := &models.Turn{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleSystem,
		Content:   fmt.Sprintf("[compacted: %d earlier turns are preserved in memory retrieval, not the live prompt window]", len(all)-maxHistoryTurns),
		CreatedAt: time.Now().UTC(),
	}
	return g.store.AppendTurn(ctx, marker)
}
