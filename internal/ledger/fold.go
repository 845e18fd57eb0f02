package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/openvault/staked/internal/models"
)

// Key identifies one projection: a user's position in one asset on one
// chain.
type Key struct {
	UserID  uuid.UUID
	AssetID uuid.UUID
	ChainID uuid.UUID
}

// Fold replays journal entries into per-key bucket totals. It is the
// reference semantics the balance cache must agree with: reconciliation
// is a Fold over the whole journal compared against the cache.
func Fold(entries []models.LedgerEntry) (map[Key]Delta, error) {
	totals := make(map[Key]Delta)
	for _, e := range entries {
		if e.UserID == nil {
			continue
		}
		effect, err := EffectOf(e)
		if err != nil {
			return nil, fmt.Errorf("ledger: fold entry %s: %w", e.ID, err)
		}
		k := Key{UserID: *e.UserID, AssetID: e.AssetID, ChainID: e.ChainID}
		totals[k] = totals[k].Add(effect)
	}
	return totals, nil
}
