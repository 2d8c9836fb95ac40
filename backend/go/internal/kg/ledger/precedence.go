package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"LegisGraph/backend/go/internal/models"
)

// Compare orders two facts competing for the same slot.
// It returns a positive number when a takes precedence over b.
//
// Order: later ValidFrom, then higher SourceRank, then the larger stable hash
// of SourceID, then the larger IdempotencyKey. The last step makes the order
// total, so the outcome never depends on arrival order.
func Compare(a, b models.Fact) int {
	switch {
	case a.ValidFrom.After(b.ValidFrom):
		return 1
	case a.ValidFrom.Before(b.ValidFrom):
		return -1
	}
	if a.SourceRank != b.SourceRank {
		if a.SourceRank > b.SourceRank {
			return 1
		}
		return -1
	}
	ha, hb := SourceHash(a.SourceID), SourceHash(b.SourceID)
	if ha != hb {
		if ha > hb {
			return 1
		}
		return -1
	}
	return strings.Compare(a.IdempotencyKey, b.IdempotencyKey)
}

// SourceHash is the deterministic tie-break hash of a source id.
func SourceHash(sourceID string) uint64 {
	sum := sha256.Sum256([]byte(sourceID))
	return binary.BigEndian.Uint64(sum[:8])
}

// resolveSlots keeps the highest-precedence fact per slot and drops retractions.
func resolveSlots(entityID string, facts []models.Fact) models.EntityView {
	best := make(map[string]models.Fact)
	for _, f := range facts {
		cur, ok := best[f.Slot]
		if !ok || Compare(f, cur) > 0 {
			best[f.Slot] = f
		}
	}
	view := models.EntityView{EntityID: entityID, Facts: make(map[string]models.Fact, len(best))}
	for slot, f := range best {
		if f.Retracted {
			continue
		}
		view.Facts[slot] = f
	}
	return view
}
