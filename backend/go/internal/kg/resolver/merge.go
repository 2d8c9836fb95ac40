package resolver

import (
	"context"
	"fmt"
	"time"

	"LegisGraph/backend/go/internal/kg/coordinator"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
)

// resolutionMarker is implemented by signalers that track request status.
type resolutionMarker interface {
	MarkResolved(ctx context.Context, entityID, resolvedWith string) error
}

// MergeResult summarises a completed merge.
type MergeResult struct {
	Winner      string                     `json:"winner"`
	Loser       string                     `json:"loser"`
	CopiedFacts int                        `json:"copiedFacts"`
	Results     []coordinator.AppendResult `json:"-"`
}

// Merger folds one canonical entity into another.
type Merger struct {
	resolver *Resolver
	coord    *coordinator.Coordinator
	now      func() time.Time
}

func NewMerger(r *Resolver, coord *coordinator.Coordinator) *Merger {
	return &Merger{resolver: r, coord: coord, now: time.Now}
}

// UnmergeResult summarises a reverted merge.
type UnmergeResult struct {
	Winner    string                     `json:"winner"`
	Loser     string                     `json:"loser"`
	Restored  int                        `json:"restored"`
	Retracted int                        `json:"retracted"`
	Results   []coordinator.AppendResult `json:"-"`
}

// Merge records the merge in the ledger of both entities, copies loser's
// current facts onto winner, where they compete under the normal precedence
// rules, and then repoints loser's identity keys to winner. The ledger is
// written first: a merge that failed before the repoint is retried by calling
// Merge again, and the already recorded events come back as duplicates.
func (m *Merger) Merge(ctx context.Context, winner, loser, sourceID string) (MergeResult, error) {
	if winner == "" || loser == "" || winner == loser {
		return MergeResult{}, kgerrors.Invalid(fmt.Errorf("merge needs two distinct entities"))
	}
	if sourceID == "" {
		sourceID = "system:merge"
	}
	store := m.resolver.store
	ledger := m.coord.Store()

	unlock, err := m.coord.Lock(ctx, winner, loser)
	if err != nil {
		return MergeResult{}, err
	}
	released := false
	release := func() {
		if !released {
			released = true
			unlock()
		}
	}
	defer release()

	w, err := store.GetEntity(ctx, winner)
	if err != nil {
		return MergeResult{}, err
	}
	l, err := store.GetEntity(ctx, loser)
	if err != nil {
		return MergeResult{}, err
	}
	if w.MergedInto != nil {
		return MergeResult{}, kgerrors.Invalid(fmt.Errorf("winner %s was itself merged into %s", winner, *w.MergedInto))
	}
	if l.MergedInto != nil {
		return MergeResult{}, kgerrors.Invalid(fmt.Errorf("entity %s is already merged into %s", loser, *l.MergedInto))
	}
	if w.Type != l.Type {
		return MergeResult{}, kgerrors.Invalid(fmt.Errorf("cannot merge %s into %s", l.Type, w.Type))
	}

	epoch, err := m.mergeEpoch(ctx, loser, winner)
	if err != nil {
		return MergeResult{}, err
	}
	view, err := ledger.CurrentView(ctx, loser)
	if err != nil {
		return MergeResult{}, err
	}

	at := models.UTC(m.now())
	mergeHash := fmt.Sprintf("merge:%s>%s#%d", loser, winner, epoch)
	var results []coordinator.AppendResult

	intoOpen, err := ledger.OpenFact(ctx, loser, models.AttrMergedInto)
	if err != nil {
		return MergeResult{}, err
	}
	res, err := m.coord.ApplyLocked(ctx, loser, []coordinator.Proposal{{
		Kind: models.SystemFact, Attribute: models.AttrMergedInto, Slot: models.AttrMergedInto,
		Value: winner, SourceID: sourceID, ValidFrom: after(at, intoOpen), ContentHash: mergeHash,
	}})
	results = append(results, res...)
	if err != nil {
		release()
		m.coord.Notify(results)
		return MergeResult{}, err
	}

	fromSlot := models.AttrMergedFromPrefix + loser
	fromOpen, err := ledger.OpenFact(ctx, winner, fromSlot)
	if err != nil {
		return MergeResult{}, err
	}
	proposals := []coordinator.Proposal{{
		Kind: models.SystemFact, Attribute: fromSlot, Slot: fromSlot,
		Value: loser, SourceID: sourceID, ValidFrom: after(at, fromOpen), ContentHash: mergeHash,
	}}
	copied := 0
	for _, f := range view.Facts {
		if f.Kind == models.SystemFact {
			continue
		}
		validFrom := f.ValidFrom
		if epoch > 0 {
			// A slot an earlier unmerge reverted takes the copy from now on.
			open, err := ledger.OpenFact(ctx, winner, f.Slot)
			if err != nil {
				return MergeResult{}, err
			}
			if reverted, err := m.revertedCopy(ctx, open, winner, epoch, f); err != nil {
				return MergeResult{}, err
			} else if reverted {
				validFrom = after(at, open)
			}
		}
		proposals = append(proposals, coordinator.Proposal{
			Kind:           f.Kind,
			Attribute:      f.Attribute,
			Slot:           f.Slot,
			Value:          f.Value,
			TargetEntityID: f.TargetEntityID,
			SourceID:       f.SourceID,
			ValidFrom:      validFrom,
			ContentHash:    copyHash(winner, epoch, f.ID),
		})
		copied++
	}
	res, err = m.coord.ApplyLocked(ctx, winner, proposals)
	results = append(results, res...)
	if err == nil {
		err = store.Repoint(ctx, loser, winner)
	}
	release()
	m.coord.Notify(results)
	if err != nil {
		return MergeResult{}, err
	}

	if marker, ok := m.resolver.signaler.(resolutionMarker); ok {
		if err := marker.MarkResolved(ctx, loser, winner); err != nil {
			m.resolver.log.WithField("entity_id", loser).
				WithError(models.ErrorInfo{Message: err.Error(), Type: kgerrors.Kind(err)}).
				Warn("could not close disambiguation request")
		}
	}
	m.resolver.log.WithPayload(map[string]interface{}{"winner": winner, "loser": loser, "copied": copied}).Info("entities merged")
	return MergeResult{Winner: winner, Loser: loser, CopiedFacts: copied, Results: results}, nil
}

// Unmerge reverts the merge of loser into winner. The merge markers are
// retracted, facts copied onto winner that are still current are retracted
// or give way to the value they had replaced, and identity keys first
// registered for loser point at loser again. Loser's own ledger was never
// touched by the merge, so it is current again as soon as the keys move back.
func (m *Merger) Unmerge(ctx context.Context, winner, loser, sourceID string) (UnmergeResult, error) {
	if winner == "" || loser == "" || winner == loser {
		return UnmergeResult{}, kgerrors.Invalid(fmt.Errorf("unmerge needs two distinct entities"))
	}
	if sourceID == "" {
		sourceID = "system:unmerge"
	}
	store := m.resolver.store
	ledger := m.coord.Store()

	unlock, err := m.coord.Lock(ctx, winner, loser)
	if err != nil {
		return UnmergeResult{}, err
	}
	released := false
	release := func() {
		if !released {
			released = true
			unlock()
		}
	}
	defer release()

	l, err := store.GetEntity(ctx, loser)
	if err != nil {
		return UnmergeResult{}, err
	}
	if l.MergedInto == nil || *l.MergedInto != winner {
		return UnmergeResult{}, kgerrors.Invalid(fmt.Errorf("entity %s is not merged into %s", loser, winner))
	}
	merges, err := m.mergeEpoch(ctx, loser, winner)
	if err != nil {
		return UnmergeResult{}, err
	}
	epoch := merges - 1
	unmergeHash := fmt.Sprintf("unmerge:%s>%s#%d", loser, winner, epoch)
	at := models.UTC(m.now())
	out := UnmergeResult{Winner: winner, Loser: loser}

	intoOpen, err := ledger.OpenFact(ctx, loser, models.AttrMergedInto)
	if err != nil {
		return UnmergeResult{}, err
	}
	res, err := m.coord.ApplyLocked(ctx, loser, []coordinator.Proposal{
		retraction(models.SystemFact, models.AttrMergedInto, winner, sourceID, after(at, intoOpen), unmergeHash),
	})
	out.Results = append(out.Results, res...)
	if err != nil {
		release()
		m.coord.Notify(out.Results)
		return UnmergeResult{}, err
	}

	fromSlot := models.AttrMergedFromPrefix + loser
	fromOpen, err := ledger.OpenFact(ctx, winner, fromSlot)
	if err != nil {
		return UnmergeResult{}, err
	}
	proposals := []coordinator.Proposal{
		retraction(models.SystemFact, fromSlot, loser, sourceID, after(at, fromOpen), unmergeHash),
	}

	view, err := ledger.CurrentView(ctx, loser)
	if err != nil {
		return UnmergeResult{}, err
	}
	for _, f := range view.Facts {
		if f.Kind == models.SystemFact {
			continue
		}
		c, err := ledger.FindByIdempotencyKey(ctx, models.FactIdempotencyKey(f.SourceID, copyHash(winner, epoch, f.ID), f.Slot))
		if err != nil {
			return UnmergeResult{}, err
		}
		if c == nil || c.EntityID != winner || c.ValidTo != nil {
			// Never stored, or already replaced on winner.
			continue
		}
		hash := fmt.Sprintf("unmerge-copy:%d:%s", epoch, c.ID)
		if c.SupersedesFactID == nil {
			proposals = append(proposals, retraction(c.Kind, c.Slot, c.Value, sourceID, after(at, c), hash))
			out.Retracted++
			continue
		}
		prior, err := ledger.GetFact(ctx, *c.SupersedesFactID)
		if err != nil {
			return UnmergeResult{}, err
		}
		proposals = append(proposals, coordinator.Proposal{
			Kind:           prior.Kind,
			Attribute:      prior.Attribute,
			Slot:           prior.Slot,
			Value:          prior.Value,
			TargetEntityID: prior.TargetEntityID,
			Retract:        prior.Retracted,
			SourceID:       prior.SourceID,
			ValidFrom:      after(at, c),
			ContentHash:    hash,
		})
		out.Restored++
	}

	res, err = m.coord.ApplyLocked(ctx, winner, proposals)
	out.Results = append(out.Results, res...)
	if err == nil {
		err = store.Unrepoint(ctx, loser, winner)
	}
	release()
	m.coord.Notify(out.Results)
	if err != nil {
		return UnmergeResult{}, err
	}
	m.resolver.log.WithPayload(map[string]interface{}{
		"winner": winner, "loser": loser, "restored": out.Restored, "retracted": out.Retracted,
	}).Info("merge reverted")
	return out, nil
}

// mergeEpoch counts the merges of loser into winner that the ledger has
// recorded and not retracted. A merge whose marker is recorded but whose
// keys were not repointed yet is resumed under its own epoch.
func (m *Merger) mergeEpoch(ctx context.Context, loser, winner string) (int, error) {
	history, err := m.coord.Store().History(ctx, loser, models.AttrMergedInto)
	if err != nil {
		return 0, err
	}
	n, pending := 0, false
	for _, f := range history {
		if f.Retracted || f.Value != winner {
			continue
		}
		n++
		pending = f.ValidTo == nil
	}
	if pending {
		if e, err := m.resolver.store.GetEntity(ctx, loser); err == nil && e.MergedInto == nil {
			return n - 1, nil
		}
	}
	return n, nil
}

// revertedCopy reports whether open replaced the copy of f made by one of the
// earlier merges into winner, which is what an unmerge leaves behind.
func (m *Merger) revertedCopy(ctx context.Context, open *models.Fact, winner string, epoch int, f models.Fact) (bool, error) {
	if open == nil || open.SupersedesFactID == nil || !open.ValidFrom.After(f.ValidFrom) {
		return false, nil
	}
	prev, err := m.coord.Store().GetFact(ctx, *open.SupersedesFactID)
	if err != nil {
		return false, err
	}
	for e := 0; e < epoch; e++ {
		if prev.IdempotencyKey == models.FactIdempotencyKey(f.SourceID, copyHash(winner, e, f.ID), f.Slot) {
			return true, nil
		}
	}
	return false, nil
}

func copyHash(winner string, epoch int, factID string) string {
	return fmt.Sprintf("merge-copy:%s#%d:%s", winner, epoch, factID)
}

func retraction(kind models.FactKind, slot, value, sourceID string, at time.Time, hash string) coordinator.Proposal {
	return coordinator.Proposal{
		Kind: kind, Attribute: slot, Slot: slot, Value: value, Retract: true,
		SourceID: sourceID, ValidFrom: at, ContentHash: hash,
	}
}

// after returns at, moved past the start of open so that it takes precedence.
func after(at time.Time, open *models.Fact) time.Time {
	if open != nil && !at.After(open.ValidFrom) {
		return open.ValidFrom.Add(time.Microsecond)
	}
	return at
}
