// Package coordinator serializes writes per entity and arbitrates competing
// facts for the same slot before they reach the ledger.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"
)

// Outcome is what happened to one proposal.
type Outcome string

const (
	Appended   Outcome = "appended"
	Superseded Outcome = "superseded"
	Backfilled Outcome = "backfilled"
	Unchanged  Outcome = "unchanged"
	Duplicate  Outcome = "duplicate"
)

// Proposal is a fact the pipeline wants to record for an entity.
type Proposal struct {
	Kind           models.FactKind
	Attribute      string
	Slot           string
	Value          string
	TargetEntityID *string
	Retract        bool
	SourceID       string
	ValidFrom      time.Time
	// ContentHash identifies the submission the proposal came from.
	ContentHash string
}

// AppendResult reports the outcome of one proposal, in input order.
type AppendResult struct {
	Slot     string
	Outcome  Outcome
	Fact     models.Fact
	Replaced *models.Fact
}

// Listener is called after facts were appended, with the lock already released.
type Listener func(facts []models.Fact)

// Coordinator owns the per-entity write token.
type Coordinator struct {
	store  ledger.Store
	locker Locker
	rankOf func(sourceID string) int
	log    *logger.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// New creates a coordinator. rankOf maps a source id to its priority; nil ranks every source 0.
func New(store ledger.Store, locker Locker, rankOf func(string) int, log *logger.Logger) *Coordinator {
	if rankOf == nil {
		rankOf = func(string) int { return 0 }
	}
	return &Coordinator{store: store, locker: locker, rankOf: rankOf, log: log.Component("coordinator")}
}

// OnAppend registers a listener for newly created facts.
func (c *Coordinator) OnAppend(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Store returns the ledger the coordinator writes to.
func (c *Coordinator) Store() ledger.Store { return c.store }

// Lock holds the tokens of several entities. Used by merges.
func (c *Coordinator) Lock(ctx context.Context, entityIDs ...string) (func(), error) {
	unlock, err := LockAll(ctx, c.locker, entityIDs...)
	if err != nil {
		return nil, kgerrors.Transient(err, "acquire entity token")
	}
	return unlock, nil
}

// Apply takes the entity token and arbitrates every proposal in order.
func (c *Coordinator) Apply(ctx context.Context, entityID string, proposals []Proposal) ([]AppendResult, error) {
	unlock, err := c.Lock(ctx, entityID)
	if err != nil {
		return nil, err
	}
	results, err := c.ApplyLocked(ctx, entityID, proposals)
	unlock()
	c.notify(results)
	return results, err
}

// ApplyLocked is Apply for callers that already hold the entity token.
// Listeners are not notified; call Notify after releasing the token.
func (c *Coordinator) ApplyLocked(ctx context.Context, entityID string, proposals []Proposal) ([]AppendResult, error) {
	results := make([]AppendResult, 0, len(proposals))
	for _, p := range proposals {
		if err := ctx.Err(); err != nil {
			return results, kgerrors.Transient(err, "apply proposals")
		}
		res, err := c.arbitrate(ctx, entityID, p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Notify passes the created facts of results to the listeners.
func (c *Coordinator) Notify(results []AppendResult) { c.notify(results) }

func (c *Coordinator) notify(results []AppendResult) {
	var created []models.Fact
	for _, r := range results {
		switch r.Outcome {
		case Appended, Superseded, Backfilled:
			created = append(created, r.Fact)
		}
	}
	if len(created) == 0 {
		return
	}
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	for _, l := range listeners {
		l(created)
	}
}

func (c *Coordinator) arbitrate(ctx context.Context, entityID string, p Proposal) (AppendResult, error) {
	if p.Slot == "" || p.SourceID == "" {
		return AppendResult{}, fmt.Errorf("proposal for entity %s: slot and source are required", entityID)
	}
	f := models.Fact{
		EntityID:       entityID,
		Kind:           p.Kind,
		Attribute:      p.Attribute,
		Slot:           p.Slot,
		Value:          p.Value,
		TargetEntityID: p.TargetEntityID,
		Retracted:      p.Retract,
		SourceID:       p.SourceID,
		SourceRank:     c.rankOf(p.SourceID),
		ValidFrom:      models.UTC(p.ValidFrom),
		IdempotencyKey: models.FactIdempotencyKey(p.SourceID, p.ContentHash, p.Slot),
	}
	res := AppendResult{Slot: p.Slot}

	if dup, err := c.store.FindByIdempotencyKey(ctx, f.IdempotencyKey); err != nil {
		return res, err
	} else if dup != nil {
		res.Outcome, res.Fact = Duplicate, *dup
		return res, nil
	}

	open, err := c.store.OpenFact(ctx, entityID, p.Slot)
	if err != nil {
		return res, err
	}

	var closeID string
	switch {
	case open == nil:
		if f.Retracted {
			// Nothing current to retract.
			res.Outcome = Unchanged
			return res, nil
		}
		res.Outcome = Appended
	case sameAssertion(*open, f) && !f.ValidFrom.Before(open.ValidFrom):
		res.Outcome, res.Fact = Unchanged, *open
		return res, nil
	case ledger.Compare(f, *open) > 0:
		closeID = open.ID
		res.Outcome, res.Replaced = Superseded, open
		c.logConflict(f, *open, "superseded")
	default:
		// Lower precedence, or the same value known from an earlier time: keep
		// it as history that ended when the open fact began.
		to, successor := open.ValidFrom, open.ID
		f.ValidTo, f.SupersededByFactID = &to, &successor
		res.Outcome = Backfilled
		c.logConflict(f, *open, "backfilled")
	}

	stored, created, err := c.store.AppendFact(ctx, f, closeID)
	if err != nil {
		if kgerrors.IsInvariantViolation(err) {
			c.log.WithField("entity_id", entityID).WithField("slot", p.Slot).
				WithError(models.ErrorInfo{Message: err.Error(), Type: kgerrors.Kind(err)}).
				Error("ledger rejected write")
		}
		return res, err
	}
	if !created {
		res.Outcome, res.Replaced = Duplicate, nil
	}
	res.Fact = stored
	return res, nil
}

func sameAssertion(open, f models.Fact) bool {
	return open.Value == f.Value && open.Retracted == f.Retracted
}

func (c *Coordinator) logConflict(f, open models.Fact, resolution string) {
	c.log.WithPayload(map[string]interface{}{
		"kind":        kgerrors.Kind(kgerrors.ErrConflictingFact),
		"entity_id":   f.EntityID,
		"slot":        f.Slot,
		"resolution":  resolution,
		"new_source":  f.SourceID,
		"open_source": open.SourceID,
		"open_fact":   open.ID,
	}).Debug("conflicting fact resolved by precedence")
}
