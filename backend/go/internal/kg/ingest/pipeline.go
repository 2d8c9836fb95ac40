package ingest

import (
	"context"
	"fmt"
	"time"

	"LegisGraph/backend/go/internal/kg/coordinator"
	"LegisGraph/backend/go/internal/kg/resolver"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"
)

// Outcome summarizes how a candidate was applied.
type Outcome struct {
	EntityID   string                     `json:"entityId"`
	Confidence resolver.Confidence        `json:"confidence"`
	Results    []coordinator.AppendResult `json:"results"`
}

// Processor applies one queued candidate.
type Processor interface {
	Process(ctx context.Context, c models.Candidate) (Outcome, error)
}

// Pipeline resolves a candidate's subject and edge targets and hands the
// resulting proposals to the coordinator.
type Pipeline struct {
	resolver *resolver.Resolver
	coord    *coordinator.Coordinator
	receipts ReceiptStore
	log      *logger.Logger
}

// NewPipeline creates the pipeline. receipts may be nil.
func NewPipeline(r *resolver.Resolver, coord *coordinator.Coordinator, receipts ReceiptStore, log *logger.Logger) *Pipeline {
	return &Pipeline{resolver: r, coord: coord, receipts: receipts, log: log.Component("pipeline")}
}

// Process implements Processor. Invalid candidates and invariant violations
// mark the receipt rejected; transient failures leave it queued for a retry.
func (p *Pipeline) Process(ctx context.Context, c models.Candidate) (Outcome, error) {
	var out Outcome
	err := c.Normalize()
	if err == nil {
		err = c.Validate()
	}
	if err != nil {
		err = kgerrors.Invalid(err)
	} else {
		out, err = p.apply(ctx, c)
	}
	if err != nil && (kgerrors.IsTransient(err) || ctx.Err() != nil) {
		return out, err
	}
	if err != nil {
		p.log.WithError(models.ErrorInfo{Message: err.Error(), Type: kgerrors.Kind(err)}).
			WithField("receipt", c.ReceiptKey()).Error("candidate rejected")
	}
	p.finish(ctx, c, out, err)
	return out, err
}

func (p *Pipeline) apply(ctx context.Context, c models.Candidate) (Outcome, error) {
	subject, err := p.resolver.Resolve(ctx, resolver.Request{
		Type: c.Type, NaturalKey: c.NaturalKey, SourceID: c.SourceID, Hints: c.Hints,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve subject: %w", err)
	}
	out := Outcome{EntityID: subject.EntityID, Confidence: subject.Confidence}

	proposals := make([]coordinator.Proposal, 0, len(c.Attributes)+len(c.Edges))
	for _, a := range c.Attributes {
		proposals = append(proposals, coordinator.Proposal{
			Kind:        models.AttributeFact,
			Attribute:   a.Name,
			Slot:        a.Name,
			Value:       a.Value,
			Retract:     a.Retract,
			SourceID:    c.SourceID,
			ValidFrom:   validFrom(a.ValidFrom, c),
			ContentHash: c.ContentHash,
		})
	}
	for _, e := range c.Edges {
		req := resolver.Request{Type: e.Target.Type, NaturalKey: e.Target.NaturalKey, SourceID: c.SourceID}
		if e.Target.Name != "" {
			req.Hints = &models.ResolutionHints{Name: e.Target.Name}
		}
		target, err := p.resolver.Resolve(ctx, req)
		if err != nil {
			return out, fmt.Errorf("resolve %s target: %w", e.Label, err)
		}
		targetID := target.EntityID
		proposals = append(proposals, coordinator.Proposal{
			Kind:           models.EdgeFact,
			Attribute:      e.Label,
			Slot:           models.EdgeSlot(e.Label, targetID),
			TargetEntityID: &targetID,
			Retract:        e.Retract,
			SourceID:       c.SourceID,
			ValidFrom:      validFrom(e.ValidFrom, c),
			ContentHash:    c.ContentHash,
		})
	}
	if len(proposals) == 0 {
		return out, nil
	}

	results, err := p.coord.Apply(ctx, subject.EntityID, proposals)
	out.Results = results
	if err != nil {
		return out, fmt.Errorf("apply candidate: %w", err)
	}
	return out, nil
}

func (p *Pipeline) finish(ctx context.Context, c models.Candidate, out Outcome, err error) {
	if p.receipts == nil {
		return
	}
	status, msg := models.ReceiptApplied, ""
	if err != nil {
		status, msg = models.ReceiptRejected, err.Error()
	}
	if ferr := p.receipts.Finish(context.WithoutCancel(ctx), c.ReceiptKey(), status, out.EntityID, msg); ferr != nil {
		p.log.WithError(models.ErrorInfo{Message: ferr.Error()}).WithField("receipt", c.ReceiptKey()).Warn("failed to record receipt outcome")
	}
}

func validFrom(explicit *time.Time, c models.Candidate) time.Time {
	if explicit != nil {
		return *explicit
	}
	return c.ObservedAt
}
