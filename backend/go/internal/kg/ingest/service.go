// Package ingest accepts candidates from producers, queues them, and applies
// queued candidates to the graph through the resolver and coordinator.
package ingest

import (
	"context"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"
)

// SubmitStatus is the producer-facing outcome of a submission.
type SubmitStatus string

const (
	Accepted  SubmitStatus = "accepted"
	Duplicate SubmitStatus = "duplicate"
)

// SubmitResult is returned by SubmitCandidate.
type SubmitResult struct {
	Status     SubmitStatus `json:"status"`
	ReceiptKey string       `json:"receiptKey"`
}

// Service is the producer-facing entry point.
type Service struct {
	receipts  ReceiptStore
	guard     Guard
	publisher *Publisher
	log       *logger.Logger
}

// NewService creates the submit service. guard may be nil.
func NewService(receipts ReceiptStore, guard Guard, publisher *Publisher, log *logger.Logger) *Service {
	return &Service{receipts: receipts, guard: guard, publisher: publisher, log: log.Component("ingest")}
}

// SubmitCandidate validates c, records a receipt keyed by (sourceId,
// contentHash) and queues it. Resubmissions return Duplicate.
func (s *Service) SubmitCandidate(ctx context.Context, c models.Candidate) (SubmitResult, error) {
	if err := c.Normalize(); err != nil {
		return SubmitResult{}, kgerrors.Invalid(err)
	}
	if err := c.Validate(); err != nil {
		return SubmitResult{}, kgerrors.Invalid(err)
	}
	key := c.ReceiptKey()
	res := SubmitResult{Status: Duplicate, ReceiptKey: key}

	if s.guard != nil {
		fresh, err := s.guard.Claim(ctx, key)
		switch {
		case err != nil:
			s.log.WithError(models.ErrorInfo{Message: err.Error(), Type: "transient_io"}).Warn("receipt guard unavailable, using receipt table only")
		case !fresh:
			return res, nil
		}
	}

	created, err := s.receipts.Claim(ctx, models.IngestReceipt{
		Key:         key,
		SourceID:    c.SourceID,
		ContentHash: c.ContentHash,
		Status:      models.ReceiptQueued,
	})
	if err != nil {
		s.forget(key)
		return SubmitResult{}, err
	}
	if !created {
		return res, nil
	}

	if err := s.publisher.Submit(ctx, c); err != nil {
		s.log.WithError(models.ErrorInfo{Message: err.Error(), Type: kgerrors.Kind(err)}).
			WithField("receipt", key).Error("failed to queue candidate")
		if rerr := s.receipts.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.log.WithError(models.ErrorInfo{Message: rerr.Error()}).WithField("receipt", key).Error("failed to release receipt")
		}
		s.forget(key)
		return SubmitResult{}, err
	}
	res.Status = Accepted
	s.log.WithPayload(map[string]interface{}{
		"receipt":    key,
		"type":       c.Type,
		"naturalKey": c.NaturalKey,
		"source":     c.SourceID,
	}).Debug("candidate queued")
	return res, nil
}

// Receipt returns the processing state of a submission.
func (s *Service) Receipt(ctx context.Context, key string) (models.IngestReceipt, error) {
	return s.receipts.Get(ctx, key)
}

func (s *Service) forget(key string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Forget(context.Background(), key); err != nil {
		s.log.WithError(models.ErrorInfo{Message: err.Error()}).WithField("receipt", key).Warn("failed to clear receipt guard")
	}
}
