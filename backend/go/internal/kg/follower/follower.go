// Package follower tails the fact ledger in offset order and feeds batches to
// a derived-store handler, advancing a durable cursor only after success.
package follower

import (
	"context"
	"errors"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/circuitbreaker"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/cenkalti/backoff/v5"
)

// Handler applies ledger facts to a derived store. Handle must be idempotent:
// after a crash the same batch is delivered again.
type Handler interface {
	Name() string
	Handle(ctx context.Context, facts []models.Fact) error
	// Reset clears the derived store before a full rebuild.
	Reset(ctx context.Context) error
}

// Status reports how far a follower is behind the ledger.
type Status struct {
	Name      string `json:"name"`
	Cursor    int64  `json:"cursor"`
	MaxOffset int64  `json:"maxOffset"`
	Lag       int64  `json:"lag"`
}

// Follower drives one Handler.
type Follower struct {
	ledger  ledger.Store
	cursors CursorStore
	handler Handler
	cfg     config.FollowerConfig
	breaker circuitbreaker.CircuitBreaker
	log     *logger.Logger
	now     func() time.Time

	wake chan struct{}

	// mu serializes batches with Rebuild.
	mu       sync.Mutex
	gapAt    int64
	gapSince time.Time
}

// New creates a follower. breaker may be nil.
func New(store ledger.Store, cursors CursorStore, h Handler, cfg config.FollowerConfig, breaker circuitbreaker.CircuitBreaker, log *logger.Logger) *Follower {
	return &Follower{
		ledger:  store,
		cursors: cursors,
		handler: h,
		cfg:     cfg,
		breaker: breaker,
		log:     log.Component("follower").WithField("follower", h.Name()),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Name returns the handler name, which is also the cursor name.
func (f *Follower) Name() string { return f.handler.Name() }

// Wake makes Run poll immediately. It never blocks.
func (f *Follower) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Run follows the ledger until ctx is done.
func (f *Follower) Run(ctx context.Context) error {
	f.log.Info("follower started")
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			f.log.Info("follower stopped")
			return nil
		case <-timer.C:
		case <-f.wake:
		}

		n, err := f.Step(ctx)
		if err != nil && ctx.Err() == nil {
			f.log.WithError(models.ErrorInfo{Message: err.Error(), Type: kgerrors.Kind(err)}).Warn("follower step failed")
		}
		wait := f.cfg.PollInterval.Std()
		if n > 0 && err == nil {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}

// Step handles at most one batch and returns the number of facts applied.
func (f *Follower) Step(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cursor, err := f.cursors.Load(ctx, f.Name())
	if err != nil {
		return 0, err
	}
	facts, err := f.ledger.Since(ctx, cursor, f.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	facts = f.contiguous(cursor, facts)
	if len(facts) == 0 {
		return 0, nil
	}

	if err := f.handle(ctx, facts); err != nil {
		return 0, err
	}
	if err := f.cursors.Save(ctx, f.Name(), facts[len(facts)-1].Offset); err != nil {
		return 0, err
	}
	return len(facts), nil
}

// contiguous trims facts to the prefix without offset holes. A hole can be an
// append whose transaction has not committed yet, so it is waited for up to
// GapTimeout; after that it is treated as a rolled-back insert and skipped.
func (f *Follower) contiguous(cursor int64, facts []models.Fact) []models.Fact {
	expect := cursor + 1
	for i, fact := range facts {
		if fact.Offset == expect {
			expect++
			continue
		}
		if f.gapAt != expect {
			f.gapAt, f.gapSince = expect, f.now()
		}
		if f.now().Sub(f.gapSince) < f.cfg.GapTimeout.Std() {
			return facts[:i]
		}
		f.log.WithField("offset", expect).WithField("next", fact.Offset).Warn("skipping ledger offset gap")
		expect = fact.Offset + 1
	}
	return facts
}

func (f *Follower) handle(ctx context.Context, facts []models.Fact) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff.Std()
	b.MaxInterval = f.cfg.MaxBackoff.Std()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := f.execute(ctx, facts)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(5))
	return err
}

func (f *Follower) execute(ctx context.Context, facts []models.Fact) error {
	if f.breaker == nil {
		return f.handler.Handle(ctx, facts)
	}
	return f.breaker.Do(func() error {
		return f.handler.Handle(ctx, facts)
	})
}

// Rebuild rewinds the cursor to from. From zero the derived store is reset
// first and everything is replayed by Run.
func (f *Follower) Rebuild(ctx context.Context, from int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if from <= 0 {
		from = 0
		if err := f.handler.Reset(ctx); err != nil {
			return err
		}
	}
	if err := f.cursors.Save(ctx, f.Name(), from); err != nil {
		return err
	}
	f.gapAt = 0
	f.log.WithField("from", from).Info("projection rebuild scheduled")
	f.Wake()
	return nil
}

// CatchUp applies batches until the follower reaches the ledger head or ctx ends.
func (f *Follower) CatchUp(ctx context.Context) error {
	for {
		n, err := f.Step(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Status reports the follower's cursor against the ledger head.
func (f *Follower) Status(ctx context.Context) (Status, error) {
	cursor, err := f.cursors.Load(ctx, f.Name())
	if err != nil {
		return Status{}, err
	}
	max, err := f.ledger.MaxOffset(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Name: f.Name(), Cursor: cursor, MaxOffset: max, Lag: max - cursor}, nil
}
