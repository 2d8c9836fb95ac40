package follower

import (
	"context"
	"errors"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/internal/testutil"
	"LegisGraph/backend/go/pkg/circuitbreaker"
)

// sliceLedger serves Since from a fixed slice; other methods are not used.
type sliceLedger struct {
	ledger.Store
	facts []models.Fact
}

func (l *sliceLedger) Since(_ context.Context, offset int64, limit int) ([]models.Fact, error) {
	var out []models.Fact
	for _, f := range l.facts {
		if f.Offset > offset && len(out) < limit {
			out = append(out, f)
		}
	}
	return out, nil
}

func (l *sliceLedger) MaxOffset(context.Context) (int64, error) {
	if len(l.facts) == 0 {
		return 0, nil
	}
	return l.facts[len(l.facts)-1].Offset, nil
}

type recordingHandler struct {
	seen     []int64
	failures int
	resets   int
}

func (h *recordingHandler) Name() string { return "test" }

func (h *recordingHandler) Handle(_ context.Context, facts []models.Fact) error {
	if h.failures > 0 {
		h.failures--
		return errors.New("graph store unavailable")
	}
	for _, f := range facts {
		h.seen = append(h.seen, f.Offset)
	}
	return nil
}

func (h *recordingHandler) Reset(context.Context) error {
	h.resets++
	h.seen = nil
	return nil
}

func offsets(ids ...int64) []models.Fact {
	out := make([]models.Fact, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Fact{Offset: id})
	}
	return out
}

func testConfig() config.FollowerConfig {
	return config.FollowerConfig{
		BatchSize:      2,
		PollInterval:   config.Duration(10 * time.Millisecond),
		GapTimeout:     config.Duration(time.Hour),
		InitialBackoff: config.Duration(time.Millisecond),
		MaxBackoff:     config.Duration(5 * time.Millisecond),
	}
}

func TestCatchUpAdvancesCursorInBatches(t *testing.T) {
	ctx := context.Background()
	h := &recordingHandler{failures: 2}
	cursors := NewGormCursorStore(testutil.DB(t))
	f := New(&sliceLedger{facts: offsets(1, 2, 3, 4, 5)}, cursors, h, testConfig(), nil, testutil.Logger(t))

	if err := f.CatchUp(ctx); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if len(h.seen) != 5 || h.seen[4] != 5 {
		t.Errorf("expected offsets 1..5, got %v", h.seen)
	}
	st, _ := f.Status(ctx)
	if st.Cursor != 5 || st.Lag != 0 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestGapIsWaitedForThenSkipped(t *testing.T) {
	ctx := context.Background()
	h := &recordingHandler{}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.GapTimeout = config.Duration(10 * time.Second)
	f := New(&sliceLedger{facts: offsets(1, 2, 4, 5)}, NewGormCursorStore(testutil.DB(t)), h, cfg, nil, testutil.Logger(t))
	f.now = func() time.Time { return clock }

	n, err := f.Step(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first step: n=%d err=%v", n, err)
	}
	n, _ = f.Step(ctx)
	if n != 0 {
		t.Fatalf("expected to wait for offset 3, applied %d", n)
	}
	clock = clock.Add(11 * time.Second)
	n, _ = f.Step(ctx)
	if n != 2 {
		t.Fatalf("expected gap to be skipped after timeout, applied %d", n)
	}
	if got := h.seen; len(got) != 4 || got[2] != 4 {
		t.Errorf("unexpected applied offsets %v", got)
	}
}

func TestOpenBreakerStopsRetrying(t *testing.T) {
	ctx := context.Background()
	h := &recordingHandler{failures: 100}
	breaker := circuitbreaker.New(1, 1, time.Hour)
	f := New(&sliceLedger{facts: offsets(1)}, NewGormCursorStore(testutil.DB(t)), h, testConfig(), breaker, testutil.Logger(t))

	if _, err := f.Step(ctx); !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if h.failures != 99 {
		t.Errorf("expected a single handler call before the breaker opened, got %d", 100-h.failures)
	}
	st, _ := f.Status(ctx)
	if st.Cursor != 0 {
		t.Errorf("cursor must not advance on failure, got %d", st.Cursor)
	}
}

func TestRebuildFromZeroResetsAndReplays(t *testing.T) {
	ctx := context.Background()
	h := &recordingHandler{}
	f := New(&sliceLedger{facts: offsets(1, 2, 3)}, NewGormCursorStore(testutil.DB(t)), h, testConfig(), nil, testutil.Logger(t))

	_ = f.CatchUp(ctx)
	if err := f.Rebuild(ctx, 0); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if h.resets != 1 || len(h.seen) != 0 {
		t.Fatalf("expected reset before replay, resets=%d seen=%v", h.resets, h.seen)
	}
	_ = f.CatchUp(ctx)
	if len(h.seen) != 3 {
		t.Errorf("expected full replay, got %v", h.seen)
	}

	if err := f.Rebuild(ctx, 2); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	_ = f.CatchUp(ctx)
	if h.resets != 1 || len(h.seen) != 4 || h.seen[3] != 3 {
		t.Errorf("partial rebuild should replay only offset 3, got %v", h.seen)
	}
}
