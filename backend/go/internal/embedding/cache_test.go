package embedding

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/testutil"
)

type countingEmbedder struct {
	mu    sync.Mutex
	texts []string
	fail  bool
}

func (e *countingEmbedder) Model() string { return "test/len" }

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, errors.New("model offline")
	}
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0.5, -1}
	}
	return out, nil
}

func (e *countingEmbedder) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func TestCacheComputesEachTextOnce(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	c := NewCache(inner, testutil.DB(t), 16, testutil.Logger(t))

	first, err := c.EmbedBatch(ctx, []string{"budget", "farm bill", "budget"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got := inner.calls(); !reflect.DeepEqual(got, []string{"budget", "farm bill"}) {
		t.Errorf("expected duplicates in one batch to be embedded once, got %v", got)
	}
	if !reflect.DeepEqual(first[0], first[2]) || first[1][0] != 9 {
		t.Errorf("unexpected vectors %v", first)
	}

	again, err := c.Embed(ctx, "farm bill")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !reflect.DeepEqual(again, first[1]) || len(inner.calls()) != 2 {
		t.Errorf("second lookup should be served from memory")
	}
	if s := c.Stats(); s.Computed != 2 || s.MemoryHits != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestCacheSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	first := NewCache(&countingEmbedder{}, db, 16, testutil.Logger(t))
	want, err := first.Embed(ctx, "a bill to reauthorize the farm program")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	inner := &countingEmbedder{fail: true}
	restarted := NewCache(inner, db, 16, testutil.Logger(t))
	if err := restarted.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	got, err := restarted.Embed(ctx, "a bill to reauthorize the farm program")
	if err != nil {
		t.Fatalf("stored embedding should not need the model: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decoded vector %v differs from %v", got, want)
	}
	if restarted.Stats().StoreHits != 1 {
		t.Errorf("expected a store hit, got %+v", restarted.Stats())
	}

	if _, err := restarted.Embed(ctx, "something new"); !kgerrors.IsTransient(err) {
		t.Errorf("model failures should be transient, got %v", err)
	}
}

func TestKeyDependsOnModel(t *testing.T) {
	if Key("a", "text") == Key("b", "text") {
		t.Errorf("keys must differ across models")
	}
	if Key("a", "text") != Key("a", "text") {
		t.Errorf("keys must be deterministic")
	}
}
