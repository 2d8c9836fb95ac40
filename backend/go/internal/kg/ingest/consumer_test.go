package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/internal/testutil"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu      sync.Mutex
	commits []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *fakeReader) committed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := int64(-1)
	for _, m := range r.commits {
		if m.Offset < last {
			return -2
		}
		last = m.Offset
	}
	return last
}

// scripted fails candidates according to their source id.
type scripted struct{}

func (scripted) Process(_ context.Context, c models.Candidate) (Outcome, error) {
	switch c.SourceID {
	case "flaky", "broken":
		return Outcome{}, kgerrors.Transient(errors.New("connection reset"), "append fact")
	case "invalid":
		return Outcome{}, kgerrors.Invalid(errors.New("attribute not allowed"))
	}
	return Outcome{EntityID: "e1"}, nil
}

func candidateMessage(t *testing.T, offset int64, source string, attempt string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.Candidate{Type: models.Topic, NaturalKey: "topic:" + source, SourceID: source, ObservedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{
		Topic: "cands", Partition: 0, Offset: offset, Key: []byte(source), Value: value,
		Headers: []kafka.Header{{Key: HeaderAttempt, Value: []byte(attempt)}},
	}
}

func TestConsumerRequeuesAndDeadLetters(t *testing.T) {
	w := &fakeWriter{}
	reader := &fakeReader{msgs: make(chan kafka.Message, 8)}
	cfg := config.IngestionConfig{Workers: 3, MaxAttempts: 2, CandidateTimeout: config.Duration(time.Second)}
	c := NewConsumer(reader, newPublisher(t, w), scripted{}, cfg, testutil.Logger(t))

	reader.msgs <- candidateMessage(t, 0, "ok", "1")
	reader.msgs <- candidateMessage(t, 1, "flaky", "1")
	reader.msgs <- candidateMessage(t, 2, "broken", "2")
	reader.msgs <- candidateMessage(t, 3, "invalid", "1")
	reader.msgs <- kafka.Message{Topic: "cands", Partition: 0, Offset: 4, Key: []byte("junk"), Value: []byte("{not json")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for reader.committed() < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := reader.committed(); got != 4 {
		t.Fatalf("expected offsets committed in order up to 4, got %d", got)
	}

	byKey := map[string]kafka.Message{}
	for _, m := range w.written() {
		byKey[string(m.Key)] = m
	}
	if len(byKey) != 3 {
		t.Fatalf("expected 3 forwarded messages, got %d", len(w.written()))
	}
	if m := byKey["flaky"]; m.Topic != "cands" || Attempt(m) != 2 {
		t.Errorf("flaky candidate should be requeued as attempt 2, got topic=%s attempt=%d", m.Topic, Attempt(m))
	}
	if m := byKey["broken"]; m.Topic != "dlq" || Attempt(m) != 2 {
		t.Errorf("exhausted candidate should be dead-lettered, got topic=%s attempt=%d", m.Topic, Attempt(m))
	}
	if m := byKey["junk"]; m.Topic != "dlq" {
		t.Errorf("undecodable message should be dead-lettered, got topic=%s", m.Topic)
	}
}

func TestConsumerHoldsCommitWhenRequeueFails(t *testing.T) {
	w := &fakeWriter{alwaysFail: true}
	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	cfg := config.IngestionConfig{Workers: 1, MaxAttempts: 3, CandidateTimeout: config.Duration(time.Second)}
	c := NewConsumer(reader, newPublisher(t, w), scripted{}, cfg, testutil.Logger(t))

	reader.msgs <- candidateMessage(t, 0, "flaky", "1")
	reader.msgs <- candidateMessage(t, 1, "ok", "1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for c.tracker.Pending() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if got := reader.committed(); got != -1 {
		t.Errorf("nothing may be committed past an unrequeued candidate, got offset %d", got)
	}
}

func TestOffsetTrackerCommitsContiguousPrefix(t *testing.T) {
	tr := newOffsetTracker()
	msg := func(o int64) kafka.Message { return kafka.Message{Topic: "cands", Partition: 1, Offset: o} }
	for _, o := range []int64{10, 11, 12} {
		tr.Track(msg(o))
	}
	if _, ok := tr.Complete(msg(11)); ok {
		t.Fatalf("offset 11 must wait for 10")
	}
	if m, ok := tr.Complete(msg(10)); !ok || m.Offset != 11 {
		t.Fatalf("expected commit up to 11, got %v %v", m.Offset, ok)
	}
	if m, ok := tr.Complete(msg(12)); !ok || m.Offset != 12 || m.Partition != 1 {
		t.Fatalf("expected commit up to 12, got %+v %v", m, ok)
	}
	if tr.Pending() != 0 {
		t.Errorf("expected nothing pending, got %d", tr.Pending())
	}
}
