package ingest

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	pending []int64
	done    map[int64]bool
}

// offsetTracker finds, per partition, the highest offset below which every
// fetched message has completed. Only that offset may be committed.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[partitionKey]*partitionOffsets)}
}

// Track registers a fetched message. Messages of one partition must be tracked
// in fetch order.
func (t *offsetTracker) Track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partitionKey{msg.Topic, msg.Partition}
	p, ok := t.parts[k]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.parts[k] = p
	}
	p.pending = append(p.pending, msg.Offset)
}

// Complete marks msg done. When the contiguous completed prefix of its
// partition grew, it returns the message to commit.
func (t *offsetTracker) Complete(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[partitionKey{msg.Topic, msg.Partition}]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[msg.Offset] = true
	last, advanced := int64(-1), false
	for len(p.pending) > 0 && p.done[p.pending[0]] {
		last = p.pending[0]
		delete(p.done, last)
		p.pending = p.pending[1:]
		advanced = true
	}
	if !advanced {
		return kafka.Message{}, false
	}
	return kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: last}, true
}

// Pending returns the number of fetched but uncommitted messages.
func (t *offsetTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.parts {
		n += len(p.pending)
	}
	return n
}
