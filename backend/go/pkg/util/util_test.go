package util

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Put("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Errorf("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("expected a to survive, got %v %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Errorf("removed entry still present")
	}
}

func TestLRUExpiresEntries(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRU[string, int](4, time.Minute)
	c.now = func() time.Time { return clock }
	c.Put("a", 1)
	clock = clock.Add(30 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("entry expired too early")
	}
	clock = clock.Add(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Errorf("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped on access")
	}
}

func TestScalableBloomFilterGrows(t *testing.T) {
	f := NewScalableBloomFilter(16, 0.01)
	for i := 0; i < 100; i++ {
		f.Add(fmt.Sprintf("key-%d", i))
	}
	for i := 0; i < 100; i++ {
		if !f.MayContain(fmt.Sprintf("key-%d", i)) {
			t.Fatalf("false negative for key-%d", i)
		}
	}
	if f.Filters() < 2 {
		t.Errorf("expected the filter to grow, got %d sub-filters", f.Filters())
	}
	misses := 0
	for i := 0; i < 1000; i++ {
		if !f.MayContain(fmt.Sprintf("other-%d", i)) {
			misses++
		}
	}
	if misses < 900 {
		t.Errorf("false positive rate too high: %d/1000 misses", misses)
	}
}
