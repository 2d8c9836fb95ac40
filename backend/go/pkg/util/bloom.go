package util

import (
	"hash/fnv"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// bloomFilter 是固定容量的布隆过滤器。
type bloomFilter struct {
	m, k     uint
	bits     *bitset.BitSet
	count    uint
	capacity uint
	rate     float64
}

func newBloomFilter(capacity uint, rate float64) *bloomFilter {
	// m = -n*ln(p) / ln(2)^2, k = m/n * ln(2)
	m := uint(math.Ceil(-float64(capacity) * math.Log(rate) / (math.Ln2 * math.Ln2)))
	k := uint(math.Ceil(float64(m) / float64(capacity) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &bloomFilter{m: m, k: k, bits: bitset.New(m), capacity: capacity, rate: rate}
}

// positions 用双重哈希生成 k 个位置。
func (f *bloomFilter) positions(data []byte) []uint {
	h1 := fnv.New64a()
	h1.Write(data)
	a := h1.Sum64()
	h2 := fnv.New64()
	h2.Write(data)
	b := h2.Sum64()

	out := make([]uint, f.k)
	for i := uint(0); i < f.k; i++ {
		out[i] = uint((a + uint64(i)*b) % uint64(f.m))
	}
	return out
}

func (f *bloomFilter) add(data []byte) {
	for _, p := range f.positions(data) {
		f.bits.Set(p)
	}
	f.count++
}

func (f *bloomFilter) test(data []byte) bool {
	for _, p := range f.positions(data) {
		if !f.bits.Test(p) {
			return false
		}
	}
	return true
}

// ScalableBloomFilter 在当前子过滤器写满后追加一个容量翻倍、误报率收紧的子过滤器,
// 因此总体误报率在元素数量未知时也保持有界。并发安全。
type ScalableBloomFilter struct {
	mu      sync.RWMutex
	filters []*bloomFilter
}

const (
	bloomGrowth     = 2
	bloomTightening = 0.8
)

// NewScalableBloomFilter 创建初始容量为 capacity、目标误报率为 rate 的过滤器。
func NewScalableBloomFilter(capacity uint, rate float64) *ScalableBloomFilter {
	if capacity == 0 {
		capacity = 1024
	}
	if rate <= 0 || rate >= 1 {
		rate = 0.01
	}
	return &ScalableBloomFilter{filters: []*bloomFilter{newBloomFilter(capacity, rate*(1-bloomTightening))}}
}

// Add 记录 key。
func (s *ScalableBloomFilter) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.filters[len(s.filters)-1]
	if last.count >= last.capacity {
		last = newBloomFilter(last.capacity*bloomGrowth, last.rate*bloomTightening)
		s.filters = append(s.filters, last)
	}
	last.add([]byte(key))
}

// MayContain 为 false 时 key 一定未被添加过。
func (s *ScalableBloomFilter) MayContain(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := []byte(key)
	for i := len(s.filters) - 1; i >= 0; i-- {
		if s.filters[i].test(data) {
			return true
		}
	}
	return false
}

// Filters 返回子过滤器数量。
func (s *ScalableBloomFilter) Filters() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filters)
}
