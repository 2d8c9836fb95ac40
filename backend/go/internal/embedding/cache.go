package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync/atomic"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"
	"LegisGraph/backend/go/pkg/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheStats 是缓存命中情况的快照。
type CacheStats struct {
	MemoryHits int64 `json:"memoryHits"`
	StoreHits  int64 `json:"storeHits"`
	Computed   int64 `json:"computed"`
	Entries    int   `json:"entries"`
}

// Cache 是按 sha256(model, text) 寻址的 embedding 缓存。查找顺序为进程内 LRU、
// embedding_cache 表 (布隆过滤器判定一定不存在时跳过) 和底层模型。
// 相同文本在同一模型下只会计算一次。
type Cache struct {
	inner Embedding
	db    *gorm.DB
	lru   *util.LRU[string, []float32]
	seen  *util.ScalableBloomFilter
	log   *logger.Logger

	memoryHits atomic.Int64
	storeHits  atomic.Int64
	computed   atomic.Int64
}

// NewCache 包装 inner。capacity 是进程内 LRU 的条目数。
func NewCache(inner Embedding, db *gorm.DB, capacity int, log *logger.Logger) *Cache {
	return &Cache{
		inner: inner,
		db:    db,
		lru:   util.NewLRU[string, []float32](capacity, 0),
		seen:  util.NewScalableBloomFilter(uint(capacity), 0.01),
		log:   log.Component("embedding-cache").WithField("model", inner.Model()),
	}
}

// Key 返回 text 在 model 下的缓存键。
func Key(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Model 实现 Embedding。
func (c *Cache) Model() string { return c.inner.Model() }

// Warm 把已持久化的键载入布隆过滤器, 重启后仍能命中 embedding_cache 表。
func (c *Cache) Warm(ctx context.Context) error {
	var keys []string
	err := c.db.WithContext(ctx).Model(&models.EmbeddingRecord{}).
		Where("model = ?", c.Model()).Pluck("content_hash", &keys).Error
	if err != nil {
		return kgerrors.Transient(err, "load embedding cache keys")
	}
	for _, k := range keys {
		c.seen.Add(k)
	}
	c.log.WithField("keys", len(keys)).Info("embedding cache warmed")
	return nil
}

// Embed 实现 Embedding。
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch 实现 Embedding。
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := c.Model()
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	pending := make(map[string][]int)
	var maybeStored []string
	for i, text := range texts {
		keys[i] = Key(model, text)
		if v, ok := c.lru.Get(keys[i]); ok {
			out[i] = v
			c.memoryHits.Add(1)
			continue
		}
		if _, ok := pending[keys[i]]; !ok && c.seen.MayContain(keys[i]) {
			maybeStored = append(maybeStored, keys[i])
		}
		pending[keys[i]] = append(pending[keys[i]], i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	if len(maybeStored) > 0 {
		var records []models.EmbeddingRecord
		if err := c.db.WithContext(ctx).Where("content_hash IN ?", maybeStored).Find(&records).Error; err != nil {
			return nil, kgerrors.Transient(err, "read embedding cache")
		}
		for _, r := range records {
			vec, err := decodeVector(r.Vector, r.Dim)
			if err != nil {
				c.log.WithField("key", r.ContentHash).Warn("discarding corrupt cached embedding")
				continue
			}
			c.lru.Put(r.ContentHash, vec)
			for _, i := range pending[r.ContentHash] {
				out[i] = vec
			}
			c.storeHits.Add(int64(len(pending[r.ContentHash])))
			delete(pending, r.ContentHash)
		}
	}
	if len(pending) == 0 {
		return out, nil
	}

	missing := make([]string, 0, len(pending))
	missingKeys := make([]string, 0, len(pending))
	for i, k := range keys {
		if idx, ok := pending[k]; ok && idx[0] == i {
			missing = append(missing, texts[i])
			missingKeys = append(missingKeys, k)
		}
	}
	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, kgerrors.Transient(err, "compute embeddings")
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedding model returned %d vectors for %d texts", len(vecs), len(missing))
	}

	records := make([]models.EmbeddingRecord, len(vecs))
	for j, vec := range vecs {
		records[j] = models.EmbeddingRecord{ContentHash: missingKeys[j], Model: model, Dim: len(vec), Vector: encodeVector(vec)}
		for _, i := range pending[missingKeys[j]] {
			out[i] = vec
		}
	}
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(records, 100).Error; err != nil {
		return nil, kgerrors.Transient(err, "write embedding cache")
	}
	for j, vec := range vecs {
		c.seen.Add(missingKeys[j])
		c.lru.Put(missingKeys[j], vec)
	}
	c.computed.Add(int64(len(vecs)))
	return out, nil
}

// Stats 返回命中统计。
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		MemoryHits: c.memoryHits.Load(),
		StoreHits:  c.storeHits.Load(),
		Computed:   c.computed.Load(),
		Entries:    c.lru.Len(),
	}
}

// encodeVector 以小端 float32 存储向量。
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dim int) ([]float32, error) {
	if len(buf) != 4*dim {
		return nil, fmt.Errorf("vector blob has %d bytes, want %d", len(buf), 4*dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
