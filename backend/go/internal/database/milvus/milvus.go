package milvus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/config"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// 向量条目集合的字段名。
const (
	FieldID         = "id"
	FieldEntityID   = "entity_id"
	FieldEntityType = "entity_type"
	FieldFactID     = "fact_id"
	FieldAttribute  = "attribute"
	FieldValidFrom  = "valid_from"
	FieldRetiredAt  = "retired_at"
	FieldEmbedding  = "embedding"
)

var (
	instance *MilvusClient
	once     sync.Once
	initErr  error
)

// MilvusClient 封装了 Milvus 客户端及向量条目集合的配置。
type MilvusClient struct {
	Client          client.Client        // Milvus 客户端实例。
	Config          *config.MilvusConfig // Milvus 配置。
	cancelAutoFlush context.CancelFunc
	mu              sync.Mutex
}

// VectorRow 是写入集合的一行。时间字段为 Unix 微秒, RetiredAt 为 0 表示未退役。
type VectorRow struct {
	ID         string
	EntityID   string
	EntityType string
	FactID     string
	Attribute  string
	ValidFrom  int64
	RetiredAt  int64
	Embedding  []float32
}

// VectorHit 是一次搜索命中。
type VectorHit struct {
	ID         string
	EntityID   string
	EntityType string
	FactID     string
	Attribute  string
	RetiredAt  int64
	Score      float32
}

// GetClient 使用单例模式创建并返回一个 Milvus 客户端。
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (*MilvusClient, error) {
	once.Do(func() {
		c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
		if err != nil {
			initErr = fmt.Errorf("无法连接到 Milvus: %w", err)
			return
		}
		log.Println("✅ 成功连接到 Milvus!")
		instance = &MilvusClient{Client: c, Config: cfg}
	})
	return instance, initErr
}

// Close 关闭 Milvus 连接。
func (c *MilvusClient) Close() {
	if c.Client != nil {
		if err := c.Client.Close(); err != nil {
			log.Printf("关闭 Milvus 客户端失败: %v", err)
		}
	}
}

// HealthCheck 检查 Milvus 连接的健康状况。
func (c *MilvusClient) HealthCheck(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("Milvus client is nil")
	}
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("Milvus health check failed: %w", err)
	}
	return nil
}

// EnsureCollection 确保向量条目集合存在、已建索引并已加载。
func (c *MilvusClient) EnsureCollection(ctx context.Context) error {
	collName := c.Config.CollectionName
	exists, err := c.Client.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("检查集合是否存在时出错: %w", err)
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(collName).
			WithDescription("knowledge graph vector entries").
			WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(FieldEntityID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(FieldEntityType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
			WithField(entity.NewField().WithName(FieldFactID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(FieldAttribute).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
			WithField(entity.NewField().WithName(FieldValidFrom).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(FieldRetiredAt).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(c.Config.Dim)))

		if err := c.Client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("创建集合失败: %w", err)
		}
		idx, err := c.buildIndexFromConfig()
		if err != nil {
			return err
		}
		if err := c.Client.CreateIndex(ctx, collName, FieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("为字段 '%s' 创建索引失败: %w", FieldEmbedding, err)
		}
	}

	if err := c.Client.LoadCollection(ctx, collName, false); err != nil {
		return fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", collName, err)
	}
	return nil
}

// DropCollection 删除集合, 用于从零重建向量投影。
func (c *MilvusClient) DropCollection(ctx context.Context) error {
	collName := c.Config.CollectionName
	exists, err := c.Client.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("检查集合是否存在时出错: %w", err)
	}
	if !exists {
		return nil
	}
	if err := c.Client.DropCollection(ctx, collName); err != nil {
		return fmt.Errorf("删除集合 '%s' 失败: %w", collName, err)
	}
	return nil
}

// Upsert 按主键写入或覆盖一批向量条目。
func (c *MilvusClient) Upsert(ctx context.Context, rows []VectorRow) error {
	if len(rows) == 0 {
		return nil
	}
	n := len(rows)
	ids := make([]string, n)
	entityIDs := make([]string, n)
	entityTypes := make([]string, n)
	factIDs := make([]string, n)
	attrs := make([]string, n)
	validFrom := make([]int64, n)
	retiredAt := make([]int64, n)
	vectors := make([][]float32, n)
	for i, r := range rows {
		if len(r.Embedding) != c.Config.Dim {
			return fmt.Errorf("向量维度不匹配: 期望 %d, 实际 %d (id=%s)", c.Config.Dim, len(r.Embedding), r.ID)
		}
		ids[i], entityIDs[i], entityTypes[i], factIDs[i], attrs[i] = r.ID, r.EntityID, r.EntityType, r.FactID, r.Attribute
		validFrom[i], retiredAt[i], vectors[i] = r.ValidFrom, r.RetiredAt, r.Embedding
	}

	_, err := c.Client.Upsert(ctx, c.Config.CollectionName, "",
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnVarChar(FieldEntityID, entityIDs),
		entity.NewColumnVarChar(FieldEntityType, entityTypes),
		entity.NewColumnVarChar(FieldFactID, factIDs),
		entity.NewColumnVarChar(FieldAttribute, attrs),
		entity.NewColumnInt64(FieldValidFrom, validFrom),
		entity.NewColumnInt64(FieldRetiredAt, retiredAt),
		entity.NewColumnFloatVector(FieldEmbedding, c.Config.Dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("写入 Milvus 失败: %w", err)
	}
	return nil
}

// Search 在集合中执行带过滤表达式的相似度搜索。
func (c *MilvusClient) Search(ctx context.Context, vector []float32, topK int, expr string) ([]VectorHit, error) {
	sp, err := c.searchParam()
	if err != nil {
		return nil, err
	}
	outputFields := []string{FieldEntityID, FieldEntityType, FieldFactID, FieldAttribute, FieldRetiredAt}
	results, err := c.Client.Search(
		ctx,
		c.Config.CollectionName,
		nil,
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		FieldEmbedding,
		entity.MetricType(c.Config.Index.MetricType),
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus 搜索失败: %w", err)
	}

	var hits []VectorHit
	for _, res := range results {
		for i := 0; i < res.ResultCount; i++ {
			id, err := res.IDs.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("读取搜索结果 id 失败: %w", err)
			}
			hit := VectorHit{ID: id, Score: res.Scores[i]}
			for _, col := range res.Fields {
				switch col.Name() {
				case FieldEntityID:
					hit.EntityID, _ = col.GetAsString(i)
				case FieldEntityType:
					hit.EntityType, _ = col.GetAsString(i)
				case FieldFactID:
					hit.FactID, _ = col.GetAsString(i)
				case FieldAttribute:
					hit.Attribute, _ = col.GetAsString(i)
				case FieldRetiredAt:
					hit.RetiredAt, _ = col.GetAsInt64(i)
				}
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

// FlushCollection 手动触发一次刷新操作，将内存中的数据写入磁盘。
func (c *MilvusClient) FlushCollection(ctx context.Context) error {
	collName := c.Config.CollectionName
	if err := c.Client.Flush(ctx, collName, false); err != nil {
		return fmt.Errorf("刷新集合 '%s' 失败: %w", collName, err)
	}
	return nil
}

// StartAutoFlush 启动后台自动刷新任务。
func (c *MilvusClient) StartAutoFlush(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelAutoFlush != nil || interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelAutoFlush = cancel
	collName := c.Config.CollectionName

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := c.Client.Flush(flushCtx, collName, false); err != nil {
					log.Printf("❌ 自动刷新集合 '%s' 失败: %v", collName, err)
				}
				flushCancel()
			}
		}
	}()
}

// StopAutoFlush 停止后台自动刷新任务，并执行最后一次刷新。
func (c *MilvusClient) StopAutoFlush(ctx context.Context) {
	c.mu.Lock()
	cancel := c.cancelAutoFlush
	c.cancelAutoFlush = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if err := c.FlushCollection(ctx); err != nil {
		log.Printf("❌ 停止自动刷新时，最终刷新失败: %v", err)
	}
}

// buildIndexFromConfig 从配置构建向量索引。
func (c *MilvusClient) buildIndexFromConfig() (entity.Index, error) {
	indexCfg := c.Config.Index
	metricType := entity.MetricType(indexCfg.MetricType)

	switch indexCfg.IndexType {
	case "IVF_FLAT":
		return entity.NewIndexIvfFlat(metricType, intParam(indexCfg.Params, "nlist", 128))
	case "HNSW":
		return entity.NewIndexHNSW(metricType, intParam(indexCfg.Params, "M", 8), intParam(indexCfg.Params, "efConstruction", 96))
	case "IVF_SQ8":
		return entity.NewIndexIvfSQ8(metricType, intParam(indexCfg.Params, "nlist", 128))
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(metricType)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", indexCfg.IndexType)
	}
}

// searchParam 返回与索引类型匹配的搜索参数。
func (c *MilvusClient) searchParam() (entity.SearchParam, error) {
	params := c.Config.Index.Params
	switch c.Config.Index.IndexType {
	case "HNSW":
		return entity.NewIndexHNSWSearchParam(intParam(params, "ef", 64))
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEXSearchParam(1)
	default:
		return entity.NewIndexIvfFlatSearchParam(intParam(params, "nprobe", 16))
	}
}

func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key].(int); ok {
		return v
	}
	return def
}
