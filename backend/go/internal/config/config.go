package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 是可以从 YAML 字符串 (例如 "30s", "5m") 解析的时间间隔。
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("无效的时间间隔 '%s': %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 返回标准库的 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// IndexConfig 定义了 Milvus 集合中索引的配置。
type IndexConfig struct {
	IndexType  string                 `yaml:"indexType"`  // 索引类型 (例如: "IVF_FLAT", "HNSW")
	MetricType string                 `yaml:"metricType"` // 相似度度量类型 (例如: "L2", "COSINE")
	Params     map[string]interface{} `yaml:"params"`     // 索引参数 (例如: {"nlist": 128})
}

// MilvusConfig 定义了 Milvus 向量库的连接与集合配置。
type MilvusConfig struct {
	Address           string      `yaml:"address"`           // Milvus 服务地址
	CollectionName    string      `yaml:"collectionName"`    // 向量条目集合名称
	Dim               int         `yaml:"dim"`               // 向量维度, 必须与 embedding 模型一致
	Index             IndexConfig `yaml:"index"`             // 索引配置
	AutoFlushInterval Duration    `yaml:"autoFlushInterval"` // 自动 flush 间隔, 0 表示关闭
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号

	MasterName  string   `yaml:"masterName"`  // 哨兵模式的主节点名, 为空时不使用哨兵
	PoolSize    int      `yaml:"poolSize"`    // 连接池大小, 0 表示使用 go-redis 默认值
	DialTimeout Duration `yaml:"dialTimeout"` // 建连超时, 默认 5s
}

// MySQLConfig 定义了事实账本所在关系库的连接配置。
type MySQLConfig struct {
	Driver          string `yaml:"driver"`          // "mysql" (默认) 或 "sqlite" (本地模式)
	SQLitePath      string `yaml:"sqlitePath"`      // sqlite 文件路径, 仅 driver=sqlite 时使用
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务端点
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Bucket    string `yaml:"bucket"`    // 账本归档存储桶
	Secure    bool   `yaml:"secure"`    // 是否使用HTTPS
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address  string `yaml:"address"`  // MongoDB 服务器地址
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// Neo4jConfig 定义了 Neo4j 图数据库的连接配置。
type Neo4jConfig struct {
	Uri      string `yaml:"uri"`      // Neo4j 数据库URI (例如: "bolt://localhost:7687")
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// EtcdConfig 定义了 Etcd 的连接配置。
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"` // Etcd 节点地址列表
	Username  string   `yaml:"username"`  // 用户名
	Password  string   `yaml:"password"`  // 密码
}

// KafkaConfig 定义了候选队列所用 Kafka 的配置。
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`           // Kafka Broker 地址列表
	CandidateTopic    string   `yaml:"candidateTopic"`    // 候选消息主题
	DeadLetterTopic   string   `yaml:"deadLetterTopic"`   // 死信主题
	GroupID           string   `yaml:"groupID"`           // 消费者组
	Partitions        int      `yaml:"partitions"`        // 自动创建主题时的分区数
	ReplicationFactor int      `yaml:"replicationFactor"` // 自动创建主题时的副本数
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	Milvus  MilvusConfig `yaml:"milvus"`  // Milvus 数据库配置
	Redis   RedisConfig  `yaml:"redis"`   // Redis 数据库配置
	MySQL   MySQLConfig  `yaml:"mysql"`   // 事实账本数据库配置
	MinIO   MinIOConfig  `yaml:"minio"`   // MinIO 对象存储配置
	MongoDB MongoConfig  `yaml:"mongodb"` // MongoDB 数据库配置
	Neo4j   Neo4jConfig  `yaml:"neo4j"`   // Neo4j 数据库配置
	Etcd    EtcdConfig   `yaml:"etcd"`    // Etcd 配置
	Kafka   KafkaConfig  `yaml:"kafka"`   // Kafka 消息队列配置
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// EmbeddingConfig 定义了 embedding 提供商的配置。
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // 提供商: "ollama", "openai", "gemini"
	Model    string `yaml:"model"`    // 模型名称
	APIKey   string `yaml:"apiKey"`   // API 密钥
	BaseURL  string `yaml:"baseURL"`  // 服务地址 (可选)
}

// ServerConfig 定义了对外服务的监听配置。
type ServerConfig struct {
	HTTPAddress     string   `yaml:"httpAddress"`     // HTTP API 监听地址
	GRPCAddress     string   `yaml:"grpcAddress"`     // gRPC 健康检查监听地址, 为空则不启动
	ShutdownTimeout Duration `yaml:"shutdownTimeout"` // 优雅关闭超时
	AdvertiseAddr   string   `yaml:"advertiseAddr"`   // 注册到 etcd 的 HTTP 地址, 为空则不注册
	RegistrationTTL Duration `yaml:"registrationTTL"` // etcd 注册租约时长
}

// ResolverConfig 定义了实体解析的参数。
type ResolverConfig struct {
	// FuzzyThreshold 是模糊匹配的相似度阈值 (0-1]。0 表示关闭模糊匹配。
	FuzzyThreshold           float64 `yaml:"fuzzyThreshold"`
	MaxCandidates            int     `yaml:"maxCandidates"`            // 模糊匹配时最多比较的候选实体数
	DisambiguationCollection string  `yaml:"disambiguationCollection"` // 消歧请求所在的 MongoDB 集合
}

// SourcePriority 为某一类来源指定优先级。SourceID 以 Prefix 开头即匹配。
type SourcePriority struct {
	Prefix string `yaml:"prefix"`
	Rank   int    `yaml:"rank"`
}

// CoordinatorConfig 定义了一致性协调器的配置。
type CoordinatorConfig struct {
	LockBackend    string           `yaml:"lockBackend"`    // "local" (默认), "redis", "etcd"
	LockPrefix     string           `yaml:"lockPrefix"`     // 分布式锁的 key 前缀
	LockTTL        Duration         `yaml:"lockTTL"`        // 分布式锁的租约时长
	SourcePriority []SourcePriority `yaml:"sourcePriority"` // 来源优先级, 用于同时间戳冲突的裁决
}

// IngestionConfig 定义了候选消费的并发与重投递参数。
type IngestionConfig struct {
	Workers          int      `yaml:"workers"`          // 并发 worker 数
	CandidateTimeout Duration `yaml:"candidateTimeout"` // 单个候选的处理期限
	MaxAttempts      int      `yaml:"maxAttempts"`      // 超过后进入死信主题
	ReceiptTTL       Duration `yaml:"receiptTTL"`       // Redis 幂等快速路径的 key 过期时间
	PublishMaxTries  int      `yaml:"publishMaxTries"`  // 写入 Kafka 的最大尝试次数
	PublishBackoff   Duration `yaml:"publishBackoff"`   // 写入 Kafka 失败后的初始退避
}

// FollowerConfig 定义了投影器跟随账本的参数。
type FollowerConfig struct {
	BatchSize      int      `yaml:"batchSize"`      // 每批读取的事实数量
	PollInterval   Duration `yaml:"pollInterval"`   // 没有通知时的轮询间隔
	GapTimeout     Duration `yaml:"gapTimeout"`     // 等待乱序提交的偏移空洞的最长时间
	InitialBackoff Duration `yaml:"initialBackoff"` // 下游失败时的初始退避
	MaxBackoff     Duration `yaml:"maxBackoff"`     // 最大退避
}

// VectorConfig 定义了向量同步器的参数。
type VectorConfig struct {
	ChunkTokens   int `yaml:"chunkTokens"`   // 每个分块的 token 数
	ChunkOverlap  int `yaml:"chunkOverlap"`  // 分块之间重叠的 token 数
	MaxWords      int `yaml:"maxWords"`      // 嵌入前每个分块截断的词数
	CacheCapacity int `yaml:"cacheCapacity"` // 进程内 embedding LRU 容量
	DefaultK      int `yaml:"defaultK"`      // 语义搜索默认返回数量
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Algorithm      string               `yaml:"algorithm"` // 支持: "slidingCounter", "tokenBucket"
	SlidingCounter SlidingCounterConfig `yaml:"slidingCounter"`
	TokenBucket    TokenBucketConfig    `yaml:"tokenBucket"`
}

// SlidingCounterConfig 定义了滑动窗口计数器算法的配置。
type SlidingCounterConfig struct {
	Limit      int    `yaml:"limit"`
	Window     string `yaml:"window"`
	NumBuckets int    `yaml:"numBuckets"`
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App         AppInfo           `yaml:"app"`         // 应用程序信息
	Logger      LoggerConfig      `yaml:"logger"`      // 日志记录器配置
	Embedding   EmbeddingConfig   `yaml:"embedding"`   // Embedding 配置
	Databases   DatabaseConfigs   `yaml:"databases"`   // 数据库配置
	Middleware  MiddlewareConfig  `yaml:"middleware"`  // 中间件配置
	Server      ServerConfig      `yaml:"server"`      // 服务监听配置
	Resolver    ResolverConfig    `yaml:"resolver"`    // 实体解析配置
	Coordinator CoordinatorConfig `yaml:"coordinator"` // 一致性协调器配置
	Ingestion   IngestionConfig   `yaml:"ingestion"`   // 候选消费配置
	Follower    FollowerConfig    `yaml:"follower"`    // 投影跟随配置
	Vector      VectorConfig      `yaml:"vector"`      // 向量同步配置
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件，填充默认值并校验。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	return Parse(yamlFile)
}

// Parse 解析 YAML 内容。
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("无法解析 YAML 配置: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults 为未设置的字段填充默认值。
func (c *AppConfig) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "legisgraph"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Server.RegistrationTTL == 0 {
		c.Server.RegistrationTTL = Duration(10 * time.Second)
	}
	if c.Databases.MySQL.Driver == "" {
		c.Databases.MySQL.Driver = "mysql"
	}
	if c.Databases.Kafka.CandidateTopic == "" {
		c.Databases.Kafka.CandidateTopic = "kg.candidates"
	}
	if c.Databases.Kafka.DeadLetterTopic == "" {
		c.Databases.Kafka.DeadLetterTopic = "kg.candidates.dlq"
	}
	if c.Databases.Kafka.GroupID == "" {
		c.Databases.Kafka.GroupID = "kg-ingest"
	}
	if c.Databases.Kafka.Partitions == 0 {
		c.Databases.Kafka.Partitions = 6
	}
	if c.Databases.Kafka.ReplicationFactor == 0 {
		c.Databases.Kafka.ReplicationFactor = 1
	}
	if c.Databases.Milvus.CollectionName == "" {
		c.Databases.Milvus.CollectionName = "kg_vector_entries"
	}
	if c.Databases.Milvus.Index.IndexType == "" {
		c.Databases.Milvus.Index.IndexType = "IVF_FLAT"
	}
	if c.Databases.Milvus.Index.MetricType == "" {
		c.Databases.Milvus.Index.MetricType = "COSINE"
	}
	if c.Databases.MinIO.Bucket == "" {
		c.Databases.MinIO.Bucket = "kg-ledger-archive"
	}
	if c.Resolver.MaxCandidates == 0 {
		c.Resolver.MaxCandidates = 200
	}
	if c.Resolver.DisambiguationCollection == "" {
		c.Resolver.DisambiguationCollection = "disambiguation_requests"
	}
	if c.Coordinator.LockBackend == "" {
		c.Coordinator.LockBackend = "local"
	}
	if c.Coordinator.LockPrefix == "" {
		c.Coordinator.LockPrefix = "kg:lock:"
	}
	if c.Coordinator.LockTTL == 0 {
		c.Coordinator.LockTTL = Duration(30 * time.Second)
	}
	if c.Ingestion.Workers == 0 {
		c.Ingestion.Workers = 8
	}
	if c.Ingestion.CandidateTimeout == 0 {
		c.Ingestion.CandidateTimeout = Duration(15 * time.Second)
	}
	if c.Ingestion.MaxAttempts == 0 {
		c.Ingestion.MaxAttempts = 5
	}
	if c.Ingestion.ReceiptTTL == 0 {
		c.Ingestion.ReceiptTTL = Duration(24 * time.Hour)
	}
	if c.Ingestion.PublishMaxTries == 0 {
		c.Ingestion.PublishMaxTries = 5
	}
	if c.Ingestion.PublishBackoff == 0 {
		c.Ingestion.PublishBackoff = Duration(100 * time.Millisecond)
	}
	if c.Follower.BatchSize == 0 {
		c.Follower.BatchSize = 256
	}
	if c.Follower.PollInterval == 0 {
		c.Follower.PollInterval = Duration(2 * time.Second)
	}
	if c.Follower.GapTimeout == 0 {
		c.Follower.GapTimeout = Duration(10 * time.Second)
	}
	if c.Follower.InitialBackoff == 0 {
		c.Follower.InitialBackoff = Duration(200 * time.Millisecond)
	}
	if c.Follower.MaxBackoff == 0 {
		c.Follower.MaxBackoff = Duration(30 * time.Second)
	}
	if c.Vector.ChunkTokens == 0 {
		c.Vector.ChunkTokens = 512
	}
	if c.Vector.MaxWords == 0 {
		c.Vector.MaxWords = 512
	}
	if c.Vector.CacheCapacity == 0 {
		c.Vector.CacheCapacity = 4096
	}
	if c.Vector.DefaultK == 0 {
		c.Vector.DefaultK = 10
	}
}

// Validate 校验配置之间的约束。
func (c *AppConfig) Validate() error {
	if c.Resolver.FuzzyThreshold < 0 || c.Resolver.FuzzyThreshold > 1 {
		return fmt.Errorf("resolver.fuzzyThreshold 必须在 [0, 1] 之间, 当前为 %v", c.Resolver.FuzzyThreshold)
	}
	switch c.Coordinator.LockBackend {
	case "local", "redis", "etcd":
	default:
		return fmt.Errorf("不支持的 coordinator.lockBackend: %s", c.Coordinator.LockBackend)
	}
	switch strings.ToLower(c.Databases.MySQL.Driver) {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("不支持的 databases.mysql.driver: %s", c.Databases.MySQL.Driver)
	}
	if c.Vector.ChunkOverlap >= c.Vector.ChunkTokens {
		return fmt.Errorf("vector.chunkOverlap (%d) 必须小于 vector.chunkTokens (%d)", c.Vector.ChunkOverlap, c.Vector.ChunkTokens)
	}
	if c.Ingestion.Workers < 1 {
		return fmt.Errorf("ingestion.workers 必须大于 0")
	}
	return nil
}

// RankFor 返回 SourceID 对应的来源优先级。多个前缀匹配时取最长前缀。
func (c CoordinatorConfig) RankFor(sourceID string) int {
	best, bestLen := 0, -1
	for _, p := range c.SourcePriority {
		if strings.HasPrefix(sourceID, p.Prefix) && len(p.Prefix) > bestLen {
			best, bestLen = p.Rank, len(p.Prefix)
		}
	}
	return best
}
