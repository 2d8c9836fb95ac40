package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/config"

	"github.com/go-redis/redis/v8"
)

var (
	client  redis.UniversalClient
	once    sync.Once
	initErr error
)

// Options 把配置转换为 go-redis 的通用选项。
// Address 支持逗号分隔的多个地址, 多地址时按集群模式连接, 设置 MasterName 时按哨兵模式连接。
func Options(cfg *config.RedisConfig) *redis.UniversalOptions {
	var addrs []string
	for _, a := range strings.Split(cfg.Address, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	dialTimeout := cfg.DialTimeout.Std()
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &redis.UniversalOptions{
		Addrs:       addrs,
		MasterName:  cfg.MasterName,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: dialTimeout,
	}
}

// GetClient 以单例方式返回 Redis 客户端, 供幂等回执和实体锁共用。
func GetClient(cfg *config.RedisConfig) (redis.UniversalClient, error) {
	once.Do(func() {
		opts := Options(cfg)
		if len(opts.Addrs) == 0 {
			initErr = fmt.Errorf("redis 地址为空")
			return
		}
		rdb := redis.NewUniversalClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			initErr = fmt.Errorf("无法连接到 Redis %v: %w", opts.Addrs, err)
			return
		}
		client = rdb
	})
	return client, initErr
}

// Close 关闭单例连接。
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// HealthCheck 用 PING 检查连接。
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("redis 客户端未初始化")
	}
	return client.Ping(ctx).Err()
}
