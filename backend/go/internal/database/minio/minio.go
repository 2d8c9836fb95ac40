package minio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	client  *minio.Client
	bucket  string
	once    sync.Once
	initErr error
)

// GetClient 以单例方式返回 MinIO 客户端, 并确保归档存储桶存在。
func GetClient(cfg *config.MinIOConfig) (*minio.Client, error) {
	once.Do(func() {
		if cfg.Bucket == "" {
			initErr = fmt.Errorf("未配置 MinIO 归档存储桶")
			return
		}
		c, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
		})
		if err != nil {
			initErr = fmt.Errorf("无法创建 MinIO 客户端: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := EnsureBucket(ctx, c, cfg.Bucket); err != nil {
			initErr = err
			return
		}
		client, bucket = c, cfg.Bucket
	})
	return client, initErr
}

// EnsureBucket 存储桶不存在时创建它。
func EnsureBucket(ctx context.Context, c *minio.Client, name string) error {
	exists, err := c.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("检查存储桶 '%s' 失败: %w", name, err)
	}
	if exists {
		return nil
	}
	if err := c.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("创建存储桶 '%s' 失败: %w", name, err)
	}
	return nil
}

// HealthCheck 检查归档存储桶是否仍然可访问。
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("MinIO 客户端未初始化")
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("MinIO 健康检查失败: %w", err)
	}
	if !exists {
		return fmt.Errorf("归档存储桶 '%s' 不存在", bucket)
	}
	return nil
}
