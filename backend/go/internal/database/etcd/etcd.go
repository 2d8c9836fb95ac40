package etcd

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/config"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var (
	client  *clientv3.Client
	once    sync.Once
	initErr error
)

// GetClient 使用单例模式初始化并返回一个 etcd 客户端实例。
func GetClient(cfg *config.EtcdConfig) (*clientv3.Client, error) {
	once.Do(func() {
		if len(cfg.Endpoints) == 0 {
			initErr = fmt.Errorf("未配置 etcd endpoints")
			return
		}
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Endpoints,
			Username:    cfg.Username,
			Password:    cfg.Password,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			initErr = fmt.Errorf("无法连接到 etcd: %w", err)
			return
		}
		log.Println("✅ 成功连接到 etcd!")
		client = cli
	})
	return client, initErr
}

// Close 关闭 etcd 客户端。
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// HealthCheck 通过查询第一个节点的状态检查 etcd 的健康状况。
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("etcd 客户端未初始化")
	}
	endpoints := client.Endpoints()
	if len(endpoints) == 0 {
		return fmt.Errorf("etcd 没有可用节点")
	}
	if _, err := client.Status(ctx, endpoints[0]); err != nil {
		return fmt.Errorf("etcd 健康检查失败: %w", err)
	}
	return nil
}
