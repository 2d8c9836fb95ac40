package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/database/etcd"
	discovery "LegisGraph/backend/go/internal/discovery/etcd"
	"LegisGraph/backend/go/internal/kgclient"
	kgmcp "LegisGraph/backend/go/internal/mcp"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

const defaultServer = "http://localhost:8080"

func main() {
	level := logrus.WarnLevel
	if v := os.Getenv("KG_LOG_LEVEL"); v != "" {
		level = logger.ParseLevel(v)
	}
	// stdout 属于 MCP 协议, 日志只能写到 stderr。
	logger.InitWithOutput(level, os.Stderr)
	mcpLogger := logger.New("KGMCPServer", "", "")

	addr, err := serverAddress()
	if err != nil {
		log.Fatalf("failed to locate knowledge graph service: %v", err)
	}
	breaker := config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 5, SuccessThreshold: 1, Timeout: "10s"}
	client, err := kgclient.New(addr, breaker, 30*time.Second)
	if err != nil {
		log.Fatalf("failed to create knowledge graph client: %v", err)
	}

	s := kgmcp.NewServer("legisgraph", "0.1.0", kgmcp.NewTools(client, mcpLogger))
	mcpLogger.WithField("server", addr).Info("starting knowledge graph MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("Server error: %v\n", err)
	}
}

// serverAddress 优先使用 KG_SERVER; 否则在 KG_ETCD 指定的 etcd 中查找已注册的实例。
func serverAddress() (string, error) {
	if addr := os.Getenv("KG_SERVER"); addr != "" {
		return addr, nil
	}
	endpoints := os.Getenv("KG_ETCD")
	if endpoints == "" {
		return defaultServer, nil
	}
	cli, err := etcd.GetClient(&config.EtcdConfig{Endpoints: strings.Split(endpoints, ",")})
	if err != nil {
		return "", err
	}
	defer etcd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addrs, err := discovery.NewRegistry(cli, discovery.DefaultPrefix).Discover(ctx, discovery.ServiceHTTP)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no %s instance is registered", discovery.ServiceHTTP)
	}
	return addrs[0], nil
}
