// Package etcd registers service instances under leased etcd keys so that
// clients can find a running knowledge graph service.
package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// DefaultPrefix is the key prefix the service and its clients agree on.
	DefaultPrefix = "/services"
	// ServiceHTTP is the name HTTP API instances register under.
	ServiceHTTP = "legisgraph-http"
)

// Registry stores instance addresses as /<prefix>/<service>/<addr>.
type Registry struct {
	cli    *clientv3.Client
	prefix string
}

// NewRegistry wraps an existing client. The caller keeps ownership of cli.
func NewRegistry(cli *clientv3.Client, prefix string) *Registry {
	return &Registry{cli: cli, prefix: "/" + strings.Trim(prefix, "/")}
}

// Key returns the etcd key of one instance.
func (r *Registry) Key(service, addr string) string {
	return r.servicePrefix(service) + addr
}

func (r *Registry) servicePrefix(service string) string {
	return r.prefix + "/" + service + "/"
}

// Register puts addr under a lease kept alive until ctx is done, then
// deletes the key. The returned channel is closed once the key is gone.
func (r *Registry) Register(ctx context.Context, service, addr string, ttl time.Duration) (<-chan struct{}, error) {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	lease, err := r.cli.Grant(ctx, secs)
	if err != nil {
		return nil, fmt.Errorf("failed to grant lease for %s: %w", service, err)
	}
	key := r.Key(service, addr)
	if _, err := r.cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", key, err)
	}
	keepAlive, err := r.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to keep lease of %s alive: %w", key, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range keepAlive {
		}
		// The lease channel closes when ctx is done or the lease is lost.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = r.cli.Revoke(cctx, lease.ID)
	}()
	return done, nil
}

// Discover lists the registered addresses of service.
func (r *Registry) Discover(ctx context.Context, service string) ([]string, error) {
	resp, err := r.cli.Get(ctx, r.servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s: %w", service, err)
	}
	addrs := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addrs = append(addrs, string(kv.Value))
	}
	return addrs, nil
}
