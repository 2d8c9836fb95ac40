package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdLocker implements Locker with etcd's lease-backed mutex.
// One session is shared by all locks and recreated when its lease is lost.
type EtcdLocker struct {
	client *clientv3.Client
	prefix string
	ttl    int

	mu      sync.Mutex
	session *concurrency.Session
}

func NewEtcdLocker(client *clientv3.Client, prefix string, ttl time.Duration) *EtcdLocker {
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &EtcdLocker{client: client, prefix: prefix, ttl: secs}
}

func (l *EtcdLocker) currentSession() (*concurrency.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		select {
		case <-l.session.Done():
			l.session = nil
		default:
			return l.session, nil
		}
	}
	s, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("create etcd session: %w", err)
	}
	l.session = s
	return s, nil
}

// Lock implements Locker.
func (l *EtcdLocker) Lock(ctx context.Context, key string) (func(), error) {
	s, err := l.currentSession()
	if err != nil {
		return nil, err
	}
	m := concurrency.NewMutex(s, "/"+l.prefix+key)
	if err := m.Lock(ctx); err != nil {
		return nil, fmt.Errorf("acquire etcd lock %s: %w", key, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = m.Unlock(ctx)
		})
	}, nil
}

// Close revokes the shared session lease.
func (l *EtcdLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil
	}
	err := l.session.Close()
	l.session = nil
	return err
}
