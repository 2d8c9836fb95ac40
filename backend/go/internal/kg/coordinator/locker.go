package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"LegisGraph/backend/go/internal/config"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/go-redis/redis/v8"
)

// Locker hands out the per-entity exclusive token.
// Lock blocks until the token is held or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NewLocker builds the locker selected by cfg.LockBackend.
// rdb and etcd may be nil when their backend is not selected.
func NewLocker(cfg config.CoordinatorConfig, rdb redis.UniversalClient, etcd *clientv3.Client) (Locker, error) {
	switch cfg.LockBackend {
	case "", "local":
		return NewLocalLocker(), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis lock backend selected but no redis client configured")
		}
		return NewRedisLocker(rdb, cfg.LockPrefix, cfg.LockTTL.Std()), nil
	case "etcd":
		if etcd == nil {
			return nil, fmt.Errorf("etcd lock backend selected but no etcd client configured")
		}
		return NewEtcdLocker(etcd, cfg.LockPrefix, cfg.LockTTL.Std()), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

// LockAll takes the tokens of every key in sorted order, so two callers
// locking overlapping sets cannot deadlock.
func LockAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *LocalLocker) release(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
