// Package lock provides per-receipt mutual exclusion for the lifecycle
// service. A Locker serializes the read-modify-write of one phase; it is
// never held across a ledger call.
package lock

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Locker runs fn while holding every key. Implementations acquire keys in
// sorted order so that two callers naming overlapping sets cannot deadlock.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(context.Context) error) error
}

// Lock errors.
var (
	ErrNoKeys   = errors.New("lock: at least one key is required")
	ErrEmptyKey = errors.New("lock: key cannot be empty")
	ErrNilFn    = errors.New("lock: function is nil")
)

// ReceiptKey returns the lock key for a receipt id.
func ReceiptKey(id string) string { return "receipt:" + id }

// ReceiptKeys returns the lock keys for ids.
func ReceiptKeys(ids ...string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ReceiptKey(id)
	}
	return keys
}

// normalize sorts and de-duplicates keys.
func normalize(keys []string, fn func(context.Context) error) ([]string, error) {
	if fn == nil {
		return nil, ErrNilFn
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			return nil, ErrEmptyKey
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Local is an in-process keyed mutex. The zero value is not usable; call
// NewLocal.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns an empty in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// WithLock implements Locker.
func (l *Local) WithLock(ctx context.Context, keys []string, fn func(context.Context) error) error {
	keys, err := normalize(keys, fn)
	if err != nil {
		return err
	}
	held := make([]string, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}()
	for _, k := range keys {
		if err := l.acquire(ctx, k); err != nil {
			return err
		}
		held = append(held, k)
	}
	return fn(ctx)
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(l.slots, key)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	<-s.ch
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many keys currently have a slot. Used by tests.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
