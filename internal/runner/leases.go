package runner

import (
	"context"
	"strings"
	"sync"
)

// Leases hands out exclusive use of a credential pair, so at most one run
// drives a given (host, username) session at a time.
type Leases struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLeases() *Leases {
	return &Leases{slots: map[string]chan struct{}{}}
}

func LeaseKey(host, username string) string {
	host = strings.TrimRight(strings.ToLower(strings.TrimSpace(host)), "/")
	return host + "|" + strings.ToLower(strings.TrimSpace(username))
}

func (l *Leases) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}

// Acquire blocks until the key is free or ctx is done, the returned function
// releases the lease and must be called exactly once.
func (l *Leases) Acquire(ctx context.Context, key string) (func(), error) {
	slot := l.slot(key)
	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-slot })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Held reports if the key is currently leased.
func (l *Leases) Held(key string) bool {
	return len(l.slot(key)) > 0
}
