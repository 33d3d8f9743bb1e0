// Package namedlock implements the named mutex registry (spec §3/§4.8): a
// process-wide map from string key to a single-permit semaphore, used to
// serialize cross-component critical sections keyed by a domain identifier
// (e.g. a scan root or job id).
package namedlock

import (
	"context"
	"sync"
	"time"
)

// permit is a 1-buffered channel acting as a single-permit semaphore that
// starts holding one token: a receive acquires the permit, a send releases
// it.
type permit chan struct{}

func newPermit() permit {
	p := make(permit, 1)
	p <- struct{}{}
	return p
}

// Registry is a process-wide String -> single-permit-semaphore map. Entries
// are created on first use and retained for the registry's lifetime,
// bounded by distinct-key cardinality (spec §9 "Global state"); callers
// needing eviction can wrap Registry with their own policy, since the
// contract does not require one.
type Registry struct {
	mu      sync.Mutex
	permits map[string]permit
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{permits: make(map[string]permit)}
}

// Default is the process-wide singleton registry, matching spec §4.8's
// "static map" framing; most callers should use it directly rather than
// constructing their own Registry, so that two independently-wired
// components guarding the same key actually serialize against each other.
var Default = NewRegistry()

func (r *Registry) permitFor(key string) permit {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.permits[key]
	if !ok {
		p = newPermit()
		r.permits[key] = p
	}
	return p
}

// TryWith runs action iff the permit for key is acquired within timeout.
// A timeout <= 0 waits until ctx is done. It returns whether action ran. The permit is released on every exit path
// from action, including a panic propagating out of action. There is no
// fairness guarantee across waiters and no reentrancy: a goroutine already
// holding key's permit that calls TryWith(key, ...) again will wait, and
// will likely time out against itself (spec §4.8).
func (r *Registry) TryWith(ctx context.Context, key string, timeout time.Duration, action func(ctx context.Context)) bool {
	p := r.permitFor(key)

	acquireCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-p:
	case <-acquireCtx.Done():
		return false
	}

	defer func() { p <- struct{}{} }()

	action(ctx)
	return true
}

// TryWith acquires the named permit from the default process-wide registry.
func TryWith(ctx context.Context, key string, timeout time.Duration, action func(ctx context.Context)) bool {
	return Default.TryWith(ctx, key, timeout, action)
}
