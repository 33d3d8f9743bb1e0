package namedlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTryWith_RunsActionWhenUnheld(t *testing.T) {
	r := NewRegistry()
	ran := false
	ok := r.TryWith(context.Background(), "job-1", time.Second, func(ctx context.Context) {
		ran = true
	})
	if !ok {
		t.Fatal("expected TryWith to acquire the permit")
	}
	if !ran {
		t.Fatal("expected action to run")
	}
}

func TestTryWith_SerializesSameKey(t *testing.T) {
	r := NewRegistry()
	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.TryWith(context.Background(), "shared", time.Second, func(ctx context.Context) {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					old := atomic.LoadInt32(&maxConcurrent)
					if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
			})
		}()
	}
	wg.Wait()

	if maxConcurrent != 1 {
		t.Fatalf("observed %d concurrent holders of the same key, want 1", maxConcurrent)
	}
}

func TestTryWith_DifferentKeysDoNotSerialize(t *testing.T) {
	r := NewRegistry()
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make(chan bool, 2)

	for _, key := range []string{"a", "b"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok := r.TryWith(context.Background(), key, 200*time.Millisecond, func(ctx context.Context) {
				time.Sleep(50 * time.Millisecond)
			})
			results <- ok
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	for ok := range results {
		if !ok {
			t.Fatal("expected distinct keys to both acquire without contention")
		}
	}
}

func TestTryWith_TimesOutWhenHeld(t *testing.T) {
	r := NewRegistry()
	holding := make(chan struct{})
	release := make(chan struct{})

	go r.TryWith(context.Background(), "busy", time.Second, func(ctx context.Context) {
		close(holding)
		<-release
	})
	<-holding
	defer close(release)

	ok := r.TryWith(context.Background(), "busy", 20*time.Millisecond, func(ctx context.Context) {
		t.Fatal("action must not run when the permit times out")
	})
	if ok {
		t.Fatal("expected TryWith to time out and return false")
	}
}

func TestTryWith_ReleasesPermitOnPanic(t *testing.T) {
	r := NewRegistry()

	func() {
		defer func() { recover() }()
		r.TryWith(context.Background(), "k", time.Second, func(ctx context.Context) {
			panic("boom")
		})
	}()

	ran := false
	ok := r.TryWith(context.Background(), "k", 100*time.Millisecond, func(ctx context.Context) {
		ran = true
	})
	if !ok || !ran {
		t.Fatal("expected the permit to be released after a panic in action")
	}
}
