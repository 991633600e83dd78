package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsEveryItem(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background(), SchedulerOptions{Workers: 4})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Shutdown()

	var mu sync.Mutex
	seen := make(map[string]int)
	keys := []string{"a.lu", "b.lu", "c.lu", "d.lu", "e.lu", "f.lu", "g.lu", "h.lu"}
	for _, k := range keys {
		k := k
		if err := s.SubmitWait(context.Background(), k, func(ctx context.Context) error {
			mu.Lock()
			seen[k]++
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("SubmitWait(%s): %v", k, err)
		}
	}
	s.Wait()

	for _, k := range keys {
		if seen[k] != 1 {
			t.Fatalf("%s ran %d times", k, seen[k])
		}
	}
}

func TestSchedulerShardIsStable(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background(), SchedulerOptions{Workers: 8})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Shutdown()

	if s.NumWorkers() != 8 {
		t.Fatalf("NumWorkers = %d, want 8", s.NumWorkers())
	}
	for _, k := range []string{"foo.lu", "bar.lu", "www.xxx.com"} {
		if s.workerFor(k) != s.workerFor(k) {
			t.Fatalf("key %s mapped to different workers", k)
		}
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background(), SchedulerOptions{Workers: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Shutdown()

	var ran atomic.Int32
	_ = s.Submit(context.Background(), "bad.lu", func(ctx context.Context) error { panic("boom") })
	_ = s.Submit(context.Background(), "err.lu", func(ctx context.Context) error {
		return NewError(KindTimeout, "dns query err.lu/A", nil)
	})
	_ = s.Submit(context.Background(), "good.lu", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	s.Wait()

	if ran.Load() != 1 {
		t.Fatalf("worker did not survive the panic")
	}
}

func TestSchedulerBackpressure(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background(), SchedulerOptions{Workers: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	release := make(chan struct{})
	block := func(ctx context.Context) error {
		<-release
		return nil
	}

	var full error
	for i := 0; i < MaxShardQueueSize+2; i++ {
		if err := s.Submit(context.Background(), "same.lu", block); err != nil {
			full = err
			break
		}
	}
	if !errors.Is(full, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", full)
	}
	close(release)
	s.Shutdown()
}

func TestSchedulerRejectsAfterShutdown(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background(), SchedulerOptions{Workers: 2})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Shutdown()
	s.Shutdown()

	err = s.Submit(context.Background(), "late.lu", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrWorkerShutdown) {
		t.Fatalf("expected ErrWorkerShutdown, got %v", err)
	}
}

func TestSchedulerShutdownDoesNotHangOnQueuedWork(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background(), SchedulerOptions{Workers: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	started := make(chan struct{})
	var once sync.Once
	for i := 0; i < 10; i++ {
		_ = s.Submit(context.Background(), "q.lu", func(ctx context.Context) error {
			once.Do(func() { close(started) })
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	}
	<-started

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown hung with queued work")
	}
}

func TestSchedulerPerWorkerQPS(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background(), SchedulerOptions{Workers: 1, PerWorkerQPS: 20})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Shutdown()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := s.SubmitWait(context.Background(), "paced.lu", func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("SubmitWait: %v", err)
		}
	}
	s.Wait()
	// Burst of 1 at 20/s: four waits of ~50ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("limiter not applied, 5 submissions took %v", elapsed)
	}
}
