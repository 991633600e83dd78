package core

/*
domclass — extract and classify Internet domains from raw text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x-stp/domclass/internal/metrics"

	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"
)

// WorkItem is a unit of work (typically: validate one candidate domain).
// It is pooled via sync.Pool to reduce allocations when fanning out large candidate sets.
type WorkItem struct {
	Key       string                          // Sharding key, e.g. the candidate domain.
	Callback  func(ctx context.Context) error // Function to execute for this item.
	Ctx       context.Context                 // Context of the submitter.
	CreatedAt time.Time
}

// SchedulerOptions tunes the worker pool.
type SchedulerOptions struct {
	Workers      int     // Number of worker goroutines; clamped to [1, MaxWorkers].
	PerWorkerQPS float64 // Submission pacing per worker; <= 0 means unlimited.
	PinWorkers   bool    // Bind each worker to a CPU core (Linux only).
}

// Scheduler manages a pool of worker goroutines and dispatches WorkItems to them based on a
// hash of the item key, so repeated submissions for one key always land on the same worker.
type Scheduler struct {
	numWorkers   int
	workers      []*worker
	ctx          context.Context    // Master context for shutdown signalling.
	cancel       context.CancelFunc // Function to trigger shutdown.
	shutdown     atomic.Bool        // Prevents submitting work during/after shutdown.
	workItemPool sync.Pool          // Reuses WorkItem structs.
	activeWork   sync.WaitGroup     // Tracks submitted, not yet finished items.
}

// worker encapsulates a single worker goroutine and its state.
type worker struct {
	id          int
	cpuAffinity int // Target core, -1 when pinning is disabled.
	queue       chan *WorkItem
	scheduler   *Scheduler
	ctx         context.Context
	limiter     *rate.Limiter // Paces submissions routed to this worker.
}

// NewScheduler creates and starts the scheduler and its worker pool.
// Operation: allocates worker/channel resources and launches the goroutines.
func NewScheduler(parentCtx context.Context, opts SchedulerOptions) (*Scheduler, error) {
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > MaxWorkers {
		numWorkers = MaxWorkers
	}

	sctx, cancel := context.WithCancel(parentCtx)
	s := &Scheduler{
		numWorkers: numWorkers,
		workers:    make([]*worker, numWorkers),
		ctx:        sctx,
		cancel:     cancel,
		workItemPool: sync.Pool{
			New: func() interface{} {
				return &WorkItem{}
			},
		},
	}

	limit := rate.Inf
	if opts.PerWorkerQPS > 0 {
		limit = rate.Limit(opts.PerWorkerQPS)
	}

	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:          i,
			cpuAffinity: -1,
			queue:       make(chan *WorkItem, MaxShardQueueSize),
			scheduler:   s,
			ctx:         sctx,
			limiter:     rate.NewLimiter(limit, 1),
		}
		if opts.PinWorkers {
			w.cpuAffinity = i % runtime.NumCPU()
		}
		s.workers[i] = w
		go w.run()
	}

	return s, nil
}

// run is the processing loop for a single worker goroutine.
func (w *worker) run() {
	if w.cpuAffinity >= 0 {
		setAffinity(w.id, w.cpuAffinity)
	}

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case item := <-w.queue:
			if item == nil {
				continue
			}
			w.execute(item)
		}
	}
}

// execute runs one item, recovering panics so a misbehaving callback cannot take the pool down.
func (w *worker) execute(item *WorkItem) {
	m := metrics.GetMetrics()
	func() {
		defer w.scheduler.activeWork.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Panic recovered in worker %d processing %s: %v", w.id, item.Key, r)
				m.RecordWorkerPanic(strconv.Itoa(w.id))
			}
		}()

		ctx := item.Ctx
		if ctx == nil {
			ctx = w.ctx
		}
		if err := item.Callback(ctx); err != nil {
			log.Printf("Error processing %s: %v", item.Key, err)
			m.RecordWorkFailed(errorType(err))
			return
		}
		m.RecordWorkCompleted()
	}()

	item.Callback = nil
	item.Key = ""
	item.Ctx = nil
	w.scheduler.workItemPool.Put(item)
}

// drain releases items still queued at shutdown so Wait never blocks on them.
func (w *worker) drain() {
	for {
		select {
		case item := <-w.queue:
			if item != nil {
				w.scheduler.activeWork.Done()
			}
		default:
			return
		}
	}
}

// Submit routes a work item to a worker queue chosen by hashing key.
// It uses a non-blocking send to provide backpressure: a full queue returns ErrQueueFull.
func (s *Scheduler) Submit(ctx context.Context, key string, callback func(ctx context.Context) error) error {
	if s.shutdown.Load() {
		return ErrWorkerShutdown
	}
	target := s.workerFor(key)

	item := s.workItemPool.Get().(*WorkItem)
	item.Key = key
	item.Callback = callback
	item.Ctx = ctx
	item.CreatedAt = time.Now()
	s.activeWork.Add(1)

	select {
	case target.queue <- item:
		metrics.GetMetrics().RecordWorkSubmitted()
		return nil
	default:
		s.activeWork.Done()
		s.workItemPool.Put(item)
		metrics.GetMetrics().RecordBackpressure(strconv.Itoa(target.id))
		return fmt.Errorf("worker %d for %s: %w", target.id, key, ErrQueueFull)
	}
}

// SubmitWait waits on the target worker's limiter, then submits, retrying briefly while the
// queue is full. Returns the context error if ctx ends first.
func (s *Scheduler) SubmitWait(ctx context.Context, key string, callback func(ctx context.Context) error) error {
	target := s.workerFor(key)
	if err := target.limiter.Wait(ctx); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < MaxSubmitRetries; attempt++ {
		err = s.Submit(ctx, key, callback)
		if err == nil || !errors.Is(err, ErrQueueFull) {
			return err
		}
		select {
		case <-time.After(SubmitRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Scheduler) workerFor(key string) *worker {
	return s.workers[int(xxh3.HashString(key)%uint64(s.numWorkers))]
}

// NumWorkers returns the size of the pool.
func (s *Scheduler) NumWorkers() int { return s.numWorkers }

// Wait blocks until all submitted work items have been processed.
func (s *Scheduler) Wait() {
	s.activeWork.Wait()
}

// Shutdown stops accepting work, cancels the workers and waits for in-flight items.
func (s *Scheduler) Shutdown() {
	if s.shutdown.CompareAndSwap(false, true) {
		s.cancel()
		s.Wait()
	}
}

func errorType(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "other"
}
