/*
tagex — fast tool in Go for extracting tags from unstructured text
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

package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/x-stp/tagex/internal/metrics"
)

// WorkItem is one unit of work. Items are pooled; callbacks must not keep a
// reference to the item after returning.
type WorkItem struct {
	Key      string                          // Shard key, usually the source.
	Attempt  int                             // 0 on the first run.
	Callback func(item *WorkItem) error      // The work itself.
	Finish   func(item *WorkItem, err error) // Optional; called once with the final outcome.
	Ctx      context.Context
}

// SchedulerConfig configures NewScheduler. Zero values pick defaults.
type SchedulerConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Affinity    bool // Pin workers to CPUs where supported.
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Scheduler manages a pool of worker goroutines and dispatches WorkItems to
// them by hashing the item key, so one key always lands on the same worker.
type Scheduler struct {
	numWorkers   int
	maxAttempts  int
	workers      []*worker
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex // Guards shutdown against in-flight Submit calls.
	shutdown     atomic.Bool
	workItemPool sync.Pool
	activeWork   sync.WaitGroup
	running      sync.WaitGroup
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

type worker struct {
	id          int
	cpuAffinity int // -1 disables pinning.
	queue       chan *WorkItem
	scheduler   *Scheduler
}

// NewScheduler creates and starts the worker pool.
func NewScheduler(parentCtx context.Context, cfg SchedulerConfig) (*Scheduler, error) {
	numWorkers := cfg.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > MaxWorkers {
		return nil, fmt.Errorf("worker count %d exceeds maximum %d", numWorkers, MaxWorkers)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = WorkerQueueCapacity
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sctx, cancel := context.WithCancel(parentCtx)
	s := &Scheduler{
		numWorkers:  numWorkers,
		maxAttempts: maxAttempts,
		workers:     make([]*worker, numWorkers),
		ctx:         sctx,
		cancel:      cancel,
		workItemPool: sync.Pool{
			New: func() interface{} {
				return &WorkItem{}
			},
		},
		logger:  logger,
		metrics: cfg.Metrics,
	}

	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:          i,
			cpuAffinity: -1,
			queue:       make(chan *WorkItem, queueSize),
			scheduler:   s,
		}
		if cfg.Affinity {
			w.cpuAffinity = i % runtime.NumCPU()
		}
		s.workers[i] = w
		s.metrics.UpdateQueueMetrics(i, 0, queueSize)
		s.running.Add(1)
		go w.run()
	}

	logger.Debug("scheduler started",
		zap.Int("workers", numWorkers),
		zap.Int("queue_size", queueSize),
		zap.Bool("affinity", cfg.Affinity))
	return s, nil
}

// NumWorkers returns the size of the pool.
func (s *Scheduler) NumWorkers() int { return s.numWorkers }

func (w *worker) run() {
	defer w.scheduler.running.Done()
	if w.cpuAffinity >= 0 {
		if err := setAffinity(w.cpuAffinity); err != nil {
			w.scheduler.logger.Warn("failed to set CPU affinity",
				zap.Int("worker", w.id), zap.Int("cpu", w.cpuAffinity), zap.Error(err))
		}
	}

	for {
		select {
		case <-w.scheduler.ctx.Done():
			w.scheduler.fence()
			w.drain()
			return
		case item := <-w.queue:
			if item == nil {
				continue
			}
			w.scheduler.metrics.UpdateQueueMetrics(w.id, len(w.queue), cap(w.queue))
			w.process(item)
		}
	}
}

// fence waits for in-flight Submit calls. Any Submit after it observes the
// cancelled context and enqueues nothing.
func (s *Scheduler) fence() {
	s.mu.Lock()
	s.mu.Unlock() //nolint:staticcheck // SA2001
}

// drain finishes queued items without running them.
func (w *worker) drain() {
	for {
		select {
		case item := <-w.queue:
			w.finish(item, ErrWorkerShutdown)
		default:
			return
		}
	}
}

func (w *worker) process(item *WorkItem) {
	s := w.scheduler
	s.metrics.SetWorkerBusy(w.id, true)
	defer s.metrics.SetWorkerBusy(w.id, false)

	var err error
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("panic in work item %s: %v", item.Key, r)
				s.logger.Error("recovered panic in worker",
					zap.Int("worker", w.id), zap.String("key", item.Key), zap.Any("panic", r))
			}
		}()
		err = w.runWithRetry(item)
	}()
	s.metrics.WorkerDone(w.id, panicked)
	if err != nil && !panicked {
		s.logger.Debug("work item failed",
			zap.Int("worker", w.id), zap.String("key", item.Key),
			zap.Int("attempts", item.Attempt+1), zap.Error(err))
	}
	w.finish(item, err)
}

func (w *worker) runWithRetry(item *WorkItem) error {
	for {
		err := item.Callback(item)
		if err == nil || !IsRetryable(err) || item.Attempt+1 >= w.scheduler.maxAttempts {
			return err
		}
		item.Attempt++
		delay := backoff(item.Attempt)
		w.scheduler.logger.Debug("retrying work item",
			zap.String("key", item.Key), zap.Int("attempt", item.Attempt), zap.Duration("delay", delay), zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-item.Ctx.Done():
			t.Stop()
			return err
		case <-w.scheduler.ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

func (w *worker) finish(item *WorkItem, err error) {
	if item.Finish != nil {
		item.Finish(item, err)
	}
	item.Key = ""
	item.Attempt = 0
	item.Callback = nil
	item.Finish = nil
	item.Ctx = nil
	w.scheduler.workItemPool.Put(item)
	w.scheduler.activeWork.Done()
}

// Submit routes a work item to the worker owning key. The send is
// non-blocking: a full queue returns an error wrapping the retryable
// ErrQueueFull, and a stopped scheduler returns ErrWorkerShutdown.
func (s *Scheduler) Submit(ctx context.Context, key string, callback func(item *WorkItem) error, finish func(item *WorkItem, err error)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shutdown.Load() || s.ctx.Err() != nil {
		return ErrWorkerShutdown
	}
	if ctx == nil {
		ctx = s.ctx
	}

	shardIndex := int(xxh3.HashString(key) % uint64(s.numWorkers))
	targetWorker := s.workers[shardIndex]

	item := s.workItemPool.Get().(*WorkItem)
	item.Key = key
	item.Attempt = 0
	item.Callback = callback
	item.Finish = finish
	item.Ctx = ctx
	s.activeWork.Add(1)

	select {
	case targetWorker.queue <- item:
		s.metrics.Submitted(true)
		s.metrics.UpdateQueueMetrics(targetWorker.id, len(targetWorker.queue), cap(targetWorker.queue))
		return nil
	default:
		s.activeWork.Done()
		item.Callback = nil
		item.Finish = nil
		item.Ctx = nil
		s.workItemPool.Put(item)
		s.metrics.Submitted(false)
		return fmt.Errorf("worker %d for %s: %w", targetWorker.id, key, ErrQueueFull)
	}
}

// Wait blocks until every accepted work item has finished.
func (s *Scheduler) Wait() {
	s.activeWork.Wait()
}

// Shutdown stops accepting work, cancels the workers and waits for them to
// exit. Items still queued are finished with ErrWorkerShutdown. Safe to call
// more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	first := s.shutdown.CompareAndSwap(false, true)
	s.mu.Unlock()
	if !first {
		return
	}
	s.logger.Debug("scheduler shutting down")
	s.cancel()
	s.running.Wait()
}
