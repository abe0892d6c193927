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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/x-stp/tagex/internal/input"
	"github.com/x-stp/tagex/internal/metrics"
	"github.com/x-stp/tagex/internal/report"
	"github.com/x-stp/tagex/internal/tags"
	"github.com/x-stp/tagex/internal/util"
)

// maxQueueFullBackoff caps the backoff step used while a worker queue is full.
const maxQueueFullBackoff = 4

// BatchConfig holds the batch scanner's operational parameters.
type BatchConfig struct {
	OutputDir   string
	Compress    bool     // gzip each report, adding ".gz".
	Tags        []string // Empty scans every registered tag.
	Unique      bool
	Workers     int
	QueueSize   int
	MaxAttempts int
	Affinity    bool
	RateLimit   float64 // Sources per second; 0 disables the limiter.
	Burst       int
	MaxBytes    int64
	Stdin       io.Reader // Read for the "-" source; nil means os.Stdin.
}

// BatchStats uses atomic counters so workers update them without locking.
type BatchStats struct {
	TotalSources     atomic.Int64
	ProcessedSources atomic.Int64
	FailedSources    atomic.Int64
	RetryCount       atomic.Int64
	QueueFullRetries atomic.Int64
	TotalMatches     atomic.Int64
	BytesScanned     atomic.Int64
	BytesWritten     atomic.Int64
	StartTime        time.Time
}

// SourceResult is the outcome of one source.
type SourceResult struct {
	Source  string
	Output  string // Report path; the file exists once the source was scanned.
	Matches int
	Err     error
}

// BatchScanner reads many sources concurrently, extracts their tags and
// writes one report file per source.
type BatchScanner struct {
	scheduler *Scheduler
	registry  *tags.Registry
	reader    input.Reader
	config    BatchConfig
	stats     *BatchStats
	limiter   *rate.Limiter // nil when unlimited.
	logger    *zap.Logger
	metrics   *metrics.Metrics
	ctx       context.Context
	cancel    context.CancelFunc

	mu      sync.Mutex
	results []SourceResult
}

// NewBatchScanner validates the configured tags against reg and starts the
// scheduler. logger and m may be nil.
func NewBatchScanner(ctx context.Context, reg *tags.Registry, config BatchConfig, logger *zap.Logger, m *metrics.Metrics) (*BatchScanner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.OutputDir == "" {
		return nil, errors.New("batch output directory is required")
	}
	for _, name := range config.Tags {
		if _, err := reg.Lookup(name); err != nil {
			return nil, err
		}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	scheduler, err := NewScheduler(scanCtx, SchedulerConfig{
		Workers:     config.Workers,
		QueueSize:   config.QueueSize,
		MaxAttempts: config.MaxAttempts,
		Affinity:    config.Affinity,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	bs := &BatchScanner{
		scheduler: scheduler,
		registry:  reg,
		reader:    input.Reader{Stdin: config.Stdin, MaxBytes: config.MaxBytes},
		config:    config,
		stats:     &BatchStats{StartTime: time.Now()},
		logger:    logger,
		metrics:   m,
		ctx:       scanCtx,
		cancel:    cancel,
	}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		bs.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return bs, nil
}

// GetStats returns the live counters.
func (bs *BatchScanner) GetStats() *BatchStats { return bs.stats }

// Results returns per-source outcomes in submission order.
func (bs *BatchScanner) Results() []SourceResult {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make([]SourceResult, len(bs.results))
	copy(out, bs.results)
	return out
}

// Run scans every source and blocks until all are done or the context is
// cancelled. Duplicate sources are scanned once. The returned error joins
// every per-source failure; a cancelled run returns the context error.
// Run shuts the scanner down before returning.
func (bs *BatchScanner) Run(sources []string) error {
	defer bs.Shutdown()

	sources = dedupe(sources)
	bs.stats.TotalSources.Store(int64(len(sources)))
	bs.mu.Lock()
	bs.results = make([]SourceResult, len(sources))
	for i, src := range sources {
		bs.results[i] = SourceResult{Source: src, Err: ErrNotScanned}
	}
	bs.mu.Unlock()

	if err := os.MkdirAll(bs.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", bs.config.OutputDir, err)
	}

	// One timestamp per run, shared by every report line.
	ts := report.Timestamp(time.Now())
	paths := outputPaths(bs.config.OutputDir, sources, bs.config.Compress)
	bs.logger.Info("batch scan starting",
		zap.Int("sources", len(sources)),
		zap.Int("workers", bs.scheduler.NumWorkers()),
		zap.String("output_dir", bs.config.OutputDir))

	for i, src := range sources {
		if err := bs.waitTurn(); err != nil {
			break
		}
		if err := bs.submit(i, src, paths[i], ts); err != nil {
			if bs.ctx.Err() != nil {
				break
			}
			bs.sourceDone(i, SourceResult{Source: src, Err: err})
		}
	}

	bs.scheduler.Wait()

	if err := bs.ctx.Err(); err != nil {
		bs.logger.Warn("batch scan cancelled",
			zap.Int64("processed", bs.stats.ProcessedSources.Load()),
			zap.Int64("failed", bs.stats.FailedSources.Load()))
		return err
	}
	bs.logger.Info("batch scan finished",
		zap.Int64("processed", bs.stats.ProcessedSources.Load()),
		zap.Int64("failed", bs.stats.FailedSources.Load()),
		zap.Int64("matches", bs.stats.TotalMatches.Load()),
		zap.Duration("elapsed", time.Since(bs.stats.StartTime)))

	var errs []error
	for _, r := range bs.Results() {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Source, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops the scheduler and releases the scanner's context.
func (bs *BatchScanner) Shutdown() {
	bs.scheduler.Shutdown()
	bs.cancel()
}

func (bs *BatchScanner) waitTurn() error {
	if bs.limiter == nil {
		return bs.ctx.Err()
	}
	start := time.Now()
	err := bs.limiter.Wait(bs.ctx)
	bs.metrics.ObserveRateLimitWait(time.Since(start))
	return err
}

// submit hands a source to the scheduler, backing off while the target
// worker's queue is full.
func (bs *BatchScanner) submit(idx int, src, path, ts string) error {
	var matches int
	callback := func(item *WorkItem) error {
		n, err := bs.scanSource(item, src, path, ts)
		matches = n
		return err
	}
	finish := func(_ *WorkItem, err error) {
		bs.sourceDone(idx, SourceResult{Source: src, Output: path, Matches: matches, Err: err})
	}

	for attempt := 1; ; attempt++ {
		err := bs.scheduler.Submit(bs.ctx, src, callback, finish)
		if err == nil || !errors.Is(err, ErrQueueFull) {
			return err
		}
		bs.stats.QueueFullRetries.Add(1)
		t := time.NewTimer(backoff(min(attempt, maxQueueFullBackoff)))
		select {
		case <-bs.ctx.Done():
			t.Stop()
			return bs.ctx.Err()
		case <-t.C:
		}
	}
}

// scanSource reads src, extracts its tags and writes the report to path. A
// scan error still writes the matches found before it.
func (bs *BatchScanner) scanSource(item *WorkItem, src, path, ts string) (int, error) {
	if item.Attempt > 0 {
		bs.stats.RetryCount.Add(1)
	}
	text, err := bs.reader.Read(item.Ctx, src)
	if err != nil {
		return 0, classifyReadError(err)
	}
	bs.stats.BytesScanned.Add(int64(len(text)))
	bs.metrics.AddInputBytes(input.KindOf(src).String(), len(text))

	var res tags.Result
	var scanErr error
	if len(bs.config.Tags) == 0 {
		res, scanErr = bs.registry.ExtractAll(text)
	} else {
		res, scanErr = bs.registry.ExtractTags(bs.config.Tags, text)
	}
	if scanErr != nil && res == nil {
		return 0, scanErr
	}
	if bs.config.Unique {
		res = tags.Unique(res)
	}

	w, err := report.Create(item.Ctx, path, bs.config.Compress, bs.logger)
	if err != nil {
		return 0, err
	}
	n, err := w.WriteResult(input.Name(src), ts, res, bs.registry.Names())
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			bs.logger.Debug("discarding report failed", zap.String("path", path), zap.Error(abortErr))
		}
		return 0, fmt.Errorf("writing report %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("closing report %s: %w", path, err)
	}
	bs.stats.BytesWritten.Add(w.Bytes())
	bs.metrics.AddReportLines(n)
	return n, scanErr
}

func (bs *BatchScanner) sourceDone(idx int, r SourceResult) {
	bs.mu.Lock()
	bs.results[idx] = r
	bs.mu.Unlock()

	if r.Err != nil {
		bs.stats.FailedSources.Add(1)
		bs.metrics.SourceDone(false)
		bs.logger.Warn("source failed", zap.String("source", r.Source), zap.Error(r.Err))
		return
	}
	bs.stats.ProcessedSources.Add(1)
	bs.stats.TotalMatches.Add(int64(r.Matches))
	bs.metrics.SourceDone(true)
	bs.logger.Debug("source done",
		zap.String("source", r.Source), zap.String("output", r.Output), zap.Int("matches", r.Matches))
}

func dedupe(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// outputPaths maps each source to <dir>/<sanitized>.tags[.gz]. Sources that
// sanitize to the same name get an xxh3 suffix of the full source.
func outputPaths(dir string, sources []string, compress bool) []string {
	ext := ReportSuffix
	if compress {
		ext += ".gz"
	}
	used := make(map[string]struct{}, len(sources))
	paths := make([]string, len(sources))
	for i, src := range sources {
		base := util.SanitizeFilename(src)
		name := base
		if _, taken := used[name]; taken {
			name = fmt.Sprintf("%s-%016x", base, xxh3.HashString(src))
		}
		for n := 2; ; n++ {
			if _, taken := used[name]; !taken {
				break
			}
			name = fmt.Sprintf("%s-%016x-%d", base, xxh3.HashString(src), n)
		}
		used[name] = struct{}{}
		paths[i] = filepath.Join(dir, name+ext)
	}
	return paths
}
