package io

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

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBufferSize is the default buffer size for disk I/O
	DefaultBufferSize = 256 * 1024 // 256KB

	// FlushInterval is how often to flush buffers automatically
	FlushInterval = 2 * time.Second

	// TempSuffix is appended to the target path while the file is being written.
	TempSuffix = ".tmp"
)

var (
	// ErrBufferClosed is returned when attempting to write to a closed buffer
	ErrBufferClosed = errors.New("write buffer closed")
)

// BufferMetrics holds metrics for a buffer
type BufferMetrics struct {
	BytesWritten  atomic.Int64
	WriteCount    atomic.Int64
	FlushCount    atomic.Int64
	ErrorCount    atomic.Int64
	LastFlushTime atomic.Int64 // Unix timestamp in nanoseconds
}

// MetricsSnapshot is a point-in-time copy of BufferMetrics.
type MetricsSnapshot struct {
	BytesWritten  int64
	WriteCount    int64
	FlushCount    int64
	ErrorCount    int64
	LastFlushTime time.Time
}

// AsyncBuffer writes a report file through a buffered (optionally gzipped)
// writer and flushes it in the background. Data goes to path+TempSuffix and
// the file only appears under its final name once Close succeeds, so readers
// never see a half-written report.
type AsyncBuffer struct {
	// Immutable after creation
	file          *os.File
	gzWriter      *gzip.Writer
	bufWriter     *bufio.Writer
	path          string
	tmpPath       string
	flushInterval time.Duration
	logger        *zap.Logger

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	metrics BufferMetrics
}

// AsyncBufferOptions configures an AsyncBuffer
type AsyncBufferOptions struct {
	BufferSize    int
	FlushInterval time.Duration
	Compressed    bool
	Logger        *zap.Logger
}

// DefaultAsyncBufferOptions returns the default options for AsyncBuffer
func DefaultAsyncBufferOptions() *AsyncBufferOptions {
	return &AsyncBufferOptions{
		BufferSize:    DefaultBufferSize,
		FlushInterval: FlushInterval,
	}
}

// NewAsyncBuffer creates the parent directory of path and opens the
// temporary file behind it.
func NewAsyncBuffer(ctx context.Context, path string, options *AsyncBufferOptions) (*AsyncBuffer, error) {
	if options == nil {
		options = DefaultAsyncBufferOptions()
	}
	if options.BufferSize <= 0 {
		options.BufferSize = DefaultBufferSize
	}
	if options.FlushInterval <= 0 {
		options.FlushInterval = FlushInterval
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpPath := path + TempSuffix
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", tmpPath, err)
	}

	bufCtx, bufCancel := context.WithCancel(ctx)
	ab := &AsyncBuffer{
		file:          file,
		path:          path,
		tmpPath:       tmpPath,
		flushInterval: options.FlushInterval,
		logger:        logger.With(zap.String("path", path)),
		ctx:           bufCtx,
		cancel:        bufCancel,
		done:          make(chan struct{}),
	}

	if options.Compressed {
		gzw, err := gzip.NewWriterLevel(file, gzip.BestSpeed)
		if err != nil {
			file.Close()
			os.Remove(tmpPath)
			bufCancel()
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		ab.gzWriter = gzw
		ab.bufWriter = bufio.NewWriterSize(gzw, options.BufferSize)
	} else {
		ab.bufWriter = bufio.NewWriterSize(file, options.BufferSize)
	}

	ab.startBackgroundFlusher()
	return ab, nil
}

// Path returns the final path of the file.
func (ab *AsyncBuffer) Path() string { return ab.path }

// startBackgroundFlusher starts a goroutine that periodically flushes the buffer
func (ab *AsyncBuffer) startBackgroundFlusher() {
	ticker := time.NewTicker(ab.flushInterval)

	go func() {
		defer close(ab.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ab.Flush(); err != nil && !errors.Is(err, ErrBufferClosed) {
					ab.logger.Warn("background flush failed", zap.Error(err))
				}
			case <-ab.ctx.Done():
				return
			}
		}
	}()
}

// Write writes data to the buffer
func (ab *AsyncBuffer) Write(data []byte) (int, error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.closed {
		return 0, ErrBufferClosed
	}

	n, err := ab.bufWriter.Write(data)
	if err != nil {
		ab.metrics.ErrorCount.Add(1)
		return n, fmt.Errorf("failed to write to buffer: %w", err)
	}
	ab.metrics.BytesWritten.Add(int64(n))
	ab.metrics.WriteCount.Add(1)
	return n, nil
}

// Flush pushes buffered data through the gzip stream to the file.
func (ab *AsyncBuffer) Flush() error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.closed {
		return ErrBufferClosed
	}
	return ab.flushLocked()
}

func (ab *AsyncBuffer) flushLocked() error {
	if ab.bufWriter.Buffered() == 0 {
		return nil
	}
	if err := ab.bufWriter.Flush(); err != nil {
		ab.metrics.ErrorCount.Add(1)
		return err
	}
	if ab.gzWriter != nil {
		if err := ab.gzWriter.Flush(); err != nil {
			ab.metrics.ErrorCount.Add(1)
			return err
		}
	}
	ab.metrics.FlushCount.Add(1)
	ab.metrics.LastFlushTime.Store(time.Now().UnixNano())
	return nil
}

// Close flushes everything, syncs the file and renames it into place.
func (ab *AsyncBuffer) Close() error {
	if !ab.stop() {
		return nil
	}

	if err := ab.finish(); err != nil {
		os.Remove(ab.tmpPath)
		return err
	}
	if err := os.Rename(ab.tmpPath, ab.path); err != nil {
		os.Remove(ab.tmpPath)
		return fmt.Errorf("failed to rename %s: %w", ab.tmpPath, err)
	}
	return nil
}

// Abort closes the buffer and removes the temporary file. The final path is
// never created.
func (ab *AsyncBuffer) Abort() error {
	if !ab.stop() {
		return nil
	}
	ab.file.Close()
	if err := os.Remove(ab.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// stop marks the buffer closed and waits for the flusher. It reports false
// if the buffer was already closed.
func (ab *AsyncBuffer) stop() bool {
	ab.mu.Lock()
	if ab.closed {
		ab.mu.Unlock()
		return false
	}
	ab.closed = true
	ab.mu.Unlock()

	ab.cancel()
	<-ab.done
	return true
}

func (ab *AsyncBuffer) finish() error {
	if err := ab.bufWriter.Flush(); err != nil {
		ab.file.Close()
		return fmt.Errorf("failed to flush buffer on close: %w", err)
	}
	if ab.gzWriter != nil {
		if err := ab.gzWriter.Close(); err != nil {
			ab.file.Close()
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	if err := ab.file.Sync(); err != nil {
		ab.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := ab.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// GetMetrics returns the current metrics for the buffer
func (ab *AsyncBuffer) GetMetrics() MetricsSnapshot {
	s := MetricsSnapshot{
		BytesWritten: ab.metrics.BytesWritten.Load(),
		WriteCount:   ab.metrics.WriteCount.Load(),
		FlushCount:   ab.metrics.FlushCount.Load(),
		ErrorCount:   ab.metrics.ErrorCount.Load(),
	}
	if ns := ab.metrics.LastFlushTime.Load(); ns > 0 {
		s.LastFlushTime = time.Unix(0, ns)
	}
	return s
}
