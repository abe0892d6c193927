/*
Package report renders extraction results as report lines:

	reportName;timestamp;tag;"match"

one line per match. Matches are written verbatim between the quotes.
*/
package report

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
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	tagio "github.com/x-stp/tagex/internal/io"
	"github.com/x-stp/tagex/internal/tags"
)

// Timestamp formats t the way every line of one invocation carries it.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// AppendLine appends one report line to dst.
func AppendLine(dst []byte, report, ts, tag, match string) []byte {
	dst = append(dst, report...)
	dst = append(dst, ';')
	dst = append(dst, ts...)
	dst = append(dst, ';')
	dst = append(dst, tag...)
	dst = append(dst, ';', '"')
	dst = append(dst, match...)
	dst = append(dst, '"', '\n')
	return dst
}

// FormatLine returns one report line including the trailing newline.
func FormatLine(report, ts, tag, match string) string {
	return string(AppendLine(nil, report, ts, tag, match))
}

// Format renders every match in res, tags in order.
func Format(report, ts string, res tags.Result, order []string) string {
	var b []byte
	for _, tag := range res.Tags(order) {
		for _, m := range res[tag] {
			b = AppendLine(b, report, ts, tag, m)
		}
	}
	return string(b)
}

// Writer serializes report lines onto an underlying writer. It is safe for
// concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flush   func() error
	close   func() error
	abort   func() error
	scratch []byte

	lines atomic.Int64
	bytes atomic.Int64
}

// NewWriter buffers w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{w: bw, flush: bw.Flush, close: bw.Flush, abort: bw.Flush}
}

// Create writes a report file at path, gzip-compressed when compress is set.
// The file appears under path only after Close succeeds.
func Create(ctx context.Context, path string, compress bool, logger *zap.Logger) (*Writer, error) {
	opts := tagio.DefaultAsyncBufferOptions()
	opts.Compressed = compress
	opts.Logger = logger
	ab, err := tagio.NewAsyncBuffer(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debug("report opened", zap.String("path", ab.Path()), zap.Bool("compress", compress))
	}
	return &Writer{w: ab, flush: ab.Flush, close: ab.Close, abort: ab.Abort}, nil
}

// WriteLine writes a single line.
func (w *Writer) WriteLine(report, ts, tag, match string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(report, ts, tag, match)
}

// WriteResult writes every match in res, tags in order, and returns the
// number of lines written.
func (w *Writer) WriteResult(report, ts string, res tags.Result, order []string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, tag := range res.Tags(order) {
		for _, m := range res[tag] {
			if err := w.writeLocked(report, ts, tag, m); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (w *Writer) writeLocked(report, ts, tag, match string) error {
	w.scratch = AppendLine(w.scratch[:0], report, ts, tag, match)
	n, err := w.w.Write(w.scratch)
	w.bytes.Add(int64(n))
	if err != nil {
		return err
	}
	w.lines.Add(1)
	return nil
}

// Flush pushes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

// Close flushes and, for files from Create, moves the file into place.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.close()
}

// Abort discards a file from Create without creating it. For writers from
// NewWriter it behaves like Close.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.abort()
}

// Lines is the number of lines written so far.
func (w *Writer) Lines() int64 { return w.lines.Load() }

// Bytes is the number of bytes written so far, before compression.
func (w *Writer) Bytes() int64 { return w.bytes.Load() }
