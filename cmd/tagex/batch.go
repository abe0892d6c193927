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

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/x-stp/tagex/internal/config"
	"github.com/x-stp/tagex/internal/core"
	"github.com/x-stp/tagex/internal/input"
)

type batchOptions struct {
	sourcesFile string
	showStats   bool
}

func newBatchCmd(a *app) *cobra.Command {
	var opts batchOptions
	cmd := &cobra.Command{
		Use:   "batch <source>...",
		Short: "Scan many sources concurrently, one report file per source",
		Long: "Batch scans every source on a pool of workers and writes\n" +
			"<output-dir>/<source>.tags (.tags.gz with --compress). Each report is named\n" +
			"after the base name of its source. Sources may also be listed, one per line,\n" +
			"in --sources-file; blank lines and lines starting with # are ignored.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.sourcesFile == "" {
				return usageError{errors.New("batch expects at least one <source> or --sources-file")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.batch(cmd.Context(), args, opts)
		},
	}

	d := config.Defaults()
	f := cmd.Flags()
	f.StringVar(&opts.sourcesFile, "sources-file", "", "File listing sources, one per line")
	f.BoolVarP(&opts.showStats, "stats", "s", true, "Show progress while scanning")
	f.StringSliceP("tag", "t", nil, "Only scan these tags (repeatable or comma separated)")
	f.String("output-dir", d.Batch.OutputDir, "Directory for report files")
	f.IntP("workers", "w", d.Batch.Workers, "Number of worker goroutines")
	f.Int("queue-size", d.Batch.QueueSize, "Per-worker queue capacity")
	f.Float64("rate-limit", d.Batch.RateLimit, "Maximum sources started per second (0 for unlimited)")
	f.Int("burst", d.Batch.Burst, "Rate limiter burst size")
	f.Bool("affinity", d.Batch.Affinity, "Pin workers to CPU cores (Linux)")
	return cmd
}

func (a *app) batch(ctx context.Context, args []string, opts batchOptions) error {
	sources := append([]string(nil), args...)
	if opts.sourcesFile != "" {
		listed, err := readSourcesFile(opts.sourcesFile)
		if err != nil {
			return err
		}
		sources = append(sources, listed...)
	}
	if len(sources) == 0 {
		return usageError{errors.New("no sources to scan")}
	}

	cfg := a.cfg
	scanner, err := core.NewBatchScanner(ctx, a.registry, core.BatchConfig{
		OutputDir: cfg.Batch.OutputDir,
		Compress:  cfg.Output.Compress,
		Tags:      cfg.Extract.Tags,
		Unique:    cfg.Extract.Unique,
		Workers:   cfg.Batch.Workers,
		QueueSize: cfg.Batch.QueueSize,
		Affinity:  cfg.Batch.Affinity,
		RateLimit: cfg.Batch.RateLimit,
		Burst:     cfg.Batch.Burst,
		MaxBytes:  cfg.Input.MaxBytes,
		Stdin:     a.stdin,
	}, a.logger, a.metrics)
	if err != nil {
		return err
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	var statsWg sync.WaitGroup
	if opts.showStats {
		statsWg.Add(1)
		go func() {
			defer statsWg.Done()
			displayBatchStats(statsCtx, a.stderr, scanner.GetStats())
		}()
	}

	runErr := scanner.Run(sources)
	stopStats()
	statsWg.Wait()

	displayFinalBatchStats(a.stdout, scanner.GetStats())
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		a.logger.Warn("batch interrupted", zap.Error(runErr))
	}
	return runErr
}

// readSourcesFile returns the non-blank, non-comment lines of path.
func readSourcesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &input.UnavailableError{Source: path, Err: err}
	}
	defer f.Close()

	var sources []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed reading sources file %q: %w", path, err)
	}
	return sources, nil
}

// displayBatchStats periodically rewrites a progress line on w.
func displayBatchStats(ctx context.Context, w io.Writer, stats *core.BatchStats) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	printed := false
	for {
		select {
		case <-ticker.C:
			elapsed := time.Since(stats.StartTime).Seconds()
			if elapsed < 0.1 {
				elapsed = 0.1
			}
			done := stats.ProcessedSources.Load() + stats.FailedSources.Load()
			fmt.Fprintf(w, "\rSources: %d/%d | Failed: %d | Matches: %d | Scanned: %.2fMB | Rate: %.1f src/s",
				done,
				stats.TotalSources.Load(),
				stats.FailedSources.Load(),
				stats.TotalMatches.Load(),
				float64(stats.BytesScanned.Load())/(1024*1024),
				float64(done)/elapsed,
			)
			printed = true
		case <-ctx.Done():
			if printed {
				fmt.Fprintln(w)
			}
			return
		}
	}
}

// displayFinalBatchStats prints the summary of a batch run.
func displayFinalBatchStats(w io.Writer, stats *core.BatchStats) {
	elapsed := time.Since(stats.StartTime)
	processed := stats.ProcessedSources.Load()
	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(processed) / elapsed.Seconds()
	}
	fmt.Fprintf(w, "--- Batch Statistics ---\n")
	fmt.Fprintf(w, " Processing Time: %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "   Total Sources: %d\n", stats.TotalSources.Load())
	fmt.Fprintf(w, "       Processed: %d\n", processed)
	fmt.Fprintf(w, "          Failed: %d\n", stats.FailedSources.Load())
	fmt.Fprintf(w, "         Retries: %d\n", stats.RetryCount.Load())
	fmt.Fprintf(w, "         Matches: %d\n", stats.TotalMatches.Load())
	fmt.Fprintf(w, "    Data Scanned: %.2f MB\n", float64(stats.BytesScanned.Load())/(1024*1024))
	fmt.Fprintf(w, "  Report Written: %.2f MB\n", float64(stats.BytesWritten.Load())/(1024*1024))
	fmt.Fprintf(w, "    Overall Rate: %.1f sources/sec\n", rate)
	fmt.Fprintf(w, "------------------------\n")
}
