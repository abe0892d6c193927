package core

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/x-stp/tagex/internal/input"
	"github.com/x-stp/tagex/internal/metrics"
	"github.com/x-stp/tagex/internal/tags"
)

const sampleText = "At http://www.example.com you might see test@example.com."

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestBatch(t *testing.T, cfg BatchConfig, m *metrics.Metrics) *BatchScanner {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	bs, err := NewBatchScanner(context.Background(), tags.Default(), cfg, zaptest.NewLogger(t), m)
	require.NoError(t, err)
	return bs
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// lineSuffixes strips the report name and timestamp, which vary per run.
func lineSuffixes(t *testing.T, lines []string) []string {
	t.Helper()
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		parts := strings.SplitN(l, ";", 3)
		require.Len(t, parts, 3, l)
		out = append(out, parts[2])
	}
	return out
}

func TestBatchScanWritesOneReportPerSource(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	a := writeSource(t, src, "a.txt", sampleText)
	b := writeSource(t, src, "b.log", "gateway 10.0.0.1 and 10.0.0.1 again")
	empty := writeSource(t, src, "empty.txt", "nothing to see")

	m := metrics.NewMetrics(prometheus.NewRegistry())
	m.Enable()
	bs := newTestBatch(t, BatchConfig{}, m)
	require.NoError(t, bs.Run([]string{a, b, empty, a}))

	results := bs.Results()
	require.Len(t, results, 3, "duplicate sources are scanned once")
	for _, r := range results {
		require.NoError(t, r.Err, r.Source)
		assert.FileExists(t, r.Output)
		assert.True(t, strings.HasSuffix(r.Output, ReportSuffix), r.Output)
	}

	lines := readLines(t, results[0].Output)
	assert.Equal(t, []string{
		`url;"http://www.example.com"`,
		`hostname;"www.example.com"`,
		`domain;"example.com"`,
		`email;"test@example.com"`,
	}, lineSuffixes(t, lines))
	assert.True(t, strings.HasPrefix(lines[0], "a.txt;"), lines[0])

	assert.Equal(t, []string{`ipv4;"10.0.0.1"`, `ipv4;"10.0.0.1"`}, lineSuffixes(t, readLines(t, results[1].Output)))
	assert.Empty(t, readLines(t, results[2].Output))

	stats := bs.GetStats()
	assert.EqualValues(t, 3, stats.TotalSources.Load())
	assert.EqualValues(t, 3, stats.ProcessedSources.Load())
	assert.EqualValues(t, 0, stats.FailedSources.Load())
	assert.EqualValues(t, 6, stats.TotalMatches.Load())
	assert.Positive(t, stats.BytesScanned.Load())
	assert.Positive(t, stats.BytesWritten.Load())

	assert.Equal(t, 3.0, testutil.ToFloat64(m.SourcesTotal.WithLabelValues("ok")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.ReportLinesTotal))
}

func TestBatchScanSharesOneTimestamp(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	var sources []string
	for i := 0; i < 8; i++ {
		sources = append(sources, writeSource(t, src, fmt.Sprintf("s%d.txt", i), "1.1.1.1 2.2.2.2"))
	}
	bs := newTestBatch(t, BatchConfig{Workers: 4}, nil)
	require.NoError(t, bs.Run(sources))

	stamps := map[string]bool{}
	for _, r := range bs.Results() {
		for _, l := range readLines(t, r.Output) {
			stamps[strings.SplitN(l, ";", 3)[1]] = true
		}
	}
	assert.Len(t, stamps, 1)
}

func TestBatchScanTagsUniqueAndCompress(t *testing.T) {
	t.Parallel()
	src := writeSource(t, t.TempDir(), "dupes.txt", sampleText+" 8.8.8.8 8.8.8.8 test@example.com")
	bs := newTestBatch(t, BatchConfig{Tags: []string{tags.Email, tags.IPv4}, Unique: true, Compress: true}, nil)
	require.NoError(t, bs.Run([]string{src}))

	out := bs.Results()[0].Output
	require.True(t, strings.HasSuffix(out, ReportSuffix+".gz"), out)
	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	assert.Equal(t, []string{`ipv4;"8.8.8.8"`, `email;"test@example.com"`}, lineSuffixes(t, lines))
}

func TestBatchScanReportsUnavailableSources(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := writeSource(t, dir, "good.txt", "d41d8cd98f00b204e9800998ecf8427e")
	missing := filepath.Join(dir, "missing.txt")

	m := metrics.NewMetrics(prometheus.NewRegistry())
	m.Enable()
	bs := newTestBatch(t, BatchConfig{}, m)
	err := bs.Run([]string{missing, good})
	require.Error(t, err)
	assert.ErrorIs(t, err, input.ErrInputUnavailable)
	assert.Contains(t, err.Error(), missing)

	results := bs.Results()
	assert.Error(t, results[0].Err)
	assert.NoFileExists(t, results[0].Output)
	require.NoError(t, results[1].Err)
	assert.Equal(t, []string{`md5;"d41d8cd98f00b204e9800998ecf8427e"`}, lineSuffixes(t, readLines(t, results[1].Output)))

	assert.EqualValues(t, 1, bs.GetStats().FailedSources.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourcesTotal.WithLabelValues("failed")))
}

func TestBatchScanRetriesTransientHTTPFailures(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "contact admin@example.org")
	}))
	defer srv.Close()

	bs := newTestBatch(t, BatchConfig{RateLimit: 100, Burst: 1}, nil)
	require.NoError(t, bs.Run([]string{srv.URL + "/contacts.txt"}))

	r := bs.Results()[0]
	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 1, bs.GetStats().RetryCount.Load())
	assert.Equal(t, 1, r.Matches)
	lines := readLines(t, r.Output)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "contacts.txt;"), lines[0])
}

func TestBatchScanCancelledLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "a.txt", sampleText)
	out := filepath.Join(dir, "out")

	ctx, cancel := context.WithCancel(context.Background())
	bs, err := NewBatchScanner(ctx, tags.Default(), BatchConfig{OutputDir: out, Workers: 1}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	cancel()

	err = bs.Run([]string{src})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, bs.Results()[0].Err, ErrNotScanned)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestBatchScanWritesMatchesFoundBeforeTimeout(t *testing.T) {
	t.Parallel()
	src := writeSource(t, t.TempDir(), "shout.txt", "one!\ntwo!\nDo you think you found the problem string")
	reg, err := tags.NewRegistry([]tags.Tag{
		{Name: "shout", Pattern: `[a-z]+!|(?:.+)*\?`, Engine: tags.Backtracking},
	}, tags.WithMatchTimeout(time.Nanosecond))
	require.NoError(t, err)

	bs, err := NewBatchScanner(context.Background(), reg,
		BatchConfig{OutputDir: t.TempDir(), Workers: 1}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	err = bs.Run([]string{src})
	assert.ErrorIs(t, err, tags.ErrMatchTimeout)

	r := bs.Results()[0]
	var se *tags.ScanError
	require.ErrorAs(t, r.Err, &se)
	assert.Equal(t, []string{`shout;"one!"`, `shout;"two!"`}, lineSuffixes(t, readLines(t, r.Output)))
	assert.EqualValues(t, 1, bs.GetStats().FailedSources.Load())
}

func TestNewBatchScannerRejectsUnknownTags(t *testing.T) {
	t.Parallel()
	_, err := NewBatchScanner(context.Background(), tags.Default(),
		BatchConfig{OutputDir: t.TempDir(), Tags: []string{"ipv4", "mac"}}, nil, nil)
	assert.ErrorIs(t, err, tags.ErrUnknownTag)

	_, err = NewBatchScanner(context.Background(), tags.Default(), BatchConfig{}, nil, nil)
	assert.ErrorContains(t, err, "output directory")
}

func TestOutputPaths(t *testing.T) {
	t.Parallel()
	paths := outputPaths("out", []string{"logs/a.txt", "logs:a.txt", "https://example.com/feed", "-"}, false)
	assert.Equal(t, filepath.Join("out", "logs_a.txt.tags"), paths[0])
	assert.NotEqual(t, paths[0], paths[1])
	assert.True(t, strings.HasPrefix(filepath.Base(paths[1]), "logs_a.txt-"), paths[1])
	assert.Equal(t, filepath.Join("out", "example.com_feed.tags"), paths[2])
	assert.Equal(t, filepath.Join("out", "stdin.tags"), paths[3])

	gz := outputPaths("out", []string{"a"}, true)
	assert.Equal(t, filepath.Join("out", "a.tags.gz"), gz[0])
}
