package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/tagex/internal/input"
	"github.com/x-stp/tagex/internal/tags"
)

const demoText = "At http://www.example.com you might see test@example.com."

type result struct {
	code   int
	stdout string
	stderr string
}

// runCLI runs tagex with an isolated config file appended to args.
func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	return runCLIWithConfig(t, "log:\n  level: warn\n", stdin, args...)
}

func runCLIWithConfig(t *testing.T, yaml, stdin string, args ...string) result {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "tagex.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(yaml), 0o644))

	var out, errb bytes.Buffer
	code := run(append(args, "--config", cfg), strings.NewReader(stdin), &out, &errb)
	return result{code: code, stdout: out.String(), stderr: errb.String()}
}

// runApp runs a prepared app with the default test config.
func runApp(t *testing.T, a *app, args ...string) int {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "tagex.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("log:\n  level: debug\n  format: json\n"), 0o644))
	return a.execute(append(args, "--config", cfg))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// splitReport checks every line shares one RFC3339 timestamp and returns
// the lines with it replaced by TS.
func splitReport(t *testing.T, out string) []string {
	t.Helper()
	var lines []string
	stamp := ""
	for _, l := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		if l == "" {
			continue
		}
		parts := strings.SplitN(l, ";", 4)
		require.Len(t, parts, 4, l)
		_, err := time.Parse(time.RFC3339, parts[1])
		require.NoError(t, err, parts[1])
		if stamp == "" {
			stamp = parts[1]
		}
		assert.Equal(t, stamp, parts[1])
		lines = append(lines, strings.Join([]string{parts[0], "TS", parts[2], parts[3]}, ";"))
	}
	return lines
}

func TestScanFile(t *testing.T) {
	t.Parallel()
	src := writeFile(t, "demo.txt", demoText)
	r := runCLI(t, "", "scan", "demo", src)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, []string{
		`demo;TS;url;"http://www.example.com"`,
		`demo;TS;hostname;"www.example.com"`,
		`demo;TS;domain;"example.com"`,
		`demo;TS;email;"test@example.com"`,
	}, splitReport(t, r.stdout))
}

func TestScanStdinWithTagsAndUnique(t *testing.T) {
	t.Parallel()
	r := runCLI(t, "1.1.1.1 test@example.com 1.1.1.1 2.2.2.2", "scan", "feed", "-", "-t", "ipv4", "--unique")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, []string{
		`feed;TS;ipv4;"1.1.1.1"`,
		`feed;TS;ipv4;"2.2.2.2"`,
	}, splitReport(t, r.stdout))
}

func TestExtract(t *testing.T) {
	t.Parallel()
	src := writeFile(t, "ips.txt", "#0.0.0.0#1.1.1.1# and 192.168.1")
	r := runCLI(t, "", "extract", "ipv4", src)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, []string{
		`tag;TS;ipv4;"0.0.0.0"`,
		`tag;TS;ipv4;"1.1.1.1"`,
	}, splitReport(t, r.stdout))

	r = runCLI(t, "", "extract", "ipv4", src, "--report", "ips")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.True(t, strings.HasPrefix(r.stdout, "ips;"), r.stdout)
}

func TestExtractUnknownTag(t *testing.T) {
	t.Parallel()
	src := writeFile(t, "a.txt", demoText)
	r := runCLI(t, "", "extract", "mac", src)
	assert.Equal(t, exitUnknownTag, r.code)
	assert.Empty(t, r.stdout)
	assert.Contains(t, r.stderr, "unknown tag 'mac', valid tags are: ipv4,ipv6,url,hostname,domain,md5,sha1,sha256,email")
	assert.Contains(t, r.stderr, "Usage:")
}

func TestUnknownTagWinsOverMissingInput(t *testing.T) {
	t.Parallel()
	r := runCLI(t, "", "scan", "x", filepath.Join(t.TempDir(), "missing"), "--tag", "mac")
	assert.Equal(t, exitUnknownTag, r.code)
}

func TestExtractMissingInput(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "missing.txt")
	r := runCLI(t, "", "extract", "email", missing)
	assert.Equal(t, exitInputUnavailable, r.code)
	assert.Contains(t, r.stderr, "cannot read input '"+missing+"'")
	assert.Contains(t, r.stderr, "Usage:")
	assert.Contains(t, r.stderr, "Valid tags are: ipv4,")
}

func TestWrongArgumentCount(t *testing.T) {
	t.Parallel()
	r := runCLI(t, "", "extract", "email")
	assert.Equal(t, exitFailure, r.code)
	assert.Contains(t, r.stderr, "extract expects 2 argument(s) <tag> <source>, got 1")
	assert.Contains(t, r.stderr, "Usage:")

	r = runCLI(t, "", "scan", "a", "b", "--no-such-flag")
	assert.Equal(t, exitFailure, r.code)
	assert.Contains(t, r.stderr, "Usage:")
}

func TestTagsCommand(t *testing.T) {
	t.Parallel()
	r := runCLI(t, "", "tags")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, strings.Join(tags.Default().Names(), "\n")+"\n", r.stdout)
}

func TestDomainCommand(t *testing.T) {
	t.Parallel()
	r := runCLI(t, "", "domain", "http://www.google.co.uk/foo/bar", "mail.example.com")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "www|google|co.uk\nmail|example|com\n", r.stdout)

	r = runCLI(t, "", "domain", "--root", "http://www.google.co.uk/foo/bar")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, "google.co.uk\n", r.stdout)

	r = runCLI(t, "", "domain", "not a domain", "example.org")
	assert.Equal(t, exitFailure, r.code)
	assert.Equal(t, "|example|org\n", r.stdout)
	assert.Contains(t, r.stderr, "not a domain")
}

func TestScanToCompressedFile(t *testing.T) {
	t.Parallel()
	src := writeFile(t, "h.txt", "d41d8cd98f00b204e9800998ecf8427e")
	out := filepath.Join(t.TempDir(), "report.gz")
	r := runCLI(t, "", "scan", "hashes", src, "-o", out, "--compress")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Empty(t, r.stdout)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, []string{`hashes;TS;md5;"d41d8cd98f00b204e9800998ecf8427e"`}, splitReport(t, string(b)))
}

func TestBatchCommand(t *testing.T) {
	t.Parallel()
	a := writeFile(t, "a.txt", demoText)
	b := writeFile(t, "b.txt", "10.0.0.1")
	list := writeFile(t, "sources.txt", "# sources\n\n"+b+"\n")
	outDir := filepath.Join(t.TempDir(), "reports")

	r := runCLI(t, "", "batch", a, "--sources-file", list, "--output-dir", outDir, "--workers", "2", "--stats=false")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Total Sources: 2")
	assert.Contains(t, r.stdout, "Matches: 5")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, strings.HasSuffix(e.Name(), ".tags"), e.Name())
	}
}

func TestBatchCommandFailures(t *testing.T) {
	t.Parallel()
	outDir := t.TempDir()
	r := runCLI(t, "", "batch", filepath.Join(t.TempDir(), "gone.txt"), "--output-dir", outDir, "--stats=false")
	assert.Equal(t, exitInputUnavailable, r.code)
	assert.Contains(t, r.stdout, "Failed: 1")

	r = runCLI(t, "", "batch", "--output-dir", outDir)
	assert.Equal(t, exitFailure, r.code)
	assert.Contains(t, r.stderr, "at least one <source>")

	r = runCLI(t, "", "batch", "x", "--output-dir", outDir, "-t", "mac", "--stats=false")
	assert.Equal(t, exitUnknownTag, r.code)
}

func TestConfigFileDrivesLogging(t *testing.T) {
	t.Parallel()
	src := writeFile(t, "a.txt", "nothing here")
	r := runCLIWithConfig(t, "log:\n  level: debug\n  format: json\n", "", "scan", "r", src)
	require.Equal(t, exitOK, r.code, r.stderr)

	var runID string
	for _, line := range strings.Split(strings.TrimSpace(r.stderr), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		id, ok := entry["run_id"].(string)
		require.True(t, ok, line)
		if runID == "" {
			runID = id
		}
		assert.Equal(t, runID, id, "one run id per invocation")
	}
	assert.Len(t, runID, 36)
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()
	src := writeFile(t, "a.txt", "x")
	r := runCLIWithConfig(t, "log:\n  format: xml\n", "", "scan", "r", src)
	assert.Equal(t, exitFailure, r.code)
	assert.Contains(t, r.stderr, "log.format")
}

func TestMetricsFile(t *testing.T) {
	t.Parallel()
	src := writeFile(t, "a.txt", demoText)
	prom := filepath.Join(t.TempDir(), "tagex.prom")
	r := runCLI(t, "", "scan", "r", src, "--metrics-file", prom)
	require.Equal(t, exitOK, r.code, r.stderr)

	b, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(b), `tagex_tag_matches_total{tag="email"}`)
	assert.Contains(t, string(b), "tagex_input_bytes_total")
}

// shoutTag backtracks exponentially on any line without '!' or '?'.
var shoutTag = tags.Tag{Name: "shout", Pattern: `[a-z]+!|(?:.+)*\?`, Engine: tags.Backtracking}

func TestScanWritesMatchesFoundBeforeTimeout(t *testing.T) {
	t.Parallel()
	const tail = "Do you think you found the problem string"
	src := writeFile(t, "shout.txt", "one!\ntwo!\n"+tail)

	var out, errb bytes.Buffer
	a := newApp(strings.NewReader(""), &out, &errb)
	a.tagDefs = append(tags.Builtin(), shoutTag)
	code := runApp(t, a, "scan", "r", src, "-t", "shout", "--match-timeout", "1ns")

	assert.Equal(t, exitFailure, code)
	assert.Equal(t, []string{`r;TS;shout;"one!"`, `r;TS;shout;"two!"`}, splitReport(t, out.String()))
	assert.Contains(t, errb.String(), "Error: scan for tag 'shout' failed: match timeout")
	assert.NotContains(t, errb.String(), tail)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestScanReportWriteFailure(t *testing.T) {
	t.Parallel()
	var errb bytes.Buffer
	a := newApp(strings.NewReader(strings.Repeat("10.0.0.1 ", 1000)), failingWriter{}, &errb)
	code := runApp(t, a, "scan", "r", "-", "-t", "ipv4")

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errb.String(), "Error: writing report: disk full")
	assert.Contains(t, errb.String(), `"msg":"discarding report failed"`)
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUnknownTag, exitCode(fmt.Errorf("scan: %w", &tags.UnknownTagError{Tag: "mac"})))
	assert.Equal(t, exitInputUnavailable, exitCode(&input.UnavailableError{Source: "x", Err: os.ErrNotExist}))
	assert.Equal(t, exitInputUnavailable, exitCode(errors.Join(errors.New("other"), &input.UnavailableError{Source: "x"})))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}
