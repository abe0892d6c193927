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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/x-stp/tagex/internal/tags"
)

func TestTimestamp(t *testing.T) {
	t.Parallel()
	ts := Timestamp(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))
	assert.Equal(t, "2025-03-04T05:06:07Z", ts)

	parsed, err := time.Parse(time.RFC3339, Timestamp(time.Now()))
	require.NoError(t, err)
	assert.False(t, parsed.IsZero())
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		report, tag, match string
		want               string
	}{
		{"demo", "email", "test@example.com", `demo;TS;email;"test@example.com"` + "\n"},
		{"r", "url", `http://x.example.com/a;b`, `r;TS;url;"http://x.example.com/a;b"` + "\n"},
		{"", "ipv4", "1.1.1.1", `;TS;ipv4;"1.1.1.1"` + "\n"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, FormatLine(tc.report, "TS", tc.tag, tc.match))
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	res := tags.Result{
		tags.Email:    {"test@example.com"},
		tags.Hostname: {"www.example.com"},
		tags.URL:      {"http://www.example.com"},
	}
	want := strings.Join([]string{
		`demo;TS;url;"http://www.example.com"`,
		`demo;TS;hostname;"www.example.com"`,
		`demo;TS;email;"test@example.com"`,
	}, "\n") + "\n"
	assert.Equal(t, want, Format("demo", "TS", res, tags.Default().Names()))
	assert.Empty(t, Format("demo", "TS", tags.Result{}, nil))
}

func TestWriterWriteResult(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	res := tags.Result{tags.IPv4: {"0.0.0.0", "1.1.1.1"}, tags.MD5: {}}
	n, err := w.WriteResult("rep", "TS", res, tags.Default().Names())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, w.Close())

	assert.Equal(t, "rep;TS;ipv4;\"0.0.0.0\"\nrep;TS;ipv4;\"1.1.1.1\"\n", buf.String())
	assert.EqualValues(t, 2, w.Lines())
	assert.EqualValues(t, buf.Len(), w.Bytes())
}

func TestWriterConcurrentLinesStayWhole(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NoError(t, w.WriteLine("r", "TS", "email", "a@example.com"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Flush())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 800)
	for _, l := range lines {
		assert.Equal(t, `r;TS;email;"a@example.com"`, l)
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out", "demo.tags")
	core, logs := observer.New(zapcore.DebugLevel)
	w, err := Create(context.Background(), path, false, zap.New(core))
	require.NoError(t, err)
	opened := logs.FilterMessage("report opened").All()
	require.Len(t, opened, 1)
	assert.Equal(t, path, opened[0].ContextMap()["path"])
	require.NoError(t, w.WriteLine("demo", "TS", "email", "test@example.com"))
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "demo;TS;email;\"test@example.com\"\n", string(b))
}

func TestCreateAbort(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "aborted.tags")
	w, err := Create(context.Background(), path, true, nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine("demo", "TS", "md5", "d41d8cd98f00b204e9800998ecf8427e"))
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
