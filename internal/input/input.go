/*
Package input loads the text to scan from a source: "-" for standard input,
an http or https URL, or a file path.
*/
package input

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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/x-stp/tagex/internal/client"
)

// DefaultMaxBytes caps the size of one source.
const DefaultMaxBytes = 64 << 20

// Stdin is the source name for standard input.
const Stdin = "-"

// ErrInputUnavailable matches any *UnavailableError.
var ErrInputUnavailable = errors.New("input unavailable")

// ErrTooLarge is wrapped by UnavailableError when a source exceeds the limit.
var ErrTooLarge = errors.New("input exceeds size limit")

// UnavailableError reports a source that could not be read.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("cannot read input '%s': %v", e.Source, e.Err)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrInputUnavailable }

func (e *UnavailableError) Unwrap() error { return e.Err }

// Kind classifies a source string.
type Kind int

const (
	KindFile Kind = iota
	KindStdin
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindStdin:
		return "stdin"
	case KindURL:
		return "url"
	}
	return "file"
}

// KindOf reports how source will be read.
func KindOf(source string) Kind {
	switch {
	case source == Stdin:
		return KindStdin
	case hasPrefixFold(source, "http://"), hasPrefixFold(source, "https://"):
		return KindURL
	}
	return KindFile
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Reader reads sources. The zero value reads standard input from os.Stdin
// and applies DefaultMaxBytes.
type Reader struct {
	Stdin    io.Reader
	MaxBytes int64
}

// Read loads source with a default Reader.
func Read(ctx context.Context, source string, maxBytes int64) (string, error) {
	r := Reader{MaxBytes: maxBytes}
	return r.Read(ctx, source)
}

// Read loads the whole source into memory.
func (r *Reader) Read(ctx context.Context, source string) (string, error) {
	b, err := r.read(ctx, source)
	if err != nil {
		return "", &UnavailableError{Source: source, Err: err}
	}
	return string(b), nil
}

func (r *Reader) read(ctx context.Context, source string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch KindOf(source) {
	case KindStdin:
		in := r.Stdin
		if in == nil {
			in = os.Stdin
		}
		return r.readLimited(in)
	case KindURL:
		resp, err := client.Get(ctx, source)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.ContentLength > r.limit() {
			return nil, ErrTooLarge
		}
		return r.readLimited(resp.Body)
	}

	if source == "" {
		return nil, errors.New("empty source")
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return r.readLimited(f)
}

func (r *Reader) limit() int64 {
	if r.MaxBytes > 0 {
		return r.MaxBytes
	}
	return DefaultMaxBytes
}

func (r *Reader) readLimited(in io.Reader) ([]byte, error) {
	limit := r.limit()
	b, err := io.ReadAll(io.LimitReader(in, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrTooLarge
	}
	return b, nil
}

// Name derives a short report name from a source: the base name of a file
// or URL path, "stdin" for standard input, or the host of a bare URL.
func Name(source string) string {
	switch KindOf(source) {
	case KindStdin:
		return "stdin"
	case KindURL:
		rest := source[strings.Index(source, "://")+3:]
		if i := strings.IndexAny(rest, "?#"); i >= 0 {
			rest = rest[:i]
		}
		rest = strings.TrimRight(rest, "/")
		if i := strings.IndexByte(rest, '/'); i < 0 {
			return rest
		}
		return path.Base(rest)
	}
	return filepath.Base(source)
}
