package tags

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
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Result maps a tag name to its matches in encounter order.
type Result map[string][]string

// Tags returns the keys of r, those listed in order first and in that order,
// then any others sorted.
func (r Result) Tags(order []string) []string {
	out := make([]string, 0, len(r))
	seen := make(map[string]struct{}, len(r))
	for _, name := range order {
		if _, ok := r[name]; ok {
			out = append(out, name)
			seen[name] = struct{}{}
		}
	}
	var rest []string
	for name := range r {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Count is the total number of matches over all tags.
func (r Result) Count() int {
	n := 0
	for _, m := range r {
		n += len(m)
	}
	return n
}

// ScanError reports a search that stopped early because the match timeout
// expired. Matches found before the failure are still returned. Err wraps
// ErrMatchTimeout and never quotes the input.
type ScanError struct {
	Tag string
	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan for tag '%s' failed: %v", e.Tag, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Extract scans text for the named tag. The tag is always present in the
// result, with an empty slice when nothing survives refinement.
//
//	Extract("ipv4", "0.0.0.0#1.1.1.1") == {"ipv4": ["0.0.0.0", "1.1.1.1"]}
func (r *Registry) Extract(name, text string) (Result, error) {
	ct, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	matches, err := r.scan(ct, text)
	return Result{name: matches}, err
}

// ExtractAll scans text for every registered tag. Tags without surviving
// matches are left out.
func (r *Registry) ExtractAll(text string) (Result, error) {
	return r.extractEach(r.tags, text)
}

// ExtractTags scans text for each of names. Every name is resolved before
// scanning starts, so an unknown tag fails without partial results.
func (r *Registry) ExtractTags(names []string, text string) (Result, error) {
	selected := make([]compiledTag, 0, len(names))
	for _, name := range names {
		ct, err := r.lookup(name)
		if err != nil {
			return nil, err
		}
		selected = append(selected, *ct)
	}
	return r.extractEach(selected, text)
}

func (r *Registry) extractEach(selected []compiledTag, text string) (Result, error) {
	res := make(Result, len(selected))
	var errs []error
	for i := range selected {
		matches, err := r.scan(&selected[i], text)
		if err != nil {
			errs = append(errs, err)
		}
		if len(matches) > 0 {
			res[selected[i].Name] = matches
		}
	}
	return res, errors.Join(errs...)
}

// scan runs one tag over text and refines the raw matches. The returned
// slice is never nil.
func (r *Registry) scan(ct *compiledTag, text string) ([]string, error) {
	start := time.Now()
	raw, err := ct.m.findAll(text, ct.Group)
	if err != nil {
		r.logger.Warn("tag scan stopped early",
			zap.String("tag", ct.Name),
			zap.Int("matches_before_failure", len(raw)),
			zap.Error(err))
		err = &ScanError{Tag: ct.Name, Err: err}
	}

	kept := make([]string, 0, len(raw))
	for _, m := range raw {
		if ct.Refine == nil {
			kept = append(kept, m)
			continue
		}
		v, ok := ct.Refine(m)
		if !ok {
			r.discardLog.Do(func() {
				r.logger.Debug("discarded match", zap.String("tag", ct.Name), zap.String("raw", m))
			})
			continue
		}
		kept = append(kept, v)
	}

	if r.observer != nil {
		r.observer.ObserveScan(ct.Name, len(raw), len(kept), time.Since(start))
	}
	return kept, err
}

// Unique drops repeated values per tag, keeping the first occurrence.
func Unique(res Result) Result {
	out := make(Result, len(res))
	for name, matches := range res {
		seen := make(map[string]struct{}, len(matches))
		uniq := make([]string, 0, len(matches))
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			uniq = append(uniq, m)
		}
		out[name] = uniq
	}
	return out
}
