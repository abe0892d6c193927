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
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

// ErrMatchTimeout is reported when a backtracking search exceeds the
// registry's match timeout.
var ErrMatchTimeout = errors.New("match timeout")

// matcher returns every non-overlapping match, leftmost first. On error the
// matches found before the failure are still returned.
type matcher interface {
	findAll(text string, group bool) ([]string, error)
}

func compile(pattern string, engine Engine, timeout time.Duration) (matcher, error) {
	switch engine {
	case Linear:
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, err
		}
		return &linearMatcher{re: re}, nil
	case Backtracking:
		re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			re.MatchTimeout = timeout
		}
		return &backtrackingMatcher{re: re}, nil
	}
	return nil, fmt.Errorf("unsupported engine %v", engine)
}

type linearMatcher struct {
	re *regexp.Regexp
}

func (m *linearMatcher) findAll(text string, group bool) ([]string, error) {
	if !group {
		return m.re.FindAllString(text, -1), nil
	}
	subs := m.re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s[1])
	}
	return out, nil
}

type backtrackingMatcher struct {
	re *regexp2.Regexp
}

func (m *backtrackingMatcher) findAll(text string, group bool) ([]string, error) {
	var out []string
	match, err := m.re.FindStringMatch(text)
	for err == nil && match != nil {
		if group {
			out = append(out, match.GroupByNumber(1).String())
		} else {
			out = append(out, match.String())
		}
		match, err = m.re.FindNextMatch(match)
	}
	if err != nil {
		// regexp2 quotes the whole input in its timeout error.
		return out, fmt.Errorf("%w after %v", ErrMatchTimeout, m.re.MatchTimeout)
	}
	return out, nil
}
