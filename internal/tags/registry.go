/*
Package tags finds tagged values (IP addresses, URLs, host and domain names,
hashes, email addresses) in unstructured text.

A Registry holds named Tags. Each Tag has a case-insensitive pattern, an
explicit flag saying whether the value is the whole match or the first
capture group, the engine used to run the pattern, and an optional Refiner
applied to every raw match. The registry is read-only after construction and
safe for concurrent use.
*/
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
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Engine selects the regular expression implementation a Tag runs on.
type Engine int

const (
	// Linear runs on Go's RE2 engine, linear in the input size.
	Linear Engine = iota
	// Backtracking supports lookaround. Patterns on it must keep their
	// quantifiers bounded; see WithMatchTimeout.
	Backtracking
)

func (e Engine) String() string {
	switch e {
	case Linear:
		return "linear"
	case Backtracking:
		return "backtracking"
	}
	return fmt.Sprintf("Engine(%d)", int(e))
}

// Refiner turns a raw match into the value reported for a tag. Returning
// false discards the match.
type Refiner func(raw string) (string, bool)

// Tag is a named category of data and the pattern that finds it.
type Tag struct {
	Name    string
	Pattern string // Compiled case-insensitively.
	Group   bool   // Value is the first capture group rather than the whole match.
	Engine  Engine
	Refine  Refiner // nil is the identity.
}

// Observer receives one call per tag scan.
type Observer interface {
	ObserveScan(tag string, raw, kept int, elapsed time.Duration)
}

type compiledTag struct {
	Tag
	m matcher
}

// Registry is a set of compiled tags in registration order.
type Registry struct {
	tags   []compiledTag
	byName map[string]int
	names  []string

	logger       *zap.Logger
	observer     Observer
	matchTimeout time.Duration
	discardLog   *rate.Sometimes
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for discarded matches and search failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver reports every scan to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithMatchTimeout limits each backtracking search call, that is the search
// for one next match, to d. Without it searches run unbounded. Non-positive
// values are ignored.
func WithMatchTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.matchTimeout = d
		}
	}
}

// NewRegistry compiles defs in order. Names must be unique and non-empty.
func NewRegistry(defs []Tag, opts ...Option) (*Registry, error) {
	r := &Registry{
		byName:     make(map[string]int, len(defs)),
		logger:     zap.NewNop(),
		discardLog: &rate.Sometimes{First: 10, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("tag with empty name")
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tag %q", def.Name)
		}
		m, err := compile(def.Pattern, def.Engine, r.matchTimeout)
		if err != nil {
			return nil, fmt.Errorf("compile tag %q: %w", def.Name, err)
		}
		r.byName[def.Name] = len(r.tags)
		r.tags = append(r.tags, compiledTag{Tag: def, m: m})
		r.names = append(r.names, def.Name)
	}
	return r, nil
}

// New returns a registry with the built-in tags.
func New(opts ...Option) (*Registry, error) {
	return NewRegistry(Builtin(), opts...)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared built-in registry with default options.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := New()
		if err != nil {
			panic(err)
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// Names lists the registered tags in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Lookup returns the tag registered under name, or an *UnknownTagError.
func (r *Registry) Lookup(name string) (Tag, error) {
	ct, err := r.lookup(name)
	if err != nil {
		return Tag{}, err
	}
	return ct.Tag, nil
}

func (r *Registry) lookup(name string) (*compiledTag, error) {
	i, ok := r.byName[name]
	if !ok {
		return nil, &UnknownTagError{Tag: name, Valid: r.Names()}
	}
	return &r.tags[i], nil
}

// ErrUnknownTag matches any *UnknownTagError.
var ErrUnknownTag = errors.New("unknown tag")

// UnknownTagError is returned for a tag name that is not registered. Valid
// holds every registered name in registration order.
type UnknownTagError struct {
	Tag   string
	Valid []string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown tag '%s', valid tags are: %s", e.Tag, strings.Join(e.Valid, ","))
}

func (e *UnknownTagError) Is(target error) bool { return target == ErrUnknownTag }
