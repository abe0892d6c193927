/*
Package domainname splits a fully-qualified domain name into its component
parts: a list of subdomains, the root label and the effective TLD.

	www|google|com
	www|google|co.uk
	www|durham|ac.uk
	subdomain1.subdomain2|example|com.au

This is a lightweight best guess. It does not consult the public suffix list,
so registrable names under suffixes outside the small built-in heuristic
(me.uk, org.au with unusual labels, private suffixes) are misclassified. Use a
public-suffix based library where accuracy matters, e.g. for cookie scoping.
*/
package domainname

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
	"time"

	"github.com/dlclark/regexp2"
)

// FQDNMatchTimeout bounds a single FQDN search. Inputs are single URL tokens,
// so hitting it means the input is hostile rather than large.
const FQDNMatchTimeout = time.Second

var (
	// ErrInvalidURL is returned when no fully-qualified domain name can be found in the input.
	ErrInvalidURL = errors.New("unable to extract a fully-qualified domain name")
	// ErrInvalidFQDN is returned by Decompose for strings that are not dot-joined label sequences.
	ErrInvalidFQDN = errors.New("invalid fully-qualified domain name")
)

// InvalidURLError carries the input that did not contain an FQDN.
// It matches ErrInvalidURL with errors.Is.
type InvalidURLError struct {
	Input string
	Err   error // Non-nil when the search itself failed (e.g. timed out).
}

func (e *InvalidURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to extract a fully-qualified domain name from '%s': %v", e.Input, e.Err)
	}
	return fmt.Sprintf("unable to extract a fully-qualified domain name from '%s'", e.Input)
}

func (e *InvalidURLError) Is(target error) bool { return target == ErrInvalidURL }

func (e *InvalidURLError) Unwrap() error { return e.Err }

// fqdnPattern: dot-joined label characters ending in an alphabetic label, not
// followed by a word character or another dot. The lookahead keeps trailing
// path or query characters that are glued to the host out of the match.
var fqdnPattern = newFQDNPattern()

func newFQDNPattern() *regexp2.Regexp {
	re := regexp2.MustCompile(`(?:[a-z][a-z.0-9-]+)\.(?:[a-z][a-z-]+)(?![0-9a-z_.])`, regexp2.IgnoreCase)
	re.MatchTimeout = FQDNMatchTimeout
	return re
}

// ExtractFQDN returns the leftmost fully-qualified domain name inside text,
// which is usually a URL.
//
//	ExtractFQDN("http://www.google.co.uk/foo/bar&x=10") == "www.google.co.uk"
func ExtractFQDN(text string) (string, error) {
	m, err := fqdnPattern.FindStringMatch(text)
	if err != nil {
		return "", &InvalidURLError{Input: text, Err: err}
	}
	if m == nil {
		return "", &InvalidURLError{Input: text}
	}
	return m.String(), nil
}

// Parts is the decomposition of an FQDN. Subdomains, Root and the labels of
// EffectiveTLD, joined with dots and in that order, give back the FQDN.
type Parts struct {
	Subdomains   []string // Most significant first; empty, never nil, when there are none.
	Root         string
	EffectiveTLD string // One or two labels, e.g. "com" or "co.uk".
}

// Labels returns the full label sequence the parts were split from.
func (p Parts) Labels() []string {
	labels := make([]string, 0, len(p.Subdomains)+3)
	labels = append(labels, p.Subdomains...)
	labels = append(labels, p.Root)
	if p.EffectiveTLD != "" {
		labels = append(labels, strings.Split(p.EffectiveTLD, ".")...)
	}
	return labels
}

// Join reassembles the FQDN.
func (p Parts) Join() string { return strings.Join(p.Labels(), ".") }

// RootDomain is the root label plus the effective TLD, e.g. "google.co.uk".
func (p Parts) RootDomain() string {
	switch {
	case p.Root == "":
		return p.EffectiveTLD
	case p.EffectiveTLD == "":
		return p.Root
	}
	return p.Root + "." + p.EffectiveTLD
}

// Decompose splits fqdn into subdomains, root and effective TLD.
//
//	Decompose("sub1.google.com")        == {[sub1], google, com}
//	Decompose("sub1.sub2.google.co.uk") == {[sub1 sub2], google, co.uk}
//	Decompose("www.google.co.uk")       == {[www], google, co.uk}
//
// The result depends on fqdn alone. Label case is preserved; table lookups
// ignore it.
func Decompose(fqdn string) (Parts, error) {
	labels := strings.Split(fqdn, ".")
	if len(labels) < 2 || labels[0] == "" || labels[len(labels)-1] == "" {
		return Parts{}, fmt.Errorf("%w: %q", ErrInvalidFQDN, fqdn)
	}

	rest, tld := splitEffectiveTLD(labels)
	subs, root := splitSubdomainsRoot(rest)
	return Parts{Subdomains: subs, Root: root, EffectiveTLD: tld}, nil
}

// splitEffectiveTLD takes two labels as the TLD when the last is a country
// code and the one before it is a generic second-level indicator, and one
// label otherwise. A root label is always left over.
//
//	www.google.com   -> [www google], com
//	www.google.co.uk -> [www google], co.uk
func splitEffectiveTLD(labels []string) ([]string, string) {
	n := len(labels)
	tldLabels := 1
	if n > 2 && IsCountryCode(labels[n-1]) && isSecondLevelIndicator(labels[n-2]) {
		tldLabels = 2
	}
	cut := n - tldLabels
	return labels[:cut], strings.Join(labels[cut:], ".")
}

// splitSubdomainsRoot separates the subdomains from the root label. A known
// leading subdomain is split off on its own and the remainder is kept verbatim
// as the root; otherwise the last label is the root.
//
//	www.google            -> [www], google
//	sub1.sub2.sub3.example -> [sub1 sub2 sub3], example
func splitSubdomainsRoot(labels []string) ([]string, string) {
	if len(labels) > 1 && IsKnownSubdomain(labels[0]) {
		return []string{labels[0]}, strings.Join(labels[1:], ".")
	}
	last := len(labels) - 1
	subs := make([]string, last)
	copy(subs, labels[:last])
	return subs, labels[last]
}

// DomainName is a parsed host name.
type DomainName struct {
	fqdn  string
	parts Parts
}

// Parse finds the FQDN in urlOrText and decomposes it.
//
//	d, _ := Parse("http://www.google.co.uk/foo/bar")
//	d.RootDomain()   // "google.co.uk"
//	d.Subdomains()   // ["www"]
//	d.EffectiveTLD() // "co.uk"
func Parse(urlOrText string) (*DomainName, error) {
	fqdn, err := ExtractFQDN(urlOrText)
	if err != nil {
		return nil, err
	}
	parts, err := Decompose(fqdn)
	if err != nil {
		return nil, &InvalidURLError{Input: urlOrText, Err: err}
	}
	return &DomainName{fqdn: fqdn, parts: parts}, nil
}

// FullDomainName returns the FQDN as it appeared in the input.
func (d *DomainName) FullDomainName() string { return d.fqdn }

// RootDomain returns the domain without any subdomains.
func (d *DomainName) RootDomain() string { return d.parts.RootDomain() }

// Subdomains returns the subdomain labels, e.g. ["www"].
func (d *DomainName) Subdomains() []string {
	out := make([]string, len(d.parts.Subdomains))
	copy(out, d.parts.Subdomains)
	return out
}

// EffectiveTLD returns e.g. "co.uk" for google.co.uk, whose real TLD is "uk".
func (d *DomainName) EffectiveTLD() string { return d.parts.EffectiveTLD }

// TLD returns the real TLD, either generic or country code.
func (d *DomainName) TLD() string {
	tld := d.parts.EffectiveTLD
	if i := strings.LastIndexByte(tld, '.'); i >= 0 {
		return tld[i+1:]
	}
	return tld
}

// Parts returns a copy of the decomposition.
func (d *DomainName) Parts() Parts {
	p := d.parts
	p.Subdomains = d.Subdomains()
	return p
}

// String renders the decomposition as subdomains|root|tld.
func (d *DomainName) String() string {
	return strings.Join(d.parts.Subdomains, ".") + "|" + d.parts.Root + "|" + d.parts.EffectiveTLD
}
