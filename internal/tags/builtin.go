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

import "strings"

// Built-in tag names.
const (
	IPv4     = "ipv4"
	IPv6     = "ipv6"
	URL      = "url"
	Hostname = "hostname"
	Domain   = "domain"
	MD5      = "md5"
	SHA1     = "sha1"
	SHA256   = "sha256"
	Email    = "email"
)

const (
	octet  = `(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`
	quad   = `(?:` + octet + `\.){3}` + octet
	hex16  = `[0-9a-f]{1,4}`
	wordCh = `[0-9a-z_]`
)

// PatternIPv4 captures the address in group 1. A trailing digit rejects the
// candidate so 1.2.3.45 is never reported as 1.2.3.4.
const PatternIPv4 = `(` + quad + `)(?![0-9])`

// PatternIPv6 is tried longest form first: six groups plus a dotted quad,
// compressed with a dotted quad, eight full groups, then compressed. All
// repetition is bounded.
var PatternIPv6 = `(?<![0-9a-z_:])(?:` + strings.Join([]string{
	`(?:` + hex16 + `:){6}` + quad,
	`(?:` + hex16 + `(?::` + hex16 + `){0,4})?::(?:` + hex16 + `:){0,4}` + quad,
	`(?:` + hex16 + `:){7}` + hex16,
	`(?:` + hex16 + `(?::` + hex16 + `){0,6})?::(?:` + hex16 + `(?::` + hex16 + `){0,6})?`,
}, "|") + `)(?:%[0-9a-z]+)?(?!` + wordCh + `)`

// PatternURL is shared by url, hostname and domain.
const PatternURL = `(?:http|https)(?::/{2}[a-z0-9_]+)(?:[/|.]?)(?:[^\s"]*)`

// PatternEmail is deliberately loose: it does not validate the local part.
const PatternEmail = `[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,4}`

func hexDigest(n string) string {
	return `(?<!` + wordCh + `)[0-9a-f]{` + n + `}(?!` + wordCh + `)`
}

// Builtin returns the built-in tag definitions in registration order.
func Builtin() []Tag {
	return []Tag{
		{Name: IPv4, Pattern: PatternIPv4, Group: true, Engine: Backtracking},
		{Name: IPv6, Pattern: PatternIPv6, Engine: Backtracking},
		{Name: URL, Pattern: PatternURL, Engine: Linear},
		{Name: Hostname, Pattern: PatternURL, Engine: Linear, Refine: RefineHostname},
		{Name: Domain, Pattern: PatternURL, Engine: Linear, Refine: RefineDomain},
		{Name: MD5, Pattern: hexDigest("32"), Engine: Backtracking},
		{Name: SHA1, Pattern: hexDigest("40"), Engine: Backtracking},
		{Name: SHA256, Pattern: hexDigest("64"), Engine: Backtracking},
		{Name: Email, Pattern: PatternEmail, Engine: Linear},
	}
}
