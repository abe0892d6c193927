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

import "strings"

// countryCodeTLDs lists two-letter country-code TLDs, including a handful that
// have since been retired (an, cs, dd, tp, yu) but still show up in old data.
var countryCodeTLDs = []string{
	"ac", "ad", "ae", "af", "ag", "ai", "al", "am", "an", "ao", "aq", "ar", "as",
	"at", "au", "aw", "ax", "az", "ba", "bb", "bd", "be", "bf", "bg", "bh", "bi",
	"bj", "bm", "bn", "bo", "br", "bs", "bt", "bv", "bw", "by", "bz", "ca", "cc",
	"cd", "cf", "cg", "ch", "ci", "ck", "cl", "cm", "cn", "co", "cr", "cs", "cu",
	"cv", "cx", "cy", "cz", "dd", "de", "dj", "dk", "dm", "do", "dz", "ec", "ee",
	"eg", "eh", "er", "es", "et", "eu", "fi", "fj", "fk", "fm", "fo", "fr", "ga",
	"gb", "gd", "ge", "gf", "gg", "gh", "gi", "gl", "gm", "gn", "gp", "gq", "gr",
	"gs", "gt", "gu", "gw", "gy", "hk", "hm", "hn", "hr", "ht", "hu", "id", "ie",
	"il", "im", "in", "io", "iq", "ir", "is", "it", "je", "jm", "jo", "jp", "ke",
	"kg", "kh", "ki", "km", "kn", "kp", "kr", "kw", "ky", "kz", "la", "lb", "lc",
	"li", "lk", "lr", "ls", "lt", "lu", "lv", "ly", "ma", "mc", "md", "me", "mg",
	"mh", "mk", "ml", "mm", "mn", "mo", "mp", "mq", "mr", "ms", "mt", "mu", "mv",
	"mw", "mx", "my", "mz", "na", "nc", "ne", "nf", "ng", "ni", "nl", "no", "np",
	"nr", "nu", "nz", "om", "pa", "pe", "pf", "pg", "ph", "pk", "pl", "pm", "pn",
	"pr", "ps", "pt", "pw", "py", "qa", "re", "ro", "rs", "ru", "rw", "sa", "sb",
	"sc", "sd", "se", "sg", "sh", "si", "sj", "sk", "sl", "sm", "sn", "so", "sr",
	"ss", "st", "su", "sv", "sx", "sy", "sz", "tc", "td", "tf", "tg", "th", "tj",
	"tk", "tl", "tm", "tn", "to", "tp", "tr", "tt", "tv", "tw", "tz", "ua", "ug",
	"uk", "us", "uy", "uz", "va", "vc", "ve", "vg", "vi", "vn", "vu", "wf", "ws",
	"ye", "yt", "yu", "za", "zm", "zw",
}

// secondLevelIndicators are the labels that, sitting directly left of a
// country-code TLD, make the pair an effective TLD (co.uk, ac.uk, com.au).
// This is deliberately small: org.uk is caught, me.uk is not.
var secondLevelIndicators = []string{"co", "org", "ac", "com"}

// knownSubdomains are always split off as a single leading subdomain, so that
// www.google.co.uk keeps google as its root.
var knownSubdomains = []string{"www", "support"}

var (
	countryCodeSet     = toSet(countryCodeTLDs)
	secondLevelSet     = toSet(secondLevelIndicators)
	knownSubdomainsSet = toSet(knownSubdomains)
)

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func inSet(set map[string]struct{}, label string) bool {
	_, ok := set[strings.ToLower(label)]
	return ok
}

// IsCountryCode reports whether label is a known two-letter country-code TLD.
// The comparison is case-insensitive.
func IsCountryCode(label string) bool { return inSet(countryCodeSet, label) }

// IsKnownSubdomain reports whether label is one of the labels that is always
// treated as a leading subdomain (www, support).
func IsKnownSubdomain(label string) bool { return inSet(knownSubdomainsSet, label) }

func isSecondLevelIndicator(label string) bool { return inSet(secondLevelSet, label) }

// CountryCodeTLDs returns a copy of the country-code table.
func CountryCodeTLDs() []string {
	out := make([]string, len(countryCodeTLDs))
	copy(out, countryCodeTLDs)
	return out
}
