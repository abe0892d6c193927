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

import "github.com/x-stp/tagex/internal/domainname"

// RefineHostname reduces a URL to its fully-qualified host name.
//
//	RefineHostname("http://www.example.com/x") == "www.example.com", true
func RefineHostname(raw string) (string, bool) {
	d, err := domainname.Parse(raw)
	if err != nil {
		return "", false
	}
	return d.Parts().Join(), true
}

// RefineDomain reduces a URL to its root domain.
//
//	RefineDomain("http://www.example.co.uk/x") == "example.co.uk", true
func RefineDomain(raw string) (string, bool) {
	d, err := domainname.Parse(raw)
	if err != nil {
		return "", false
	}
	return d.RootDomain(), true
}
