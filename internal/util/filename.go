// Package util holds small helpers shared by the tagex commands.
package util

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
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameLength bounds the byte length of SanitizeFilename's result.
const MaxFilenameLength = 100

// SanitizeFilename turns a source (file path, URL or "-") into a single
// filesystem-safe path element. The URL scheme is dropped, separators,
// shell-hostile characters and whitespace become underscores, and leading
// dots are removed so the result is never hidden or a parent reference.
func SanitizeFilename(input string) string {
	for _, scheme := range []string{"https://", "http://"} {
		if len(input) >= len(scheme) && strings.EqualFold(input[:len(scheme)], scheme) {
			input = input[len(scheme):]
			break
		}
	}

	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '&', '=', '#', '%':
			return '_'
		}
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == utf8.RuneError {
			return '_'
		}
		return r
	}, input)
	replaced = strings.TrimLeft(replaced, ".")
	replaced = strings.TrimRight(replaced, "_")

	if len(replaced) > MaxFilenameLength {
		cut := MaxFilenameLength
		for cut > 0 && !utf8.RuneStart(replaced[cut]) {
			cut--
		}
		replaced = replaced[:cut]
	}
	if replaced == "" || replaced == "-" {
		return "stdin"
	}
	return replaced
}
