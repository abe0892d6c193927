package tags_test

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
	"fmt"
	"strings"

	"github.com/x-stp/tagex/internal/tags"
)

func ExampleRegistry_ExtractAll() {
	r := tags.Default()
	fmt.Println("valid tags:", strings.Join(r.Names(), ","))

	res, err := r.ExtractAll("At http://www.example.com you might see test@example.com.")
	if err != nil {
		panic(err)
	}
	for _, tag := range res.Tags(r.Names()) {
		fmt.Printf("%s: %q\n", tag, res[tag])
	}
	// Output:
	// valid tags: ipv4,ipv6,url,hostname,domain,md5,sha1,sha256,email
	// url: ["http://www.example.com"]
	// hostname: ["www.example.com"]
	// domain: ["example.com"]
	// email: ["test@example.com"]
}

func ExampleRegistry_Extract() {
	res, err := tags.Default().Extract(tags.IPv4, "#0.0.0.0#1.1.1.1# and 192.168.1")
	if err != nil {
		panic(err)
	}
	fmt.Println(res[tags.IPv4])
	// Output: [0.0.0.0 1.1.1.1]
}
