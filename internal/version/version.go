/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package version extracts MAJOR.MINOR.PATCH versions from free-form command
// output.
package version

import (
	"regexp"

	goversion "github.com/hashicorp/go-version"
)

var (
	tripletRegexp      = regexp.MustCompile(`(\d+\.\d+\.\d+)`)
	linePrefixedRegexp = regexp.MustCompile(`(?m)^\s*(\d+\.\d+\.\d+)`)
)

// Find returns the first MAJOR.MINOR.PATCH substring of s, or nil.
func Find(s string) *goversion.Version {
	return parse(tripletRegexp.FindStringSubmatch(s))
}

// FindPrefix returns the first MAJOR.MINOR.PATCH that starts a line of s, or
// nil. "6.1.26r145957" yields 6.1.26.
func FindPrefix(s string) *goversion.Version {
	return parse(linePrefixedRegexp.FindStringSubmatch(s))
}

// String renders v, or "" when v is nil.
func String(v *goversion.Version) string {
	if v == nil {
		return ""
	}

	return v.String()
}

// Equal reports whether a and b are both set and equal.
func Equal(a, b *goversion.Version) bool {
	if a == nil || b == nil {
		return false
	}

	return a.Equal(b)
}

func parse(match []string) *goversion.Version {
	if len(match) < 2 {
		return nil
	}

	v, err := goversion.NewSemver(match[1])
	if err != nil {
		return nil
	}

	return v
}
