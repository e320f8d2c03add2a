/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package glob

import (
	"regexp"
	"strings"
)

var (
	// Support Brace Expansion {a,b}. This happens before wild card
	// expansion so you can do https://example.com/{news,sport}/*
	_GROUPING_PATTERN = regexp.MustCompile("^(.*){([^}]+)}(.*)$")
)

// Expand {a,b} groups into all alternatives, removing duplicates.
func BraceExpansion(pattern string) []string {
	var result []string
	brace_expansion(pattern, &result)
	return result
}

func brace_expansion(pattern string, result *[]string) {
	groups := _GROUPING_PATTERN.FindStringSubmatch(pattern)
	if len(groups) > 0 {
		left := groups[1]
		middle := strings.Split(groups[2], ",")
		right := groups[3]

		for _, item := range middle {
			brace_expansion(left+item+right, result)
		}
		return
	}

	for _, existing := range *result {
		if existing == pattern {
			return
		}
	}
	*result = append(*result, pattern)
}

type unicode []rune

// Translate a match pattern path into a regular expression. Only *
// is special: it matches any run of characters including /. Unlike
// shell globs, ? and [ are literal because they are common in URLs.
func wildcard_translate(pat string) string {
	res := unicode("^")

	for _, c := range unicode(pat) {
		if c == '*' {
			res = append(res, unicode(".*")...)
		} else {
			res = append(res, escape_rune(c)...)
		}
	}

	res = append(res, unicode("\\z")...)
	return string(res)
}

// Same as python's re.escape() but only for characters the regexp
// engine treats specially.
func escape_rune(x rune) unicode {
	return unicode(regexp.QuoteMeta(string(x)))
}
