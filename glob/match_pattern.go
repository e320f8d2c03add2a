package glob

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const ALL_URLS = "<all_urls>"

var (
	wildcard_schemes = []string{"http", "https", "ws", "wss"}
	all_url_schemes  = []string{"http", "https", "ws", "wss", "ftp", "file"}
	known_schemes    = map[string]bool{
		"http": true, "https": true, "ws": true, "wss": true,
		"ftp": true, "file": true,
	}
)

// A compiled URL match pattern of the form <scheme>://<host><path>
// or <all_urls>. Compile once, match per event.
type MatchPattern struct {
	pattern string

	schemes []string

	// Host matching. An empty host with match_any_host false only
	// matches URLs without a host (file://).
	match_any_host  bool
	match_subdomain bool
	host            string

	path *regexp.Regexp
}

func CompileMatchPattern(pattern string) (*MatchPattern, error) {
	result := &MatchPattern{pattern: pattern}

	if pattern == ALL_URLS {
		result.schemes = all_url_schemes
		result.match_any_host = true
		result.path = regexp.MustCompile(wildcard_translate("*"))
		return result, nil
	}

	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return nil, fmt.Errorf("match pattern %q: missing scheme separator", pattern)
	}

	switch {
	case scheme == "*":
		result.schemes = wildcard_schemes
	case known_schemes[scheme]:
		result.schemes = []string{scheme}
	default:
		return nil, fmt.Errorf("match pattern %q: invalid scheme %q", pattern, scheme)
	}

	host, path, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, fmt.Errorf("match pattern %q: missing path", pattern)
	}
	path = "/" + path

	switch {
	case host == "*":
		result.match_any_host = true

	case strings.HasPrefix(host, "*."):
		result.match_subdomain = true
		result.host = strings.ToLower(host[2:])

	case host == "" && scheme != "file":
		return nil, fmt.Errorf("match pattern %q: missing host", pattern)

	default:
		result.host = strings.ToLower(host)
	}

	if strings.Contains(result.host, "*") {
		return nil, fmt.Errorf(
			"match pattern %q: * may only appear as the first host label", pattern)
	}

	// Brace groups become alternatives of one regex.
	var alternatives []string
	for _, expanded := range BraceExpansion(path) {
		alternatives = append(alternatives, wildcard_translate(expanded))
	}

	re, err := regexp.Compile("(?s)" + strings.Join(alternatives, "|"))
	if err != nil {
		return nil, fmt.Errorf("match pattern %q: %w", pattern, err)
	}
	result.path = re

	return result, nil
}

func (self *MatchPattern) String() string {
	return self.pattern
}

func (self *MatchPattern) MatchString(raw_url string) bool {
	parsed, err := url.Parse(raw_url)
	if err != nil {
		return false
	}
	return self.Match(parsed)
}

func (self *MatchPattern) Match(u *url.URL) bool {
	if !self.matchScheme(strings.ToLower(u.Scheme)) {
		return false
	}

	if !self.matchHost(strings.ToLower(u.Hostname())) {
		return false
	}

	// The path part matches against the path and query but never
	// the fragment.
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return self.path.MatchString(path)
}

func (self *MatchPattern) matchScheme(scheme string) bool {
	for _, s := range self.schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func (self *MatchPattern) matchHost(host string) bool {
	if self.match_any_host {
		return true
	}

	if host == self.host {
		return true
	}

	return self.match_subdomain && strings.HasSuffix(host, "."+self.host)
}
