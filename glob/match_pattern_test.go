package glob

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"www.velocidex.com/golang/dapreporter/vtesting/assert"
)

type matchCase struct {
	pattern string
	url     string
	match   bool
}

var match_cases = []matchCase{
	{"*://*.example.com/*", "https://example.com/", true},
	{"*://*.example.com/*", "http://www.example.com/a/b?c=d", true},
	{"*://*.example.com/*", "https://notexample.com/", false},
	{"*://*.example.com/*", "ftp://example.com/", false},
	{"https://news.example.org/sport/*", "https://news.example.org/sport/football", true},
	{"https://news.example.org/sport/*", "http://news.example.org/sport/football", false},
	{"https://news.example.org/sport/*", "https://news.example.org/politics", false},
	{"https://NEWS.example.org/*", "https://news.EXAMPLE.org/x", true},
	{"https://example.com/search?q=*", "https://example.com/search?q=shoes", true},
	{"https://example.com/search?q=*", "https://example.com/searchXq=shoes", false},
	{"https://example.com/a.html", "https://example.com/a.html#frag", true},
	{"https://example.com/a.html", "https://example.com/aXhtml", false},
	{"https://example.com/{news,sport}/*", "https://example.com/sport/1", true},
	{"https://example.com/{news,sport}/*", "https://example.com/music/1", false},
	{"*://*/*", "https://anything.test:8443/path", true},
	{"file:///home/*", "file:///home/user/a.txt", true},
	{"<all_urls>", "wss://chat.example.com/socket", true},
	{"<all_urls>", "data:text/plain,hello", false},
}

type MatchPatternTestSuite struct {
	suite.Suite
}

func (self *MatchPatternTestSuite) TestMatching() {
	for _, c := range match_cases {
		pattern, err := CompileMatchPattern(c.pattern)
		assert.NoError(self.T(), err, c.pattern)
		assert.Equal(self.T(), c.match, pattern.MatchString(c.url),
			"%v against %v", c.pattern, c.url)
	}
}

func (self *MatchPatternTestSuite) TestInvalid() {
	for _, pattern := range []string{
		"example.com/*",
		"gopher://example.com/*",
		"https://example.com",
		"https://www.*.com/*",
		"https:///path",
	} {
		_, err := CompileMatchPattern(pattern)
		assert.Error(self.T(), err, pattern)
	}
}

func (self *MatchPatternTestSuite) TestBraceExpansion() {
	assert.Equal(self.T(), []string{"/a/x", "/b/x"}, BraceExpansion("/{a,b}/x"))
	assert.Equal(self.T(), []string{"/a"}, BraceExpansion("/{a,a}"))
	assert.Equal(self.T(), []string{"/plain"}, BraceExpansion("/plain"))
}

func TestMatchPattern(t *testing.T) {
	suite.Run(t, &MatchPatternTestSuite{})
}
