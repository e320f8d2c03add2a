package logging

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"www.velocidex.com/golang/dapreporter/json"
)

var (
	tag_regex         = regexp.MustCompile("<([a-z]+)>")
	closing_tag_regex = regexp.MustCompile("</[a-z]*>")
)

// Messages may carry console color tags like <green>...</>. We do
// not colorize, we just drop them.
func clearTag(message string) string {
	message = tag_regex.ReplaceAllString(message, "")
	return closing_tag_regex.ReplaceAllString(message, "")
}

type Formatter struct {
	component string
}

func (self *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	levelText := strings.ToUpper(entry.Level.String())
	fmt.Fprintf(b, "[%s] %v %s: %s ", levelText,
		entry.Time.UTC().Format(time.RFC3339), self.component,
		clearTag(strings.TrimRight(entry.Message, "\r\n")))

	if len(entry.Data) > 0 {
		serialized, _ := json.Marshal(entry.Data)
		fmt.Fprintf(b, "%s", serialized)
	}
	b.WriteString("\n")

	return b.Bytes(), nil
}
