package http_comms

import (
	"fmt"
	"net/http"
	"strings"

	"www.velocidex.com/golang/dapreporter/json"
	"www.velocidex.com/golang/dapreporter/utils"
)

// The deadline passed before the aggregator answered.
type TransportTimeout struct {
	Url string
	Err error
}

func (self *TransportTimeout) Error() string {
	return fmt.Sprintf("TransportTimeout: %v: %v", self.Url, self.Err)
}

func (self *TransportTimeout) Unwrap() error {
	return self.Err
}

// A non-2xx answer. Type and Title are only set when the server sent
// a structured problem document, otherwise Body holds the raw text.
type AggregatorRejected struct {
	StatusCode int
	Type       string
	Title      string
	Detail     string
	Body       string

	// Set when the relay refused the request before it reached the
	// aggregator.
	Relay bool
}

func (self *AggregatorRejected) Error() string {
	who := "aggregator"
	if self.Relay {
		who = "relay"
	}

	if self.Type != "" || self.Title != "" {
		return fmt.Sprintf("AggregatorRejected: %v returned %v: %v (%v)",
			who, self.StatusCode, self.Title, self.Type)
	}
	return fmt.Sprintf("AggregatorRejected: %v returned %v: %v",
		who, self.StatusCode, utils.Elide(self.Body, 200))
}

type problemDocument struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func isJSON(content_type string, body []byte) bool {
	if strings.Contains(strings.ToLower(content_type), "json") {
		return true
	}
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "{")
}

// Returns nil for success, otherwise an AggregatorRejected shaped by
// the body.
func classifyResponse(status_code int, header http.Header, body []byte) error {
	if status_code >= 200 && status_code < 300 {
		return nil
	}

	result := &AggregatorRejected{StatusCode: status_code}

	if isJSON(header.Get("Content-Type"), body) {
		problem := &problemDocument{}
		err := json.Unmarshal(body, problem)
		if err == nil {
			result.Type = problem.Type
			result.Title = problem.Title
			result.Detail = problem.Detail
			return result
		}
	}

	result.Body = string(body)
	return result
}
