package ohttp

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-errors/errors"
)

// Binary HTTP messages (RFC 9292), known length framing only.

const (
	framingKnownLengthRequest  = 0
	framingKnownLengthResponse = 1
)

var invalidFraming = errors.New("bhttp: unsupported framing indicator")

type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Header    http.Header
	Body      []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func appendBytes(b []byte, data []byte) []byte {
	b = appendVarint(b, uint64(len(data)))
	return append(b, data...)
}

func appendString(b []byte, data string) []byte {
	b = appendVarint(b, uint64(len(data)))
	return append(b, data...)
}

// Field names are lower case on the wire. Keys are sorted so
// encoding is deterministic.
func appendFields(b []byte, header http.Header) []byte {
	var section []byte

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range header[k] {
			section = appendString(section, strings.ToLower(k))
			section = appendString(section, v)
		}
	}

	return appendBytes(b, section)
}

func readFields(r *reader) (http.Header, error) {
	section, err := r.lengthPrefixed()
	if err != nil {
		return nil, err
	}

	result := http.Header{}
	fields := &reader{data: section}
	for fields.remaining() > 0 {
		name, err := fields.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		value, err := fields.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		result.Add(string(name), string(value))
	}
	return result, nil
}

func (self *Request) Marshal() []byte {
	b := appendVarint(nil, framingKnownLengthRequest)
	b = appendString(b, self.Method)
	b = appendString(b, self.Scheme)
	b = appendString(b, self.Authority)
	b = appendString(b, self.Path)
	b = appendFields(b, self.Header)
	b = appendBytes(b, self.Body)

	// Empty trailer section.
	return appendVarint(b, 0)
}

func UnmarshalRequest(data []byte) (*Request, error) {
	r := &reader{data: data}
	framing, err := r.varint()
	if err != nil {
		return nil, err
	}
	if framing != framingKnownLengthRequest {
		return nil, invalidFraming
	}

	result := &Request{}
	for _, field := range []*string{
		&result.Method, &result.Scheme, &result.Authority, &result.Path} {
		value, err := r.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		*field = string(value)
	}

	result.Header, err = readFields(r)
	if err != nil {
		return nil, err
	}

	// Content and trailers may be truncated when empty.
	if r.remaining() > 0 {
		result.Body, err = r.lengthPrefixed()
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (self *Response) Marshal() []byte {
	b := appendVarint(nil, framingKnownLengthResponse)
	b = appendVarint(b, uint64(self.StatusCode))
	b = appendFields(b, self.Header)
	b = appendBytes(b, self.Body)
	return appendVarint(b, 0)
}

func UnmarshalResponse(data []byte) (*Response, error) {
	r := &reader{data: data}
	framing, err := r.varint()
	if err != nil {
		return nil, err
	}
	if framing != framingKnownLengthResponse {
		return nil, invalidFraming
	}

	result := &Response{}
	for {
		status, err := r.varint()
		if err != nil {
			return nil, err
		}

		header, err := readFields(r)
		if err != nil {
			return nil, err
		}

		// Informational responses precede the final one.
		if status >= 100 && status < 200 {
			continue
		}

		if status < 200 || status > 599 {
			return nil, fmt.Errorf("bhttp: invalid status %v", status)
		}

		result.StatusCode = int(status)
		result.Header = header
		break
	}

	if r.remaining() > 0 {
		result.Body, err = r.lengthPrefixed()
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}
