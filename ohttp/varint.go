package ohttp

import (
	"github.com/go-errors/errors"
)

var (
	truncatedError = errors.New("ohttp: truncated message")
	varintTooLarge = errors.New("ohttp: varint out of range")
)

// Variable length integers as used by QUIC (RFC 9000 section 16).
func appendVarint(b []byte, v uint64) []byte {
	switch {
	case v < 1<<6:
		return append(b, byte(v))
	case v < 1<<14:
		return append(b, byte(v>>8)|0x40, byte(v))
	case v < 1<<30:
		return append(b, byte(v>>24)|0x80, byte(v>>16), byte(v>>8), byte(v))
	default:
		return append(b, byte(v>>56)|0xc0, byte(v>>48), byte(v>>40),
			byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

type reader struct {
	data   []byte
	offset int
}

func (self *reader) remaining() int {
	return len(self.data) - self.offset
}

func (self *reader) fixed(length uint64) ([]byte, error) {
	if length > uint64(self.remaining()) {
		return nil, truncatedError
	}
	result := self.data[self.offset : self.offset+int(length)]
	self.offset += int(length)
	return result, nil
}

func (self *reader) varint() (uint64, error) {
	if self.remaining() < 1 {
		return 0, truncatedError
	}

	first := self.data[self.offset]
	length := 1 << (first >> 6)

	b, err := self.fixed(uint64(length))
	if err != nil {
		return 0, err
	}

	v := uint64(b[0] & 0x3f)
	for _, c := range b[1:] {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func (self *reader) lengthPrefixed() ([]byte, error) {
	length, err := self.varint()
	if err != nil {
		return nil, err
	}
	if length > 1<<32 {
		return nil, varintTooLarge
	}
	return self.fixed(length)
}
