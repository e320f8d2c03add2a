package dap

import (
	"bytes"
	"encoding/binary"
)

// Helpers for the TLS presentation language used on the wire. All
// integers are big endian, variable length fields carry a length
// prefix of the stated width.

func putU8(b *bytes.Buffer, v uint8) {
	b.WriteByte(v)
}

func putU16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func putU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func putU64(b *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func putOpaque16(b *bytes.Buffer, data []byte) {
	putU16(b, uint16(len(data)))
	b.Write(data)
}

func putOpaque32(b *bytes.Buffer, data []byte) {
	putU32(b, uint32(len(data)))
	b.Write(data)
}

type reader struct {
	data   []byte
	offset int
	err    error
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (self *reader) fixed(length int) []byte {
	if self.err != nil {
		return nil
	}
	if length < 0 || self.offset+length > len(self.data) {
		self.err = validationError("", "truncated message at offset %v", self.offset)
		return nil
	}
	result := self.data[self.offset : self.offset+length]
	self.offset += length
	return result
}

func (self *reader) u8() uint8 {
	b := self.fixed(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (self *reader) u16() uint16 {
	b := self.fixed(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (self *reader) u32() uint32 {
	b := self.fixed(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (self *reader) u64() uint64 {
	b := self.fixed(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (self *reader) opaque16() []byte {
	return self.fixed(int(self.u16()))
}

func (self *reader) opaque32() []byte {
	return self.fixed(int(self.u32()))
}

func (self *reader) remaining() int {
	return len(self.data) - self.offset
}

// Fails unless the whole buffer was consumed.
func (self *reader) done() error {
	if self.err != nil {
		return self.err
	}
	if self.remaining() != 0 {
		return validationError("", "%v trailing bytes", self.remaining())
	}
	return nil
}
