package dap

import (
	"encoding/binary"
	"math/bits"
)

// The Field64 modulus 2^64 - 2^32 + 1.
const FIELD64_MODULUS uint64 = 0xFFFFFFFF00000001

const FIELD64_ENCODED_SIZE = 8

type Field64 uint64

func (self Field64) Add(other Field64) Field64 {
	sum, carry := bits.Add64(uint64(self), uint64(other), 0)
	if carry != 0 {
		// 2^64 mod p == 2^32 - 1
		return Field64(sum + 0xFFFFFFFF)
	}
	if sum >= FIELD64_MODULUS {
		sum -= FIELD64_MODULUS
	}
	return Field64(sum)
}

func (self Field64) Sub(other Field64) Field64 {
	diff, borrow := bits.Sub64(uint64(self), uint64(other), 0)
	if borrow != 0 {
		diff += FIELD64_MODULUS
	}
	return Field64(diff)
}

func EncodeFieldVector(vec []Field64) []byte {
	result := make([]byte, len(vec)*FIELD64_ENCODED_SIZE)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(result[i*FIELD64_ENCODED_SIZE:], uint64(v))
	}
	return result
}

func DecodeFieldVector(data []byte) ([]Field64, error) {
	if len(data)%FIELD64_ENCODED_SIZE != 0 {
		return nil, validationError("",
			"encoded field vector has %v bytes", len(data))
	}

	result := make([]Field64, 0, len(data)/FIELD64_ENCODED_SIZE)
	for i := 0; i < len(data); i += FIELD64_ENCODED_SIZE {
		v := binary.LittleEndian.Uint64(data[i:])
		if v >= FIELD64_MODULUS {
			return nil, validationError("", "field element out of range")
		}
		result = append(result, Field64(v))
	}
	return result, nil
}
