package dap

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/sha3"
)

const SEED_SIZE = 16

var share_dst = []byte("dapreporter prio3 helper share")

// Algorithm ids bind the share expansion to the vdaf.
func algorithmId(vdaf string) byte {
	switch vdaf {
	case VDAF_SUM:
		return 1
	case VDAF_SUMVEC:
		return 2
	case VDAF_HISTOGRAM:
		return 3
	}
	return 0
}

// Encode a validated measurement into field elements. Sum and sumvec
// values are written as their little endian bits so the aggregators
// can range check them, histograms are already 0/1.
func encodeMeasurement(task *Task, measurement Measurement) []Field64 {
	switch task.Vdaf {
	case VDAF_SUM, VDAF_SUMVEC:
		result := make([]Field64, 0, uint64(len(measurement))*task.Bits)
		for _, v := range measurement {
			for b := uint64(0); b < task.Bits; b++ {
				result = append(result, Field64((v>>b)&1))
			}
		}
		return result

	default:
		result := make([]Field64, len(measurement))
		for i, v := range measurement {
			result[i] = Field64(v)
		}
		return result
	}
}

// The inverse of encodeMeasurement, applied to a reconstructed
// vector.
func decodeMeasurement(task *Task, encoded []Field64) (Measurement, error) {
	switch task.Vdaf {
	case VDAF_SUM, VDAF_SUMVEC:
		if uint64(len(encoded)) != task.Length*task.Bits {
			return nil, validationError(task.Id, "encoded length mismatch")
		}
		result := make(Measurement, task.Length)
		for i := range result {
			for b := uint64(0); b < task.Bits; b++ {
				bit := encoded[uint64(i)*task.Bits+b]
				if bit > 1 {
					return nil, validationError(task.Id, "encoded value is not a bit")
				}
				result[i] |= uint64(bit) << b
			}
		}
		return result, nil

	default:
		if uint64(len(encoded)) != task.Length {
			return nil, validationError(task.Id, "encoded length mismatch")
		}
		result := make(Measurement, len(encoded))
		for i, v := range encoded {
			result[i] = uint64(v)
		}
		return result, nil
	}
}

// Expand a seed into length field elements by rejection sampling
// SHAKE128 output below the modulus.
func expandSeed(vdaf string, seed []byte, length int) []Field64 {
	xof := sha3.NewShake128()
	xof.Write(share_dst)
	xof.Write([]byte{algorithmId(vdaf)})
	xof.Write(seed)

	result := make([]Field64, 0, length)
	buf := make([]byte, FIELD64_ENCODED_SIZE)
	for len(result) < length {
		_, _ = xof.Read(buf)
		v := binary.LittleEndian.Uint64(buf)
		if v < FIELD64_MODULUS {
			result = append(result, Field64(v))
		}
	}
	return result
}

// Split the encoded measurement into an explicit leader share and a
// seed from which the helper derives its share.
func shard(task *Task, measurement Measurement, rand io.Reader) (
	leader_share []Field64, helper_seed []byte, err error) {
	encoded := encodeMeasurement(task, measurement)

	helper_seed = make([]byte, SEED_SIZE)
	_, err = io.ReadFull(rand, helper_seed)
	if err != nil {
		return nil, nil, encryptionFailure("reading randomness", err)
	}

	helper_share := expandSeed(task.Vdaf, helper_seed, len(encoded))
	leader_share = make([]Field64, len(encoded))
	for i := range encoded {
		leader_share[i] = encoded[i].Sub(helper_share[i])
	}

	return leader_share, helper_seed, nil
}

// Recombine the two input shares. Used to verify reports.
func Unshard(task *Task, leader_payload, helper_payload []byte) (Measurement, error) {
	leader_share, err := DecodeFieldVector(leader_payload)
	if err != nil {
		return nil, err
	}

	if len(helper_payload) != SEED_SIZE {
		return nil, validationError(task.Id, "helper share is not a seed")
	}

	helper_share := expandSeed(task.Vdaf, helper_payload, len(leader_share))
	encoded := make([]Field64, len(leader_share))
	for i := range leader_share {
		encoded[i] = leader_share[i].Add(helper_share[i])
	}

	return decodeMeasurement(task, encoded)
}
