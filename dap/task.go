package dap

import (
	"encoding/base64"
	"strings"

	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
)

const (
	VDAF_SUM       = "sum"
	VDAF_SUMVEC    = "sumvec"
	VDAF_HISTOGRAM = "histogram"

	TASK_ID_LENGTH = 32
)

// A scalar measurement (sum) is a single element list.
type Measurement []uint64

func (self Measurement) IsZero() bool {
	for _, v := range self {
		if v != 0 {
			return false
		}
	}
	return true
}

func (self Measurement) Copy() Measurement {
	return append(Measurement{}, self...)
}

type Task struct {
	Id                   string
	Vdaf                 string
	Bits                 uint64
	Length               uint64
	TimePrecisionSeconds uint64
	DefaultMeasurement   Measurement
}

// Builds a task from its configuration and checks that its shape is
// consistent. The id itself is only decoded when a report is built.
func NewTask(config_obj *config_proto.Task) (*Task, error) {
	if config_obj == nil {
		return nil, validationError("", "no task")
	}

	result := &Task{
		Id:                   config_obj.Id,
		Vdaf:                 strings.ToLower(config_obj.Vdaf),
		Bits:                 config_obj.Bits,
		Length:               config_obj.Length,
		TimePrecisionSeconds: config_obj.TimePrecision,
		DefaultMeasurement:   Measurement(config_obj.DefaultMeasurement).Copy(),
	}

	if result.Id == "" {
		return nil, validationError("", "task id is required")
	}

	switch result.Vdaf {
	case VDAF_SUM:
		if result.Length == 0 {
			result.Length = 1
		}
		if result.Length != 1 {
			return nil, validationError(result.Id, "sum tasks have length 1")
		}
		fallthrough

	case VDAF_SUMVEC:
		if result.Bits == 0 || result.Bits > 64 {
			return nil, validationError(result.Id,
				"bits must be between 1 and 64, not %v", result.Bits)
		}

	case VDAF_HISTOGRAM:
		// Each bucket is a single 0/1 entry.
		result.Bits = 1

	default:
		return nil, validationError(result.Id, "unsupported vdaf %q", result.Vdaf)
	}

	if result.Length == 0 {
		return nil, validationError(result.Id, "length must be positive")
	}

	if len(result.DefaultMeasurement) == 0 {
		result.DefaultMeasurement = make(Measurement, result.Length)
	}

	err := ValidateMeasurement(result, result.DefaultMeasurement)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func ValidateMeasurement(task *Task, measurement Measurement) error {
	if uint64(len(measurement)) != task.Length {
		return validationError(task.Id,
			"measurement has length %v but task expects %v",
			len(measurement), task.Length)
	}

	switch task.Vdaf {
	case VDAF_SUM, VDAF_SUMVEC:
		if task.Bits < 64 {
			limit := uint64(1) << task.Bits
			for _, v := range measurement {
				if v >= limit {
					return validationError(task.Id,
						"value %v does not fit in %v bits", v, task.Bits)
				}
			}
		}

	case VDAF_HISTOGRAM:
		total := uint64(0)
		for _, v := range measurement {
			if v > 1 {
				return validationError(task.Id,
					"histogram entries must be 0 or 1, not %v", v)
			}
			total += v
		}
		if total > 1 {
			return validationError(task.Id,
				"histogram measurement selects more than one bucket")
		}

	default:
		return validationError(task.Id, "unsupported vdaf %q", task.Vdaf)
	}

	return nil
}

// Task ids are the unpadded base64url encoding of 32 bytes.
func DecodeTaskId(task_id string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(task_id, "="))
	if err != nil {
		return nil, validationError(task_id, "task id is not base64url: %v", err)
	}

	if len(raw) != TASK_ID_LENGTH {
		return nil, validationError(task_id,
			"task id decodes to %v bytes, expected %v", len(raw), TASK_ID_LENGTH)
	}
	return raw, nil
}
