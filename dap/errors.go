package dap

import "fmt"

// A malformed task or measurement. Raised before any cryptographic
// work is done, never worth retrying with the same input.
type ValidationError struct {
	TaskId string
	Reason string
}

func (self *ValidationError) Error() string {
	if self.TaskId == "" {
		return "ValidationError: " + self.Reason
	}
	return fmt.Sprintf("ValidationError: task %v: %v", self.TaskId, self.Reason)
}

func validationError(task_id string, format string, args ...interface{}) error {
	return &ValidationError{
		TaskId: task_id,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Key decoding or HPKE sealing failed.
type EncryptionFailure struct {
	Reason string
	Err    error
}

func (self *EncryptionFailure) Error() string {
	if self.Err == nil {
		return "EncryptionFailure: " + self.Reason
	}
	return fmt.Sprintf("EncryptionFailure: %v: %v", self.Reason, self.Err)
}

func (self *EncryptionFailure) Unwrap() error {
	return self.Err
}

func encryptionFailure(reason string, err error) error {
	return &EncryptionFailure{Reason: reason, Err: err}
}
