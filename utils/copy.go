package utils

import (
	"io"

	"github.com/go-errors/errors"
)

var MemoryBufferExceeded = errors.New("Memory buffer exceeded")

func ReadAllWithLimit(
	fd io.Reader, limit int) ([]byte, error) {

	// If we reach the limit signal this as an error!
	res, err := io.ReadAll(io.LimitReader(fd, int64(limit)))
	if len(res) >= limit {
		return nil, MemoryBufferExceeded
	}

	return res, err
}
