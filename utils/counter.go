package utils

import (
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	idx uint64

	// Identifies this process in logs.
	session_id = uuid.New().String()
)

func GetId() uint64 {
	return atomic.AddUint64(&idx, 1)
}

func GetSessionId() string {
	return session_id
}
