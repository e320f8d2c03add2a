package assert

import (
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	i := 0
	tests := []bool{false, false, true}

	True(t, Retry(t, 4, time.Millisecond, func(r *R) {
		True(r, tests[i])
		i++
	}))
	Equal(t, 3, i)
}

func TestRetryFor(t *testing.T) {
	start := time.Now()
	True(t, RetryFor(t, time.Second, func(r *R) {
		True(r, time.Since(start) > 30*time.Millisecond)
	}))
}
