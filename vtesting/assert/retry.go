package assert

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"
)

// Retry runs f until it stops failing or maxAttempts is reached. Use
// it for checks against goroutines that settle asynchronously.
func Retry(t *testing.T, maxAttempts int, sleep time.Duration, f func(r *R)) bool {
	error_log := &bytes.Buffer{}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r := &R{
			MaxAttempts: maxAttempts,
			Attempt:     attempt,
			log:         error_log,
		}

		f(r)

		if !r.failed {
			// Earlier failures are logged so slow paths show up.
			if attempt > 1 {
				t.Logf("Success after %d attempts:%s", attempt, r.log.String())
			}
			return true
		}

		if attempt == maxAttempts {
			t.Logf("FAILED after %d attempts:%s", attempt, r.log.String())
			t.Fail()
		}

		time.Sleep(sleep)
	}
	return false
}

// Retry for up to timeout, polling every 10ms.
func RetryFor(t *testing.T, timeout time.Duration, f func(r *R)) bool {
	attempts := int(timeout/(10*time.Millisecond)) + 1
	return Retry(t, attempts, 10*time.Millisecond, f)
}

// R is passed to each attempt and collects its failures.
type R struct {
	MaxAttempts int
	Attempt     int

	failed bool
	log    *bytes.Buffer
}

// Fail marks the run as failed, and will retry once the function returns.
func (r *R) Fail() {
	r.failed = true
}

func (r *R) FailNow() {
	r.failed = true
}

// Errorf is equivalent to Logf followed by Fail.
func (r *R) Errorf(s string, v ...interface{}) {
	r.logf(s, v...)
	r.Fail()
}

func (r *R) Fatalf(s string, v ...interface{}) {
	r.logf(s, v...)
	r.Fail()
}

// Logf formats its arguments and records it in the error log.
// The text is only printed for the final unsuccessful run or the first successful run.
func (r *R) Logf(s string, v ...interface{}) {
	r.logf(s, v...)
}

func (r *R) logf(s string, v ...interface{}) {
	fmt.Fprint(r.log, "\n")
	fmt.Fprint(r.log, lineNumber())
	fmt.Fprintf(r.log, s, v...)
}

func lineNumber() string {
	_, file, line, ok := runtime.Caller(3) // logf, public func, user function
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line) + ": "
}
