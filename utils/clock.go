package utils

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

type RealClock struct{}

func (self RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (self RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (self RealClock) Now() time.Time {
	return time.Now()
}

// A clock that only moves when told to. Timers fire when the clock
// is advanced past their deadline.
type MockClock struct {
	mu      sync.Mutex
	MockNow time.Time
	waiters []mockWaiter
}

type mockWaiter struct {
	deadline time.Time
	c        chan time.Time
}

func NewMockClock(now time.Time) *MockClock {
	return &MockClock{MockNow: now}
}

func (self *MockClock) Now() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()

	return self.MockNow
}

func (self *MockClock) After(d time.Duration) <-chan time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()

	c := make(chan time.Time, 1)
	deadline := self.MockNow.Add(d)
	if d <= 0 {
		c <- self.MockNow
		return c
	}
	self.waiters = append(self.waiters, mockWaiter{deadline: deadline, c: c})
	return c
}

func (self *MockClock) Sleep(d time.Duration) {
	<-self.After(d)
}

func (self *MockClock) Set(now time.Time) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.MockNow = now

	pending := self.waiters[:0]
	for _, w := range self.waiters {
		if !w.deadline.After(now) {
			w.c <- now
		} else {
			pending = append(pending, w)
		}
	}
	self.waiters = pending
}

func (self *MockClock) Advance(d time.Duration) {
	self.Set(self.Now().Add(d))
}

// Number of timers waiting on the clock.
func (self *MockClock) Waiters() int {
	self.mu.Lock()
	defer self.mu.Unlock()

	return len(self.waiters)
}
