package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/logging"
	"www.velocidex.com/golang/dapreporter/utils"
)

const minInterval = time.Second

type Callback func(ctx context.Context)

type ShutdownHook func(ctx context.Context, timeout time.Duration) error

// A repeating task. Cancelling the handle stops further ticks and
// waits for a callback that is already running.
type Handle struct {
	mu sync.Mutex

	id       uint64
	name     string
	interval time.Duration

	// Held while the callback runs so ticks and triggers never
	// overlap.
	run_mu sync.Mutex

	// If this is busy a callback is in flight.
	busy     bool
	runs     uint64
	last_run time.Time

	cancelled bool
	cancel    func()
	done      chan struct{}

	// Callbacks get the scheduler's context, not the handle's, so a
	// cancel does not abort a send that is already in flight.
	ctx   context.Context
	cb    Callback
	clock utils.Clock

	owner *Scheduler
}

func (self *Handle) Name() string {
	return self.name
}

func (self *Handle) IsBusy() bool {
	self.mu.Lock()
	defer self.mu.Unlock()

	return self.busy
}

func (self *Handle) Runs() uint64 {
	self.mu.Lock()
	defer self.mu.Unlock()

	return self.runs
}

func (self *Handle) run() {
	self.run_mu.Lock()
	defer self.run_mu.Unlock()

	self.mu.Lock()
	if self.cancelled {
		self.mu.Unlock()
		return
	}
	self.busy = true
	self.mu.Unlock()

	defer func() {
		self.mu.Lock()
		self.busy = false
		self.runs++
		self.last_run = self.clock.Now()
		self.mu.Unlock()
	}()

	defer utils.CheckForPanic("Scheduler: callback %v", self.name)

	self.cb(self.ctx)
}

// Run the callback now, outside the regular schedule. Returns false
// if the handle was already cancelled.
func (self *Handle) Trigger() bool {
	self.mu.Lock()
	cancelled := self.cancelled
	self.mu.Unlock()

	if cancelled {
		return false
	}

	self.run()
	return true
}

// Stop the repeating task and wait for any callback in flight to
// finish. Safe to call more than once but never from inside the
// callback itself.
func (self *Handle) Cancel() {
	self.mu.Lock()
	already := self.cancelled
	self.cancelled = true
	self.mu.Unlock()

	if !already {
		self.cancel()
		self.owner.remove(self)
	}

	<-self.done

	// Join a Trigger() running on another goroutine.
	self.run_mu.Lock()
	self.run_mu.Unlock()
}

func (self *Handle) loop(loop_ctx context.Context) {
	defer close(self.done)

	for {
		select {
		case <-loop_ctx.Done():
			return

		case <-self.clock.After(self.interval):
			self.run()
		}
	}
}

func (self *Handle) profile() *ordereddict.Dict {
	self.mu.Lock()
	defer self.mu.Unlock()

	return ordereddict.NewDict().
		Set("Name", self.name).
		Set("Interval", self.interval.String()).
		Set("Runs", self.runs).
		Set("LastRun", self.last_run).
		Set("IsBusy", self.busy)
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// Owns the repeating timers and the hooks that run at exit.
type Scheduler struct {
	mu sync.Mutex

	handles  map[uint64]*Handle
	hooks    []namedHook
	shutdown bool

	clock            utils.Clock
	shutdown_timeout time.Duration
	logger           *logging.LogContext
}

func NewScheduler(config_obj *config_proto.Config, clock utils.Clock) *Scheduler {
	if clock == nil {
		clock = utils.RealClock{}
	}

	return &Scheduler{
		handles:          make(map[uint64]*Handle),
		clock:            clock,
		shutdown_timeout: config.GetShutdownTimeout(config_obj),
		logger:           logging.GetLogger(config_obj, &logging.ClientComponent),
	}
}

// Call cb every interval until the handle is cancelled, ctx is done
// or the scheduler shuts down.
func (self *Scheduler) Every(ctx context.Context,
	name string, interval time.Duration, cb Callback) *Handle {
	if interval < minInterval {
		interval = minInterval
	}

	loop_ctx, cancel := context.WithCancel(ctx)

	handle := &Handle{
		id:       utils.GetId(),
		name:     name,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
		ctx:      ctx,
		cb:       cb,
		clock:    self.clock,
		owner:    self,
	}

	self.mu.Lock()
	if self.shutdown {
		self.mu.Unlock()

		// Never started so there is nothing to join.
		handle.cancelled = true
		cancel()
		close(handle.done)
		return handle
	}
	self.handles[handle.id] = handle
	self.mu.Unlock()

	self.logger.Info("Scheduler: Registered <green>%v</> every %v",
		name, interval)

	go handle.loop(loop_ctx)

	return handle
}

func (self *Scheduler) remove(handle *Handle) {
	self.mu.Lock()
	defer self.mu.Unlock()

	delete(self.handles, handle.id)
}

// Hooks run in reverse order of registration.
func (self *Scheduler) AddShutdownHook(name string, hook ShutdownHook) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.hooks = append(self.hooks, namedHook{name: name, hook: hook})
}

func (self *Scheduler) Profile() []*ordereddict.Dict {
	self.mu.Lock()
	handles := make([]*Handle, 0, len(self.handles))
	for _, h := range self.handles {
		handles = append(handles, h)
	}
	self.mu.Unlock()

	result := make([]*ordereddict.Dict, 0, len(handles))
	for _, h := range handles {
		result = append(result, h.profile())
	}
	return result
}

// Cancel every timer, then run the shutdown hooks. Each hook is told
// to bound its network calls by the shutdown timeout.
func (self *Scheduler) Shutdown(ctx context.Context) {
	self.mu.Lock()
	if self.shutdown {
		self.mu.Unlock()
		return
	}
	self.shutdown = true

	handles := make([]*Handle, 0, len(self.handles))
	for _, h := range self.handles {
		handles = append(handles, h)
	}
	hooks := self.hooks
	self.hooks = nil
	self.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		self.logger.Info("Scheduler: Running shutdown hook <green>%v</>", hook.name)

		err := hook.hook(ctx, self.shutdown_timeout)
		if err != nil {
			self.logger.Error("Scheduler: Shutdown hook %v: %v", hook.name, err)
		}
	}
}
