// Turns reporting on and off as the feature flag changes and makes
// sure everything is flushed before the process exits.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/logging"
	"www.velocidex.com/golang/dapreporter/services/experiments"
	"www.velocidex.com/golang/dapreporter/services/reporting"
	"www.velocidex.com/golang/dapreporter/services/scheduler"
	"www.velocidex.com/golang/dapreporter/services/visits"
)

var ErrDraining = errors.New("lifecycle: still draining")

type State int

const (
	Disabled State = iota
	Enabled
	Draining
)

func (self State) String() string {
	switch self {
	case Disabled:
		return "Disabled"
	case Enabled:
		return "Enabled"
	case Draining:
		return "Draining"
	}
	return "Unknown"
}

// Owns the report controller and the visit counter. The only path
// from Enabled back to Disabled goes through Draining, where the
// timers are cancelled and a final flush runs.
type Manager struct {
	mu    sync.Mutex
	state State

	controller *reporting.ReportController

	// Nil when visit counting is not configured.
	aggregator *visits.Aggregator

	timeout time.Duration
	logger  *logging.LogContext
}

func NewManager(
	config_obj *config_proto.Config,
	controller *reporting.ReportController,
	aggregator *visits.Aggregator,
	sched *scheduler.Scheduler) *Manager {

	result := &Manager{
		controller: controller,
		aggregator: aggregator,
		timeout:    config.GetTimeout(config_obj),
		logger:     logging.GetLogger(config_obj, &logging.ClientComponent),
	}

	if sched != nil {
		sched.AddShutdownHook("lifecycle", func(
			ctx context.Context, timeout time.Duration) error {
			return result.drain(ctx, timeout, "shutdown")
		})
	}

	return result
}

func (self *Manager) State() State {
	self.mu.Lock()
	defer self.mu.Unlock()

	return self.state
}

func (self *Manager) Enable(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	switch self.state {
	case Draining:
		return ErrDraining
	case Enabled:
		return nil
	}

	self.controller.Start(ctx)
	if self.aggregator != nil {
		self.aggregator.Enable(ctx)
	}

	self.state = Enabled
	self.logger.Info("Lifecycle: <green>Enabled</>")
	return nil
}

// A no-op unless currently enabled.
func (self *Manager) Disable(ctx context.Context) error {
	return self.drain(ctx, self.timeout, "disable")
}

func (self *Manager) drain(ctx context.Context,
	timeout time.Duration, reason string) error {
	self.mu.Lock()
	if self.state != Enabled {
		self.mu.Unlock()
		return nil
	}
	self.state = Draining
	self.mu.Unlock()

	defer func() {
		self.mu.Lock()
		self.state = Disabled
		self.mu.Unlock()

		self.logger.Info("Lifecycle: <red>Disabled</> (%v)", reason)
	}()

	self.logger.Info("Lifecycle: Draining (%v)", reason)

	var result error
	err := self.controller.Cleanup(ctx, timeout, reason)
	if err != nil {
		result = err
	}

	if self.aggregator != nil {
		err = self.aggregator.Disable(ctx, timeout)
		if err != nil && result == nil {
			result = err
		}
	}

	return result
}

// Apply feature flag updates until the channel closes or ctx is
// done.
func (self *Manager) Run(ctx context.Context,
	updates <-chan experiments.FeatureState) {
	for {
		select {
		case <-ctx.Done():
			return

		case update, ok := <-updates:
			if !ok {
				return
			}

			var err error
			if update.Enabled {
				err = self.Enable(ctx)
			} else {
				err = self.Disable(ctx)
			}
			if err != nil {
				self.logger.Error("Lifecycle: Applying %+v: %v", update, err)
			}
		}
	}
}

// Drain with the short shutdown deadline.
func (self *Manager) Shutdown(ctx context.Context, timeout time.Duration) error {
	return self.drain(ctx, timeout, "shutdown")
}
