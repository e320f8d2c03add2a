// Counts visits to configured URL patterns and reports them, sending
// at most one non-zero report per task per budget window.
package visits

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/datastore"
	"www.velocidex.com/golang/dapreporter/glob"
	"www.velocidex.com/golang/dapreporter/logging"
	"www.velocidex.com/golang/dapreporter/services/reporting"
	"www.velocidex.com/golang/dapreporter/services/scheduler"
)

var (
	visitsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dap_visits_matched",
		Help: "Visible visits that matched at least one pattern.",
	})

	visitReportsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dap_visit_reports_dropped",
		Help: "Non-zero visit reports dropped because the budget was spent.",
	})
)

type VisitEvent struct {
	URL    string `json:"url"`
	Hidden bool   `json:"hidden"`
}

type bucketPattern struct {
	matcher *glob.MatchPattern
	bucket  uint64
}

// In memory only. Counts are zeroed every time they are read for a
// send.
type Counter struct {
	Task     *dap.Task
	Counts   []uint64
	Patterns []*bucketPattern
}

type Aggregator struct {
	mu sync.Mutex

	counters []*Counter
	enabled  bool
	handle   *scheduler.Handle

	budgets    datastore.BudgetStore
	dispatcher *reporting.Dispatcher
	scheduler  *scheduler.Scheduler
	logger     *logging.LogContext

	interval        time.Duration
	window          time.Duration
	max_reports     uint64
	max_visit_count uint64
}

func NewAggregator(
	config_obj *config_proto.Config,
	budgets datastore.BudgetStore,
	dispatcher *reporting.Dispatcher,
	sched *scheduler.Scheduler) (*Aggregator, error) {

	result := &Aggregator{
		budgets:         budgets,
		dispatcher:      dispatcher,
		scheduler:       sched,
		logger:          logging.GetLogger(config_obj, &logging.ClientComponent),
		interval:        config.GetSubmissionInterval(config_obj),
		window:          config.GetBudgetWindow(config_obj),
		max_reports:     constants.MAX_REPORTS,
		max_visit_count: constants.MAX_VISIT_COUNT,
	}

	visit_config := config_obj.VisitCounting
	if visit_config == nil {
		return result, nil
	}

	if visit_config.MaxReports > 0 {
		result.max_reports = visit_config.MaxReports
	}
	if visit_config.MaxVisitCount > 0 {
		result.max_visit_count = visit_config.MaxVisitCount
	}

	for _, task_config := range visit_config.Tasks {
		task, err := dap.NewTask(&task_config.Task)
		if err != nil {
			return nil, err
		}

		counter := &Counter{
			Task:   task,
			Counts: make([]uint64, task.Length),
		}

		for _, p := range task_config.Patterns {
			matcher, err := glob.CompileMatchPattern(p.Pattern)
			if err != nil {
				return nil, err
			}
			counter.Patterns = append(counter.Patterns, &bucketPattern{
				matcher: matcher,
				bucket:  p.Bucket,
			})
		}

		result.counters = append(result.counters, counter)
	}

	return result, nil
}

func (self *Aggregator) IsEnabled() bool {
	self.mu.Lock()
	defer self.mu.Unlock()

	return self.enabled
}

// Returns the number of counter slots the visit touched.
func (self *Aggregator) HandleVisit(event VisitEvent) int {
	if event.Hidden {
		return 0
	}

	parsed, err := url.Parse(event.URL)
	if err != nil {
		self.logger.Debug("Aggregator: Ignoring visit to unparsable url %v", err)
		return 0
	}

	self.mu.Lock()
	defer self.mu.Unlock()

	if !self.enabled {
		return 0
	}

	matched := 0
	for _, counter := range self.counters {
		for _, p := range counter.Patterns {
			if p.bucket >= uint64(len(counter.Counts)) ||
				!p.matcher.Match(parsed) {
				continue
			}

			matched++
			if counter.Counts[p.bucket] < self.max_visit_count {
				counter.Counts[p.bucket]++
			}
		}
	}

	if matched > 0 {
		visitsMatched.Inc()
	}

	return matched
}

// Consume visit events until the channel closes or ctx is done.
func (self *Aggregator) Run(ctx context.Context, events <-chan VisitEvent) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			self.HandleVisit(event)
		}
	}
}

// Current counts per task id.
func (self *Aggregator) Counts() map[string][]uint64 {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make(map[string][]uint64)
	for _, counter := range self.counters {
		result[counter.Task.Id] = append([]uint64{}, counter.Counts...)
	}
	return result
}

// Read and zero all counters.
func (self *Aggregator) snapshot() []*reporting.Job {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make([]*reporting.Job, 0, len(self.counters))
	for _, counter := range self.counters {
		measurement := dap.Measurement(counter.Counts).Copy()
		for i := range counter.Counts {
			counter.Counts[i] = 0
		}

		result = append(result, &reporting.Job{
			Task:         counter.Task,
			Measurement:  measurement,
			CoverTraffic: measurement.IsZero(),
		})
	}
	return result
}

// Flush all counters. All-zero vectors are always sent. A non-zero
// vector is sent only if the task's budget has room and is dropped
// otherwise. Counters are zeroed whether or not the send works.
func (self *Aggregator) Send(ctx context.Context,
	timeout time.Duration, reason string) []reporting.TaskResult {

	var jobs []*reporting.Job
	for _, job := range self.snapshot() {
		if job.CoverTraffic {
			jobs = append(jobs, job)
			continue
		}

		// A measurement the task cannot encode must not spend budget.
		err := dap.ValidateMeasurement(job.Task, job.Measurement)
		if err != nil {
			self.logger.Error("Aggregator: %v, sending cover traffic", err)
			job.Measurement = make(dap.Measurement, job.Task.Length)
			job.CoverTraffic = true
			jobs = append(jobs, job)
			continue
		}

		allowed, budget, err := self.budgets.ConsumeBudget(
			ctx, job.Task.Id, self.max_reports, self.window)
		if err != nil {
			self.logger.Error("Aggregator: Budget for %v: %v", job.Task.Id, err)
			continue
		}

		if !allowed {
			visitReportsDropped.Inc()
			self.logger.Info(
				"Aggregator: Budget for %v spent until %v, dropping report",
				job.Task.Id, time.UnixMilli(budget.NextResetTimestamp).UTC())
			continue
		}

		jobs = append(jobs, job)
	}

	return self.dispatcher.Send(ctx, timeout, reason, jobs)
}

// Start counting from zero and flush on the submission interval.
func (self *Aggregator) Enable(ctx context.Context) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.enabled {
		return
	}

	for _, counter := range self.counters {
		counter.Counts = make([]uint64, counter.Task.Length)
	}
	self.enabled = true

	self.handle = self.scheduler.Every(ctx, "visit-counter", self.interval,
		func(ctx context.Context) {
			self.Send(ctx, 0, "periodic")
		})
}

// Stop counting, flush what was counted and forget the budgets.
func (self *Aggregator) Disable(ctx context.Context, timeout time.Duration) error {
	self.mu.Lock()
	if !self.enabled {
		self.mu.Unlock()
		return nil
	}
	self.enabled = false
	handle := self.handle
	self.handle = nil
	self.mu.Unlock()

	// The periodic flush must be gone before the final one runs.
	if handle != nil {
		handle.Cancel()
	}

	self.Send(ctx, timeout, "disable")

	err := self.budgets.ClearBudgets(ctx)
	if err != nil {
		self.logger.Error("Aggregator: ClearBudgets: %v", err)
		return err
	}
	return nil
}
