/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package reporting

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/datastore"
	"www.velocidex.com/golang/dapreporter/logging"
	"www.velocidex.com/golang/dapreporter/services/scheduler"
)

var (
	measurementsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dap_measurements_dropped",
		Help: "Measurements dropped because the task's frequency cap was active.",
	})
)

// Moves measurements from producers into the cap store and from
// there to the aggregator on a schedule.
type ReportController struct {
	mu sync.Mutex

	config_obj *config_proto.Config
	tasks      []*dap.Task
	store      datastore.CapStore
	dispatcher *Dispatcher
	scheduler  *scheduler.Scheduler
	interval   time.Duration
	logger     *logging.LogContext

	handle *scheduler.Handle
}

func NewReportController(
	config_obj *config_proto.Config,
	store datastore.CapStore,
	dispatcher *Dispatcher,
	sched *scheduler.Scheduler) (*ReportController, error) {

	result := &ReportController{
		config_obj: config_obj,
		store:      store,
		dispatcher: dispatcher,
		scheduler:  sched,
		interval:   config.GetSubmissionInterval(config_obj),
		logger:     logging.GetLogger(config_obj, &logging.ClientComponent),
	}

	for _, task_config := range config_obj.Tasks {
		task, err := dap.NewTask(task_config)
		if err != nil {
			return nil, err
		}
		result.tasks = append(result.tasks, task)
	}

	return result, nil
}

func (self *ReportController) Tasks() []*dap.Task {
	return self.tasks
}

func (self *ReportController) findTask(task_id string) *dap.Task {
	for _, task := range self.tasks {
		if task.Id == task_id {
			return task
		}
	}
	return nil
}

// Record a measurement for later submission. A measurement dropped
// because of an active cap is not an error.
func (self *ReportController) RecordMeasurement(ctx context.Context,
	task_id string, measurement dap.Measurement) error {
	task := self.findTask(task_id)
	if task == nil {
		return &dap.ValidationError{TaskId: task_id, Reason: "unknown task"}
	}

	err := dap.ValidateMeasurement(task, measurement)
	if err != nil {
		return err
	}

	accepted, err := self.store.RecordMeasurement(ctx, task, measurement)
	if err != nil {
		self.logger.Error("ReportController: RecordMeasurement %v: %v", task_id, err)
		return err
	}

	if !accepted {
		measurementsDropped.Inc()
		self.logger.Info("ReportController: Task %v is capped, dropping measurement",
			task_id)
		return nil
	}

	self.logger.Debug("ReportController: Recorded measurement for %v", task_id)
	return nil
}

// Pick what to send for one task. The pending report is released
// before anything is sent, so the cap is consumed on the attempt
// rather than on delivery.
func (self *ReportController) drain(ctx context.Context, task *dap.Task) *Job {
	cover := &Job{
		Task:         task,
		Measurement:  task.DefaultMeasurement.Copy(),
		CoverTraffic: true,
	}

	report, err := self.store.DrainReport(ctx, task.Id)
	if err != nil {
		self.logger.Error("ReportController: Drain %v: %v", task.Id, err)
		return cover
	}

	if report == nil {
		return cover
	}

	released, err := self.store.ReleasePendingReport(ctx, report)
	if err != nil {
		// The report stays pending and is retried next cycle.
		self.logger.Error("ReportController: Release %v: %v", task.Id, err)
		return cover
	}

	// Someone else released it first and is sending it.
	if !released {
		return cover
	}

	// The task configuration may have changed since recording.
	err = dap.ValidateMeasurement(task, report.Measurement)
	if err != nil {
		self.logger.Error("ReportController: Discarding stored report: %v", err)
		return cover
	}

	return &Job{
		Task:        task,
		Measurement: report.Measurement,
	}
}

// Send one report for every task: the pending measurement if there
// is one, otherwise the default measurement as cover traffic.
func (self *ReportController) Submit(ctx context.Context,
	timeout time.Duration, reason string) []TaskResult {

	jobs := make([]*Job, 0, len(self.tasks))
	for _, task := range self.tasks {
		jobs = append(jobs, self.drain(ctx, task))
	}

	self.logger.Info("ReportController: Submitting %v reports (%v)",
		len(jobs), reason)

	return self.dispatcher.Send(ctx, timeout, reason, jobs)
}

// Start the periodic submission.
func (self *ReportController) Start(ctx context.Context) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.handle != nil {
		return
	}

	self.handle = self.scheduler.Every(ctx, "report-submission", self.interval,
		func(ctx context.Context) {
			self.Submit(ctx, 0, "periodic")
		})
}

// Cancel the periodic submission and wait for a submission in flight.
func (self *ReportController) Stop() {
	self.mu.Lock()
	handle := self.handle
	self.handle = nil
	self.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
}

// Flush everything one last time and forget all state.
func (self *ReportController) Cleanup(ctx context.Context,
	timeout time.Duration, reason string) error {
	self.Stop()
	self.Submit(ctx, timeout, reason)

	err := self.store.DeleteAllState(ctx)
	if err != nil {
		self.logger.Error("ReportController: Cleanup: %v", err)
		return err
	}
	return nil
}
