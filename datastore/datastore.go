/*
   Velociraptor - Hunting Evil
   Copyright (C) 2019 Velocidex Innovations.

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
// Persistent storage of frequency caps, pending reports and budgets.
package datastore

import (
	"context"
	"errors"
	"time"

	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/utils"
)

// Once written, no new pending report is accepted for the task until
// the clock passes NextResetTimestamp (milliseconds since the epoch).
type FrequencyCap struct {
	TaskId             string `json:"taskId"`
	NextResetTimestamp int64  `json:"nextResetTimestamp"`
}

func (self *FrequencyCap) Active(now time.Time) bool {
	return now.UnixMilli() < self.NextResetTimestamp
}

// At most one of these exists per task.
type PendingReport struct {
	TaskId      string          `json:"taskId"`
	Vdaf        string          `json:"vdaf"`
	Bits        uint64          `json:"bits"`
	Length      uint64          `json:"length"`
	Measurement dap.Measurement `json:"measurement"`
}

type Budget struct {
	TaskId             string `json:"taskId"`
	ReportCount        uint64 `json:"reportCount"`
	NextResetTimestamp int64  `json:"nextResetTimestamp"`
}

func (self *Budget) Expired(now time.Time) bool {
	return now.UnixMilli() >= self.NextResetTimestamp
}

type CapStore interface {
	// A nil cap means there is none.
	GetCap(ctx context.Context, task_id string) (*FrequencyCap, error)

	// Stores the measurement as the task's pending report unless an
	// active cap exists, in which case nothing is written and
	// accepted is false.
	RecordMeasurement(ctx context.Context, task *dap.Task,
		measurement dap.Measurement) (accepted bool, err error)

	// A nil report means nothing is pending.
	DrainReport(ctx context.Context, task_id string) (*PendingReport, error)

	// Deletes the pending report and refreshes the cap in one
	// transaction. Releasing a report that is already gone does
	// nothing.
	ReleasePendingReport(ctx context.Context,
		report *PendingReport) (released bool, err error)

	DeleteAllState(ctx context.Context) error
}

type BudgetStore interface {
	GetBudget(ctx context.Context, task_id string) (*Budget, error)

	// Resets an expired budget, then counts one report against it if
	// there is room left.
	ConsumeBudget(ctx context.Context, task_id string,
		max_reports uint64, window time.Duration) (bool, *Budget, error)

	ClearBudgets(ctx context.Context) error
}

// Everything persisted, for inspection.
type Snapshot struct {
	Caps    []*FrequencyCap
	Reports []*PendingReport
	Budgets []*Budget
}

type Store interface {
	CapStore
	BudgetStore

	Snapshot(ctx context.Context) (*Snapshot, error)

	// Called to close all db handles. Not thread safe.
	Close() error
}

// The stores held by each database.
var databases = map[string][]string{
	constants.SUBMISSION_CAP_DB: {constants.FREQ_CAPS_STORE, constants.REPORTS_STORE},
	constants.REPORT_COUNTER_DB: {constants.BUDGETS_STORE},
}

func NewStore(config_obj *config_proto.Config, clock utils.Clock) (Store, error) {
	if config_obj.Datastore == nil {
		return nil, &StoreUnavailable{
			Op: "open", Err: errors.New("no datastore configured")}
	}

	var backend backend
	var err error

	location := config_obj.Datastore.Location

	switch config_obj.Datastore.Implementation {
	case "memory":
		backend = newMemoryBackend()

	case "leveldb", "":
		backend, err = newLevelDBBackend(location)

	case "sqlite":
		backend, err = newSqliteBackend(location)

	default:
		err = errors.New("no datastore implementation " +
			config_obj.Datastore.Implementation)
	}

	if err != nil {
		return nil, &StoreUnavailable{Op: "open", Err: err}
	}

	return newTransactionalStore(backend, clock, config.GetCapWindow(config_obj)), nil
}
