package datastore

import (
	"context"
	"time"

	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/json"
	"www.velocidex.com/golang/dapreporter/utils"
)

// Implements Store over any backend. All the cap and budget rules
// live here so every backend behaves the same.
type transactionalStore struct {
	backend backend
	clock   utils.Clock

	// How long a released report blocks new measurements.
	window time.Duration
}

func newTransactionalStore(backend backend, clock utils.Clock,
	window time.Duration) *transactionalStore {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &transactionalStore{
		backend: backend,
		clock:   clock,
		window:  window,
	}
}

func getJSON(tx transaction, store, key string, target interface{}) (bool, error) {
	serialized, err := tx.Get(store, key)
	if err != nil || serialized == nil {
		return false, err
	}

	err = json.Unmarshal(serialized, target)
	if err != nil {
		return false, err
	}
	return true, nil
}

func putJSON(tx transaction, store, key string, value interface{}) error {
	serialized, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return tx.Put(store, key, serialized)
}

func getCap(tx transaction, task_id string) (*FrequencyCap, error) {
	result := &FrequencyCap{}
	pres, err := getJSON(tx, constants.FREQ_CAPS_STORE, task_id, result)
	if err != nil || !pres {
		return nil, err
	}
	return result, nil
}

func getReport(tx transaction, task_id string) (*PendingReport, error) {
	result := &PendingReport{}
	pres, err := getJSON(tx, constants.REPORTS_STORE, task_id, result)
	if err != nil || !pres {
		return nil, err
	}
	return result, nil
}

func getBudget(tx transaction, task_id string) (*Budget, error) {
	result := &Budget{}
	pres, err := getJSON(tx, constants.BUDGETS_STORE, task_id, result)
	if err != nil || !pres {
		return nil, err
	}
	return result, nil
}

func (self *transactionalStore) GetCap(
	ctx context.Context, task_id string) (result *FrequencyCap, err error) {
	err = self.backend.Update(ctx, constants.SUBMISSION_CAP_DB,
		func(tx transaction) error {
			result, err = getCap(tx, task_id)
			return err
		})
	return result, unavailable("GetCap", err)
}

func (self *transactionalStore) RecordMeasurement(ctx context.Context,
	task *dap.Task, measurement dap.Measurement) (accepted bool, err error) {
	now := self.clock.Now()

	err = self.backend.Update(ctx, constants.SUBMISSION_CAP_DB,
		func(tx transaction) error {
			freq_cap, err := getCap(tx, task.Id)
			if err != nil {
				return err
			}

			if freq_cap != nil && freq_cap.Active(now) {
				accepted = false
				return nil
			}

			accepted = true
			return putJSON(tx, constants.REPORTS_STORE, task.Id, &PendingReport{
				TaskId:      task.Id,
				Vdaf:        task.Vdaf,
				Bits:        task.Bits,
				Length:      task.Length,
				Measurement: measurement.Copy(),
			})
		})
	if err != nil {
		return false, unavailable("RecordMeasurement", err)
	}
	return accepted, nil
}

func (self *transactionalStore) DrainReport(
	ctx context.Context, task_id string) (result *PendingReport, err error) {
	err = self.backend.Update(ctx, constants.SUBMISSION_CAP_DB,
		func(tx transaction) error {
			result, err = getReport(tx, task_id)
			return err
		})
	return result, unavailable("DrainReport", err)
}

func (self *transactionalStore) ReleasePendingReport(
	ctx context.Context, report *PendingReport) (released bool, err error) {
	now := self.clock.Now()

	err = self.backend.Update(ctx, constants.SUBMISSION_CAP_DB,
		func(tx transaction) error {
			existing, err := getReport(tx, report.TaskId)
			if err != nil {
				return err
			}

			// Already released.
			if existing == nil {
				released = false
				return nil
			}

			err = tx.Delete(constants.REPORTS_STORE, report.TaskId)
			if err != nil {
				return err
			}

			released = true
			return putJSON(tx, constants.FREQ_CAPS_STORE, report.TaskId,
				&FrequencyCap{
					TaskId:             report.TaskId,
					NextResetTimestamp: now.Add(self.window).UnixMilli(),
				})
		})
	if err != nil {
		return false, unavailable("ReleasePendingReport", err)
	}
	return released, nil
}

func (self *transactionalStore) DeleteAllState(ctx context.Context) error {
	err := self.backend.Update(ctx, constants.SUBMISSION_CAP_DB,
		func(tx transaction) error {
			err := tx.DeleteAll(constants.FREQ_CAPS_STORE)
			if err != nil {
				return err
			}
			return tx.DeleteAll(constants.REPORTS_STORE)
		})
	return unavailable("DeleteAllState", err)
}

func (self *transactionalStore) GetBudget(
	ctx context.Context, task_id string) (result *Budget, err error) {
	err = self.backend.Update(ctx, constants.REPORT_COUNTER_DB,
		func(tx transaction) error {
			result, err = getBudget(tx, task_id)
			return err
		})
	return result, unavailable("GetBudget", err)
}

func (self *transactionalStore) ConsumeBudget(
	ctx context.Context, task_id string,
	max_reports uint64, window time.Duration) (allowed bool, result *Budget, err error) {
	now := self.clock.Now()

	err = self.backend.Update(ctx, constants.REPORT_COUNTER_DB,
		func(tx transaction) error {
			result, err = getBudget(tx, task_id)
			if err != nil {
				return err
			}

			if result == nil || result.Expired(now) {
				result = &Budget{
					TaskId:             task_id,
					NextResetTimestamp: now.Add(window).UnixMilli(),
				}
			}

			if result.ReportCount >= max_reports {
				allowed = false

				// Persist a reset that happened above.
				return putJSON(tx, constants.BUDGETS_STORE, task_id, result)
			}

			result.ReportCount++
			allowed = true
			return putJSON(tx, constants.BUDGETS_STORE, task_id, result)
		})
	if err != nil {
		return false, nil, unavailable("ConsumeBudget", err)
	}
	return allowed, result, nil
}

func (self *transactionalStore) ClearBudgets(ctx context.Context) error {
	err := self.backend.Update(ctx, constants.REPORT_COUNTER_DB,
		func(tx transaction) error {
			return tx.DeleteAll(constants.BUDGETS_STORE)
		})
	return unavailable("ClearBudgets", err)
}

func (self *transactionalStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	result := &Snapshot{}

	err := self.backend.Update(ctx, constants.SUBMISSION_CAP_DB,
		func(tx transaction) error {
			keys, err := tx.Keys(constants.FREQ_CAPS_STORE)
			if err != nil {
				return err
			}
			for _, k := range keys {
				item, err := getCap(tx, k)
				if err != nil {
					return err
				}
				if item != nil {
					result.Caps = append(result.Caps, item)
				}
			}

			keys, err = tx.Keys(constants.REPORTS_STORE)
			if err != nil {
				return err
			}
			for _, k := range keys {
				item, err := getReport(tx, k)
				if err != nil {
					return err
				}
				if item != nil {
					result.Reports = append(result.Reports, item)
				}
			}
			return nil
		})
	if err != nil {
		return nil, unavailable("Snapshot", err)
	}

	err = self.backend.Update(ctx, constants.REPORT_COUNTER_DB,
		func(tx transaction) error {
			keys, err := tx.Keys(constants.BUDGETS_STORE)
			if err != nil {
				return err
			}
			for _, k := range keys {
				item, err := getBudget(tx, k)
				if err != nil {
					return err
				}
				if item != nil {
					result.Budgets = append(result.Budgets, item)
				}
			}
			return nil
		})
	if err != nil {
		return nil, unavailable("Snapshot", err)
	}

	return result, nil
}

func (self *transactionalStore) Close() error {
	return unavailable("Close", self.backend.Close())
}
