package datastore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/utils"
	"www.velocidex.com/golang/dapreporter/vtesting/assert"
)

var (
	day         = 24 * time.Hour
	errRollback = errors.New("rollback")
)

type StoreTestSuite struct {
	suite.Suite

	implementation string

	ctx        context.Context
	config_obj *config_proto.Config
	clock      *utils.MockClock
	store      Store
	task       *dap.Task
}

func (self *StoreTestSuite) SetupTest() {
	self.ctx = context.Background()
	self.config_obj = &config_proto.Config{
		Client: &config_proto.ClientConfig{
			CapWindowDays: 1,
		},
		Datastore: &config_proto.DatastoreConfig{
			Implementation: self.implementation,
			Location:       self.T().TempDir(),
		},
	}
	self.clock = utils.NewMockClock(time.Unix(1700000000, 0))

	var err error
	self.store, err = NewStore(self.config_obj, self.clock)
	require.NoError(self.T(), err)

	self.task, err = dap.NewTask(&config_proto.Task{
		Id:                 "t1",
		Vdaf:               "sumvec",
		Bits:               8,
		Length:             3,
		DefaultMeasurement: config_proto.Uint64Array{0, 0, 0},
	})
	require.NoError(self.T(), err)
}

func (self *StoreTestSuite) TearDownTest() {
	assert.NoError(self.T(), self.store.Close())
}

func (self *StoreTestSuite) record(m ...uint64) bool {
	accepted, err := self.store.RecordMeasurement(self.ctx, self.task, m)
	require.NoError(self.T(), err)
	return accepted
}

func (self *StoreTestSuite) TestScenario() {
	now := self.clock.Now()

	assert.True(self.T(), self.record(0, 1, 0))

	report, err := self.store.DrainReport(self.ctx, "t1")
	require.NoError(self.T(), err)
	require.NotNil(self.T(), report)
	assert.Equal(self.T(), dap.Measurement{0, 1, 0}, report.Measurement)
	assert.Equal(self.T(), "sumvec", report.Vdaf)
	assert.Equal(self.T(), uint64(8), report.Bits)
	assert.Equal(self.T(), uint64(3), report.Length)

	released, err := self.store.ReleasePendingReport(self.ctx, report)
	require.NoError(self.T(), err)
	assert.True(self.T(), released)

	freq_cap, err := self.store.GetCap(self.ctx, "t1")
	require.NoError(self.T(), err)
	require.NotNil(self.T(), freq_cap)
	assert.Equal(self.T(), now.UnixMilli()+86400000, freq_cap.NextResetTimestamp)

	// Within the window new measurements are dropped.
	self.clock.Advance(time.Hour)
	assert.False(self.T(), self.record(0, 0, 1))

	report, err = self.store.DrainReport(self.ctx, "t1")
	require.NoError(self.T(), err)
	assert.Nil(self.T(), report)
}

func (self *StoreTestSuite) TestCapMonotonicity() {
	assert.True(self.T(), self.record(1, 0, 0))
	report, err := self.store.DrainReport(self.ctx, "t1")
	require.NoError(self.T(), err)
	_, err = self.store.ReleasePendingReport(self.ctx, report)
	require.NoError(self.T(), err)

	// One millisecond before the reset is still capped.
	self.clock.Advance(day - time.Millisecond)
	assert.False(self.T(), self.record(2, 0, 0))

	self.clock.Advance(time.Millisecond)
	assert.True(self.T(), self.record(3, 0, 0))

	report, err = self.store.DrainReport(self.ctx, "t1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), dap.Measurement{3, 0, 0}, report.Measurement)
}

func (self *StoreTestSuite) TestAtMostOnePending() {
	assert.True(self.T(), self.record(5, 0, 0))
	assert.True(self.T(), self.record(7, 0, 0))

	report, err := self.store.DrainReport(self.ctx, "t1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), dap.Measurement{7, 0, 0}, report.Measurement)

	snapshot, err := self.store.Snapshot(self.ctx)
	require.NoError(self.T(), err)
	assert.Len(self.T(), snapshot.Reports, 1)
}

func (self *StoreTestSuite) TestIdempotentRelease() {
	assert.True(self.T(), self.record(1, 1, 1))
	report, err := self.store.DrainReport(self.ctx, "t1")
	require.NoError(self.T(), err)

	released, err := self.store.ReleasePendingReport(self.ctx, report)
	require.NoError(self.T(), err)
	assert.True(self.T(), released)

	first, err := self.store.GetCap(self.ctx, "t1")
	require.NoError(self.T(), err)

	// Releasing again later must not push the cap out.
	self.clock.Advance(time.Hour)
	released, err = self.store.ReleasePendingReport(self.ctx, report)
	require.NoError(self.T(), err)
	assert.False(self.T(), released)

	second, err := self.store.GetCap(self.ctx, "t1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), first.NextResetTimestamp, second.NextResetTimestamp)
}

func (self *StoreTestSuite) TestDeleteAllState() {
	other, err := dap.NewTask(&config_proto.Task{
		Id: "t2", Vdaf: "sum", Bits: 4})
	require.NoError(self.T(), err)

	assert.True(self.T(), self.record(1, 0, 0))
	report, err := self.store.DrainReport(self.ctx, "t1")
	require.NoError(self.T(), err)
	_, err = self.store.ReleasePendingReport(self.ctx, report)
	require.NoError(self.T(), err)

	accepted, err := self.store.RecordMeasurement(self.ctx, other, dap.Measurement{3})
	require.NoError(self.T(), err)
	assert.True(self.T(), accepted)

	_, _, err = self.store.ConsumeBudget(self.ctx, "t1", 1, 7*day)
	require.NoError(self.T(), err)

	require.NoError(self.T(), self.store.DeleteAllState(self.ctx))

	for _, task_id := range []string{"t1", "t2"} {
		freq_cap, err := self.store.GetCap(self.ctx, task_id)
		require.NoError(self.T(), err)
		assert.Nil(self.T(), freq_cap)

		report, err := self.store.DrainReport(self.ctx, task_id)
		require.NoError(self.T(), err)
		assert.Nil(self.T(), report)
	}

	// Budgets are owned by the visit counter and cleared separately.
	budget, err := self.store.GetBudget(self.ctx, "t1")
	require.NoError(self.T(), err)
	assert.NotNil(self.T(), budget)

	require.NoError(self.T(), self.store.ClearBudgets(self.ctx))
	budget, err = self.store.GetBudget(self.ctx, "t1")
	require.NoError(self.T(), err)
	assert.Nil(self.T(), budget)
}

func (self *StoreTestSuite) TestBudget() {
	window := 7 * day
	start := self.clock.Now()

	allowed, budget, err := self.store.ConsumeBudget(self.ctx, "t1", 1, window)
	require.NoError(self.T(), err)
	assert.True(self.T(), allowed)
	assert.Equal(self.T(), uint64(1), budget.ReportCount)
	assert.Equal(self.T(), start.Add(window).UnixMilli(), budget.NextResetTimestamp)

	self.clock.Advance(6 * day)
	allowed, budget, err = self.store.ConsumeBudget(self.ctx, "t1", 1, window)
	require.NoError(self.T(), err)
	assert.False(self.T(), allowed)
	assert.Equal(self.T(), uint64(1), budget.ReportCount)

	// The count resets only once the window has elapsed.
	self.clock.Advance(day)
	allowed, budget, err = self.store.ConsumeBudget(self.ctx, "t1", 1, window)
	require.NoError(self.T(), err)
	assert.True(self.T(), allowed)
	assert.Equal(self.T(), self.clock.Now().Add(window).UnixMilli(),
		budget.NextResetTimestamp)
}

func (self *StoreTestSuite) TestConcurrentConsume() {
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed_count := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			allowed, _, err := self.store.ConsumeBudget(self.ctx, "t1", 3, day)
			assert.NoError(self.T(), err)
			if allowed {
				mu.Lock()
				allowed_count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(self.T(), 3, allowed_count)
}

func (self *StoreTestSuite) TestFailedTransactionWritesNothing() {
	backend := self.store.(*transactionalStore).backend

	err := backend.Update(self.ctx, constants.SUBMISSION_CAP_DB,
		func(tx transaction) error {
			err := tx.Put(constants.REPORTS_STORE, "t1", []byte(`{}`))
			if err != nil {
				return err
			}
			return errRollback
		})
	assert.ErrorIs(self.T(), err, errRollback)

	report, err := self.store.DrainReport(self.ctx, "t1")
	require.NoError(self.T(), err)
	assert.Nil(self.T(), report)
}

func (self *StoreTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(self.ctx)
	cancel()

	_, err := self.store.RecordMeasurement(ctx, self.task, dap.Measurement{1, 0, 0})

	var unavailable *StoreUnavailable
	assert.ErrorAs(self.T(), err, &unavailable)
	assert.Equal(self.T(), "RecordMeasurement", unavailable.Op)
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{implementation: "memory"})
}

func TestLevelDBStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{implementation: "leveldb"})
}

func TestSqliteStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{implementation: "sqlite"})
}

func TestUnknownImplementation(t *testing.T) {
	_, err := NewStore(&config_proto.Config{
		Datastore: &config_proto.DatastoreConfig{Implementation: "mysql"},
	}, nil)

	var unavailable *StoreUnavailable
	assert.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "open", unavailable.Op)
}
