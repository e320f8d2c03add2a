package reporting_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/datastore"
	"www.velocidex.com/golang/dapreporter/http_comms"
	"www.velocidex.com/golang/dapreporter/services/reporting"
	"www.velocidex.com/golang/dapreporter/services/scheduler"
	"www.velocidex.com/golang/dapreporter/utils"
	"www.velocidex.com/golang/dapreporter/vtesting"
	"www.velocidex.com/golang/dapreporter/vtesting/assert"
)

type encoded struct {
	task_id     string
	measurement dap.Measurement
}

type fakeEncoder struct {
	mu      sync.Mutex
	encoded []encoded
	fail    map[string]error
}

func (self *fakeEncoder) EncodeReport(
	task *dap.Task, measurement dap.Measurement) ([]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	err := self.fail[task.Id]
	if err != nil {
		return nil, err
	}

	self.encoded = append(self.encoded, encoded{task.Id, measurement.Copy()})
	return []byte("report:" + task.Id), nil
}

func (self *fakeEncoder) get(task_id string) []dap.Measurement {
	self.mu.Lock()
	defer self.mu.Unlock()

	var result []dap.Measurement
	for _, e := range self.encoded {
		if e.task_id == task_id {
			result = append(result, e.measurement)
		}
	}
	return result
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	hook     func(ctx context.Context, task_id string) error
	endpoint string
}

func (self *fakeSender) Submit(ctx context.Context, timeout time.Duration,
	endpoint, task_id string, report []byte) error {
	self.mu.Lock()
	hook := self.hook
	self.endpoint = endpoint
	self.mu.Unlock()

	var err error
	if hook != nil {
		err = hook(ctx, task_id)
	}

	self.mu.Lock()
	self.sent = append(self.sent, task_id)
	self.mu.Unlock()

	return err
}

func (self *fakeSender) count() int {
	self.mu.Lock()
	defer self.mu.Unlock()

	return len(self.sent)
}

type ControllerTestSuite struct {
	suite.Suite

	ctx        context.Context
	config_obj *config_proto.Config
	clock      *utils.MockClock
	store      datastore.Store
	encoder    *fakeEncoder
	sender     *fakeSender
	dispatcher *reporting.Dispatcher
	scheduler  *scheduler.Scheduler
	controller *reporting.ReportController
}

func (self *ControllerTestSuite) SetupTest() {
	self.ctx = context.Background()
	self.config_obj = &config_proto.Config{
		Client: &config_proto.ClientConfig{
			LeaderEndpoint:            "https://leader.example.com/v1",
			SubmissionIntervalMinutes: 60,
			CapWindowDays:             1,
			MaxConcurrency:            4,
		},
		Datastore: &config_proto.DatastoreConfig{
			Implementation: "memory",
		},
		Tasks: []*config_proto.Task{{
			Id:                 "t1",
			Vdaf:               "sumvec",
			Bits:               8,
			Length:             3,
			DefaultMeasurement: config_proto.Uint64Array{0, 0, 0},
		}, {
			Id:   "t2",
			Vdaf: "sum",
			Bits: 4,
		}},
	}

	self.clock = utils.NewMockClock(time.Unix(1700000000, 0))

	var err error
	self.store, err = datastore.NewStore(self.config_obj, self.clock)
	require.NoError(self.T(), err)

	self.encoder = &fakeEncoder{fail: make(map[string]error)}
	self.sender = &fakeSender{}
	self.dispatcher = reporting.NewDispatcher(
		self.config_obj, self.encoder, self.sender)
	self.scheduler = scheduler.NewScheduler(self.config_obj, self.clock)

	self.controller, err = reporting.NewReportController(
		self.config_obj, self.store, self.dispatcher, self.scheduler)
	require.NoError(self.T(), err)
}

func (self *ControllerTestSuite) TearDownTest() {
	self.controller.Stop()
	self.dispatcher.Close()
}

func (self *ControllerTestSuite) TestScenario() {
	now := self.clock.Now()

	err := self.controller.RecordMeasurement(self.ctx, "t1", dap.Measurement{0, 1, 0})
	require.NoError(self.T(), err)

	results := self.controller.Submit(self.ctx, time.Second, "test")
	require.Len(self.T(), results, 2)
	assert.Equal(self.T(), "t1", results[0].TaskId)
	assert.False(self.T(), results[0].CoverTraffic)
	assert.NoError(self.T(), results[0].Err)

	// t2 had nothing pending so it sent its default.
	assert.True(self.T(), results[1].CoverTraffic)
	assert.Equal(self.T(), []dap.Measurement{{0}}, self.encoder.get("t2"))

	assert.Equal(self.T(), []dap.Measurement{{0, 1, 0}}, self.encoder.get("t1"))
	assert.Equal(self.T(), "https://leader.example.com/v1", self.sender.endpoint)

	freq_cap, err := self.store.GetCap(self.ctx, "t1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), now.UnixMilli()+86400000, freq_cap.NextResetTimestamp)

	// Capped for the rest of the day: the measurement is silently
	// dropped and the next submit sends cover traffic.
	self.clock.Advance(time.Hour)
	err = self.controller.RecordMeasurement(self.ctx, "t1", dap.Measurement{0, 0, 1})
	assert.NoError(self.T(), err)

	results = self.controller.Submit(self.ctx, time.Second, "test")
	assert.True(self.T(), results[0].CoverTraffic)
	assert.Equal(self.T(), []dap.Measurement{{0, 1, 0}, {0, 0, 0}},
		self.encoder.get("t1"))
}

func (self *ControllerTestSuite) TestReleaseBeforeSend() {
	err := self.controller.RecordMeasurement(self.ctx, "t1", dap.Measurement{1, 2, 3})
	require.NoError(self.T(), err)

	var cap_at_send *datastore.FrequencyCap
	var pending_at_send *datastore.PendingReport

	self.sender.hook = func(ctx context.Context, task_id string) error {
		if task_id != "t1" {
			return nil
		}
		cap_at_send, _ = self.store.GetCap(ctx, "t1")
		pending_at_send, _ = self.store.DrainReport(ctx, "t1")

		// The send fails but the cap stays consumed.
		return &http_comms.TransportTimeout{Url: "test"}
	}

	results := self.controller.Submit(self.ctx, time.Second, "test")

	assert.NotNil(self.T(), cap_at_send)
	assert.Nil(self.T(), pending_at_send)

	var timeout *http_comms.TransportTimeout
	assert.ErrorAs(self.T(), results[0].Err, &timeout)
	assert.Equal(self.T(), "TransportTimeout", reporting.ErrorClass(results[0].Err))

	// Not retried within the window.
	results = self.controller.Submit(self.ctx, time.Second, "test")
	assert.True(self.T(), results[0].CoverTraffic)
}

func (self *ControllerTestSuite) TestFailureIsolation() {
	t2_sent := make(chan struct{})

	self.encoder.fail["t1"] = &dap.EncryptionFailure{Reason: "bad key"}
	self.sender.hook = func(ctx context.Context, task_id string) error {
		switch task_id {
		case "t2":
			close(t2_sent)
			return &http_comms.AggregatorRejected{StatusCode: 400, Type: "reportRejected"}
		}
		return nil
	}

	results := self.controller.Submit(self.ctx, time.Second, "test")
	require.Len(self.T(), results, 2)

	var encryption *dap.EncryptionFailure
	assert.ErrorAs(self.T(), results[0].Err, &encryption)

	var rejected *http_comms.AggregatorRejected
	assert.ErrorAs(self.T(), results[1].Err, &rejected)
	<-t2_sent

	// Only t2 reached the transport.
	assert.Equal(self.T(), 1, self.sender.count())
}

func (self *ControllerTestSuite) TestSendsAreConcurrent() {
	t2_started := make(chan struct{})

	self.sender.hook = func(ctx context.Context, task_id string) error {
		switch task_id {
		case "t1":
			// Completes only if t2 is in flight at the same time.
			select {
			case <-t2_started:
				return nil
			case <-time.After(5 * time.Second):
				return context.DeadlineExceeded
			}
		case "t2":
			close(t2_started)
		}
		return nil
	}

	results := self.controller.Submit(self.ctx, time.Second, "test")
	assert.NoError(self.T(), results[0].Err)
	assert.NoError(self.T(), results[1].Err)
}

func (self *ControllerTestSuite) TestValidation() {
	var validation *dap.ValidationError

	err := self.controller.RecordMeasurement(self.ctx, "missing", dap.Measurement{1})
	assert.ErrorAs(self.T(), err, &validation)

	err = self.controller.RecordMeasurement(self.ctx, "t1", dap.Measurement{1, 2})
	assert.ErrorAs(self.T(), err, &validation)

	err = self.controller.RecordMeasurement(self.ctx, "t2", dap.Measurement{16})
	assert.ErrorAs(self.T(), err, &validation)

	snapshot, err := self.store.Snapshot(self.ctx)
	require.NoError(self.T(), err)
	assert.Empty(self.T(), snapshot.Reports)
}

func (self *ControllerTestSuite) TestCleanup() {
	require.NoError(self.T(), self.controller.RecordMeasurement(
		self.ctx, "t1", dap.Measurement{0, 0, 9}))
	require.NoError(self.T(), self.controller.RecordMeasurement(
		self.ctx, "t2", dap.Measurement{3}))

	self.controller.Start(self.ctx)

	err := self.controller.Cleanup(self.ctx, 2*time.Second, "shutdown")
	require.NoError(self.T(), err)

	// One final submit of both tasks.
	assert.Equal(self.T(), 2, self.sender.count())
	assert.Equal(self.T(), []dap.Measurement{{3}}, self.encoder.get("t2"))

	for _, task_id := range []string{"t1", "t2"} {
		freq_cap, err := self.store.GetCap(self.ctx, task_id)
		require.NoError(self.T(), err)
		assert.Nil(self.T(), freq_cap)
	}

	assert.Len(self.T(), self.scheduler.Profile(), 0)
}

func (self *ControllerTestSuite) TestPeriodicSubmission() {
	self.controller.Start(self.ctx)

	vtesting.WaitUntil(2*time.Second, self.T(), func() bool {
		return self.clock.Waiters() == 1
	})
	self.clock.Advance(time.Hour)

	vtesting.WaitUntil(2*time.Second, self.T(), func() bool {
		return self.sender.count() == 2
	})
}

// A store that always fails.
type brokenStore struct {
	datastore.CapStore
}

func (self brokenStore) DrainReport(
	ctx context.Context, task_id string) (*datastore.PendingReport, error) {
	return nil, &datastore.StoreUnavailable{Op: "DrainReport", Err: context.Canceled}
}

func (self *ControllerTestSuite) TestStoreUnavailableSendsCover() {
	controller, err := reporting.NewReportController(
		self.config_obj, brokenStore{self.store}, self.dispatcher, self.scheduler)
	require.NoError(self.T(), err)

	results := controller.Submit(self.ctx, time.Second, "test")
	require.Len(self.T(), results, 2)
	for _, result := range results {
		assert.True(self.T(), result.CoverTraffic)
		assert.NoError(self.T(), result.Err)
	}
}

func TestReportController(t *testing.T) {
	suite.Run(t, &ControllerTestSuite{})
}
