package startup

import (
	"context"

	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/datastore"
	"www.velocidex.com/golang/dapreporter/http_comms"
	"www.velocidex.com/golang/dapreporter/logging"
	"www.velocidex.com/golang/dapreporter/services/lifecycle"
	"www.velocidex.com/golang/dapreporter/services/reporting"
	"www.velocidex.com/golang/dapreporter/services/scheduler"
	"www.velocidex.com/golang/dapreporter/services/visits"
	"www.velocidex.com/golang/dapreporter/utils"
)

// Everything the client runs, wired together.
type ClientServices struct {
	Store      datastore.Store
	Transport  *http_comms.Transport
	Dispatcher *reporting.Dispatcher
	Scheduler  *scheduler.Scheduler
	Controller *reporting.ReportController
	Manager    *lifecycle.Manager

	// Nil unless visit counting is enabled.
	Aggregator *visits.Aggregator
}

// StartClientServices builds the client's services. Nothing runs
// until the lifecycle manager is enabled.
func StartClientServices(
	ctx context.Context,
	config_obj *config_proto.Config,
	clock utils.Clock) (*ClientServices, error) {

	logger := logging.GetLogger(config_obj, &logging.ClientComponent)
	logger.Info("Starting client services for session <green>%v</>",
		utils.GetSessionId())

	store, err := datastore.NewStore(config_obj, clock)
	if err != nil {
		return nil, err
	}

	encoder, err := dap.NewEncoderFromConfig(config_obj)
	if err != nil {
		store.Close()
		return nil, err
	}
	if clock != nil {
		encoder = encoder.WithClock(clock)
	}

	transport, err := http_comms.NewTransport(config_obj)
	if err != nil {
		store.Close()
		return nil, err
	}

	result := &ClientServices{
		Store:      store,
		Transport:  transport,
		Dispatcher: reporting.NewDispatcher(config_obj, encoder, transport),
		Scheduler:  scheduler.NewScheduler(config_obj, clock),
	}

	result.Controller, err = reporting.NewReportController(
		config_obj, store, result.Dispatcher, result.Scheduler)
	if err != nil {
		result.Close()
		return nil, err
	}

	if config_obj.VisitCounting != nil && config_obj.VisitCounting.Enabled {
		result.Aggregator, err = visits.NewAggregator(
			config_obj, store, result.Dispatcher, result.Scheduler)
		if err != nil {
			result.Close()
			return nil, err
		}
	}

	result.Manager = lifecycle.NewManager(config_obj,
		result.Controller, result.Aggregator, result.Scheduler)

	return result, nil
}

// Run the shutdown hooks then release the pool and the store.
func (self *ClientServices) Shutdown(ctx context.Context) {
	self.Scheduler.Shutdown(ctx)
	self.Close()
}

func (self *ClientServices) Close() {
	self.Dispatcher.Close()

	err := self.Store.Close()
	if err != nil {
		logging.GetLogger(nil, &logging.ClientComponent).Error(
			"ClientServices: Closing store: %v", err)
	}
}
