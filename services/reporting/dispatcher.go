package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/datastore"
	"www.velocidex.com/golang/dapreporter/http_comms"
	"www.velocidex.com/golang/dapreporter/logging"
)

var (
	reportsAttempted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dap_reports_attempted",
		Help: "Reports handed to the transport, by kind (measurement or cover).",
	}, []string{"kind"})

	reportsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dap_reports_failed",
		Help: "Reports that failed, by error class.",
	}, []string{"class"})
)

// Builds the encrypted report. Satisfied by *dap.Encoder.
type Encoder interface {
	EncodeReport(task *dap.Task, measurement dap.Measurement) ([]byte, error)
}

// Delivers a report. Satisfied by *http_comms.Transport.
type Sender interface {
	Submit(ctx context.Context, timeout time.Duration,
		endpoint, task_id string, report []byte) error
}

// One report to send.
type Job struct {
	Task         *dap.Task
	Measurement  dap.Measurement
	CoverTraffic bool
}

// The outcome for one task in a Submit or Send call.
type TaskResult struct {
	TaskId       string
	CoverTraffic bool
	Err          error
}

// Encodes and sends a batch of reports concurrently on a shared
// pool. Used by both the report controller and the visit counter.
type Dispatcher struct {
	encoder  Encoder
	sender   Sender
	endpoint string
	pool     pond.Pool
	logger   *logging.LogContext
}

func NewDispatcher(config_obj *config_proto.Config,
	encoder Encoder, sender Sender) *Dispatcher {
	endpoint := ""
	if config_obj.Client != nil {
		endpoint = config_obj.Client.LeaderEndpoint
	}

	return &Dispatcher{
		encoder:  encoder,
		sender:   sender,
		endpoint: endpoint,
		pool:     pond.NewPool(config.GetMaxConcurrency(config_obj)),
		logger:   logging.GetLogger(config_obj, &logging.ClientComponent),
	}
}

// Send all jobs and wait until every one has settled. A failure in
// one job never affects the others.
func (self *Dispatcher) Send(ctx context.Context, timeout time.Duration,
	reason string, jobs []*Job) []TaskResult {
	results := make([]TaskResult, len(jobs))
	group := self.pool.NewGroup()

	for idx, job := range jobs {
		results[idx] = TaskResult{
			TaskId:       job.Task.Id,
			CoverTraffic: job.CoverTraffic,
		}

		group.Submit(func() {
			results[idx].Err = self.sendOne(ctx, timeout, job)
		})
	}

	// Individual errors are already captured in the results.
	_ = group.Wait()

	for _, result := range results {
		self.logResult(reason, result)
	}

	return results
}

func (self *Dispatcher) sendOne(ctx context.Context,
	timeout time.Duration, job *Job) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("panic while sending report: %v", r)
		}
	}()

	kind := "measurement"
	if job.CoverTraffic {
		kind = "cover"
	}
	reportsAttempted.WithLabelValues(kind).Inc()

	report, err := self.encoder.EncodeReport(job.Task, job.Measurement)
	if err != nil {
		return err
	}

	return self.sender.Submit(ctx, timeout, self.endpoint, job.Task.Id, report)
}

// Name the error class for logs and metrics.
func ErrorClass(err error) string {
	var validation *dap.ValidationError
	var encryption *dap.EncryptionFailure
	var store *datastore.StoreUnavailable
	var timeout *http_comms.TransportTimeout
	var rejected *http_comms.AggregatorRejected

	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return "ValidationError"
	case errors.As(err, &encryption):
		return "EncryptionFailure"
	case errors.As(err, &store):
		return "StoreUnavailable"
	case errors.As(err, &timeout):
		return "TransportTimeout"
	case errors.As(err, &rejected):
		return "AggregatorRejected"
	default:
		return "Error"
	}
}

func (self *Dispatcher) logResult(reason string, result TaskResult) {
	fields := logrus.Fields{
		"task":   result.TaskId,
		"reason": reason,
		"cover":  result.CoverTraffic,
	}

	if result.Err == nil {
		self.logger.WithFields(fields).Debug("Report sent")
		return
	}

	class := ErrorClass(result.Err)
	reportsFailed.WithLabelValues(class).Inc()

	fields["class"] = class
	self.logger.WithFields(fields).Errorf("Report failed: %v", result.Err)
}

func (self *Dispatcher) Close() {
	self.pool.StopAndWait()
}
