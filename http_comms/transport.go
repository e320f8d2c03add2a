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
package http_comms

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/logging"
	"www.velocidex.com/golang/dapreporter/ohttp"
	"www.velocidex.com/golang/dapreporter/utils"
)

const maxResponseSize = 1024 * 1024

var (
	reportsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dap_reports_sent",
		Help: "Number of reports accepted by the leader.",
	})

	reportBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dap_report_bytes_sent",
		Help: "Total size of reports submitted.",
	})

	reportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dap_report_errors",
		Help: "Failed submissions by failure kind.",
	}, []string{"kind"})
)

// Transport delivers pre-built reports to the leader. It never
// retries: every call is exactly one attempt.
type Transport struct {
	client  *http.Client
	timeout time.Duration
	logger  *logging.LogContext

	relay_url    string
	relay_config *ohttp.KeyConfig
}

func NewTransport(config_obj *config_proto.Config) (*Transport, error) {
	result := &Transport{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			// The report endpoint never redirects.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: config.GetTimeout(config_obj),
		logger:  logging.GetLogger(config_obj, &logging.ClientComponent),
	}

	if config_obj.Client != nil && config_obj.Client.OhttpRelay != "" {
		relay_config, err := ohttp.ParseKeyConfig(config_obj.Client.OhttpConfig)
		if err != nil {
			return nil, err
		}
		result.relay_url = config_obj.Client.OhttpRelay
		result.relay_config = relay_config
	}

	return result, nil
}

// Use a specific client, mostly for tests.
func (self *Transport) WithHTTPClient(client *http.Client) *Transport {
	result := *self
	result.client = client
	return &result
}

func (self *Transport) UsesRelay() bool {
	return self.relay_config != nil
}

func ReportURL(endpoint, task_id string) string {
	return strings.TrimRight(endpoint, "/") + "/tasks/" +
		url.PathEscape(task_id) + "/reports"
}

// Submit one report. A zero timeout uses the configured default.
func (self *Transport) Submit(ctx context.Context, timeout time.Duration,
	endpoint, task_id string, report []byte) error {
	if timeout == 0 {
		timeout = self.timeout
	}

	sub_ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := ReportURL(endpoint, task_id)
	start := time.Now()

	var err error
	if self.relay_config != nil {
		err = self.submitViaRelay(sub_ctx, target, report)
	} else {
		err = self.submitDirect(sub_ctx, target, report)
	}

	// Whatever failed, a spent deadline means this was a timeout.
	if err != nil && sub_ctx.Err() == context.DeadlineExceeded {
		err = &TransportTimeout{Url: target, Err: sub_ctx.Err()}
	}

	fields := logrus.Fields{
		"task":     task_id,
		"size":     humanize.Bytes(uint64(len(report))),
		"relay":    self.relay_config != nil,
		"duration": time.Since(start).String(),
	}

	switch t := err.(type) {
	case nil:
		reportsSent.Inc()
		reportBytesSent.Add(float64(len(report)))
		self.logger.WithFields(fields).Info("Submitted report")

	case *TransportTimeout:
		reportErrors.WithLabelValues("timeout").Inc()
		self.logger.WithFields(fields).Error("Report submission timed out")

	case *AggregatorRejected:
		reportErrors.WithLabelValues("rejected").Inc()
		fields["status"] = t.StatusCode
		if t.Type != "" {
			fields["type"] = t.Type
		}
		self.logger.WithFields(fields).Errorf("Report rejected: %v", t)

	default:
		reportErrors.WithLabelValues("network").Inc()
		self.logger.WithFields(fields).Errorf("Report submission failed: %v", err)
	}

	return err
}

func (self *Transport) submitDirect(
	ctx context.Context, target string, report []byte) error {
	req, err := http.NewRequestWithContext(ctx, "PUT", target,
		bytes.NewReader(report))
	if err != nil {
		return errors.Wrap(err, 0)
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Content-Type", constants.DAP_REPORT_MEDIA_TYPE)

	resp, err := self.client.Do(req)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer resp.Body.Close()

	body, err := utils.ReadAllWithLimit(resp.Body, maxResponseSize)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	return classifyResponse(resp.StatusCode, resp.Header, body)
}
