package http_comms

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/ohttp"
	"www.velocidex.com/golang/dapreporter/utils"
	"www.velocidex.com/golang/dapreporter/vtesting/assert"
)

const test_task_id = "dGVzdC10YXNrLWlkLXRlc3QtdGFzay1pZC10ZXN0LTE"

type receivedRequest struct {
	method       string
	path         string
	host         string
	content_type string
	body         []byte
}

// A fake leader. Responses are selected per path.
type fakeLeader struct {
	mu        sync.Mutex
	received  []receivedRequest
	responder func(w http.ResponseWriter, r *http.Request)
}

func (self *fakeLeader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	self.mu.Lock()
	self.received = append(self.received, receivedRequest{
		method:       r.Method,
		path:         r.URL.Path,
		host:         r.Host,
		content_type: r.Header.Get("Content-Type"),
		body:         body,
	})
	responder := self.responder
	self.mu.Unlock()

	if responder != nil {
		responder(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type TransportTestSuite struct {
	suite.Suite

	leader     *fakeLeader
	server     *httptest.Server
	config_obj *config_proto.Config
}

func (self *TransportTestSuite) SetupTest() {
	self.leader = &fakeLeader{}
	self.server = httptest.NewServer(self.leader)
	self.config_obj = &config_proto.Config{
		Client: &config_proto.ClientConfig{
			LeaderEndpoint: self.server.URL + "/v1/",
			TimeoutSeconds: 5,
		},
	}
}

func (self *TransportTestSuite) TearDownTest() {
	self.server.Close()
}

func (self *TransportTestSuite) TestSubmitDirect() {
	transport, err := NewTransport(self.config_obj)
	require.NoError(self.T(), err)
	assert.False(self.T(), transport.UsesRelay())

	before, _ := utils.GetCounterValue(reportsSent)

	err = transport.Submit(context.Background(), 0,
		self.config_obj.Client.LeaderEndpoint, test_task_id, []byte("report"))
	assert.NoError(self.T(), err)

	require.Len(self.T(), self.leader.received, 1)
	received := self.leader.received[0]
	assert.Equal(self.T(), "PUT", received.method)
	assert.Equal(self.T(), "/v1/tasks/"+test_task_id+"/reports", received.path)
	assert.Equal(self.T(), constants.DAP_REPORT_MEDIA_TYPE, received.content_type)
	assert.Equal(self.T(), "report", string(received.body))

	after, _ := utils.GetCounterValue(reportsSent)
	assert.Equal(self.T(), before+1, after)
}

func (self *TransportTestSuite) TestTLSLeader() {
	leader := &fakeLeader{}
	server := httptest.NewTLSServer(leader)
	defer server.Close()

	endpoint := server.URL + "/v1/"
	transport, err := NewTransport(self.config_obj)
	require.NoError(self.T(), err)

	// The test certificate is not trusted by the default client.
	err = transport.Submit(context.Background(), 0,
		endpoint, test_task_id, []byte("report"))
	assert.Error(self.T(), err)
	assert.Len(self.T(), leader.received, 0)

	err = transport.WithHTTPClient(server.Client()).Submit(
		context.Background(), 0, endpoint, test_task_id, []byte("report"))
	assert.NoError(self.T(), err)

	require.Len(self.T(), leader.received, 1)
	assert.Equal(self.T(), "/v1/tasks/"+test_task_id+"/reports",
		leader.received[0].path)
}

func (self *TransportTestSuite) TestStructuredRejection() {
	self.leader.responder = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type": "urn:ietf:params:ppm:dap:error:reportRejected",
"title": "Report could not be processed."}`))
	}

	transport, err := NewTransport(self.config_obj)
	require.NoError(self.T(), err)

	err = transport.Submit(context.Background(), 0,
		self.config_obj.Client.LeaderEndpoint, test_task_id, []byte("report"))

	var rejected *AggregatorRejected
	require.ErrorAs(self.T(), err, &rejected)
	assert.Equal(self.T(), 400, rejected.StatusCode)
	assert.Equal(self.T(), "urn:ietf:params:ppm:dap:error:reportRejected", rejected.Type)
	assert.Equal(self.T(), "Report could not be processed.", rejected.Title)
	assert.False(self.T(), rejected.Relay)
}

func (self *TransportTestSuite) TestOpaqueRejection() {
	self.leader.responder = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}

	transport, err := NewTransport(self.config_obj)
	require.NoError(self.T(), err)

	before, _ := utils.GetCounterVecValue(reportErrors, "rejected")

	err = transport.Submit(context.Background(), 0,
		self.config_obj.Client.LeaderEndpoint, test_task_id, []byte("report"))

	var rejected *AggregatorRejected
	require.ErrorAs(self.T(), err, &rejected)
	assert.Equal(self.T(), 502, rejected.StatusCode)
	assert.Equal(self.T(), "", rejected.Type)
	assert.Equal(self.T(), "upstream exploded", rejected.Body)

	after, _ := utils.GetCounterVecValue(reportErrors, "rejected")
	assert.Equal(self.T(), before+1, after)

	// Only one attempt is ever made.
	assert.Len(self.T(), self.leader.received, 1)
}

func (self *TransportTestSuite) TestTimeout() {
	self.leader.responder = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}

	transport, err := NewTransport(self.config_obj)
	require.NoError(self.T(), err)

	start := time.Now()
	err = transport.Submit(context.Background(), 100*time.Millisecond,
		self.config_obj.Client.LeaderEndpoint, test_task_id, []byte("report"))

	var timeout *TransportTimeout
	assert.ErrorAs(self.T(), err, &timeout)

	var rejected *AggregatorRejected
	assert.False(self.T(), errors_as(err, &rejected))
	assert.True(self.T(), time.Since(start) < 4*time.Second)
}

func (self *TransportTestSuite) TestRelay() {
	key_config, private_key, err := ohttp.GenerateKeyConfig(1)
	require.NoError(self.T(), err)

	gateway := ohttp.NewGateway(key_config, private_key)
	relay := httptest.NewServer(gateway.Handler(self.leader))
	defer relay.Close()

	self.config_obj.Client.LeaderEndpoint = "https://leader.example.com/v1"
	self.config_obj.Client.OhttpRelay = relay.URL
	self.config_obj.Client.OhttpConfig = key_config.String()

	transport, err := NewTransport(self.config_obj)
	require.NoError(self.T(), err)
	assert.True(self.T(), transport.UsesRelay())

	err = transport.Submit(context.Background(), 0,
		self.config_obj.Client.LeaderEndpoint, test_task_id, []byte("report"))
	assert.NoError(self.T(), err)

	require.Len(self.T(), self.leader.received, 1)
	received := self.leader.received[0]
	assert.Equal(self.T(), "PUT", received.method)
	assert.Equal(self.T(), "leader.example.com", received.host)
	assert.Equal(self.T(), "/v1/tasks/"+test_task_id+"/reports", received.path)
	assert.Equal(self.T(), constants.DAP_REPORT_MEDIA_TYPE, received.content_type)
	assert.Equal(self.T(), "report", string(received.body))

	// Rejections from behind the relay are still structured.
	self.leader.responder = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type": "urn:ietf:params:ppm:dap:error:invalidMessage", "title": "bad"}`))
	}

	err = transport.Submit(context.Background(), 0,
		self.config_obj.Client.LeaderEndpoint, test_task_id, []byte("report"))

	var rejected *AggregatorRejected
	require.ErrorAs(self.T(), err, &rejected)
	assert.Equal(self.T(), "urn:ietf:params:ppm:dap:error:invalidMessage", rejected.Type)
	assert.False(self.T(), rejected.Relay)
}

func (self *TransportTestSuite) TestRelayRefused() {
	key_config, _, err := ohttp.GenerateKeyConfig(1)
	require.NoError(self.T(), err)

	relay := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no thanks", http.StatusForbidden)
		}))
	defer relay.Close()

	self.config_obj.Client.OhttpRelay = relay.URL
	self.config_obj.Client.OhttpConfig = key_config.String()

	transport, err := NewTransport(self.config_obj)
	require.NoError(self.T(), err)

	err = transport.Submit(context.Background(), 0,
		self.config_obj.Client.LeaderEndpoint, test_task_id, []byte("report"))

	var rejected *AggregatorRejected
	require.ErrorAs(self.T(), err, &rejected)
	assert.True(self.T(), rejected.Relay)
	assert.Equal(self.T(), http.StatusForbidden, rejected.StatusCode)
	assert.Len(self.T(), self.leader.received, 0)
}

func TestTransport(t *testing.T) {
	suite.Run(t, &TransportTestSuite{})
}
