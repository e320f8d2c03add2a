package dap_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/sha3"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/utils"
	"www.velocidex.com/golang/dapreporter/vtesting"
	"www.velocidex.com/golang/dapreporter/vtesting/assert"
)

type ReportTestSuite struct {
	suite.Suite

	leader, helper *vtesting.TestAggregator
	clock          *utils.MockClock
	encoder        *dap.Encoder
	task_id        string
}

func (self *ReportTestSuite) SetupTest() {
	self.leader = vtesting.NewTestAggregator(self.T(), 1)
	self.helper = vtesting.NewTestAggregator(self.T(), 2)
	self.clock = utils.NewMockClock(time.Unix(1700000123, 0))
	self.encoder = dap.NewEncoder(self.leader.Config, self.helper.Config).
		WithClock(self.clock)
	self.task_id = vtesting.NewTaskId(self.T())
}

func (self *ReportTestSuite) task(vdaf string, bits, length uint64) *dap.Task {
	task, err := dap.NewTask(&config_proto.Task{
		Id:            self.task_id,
		Vdaf:          vdaf,
		Bits:          bits,
		Length:        length,
		TimePrecision: 300,
	})
	require.NoError(self.T(), err)
	return task
}

// Encrypt, decrypt both shares and recombine them.
func (self *ReportTestSuite) roundTrip(
	task *dap.Task, measurement dap.Measurement) (*dap.Report, dap.Measurement) {
	encoded, err := self.encoder.EncodeReport(task, measurement)
	require.NoError(self.T(), err)

	report, err := dap.DecodeReport(encoded)
	require.NoError(self.T(), err)

	leader_payload, err := report.OpenShare(task, dap.ROLE_LEADER,
		self.leader.Config, self.leader.PrivateKey)
	require.NoError(self.T(), err)

	helper_payload, err := report.OpenShare(task, dap.ROLE_HELPER,
		self.helper.Config, self.helper.PrivateKey)
	require.NoError(self.T(), err)

	// The leader share on its own says nothing useful.
	assert.Equal(self.T(), int(task.Length*task.Bits)*dap.FIELD64_ENCODED_SIZE,
		len(leader_payload))
	assert.Equal(self.T(), dap.SEED_SIZE, len(helper_payload))

	result, err := dap.Unshard(task, leader_payload, helper_payload)
	require.NoError(self.T(), err)

	return report, result
}

func (self *ReportTestSuite) TestSumRoundTrip() {
	task := self.task(dap.VDAF_SUM, 8, 0)
	report, result := self.roundTrip(task, dap.Measurement{200})
	assert.Equal(self.T(), dap.Measurement{200}, result)

	// Time is truncated to the task precision.
	assert.Equal(self.T(), uint64(1700000100), report.Metadata.Time)
	assert.Equal(self.T(), uint8(1), report.LeaderShare.ConfigId)
	assert.Equal(self.T(), uint8(2), report.HelperShare.ConfigId)
	assert.Empty(self.T(), report.PublicShare)
}

func (self *ReportTestSuite) TestSumVecRoundTrip() {
	task := self.task(dap.VDAF_SUMVEC, 8, 3)
	_, result := self.roundTrip(task, dap.Measurement{0, 1, 255})
	assert.Equal(self.T(), dap.Measurement{0, 1, 255}, result)
}

func (self *ReportTestSuite) TestHistogramRoundTrip() {
	task := self.task(dap.VDAF_HISTOGRAM, 0, 4)
	_, result := self.roundTrip(task, dap.Measurement{0, 0, 1, 0})
	assert.Equal(self.T(), dap.Measurement{0, 0, 1, 0}, result)

	_, result = self.roundTrip(task, task.DefaultMeasurement)
	assert.Equal(self.T(), dap.Measurement{0, 0, 0, 0}, result)
}

func (self *ReportTestSuite) TestReportsAreRandomized() {
	task := self.task(dap.VDAF_SUMVEC, 8, 3)

	first, err := self.encoder.EncodeReport(task, dap.Measurement{0, 0, 0})
	assert.NoError(self.T(), err)

	second, err := self.encoder.EncodeReport(task, dap.Measurement{0, 0, 0})
	assert.NoError(self.T(), err)

	assert.False(self.T(), bytes.Equal(first, second))
}

func seededRand(seed string) io.Reader {
	h := sha3.NewShake128()
	h.Write([]byte(seed))
	return h
}

type failingReader struct{}

func (self failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func (self *ReportTestSuite) TestInjectedRandomness() {
	task := self.task(dap.VDAF_SUMVEC, 8, 3)

	// All randomness comes from the reader so the same stream gives
	// the same bytes.
	first, err := self.encoder.WithRand(seededRand("report")).
		EncodeReport(task, dap.Measurement{4, 5, 6})
	require.NoError(self.T(), err)

	second, err := self.encoder.WithRand(seededRand("report")).
		EncodeReport(task, dap.Measurement{4, 5, 6})
	require.NoError(self.T(), err)
	assert.Equal(self.T(), first, second)

	other, err := self.encoder.WithRand(seededRand("other")).
		EncodeReport(task, dap.Measurement{4, 5, 6})
	require.NoError(self.T(), err)
	assert.False(self.T(), bytes.Equal(first, other))

	// The deterministic report still decrypts to the measurement.
	report, err := dap.DecodeReport(first)
	require.NoError(self.T(), err)
	leader_payload, err := report.OpenShare(task, dap.ROLE_LEADER,
		self.leader.Config, self.leader.PrivateKey)
	require.NoError(self.T(), err)
	helper_payload, err := report.OpenShare(task, dap.ROLE_HELPER,
		self.helper.Config, self.helper.PrivateKey)
	require.NoError(self.T(), err)
	result, err := dap.Unshard(task, leader_payload, helper_payload)
	require.NoError(self.T(), err)
	assert.Equal(self.T(), dap.Measurement{4, 5, 6}, result)

	_, err = self.encoder.WithRand(failingReader{}).
		EncodeReport(task, dap.Measurement{4, 5, 6})
	var encryption_failure *dap.EncryptionFailure
	assert.ErrorAs(self.T(), err, &encryption_failure)
}

func (self *ReportTestSuite) TestLengthMismatchFailsBeforeCrypto() {
	task := self.task(dap.VDAF_SUMVEC, 8, 3)

	// An encoder without keys would fail with EncryptionFailure if
	// it got as far as sealing.
	encoder := dap.NewEncoder(nil, nil)

	_, err := encoder.EncodeReport(task, dap.Measurement{0, 1})
	var validation_error *dap.ValidationError
	assert.ErrorAs(self.T(), err, &validation_error)

	_, err = encoder.EncodeReport(task, dap.Measurement{0, 1, 0})
	var encryption_failure *dap.EncryptionFailure
	assert.ErrorAs(self.T(), err, &encryption_failure)
}

func (self *ReportTestSuite) TestValidation() {
	sum := self.task(dap.VDAF_SUM, 4, 0)
	assert.NoError(self.T(), dap.ValidateMeasurement(sum, dap.Measurement{15}))
	assert.Error(self.T(), dap.ValidateMeasurement(sum, dap.Measurement{16}))
	assert.Error(self.T(), dap.ValidateMeasurement(sum, dap.Measurement{1, 2}))

	histogram := self.task(dap.VDAF_HISTOGRAM, 0, 3)
	assert.Error(self.T(), dap.ValidateMeasurement(histogram, dap.Measurement{1, 1, 0}))
	assert.Error(self.T(), dap.ValidateMeasurement(histogram, dap.Measurement{2, 0, 0}))

	_, err := dap.NewTask(&config_proto.Task{Id: "x", Vdaf: "prio9"})
	assert.Error(self.T(), err)

	_, err = dap.NewTask(&config_proto.Task{
		Id: "x", Vdaf: "sumvec", Bits: 8, Length: 3,
		DefaultMeasurement: config_proto.Uint64Array{0, 0},
	})
	assert.Error(self.T(), err)

	// Short ids are fine for the task shape but not for a report.
	task, err := dap.NewTask(&config_proto.Task{
		Id: "t1", Vdaf: "sumvec", Bits: 8, Length: 3})
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), dap.Measurement{0, 0, 0}, task.DefaultMeasurement)

	_, err = self.encoder.EncodeReport(task, task.DefaultMeasurement)
	var validation_error *dap.ValidationError
	assert.ErrorAs(self.T(), err, &validation_error)
}

func (self *ReportTestSuite) TestHpkeConfigEncoding() {
	encoded := self.leader.Config.String()

	parsed, err := dap.ParseHpkeConfig(encoded)
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), self.leader.Config, parsed)

	_, err = dap.ParseHpkeConfig("not a key")
	var encryption_failure *dap.EncryptionFailure
	assert.ErrorAs(self.T(), err, &encryption_failure)

	// Unknown KEM.
	bad := *self.leader.Config
	bad.KemId = 0x7777
	_, err = dap.ParseHpkeConfig(bad.String())
	assert.ErrorAs(self.T(), err, &encryption_failure)
}

func (self *ReportTestSuite) TestTamperedReportDoesNotOpen() {
	task := self.task(dap.VDAF_SUMVEC, 8, 3)
	encoded, err := self.encoder.EncodeReport(task, dap.Measurement{1, 2, 3})
	assert.NoError(self.T(), err)

	report, err := dap.DecodeReport(encoded)
	assert.NoError(self.T(), err)

	// The metadata is bound as associated data.
	report.Metadata.Time += 300
	_, err = report.OpenShare(task, dap.ROLE_LEADER,
		self.leader.Config, self.leader.PrivateKey)
	assert.Error(self.T(), err)

	_, err = dap.DecodeReport(encoded[:len(encoded)-1])
	assert.Error(self.T(), err)
}

func TestReport(t *testing.T) {
	suite.Run(t, &ReportTestSuite{})
}

func TestField64(t *testing.T) {
	p := dap.Field64(dap.FIELD64_MODULUS - 1)

	assert.Equal(t, dap.Field64(0), p.Add(1))
	assert.Equal(t, dap.Field64(1), p.Add(2))
	assert.Equal(t, p, dap.Field64(0).Sub(1))
	assert.Equal(t, dap.Field64(dap.FIELD64_MODULUS-2), p.Add(p))

	vec, err := dap.DecodeFieldVector(dap.EncodeFieldVector(
		[]dap.Field64{5, p}))
	assert.NoError(t, err)
	assert.Equal(t, []dap.Field64{5, p}, vec)

	_, err = dap.DecodeFieldVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
