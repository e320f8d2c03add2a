package dap

import (
	"bytes"
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/kem"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/utils"
)

const REPORT_ID_SIZE = 16

type Role uint8

const (
	ROLE_CLIENT Role = 0x01
	ROLE_LEADER Role = 0x02
	ROLE_HELPER Role = 0x03
)

var input_share_label = []byte("dap-09 input share")

type ReportMetadata struct {
	ReportId [REPORT_ID_SIZE]byte

	// Seconds since the epoch, truncated to the task's time
	// precision.
	Time uint64
}

type Report struct {
	Metadata    ReportMetadata
	PublicShare []byte
	LeaderShare HpkeCiphertext
	HelperShare HpkeCiphertext
}

func (self *ReportMetadata) write(b *bytes.Buffer) {
	b.Write(self.ReportId[:])
	putU64(b, self.Time)
}

func (self *Report) MarshalBinary() ([]byte, error) {
	b := &bytes.Buffer{}
	self.Metadata.write(b)
	putOpaque32(b, self.PublicShare)
	self.LeaderShare.write(b)
	self.HelperShare.write(b)
	return b.Bytes(), nil
}

func (self *Report) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	copy(self.Metadata.ReportId[:], r.fixed(REPORT_ID_SIZE))
	self.Metadata.Time = r.u64()
	self.PublicShare = r.opaque32()
	self.LeaderShare.read(r)
	self.HelperShare.read(r)
	return r.done()
}

func DecodeReport(data []byte) (*Report, error) {
	result := &Report{}
	err := result.UnmarshalBinary(data)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func inputShareInfo(role Role) []byte {
	result := append([]byte{}, input_share_label...)
	return append(result, byte(ROLE_CLIENT), byte(role))
}

func inputShareAad(task_id []byte, metadata *ReportMetadata,
	public_share []byte) []byte {
	b := &bytes.Buffer{}
	b.Write(task_id)
	metadata.write(b)
	putOpaque32(b, public_share)
	return b.Bytes()
}

// PlaintextInputShare with no extensions.
func encodePlaintextShare(payload []byte) []byte {
	b := &bytes.Buffer{}
	putOpaque16(b, nil)
	putOpaque32(b, payload)
	return b.Bytes()
}

func decodePlaintextShare(data []byte) ([]byte, error) {
	r := newReader(data)
	_ = r.opaque16()
	payload := r.opaque32()
	return payload, r.done()
}

// Encoder turns measurements into reports for one leader/helper
// pair. It does no I/O and keeps no state between calls.
type Encoder struct {
	leader *HpkeConfig
	helper *HpkeConfig
	rand   io.Reader
	clock  utils.Clock
}

func NewEncoder(leader, helper *HpkeConfig) *Encoder {
	return &Encoder{
		leader: leader,
		helper: helper,
		rand:   rand.Reader,
		clock:  utils.RealClock{},
	}
}

func NewEncoderFromConfig(config_obj *config_proto.Config) (*Encoder, error) {
	if config_obj.Client == nil {
		return nil, encryptionFailure("no client config", nil)
	}

	leader, err := ParseHpkeConfig(config_obj.Client.LeaderHpkeConfig)
	if err != nil {
		return nil, err
	}

	helper, err := ParseHpkeConfig(config_obj.Client.HelperHpkeConfig)
	if err != nil {
		return nil, err
	}

	return NewEncoder(leader, helper), nil
}

func (self *Encoder) WithRand(rand io.Reader) *Encoder {
	result := *self
	result.rand = rand
	return &result
}

func (self *Encoder) WithClock(clock utils.Clock) *Encoder {
	result := *self
	result.clock = clock
	return &result
}

func (self *Encoder) EncodeReport(task *Task, measurement Measurement) ([]byte, error) {
	// Everything about the input is checked before we touch any
	// key material.
	err := ValidateMeasurement(task, measurement)
	if err != nil {
		return nil, err
	}

	task_id, err := DecodeTaskId(task.Id)
	if err != nil {
		return nil, err
	}

	if self.leader == nil || self.helper == nil {
		return nil, encryptionFailure("aggregator keys are not configured", nil)
	}

	report, err := self.buildReport(task, task_id, measurement)
	if err != nil {
		return nil, err
	}

	return report.MarshalBinary()
}

func (self *Encoder) buildReport(task *Task, task_id []byte,
	measurement Measurement) (*Report, error) {
	leader_share, helper_seed, err := shard(task, measurement, self.rand)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	_, err = io.ReadFull(self.rand, report.Metadata.ReportId[:])
	if err != nil {
		return nil, encryptionFailure("reading randomness", err)
	}

	report.Metadata.Time = truncateTime(
		uint64(self.clock.Now().Unix()), task.TimePrecisionSeconds)

	aad := inputShareAad(task_id, &report.Metadata, report.PublicShare)

	leader_ct, err := self.leader.Seal(self.rand, inputShareInfo(ROLE_LEADER),
		aad, encodePlaintextShare(EncodeFieldVector(leader_share)))
	if err != nil {
		return nil, err
	}

	helper_ct, err := self.helper.Seal(self.rand, inputShareInfo(ROLE_HELPER),
		aad, encodePlaintextShare(helper_seed))
	if err != nil {
		return nil, err
	}

	report.LeaderShare = *leader_ct
	report.HelperShare = *helper_ct
	return report, nil
}

func truncateTime(now, precision uint64) uint64 {
	if precision == 0 {
		return now
	}
	return now - now%precision
}

// Decrypt the input share addressed to role. Aggregators do this,
// we use it to verify what we send.
func (self *Report) OpenShare(task *Task, role Role,
	config *HpkeConfig, private_key kem.PrivateKey) ([]byte, error) {
	task_id, err := DecodeTaskId(task.Id)
	if err != nil {
		return nil, err
	}

	ct := &self.LeaderShare
	if role == ROLE_HELPER {
		ct = &self.HelperShare
	}

	aad := inputShareAad(task_id, &self.Metadata, self.PublicShare)
	plaintext, err := config.Open(private_key, inputShareInfo(role), aad, ct)
	if err != nil {
		return nil, err
	}
	return decodePlaintextShare(plaintext)
}
