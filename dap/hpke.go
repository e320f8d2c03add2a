package dap

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

// An aggregator's public HPKE configuration as published by the
// aggregator.
type HpkeConfig struct {
	Id        uint8
	KemId     uint16
	KdfId     uint16
	AeadId    uint16
	PublicKey []byte
}

type HpkeCiphertext struct {
	ConfigId uint8
	Enc      []byte
	Payload  []byte
}

// Accepts the base64url encoding of either a single HpkeConfig or an
// HpkeConfigList. From a list the first usable config wins.
func ParseHpkeConfig(encoded string) (*HpkeConfig, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, encryptionFailure("decoding hpke config", err)
	}

	result := &HpkeConfig{}
	err = result.UnmarshalBinary(raw)
	if err == nil {
		_, _, err = result.suite()
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	configs, list_err := parseHpkeConfigList(raw)
	if list_err != nil {
		return nil, encryptionFailure("parsing hpke config", err)
	}

	for _, config := range configs {
		_, _, err := config.suite()
		if err == nil {
			return config, nil
		}
	}
	return nil, encryptionFailure("no supported hpke config in list", nil)
}

func parseHpkeConfigList(raw []byte) ([]*HpkeConfig, error) {
	r := newReader(raw)
	list := newReader(r.opaque16())
	if err := r.done(); err != nil {
		return nil, err
	}

	var result []*HpkeConfig
	for list.err == nil && list.remaining() > 0 {
		config := &HpkeConfig{}
		config.read(list)
		result = append(result, config)
	}
	return result, list.err
}

func (self *HpkeConfig) read(r *reader) {
	self.Id = r.u8()
	self.KemId = r.u16()
	self.KdfId = r.u16()
	self.AeadId = r.u16()
	self.PublicKey = r.opaque16()
}

func (self *HpkeConfig) MarshalBinary() ([]byte, error) {
	b := &bytes.Buffer{}
	putU8(b, self.Id)
	putU16(b, self.KemId)
	putU16(b, self.KdfId)
	putU16(b, self.AeadId)
	putOpaque16(b, self.PublicKey)
	return b.Bytes(), nil
}

func (self *HpkeConfig) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	self.read(r)
	return r.done()
}

func (self *HpkeConfig) String() string {
	serialized, _ := self.MarshalBinary()
	return base64.RawURLEncoding.EncodeToString(serialized)
}

func (self *HpkeConfig) suite() (hpke.Suite, kem.PublicKey, error) {
	kem_id := hpke.KEM(self.KemId)
	kdf_id := hpke.KDF(self.KdfId)
	aead_id := hpke.AEAD(self.AeadId)

	if !kem_id.IsValid() || !kdf_id.IsValid() || !aead_id.IsValid() {
		return hpke.Suite{}, nil, encryptionFailure(
			"unsupported hpke algorithms", nil)
	}

	public_key, err := kem_id.Scheme().UnmarshalBinaryPublicKey(self.PublicKey)
	if err != nil {
		return hpke.Suite{}, nil, encryptionFailure("decoding public key", err)
	}

	return hpke.NewSuite(kem_id, kdf_id, aead_id), public_key, nil
}

func (self *HpkeConfig) Seal(rand io.Reader,
	info, aad, plaintext []byte) (*HpkeCiphertext, error) {
	suite, public_key, err := self.suite()
	if err != nil {
		return nil, err
	}

	sender, err := suite.NewSender(public_key, info)
	if err != nil {
		return nil, encryptionFailure("hpke sender", err)
	}

	enc, sealer, err := sender.Setup(rand)
	if err != nil {
		return nil, encryptionFailure("hpke setup", err)
	}

	payload, err := sealer.Seal(plaintext, aad)
	if err != nil {
		return nil, encryptionFailure("hpke seal", err)
	}

	return &HpkeCiphertext{
		ConfigId: self.Id,
		Enc:      enc,
		Payload:  payload,
	}, nil
}

// Open a ciphertext with the aggregator's private key.
func (self *HpkeConfig) Open(private_key kem.PrivateKey,
	info, aad []byte, ct *HpkeCiphertext) ([]byte, error) {
	suite, _, err := self.suite()
	if err != nil {
		return nil, err
	}

	if ct.ConfigId != self.Id {
		return nil, encryptionFailure("hpke config id mismatch", nil)
	}

	receiver, err := suite.NewReceiver(private_key, info)
	if err != nil {
		return nil, encryptionFailure("hpke receiver", err)
	}

	opener, err := receiver.Setup(ct.Enc)
	if err != nil {
		return nil, encryptionFailure("hpke setup", err)
	}

	plaintext, err := opener.Open(ct.Payload, aad)
	if err != nil {
		return nil, encryptionFailure("hpke open", err)
	}
	return plaintext, nil
}

// Generates a new X25519/HKDF-SHA256/AES-128-GCM key pair, returning
// the public config and the serialized private key.
func GenerateHpkeConfig(id uint8) (*HpkeConfig, []byte, error) {
	kem_id := hpke.KEM_X25519_HKDF_SHA256
	public_key, private_key, err := kem_id.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, encryptionFailure("generating key", err)
	}

	public_bytes, err := public_key.MarshalBinary()
	if err != nil {
		return nil, nil, encryptionFailure("encoding public key", err)
	}

	private_bytes, err := private_key.MarshalBinary()
	if err != nil {
		return nil, nil, encryptionFailure("encoding private key", err)
	}

	return &HpkeConfig{
		Id:        id,
		KemId:     uint16(kem_id),
		KdfId:     uint16(hpke.KDF_HKDF_SHA256),
		AeadId:    uint16(hpke.AEAD_AES128GCM),
		PublicKey: public_bytes,
	}, private_bytes, nil
}

func (self *HpkeConfig) ParsePrivateKey(encoded string) (kem.PrivateKey, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, encryptionFailure("decoding private key", err)
	}

	private_key, err := hpke.KEM(self.KemId).Scheme().UnmarshalBinaryPrivateKey(raw)
	if err != nil {
		return nil, encryptionFailure("decoding private key", err)
	}
	return private_key, nil
}

// Keys are usually base64url but we tolerate padding and the
// standard alphabet.
func decodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
}

func (self *HpkeCiphertext) write(b *bytes.Buffer) {
	putU8(b, self.ConfigId)
	putOpaque16(b, self.Enc)
	putOpaque32(b, self.Payload)
}

func (self *HpkeCiphertext) read(r *reader) {
	self.ConfigId = r.u8()
	self.Enc = r.opaque16()
	self.Payload = r.opaque32()
}
