package ohttp

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"github.com/go-errors/errors"
)

type SymmetricAlgorithm struct {
	KdfId  uint16
	AeadId uint16
}

// The gateway's published key configuration (RFC 9458 section 3).
type KeyConfig struct {
	KeyId      uint8
	KemId      uint16
	PublicKey  []byte
	Algorithms []SymmetricAlgorithm
}

var noSupportedConfig = errors.New("ohttp: no supported key config")

// Accepts base64 (either alphabet) of a single key config or of an
// application/ohttp-keys list.
func ParseKeyConfig(encoded string) (*KeyConfig, error) {
	encoded = strings.TrimRight(strings.TrimSpace(encoded), "=")

	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("ohttp: decoding key config: %w", err)
		}
	}

	config, err := UnmarshalKeyConfig(raw)
	if err == nil {
		return config, nil
	}

	// Try the length prefixed list form.
	for len(raw) >= 2 {
		length := int(binary.BigEndian.Uint16(raw))
		if 2+length > len(raw) {
			break
		}

		config, err := UnmarshalKeyConfig(raw[2 : 2+length])
		if err == nil {
			return config, nil
		}
		raw = raw[2+length:]
	}

	return nil, noSupportedConfig
}

func UnmarshalKeyConfig(data []byte) (*KeyConfig, error) {
	if len(data) < 3 {
		return nil, truncatedError
	}

	result := &KeyConfig{
		KeyId: data[0],
		KemId: binary.BigEndian.Uint16(data[1:]),
	}

	kem_id := hpke.KEM(result.KemId)
	if !kem_id.IsValid() {
		return nil, fmt.Errorf("ohttp: unsupported kem %#x", result.KemId)
	}

	pk_size := kem_id.Scheme().PublicKeySize()
	data = data[3:]
	if len(data) < pk_size+2 {
		return nil, truncatedError
	}
	result.PublicKey = append([]byte{}, data[:pk_size]...)
	data = data[pk_size:]

	algs_length := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if algs_length != len(data) || algs_length%4 != 0 || algs_length == 0 {
		return nil, fmt.Errorf("ohttp: bad symmetric algorithm list")
	}

	for i := 0; i < algs_length; i += 4 {
		result.Algorithms = append(result.Algorithms, SymmetricAlgorithm{
			KdfId:  binary.BigEndian.Uint16(data[i:]),
			AeadId: binary.BigEndian.Uint16(data[i+2:]),
		})
	}

	_, _, err := result.selectSuite()
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (self *KeyConfig) Marshal() []byte {
	b := []byte{self.KeyId}
	b = binary.BigEndian.AppendUint16(b, self.KemId)
	b = append(b, self.PublicKey...)
	b = binary.BigEndian.AppendUint16(b, uint16(4*len(self.Algorithms)))
	for _, alg := range self.Algorithms {
		b = binary.BigEndian.AppendUint16(b, alg.KdfId)
		b = binary.BigEndian.AppendUint16(b, alg.AeadId)
	}
	return b
}

func (self *KeyConfig) String() string {
	return base64.StdEncoding.EncodeToString(self.Marshal())
}

// The first algorithm pair we support wins.
func (self *KeyConfig) selectSuite() (SymmetricAlgorithm, kem.PublicKey, error) {
	kem_id := hpke.KEM(self.KemId)
	public_key, err := kem_id.Scheme().UnmarshalBinaryPublicKey(self.PublicKey)
	if err != nil {
		return SymmetricAlgorithm{}, nil, fmt.Errorf("ohttp: public key: %w", err)
	}

	for _, alg := range self.Algorithms {
		if hpke.KDF(alg.KdfId).IsValid() && hpke.AEAD(alg.AeadId).IsValid() {
			return alg, public_key, nil
		}
	}
	return SymmetricAlgorithm{}, nil, noSupportedConfig
}

func (self *KeyConfig) supports(alg SymmetricAlgorithm) bool {
	for _, a := range self.Algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// Generates an X25519 key config for a gateway.
func GenerateKeyConfig(key_id uint8) (*KeyConfig, kem.PrivateKey, error) {
	kem_id := hpke.KEM_X25519_HKDF_SHA256
	public_key, private_key, err := kem_id.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, errors.Wrap(err, 0)
	}

	public_bytes, err := public_key.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, 0)
	}

	return &KeyConfig{
		KeyId:     key_id,
		KemId:     uint16(kem_id),
		PublicKey: public_bytes,
		Algorithms: []SymmetricAlgorithm{{
			KdfId:  uint16(hpke.KDF_HKDF_SHA256),
			AeadId: uint16(hpke.AEAD_AES128GCM),
		}},
	}, private_key, nil
}
