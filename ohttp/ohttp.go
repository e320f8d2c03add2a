package ohttp

import (
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/hpke"
	"github.com/go-errors/errors"
)

// Oblivious HTTP message encapsulation (RFC 9458).

var (
	requestLabel  = []byte("message/bhttp request")
	responseLabel = []byte("message/bhttp response")

	decryptionError = errors.New("ohttp: decryption failed")
)

func header(key_id uint8, kem_id uint16, alg SymmetricAlgorithm) []byte {
	return []byte{key_id,
		byte(kem_id >> 8), byte(kem_id),
		byte(alg.KdfId >> 8), byte(alg.KdfId),
		byte(alg.AeadId >> 8), byte(alg.AeadId)}
}

func requestInfo(hdr []byte) []byte {
	info := append([]byte{}, requestLabel...)
	info = append(info, 0)
	return append(info, hdr...)
}

// Held by the client between sending a request and reading the
// response.
type ClientContext struct {
	sealer hpke.Sealer
	enc    []byte
	alg    SymmetricAlgorithm
}

func (self *KeyConfig) EncapsulateRequest(rnd io.Reader, request []byte) (
	[]byte, *ClientContext, error) {
	if rnd == nil {
		rnd = rand.Reader
	}

	alg, public_key, err := self.selectSuite()
	if err != nil {
		return nil, nil, err
	}

	hdr := header(self.KeyId, self.KemId, alg)
	suite := hpke.NewSuite(hpke.KEM(self.KemId), hpke.KDF(alg.KdfId),
		hpke.AEAD(alg.AeadId))

	sender, err := suite.NewSender(public_key, requestInfo(hdr))
	if err != nil {
		return nil, nil, errors.Wrap(err, 0)
	}

	enc, sealer, err := sender.Setup(rnd)
	if err != nil {
		return nil, nil, errors.Wrap(err, 0)
	}

	ct, err := sealer.Seal(request, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, 0)
	}

	result := append(hdr, enc...)
	result = append(result, ct...)

	return result, &ClientContext{sealer: sealer, enc: enc, alg: alg}, nil
}

func (self *ClientContext) DecapsulateResponse(response []byte) ([]byte, error) {
	aead_id := hpke.AEAD(self.alg.AeadId)
	nonce_len := responseNonceLength(aead_id)
	if len(response) < nonce_len {
		return nil, truncatedError
	}

	response_nonce := response[:nonce_len]
	secret := self.sealer.Export(responseLabel, aead_id.KeySize())

	aead, nonce, err := responseAEAD(hpke.KDF(self.alg.KdfId), aead_id,
		secret, self.enc, response_nonce)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, response[nonce_len:], nil)
	if err != nil {
		return nil, decryptionError
	}
	return plaintext, nil
}

func responseNonceLength(aead_id hpke.AEAD) int {
	nk := int(aead_id.KeySize())
	nn := int(aead_id.NonceSize())
	if nn > nk {
		return nn
	}
	return nk
}

// Derives the response key and nonce from the request context.
func responseAEAD(kdf_id hpke.KDF, aead_id hpke.AEAD,
	secret, enc, response_nonce []byte) (cipher.AEAD, []byte, error) {
	salt := append(append([]byte{}, enc...), response_nonce...)
	prk := kdf_id.Extract(secret, salt)
	key := kdf_id.Expand(prk, []byte("key"), aead_id.KeySize())
	nonce := kdf_id.Expand(prk, []byte("nonce"), aead_id.NonceSize())

	aead, err := aead_id.New(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, 0)
	}

	return aead, nonce, nil
}
