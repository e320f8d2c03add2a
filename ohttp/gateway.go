package ohttp

import (
	"bytes"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"github.com/go-errors/errors"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/utils"
)

const maxRequestSize = 10 * 1024 * 1024

// The gateway side of the protocol: it holds the private key that
// matches a published KeyConfig.
type Gateway struct {
	config      *KeyConfig
	private_key kem.PrivateKey
}

func NewGateway(config *KeyConfig, private_key kem.PrivateKey) *Gateway {
	return &Gateway{config: config, private_key: private_key}
}

type GatewayContext struct {
	opener hpke.Opener
	enc    []byte
	alg    SymmetricAlgorithm
}

func (self *Gateway) DecapsulateRequest(enc_request []byte) (
	[]byte, *GatewayContext, error) {
	if len(enc_request) < 7 {
		return nil, nil, truncatedError
	}

	hdr := enc_request[:7]
	key_id := hdr[0]
	kem_id := uint16(hdr[1])<<8 | uint16(hdr[2])
	alg := SymmetricAlgorithm{
		KdfId:  uint16(hdr[3])<<8 | uint16(hdr[4]),
		AeadId: uint16(hdr[5])<<8 | uint16(hdr[6]),
	}

	if key_id != self.config.KeyId || kem_id != self.config.KemId ||
		!self.config.supports(alg) {
		return nil, nil, errors.New("ohttp: unknown key configuration")
	}

	enc_size := hpke.KEM(kem_id).Scheme().CiphertextSize()
	if len(enc_request) < 7+enc_size {
		return nil, nil, truncatedError
	}
	enc := enc_request[7 : 7+enc_size]

	suite := hpke.NewSuite(hpke.KEM(kem_id), hpke.KDF(alg.KdfId),
		hpke.AEAD(alg.AeadId))
	receiver, err := suite.NewReceiver(self.private_key, requestInfo(hdr))
	if err != nil {
		return nil, nil, errors.Wrap(err, 0)
	}

	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, nil, decryptionError
	}

	plaintext, err := opener.Open(enc_request[7+enc_size:], nil)
	if err != nil {
		return nil, nil, decryptionError
	}

	return plaintext, &GatewayContext{
		opener: opener,
		enc:    append([]byte{}, enc...),
		alg:    alg,
	}, nil
}

func (self *GatewayContext) EncapsulateResponse(
	rnd io.Reader, response []byte) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}

	aead_id := hpke.AEAD(self.alg.AeadId)
	response_nonce := make([]byte, responseNonceLength(aead_id))
	_, err := io.ReadFull(rnd, response_nonce)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	secret := self.opener.Export(responseLabel, aead_id.KeySize())
	aead, nonce, err := responseAEAD(hpke.KDF(self.alg.KdfId), aead_id,
		secret, self.enc, response_nonce)
	if err != nil {
		return nil, err
	}

	return append(response_nonce, aead.Seal(nil, nonce, response, nil)...), nil
}

// Handler decapsulates requests and serves them from target, then
// encapsulates the response. This is the gateway half of a relay
// deployment.
func (self *Gateway) Handler(target http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != constants.OHTTP_REQUEST_MEDIA_TYPE {
			http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
			return
		}

		body, err := utils.ReadAllWithLimit(r.Body, maxRequestSize)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		plaintext, ctx, err := self.DecapsulateRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		inner, err := UnmarshalRequest(plaintext)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		inner_req, err := http.NewRequestWithContext(r.Context(),
			inner.Method, inner.Scheme+"://"+inner.Authority+inner.Path,
			bytes.NewReader(inner.Body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		inner_req.Header = inner.Header

		recorder := httptest.NewRecorder()
		target.ServeHTTP(recorder, inner_req)

		result := recorder.Result()
		response := &Response{
			StatusCode: result.StatusCode,
			Header:     result.Header,
			Body:       recorder.Body.Bytes(),
		}

		encapsulated, err := ctx.EncapsulateResponse(nil, response.Marshal())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", constants.OHTTP_RESPONSE_MEDIA_TYPE)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(encapsulated)
	})
}
