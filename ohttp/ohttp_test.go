package ohttp

import (
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"www.velocidex.com/golang/dapreporter/vtesting/assert"
)

type OHTTPTestSuite struct {
	suite.Suite

	gateway *Gateway
	config  *KeyConfig
}

func (self *OHTTPTestSuite) SetupTest() {
	config, private_key, err := GenerateKeyConfig(7)
	require.NoError(self.T(), err)

	self.config = config
	self.gateway = NewGateway(config, private_key)
}

func (self *OHTTPTestSuite) TestVarint() {
	for _, v := range []uint64{0, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, 1 << 61} {
		encoded := appendVarint(nil, v)
		r := &reader{data: encoded}
		decoded, err := r.varint()
		assert.NoError(self.T(), err)
		assert.Equal(self.T(), v, decoded)
		assert.Equal(self.T(), 0, r.remaining())
	}

	// RFC 9000 appendix A.1 example.
	assert.Equal(self.T(), []byte{0x7b, 0xbd}, appendVarint(nil, 15293))
}

func (self *OHTTPTestSuite) TestBinaryHTTP() {
	request := &Request{
		Method:    "PUT",
		Scheme:    "https",
		Authority: "leader.example.com",
		Path:      "/v1/tasks/abc/reports",
		Header:    http.Header{"Content-Type": []string{"application/dap-report"}},
		Body:      []byte{1, 2, 3},
	}

	decoded, err := UnmarshalRequest(request.Marshal())
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), request, decoded)

	// A 103 Early Hints response before the final one is skipped.
	b := appendVarint(nil, framingKnownLengthResponse)
	b = appendVarint(b, 103)
	b = appendFields(b, http.Header{"Link": []string{"</style.css>"}})
	b = appendVarint(b, 400)
	b = appendFields(b, http.Header{"Content-Type": []string{"text/plain"}})
	b = appendBytes(b, []byte("bad report"))

	response, err := UnmarshalResponse(b)
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), 400, response.StatusCode)
	assert.Equal(self.T(), "text/plain", response.Header.Get("Content-Type"))
	assert.Equal(self.T(), "bad report", string(response.Body))

	_, err = UnmarshalResponse(request.Marshal())
	assert.Error(self.T(), err)
}

func (self *OHTTPTestSuite) TestRoundTrip() {
	request := []byte("inner request")
	enc_request, client_ctx, err := self.config.EncapsulateRequest(nil, request)
	assert.NoError(self.T(), err)

	plaintext, gateway_ctx, err := self.gateway.DecapsulateRequest(enc_request)
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), request, plaintext)

	enc_response, err := gateway_ctx.EncapsulateResponse(nil, []byte("inner response"))
	assert.NoError(self.T(), err)

	response, err := client_ctx.DecapsulateResponse(enc_response)
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), "inner response", string(response))

	// Any bit flip breaks the response.
	enc_response[len(enc_response)-1] ^= 1
	_, err = client_ctx.DecapsulateResponse(enc_response)
	assert.Error(self.T(), err)
}

func (self *OHTTPTestSuite) TestWrongKey() {
	other, _, err := GenerateKeyConfig(7)
	assert.NoError(self.T(), err)

	enc_request, _, err := other.EncapsulateRequest(nil, []byte("hello"))
	assert.NoError(self.T(), err)

	_, _, err = self.gateway.DecapsulateRequest(enc_request)
	assert.Error(self.T(), err)
}

func (self *OHTTPTestSuite) TestParseKeyConfig() {
	parsed, err := ParseKeyConfig(self.config.String())
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), self.config, parsed)

	// application/ohttp-keys list with an unsupported config first.
	unsupported := *self.config
	unsupported.KemId = 0x9999

	var list []byte
	for _, c := range []*KeyConfig{&unsupported, self.config} {
		encoded := c.Marshal()
		list = binary.BigEndian.AppendUint16(list, uint16(len(encoded)))
		list = append(list, encoded...)
	}

	parsed, err = ParseKeyConfig(base64.RawURLEncoding.EncodeToString(list))
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), self.config.KeyId, parsed.KeyId)

	_, err = ParseKeyConfig("AAAA")
	assert.Error(self.T(), err)
}

func TestOHTTP(t *testing.T) {
	suite.Run(t, &OHTTPTestSuite{})
}
