package http_comms

import (
	"bytes"
	"context"
	"net/http"
	"net/url"

	"github.com/go-errors/errors"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/ohttp"
	"www.velocidex.com/golang/dapreporter/utils"
)

// Wrap the PUT in an oblivious HTTP envelope and post it to the
// relay. The relay sees our address but not the target, the
// aggregator sees the target but not our address.
func (self *Transport) submitViaRelay(
	ctx context.Context, target string, report []byte) error {
	parsed, err := url.Parse(target)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	inner := &ohttp.Request{
		Method:    "PUT",
		Scheme:    parsed.Scheme,
		Authority: parsed.Host,
		Path:      parsed.RequestURI(),
		Header: http.Header{
			"Content-Type": []string{constants.DAP_REPORT_MEDIA_TYPE},
		},
		Body: report,
	}

	enc_request, client_ctx, err := self.relay_config.EncapsulateRequest(
		nil, inner.Marshal())
	if err != nil {
		return errors.Wrap(err, 0)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", self.relay_url,
		bytes.NewReader(enc_request))
	if err != nil {
		return errors.Wrap(err, 0)
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Content-Type", constants.OHTTP_REQUEST_MEDIA_TYPE)

	resp, err := self.client.Do(req)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer resp.Body.Close()

	body, err := utils.ReadAllWithLimit(resp.Body, maxResponseSize)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	// The relay itself refused us, there is no inner response.
	if resp.StatusCode != http.StatusOK ||
		resp.Header.Get("Content-Type") != constants.OHTTP_RESPONSE_MEDIA_TYPE {
		return &AggregatorRejected{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Relay:      true,
		}
	}

	plaintext, err := client_ctx.DecapsulateResponse(body)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	inner_resp, err := ohttp.UnmarshalResponse(plaintext)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	return classifyResponse(inner_resp.StatusCode, inner_resp.Header,
		inner_resp.Body)
}
