package httpx

import (
	"net/http"
	"time"

	"jobinsights/internal/metrics"
)

const defaultExternalHTTPTimeout = 90 * time.Second

const userAgent = "jobinsights"

var externalHTTPClient = &http.Client{
	Timeout:   defaultExternalHTTPTimeout,
	Transport: NewTransport(nil),
}

// ExternalHTTPClient is shared by every outbound integration that talks
// plain HTTP: the model endpoints and Slack.
func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}

// Transport sets a User-Agent when the caller did not and counts requests
// per host. Responses with a 5xx or 429 status count as errors.
type Transport struct {
	base http.RoundTripper
}

func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := t.base.RoundTrip(req)
	outcome := metrics.OutcomeOK
	if err != nil || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		outcome = metrics.OutcomeError
	}
	metrics.ExternalRequests.WithLabelValues(req.URL.Host, outcome).Inc()
	return resp, err
}
