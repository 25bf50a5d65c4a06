package netmon

import (
	"context"
	"net/http"
	"time"
)

// HTTPProbeSource reports connectivity by issuing a HEAD request against a
// known-reachable endpoint (typically the OAuth provider's issuer) and
// measuring the round trip. It carries no push signal.
type HTTPProbeSource struct {
	url    string
	client *http.Client
}

var _ ConnectivitySource = (*HTTPProbeSource)(nil)

// NewHTTPProbeSource creates a probe source against the given URL.
func NewHTTPProbeSource(url string) *HTTPProbeSource {
	return &HTTPProbeSource{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Probe issues the request and converts the outcome into a sample. Any
// response, even an error status, proves the network path works.
func (s *HTTPProbeSource) Probe(ctx context.Context) Sample {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return Sample{Online: false}
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return Sample{Online: false}
	}
	defer resp.Body.Close()

	return Sample{
		Online: true,
		RTT:    time.Since(start),
	}
}

// Transitions returns nil: plain HTTP probing has no immediate signal.
func (s *HTTPProbeSource) Transitions() <-chan Sample {
	return nil
}
