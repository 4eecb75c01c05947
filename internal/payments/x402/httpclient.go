package x402

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// StdHTTPClient backs HTTPClient with *http.Client, grounded on the
// teacher's internal/cli/api_client.go APIClient wiring.
type StdHTTPClient struct {
	client *http.Client
}

// NewStdHTTPClient constructs a StdHTTPClient with the given timeout.
func NewStdHTTPClient(timeout time.Duration) *StdHTTPClient {
	return &StdHTTPClient{client: &http.Client{Timeout: timeout}}
}

// Send issues req and returns its Response, honoring ctx cancellation.
func (c *StdHTTPClient) Send(ctx context.Context, req Request) (Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return Response{}, err
	}
	if req.Headers != nil {
		httpReq.Header = req.Headers.Clone()
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}

	return Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}
