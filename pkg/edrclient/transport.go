package edrclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/joeblew999/plat-edr/internal/query"
)

// Response is the transport-level reply. Body is fully read; the client core
// never streams.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport executes one request descriptor. The core builds requests and
// interprets replies; opening sockets, retries and timeouts belong to the
// transport.
type Transport interface {
	Do(ctx context.Context, req *query.Request) (*Response, error)
}

// CredentialsProvider supplies auth headers for a server. The client never
// stores secrets; it asks per request.
type CredentialsProvider interface {
	AuthHeaders(serverURL string) http.Header
}

// HTTPTransport is the default net/http-backed transport.
type HTTPTransport struct {
	Client *http.Client
}

func (t *HTTPTransport) Do(ctx context.Context, req *query.Request) (*Response, error) {
	hc := t.Client
	if hc == nil {
		hc = http.DefaultClient
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("edrclient: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}

	resp, err := hc.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("edrclient: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("edrclient: read body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}
