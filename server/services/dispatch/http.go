package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pdvrieze/ProcessManager-sub007/common/header"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// maxResponseBody caps how much of a response body is kept.
const maxResponseBody = 1 << 20

// HTTPTransport delivers messages to http and https destinations.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport using client, or http.DefaultClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client}
}

// Deliver implements Transport.
func (t *HTTPTransport) Deliver(ctx context.Context, msg *Message) (Response, error) {
	method := msg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, msg.Destination, bytes.NewReader(msg.Body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	header.ToHTTP(msg.Headers, req.Header)
	if msg.ContentType != "" {
		req.Header.Set("Content-Type", msg.ContentType)
	}
	res, err := t.Client.Do(req)
	if err != nil {
		return Response{}, &errors.ConnectionError{Destination: msg.Destination, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return Response{StatusCode: res.StatusCode}, &errors.ConnectionError{Destination: msg.Destination, Err: err}
	}
	resp := Response{StatusCode: res.StatusCode, Body: body}
	if res.StatusCode < 200 || res.StatusCode > 399 {
		return resp, &errors.HTTPResponseError{StatusCode: res.StatusCode, Body: body}
	}
	return resp, nil
}
