// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package comm provides the HTTP transport used by the ops layer. It makes
// JSON (GET/POST) and URL-form-encoded (POST) calls and decodes responses
// with our internal json package so unknown response fields survive.
package comm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/errors"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/json"
)

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)

	// CloseIdleConnections closes any connections which were previously
	// connected from previous requests but are now sitting idle in a
	// "keep-alive" state. It does not interrupt any connections currently in use.
	CloseIdleConnections()
}

// Client provides HTTP calls to REST endpoints.
type Client struct {
	client HTTPClient
}

// New returns a new Client object. client must not be nil; constructors
// further up guarantee that.
func New(client HTTPClient) *Client {
	if client == nil {
		panic("bug: comm.New() called with nil client")
	}
	return &Client{client: client}
}

// JSONCall connects to endpoint sending qv as query values and body (if non-nil)
// as a JSON body. The answer is decoded into resp, which must be a pointer to a
// struct using our internal json package conventions.
func (c *Client) JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp interface{}) error {
	if qv == nil {
		qv = url.Values{}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse endpoint(%s): %w", endpoint, err)
	}
	u.RawQuery = qv.Encode()

	addStdHeaders(headers)

	req := &http.Request{Method: http.MethodGet, URL: u, Header: headers}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bug: conn.JSONCall(): could not marshal the body object: %w", err)
		}
		req.Method = http.MethodPost
		req.Body = io.NopCloser(bytes.NewReader(data))
		req.ContentLength = int64(len(data))
		headers.Set("Content-Type", "application/json; charset=utf-8")
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if resp != nil {
		if err := json.Unmarshal(data, resp); err != nil {
			return fmt.Errorf("json decode error: %w\nraw message was: %s", err, string(data))
		}
	}
	return nil
}

// URLFormCall makes a POST to endpoint with qv as the URL-form-encoded body.
// The answer is decoded into resp as in JSONCall.
func (c *Client) URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp interface{}) error {
	if len(qv) == 0 {
		return fmt.Errorf("URLFormCall() requires qv to have non-zero length")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse endpoint(%s): %w", endpoint, err)
	}

	headers := http.Header{}
	addStdHeaders(headers)
	headers.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	enc := qv.Encode()

	req := &http.Request{
		Method:        http.MethodPost,
		URL:           u,
		Header:        headers,
		ContentLength: int64(len(enc)),
		Body:          io.NopCloser(strings.NewReader(enc)),
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if resp != nil {
		if err := json.Unmarshal(data, resp); err != nil {
			return fmt.Errorf("json decode error: %w\nraw message was: %s", err, string(data))
		}
	}
	return nil
}

// do makes the HTTP call to the server and returns the contents of the body.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req = req.WithContext(ctx)

	reply, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server response error:\n %w", err)
	}
	defer reply.Body.Close()

	data, err := io.ReadAll(reply.Body)
	if err != nil {
		return nil, errors.CallErr{Req: req, Resp: reply, Err: fmt.Errorf("could not read the body of an HTTP Response: %w", err)}
	}
	reply.Body = io.NopCloser(bytes.NewReader(data))

	// NOTE: this doesn't happen immediately after the call so that we can get
	// the body of the response for error messages.
	if reply.StatusCode != 200 {
		return data, errors.CallErr{Req: req, Resp: reply, Err: fmt.Errorf("http call(%s)(%s) error: reply status code was %d:\n%s", req.URL.String(), req.Method, reply.StatusCode, string(data))}
	}

	return data, nil
}

// addStdHeaders adds the standard headers all calls send.
func addStdHeaders(headers http.Header) http.Header {
	headers.Set("Accept-Encoding", "identity")

	// This defines the client name and version for diagnostics at the STS.
	headers.Set("x-client-sku", "identity.go")
	headers.Set("x-client-os", runtime.GOOS)

	if headers.Get("client-request-id") == "" {
		headers.Set("client-request-id", uuid.New().String())
	}
	return headers
}
