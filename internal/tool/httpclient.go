package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 2 << 20 // 2MB
	userAgentString = "SOSChat/1.0"
)

// SharedHTTPClient returns an HTTP client with connection pooling for the
// upstream APIs. All handlers built from one config share it.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// StatusError is returned when an upstream API answers with a non-2xx status.
type StatusError struct {
	API    string
	Code   int
	Status string // status text, e.g. "Not Found"
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error: %s", e.API, e.Status)
}

func newStatusError(api string, resp *http.Response) *StatusError {
	text := http.StatusText(resp.StatusCode)
	if text == "" {
		text = resp.Status
	}
	return &StatusError{API: api, Code: resp.StatusCode, Status: text}
}

// getJSON performs a GET and decodes a 2xx JSON body into out.
// Non-2xx responses yield a *StatusError.
func getJSON(ctx context.Context, client *http.Client, api, endpoint string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentString)
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", api, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return newStatusError(api, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", api, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", api, err)
	}
	return nil
}
