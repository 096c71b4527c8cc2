package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient wraps an http.Client with a per-call timeout and a circuit
// breaker. Each call is attempted exactly once.
type HTTPClient struct {
	Client   *http.Client
	Breaker  *Breaker
	Timeout  time.Duration
	Fallback func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes the request. Transport errors and 5xx responses count as
// breaker failures. When the breaker is open ErrOpenCircuit is returned unless
// a fallback is configured.
//
// The caller must close the response body. Because the timeout context stays
// attached to the body, it is released when the body is closed.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
		return cl.fallback(ctx, req, ErrOpenCircuit)
	}

	resp, err := cl.doOnce(ctx, req)
	success := err == nil && resp.StatusCode < http.StatusInternalServerError
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, success)
	}
	if err != nil {
		return cl.fallback(ctx, req, err)
	}
	return resp, nil
}

func (cl HTTPClient) fallback(ctx context.Context, req *http.Request, err error) (*http.Response, error) {
	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, err)
	}
	return nil, err
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	if timeout <= 0 {
		return cl.Client.Do(req.WithContext(ctx))
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("resilience: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
