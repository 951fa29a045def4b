package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StatusError reports a 5xx response from the guarded dependency.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %s", e.Status)
}

// HTTPClient makes one breaker-guarded, timeout-bounded call per Do. It never
// retries; redelivery belongs to whoever sent the webhook.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
}

// Do sends req. A transport error or a status >= 500 counts against the
// breaker and is returned as an error, with the 5xx body drained and closed.
// Other responses are handed back for the caller to read and close.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	var resp *http.Response
	call := func(ctx context.Context) error {
		var err error
		resp, err = cl.send(ctx, req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
			resp = nil
			return statusErr
		}
		return nil
	}

	var err error
	if cl.Breaker != nil {
		err = cl.Breaker.Execute(ctx, call, nil)
	} else {
		err = call(ctx)
	}
	cl.observe(err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (cl HTTPClient) observe(err error) {
	target := "default"
	if cl.Breaker != nil {
		target = cl.Breaker.Target()
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrOpenCircuit):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	OutboundAttempts.WithLabelValues(target, result).Inc()
}

// send applies the timeout. The cancel func is tied to the response body so
// callers can still read it after send returns.
func (cl HTTPClient) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Timeout <= 0 {
		return cl.Client.Do(req.WithContext(ctx))
	}
	callCtx, cancel := context.WithTimeout(ctx, cl.Timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
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

// NewTracedClient returns an http.Client whose transport emits client spans.
// Per-call timeouts are applied by HTTPClient, so the client itself carries
// only a hard upper bound.
func NewTracedClient(limit time.Duration) *http.Client {
	if limit <= 0 {
		limit = 30 * time.Second
	}
	return &http.Client{
		Timeout:   limit,
		Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
	}
}
