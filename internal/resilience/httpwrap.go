package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError is returned when every attempt ended in a retryable status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %s", e.Status)
}

// HTTPClient sends requests through a Breaker, bounding each attempt by
// Timeout and retrying transport errors, 5xx and 429 with jittered backoff.
// Only idempotent methods are retried unless RetryNonIdempotent is set.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration

	RetryNonIdempotent bool
}

func (cl HTTPClient) attempts(method string) int {
	switch {
	case cl.MaxAttempts <= 1:
		return 1
	case cl.RetryNonIdempotent:
		return cl.MaxAttempts
	}
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return cl.MaxAttempts
	}
	return 1
}

// Do executes req under ctx. The body is buffered once so every attempt
// resends it. ErrOpenCircuit is returned without a network call while the
// breaker rejects traffic.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	base := cl.BaseBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	maxAttempts := cl.attempts(req.Method)
	var lastErr error
	for attempt := 1; ; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.send(ctx, req, body)
		retryable := err != nil || resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		if cl.Breaker != nil {
			// 429 means the upstream is alive but throttling us
			cl.Breaker.Report(ctx, err == nil && resp.StatusCode < 500)
		}
		if !retryable {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			return nil, lastErr
		}
		wait := time.NewTimer(Backoff(base, attempt, cl.Jitter))
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-wait.C:
		}
	}
}

// send runs one attempt. The Timeout context stays alive until the caller
// closes the response body.
func (cl HTTPClient) send(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if cl.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cl.Timeout)
	}
	attempt := req.Clone(ctx)
	if body != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(body))
	}
	resp, err := cl.Client.Do(attempt)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = bodyWithCancel{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type bodyWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b bodyWithCancel) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
	return data, nil
}
