package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrClientNotConfigured is returned when HTTPClient has no underlying client.
var ErrClientNotConfigured = errors.New("resilience: http client not configured")

// HTTPClient wraps an http.Client with retry, timeout and circuit-breaker logic.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	Target      string
	Logger      zerolog.Logger
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Fallback    func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes the request applying retry semantics. The request body is
// buffered so it can be replayed. When the breaker is open ErrOpenCircuit is
// returned unless a fallback is configured. If every attempt ends in a 5xx
// response the last response is returned so the caller can decode its body.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, ErrClientNotConfigured
	}
	// a nil breaker admits every attempt and ignores reports
	breaker := cl.Breaker
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	originalBody, err := ensureReplayableBody(req)
	if err != nil {
		return nil, err
	}

	var (
		lastErr  error
		lastResp *http.Response
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			cl.recordAttempt("rejected")
			break
		}
		attemptReq := cloneRequestWithContext(ctx, req, originalBody)
		resp, err := cl.doOnce(ctx, attemptReq)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			breaker.Report(ctx, true)
			cl.recordAttempt("ok")
			return resp, nil
		}
		breaker.Report(ctx, false)
		if lastResp != nil {
			drainAndClose(lastResp)
			lastResp = nil
		}
		if err == nil {
			lastErr = fmt.Errorf("%s: %s", cl.targetLabel(), resp.Status)
			lastResp = resp
			cl.recordAttempt("server_error")
		} else {
			lastErr = err
			cl.recordAttempt("transport_error")
		}
		cl.Logger.Warn().
			Err(lastErr).
			Str("target", cl.targetLabel()).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("http_attempt_failed")
		if attempt == maxAttempts {
			break
		}
		sleepFor := Backoff(baseBackoff, attempt, cl.Jitter)
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			if lastResp != nil {
				drainAndClose(lastResp)
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if lastResp != nil {
		return lastResp, nil
	}
	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
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
		return nil, err
	}
	// The deadline must outlive Do so the caller can still read the body.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) targetLabel() string {
	if cl.Target == "" {
		return "default"
	}
	return cl.Target
}

func (cl HTTPClient) recordAttempt(outcome string) {
	if HTTPAttempts == nil {
		return
	}
	HTTPAttempts.WithLabelValues(cl.targetLabel(), outcome).Inc()
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

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func ensureReplayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	source := req.Body
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		source = body
	}
	defer func() { _ = source.Close() }()
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return data, nil
}

func cloneRequestWithContext(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}
