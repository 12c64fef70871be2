package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxRetries = 10

// retryPolicy comes from the optional "retry" object of api and
// triggerwebhook nodes:
//
//	{"max": 3, "backoff": "exponential", "delay": "200ms", "maxDelay": "2s"}
//
// max counts extra attempts; zero disables retries.
type retryPolicy struct {
	Max      int
	Backoff  string
	Delay    time.Duration
	MaxDelay time.Duration
}

func retryPolicyOf(config map[string]any) retryPolicy {
	raw, err := objectParam(config, "retry")
	if err != nil || raw == nil {
		return retryPolicy{}
	}
	return retryPolicy{
		Max:      min(max(intParam(raw, "max", 0), 0), maxRetries),
		Backoff:  strings.ToLower(stringParam(raw, "backoff", "constant")),
		Delay:    durationParam(raw, "delay"),
		MaxDelay: durationParam(raw, "maxDelay"),
	}
}

// durationParam accepts a Go duration string or a number of milliseconds.
func durationParam(m map[string]any, key string) time.Duration {
	s := stringParam(m, key, "")
	if s == "" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return time.Duration(intParam(m, key, 0)) * time.Millisecond
}

// backoff returns the wait before retry number attempt (0-based).
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.Delay
	switch p.Backoff {
	case "exponential":
		d = p.Delay << min(attempt, 16)
	case "linear":
		d = p.Delay * time.Duration(attempt+1)
	case "none":
		d = 0
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retryableStatus lists the HTTP statuses worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryableError classifies transport failures. Cancellation of the caller's
// context is never retried.
func retryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "connection reset", "broken pipe", "eof", "temporary failure"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// send performs req, retrying per policy. It returns the last response or
// error and the number of attempts made.
func send(ctx context.Context, client *http.Client, cfg HTTPConfig, timeout time.Duration, req *http.Request, policy retryPolicy) (*httpResponse, int, error) {
	for attempt := 0; ; attempt++ {
		resp, err := doRequest(ctx, client, cfg, timeout, req)
		again := attempt < policy.Max && ctx.Err() == nil &&
			((err != nil && retryableError(err)) || (err == nil && retryableStatus(resp.StatusCode)))
		if !again {
			return resp, attempt + 1, err
		}
		if werr := waitBackoff(ctx, policy.backoff(attempt)); werr != nil {
			return resp, attempt + 1, err
		}
		if req, err = rewind(req); err != nil {
			return nil, attempt + 1, err
		}
	}
}

// rewind clones req with a fresh body for another attempt.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
