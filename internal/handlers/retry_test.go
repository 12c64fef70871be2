package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyOf(t *testing.T) {
	assert.Equal(t, retryPolicy{}, retryPolicyOf(map[string]any{}))

	p := retryPolicyOf(map[string]any{"retry": map[string]any{
		"max": float64(3), "backoff": "Exponential", "delay": "10ms", "maxDelay": 25,
	}})
	assert.Equal(t, retryPolicy{Max: 3, Backoff: "exponential", Delay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond}, p)

	p = retryPolicyOf(map[string]any{"retry": `{"max": 99}`})
	assert.Equal(t, maxRetries, p.Max)
	assert.Equal(t, "constant", p.Backoff)

	assert.Zero(t, retryPolicyOf(map[string]any{"retry": map[string]any{"max": -2}}).Max)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	base := 100 * time.Millisecond
	cases := []struct {
		backoff string
		want    []time.Duration
	}{
		{"constant", []time.Duration{base, base, base}},
		{"linear", []time.Duration{base, 2 * base, 3 * base}},
		{"exponential", []time.Duration{base, 2 * base, 250 * time.Millisecond}},
		{"none", []time.Duration{0, 0, 0}},
	}
	for _, tc := range cases {
		p := retryPolicy{Backoff: tc.backoff, Delay: base, MaxDelay: 250 * time.Millisecond}
		for i, want := range tc.want {
			assert.Equal(t, want, p.backoff(i), "%s attempt %d", tc.backoff, i)
		}
	}
}

func TestRetryableError(t *testing.T) {
	assert.False(t, retryableError(context.Canceled))
	assert.True(t, retryableError(context.DeadlineExceeded))
	assert.True(t, retryableError(errors.New("dial tcp: connection refused")))
	assert.True(t, retryableError(io.ErrUnexpectedEOF))
	assert.False(t, retryableError(errors.New("invalid url")))
}

func TestAPIHandler_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"sku":"A1"}`, string(body), "body is resent on every attempt")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := NewAPIHandler(HTTPConfig{}, nil)
	res, err := h.Handle(context.Background(), map[string]any{
		"method": "POST",
		"url":    srv.URL,
		"body":   map[string]any{"sku": "{{sku}}"},
		"retry":  map[string]any{"max": 3, "delay": "1ms"},
	}, map[string]any{"sku": "A1"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, res.Output["apiAttempts"])
	assert.Equal(t, 200, res.Output["apiStatus"])
}

func TestAPIHandler_DoesNotRetryServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewAPIHandler(HTTPConfig{}, nil)
	res, err := h.Handle(context.Background(), map[string]any{
		"url": srv.URL, "failOnErrorStatus": true, "retry": map[string]any{"max": 2},
	}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookHandler_RetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	h := NewWebhookHandler(HTTPConfig{}, nil)
	res, err := h.Handle(context.Background(), map[string]any{
		"url": target, "retry": map[string]any{"max": 2, "backoff": "none"},
	}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "after 3 attempt(s)")
}

func TestSend_StopsWhenContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	resp, attempts, err := send(ctx, srv.Client(), HTTPConfig{}.withDefaults(), time.Second, req,
		retryPolicy{Max: 5, Backoff: "constant", Delay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
