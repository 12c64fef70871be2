package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIHandler_GetWithParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users/7", r.URL.Path)
		assert.Equal(t, "ada", r.URL.Query().Get("q"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"name":"Ada"}`))
	}))
	defer srv.Close()

	h := NewAPIHandler(HTTPConfig{}, nil)
	res, err := h.Handle(context.Background(), map[string]any{
		"url":     srv.URL + "/users/{{id}}",
		"params":  `{"q":"{{name}}"}`,
		"headers": map[string]any{"X-Token": "secret"},
	}, map[string]any{"id": "7", "name": "ada"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, map[string]any{"id": float64(7), "name": "Ada"}, res.Output["apiResponse"])
	assert.Equal(t, 200, res.Output["apiStatus"])
}

func TestAPIHandler_PostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ada", body["name"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`created`))
	}))
	defer srv.Close()

	h := NewAPIHandler(HTTPConfig{}, nil)
	res, err := h.Handle(context.Background(), map[string]any{
		"method": "post", "url": srv.URL, "body": `{"name":"{{name}}"}`, "responseVariable": "created",
	}, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "created", res.Output["created"])
}

func TestAPIHandler_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewAPIHandler(HTTPConfig{}, nil)

	res, err := h.Handle(context.Background(), map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "URL is required for API requests", res.Message)

	res, err = h.Handle(context.Background(), map[string]any{"url": "ftp://nope"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = h.Handle(context.Background(), map[string]any{"url": srv.URL, "body": "{bad", "method": "POST"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = h.Handle(context.Background(), map[string]any{"url": srv.URL, "failOnErrorStatus": true}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "500")

	res, err = h.Handle(context.Background(), map[string]any{"url": srv.URL, "saveResponse": false}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Output)
}

func TestAPIHandler_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	h := NewAPIHandler(HTTPConfig{}, nil)
	res, err := h.Handle(context.Background(), map[string]any{"url": srv.URL, "timeout": "50ms"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestWebhookHandler(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	h := NewWebhookHandler(HTTPConfig{}, nil)
	res, err := h.Handle(context.Background(), map[string]any{
		"webhookUrl": srv.URL, "payload": `{"order":"{{id}}"}`, "waitForResponse": true,
	}, map[string]any{"id": "A-1"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.JSONEq(t, `{"order":"A-1"}`, string(got))
	assert.Equal(t, true, res.Output["webhookSuccess"])
	assert.Equal(t, map[string]any{"received": true}, res.Output["webhookResponse"])

	res, err = h.Handle(context.Background(), map[string]any{"url": srv.URL, "payloadVariable": "order"}, map[string]any{"order": map[string]any{"n": float64(1)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got))
	assert.NotContains(t, res.Output, "webhookResponse")

	res, err = h.Handle(context.Background(), map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Webhook URL is required", res.Message)
}
