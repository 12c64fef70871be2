package handlers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// HTTPConfig configures the api and triggerwebhook handlers.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	TLSSkipVerify   bool
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
	webhookFireTimeout     = 5 * time.Second
)

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultHTTPTimeout
	}
	return c
}

// newHTTPClient builds a client owned by one handler so configuration never
// leaks into http.DefaultClient.
func newHTTPClient(cfg HTTPConfig, base *http.Client) *http.Client {
	if base != nil {
		return base
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}

// httpResponse is what both HTTP handlers extract from a response.
type httpResponse struct {
	StatusCode  int
	Body        any
	ContentType string
	Headers     map[string]string
	DurationMs  int64
}

func doRequest(ctx context.Context, client *http.Client, cfg HTTPConfig, timeout time.Duration, req *http.Request) (*httpResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(reqCtx)

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	var body any
	if len(bodyBytes) > 0 {
		var decoded any
		if err := json.Unmarshal(bodyBytes, &decoded); err == nil {
			body = decoded
		} else {
			body = string(bodyBytes)
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &httpResponse{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: ct,
		Headers:     headers,
		DurationMs:  durationMs,
	}, nil
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid url %q", raw)
	}
	return nil
}

func nodeTimeout(config map[string]any, def time.Duration) time.Duration {
	if ts := stringParam(config, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil && d > 0 {
			return d
		}
		if secs := intParam(config, "timeout", 0); secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

func setHeaders(req *http.Request, headers map[string]any) {
	for k, v := range headers {
		req.Header.Set(k, expressions.Stringify(v))
	}
}

// APIHandler performs an HTTP request described by the node. GET requests
// carry params as query string; other methods send body as JSON.
type APIHandler struct {
	config HTTPConfig
	client *http.Client
}

// NewAPIHandler creates an api handler. client may be nil.
func NewAPIHandler(cfg HTTPConfig, client *http.Client) *APIHandler {
	cfg = cfg.withDefaults()
	return &APIHandler{config: cfg, client: newHTTPClient(cfg, client)}
}

func (h *APIHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return schema.Fail("URL is required for API requests"), nil
	}
	rawURL = expressions.Render(rawURL, vars)
	if err := validateURL(rawURL); err != nil {
		return schema.Fail("API request failed: " + err.Error()), nil
	}

	method := strings.ToUpper(stringParam(config, "method", "GET"))
	params, err := objectParam(config, "params")
	if err != nil {
		return schema.Fail("API request failed: params is not valid JSON"), nil
	}
	body, err := objectParam(config, "body")
	if err != nil {
		return schema.Fail("API request failed: body is not valid JSON"), nil
	}
	headers, err := objectParam(config, "headers")
	if err != nil {
		return schema.Fail("API request failed: headers is not valid JSON"), nil
	}

	if method == http.MethodGet && len(params) > 0 {
		q := url.Values{}
		for k, v := range expressions.RenderValue(params, vars).(map[string]any) {
			q.Set(k, expressions.Stringify(v))
		}
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + q.Encode()
	}

	var reader io.Reader
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if body == nil {
			body = map[string]any{}
		}
		b, err := json.Marshal(expressions.RenderValue(body, vars))
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "api: failed to marshal body as JSON").WithCause(err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "api: failed to create request").WithCause(err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	setHeaders(req, headers)

	policy := retryPolicyOf(config)
	resp, attempts, err := send(ctx, h.client, h.config, nodeTimeout(config, h.config.DefaultTimeout), req, policy)
	if err != nil {
		return schema.Fail(fmt.Sprintf("API request failed after %d attempt(s): %s", attempts, err.Error())), nil
	}
	if boolParam(config, "failOnErrorStatus", false) && resp.StatusCode >= 400 {
		return schema.Fail(fmt.Sprintf("API request failed: server returned %d", resp.StatusCode)), nil
	}

	out := map[string]any{}
	if boolParam(config, "saveResponse", true) {
		out[stringParam(config, "responseVariable", "apiResponse")] = resp.Body
		out["apiStatus"] = resp.StatusCode
	}
	if policy.Max > 0 {
		out["apiAttempts"] = attempts
	}
	res := schema.Ok(out)
	res.Message = fmt.Sprintf("API %s request successful (%d)", stringParam(config, "requestType", "external"), resp.StatusCode)
	return res, nil
}

// WebhookHandler notifies an external endpoint. Without waitForResponse the
// call uses a short timeout and the response body is discarded.
type WebhookHandler struct {
	config HTTPConfig
	client *http.Client
}

// NewWebhookHandler creates a triggerwebhook handler. client may be nil.
func NewWebhookHandler(cfg HTTPConfig, client *http.Client) *WebhookHandler {
	cfg = cfg.withDefaults()
	return &WebhookHandler{config: cfg, client: newHTTPClient(cfg, client)}
}

func (h *WebhookHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	target := stringParam(config, "webhookUrl", stringParam(config, "url", ""))
	if target == "" {
		return schema.Fail("Webhook URL is required"), nil
	}
	target = expressions.Render(target, vars)
	if err := validateURL(target); err != nil {
		return schema.Fail("Webhook trigger failed: " + err.Error()), nil
	}

	method := strings.ToUpper(stringParam(config, "method", http.MethodPost))
	headers, err := objectParam(config, "headers")
	if err != nil {
		return schema.Fail("Webhook trigger failed: headers is not valid JSON"), nil
	}
	wait := boolParam(config, "waitForResponse", false)

	var reader io.Reader
	if method != http.MethodGet {
		var payload any = map[string]any{}
		if name := stringParam(config, "payloadVariable", ""); name != "" {
			payload = vars[name]
		} else if raw, ok := config["payload"].(string); ok && strings.TrimSpace(raw) != "" {
			rendered := expressions.Render(raw, vars)
			var decoded any
			if err := json.Unmarshal([]byte(rendered), &decoded); err == nil {
				payload = decoded
			}
		} else if m, ok := config["payload"].(map[string]any); ok {
			payload = expressions.RenderValue(m, vars)
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "triggerwebhook: failed to marshal payload").WithCause(err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "triggerwebhook: failed to create request").WithCause(err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setHeaders(req, headers)

	timeout := nodeTimeout(config, h.config.DefaultTimeout)
	if !wait {
		timeout = webhookFireTimeout
	}
	policy := retryPolicyOf(config)
	resp, attempts, err := send(ctx, h.client, h.config, timeout, req, policy)
	if err != nil {
		return schema.Fail(fmt.Sprintf("Webhook trigger failed after %d attempt(s): %s", attempts, err.Error())), nil
	}

	out := map[string]any{
		"webhookStatus":  resp.StatusCode,
		"webhookSuccess": resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if policy.Max > 0 {
		out["webhookAttempts"] = attempts
	}
	if wait {
		out[stringParam(config, "responseVariable", "webhookResponse")] = resp.Body
	}
	res := schema.Ok(out)
	res.Message = fmt.Sprintf("Webhook triggered successfully to %s (%d)", target, resp.StatusCode)
	return res, nil
}
