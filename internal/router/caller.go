package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oropendola/gateway/internal/models"
)

// CallResult carries the upstream response for a single backend attempt.
type CallResult struct {
	StatusCode   int
	Body         json.RawMessage
	TokensOutput *int
}

// Caller performs the actual upstream request against a backend model.
// The router treats any returned error, or a non-2xx status, as attempt
// failure and moves on to the next candidate.
type Caller interface {
	Call(ctx context.Context, profile *models.ModelProfile, payload map[string]any) (CallResult, error)
}

// HTTPCaller posts the request payload to the backend's completion
// endpoint. The per-attempt deadline comes from the profile's configured
// timeout; the shared client carries no timeout of its own.
type HTTPCaller struct {
	client *http.Client
}

func NewHTTPCaller() *HTTPCaller {
	return &HTTPCaller{client: &http.Client{}}
}

func (c *HTTPCaller) Call(ctx context.Context, profile *models.ModelProfile, payload map[string]any) (CallResult, error) {
	timeout := time.Duration(profile.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return CallResult{}, fmt.Errorf("marshal payload: %w", errMarshal)
	}
	req, errReq := http.NewRequestWithContext(callCtx, http.MethodPost, profile.EndpointURL+"/v1/chat/completions", bytes.NewReader(body))
	if errReq != nil {
		return CallResult{}, fmt.Errorf("build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if profile.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+profile.APIKey)
	}

	resp, errDo := c.client.Do(req)
	if errDo != nil {
		return CallResult{}, fmt.Errorf("call %s: %w", profile.ModelName, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, errRead := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if errRead != nil {
		return CallResult{}, fmt.Errorf("read response from %s: %w", profile.ModelName, errRead)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CallResult{StatusCode: resp.StatusCode, Body: respBody}, fmt.Errorf("backend %s returned status %d", profile.ModelName, resp.StatusCode)
	}
	return CallResult{StatusCode: resp.StatusCode, Body: respBody, TokensOutput: extractOutputTokens(respBody)}, nil
}

func extractOutputTokens(body []byte) *int {
	var envelope struct {
		Usage struct {
			CompletionTokens *int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.Usage.CompletionTokens
}
