// Package webhook provides the action that notifies an external system over
// HTTP.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leadwell/drip/pkg/protocol"
	"github.com/leadwell/drip/pkg/template"
)

const defaultTimeout = 30 * time.Second

var ErrURLRequired = errors.New("webhook requires a 'url' parameter")

// Action performs one HTTP request per dispatch. Network failures and 5xx
// responses are retriable; 4xx responses are final, the receiver has rejected
// the payload and retrying will not change its mind.
type Action struct {
	method  string
	url     string
	headers map[string]string
	body    string
	client  *http.Client
}

func NewAction(config map[string]any) (*Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, ErrURLRequired
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	return &Action{
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		body:    body,
		client:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "webhook_action", "method", a.method)

	url, err := template.RenderString(a.url, req)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	body, err := a.renderBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, a.method, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	for key, value := range a.headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, protocol.Retriable(fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.Retriable(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, protocol.Retriable(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("webhook rejected request with status %d", resp.StatusCode)
	}

	logger.InfoContext(ctx, "Webhook delivered", "status_code", resp.StatusCode)

	var respBody any
	if err := json.Unmarshal(respBytes, &respBody); err != nil {
		respBody = string(respBytes)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        respBody,
	}, nil
}

// renderBody renders the configured body template, defaulting to a JSON
// envelope with the entity id and trigger payload when none is configured.
func (a *Action) renderBody(req protocol.ActionRequest) (string, error) {
	if a.body != "" {
		return template.RenderString(a.body, req)
	}

	payload := map[string]any{
		"execution_id": req.ExecutionID,
		"workflow_id":  req.WorkflowID,
		"entity_id":    req.EntityID,
		"step_index":   req.StepIndex,
	}

	if trigger, ok := req.Context["trigger"]; ok {
		payload["trigger"] = trigger
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	return string(encoded), nil
}
