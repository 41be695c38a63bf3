// Package template renders step parameters against the execution context.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/leadwell/drip/pkg/protocol"
)

// RenderWithRequest renders a template string against one action request.
// Prior step outputs are addressable as {{.steps.<index>.output.<key>}} and
// the trigger payload as {{.trigger.<key>}}.
func RenderWithRequest(input string, req protocol.ActionRequest) (any, error) {
	data := map[string]any{
		"entity_id": req.EntityID,
		"execution": map[string]any{
			"id":          req.ExecutionID,
			"workflow_id": req.WorkflowID,
		},
	}

	for k, v := range req.Context {
		data[k] = v
	}

	return Render(input, data)
}

// Render executes a text/template against data. Results that parse as JSON,
// numbers, or booleans are returned typed; everything else comes back as the
// rendered string.
func Render(templateStr string, data any) (any, error) {
	result, err := execute(templateStr, data)
	if err != nil {
		return nil, err
	}

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderString renders a template for parameters that must stay textual, such
// as message and webhook bodies. No type coercion happens: a rendered JSON
// body is returned exactly as the template produced it.
func RenderString(templateStr string, req protocol.ActionRequest) (string, error) {
	data := map[string]any{
		"entity_id": req.EntityID,
		"execution": map[string]any{
			"id":          req.ExecutionID,
			"workflow_id": req.WorkflowID,
		},
	}

	for k, v := range req.Context {
		data[k] = v
	}

	return execute(templateStr, data)
}

// execute parses and runs the template, returning the trimmed raw output.
func execute(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("step").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
