package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadwell/drip/pkg/models"
	"github.com/leadwell/drip/pkg/otelhelper"
	"github.com/leadwell/drip/pkg/protocol"
	"github.com/leadwell/drip/pkg/registry"
)

// Dispatcher hands a single step to its action handler. It knows nothing
// about delays, retries, or execution state; classifying a failure as
// retriable is the handler's job and acting on that classification is the
// engine's.
type Dispatcher struct {
	registry *registry.Registry
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewDispatcher(reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		logger:   logger.With("module", "dispatcher"),
	}
}

// WithTracer enables a span per dispatched step.
func (d *Dispatcher) WithTracer(tracer trace.Tracer) *Dispatcher {
	d.tracer = tracer

	return d
}

// Dispatch executes the step's action and returns its output.
func (d *Dispatcher) Dispatch(ctx context.Context, exec *models.ExecutionInstance, step models.StepDefinition) (map[string]any, error) {
	action, err := d.registry.CreateAction(step.ActionKind, step.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to create action %s: %w", step.ActionKind, err)
	}

	logger := d.logger.With(
		"execution_id", exec.ID,
		"workflow_id", exec.WorkflowID,
		"entity_id", exec.EntityID,
		"step_index", step.Index,
		"action_kind", step.ActionKind,
	)

	req := protocol.ActionRequest{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		EntityID:    exec.EntityID,
		StepIndex:   step.Index,
		Parameters:  step.Parameters,
		Context:     exec.Context,
	}

	var span trace.Span

	if d.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, d.tracer, "step.dispatch",
			attribute.String(otelhelper.ExecutionIDKey, exec.ID),
			attribute.String(otelhelper.WorkflowIDKey, exec.WorkflowID),
			attribute.String(otelhelper.EntityIDKey, exec.EntityID),
			attribute.Int(otelhelper.StepIndexKey, step.Index),
			attribute.String(otelhelper.ActionKindKey, step.ActionKind),
		)
		defer span.End()
	}

	output, err := action.Execute(ctx, req, logger)
	if err != nil {
		if span != nil {
			otelhelper.SetError(span, err)
		}

		return nil, fmt.Errorf("action %s failed: %w", step.ActionKind, err)
	}

	return output, nil
}
