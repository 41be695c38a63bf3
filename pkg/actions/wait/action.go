// Package wait provides a no-op action. A wait step exists only for its
// delay: the engine parks the execution after dispatch, so the action itself
// has nothing to do.
package wait

import (
	"context"
	"log/slog"

	"github.com/leadwell/drip/pkg/protocol"
)

type Action struct{}

func NewAction() *Action {
	return &Action{}
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	logger.DebugContext(ctx, "Wait step dispatched",
		"module", "wait_action", "execution_id", req.ExecutionID, "step_index", req.StepIndex)

	return map[string]any{}, nil
}

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) ID() string {
	return "wait"
}

func (f *ActionFactory) Create(_ map[string]any) (protocol.Action, error) {
	return NewAction(), nil
}

func (f *ActionFactory) Schema() map[string]any {
	return nil
}
