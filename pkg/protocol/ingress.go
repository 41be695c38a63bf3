package protocol

import "context"

// TriggerIngress accepts candidate triggering events. It is implemented by
// the trigger matcher and called by surrounding ingress points (webhooks,
// score updates, schedule sources) whenever something happens that might
// start a workflow. The returned ids are the executions created, possibly
// none.
type TriggerIngress interface {
	OnTrigger(ctx context.Context, triggerKind, entityID string, payload map[string]any) ([]string, error)
}
