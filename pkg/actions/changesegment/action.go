// Package changesegment provides the action that moves an entity into or out
// of a segment.
package changesegment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadwell/drip/pkg/protocol"
)

// MembershipChanger applies manual membership changes. The segment evaluator
// satisfies this.
type MembershipChanger interface {
	AddMember(ctx context.Context, segmentID, entityID string) error
	RemoveMember(ctx context.Context, segmentID, entityID string) error
}

var ErrSegmentRequired = errors.New("change_segment requires a 'segment_id' parameter")
var ErrInvalidOp = errors.New("change_segment 'op' must be \"add\" or \"remove\"")

type Action struct {
	segmentID string
	op        string
	changer   MembershipChanger
}

func NewAction(config map[string]any, changer MembershipChanger) (*Action, error) {
	segmentID, _ := config["segment_id"].(string)
	if segmentID == "" {
		return nil, ErrSegmentRequired
	}

	op, _ := config["op"].(string)
	if op == "" {
		op = "add"
	}

	if op != "add" && op != "remove" {
		return nil, fmt.Errorf("%w, got %q", ErrInvalidOp, op)
	}

	return &Action{segmentID: segmentID, op: op, changer: changer}, nil
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "change_segment_action", "segment_id", a.segmentID, "op", a.op)

	var err error

	switch a.op {
	case "add":
		err = a.changer.AddMember(ctx, a.segmentID, req.EntityID)
	case "remove":
		err = a.changer.RemoveMember(ctx, a.segmentID, req.EntityID)
	}

	if err != nil {
		return nil, protocol.Retriable(fmt.Errorf("failed to change segment membership: %w", err))
	}

	logger.InfoContext(ctx, "Segment membership changed")

	return map[string]any{
		"segment_id": a.segmentID,
		"op":         a.op,
	}, nil
}
