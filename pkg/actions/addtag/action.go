// Package addtag provides the action that attaches a tag to an entity.
package addtag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadwell/drip/pkg/protocol"
	"github.com/leadwell/drip/pkg/template"
)

// Tagger attaches tags to entities. Adding an existing tag must be a no-op.
type Tagger interface {
	AddTag(ctx context.Context, entityID, tag string) error
}

var ErrTagRequired = errors.New("add_tag requires a 'tag' parameter")

type Action struct {
	tag    string
	tagger Tagger
}

func NewAction(config map[string]any, tagger Tagger) (*Action, error) {
	tag, _ := config["tag"].(string)
	if tag == "" {
		return nil, ErrTagRequired
	}

	return &Action{tag: tag, tagger: tagger}, nil
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	tag, err := template.RenderString(a.tag, req)
	if err != nil {
		return nil, fmt.Errorf("failed to render tag: %w", err)
	}

	err = a.tagger.AddTag(ctx, req.EntityID, tag)
	if err != nil {
		return nil, protocol.Retriable(fmt.Errorf("failed to add tag: %w", err))
	}

	logger.InfoContext(ctx, "Tag added", "module", "add_tag_action", "tag", tag)

	return map[string]any{"tag": tag}, nil
}
