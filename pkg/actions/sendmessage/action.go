// Package sendmessage provides the action that delivers a message to an
// entity over a configured channel.
package sendmessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadwell/drip/pkg/protocol"
	"github.com/leadwell/drip/pkg/template"
)

// Message is one rendered delivery request.
type Message struct {
	EntityID string
	Channel  string
	Template string
	Subject  string
	Body     string
}

// Sender delivers messages. Implementations wrap the actual email or SMS
// provider; delivery failures they consider transient should be returned
// as-is and the action marks them retriable.
type Sender interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}

var ErrChannelRequired = errors.New("send_message requires a 'channel' parameter")
var ErrTemplateRequired = errors.New("send_message requires a 'template' parameter")

// Action sends one message per dispatch.
type Action struct {
	channel      string
	templateName string
	subject      string
	body         string
	sender       Sender
}

func NewAction(config map[string]any, sender Sender) (*Action, error) {
	channel, _ := config["channel"].(string)
	if channel == "" {
		return nil, ErrChannelRequired
	}

	templateName, _ := config["template"].(string)
	if templateName == "" {
		return nil, ErrTemplateRequired
	}

	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)

	return &Action{
		channel:      channel,
		templateName: templateName,
		subject:      subject,
		body:         body,
		sender:       sender,
	}, nil
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "send_message_action", "channel", a.channel, "template", a.templateName)

	subject, err := template.RenderString(a.subject, req)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}

	body, err := template.RenderString(a.body, req)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	messageID, err := a.sender.Send(ctx, Message{
		EntityID: req.EntityID,
		Channel:  a.channel,
		Template: a.templateName,
		Subject:  subject,
		Body:     body,
	})
	if err != nil {
		// Delivery infrastructure failures are worth retrying.
		return nil, protocol.Retriable(fmt.Errorf("failed to send message: %w", err))
	}

	logger.InfoContext(ctx, "Message sent", "message_id", messageID)

	return map[string]any{
		"message_id": messageID,
		"channel":    a.channel,
	}, nil
}
