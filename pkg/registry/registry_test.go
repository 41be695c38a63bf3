package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/protocol"
)

type stubAction struct{}

func (stubAction) Execute(_ context.Context, _ protocol.ActionRequest, _ *slog.Logger) (map[string]any, error) {
	return nil, nil
}

type stubFactory struct {
	id     string
	schema map[string]any
}

func (f *stubFactory) ID() string { return f.id }

func (f *stubFactory) Create(_ map[string]any) (protocol.Action, error) {
	return stubAction{}, nil
}

func (f *stubFactory) Schema() map[string]any { return f.schema }

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterAction(&stubFactory{id: "send_message"})

	assert.True(t, r.HasAction("send_message"))
	assert.False(t, r.HasAction("unknown"))

	action, err := r.CreateAction("send_message", nil)
	require.NoError(t, err)
	assert.NotNil(t, action)

	_, err = r.CreateAction("unknown", nil)
	assert.Error(t, err)
}

func TestRegistryActionKindsSorted(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterAction(&stubFactory{id: "webhook"})
	r.RegisterAction(&stubFactory{id: "add_tag"})
	r.RegisterAction(&stubFactory{id: "send_message"})

	assert.Equal(t, []string{"add_tag", "send_message", "webhook"}, r.ActionKinds())
}

func TestValidateParameters(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterAction(&stubFactory{
		id: "send_message",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel":  map[string]any{"type": "string", "enum": []string{"email", "sms"}},
				"template": map[string]any{"type": "string"},
			},
			"required": []string{"channel", "template"},
		},
	})
	r.RegisterAction(&stubFactory{id: "wait"})

	tests := []struct {
		name    string
		kind    string
		params  map[string]any
		wantErr bool
	}{
		{
			name:   "valid parameters",
			kind:   "send_message",
			params: map[string]any{"channel": "email", "template": "welcome"},
		},
		{
			name:    "missing required",
			kind:    "send_message",
			params:  map[string]any{"channel": "email"},
			wantErr: true,
		},
		{
			name:    "enum violation",
			kind:    "send_message",
			params:  map[string]any{"channel": "fax", "template": "welcome"},
			wantErr: true,
		},
		{
			name:   "no schema accepts anything",
			kind:   "wait",
			params: map[string]any{"whatever": true},
		},
		{
			name:    "unregistered kind",
			kind:    "unknown",
			params:  map[string]any{},
			wantErr: true,
		},
		{
			name: "nil parameters validated as empty object",
			kind: "wait",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateParameters(tt.kind, tt.params)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
