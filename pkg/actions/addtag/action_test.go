package addtag

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/protocol"
)

type fakeTagger struct {
	tags map[string][]string
}

func (f *fakeTagger) AddTag(_ context.Context, entityID, tag string) error {
	f.tags[entityID] = append(f.tags[entityID], tag)

	return nil
}

func TestAddTag(t *testing.T) {
	tagger := &fakeTagger{tags: map[string][]string{}}

	action, err := NewAction(map[string]any{"tag": "hot-lead"}, tagger)
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), protocol.ActionRequest{EntityID: "lead-1"}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "hot-lead", output["tag"])
	assert.Equal(t, []string{"hot-lead"}, tagger.tags["lead-1"])
}

func TestAddTagTemplated(t *testing.T) {
	tagger := &fakeTagger{tags: map[string][]string{}}

	action, err := NewAction(map[string]any{"tag": "source-{{.trigger.form}}"}, tagger)
	require.NoError(t, err)

	req := protocol.ActionRequest{
		EntityID: "lead-1",
		Context:  map[string]any{"trigger": map[string]any{"form": "webinar"}},
	}

	output, err := action.Execute(context.Background(), req, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "source-webinar", output["tag"])
}

func TestAddTagMissingParameter(t *testing.T) {
	_, err := NewAction(map[string]any{}, &fakeTagger{})
	assert.ErrorIs(t, err, ErrTagRequired)
}
