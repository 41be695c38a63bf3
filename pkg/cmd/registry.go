// Package cmd provides shared initialization for the drip binaries.
package cmd

import (
	"context"
	"log/slog"

	"github.com/leadwell/drip/pkg/actions/addtag"
	"github.com/leadwell/drip/pkg/actions/changesegment"
	"github.com/leadwell/drip/pkg/actions/createtask"
	"github.com/leadwell/drip/pkg/actions/sendmessage"
	"github.com/leadwell/drip/pkg/actions/updatescore"
	"github.com/leadwell/drip/pkg/actions/wait"
	"github.com/leadwell/drip/pkg/actions/webhook"
	"github.com/leadwell/drip/pkg/registry"
)

// Collaborators carries the outbound integrations the builtin actions bind
// to. A nil collaborator leaves its action kind unregistered; deployments
// supply the missing kinds as compiled plugins instead.
type Collaborators struct {
	Sender      sendmessage.Sender
	Scores      updatescore.ScoreStore
	Tagger      addtag.Tagger
	Tasks       createtask.TaskCreator
	Memberships changesegment.MembershipChanger
}

// NewRegistry builds the action registry: plugins from pluginsPath first,
// then the builtin kinds whose collaborators are available.
func NewRegistry(ctx context.Context, logger *slog.Logger, pluginsPath string, collab Collaborators) *registry.Registry {
	reg := registry.NewRegistry(logger)

	if pluginsPath != "" {
		err := reg.LoadActionPlugins(pluginsPath)
		if err != nil {
			panic(err)
		}
	}

	reg.RegisterAction(webhook.NewActionFactory())
	reg.RegisterAction(wait.NewActionFactory())

	if collab.Sender != nil {
		reg.RegisterAction(sendmessage.NewActionFactory(collab.Sender))
	}

	if collab.Scores != nil {
		reg.RegisterAction(updatescore.NewActionFactory(collab.Scores))
	}

	if collab.Tagger != nil {
		reg.RegisterAction(addtag.NewActionFactory(collab.Tagger))
	}

	if collab.Tasks != nil {
		reg.RegisterAction(createtask.NewActionFactory(collab.Tasks))
	}

	if collab.Memberships != nil {
		reg.RegisterAction(changesegment.NewActionFactory(collab.Memberships))
	}

	logger.InfoContext(ctx, "Action registry initialized", "kinds", reg.ActionKinds())

	return reg
}

// NewSchemaRegistry builds a registry holding every builtin kind regardless
// of collaborators, for definition-time parameter validation. Only Schema()
// is consulted; the factories never execute.
func NewSchemaRegistry(ctx context.Context, logger *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	if pluginsPath != "" {
		err := reg.LoadActionPlugins(pluginsPath)
		if err != nil {
			panic(err)
		}
	}

	reg.RegisterAction(webhook.NewActionFactory())
	reg.RegisterAction(wait.NewActionFactory())
	reg.RegisterAction(sendmessage.NewActionFactory(nil))
	reg.RegisterAction(updatescore.NewActionFactory(nil))
	reg.RegisterAction(addtag.NewActionFactory(nil))
	reg.RegisterAction(createtask.NewActionFactory(nil))
	reg.RegisterAction(changesegment.NewActionFactory(nil))

	logger.InfoContext(ctx, "Schema registry initialized", "kinds", reg.ActionKinds())

	return reg
}
