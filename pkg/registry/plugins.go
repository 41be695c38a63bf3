package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"strings"

	"github.com/leadwell/drip/pkg/protocol"
)

// LoadActionPlugins loads and registers action factories from compiled
// plugins under <pluginsPath>/actions, each exporting an "Action" symbol
// implementing protocol.ActionFactory.
func (r *Registry) LoadActionPlugins(pluginsPath string) error {
	factories, err := loadPlugin[protocol.ActionFactory](r.logger, pluginsPath, "Action")
	if err != nil {
		return err
	}

	for _, factory := range factories {
		r.RegisterAction(factory)
	}

	return nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, err
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, err
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s does not export a %s factory", p, symbolName)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded action plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
