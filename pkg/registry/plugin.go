package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/dukex/calcflow/pkg/protocol"
)

// LoadCalculatorPlugins opens every .so under <pluginsPath>/calculators and
// registers the Calculator each one exports. A missing directory loads
// nothing.
func (r *Registry) LoadCalculatorPlugins(pluginsPath string) ([]protocol.Calculator, error) {
	calculators, err := loadPlugin[protocol.Calculator](r.logger, pluginsPath, "Calculator")
	if err != nil {
		return nil, err
	}

	for _, calculator := range calculators {
		r.RegisterCalculator(calculator)
	}

	return calculators, nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, strings.ToLower(symbolName)+"s")

	if _, err := os.Stat(rootPath); errors.Is(err, fs.ErrNotExist) {
		logger.Info("No plugin directory", slog.String("path", rootPath))

		return nil, nil
	}

	root := os.DirFS(rootPath)

	var pluginPathList []string

	for _, pattern := range []string{"*.so", "*/*.so"} {
		matches, err := fs.Glob(root, pattern)
		if err != nil {
			return nil, err
		}

		pluginPathList = append(pluginPathList, matches...)
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export %s: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			// exported variables are looked up as pointers
			ptr, isPtr := v.(*T)
			if !isPtr {
				return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
			}

			castV = *ptr
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
