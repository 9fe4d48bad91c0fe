package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/kind"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *kind.Registry
	config   *Config

	// Migrate, when set before Run, upgrades project documents of older
	// format versions before they reach the core.
	Migrate func(version string, raw []byte) ([]byte, error)
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// When no modules are given, the builtin kind families are registered.
func NewApp(outW io.Writer, appConfig *Config, modules ...kind.Module) *App {
	logger := newLogger(appConfig, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := kind.NewWith(modules...)
	logger.Debug("All kind modules registered.", "modules", len(modules), "kinds", len(reg.Tags()))

	// A manifest without a compute handler (or the reverse) is a
	// programmer error, so we panic.
	if err := reg.Validate(ctx); err != nil {
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		config:   appConfig,
	}
}

// Registry returns the application's kind registry. This is primarily for
// testing.
func (a *App) Registry() *kind.Registry {
	return a.registry
}
