package app

import (
	"context"
	"fmt"
	"os"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/document"
	"github.com/tensorgrid/tensorgrid/internal/graph"
)

// LoadProject reads and restores the configured project document and
// applies the configured evaluation policy.
func (a *App) LoadProject(ctx context.Context) (*graph.Graph, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("Loading project...", "project_path", a.config.ProjectPath)

	raw, err := os.ReadFile(a.config.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("reading project file: %w", err)
	}

	var opts *document.Options
	if a.Migrate != nil {
		opts = &document.Options{Migrate: a.Migrate}
	}
	g, err := document.Load(ctx, raw, a.registry, opts)
	if err != nil {
		return nil, err
	}

	// NewConfig already vetted the policy name.
	policy, err := graph.ParseEvalPolicy(a.config.EvalPolicy)
	if err != nil {
		return nil, err
	}
	g.SetEvalPolicy(policy)

	a.logger.Info("Project loaded.", "nodes", g.Len(), "connections", len(g.Connections()), "eval_policy", policy.String())
	return g, nil
}
