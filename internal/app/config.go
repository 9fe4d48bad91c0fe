package app

import (
	"errors"

	"github.com/tensorgrid/tensorgrid/internal/graph"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ProjectPath string // project document (.json)

	LogFormat  string
	LogLevel   string
	EvalPolicy string // eager or lazy formula re-evaluation

	BridgeURL      string // optional remote-editor bridge
	BridgeInsecure bool
}

// NewConfig validates a Config and fills its defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ProjectPath == "" {
		return nil, errors.New("ProjectPath is a required configuration field and cannot be empty")
	}

	if cfg.EvalPolicy == "" {
		cfg.EvalPolicy = graph.EvalEager.String()
	}
	if _, err := graph.ParseEvalPolicy(cfg.EvalPolicy); err != nil {
		return nil, err
	}

	return &cfg, nil
}
