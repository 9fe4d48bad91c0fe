package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/tensorgrid/tensorgrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// fileConfig is the shape of the optional --config YAML file. Explicitly
// set flags always win over file values.
type fileConfig struct {
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	EvalPolicy string `yaml:"eval_policy"`
	BridgeURL  string `yaml:"bridge_url"`
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("tensorgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
TensorGrid - the dataflow-graph engine behind a node-based model editor.

Usage:
  tensorgrid [options] [PROJECT_PATH]

Arguments:
  PROJECT_PATH
    Path to a project document (.json).

Options:
`)
		flagSet.PrintDefaults()
	}

	projectFlag := flagSet.String("project", "", "Path to the project document.")
	pFlag := flagSet.String("p", "", "Path to the project document (shorthand).")
	configFlag := flagSet.String("config", "", "Path to a YAML config file merged under explicit flags.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	evalPolicyFlag := flagSet.String("eval-policy", "eager", "Formula re-evaluation policy. Options: 'eager' or 'lazy'.")
	bridgeURLFlag := flagSet.String("bridge-url", "", "socket.io URL of a remote editor to stream events to. Empty disables the bridge.")
	bridgeInsecureFlag := flagSet.Bool("bridge-insecure", false, "Skip TLS certificate verification for the bridge connection.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	explicit := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	logFormat := *logFormatFlag
	logLevel := *logLevelFlag
	evalPolicy := *evalPolicyFlag
	bridgeURL := *bridgeURLFlag

	if *configFlag != "" {
		raw, err := os.ReadFile(*configFlag)
		if err != nil {
			return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("reading config file: %v", err)}
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("parsing config file: %v", err)}
		}
		if !explicit["log-level"] && fc.LogLevel != "" {
			logLevel = fc.LogLevel
		}
		if !explicit["log-format"] && fc.LogFormat != "" {
			logFormat = fc.LogFormat
		}
		if !explicit["eval-policy"] && fc.EvalPolicy != "" {
			evalPolicy = fc.EvalPolicy
		}
		if !explicit["bridge-url"] && fc.BridgeURL != "" {
			bridgeURL = fc.BridgeURL
		}
		slog.Debug("Config file merged.", "path", *configFlag)
	}

	path := ""
	if *projectFlag != "" {
		path = *projectFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Project path determined.", "path", path)

	if path == "" {
		slog.Debug("No project path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat = strings.ToLower(logFormat)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel = strings.ToLower(logLevel)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	evalPolicy = strings.ToLower(evalPolicy)
	if evalPolicy != "eager" && evalPolicy != "lazy" {
		return nil, false, &ExitError{Code: 2, Message: "invalid eval-policy: must be 'eager' or 'lazy'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		ProjectPath:    path,
		LogFormat:      logFormat,
		LogLevel:       logLevel,
		EvalPolicy:     evalPolicy,
		BridgeURL:      bridgeURL,
		BridgeInsecure: *bridgeInsecureFlag,
	})

	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
