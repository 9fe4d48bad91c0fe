package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorgrid/tensorgrid/internal/app"
	"github.com/tensorgrid/tensorgrid/internal/engine"
	"github.com/tensorgrid/tensorgrid/internal/kind"
)

// HarnessResult holds the outcomes of a project test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	Result    *engine.Result
	App       *app.App
}

// RunProjectTest provides a standardized harness for running a project
// document end to end using a default background context.
func RunProjectTest(t *testing.T, doc string, modules ...kind.Module) *HarnessResult {
	t.Helper()
	return RunProjectTestWithContext(context.Background(), t, doc, modules...)
}

// RunProjectTestWithContext writes the document to a temporary file,
// builds an App around it with debug logging captured, runs it once, and
// returns everything the run produced.
func RunProjectTestWithContext(ctx context.Context, t *testing.T, doc string, modules ...kind.Module) *HarnessResult {
	t.Helper()

	path := filepath.Join(t.TempDir(), "project.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	appConfig, err := app.NewConfig(app.Config{
		ProjectPath: path,
		LogLevel:    "debug",
		LogFormat:   "text",
	})
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}

	var testApp *app.App
	var panicErr any
	func() {
		defer func() { panicErr = recover() }()
		testApp = app.NewApp(logBuffer, appConfig, modules...)
	}()
	if panicErr != nil {
		return &HarnessResult{
			LogOutput: logBuffer.String(),
			Err:       fmt.Errorf("application startup panicked | %v", panicErr),
		}
	}

	res, runErr := testApp.Run(ctx)

	if os.Getenv("TENSORGRID_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
	}

	return &HarnessResult{
		LogOutput: logBuffer.String(),
		Err:       runErr,
		Result:    res,
		App:       testApp,
	}
}
