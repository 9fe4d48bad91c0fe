package app_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorgrid/tensorgrid/internal/app"
	"github.com/tensorgrid/tensorgrid/internal/engine"
	"github.com/tensorgrid/tensorgrid/internal/testutil"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	t.Run("requires project path", func(t *testing.T) {
		t.Parallel()
		_, err := app.NewConfig(app.Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ProjectPath")
	})

	t.Run("defaults eval policy to eager", func(t *testing.T) {
		t.Parallel()
		cfg, err := app.NewConfig(app.Config{ProjectPath: "p.json"})
		require.NoError(t, err)
		assert.Equal(t, "eager", cfg.EvalPolicy)
	})

	t.Run("rejects unknown eval policy", func(t *testing.T) {
		t.Parallel()
		_, err := app.NewConfig(app.Config{ProjectPath: "p.json", EvalPolicy: "sometimes"})
		require.Error(t, err)
	})
}

func TestNewAppLoggerConfig(t *testing.T) {
	t.Parallel()

	t.Run("json format emits json records", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		app.NewApp(&buf, &app.Config{ProjectPath: "p.json", LogFormat: "json", LogLevel: "debug"})
		assert.Contains(t, buf.String(), `"msg":"Logger configured successfully."`)
	})

	t.Run("level gates debug records", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		app.NewApp(&buf, &app.Config{ProjectPath: "p.json", LogFormat: "text", LogLevel: "warn"})
		assert.Empty(t, buf.String())
	})
}

func TestRun_ProjectEndToEnd(t *testing.T) {
	t.Parallel()

	doc := `{
	  "version": "1",
	  "type": "tensorgrid_project",
	  "graph": {
	    "nodes": [
	      {"id": "n1", "kind": "test.emit", "path": "/src",
	       "params": [{"name": "value", "value": 2.5}]},
	      {"id": "n2", "kind": "test.pass", "path": "/mid"}
	    ],
	    "connections": [
	      {"id": "c1",
	       "source": {"node": "/src", "pin": "out"},
	       "target": {"node": "/mid", "pin": "in"}}
	    ]
	  }
	}`

	res := testutil.RunProjectTest(t, doc, testutil.Module{})

	require.NoError(t, res.Err, "log output:\n%s", res.LogOutput)
	require.NotNil(t, res.Result)

	packs := res.Result.Outputs["/mid.out"]
	require.Len(t, packs, 1)
	v, err := packs[0].Value(0)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	assert.Equal(t, engine.StateDone, res.Result.States["/src"])
	assert.Equal(t, engine.StateDone, res.Result.States["/mid"])
	assert.Contains(t, res.LogOutput, "/mid.out: 1 pack(s), tensor shape [1], values [2.5]")
}

func TestRun_FormulaAcrossNodes(t *testing.T) {
	t.Parallel()

	doc := `{
	  "version": "1",
	  "type": "tensorgrid_project",
	  "graph": {
	    "nodes": [
	      {"id": "n1", "kind": "test.emit", "path": "/a",
	       "params": [{"name": "value", "value": 32}]},
	      {"id": "n2", "kind": "test.emit", "path": "/b",
	       "params": [{"name": "value", "formula": "get-float('/a/value') * 2"}]}
	    ],
	    "connections": []
	  }
	}`

	res := testutil.RunProjectTest(t, doc, testutil.Module{})

	require.NoError(t, res.Err, "log output:\n%s", res.LogOutput)
	packs := res.Result.Outputs["/b.out"]
	require.Len(t, packs, 1)
	v, err := packs[0].Value(0)
	require.NoError(t, err)
	assert.Equal(t, 64.0, v)
}

func TestRun_FailureKeepsPartialResult(t *testing.T) {
	t.Parallel()

	doc := `{
	  "version": "1",
	  "type": "tensorgrid_project",
	  "graph": {
	    "nodes": [
	      {"id": "n1", "kind": "test.emit", "path": "/src"},
	      {"id": "n2", "kind": "test.fail", "path": "/boom"}
	    ],
	    "connections": [
	      {"id": "c1",
	       "source": {"node": "/src", "pin": "out"},
	       "target": {"node": "/boom", "pin": "in"}}
	    ]
	  }
	}`

	res := testutil.RunProjectTest(t, doc, testutil.Module{})

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "node /boom failed")
	require.NotNil(t, res.Result, "a failed run still returns the partial result")
	assert.Equal(t, engine.StateDone, res.Result.States["/src"])
	assert.Equal(t, engine.StateFailed, res.Result.States["/boom"])
}

func TestRun_MissingMandatoryInput(t *testing.T) {
	t.Parallel()

	doc := `{
	  "version": "1",
	  "type": "tensorgrid_project",
	  "graph": {
	    "nodes": [{"id": "n1", "kind": "test.sink", "path": "/sink"}],
	    "connections": []
	  }
	}`

	res := testutil.RunProjectTest(t, doc, testutil.Module{})

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), `mandatory input "in" received no packs`)
}

func TestRun_MigrationHookUpgradesOldDocuments(t *testing.T) {
	t.Parallel()

	// Version 0 documents carried the node kind under "type"; the hook
	// rewrites just enough for the current loader.
	doc := `{
	  "version": "0",
	  "type": "tensorgrid_project",
	  "graph": {"nodes": [], "connections": []}
	}`

	t.Run("rejected without a hook", func(t *testing.T) {
		t.Parallel()
		res := testutil.RunProjectTest(t, doc, testutil.Module{})
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), `version "0" is not supported`)
	})

	t.Run("applied when set", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "project.json")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
		cfg, err := app.NewConfig(app.Config{ProjectPath: path, LogLevel: "debug", LogFormat: "text"})
		require.NoError(t, err)

		a := app.NewApp(&testutil.SafeBuffer{}, cfg, testutil.Module{})
		a.Migrate = func(version string, raw []byte) ([]byte, error) {
			assert.Equal(t, "0", version)
			return []byte(`{"version": "1", "type": "tensorgrid_project", "graph": {"nodes": [], "connections": []}}`), nil
		}

		res, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, res.Outputs)
	})
}
