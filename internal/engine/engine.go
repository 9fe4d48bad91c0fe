package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/graph"
	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// Engine drives runs over one Graph. It is safe for concurrent use; only
// one run proceeds at a time and later callers fail fast with ErrBusy.
type Engine struct {
	g    *graph.Graph
	busy atomic.Bool

	states *stateTable

	mu       sync.Mutex
	executed map[string]bool
}

// New builds an Engine bound to the given graph.
func New(g *graph.Graph) *Engine {
	return &Engine{
		g:        g,
		states:   newStateTable(),
		executed: make(map[string]bool),
	}
}

// Executed reports whether the node at path produced its outputs in the
// current run. The graph's pack accessors consult this while the run holds
// the graph.
func (e *Engine) Executed(path nodepath.Path) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed[path.String()]
}

// Run executes the whole graph once and returns its Result. The graph is
// locked against structural mutation for the duration. A failure after the
// run has started returns the partial Result together with the error;
// failures before the first node executes return a nil Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.busy.Store(false)

	release, err := e.g.LockRun(e)
	if err != nil {
		return nil, ErrBusy
	}
	defer release()

	logger := ctxlog.FromContext(ctx)

	e.g.ResetRunState()
	nodes := e.g.Nodes()
	paths := make([]string, len(nodes))
	for i, n := range nodes {
		paths[i] = n.Path().String()
		if r, ok := n.Compute().(kind.Resettable); ok {
			r.Reset()
		}
	}
	e.resetRun(paths)

	if err := e.g.Validate(); err != nil {
		return nil, err
	}
	units, err := plan(e.g)
	if err != nil {
		return nil, err
	}
	e.states.setAll(paths, StateReady)

	logger.Info("▶️ Starting run.", "nodes", len(nodes), "units", len(units))
	e.g.Emit(graph.Event{Type: graph.EventRunStarted, Iteration: -1})

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return e.fail(logger, err)
		}
		if u.isLoop() {
			err = e.runLoop(ctx, u)
		} else {
			err = e.runNode(ctx, u.node)
		}
		if err != nil {
			return e.fail(logger, err)
		}
	}

	res := e.collectResult()
	logger.Info("✅ Run completed.", "outputs", len(res.Outputs))
	e.g.Emit(graph.Event{Type: graph.EventRunCompleted, Iteration: -1})
	return res, nil
}

// runNode executes one out-of-loop node.
func (e *Engine) runNode(ctx context.Context, n *graph.Node) error {
	path := n.Path().String()
	e.states.set(path, StateRunning)
	if err := e.executeNode(ctx, n, -1, 0); err != nil {
		e.states.set(path, StateFailed)
		return &ExecutionFailure{Node: path, Iteration: -1, Err: err}
	}
	e.markExecuted(path)
	e.states.set(path, StateDone)
	e.g.Emit(graph.Event{Type: graph.EventNodeFinished, Node: path, Iteration: -1})
	return nil
}

// runLoop executes a ForEach region: the whole member block once per pass,
// indices counting up from zero. Members stay Running across passes and
// turn Done together when the last pass completes. A zero bound completes
// the region without executing anything.
func (e *Engine) runLoop(ctx context.Context, u *unit) error {
	logger := ctxlog.FromContext(ctx)

	begin, ok := e.g.NodeByID(u.group.BeginID())
	if !ok {
		return fmt.Errorf("loop begin node %s is gone", u.group.BeginID())
	}
	end, ok := e.g.NodeByID(u.group.EndID())
	if !ok {
		return fmt.Errorf("loop end node %s is gone", u.group.EndID())
	}
	total, err := e.iterationBound(end)
	if err != nil {
		e.states.set(end.Path().String(), StateFailed)
		return &ExecutionFailure{Node: end.Path().String(), Iteration: -1, Err: err}
	}
	logger.Debug("Entering loop region.", "begin", begin.Path().String(), "iterations", total, "members", len(u.members))

	for _, n := range u.members {
		e.states.set(n.Path().String(), StateRunning)
	}
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, n := range u.members {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := n.Path().String()
			if err := e.executeNode(ctx, n, i, total); err != nil {
				e.states.set(path, StateFailed)
				return &ExecutionFailure{Node: path, Iteration: i, Err: err}
			}
			e.markExecuted(path)
			e.g.Emit(graph.Event{Type: graph.EventNodeFinished, Node: path, Iteration: i})
		}
		e.g.Emit(graph.Event{Type: graph.EventIterationFinished, Node: begin.Path().String(), Iteration: i})
	}
	for _, n := range u.members {
		e.markExecuted(n.Path().String())
		e.states.set(n.Path().String(), StateDone)
	}
	return nil
}

// iterationBound reads the region's pass count from the End node.
func (e *Engine) iterationBound(end *graph.Node) (int, error) {
	v, err := e.g.ParamValue(end.Path(), graph.ForEachIterationsParam)
	if err != nil {
		return 0, err
	}
	if v.IsNull() || !v.Type().Equals(cty.Number) {
		return 0, fmt.Errorf("parameter %q must hold a number", graph.ForEachIterationsParam)
	}
	bound, _ := v.AsBigFloat().Int64()
	if bound < 0 {
		return 0, fmt.Errorf("iteration bound cannot be negative, got %d", bound)
	}
	return int(bound), nil
}

// fail reports a started run's failure: the event carries the error, and
// the partial Result keeps whatever was produced before it.
func (e *Engine) fail(logger *slog.Logger, err error) (*Result, error) {
	ev := graph.Event{Type: graph.EventRunFailed, Iteration: -1, Err: err}
	var ef *ExecutionFailure
	if errors.As(err, &ef) {
		ev.Node = ef.Node
		ev.Iteration = ef.Iteration
	}
	logger.Error("Run failed.", "error", err)
	e.g.Emit(ev)
	return e.collectResult(), err
}

func (e *Engine) resetRun(paths []string) {
	e.mu.Lock()
	e.executed = make(map[string]bool, len(paths))
	e.mu.Unlock()
	e.states.reset(paths)
}

func (e *Engine) markExecuted(path string) {
	e.mu.Lock()
	e.executed[path] = true
	e.mu.Unlock()
}
