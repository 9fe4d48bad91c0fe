package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/expr"
	"github.com/tensorgrid/tensorgrid/internal/graph"
	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/nodepath"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

func testCtx() context.Context {
	return ctxlog.WithLogger(context.Background(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func srcSpec() graph.Spec {
	return graph.Spec{
		Kind:    "test.source",
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
	}
}

func unarySpec(tag string) graph.Spec {
	return graph.Spec{
		Kind:    tag,
		Inputs:  []graph.PinDecl{{Name: "in", Kind: graph.PinFloat, Required: true}},
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
	}
}

func emitValue(v float64) kind.ComputeFunc {
	return func(_ context.Context, _ *kind.Call) (map[string][]pack.Pack, error) {
		return map[string][]pack.Pack{"out": {pack.NewScalar(v)}}, nil
	}
}

// applyFloat maps f over every pack arriving on "in".
func applyFloat(f func(float64) float64) kind.ComputeFunc {
	return func(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
		out := make([]pack.Pack, 0, len(call.Inputs["in"]))
		for _, p := range call.Inputs["in"] {
			v, err := p.Value(0)
			if err != nil {
				return nil, err
			}
			out = append(out, pack.NewScalar(f(v)))
		}
		return map[string][]pack.Pack{"out": out}, nil
	}
}

func passThrough() kind.ComputeFunc {
	return applyFloat(func(v float64) float64 { return v })
}

func addCompute(t *testing.T, g *graph.Graph, path string, spec graph.Spec, c kind.Compute) *graph.Node {
	t.Helper()
	n, err := g.AddNode(nodepath.MustParse(path), spec)
	require.NoError(t, err)
	n.BindCompute(c)
	return n
}

func connect(t *testing.T, g *graph.Graph, from *graph.Node, outPin string, to *graph.Node, inPin string) {
	t.Helper()
	src, ok := from.Output(outPin)
	require.True(t, ok, "no output %q on %s", outPin, from.Path())
	dst, ok := to.Input(inPin)
	require.True(t, ok, "no input %q on %s", inPin, to.Path())
	_, err := g.Connect(src, dst)
	require.NoError(t, err)
}

func setParam(t *testing.T, g *graph.Graph, path, name string, v cty.Value) {
	t.Helper()
	require.NoError(t, g.SetParamValue(nodepath.MustParse(path), name, v))
}

func firstValue(t *testing.T, packs []pack.Pack) float64 {
	t.Helper()
	require.NotEmpty(t, packs)
	v, err := packs[0].Value(0)
	require.NoError(t, err)
	return v
}

func TestRunChainInOrder(t *testing.T) {
	g := graph.New()
	var executed []string
	record := func(fn kind.ComputeFunc) kind.ComputeFunc {
		return func(ctx context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
			executed = append(executed, call.Node)
			return fn(ctx, call)
		}
	}

	input := addCompute(t, g, "/input", srcSpec(), record(emitValue(-3)))
	linear := addCompute(t, g, "/linear", unarySpec("test.linear"), record(applyFloat(func(v float64) float64 { return 2*v + 1 })))
	relu := addCompute(t, g, "/relu", unarySpec("test.relu"), record(applyFloat(func(v float64) float64 { return max(v, 0) })))
	output := addCompute(t, g, "/output", unarySpec("test.output"), record(passThrough()))

	connect(t, g, input, "out", linear, "in")
	connect(t, g, linear, "out", relu, "in")
	connect(t, g, relu, "out", output, "in")

	var types []graph.EventType
	g.Subscribe(func(ev graph.Event) { types = append(types, ev.Type) })

	res, err := New(g).Run(testCtx())
	require.NoError(t, err)

	assert.Equal(t, []string{"/input", "/linear", "/relu", "/output"}, executed)

	require.Len(t, res.Outputs, 1)
	assert.Equal(t, 0.0, firstValue(t, res.Outputs["/output.out"]))
	for _, path := range executed {
		assert.Equal(t, StateDone, res.States[path], path)
	}

	assert.Equal(t, []graph.EventType{
		graph.EventRunStarted,
		graph.EventNodeFinished,
		graph.EventNodeFinished,
		graph.EventNodeFinished,
		graph.EventNodeFinished,
		graph.EventRunCompleted,
	}, types)
}

func TestRunOptionalInputEmpty(t *testing.T) {
	g := graph.New()
	spec := graph.Spec{
		Kind:    "test.optional",
		Inputs:  []graph.PinDecl{{Name: "in", Kind: graph.PinFloat}},
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
	}
	var got []pack.Pack
	addCompute(t, g, "/opt", spec, kind.ComputeFunc(func(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
		got = call.Inputs["in"]
		return map[string][]pack.Pack{"out": {pack.NewScalar(7)}}, nil
	}))

	res, err := New(g).Run(testCtx())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 7.0, firstValue(t, res.Outputs["/opt.out"]))
}

func TestRunMissingPack(t *testing.T) {
	g := graph.New()
	addCompute(t, g, "/src", srcSpec(), emitValue(1))
	addCompute(t, g, "/starved", unarySpec("test.starved"), passThrough())

	res, err := New(g).Run(testCtx())
	require.Error(t, err)

	var ef *ExecutionFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, "/starved", ef.Node)
	assert.Equal(t, -1, ef.Iteration)

	var missing *MissingPackError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "/starved", missing.Node)
	assert.Equal(t, "in", missing.Pin)

	// The source ran before the failure and its output survives.
	require.NotNil(t, res)
	assert.Equal(t, StateDone, res.States["/src"])
	assert.Equal(t, StateFailed, res.States["/starved"])
	assert.Equal(t, 1.0, firstValue(t, res.Outputs["/src.out"]))
}

func TestRunUnknownOutputRejected(t *testing.T) {
	g := graph.New()
	addCompute(t, g, "/bad", srcSpec(), kind.ComputeFunc(func(_ context.Context, _ *kind.Call) (map[string][]pack.Pack, error) {
		return map[string][]pack.Pack{"bogus": {pack.NewScalar(1)}}, nil
	}))

	res, err := New(g).Run(testCtx())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output "bogus"`)
	assert.Equal(t, StateFailed, res.States["/bad"])
}

func TestRunPassesParamsAndDetails(t *testing.T) {
	g := graph.New()
	spec := graph.Spec{
		Kind:    "test.gain",
		Params:  []graph.ParamDecl{{Name: "gain", Type: graph.ParamFloat, Default: cty.NumberIntVal(3)}},
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
	}
	n := addCompute(t, g, "/g", spec, kind.ComputeFunc(func(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
		gain, err := call.Float("gain")
		if err != nil {
			return nil, err
		}
		call.SetDetail("half", cty.NumberFloatVal(gain/2))
		return map[string][]pack.Pack{"out": {pack.NewScalar(gain)}}, nil
	}))

	res, err := New(g).Run(testCtx())
	require.NoError(t, err)
	assert.Equal(t, 3.0, firstValue(t, res.Outputs["/g.out"]))

	d, ok := n.Detail("half")
	require.True(t, ok)
	assert.True(t, cty.NumberFloatVal(1.5).RawEquals(d))
}

func TestRunParamEvalFailure(t *testing.T) {
	g := graph.New()
	spec := graph.Spec{
		Kind: "test.rate",
		Params: []graph.ParamDecl{
			{Name: "rate", Type: graph.ParamFloat},
			{Name: "div", Type: graph.ParamFloat},
		},
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
	}
	n := addCompute(t, g, "/n", spec, emitValue(1))
	require.NoError(t, g.SetParamFormula(n.Path(), "rate", "1 / get-float('div')"))

	res, err := New(g).Run(testCtx())
	require.Error(t, err)

	var eerr *expr.EvaluationError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, expr.ReasonDivByZero, eerr.Reason)
	assert.Contains(t, err.Error(), `parameter "rate"`)
	assert.Equal(t, StateFailed, res.States["/n"])
}

func beginSpec() graph.Spec {
	return graph.Spec{
		Kind:    "control.foreach_begin",
		Inputs:  []graph.PinDecl{{Name: "in", Kind: graph.PinFloat, Required: true}},
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
		Params:  []graph.ParamDecl{{Name: graph.ForEachEndPathParam, Type: graph.ParamString}},
	}
}

func dataSpec() graph.Spec {
	return graph.Spec{
		Kind:    "control.foreach_data",
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
		Params:  []graph.ParamDecl{{Name: graph.ForEachEndPathParam, Type: graph.ParamString}},
	}
}

func endSpec() graph.Spec {
	return graph.Spec{
		Kind:    "control.foreach_end",
		Inputs:  []graph.PinDecl{{Name: "in", Kind: graph.PinFloat, Required: true}},
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
		Params:  []graph.ParamDecl{{Name: graph.ForEachIterationsParam, Type: graph.ParamInt, Default: cty.NumberIntVal(1)}},
	}
}

func bodySpec() graph.Spec {
	return graph.Spec{
		Kind: "test.body",
		Inputs: []graph.PinDecl{
			{Name: "a", Kind: graph.PinFloat, Required: true},
			{Name: "b", Kind: graph.PinFloat, Required: true},
		},
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
	}
}

// emitIndex publishes the current iteration index, the compute shape of a
// ForEach Data node.
func emitIndex() kind.ComputeFunc {
	return func(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
		return map[string][]pack.Pack{"out": {pack.NewScalar(float64(call.Iteration))}}, nil
	}
}

// sumAB adds the first values of inputs "a" and "b".
func sumAB() kind.ComputeFunc {
	return func(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
		var sum float64
		for _, name := range []string{"a", "b"} {
			v, err := call.Inputs[name][0].Value(0)
			if err != nil {
				return nil, err
			}
			sum += v
		}
		return map[string][]pack.Pack{"out": {pack.NewScalar(sum)}}, nil
	}
}

// collector accumulates arriving packs across iterations, the compute
// shape of a ForEach End node.
type collector struct {
	packs []pack.Pack
}

func (c *collector) Forward(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	c.packs = append(c.packs, call.Inputs["in"]...)
	return map[string][]pack.Pack{"out": append([]pack.Pack(nil), c.packs...)}, nil
}

func (c *collector) Reset() {
	c.packs = nil
}

// buildLoop wires src -> begin -> body <- data, body -> end and registers
// the triple with the given iteration bound.
func buildLoop(t *testing.T, g *graph.Graph, iterations int64, body kind.Compute) {
	t.Helper()
	src := addCompute(t, g, "/src", srcSpec(), emitValue(10))
	begin := addCompute(t, g, "/loop/begin", beginSpec(), passThrough())
	data := addCompute(t, g, "/loop/data", dataSpec(), emitIndex())
	bodyNode := addCompute(t, g, "/loop/body", bodySpec(), body)
	end := addCompute(t, g, "/loop/end", endSpec(), &collector{})

	connect(t, g, src, "out", begin, "in")
	connect(t, g, begin, "out", bodyNode, "a")
	connect(t, g, data, "out", bodyNode, "b")
	connect(t, g, bodyNode, "out", end, "in")

	setParam(t, g, "/loop/begin", graph.ForEachEndPathParam, cty.StringVal("../end"))
	setParam(t, g, "/loop/data", graph.ForEachEndPathParam, cty.StringVal("../end"))
	setParam(t, g, "/loop/end", graph.ForEachIterationsParam, cty.NumberIntVal(iterations))

	_, err := g.RegisterForEach(begin.ID(), data.ID(), end.ID())
	require.NoError(t, err)
}

func TestRunForEachIterates(t *testing.T) {
	g := graph.New()
	buildLoop(t, g, 5, sumAB())

	var passes []int
	var bodyRuns []int
	g.Subscribe(func(ev graph.Event) {
		switch ev.Type {
		case graph.EventIterationFinished:
			assert.Equal(t, "/loop/begin", ev.Node)
			passes = append(passes, ev.Iteration)
		case graph.EventNodeFinished:
			if ev.Node == "/loop/body" {
				bodyRuns = append(bodyRuns, ev.Iteration)
			}
		}
	})

	e := New(g)
	res, err := e.Run(testCtx())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, passes)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, bodyRuns)

	out := res.Outputs["/loop/end.out"]
	require.Len(t, out, 5)
	for i, p := range out {
		v, verr := p.Value(0)
		require.NoError(t, verr)
		assert.Equal(t, 10+float64(i), v, "pass %d", i)
	}
	assert.Equal(t, StateDone, res.States["/loop/body"])

	// A second run resets the collector instead of appending to it.
	res, err = e.Run(testCtx())
	require.NoError(t, err)
	assert.Len(t, res.Outputs["/loop/end.out"], 5)
}

func TestRunForEachFailureKeepsEarlierIterations(t *testing.T) {
	g := graph.New()
	inner := sumAB()
	failing := kind.ComputeFunc(func(ctx context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
		if call.Iteration == 3 {
			return nil, errors.New("boom")
		}
		return inner(ctx, call)
	})
	buildLoop(t, g, 5, failing)

	var failed graph.Event
	g.Subscribe(func(ev graph.Event) {
		if ev.Type == graph.EventRunFailed {
			failed = ev
		}
	})

	res, err := New(g).Run(testCtx())
	require.Error(t, err)

	var ef *ExecutionFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, "/loop/body", ef.Node)
	assert.Equal(t, 3, ef.Iteration)
	assert.EqualError(t, ef.Err, "boom")
	assert.Equal(t, "/loop/body", failed.Node)
	assert.Equal(t, 3, failed.Iteration)

	// Passes 0 through 2 survive on the collector's output.
	out := res.Outputs["/loop/end.out"]
	require.Len(t, out, 3)
	for i, p := range out {
		v, verr := p.Value(0)
		require.NoError(t, verr)
		assert.Equal(t, 10+float64(i), v)
	}

	assert.Equal(t, StateFailed, res.States["/loop/body"])
	assert.Equal(t, StateRunning, res.States["/loop/end"])
	assert.Equal(t, StateDone, res.States["/src"])
}

func TestRunForEachZeroIterations(t *testing.T) {
	g := graph.New()
	buildLoop(t, g, 0, sumAB())

	res, err := New(g).Run(testCtx())
	require.NoError(t, err)

	assert.Empty(t, res.Outputs)
	for _, path := range []string{"/loop/begin", "/loop/data", "/loop/body", "/loop/end"} {
		assert.Equal(t, StateDone, res.States[path], path)
	}
}

func TestRunBusyAndLocked(t *testing.T) {
	g := graph.New()
	started := make(chan struct{})
	release := make(chan struct{})
	addCompute(t, g, "/slow", srcSpec(), kind.ComputeFunc(func(_ context.Context, _ *kind.Call) (map[string][]pack.Pack, error) {
		close(started)
		<-release
		return map[string][]pack.Pack{"out": {pack.NewScalar(1)}}, nil
	}))

	e := New(g)
	done := make(chan error, 1)
	go func() {
		_, err := e.Run(testCtx())
		done <- err
	}()

	<-started
	_, err := e.Run(testCtx())
	assert.ErrorIs(t, err, ErrBusy)

	// Structural mutation is rejected while the run holds the graph.
	_, err = g.AddNode(nodepath.MustParse("/late"), srcSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by a run in flight")

	close(release)
	require.NoError(t, <-done)
	assert.False(t, g.Running())
}

func TestRunCancelled(t *testing.T) {
	g := graph.New()
	ctx, cancel := context.WithCancel(testCtx())
	defer cancel()

	first := addCompute(t, g, "/first", srcSpec(), kind.ComputeFunc(func(_ context.Context, _ *kind.Call) (map[string][]pack.Pack, error) {
		cancel()
		return map[string][]pack.Pack{"out": {pack.NewScalar(1)}}, nil
	}))
	second := addCompute(t, g, "/second", unarySpec("test.second"), passThrough())
	connect(t, g, first, "out", second, "in")

	res, err := New(g).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDone, res.States["/first"])
	assert.Equal(t, StateReady, res.States["/second"])
}

func TestRunPackFormulaResolvesDuringRun(t *testing.T) {
	g := graph.New()
	addCompute(t, g, "/a", srcSpec(), emitValue(21))

	spec := graph.Spec{
		Kind:    "test.reader",
		Params:  []graph.ParamDecl{{Name: "seed", Type: graph.ParamFloat}},
		Outputs: []graph.PinDecl{{Name: "out", Kind: graph.PinFloat}},
	}
	b := addCompute(t, g, "/b", spec, kind.ComputeFunc(func(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
		seed, err := call.Float("seed")
		if err != nil {
			return nil, err
		}
		return map[string][]pack.Pack{"out": {pack.NewScalar(seed)}}, nil
	}))
	require.NoError(t, g.SetParamFormula(b.Path(), "seed", "get-pack-value('/a', 'out', 0) * 2"))

	// Outside a run the pack reference cannot resolve.
	_, err := g.ParamValue(b.Path(), "seed")
	require.Error(t, err)

	res, err := New(g).Run(testCtx())
	require.NoError(t, err)
	assert.Equal(t, 42.0, firstValue(t, res.Outputs["/b.out"]))
}

func TestRunRejectsUnboundCompute(t *testing.T) {
	g := graph.New()
	_, err := g.AddNode(nodepath.MustParse("/bare"), srcSpec())
	require.NoError(t, err)

	res, err := New(g).Run(testCtx())
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("kind %q has no compute bound", "test.source"))
	assert.Equal(t, StateFailed, res.States["/bare"])
}
