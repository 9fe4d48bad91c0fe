package graph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/tensorgrid/tensorgrid/internal/expr"
	"github.com/tensorgrid/tensorgrid/internal/nodepath"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// EvalPolicy selects how dependents of a changed parameter are brought up
// to date.
type EvalPolicy int

const (
	// EvalEager re-evaluates every transitive dependent immediately after
	// the change, in topological order.
	EvalEager EvalPolicy = iota
	// EvalLazy marks dependents dirty; each one re-evaluates on its next
	// read.
	EvalLazy
)

func (p EvalPolicy) String() string {
	switch p {
	case EvalEager:
		return "eager"
	case EvalLazy:
		return "lazy"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseEvalPolicy maps a policy name from configuration to its EvalPolicy.
func ParseEvalPolicy(name string) (EvalPolicy, error) {
	switch name {
	case "eager":
		return EvalEager, nil
	case "lazy":
		return EvalLazy, nil
	default:
		return 0, fmt.Errorf("unknown evaluation policy %q (want eager or lazy)", name)
	}
}

// PackSource reports which nodes have produced their packs in the current
// run. The engine installs one for the run's duration via LockRun; pack and
// detail accessors consult it before reading.
type PackSource interface {
	Executed(path nodepath.Path) bool
}

// paramKey is the canonical dependency-registry key of one parameter.
func paramKey(node nodepath.Path, name string) string {
	return nodepath.Ref{Node: node, Leaf: name}.String()
}

// SetParamValue stores a literal value on a parameter, replacing any
// formula, and brings dependents up to date per the evaluation policy.
func (g *Graph) SetParamValue(path nodepath.Path, name string, v cty.Value) error {
	g.mu.Lock()
	if verr := g.mutableLocked("set parameter"); verr != nil {
		g.mu.Unlock()
		return verr
	}
	n, p, verr := g.paramLocked("set parameter", path, name)
	if verr != nil {
		g.mu.Unlock()
		return verr
	}
	converted, err := convertParamValue(p.typ, v)
	if err != nil {
		g.mu.Unlock()
		return rejectf("set parameter", "parameter %q: %s", name, err)
	}

	selfKey := paramKey(n.path, name)
	g.dropFormulaLocked(p, selfKey)
	p.formula = nil
	p.value = converted
	p.evalErr = nil
	p.dirty = false

	events := []Event{{Type: EventParameterChanged, Node: n.path.String(), Param: name, Iteration: -1}}
	events = append(events, g.propagateLocked(selfKey)...)
	// The changed value may have been a loop group's path reference.
	g.refreshForEachLocked(&events)
	g.mu.Unlock()

	g.emitAll(events)
	return nil
}

// SetParamFormula installs a formula on a parameter. The formula's
// referenced parameters become the parameter's dependency set; an
// assignment that would close a reference cycle is rejected with
// DependencyCycleError before anything is stored. Parse failures likewise
// reject the assignment.
func (g *Graph) SetParamFormula(path nodepath.Path, name, source string) error {
	g.mu.Lock()
	if verr := g.mutableLocked("set formula"); verr != nil {
		g.mu.Unlock()
		return verr
	}
	n, p, verr := g.paramLocked("set formula", path, name)
	if verr != nil {
		g.mu.Unlock()
		return verr
	}
	if p.IsFolder() || p.typ == ParamButton || p.typ == ParamSeparator {
		g.mu.Unlock()
		return rejectf("set formula", "a %s parameter cannot hold a formula", p.typ)
	}

	compiled, err := expr.Compile(source)
	if err != nil {
		g.mu.Unlock()
		return err
	}

	// Resolve the dependency set against the owning node. A reference to a
	// node that does not exist yet is allowed (it evaluates to an error
	// until the node appears); one that escapes the root can never resolve
	// and rejects here.
	selfKey := paramKey(n.path, name)
	refs := compiled.ParamRefs()
	depKeys := make([]string, 0, len(refs))
	for _, ref := range refs {
		resolved, rerr := ref.ResolveFrom(n.path)
		if rerr != nil {
			g.mu.Unlock()
			return &expr.EvaluationError{Reason: expr.ReasonUnresolvedPath, Pos: -1, Msg: rerr.Error()}
		}
		depKeys = append(depKeys, resolved.String())
	}
	// Every candidate edge ends at this parameter, so each can be checked
	// against the registry on its own: a cycle cannot enter the same vertex
	// twice.
	for _, dep := range depKeys {
		if g.deps.WouldCycle(dep, selfKey) {
			g.mu.Unlock()
			return &expr.DependencyCycleError{Param: selfKey, Ref: dep}
		}
	}

	g.dropFormulaLocked(p, selfKey)
	p.formula = compiled
	p.depKeys = depKeys
	g.deps.AddNode(selfKey)
	for _, dep := range depKeys {
		g.deps.AddNode(dep)
		if err := g.deps.AddEdge(dep, selfKey); err != nil {
			// Both vertices exist and self-references were rejected above.
			panic(fmt.Sprintf("graph: installing dependency edge %s -> %s: %v", dep, selfKey, err))
		}
	}

	events := []Event{{Type: EventParameterChanged, Node: n.path.String(), Param: name, Iteration: -1}}
	if g.policy == EvalLazy {
		p.dirty = true
		p.evalErr = nil
	} else {
		g.evalParamLocked(n, p, &events)
	}
	events = append(events, g.propagateLocked(selfKey)...)
	g.refreshForEachLocked(&events)
	g.mu.Unlock()

	g.emitAll(events)
	return nil
}

// ClearParamFormula removes a parameter's formula. The parameter keeps its
// most recently computed value as a literal, so dependents are unaffected.
func (g *Graph) ClearParamFormula(path nodepath.Path, name string) error {
	g.mu.Lock()
	if verr := g.mutableLocked("clear formula"); verr != nil {
		g.mu.Unlock()
		return verr
	}
	n, p, verr := g.paramLocked("clear formula", path, name)
	if verr != nil {
		g.mu.Unlock()
		return verr
	}
	if p.formula == nil {
		g.mu.Unlock()
		return rejectf("clear formula", "parameter %q holds no formula", name)
	}

	var events []Event
	if p.dirty {
		g.evalParamLocked(n, p, &events)
	}
	g.dropFormulaLocked(p, paramKey(n.path, name))
	p.formula = nil
	p.evalErr = nil
	p.dirty = false
	events = append(events, Event{Type: EventParameterChanged, Node: n.path.String(), Param: name, Iteration: -1})
	g.mu.Unlock()

	g.emitAll(events)
	return nil
}

// SetParamLabel changes a parameter's display label.
func (g *Graph) SetParamLabel(path nodepath.Path, name, label string) error {
	g.mu.Lock()
	if verr := g.mutableLocked("set label"); verr != nil {
		g.mu.Unlock()
		return verr
	}
	n, p, verr := g.paramLocked("set label", path, name)
	if verr != nil {
		g.mu.Unlock()
		return verr
	}
	p.label = label
	g.mu.Unlock()

	g.Emit(Event{Type: EventParameterChanged, Node: n.path.String(), Param: name, Iteration: -1})
	return nil
}

// AddInstanceParam adds a deletable parameter to one node occurrence.
func (g *Graph) AddInstanceParam(path nodepath.Path, d ParamDecl) (*Parameter, error) {
	g.mu.Lock()
	if verr := g.mutableLocked("add parameter"); verr != nil {
		g.mu.Unlock()
		return nil, verr
	}
	n, ok := g.nodes[path.String()]
	if !ok {
		g.mu.Unlock()
		return nil, rejectf("add parameter", "no node at %s", path.String())
	}
	p, err := n.params.AddInstance(d)
	if err != nil {
		g.mu.Unlock()
		return nil, rejectf("add parameter", "%s", err)
	}

	events := []Event{{Type: EventParameterChanged, Node: n.path.String(), Param: d.Name, Iteration: -1}}
	if !p.IsFolder() {
		// Formulas referencing this name before it existed resume working.
		events = append(events, g.propagateLocked(paramKey(n.path, d.Name))...)
	}
	g.mu.Unlock()

	g.emitAll(events)
	return p, nil
}

// RemoveInstanceParam deletes an instance parameter, cascading folder
// removal onto its children. Kind-declared parameters reject.
func (g *Graph) RemoveInstanceParam(path nodepath.Path, name string) error {
	g.mu.Lock()
	if verr := g.mutableLocked("remove parameter"); verr != nil {
		g.mu.Unlock()
		return verr
	}
	n, ok := g.nodes[path.String()]
	if !ok {
		g.mu.Unlock()
		return rejectf("remove parameter", "no node at %s", path.String())
	}
	if !n.params.Has(name) {
		g.mu.Unlock()
		return rejectf("remove parameter", "node %s has no parameter %q", path.String(), name)
	}

	type victim struct {
		p   *Parameter
		key string
	}
	var victims []victim
	for _, doomed := range collectParamNames(n.params, name) {
		if vp, ok := n.params.Get(doomed); ok {
			victims = append(victims, victim{p: vp, key: paramKey(n.path, doomed)})
		}
	}
	if err := n.params.Remove(name); err != nil {
		g.mu.Unlock()
		return rejectf("remove parameter", "%s", err)
	}

	var events []Event
	for _, v := range victims {
		g.dropFormulaLocked(v.p, v.key)
		events = append(events, Event{Type: EventParameterChanged, Node: n.path.String(), Param: v.p.name, Iteration: -1})
	}
	// Dependents of the removed parameters report the dangling reference on
	// their next evaluation.
	for _, v := range victims {
		events = append(events, g.propagateLocked(v.key)...)
	}
	g.refreshForEachLocked(&events)
	g.mu.Unlock()

	g.emitAll(events)
	return nil
}

// collectParamNames lists a parameter and, depth-first, every parameter
// nested under it.
func collectParamNames(ps *ParamSet, name string) []string {
	names := []string{name}
	p, ok := ps.Get(name)
	if !ok || !p.IsFolder() {
		return names
	}
	children, err := ps.Children(name)
	if err != nil {
		return names
	}
	for _, child := range children {
		names = append(names, collectParamNames(ps, child)...)
	}
	return names
}

// ParamValue returns a parameter's current value, evaluating its formula
// first when the lazy policy left it dirty. A failed evaluation surfaces
// here as the stored EvaluationError.
func (g *Graph) ParamValue(path nodepath.Path, name string) (cty.Value, error) {
	g.mu.Lock()
	n, ok := g.nodes[path.String()]
	if !ok {
		g.mu.Unlock()
		return cty.NilVal, fmt.Errorf("no node at %s", path.String())
	}
	p, ok := n.params.Get(name)
	if !ok {
		g.mu.Unlock()
		return cty.NilVal, fmt.Errorf("node %s has no parameter %q", path.String(), name)
	}
	if p.IsFolder() {
		g.mu.Unlock()
		return cty.NilVal, fmt.Errorf("parameter %q is a folder and holds no value", name)
	}

	var events []Event
	v, err := g.paramValueLocked(n, p, &events)
	g.mu.Unlock()

	g.emitAll(events)
	return v, err
}

// ParamVisible evaluates the parameter's visibility guard. Parameters
// without one are always visible.
func (g *Graph) ParamVisible(path nodepath.Path, name string) (bool, error) {
	return g.evalGuard(path, name, func(p *Parameter) *expr.Expr { return p.visibleIf })
}

// ParamEnabled evaluates the parameter's enable guard. Parameters without
// one are always enabled.
func (g *Graph) ParamEnabled(path nodepath.Path, name string) (bool, error) {
	return g.evalGuard(path, name, func(p *Parameter) *expr.Expr { return p.enabledIf })
}

func (g *Graph) evalGuard(path nodepath.Path, name string, pick func(*Parameter) *expr.Expr) (bool, error) {
	g.mu.Lock()
	n, ok := g.nodes[path.String()]
	if !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("no node at %s", path.String())
	}
	p, ok := n.params.Get(name)
	if !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("node %s has no parameter %q", path.String(), name)
	}
	guard := pick(p)
	if guard == nil {
		g.mu.Unlock()
		return true, nil
	}

	var events []Event
	env := &editEnv{g: g, base: n.path, events: &events}
	v, err := guard.Eval(env)
	g.mu.Unlock()

	g.emitAll(events)
	if err != nil {
		return false, err
	}
	if !v.Type().Equals(cty.Bool) {
		return false, &expr.EvaluationError{
			Reason: expr.ReasonType,
			Pos:    -1,
			Msg:    fmt.Sprintf("guard on %q produced %s, want bool", name, v.Type().FriendlyName()),
		}
	}
	return v.True(), nil
}

// paramLocked resolves a node/parameter pair for a mutation, rejecting with
// the mutation's op name.
func (g *Graph) paramLocked(op string, path nodepath.Path, name string) (*Node, *Parameter, *ValidationError) {
	n, ok := g.nodes[path.String()]
	if !ok {
		return nil, nil, rejectf(op, "no node at %s", path.String())
	}
	p, ok := n.params.Get(name)
	if !ok {
		return nil, nil, rejectf(op, "node %s has no parameter %q", path.String(), name)
	}
	return n, p, nil
}

// propagateLocked brings the transitive dependents of one parameter key up
// to date: eager policy re-evaluates them in topological order, lazy policy
// marks them dirty. Returns the re-evaluation events to emit after unlock.
func (g *Graph) propagateLocked(key string) []Event {
	if !g.deps.HasNode(key) {
		return nil
	}
	order, err := g.deps.SortedDependents(key)
	if err != nil {
		return nil
	}

	var events []Event
	for _, depKey := range order {
		n, p, ok := g.lookupParamLocked(depKey)
		if !ok || p.formula == nil {
			continue
		}
		if g.policy == EvalLazy {
			p.dirty = true
			continue
		}
		g.evalParamLocked(n, p, &events)
	}
	return events
}

// paramValueLocked reads a parameter, evaluating the formula first if it
// is dirty or its last evaluation failed. The retry matters for pack and
// detail references: they fail while their node has not executed and start
// resolving once a run produces the packs. Failed evaluations keep the
// previous value and return the error.
func (g *Graph) paramValueLocked(n *Node, p *Parameter, events *[]Event) (cty.Value, error) {
	if p.formula != nil && (p.dirty || p.evalErr != nil) {
		g.evalParamLocked(n, p, events)
	}
	if p.evalErr != nil {
		return cty.NilVal, p.evalErr
	}
	return p.value, nil
}

// evalParamLocked runs a parameter's formula and stores the outcome. The
// result is converted to the parameter's declared type; a conversion
// failure is an evaluation failure.
func (g *Graph) evalParamLocked(n *Node, p *Parameter, events *[]Event) {
	env := &editEnv{g: g, base: n.path, events: events}
	v, err := p.formula.Eval(env)
	if err == nil {
		var cerr error
		v, cerr = convertParamValue(p.typ, v)
		if cerr != nil {
			err = &expr.EvaluationError{Reason: expr.ReasonType, Pos: -1, Msg: cerr.Error()}
		}
	}
	if err != nil {
		p.evalErr = err
	} else {
		p.value = v
		p.evalErr = nil
	}
	p.dirty = false
	*events = append(*events, Event{
		Type:      EventParameterReevaluated,
		Node:      n.path.String(),
		Param:     p.name,
		Err:       p.evalErr,
		Iteration: -1,
	})
}

// dropFormulaLocked severs a parameter's dependency edges. The registry
// vertex stays so that later formulas can still depend on the key.
func (g *Graph) dropFormulaLocked(p *Parameter, selfKey string) {
	for _, dep := range p.depKeys {
		g.deps.RemoveEdge(dep, selfKey)
	}
	p.depKeys = nil
}

// lookupParamLocked resolves a dependency-registry key back to its live
// parameter, if the node and parameter still exist.
func (g *Graph) lookupParamLocked(key string) (*Node, *Parameter, bool) {
	ref, err := nodepath.ParseRef(key)
	if err != nil {
		return nil, nil, false
	}
	n, ok := g.nodes[ref.Node.String()]
	if !ok {
		return nil, nil, false
	}
	p, ok := n.params.Get(ref.Leaf)
	if !ok {
		return nil, nil, false
	}
	return n, p, true
}

// convertParamValue coerces a value to a parameter type's natural shape.
func convertParamValue(t ParamType, v cty.Value) (cty.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		return cty.NilVal, fmt.Errorf("a %s parameter cannot hold a null value", t)
	}
	switch t {
	case ParamFloat, ParamInt:
		cv, err := convert.Convert(v, cty.Number)
		if err != nil {
			return cty.NilVal, fmt.Errorf("a %s parameter holds a number: %s", t, err)
		}
		return cv, nil
	case ParamBool:
		cv, err := convert.Convert(v, cty.Bool)
		if err != nil {
			return cty.NilVal, fmt.Errorf("a %s parameter holds a bool: %s", t, err)
		}
		return cv, nil
	case ParamString, ParamFilePath, ParamEnum, ParamColor:
		cv, err := convert.Convert(v, cty.String)
		if err != nil {
			return cty.NilVal, fmt.Errorf("a %s parameter holds a string: %s", t, err)
		}
		return cv, nil
	case ParamVector2, ParamInt2:
		return convertVector(t, v, 2)
	case ParamVector3, ParamInt3:
		return convertVector(t, v, 3)
	default:
		return cty.NilVal, fmt.Errorf("a %s parameter holds no value", t)
	}
}

func convertVector(t ParamType, v cty.Value, n int) (cty.Value, error) {
	cv, err := convert.Convert(v, cty.List(cty.Number))
	if err != nil {
		return cty.NilVal, fmt.Errorf("a %s parameter holds a list of %d numbers: %s", t, n, err)
	}
	if cv.LengthInt() != n {
		return cty.NilVal, fmt.Errorf("a %s parameter holds %d components, got %d", t, n, cv.LengthInt())
	}
	return cv, nil
}

// editEnv is the expr.Env over live graph state. It is only constructed
// with g.mu held, so every lookup sees a consistent snapshot.
type editEnv struct {
	g      *Graph
	base   nodepath.Path
	events *[]Event
}

func (e *editEnv) Base() nodepath.Path {
	return e.base
}

func (e *editEnv) Param(ref nodepath.Ref) (cty.Value, error) {
	n, ok := e.g.nodes[ref.Node.String()]
	if !ok {
		return cty.NilVal, fmt.Errorf("no node at %s", ref.Node.String())
	}
	p, ok := n.params.Get(ref.Leaf)
	if !ok {
		return cty.NilVal, fmt.Errorf("node %s has no parameter %q", ref.Node.String(), ref.Leaf)
	}
	if p.IsFolder() {
		return cty.NilVal, fmt.Errorf("parameter %q on %s is a folder and holds no value", ref.Leaf, ref.Node.String())
	}
	v, err := e.g.paramValueLocked(n, p, e.events)
	if err != nil {
		return cty.NilVal, err
	}
	if v.IsNull() {
		// Buttons and separators sit at null.
		return cty.NilVal, fmt.Errorf("parameter %q on %s holds no value", ref.Leaf, ref.Node.String())
	}
	return v, nil
}

func (e *editEnv) PackShape(node nodepath.Path, pin string) ([]int, error) {
	packs, err := e.packsLocked(node, pin)
	if err != nil {
		return nil, err
	}
	return packs[0].Shape(), nil
}

func (e *editEnv) PackValue(node nodepath.Path, pin string, index int) (float64, error) {
	packs, err := e.packsLocked(node, pin)
	if err != nil {
		return 0, err
	}
	return packs[0].Value(index)
}

func (e *editEnv) Detail(node nodepath.Path, key string) (cty.Value, error) {
	n, ok := e.g.nodes[node.String()]
	if !ok {
		return cty.NilVal, fmt.Errorf("no node at %s", node.String())
	}
	if e.g.packSource == nil || !e.g.packSource.Executed(node) {
		return cty.NilVal, &expr.UnresolvedPackReferenceError{Node: node.String()}
	}
	v, ok := n.details[key]
	if !ok {
		return cty.NilVal, fmt.Errorf("node %s has no detail %q", node.String(), key)
	}
	return v, nil
}

// packsLocked finds the named pin's packs, requiring the owning node to
// have executed in the current run.
func (e *editEnv) packsLocked(node nodepath.Path, pin string) ([]pack.Pack, error) {
	n, ok := e.g.nodes[node.String()]
	if !ok {
		return nil, fmt.Errorf("no node at %s", node.String())
	}
	p, ok := n.Output(pin)
	if !ok {
		p, ok = n.Input(pin)
	}
	if !ok {
		return nil, fmt.Errorf("node %s has no pin %q", node.String(), pin)
	}
	if e.g.packSource == nil || !e.g.packSource.Executed(node) {
		return nil, &expr.UnresolvedPackReferenceError{Node: node.String(), Pin: pin}
	}
	if len(p.packs) == 0 {
		return nil, &expr.UnresolvedPackReferenceError{Node: node.String(), Pin: pin}
	}
	return p.packs, nil
}
