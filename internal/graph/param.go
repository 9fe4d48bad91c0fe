package graph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/expr"
	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// ParamType is a parameter's declared type, from a closed set. The two
// folder variants are layout-only: they group other parameters and hold no
// value of their own.
type ParamType int

const (
	ParamFloat ParamType = iota
	ParamInt
	ParamBool
	ParamString
	ParamFilePath
	ParamVector2
	ParamVector3
	ParamInt2
	ParamInt3
	ParamButton
	ParamColor
	ParamEnum
	ParamSeparator
	ParamFolderTab
	ParamFolderExpand
)

var paramTypeNames = map[ParamType]string{
	ParamFloat:        "float",
	ParamInt:          "int",
	ParamBool:         "bool",
	ParamString:       "string",
	ParamFilePath:     "file_path",
	ParamVector2:      "vector2",
	ParamVector3:      "vector3",
	ParamInt2:         "int2",
	ParamInt3:         "int3",
	ParamButton:       "button",
	ParamColor:        "color",
	ParamEnum:         "enum",
	ParamSeparator:    "separator",
	ParamFolderTab:    "folder_tab",
	ParamFolderExpand: "folder_expand",
}

func (t ParamType) String() string {
	if name, ok := paramTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("paramtype(%d)", int(t))
}

// ParseParamType maps a serialized type name back to its ParamType.
func ParseParamType(name string) (ParamType, error) {
	for t, n := range paramTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown parameter type %q", name)
}

// IsFolder reports whether the type is one of the two grouping variants.
func (t ParamType) IsFolder() bool {
	return t == ParamFolderTab || t == ParamFolderExpand
}

// DefaultValue returns the value a parameter of this type starts with when
// its declaration supplies none.
func (t ParamType) DefaultValue() cty.Value {
	switch t {
	case ParamFloat, ParamInt:
		return cty.Zero
	case ParamBool:
		return cty.False
	case ParamString, ParamFilePath, ParamEnum:
		return cty.StringVal("")
	case ParamColor:
		return cty.StringVal("#000000")
	case ParamVector2, ParamInt2:
		return zeroVector(2)
	case ParamVector3, ParamInt3:
		return zeroVector(3)
	default:
		// Buttons, separators and folders carry no meaningful value.
		return cty.NullVal(cty.DynamicPseudoType)
	}
}

// ValueType returns the cty type a parameter of this type stores. Types
// that hold no value (buttons, separators, folders) return cty.NilType.
func (t ParamType) ValueType() cty.Type {
	switch t {
	case ParamFloat, ParamInt:
		return cty.Number
	case ParamBool:
		return cty.Bool
	case ParamString, ParamFilePath, ParamEnum, ParamColor:
		return cty.String
	case ParamVector2, ParamVector3, ParamInt2, ParamInt3:
		return cty.List(cty.Number)
	default:
		return cty.NilType
	}
}

func zeroVector(n int) cty.Value {
	elems := make([]cty.Value, n)
	for i := range elems {
		elems[i] = cty.Zero
	}
	return cty.ListVal(elems)
}

// ParamOrigin distinguishes parameters fixed by the node kind's declaration
// from ones added to a single node occurrence.
type ParamOrigin int

const (
	// OriginDeclared parameters come from the kind declaration and cannot
	// be removed.
	OriginDeclared ParamOrigin = iota
	// OriginInstance parameters were added to one node and are deletable.
	OriginInstance
)

func (o ParamOrigin) String() string {
	switch o {
	case OriginDeclared:
		return "declared"
	case OriginInstance:
		return "instance"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// ParamDecl declares one parameter.
type ParamDecl struct {
	Name     string
	Label    string
	Type     ParamType
	Category string
	// Default overrides the type's zero default. Leave as cty.NilVal to
	// use it.
	Default cty.Value
	// Folder names the folder parameter this one nests under. Empty means
	// top level.
	Folder string
	// VisibleIf and EnabledIf are optional guard formulas evaluated against
	// the owning node.
	VisibleIf string
	EnabledIf string
}

// Parameter is a single named parameter of a node: either a value-holding
// leaf or a layout-only folder. Instances live in their ParamSet's arena
// and link to parent and children by arena index, never by pointer.
type Parameter struct {
	name     string
	label    string
	typ      ParamType
	category string
	origin   ParamOrigin

	value   cty.Value
	formula *expr.Expr
	depKeys []string
	evalErr error
	dirty   bool

	visibleIf *expr.Expr
	enabledIf *expr.Expr

	parent   int
	children []int
}

func (p *Parameter) Name() string {
	return p.name
}

func (p *Parameter) Label() string {
	return p.label
}

// SetLabel changes the display label. Unlike the name, labels are mutable.
func (p *Parameter) SetLabel(label string) {
	p.label = label
}

func (p *Parameter) Type() ParamType {
	return p.typ
}

func (p *Parameter) Category() string {
	return p.category
}

func (p *Parameter) Origin() ParamOrigin {
	return p.origin
}

func (p *Parameter) IsFolder() bool {
	return p.typ.IsFolder()
}

// Value returns the parameter's stored value: the literal for plain
// parameters, the last successful evaluation for formula parameters.
// Folders return cty.NilVal.
func (p *Parameter) Value() cty.Value {
	return p.value
}

// Formula returns the formula source, or "" when the parameter holds a
// literal value.
func (p *Parameter) Formula() string {
	if p.formula == nil {
		return ""
	}
	return p.formula.Source()
}

func (p *Parameter) HasFormula() bool {
	return p.formula != nil
}

// VisibleIf returns the visibility guard's source, or "" when the
// parameter has none.
func (p *Parameter) VisibleIf() string {
	if p.visibleIf == nil {
		return ""
	}
	return p.visibleIf.Source()
}

// EnabledIf returns the enable guard's source, or "" when the parameter
// has none.
func (p *Parameter) EnabledIf() string {
	if p.enabledIf == nil {
		return ""
	}
	return p.enabledIf.Source()
}

// EvalErr returns the failure of the most recent re-evaluation, or nil. A
// failed re-evaluation keeps the previous value in place.
func (p *Parameter) EvalErr() error {
	return p.evalErr
}

// ParamSet is the ordered parameter collection of one node, stored as an
// arena of tagged variants. Removal tombstones the arena slot so that the
// index links of the survivors stay valid.
type ParamSet struct {
	arena  []*Parameter
	byName map[string]int
	order  []int
}

func NewParamSet() *ParamSet {
	return &ParamSet{byName: make(map[string]int)}
}

// Declare adds a code-defined, non-deletable parameter.
func (ps *ParamSet) Declare(d ParamDecl) (*Parameter, error) {
	return ps.add(d, OriginDeclared)
}

// AddInstance adds a deletable parameter to this one node occurrence.
func (ps *ParamSet) AddInstance(d ParamDecl) (*Parameter, error) {
	return ps.add(d, OriginInstance)
}

func (ps *ParamSet) add(d ParamDecl, origin ParamOrigin) (*Parameter, error) {
	if !nodepath.ValidSegment(d.Name) {
		return nil, fmt.Errorf("invalid parameter name %q", d.Name)
	}
	if _, exists := ps.byName[d.Name]; exists {
		return nil, fmt.Errorf("parameter %q already exists", d.Name)
	}

	parent := -1
	if d.Folder != "" {
		idx, ok := ps.byName[d.Folder]
		if !ok {
			return nil, fmt.Errorf("parameter %q names unknown folder %q", d.Name, d.Folder)
		}
		if !ps.arena[idx].IsFolder() {
			return nil, fmt.Errorf("parameter %q is not a folder", d.Folder)
		}
		parent = idx
	}

	p := &Parameter{
		name:     d.Name,
		label:    d.Label,
		typ:      d.Type,
		category: d.Category,
		origin:   origin,
		parent:   parent,
	}
	if p.label == "" {
		p.label = d.Name
	}
	if !p.IsFolder() {
		if d.Default == cty.NilVal {
			p.value = d.Type.DefaultValue()
		} else {
			v, err := convertParamValue(d.Type, d.Default)
			if err != nil {
				return nil, fmt.Errorf("default of %q: %s", d.Name, err)
			}
			p.value = v
		}
	}
	if d.VisibleIf != "" {
		guard, err := expr.Compile(d.VisibleIf)
		if err != nil {
			return nil, fmt.Errorf("visibility guard of %q: %w", d.Name, err)
		}
		p.visibleIf = guard
	}
	if d.EnabledIf != "" {
		guard, err := expr.Compile(d.EnabledIf)
		if err != nil {
			return nil, fmt.Errorf("enable guard of %q: %w", d.Name, err)
		}
		p.enabledIf = guard
	}

	idx := len(ps.arena)
	ps.arena = append(ps.arena, p)
	ps.byName[d.Name] = idx
	if parent >= 0 {
		ps.arena[parent].children = append(ps.arena[parent].children, idx)
	} else {
		ps.order = append(ps.order, idx)
	}
	return p, nil
}

// Remove deletes an instance parameter. Folders cascade onto their
// children, which must themselves all be instance parameters.
func (ps *ParamSet) Remove(name string) error {
	idx, ok := ps.byName[name]
	if !ok {
		return fmt.Errorf("no parameter %q", name)
	}
	doomed, err := ps.collectRemovable(idx)
	if err != nil {
		return err
	}

	parent := ps.arena[idx].parent
	for _, di := range doomed {
		p := ps.arena[di]
		delete(ps.byName, p.name)
		ps.arena[di] = nil
	}
	// Unlink the removal root from its parent's ordering; descendants went
	// with it.
	if parent >= 0 {
		ps.arena[parent].children = removeIndex(ps.arena[parent].children, idx)
	} else {
		ps.order = removeIndex(ps.order, idx)
	}
	return nil
}

func (ps *ParamSet) collectRemovable(idx int) ([]int, error) {
	p := ps.arena[idx]
	if p.origin != OriginInstance {
		return nil, fmt.Errorf("parameter %q is declared by the node kind and cannot be removed", p.name)
	}
	doomed := []int{idx}
	for _, child := range p.children {
		sub, err := ps.collectRemovable(child)
		if err != nil {
			return nil, err
		}
		doomed = append(doomed, sub...)
	}
	return doomed, nil
}

func removeIndex(list []int, idx int) []int {
	for i, v := range list {
		if v == idx {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Get returns the named parameter.
func (ps *ParamSet) Get(name string) (*Parameter, bool) {
	idx, ok := ps.byName[name]
	if !ok {
		return nil, false
	}
	return ps.arena[idx], true
}

func (ps *ParamSet) Has(name string) bool {
	_, ok := ps.byName[name]
	return ok
}

// Len counts live parameters, folders included.
func (ps *ParamSet) Len() int {
	return len(ps.byName)
}

// Names returns every parameter name in declaration order, walking folders
// depth-first. Folder names are included; use Values for the flattened
// value view.
func (ps *ParamSet) Names() []string {
	var names []string
	var visit func(idx int)
	visit = func(idx int) {
		p := ps.arena[idx]
		if p == nil {
			return
		}
		names = append(names, p.name)
		for _, child := range p.children {
			visit(child)
		}
	}
	for _, idx := range ps.order {
		visit(idx)
	}
	return names
}

// Values returns the flattened name→value view. Folder parameters are
// absent; their children appear individually with their own values.
func (ps *ParamSet) Values() map[string]cty.Value {
	values := make(map[string]cty.Value)
	for _, name := range ps.Names() {
		p := ps.arena[ps.byName[name]]
		if p.IsFolder() {
			continue
		}
		values[name] = p.value
	}
	return values
}

// Children returns a folder's ordered child parameter names.
func (ps *ParamSet) Children(folder string) ([]string, error) {
	idx, ok := ps.byName[folder]
	if !ok {
		return nil, fmt.Errorf("no parameter %q", folder)
	}
	p := ps.arena[idx]
	if !p.IsFolder() {
		return nil, fmt.Errorf("parameter %q is not a folder", folder)
	}
	names := make([]string, 0, len(p.children))
	for _, child := range p.children {
		if ps.arena[child] != nil {
			names = append(names, ps.arena[child].name)
		}
	}
	return names, nil
}

// FolderOf returns the name of the folder the parameter nests under, or ""
// for top-level parameters.
func (ps *ParamSet) FolderOf(name string) string {
	idx, ok := ps.byName[name]
	if !ok {
		return ""
	}
	if parent := ps.arena[idx].parent; parent >= 0 && ps.arena[parent] != nil {
		return ps.arena[parent].name
	}
	return ""
}
