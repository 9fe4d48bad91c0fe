package kind

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/graph"
	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// Module is one family of node kinds. Register wires the family's
// manifests and compute constructors into a registry.
type Module interface {
	Register(r *Registry)
}

// Registry couples kind definitions with their compute constructors, keyed
// by kind tag.
type Registry struct {
	defs       map[string]*Definition
	constructs map[string]Construct
	order      []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		defs:       make(map[string]*Definition),
		constructs: make(map[string]Construct),
	}
}

// NewWith creates a registry and registers the given modules.
func NewWith(modules ...Module) *Registry {
	r := New()
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// MustDefine parses an embedded manifest and adds its kind definitions.
func (r *Registry) MustDefine(filename string, src []byte) {
	defs, err := ParseManifest(filename, src)
	if err != nil {
		panic(fmt.Sprintf("kind manifest: %v", err))
	}
	for _, def := range defs {
		if _, exists := r.defs[def.Tag]; exists {
			panic(fmt.Sprintf("kind %q already registered", def.Tag))
		}
		slog.Debug("Registering kind definition.", "tag", def.Tag, "file", filename)
		r.defs[def.Tag] = def
		r.order = append(r.order, def.Tag)
	}
}

// RegisterCompute binds the Go compute constructor for a kind tag.
func (r *Registry) RegisterCompute(tag string, construct Construct) {
	if _, exists := r.constructs[tag]; exists {
		panic(fmt.Sprintf("compute for kind %q already registered", tag))
	}
	slog.Debug("Registering kind compute.", "tag", tag)
	r.constructs[tag] = construct
}

// Definition returns the manifest-derived definition for a kind tag.
func (r *Registry) Definition(tag string) (*Definition, bool) {
	def, ok := r.defs[tag]
	return def, ok
}

// Tags returns every registered kind tag in registration order.
func (r *Registry) Tags() []string {
	return append([]string(nil), r.order...)
}

// ByCategory returns the registered tags carrying the manifest category, in
// registration order.
func (r *Registry) ByCategory(category string) []string {
	var tags []string
	for _, tag := range r.order {
		if r.defs[tag].Category == category {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Search returns tags whose tag or description contains the query,
// case-insensitively.
func (r *Registry) Search(query string) []string {
	query = strings.ToLower(query)
	var tags []string
	for _, tag := range r.order {
		def := r.defs[tag]
		if strings.Contains(strings.ToLower(def.Tag), query) ||
			strings.Contains(strings.ToLower(def.Description), query) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Validate performs the startup parity check: every definition needs a
// compute constructor and vice versa, and every definition must produce a
// clean node spec.
func (r *Registry) Validate(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	var errs []string
	for _, tag := range r.order {
		if _, ok := r.constructs[tag]; !ok {
			errs = append(errs, fmt.Sprintf("kind %q: manifest has no compute constructor", tag))
		}
		if err := r.defs[tag].Spec().Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("kind %q: %v", tag, err))
		}
	}
	for tag := range r.constructs {
		if _, ok := r.defs[tag]; !ok {
			errs = append(errs, fmt.Sprintf("compute %q has no manifest", tag))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("kind registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Debug("Kind registry validated.", "kinds", len(r.order))
	return nil
}

// Spec returns the graph node declaration for a kind tag.
func (r *Registry) Spec(tag string) (graph.Spec, error) {
	def, ok := r.defs[tag]
	if !ok {
		return graph.Spec{}, fmt.Errorf("unknown node kind %q", tag)
	}
	return def.Spec(), nil
}

// Instantiate returns the node declaration plus a fresh compute instance.
func (r *Registry) Instantiate(tag string) (graph.Spec, Compute, error) {
	def, ok := r.defs[tag]
	if !ok {
		return graph.Spec{}, nil, fmt.Errorf("unknown node kind %q", tag)
	}
	construct, ok := r.constructs[tag]
	if !ok {
		return graph.Spec{}, nil, fmt.Errorf("node kind %q has no compute constructor", tag)
	}
	return def.Spec(), construct(), nil
}

// NewNode instantiates a kind and adds it to the graph, binding the compute
// instance to the created node.
func (r *Registry) NewNode(g *graph.Graph, path nodepath.Path, tag string) (*graph.Node, error) {
	spec, compute, err := r.Instantiate(tag)
	if err != nil {
		return nil, err
	}
	n, err := g.AddNode(path, spec)
	if err != nil {
		return nil, err
	}
	n.BindCompute(compute)
	return n, nil
}

// NewNodeWithID is NewNode with a caller-supplied node id, for
// deserialization.
func (r *Registry) NewNodeWithID(g *graph.Graph, id string, path nodepath.Path, tag string) (*graph.Node, error) {
	spec, compute, err := r.Instantiate(tag)
	if err != nil {
		return nil, err
	}
	n, err := g.AddNodeWithID(id, path, spec)
	if err != nil {
		return nil, err
	}
	n.BindCompute(compute)
	return n, nil
}
