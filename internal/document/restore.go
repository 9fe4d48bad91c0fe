package document

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/graph"
	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// Options tunes Load.
type Options struct {
	// Migrate upgrades a document of an older format version to the
	// current one. It receives the version found and the raw bytes and
	// returns replacement bytes. When nil, older versions are rejected.
	Migrate func(version string, raw []byte) ([]byte, error)
}

// Load rebuilds a graph from document bytes. Nodes come first, so that
// formulas and connections always reference existing state; loop groups
// register last, once their wiring is in place. The restored graph passes
// a full structural validation before it is returned.
func Load(ctx context.Context, raw []byte, reg *kind.Registry, opts *Options) (*graph.Graph, error) {
	logger := ctxlog.FromContext(ctx)

	version, err := peekVersion(raw)
	if err != nil {
		return nil, err
	}
	if version != Version {
		if opts == nil || opts.Migrate == nil {
			return nil, fmt.Errorf("document version %q is not supported (want %s)", version, Version)
		}
		logger.Debug("Migrating document.", "from", version, "to", Version)
		raw, err = opts.Migrate(version, raw)
		if err != nil {
			return nil, fmt.Errorf("migrating document from version %s: %w", version, err)
		}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	g := graph.New()
	if err := restoreNodes(g, reg, doc.Graph.Nodes); err != nil {
		return nil, err
	}
	if err := restoreFormulas(g, doc.Graph.Nodes); err != nil {
		return nil, err
	}
	if err := restoreConnections(g, doc.Graph.Connections); err != nil {
		return nil, err
	}
	if err := restoreForEach(g, doc.Graph.ForEach); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("Project restored.", "nodes", g.Len(), "connections", len(doc.Graph.Connections), "loops", len(doc.Graph.ForEach))
	return g, nil
}

func peekVersion(raw []byte) (string, error) {
	var head struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("decoding document: %w", err)
	}
	if head.Version == "" {
		return "", fmt.Errorf("document carries no version tag")
	}
	return head.Version, nil
}

func restoreNodes(g *graph.Graph, reg *kind.Registry, nodes []NodeDoc) error {
	for _, nd := range nodes {
		path, err := nodepath.Parse(nd.Path)
		if err != nil {
			return fmt.Errorf("node %s: %w", nd.Path, err)
		}
		n, err := reg.NewNodeWithID(g, nd.ID, path, nd.Kind)
		if err != nil {
			return fmt.Errorf("node %s: %w", nd.Path, err)
		}
		n.SetPosition(graph.Position{X: nd.Position.X, Y: nd.Position.Y})
		for _, pd := range nd.Params {
			if err := restoreParam(g, n, pd); err != nil {
				return fmt.Errorf("node %s parameter %q: %w", nd.Path, pd.Name, err)
			}
		}
	}
	return nil
}

// restoreParam applies one parameter's persisted state, declaring it
// first when it is an instance parameter. Formula sources wait for the
// second pass.
func restoreParam(g *graph.Graph, n *graph.Node, pd ParamDoc) error {
	if pd.Origin == originInstance {
		pt, err := graph.ParseParamType(pd.Type)
		if err != nil {
			return err
		}
		decl := graph.ParamDecl{
			Name:      pd.Name,
			Label:     pd.Label,
			Type:      pt,
			Category:  pd.Category,
			Folder:    pd.Folder,
			VisibleIf: pd.VisibleIf,
			EnabledIf: pd.EnabledIf,
		}
		if _, err := g.AddInstanceParam(n.Path(), decl); err != nil {
			return err
		}
	}
	p, ok := n.Params().Get(pd.Name)
	if !ok {
		return fmt.Errorf("kind %q declares no such parameter", n.Kind())
	}
	if pd.Origin != originInstance && pd.Label != "" {
		if err := g.SetParamLabel(n.Path(), pd.Name, pd.Label); err != nil {
			return err
		}
	}
	if len(pd.Value) == 0 || pd.Formula != "" {
		return nil
	}
	t := p.Type().ValueType()
	if t == cty.NilType {
		return fmt.Errorf("a %s parameter holds no value", p.Type())
	}
	v, err := ctyjson.Unmarshal(pd.Value, t)
	if err != nil {
		return err
	}
	return g.SetParamValue(n.Path(), pd.Name, v)
}

func restoreFormulas(g *graph.Graph, nodes []NodeDoc) error {
	for _, nd := range nodes {
		path, err := nodepath.Parse(nd.Path)
		if err != nil {
			return fmt.Errorf("node %s: %w", nd.Path, err)
		}
		for _, pd := range nd.Params {
			if pd.Formula == "" {
				continue
			}
			if err := g.SetParamFormula(path, pd.Name, pd.Formula); err != nil {
				return fmt.Errorf("node %s parameter %q: %w", nd.Path, pd.Name, err)
			}
		}
	}
	return nil
}

func restoreConnections(g *graph.Graph, conns []ConnDoc) error {
	for _, cd := range conns {
		src, err := findPin(g, cd.Source, graph.DirOutput)
		if err != nil {
			return err
		}
		dst, err := findPin(g, cd.Target, graph.DirInput)
		if err != nil {
			return err
		}
		if cd.ID != "" {
			_, err = g.ConnectWithID(cd.ID, src, dst)
		} else {
			_, err = g.Connect(src, dst)
		}
		if err != nil {
			return fmt.Errorf("connection %s.%s -> %s.%s: %w", cd.Source.Node, cd.Source.Pin, cd.Target.Node, cd.Target.Pin, err)
		}
	}
	return nil
}

func findPin(g *graph.Graph, ep EndpointDoc, dir graph.Direction) (*graph.Pin, error) {
	path, err := nodepath.Parse(ep.Node)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", ep.Node, err)
	}
	n, ok := g.Node(path)
	if !ok {
		return nil, fmt.Errorf("endpoint %s: no such node", ep.Node)
	}
	var p *graph.Pin
	if dir == graph.DirOutput {
		p, ok = n.Output(ep.Pin)
	} else {
		p, ok = n.Input(ep.Pin)
	}
	if !ok {
		return nil, fmt.Errorf("endpoint %s: no %s pin %q", ep.Node, dir, ep.Pin)
	}
	return p, nil
}

func restoreForEach(g *graph.Graph, groups []ForEachDoc) error {
	for _, fd := range groups {
		if _, err := g.RegisterForEach(fd.Begin, fd.Data, fd.End); err != nil {
			return fmt.Errorf("loop group %s/%s/%s: %w", fd.Begin, fd.Data, fd.End, err)
		}
	}
	return nil
}
