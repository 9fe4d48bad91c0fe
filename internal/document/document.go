package document

import (
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/tensorgrid/tensorgrid/internal/graph"
)

const (
	// Version is the current document format revision.
	Version = "1"
	// DocType tags project documents.
	DocType = "tensorgrid_project"
)

// Document is the on-disk form of a project.
type Document struct {
	Version string   `json:"version"`
	Type    string   `json:"type"`
	Graph   GraphDoc `json:"graph"`
}

// GraphDoc carries the graph's full structure.
type GraphDoc struct {
	Nodes       []NodeDoc    `json:"nodes"`
	Connections []ConnDoc    `json:"connections"`
	ForEach     []ForEachDoc `json:"foreach,omitempty"`
}

// NodeDoc is one node occurrence.
type NodeDoc struct {
	ID       string      `json:"id"`
	Kind     string      `json:"kind"`
	Path     string      `json:"path"`
	Position PositionDoc `json:"position"`
	Params   []ParamDoc  `json:"params,omitempty"`
}

// PositionDoc is the node's canvas location.
type PositionDoc struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ParamDoc is one parameter's persisted state. Declared parameters carry
// only what the user changed (value or formula, label); instance
// parameters additionally carry their full declaration.
type ParamDoc struct {
	Name      string          `json:"name"`
	Origin    string          `json:"origin,omitempty"`
	Type      string          `json:"type,omitempty"`
	Label     string          `json:"label,omitempty"`
	Category  string          `json:"category,omitempty"`
	Folder    string          `json:"folder,omitempty"`
	VisibleIf string          `json:"visible_if,omitempty"`
	EnabledIf string          `json:"enabled_if,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Formula   string          `json:"formula,omitempty"`
}

// ConnDoc is one connection, endpoints addressed by node path and pin
// name.
type ConnDoc struct {
	ID     string      `json:"id"`
	Source EndpointDoc `json:"source"`
	Target EndpointDoc `json:"target"`
}

// EndpointDoc names one pin.
type EndpointDoc struct {
	Node string `json:"node"`
	Pin  string `json:"pin"`
}

// ForEachDoc is one registered loop triple, by node id.
type ForEachDoc struct {
	Begin string `json:"begin"`
	Data  string `json:"data"`
	End   string `json:"end"`
}

// originInstance is the ParamDoc.Origin tag for editor-added parameters.
const originInstance = "instance"

// Serialize captures the graph as a Document.
func Serialize(g *graph.Graph) (*Document, error) {
	doc := &Document{Version: Version, Type: DocType}
	doc.Graph.Nodes = make([]NodeDoc, 0, g.Len())
	for _, n := range g.Nodes() {
		nd := NodeDoc{
			ID:       n.ID(),
			Kind:     n.Kind(),
			Path:     n.Path().String(),
			Position: PositionDoc{X: n.Position().X, Y: n.Position().Y},
		}
		params, err := serializeParams(n)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Path(), err)
		}
		nd.Params = params
		doc.Graph.Nodes = append(doc.Graph.Nodes, nd)
	}
	doc.Graph.Connections = make([]ConnDoc, 0, len(g.Connections()))
	for _, c := range g.Connections() {
		doc.Graph.Connections = append(doc.Graph.Connections, ConnDoc{
			ID:     c.ID(),
			Source: EndpointDoc{Node: c.Source().Node().Path().String(), Pin: c.Source().Name()},
			Target: EndpointDoc{Node: c.Target().Node().Path().String(), Pin: c.Target().Name()},
		})
	}
	for _, grp := range g.ForEachGroups() {
		doc.Graph.ForEach = append(doc.Graph.ForEach, ForEachDoc{
			Begin: grp.BeginID(),
			Data:  grp.DataID(),
			End:   grp.EndID(),
		})
	}
	return doc, nil
}

// Save serializes the graph to document bytes.
func Save(g *graph.Graph) ([]byte, error) {
	doc, err := Serialize(g)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// serializeParams writes a node's parameters in declaration order.
// Declared folders, buttons and separators come from the kind manifest
// and are skipped; instance parameters persist their whole declaration.
func serializeParams(n *graph.Node) ([]ParamDoc, error) {
	ps := n.Params()
	var docs []ParamDoc
	for _, name := range ps.Names() {
		p, ok := ps.Get(name)
		if !ok {
			continue
		}
		instance := p.Origin() == graph.OriginInstance
		pd := ParamDoc{Name: name, Label: p.Label()}
		if instance {
			pd.Origin = originInstance
			pd.Type = p.Type().String()
			pd.Category = p.Category()
			pd.Folder = ps.FolderOf(name)
			pd.VisibleIf = p.VisibleIf()
			pd.EnabledIf = p.EnabledIf()
		}
		valueType := p.Type().ValueType()
		if p.IsFolder() || valueType == cty.NilType {
			if instance {
				docs = append(docs, pd)
			}
			continue
		}
		if p.HasFormula() {
			pd.Formula = p.Formula()
		} else {
			raw, err := ctyjson.Marshal(p.Value(), valueType)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", name, err)
			}
			pd.Value = raw
		}
		docs = append(docs, pd)
	}
	return docs, nil
}
