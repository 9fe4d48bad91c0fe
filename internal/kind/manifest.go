package kind

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/graph"
)

// Manifest grammar:
//
//	kind "nn.linear" {
//	  description = "Dense affine transform."
//	  category    = "nn"
//
//	  input "in" {
//	    kind      = tensor
//	    mandatory = true
//	  }
//
//	  output "out" {
//	    kind    = tensor
//	    variant = produce
//	  }
//
//	  param "units" {
//	    type    = int
//	    default = 8
//	    label   = "Units"
//	  }
//	}
//
// Pin kinds, parameter types and variant policies are bare keywords;
// defaults are literal values. Folder parameters must be declared before
// the parameters nesting under them.

var manifestRootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "kind", LabelNames: []string{"tag"}},
	},
}

var kindBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "description"},
		{Name: "category"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "input", LabelNames: []string{"name"}},
		{Type: "output", LabelNames: []string{"name"}},
		{Type: "param", LabelNames: []string{"name"}},
	},
}

var pinBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "kind"},
		{Name: "mandatory"},
		{Name: "variant"},
	},
}

var paramBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "type"},
		{Name: "default"},
		{Name: "label"},
		{Name: "category"},
		{Name: "folder"},
		{Name: "visible_if"},
		{Name: "enabled_if"},
	},
}

// ParseManifest parses one manifest source into kind definitions.
func ParseManifest(filename string, src []byte) ([]*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse manifest %s: %w", filename, diags)
	}

	content, contentDiags := file.Body.Content(manifestRootSchema)
	diags = append(diags, contentDiags...)

	var defs []*Definition
	for _, block := range content.Blocks {
		def, defDiags := parseKindBlock(block)
		diags = append(diags, defDiags...)
		if defDiags.HasErrors() {
			continue
		}
		defs = append(defs, def)
	}
	if diags.HasErrors() {
		return nil, fmt.Errorf("manifest %s: %w", filename, diags)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("manifest %s declares no kinds", filename)
	}
	return defs, nil
}

func parseKindBlock(block *hcl.Block) (*Definition, hcl.Diagnostics) {
	def := &Definition{Tag: block.Labels[0]}

	content, diags := block.Body.Content(kindBodySchema)
	if diags.HasErrors() {
		return nil, diags
	}
	if attr, ok := content.Attributes["description"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &def.Description)...)
	}
	if attr, ok := content.Attributes["category"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &def.Category)...)
	}

	// One namespace for pins, another for parameters, both in source order.
	pinNames := make(map[string]bool)
	paramNames := make(map[string]bool)
	for _, inner := range content.Blocks {
		name := inner.Labels[0]
		switch inner.Type {
		case "input", "output":
			if pinNames[name] {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate pin",
					Detail:   fmt.Sprintf("Kind %q already declares a pin named %q.", def.Tag, name),
					Subject:  &inner.DefRange,
				})
				continue
			}
			pinNames[name] = true
			pin, pinDiags := parsePinBlock(inner)
			diags = append(diags, pinDiags...)
			if pinDiags.HasErrors() {
				continue
			}
			if inner.Type == "input" {
				def.Inputs = append(def.Inputs, pin)
			} else {
				def.Outputs = append(def.Outputs, pin)
			}
		case "param":
			if paramNames[name] {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate parameter",
					Detail:   fmt.Sprintf("Kind %q already declares a parameter named %q.", def.Tag, name),
					Subject:  &inner.DefRange,
				})
				continue
			}
			paramNames[name] = true
			param, paramDiags := parseParamBlock(inner)
			diags = append(diags, paramDiags...)
			if paramDiags.HasErrors() {
				continue
			}
			def.Params = append(def.Params, param)
		}
	}
	return def, diags
}

func parsePinBlock(block *hcl.Block) (PinManifest, hcl.Diagnostics) {
	pin := PinManifest{Name: block.Labels[0]}

	content, diags := block.Body.Content(pinBodySchema)
	if diags.HasErrors() {
		return pin, diags
	}

	kindAttr, ok := content.Attributes["kind"]
	if !ok {
		missing := block.Body.MissingItemRange()
		return pin, append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing 'kind' attribute",
			Detail:   fmt.Sprintf("Pin %q must declare its data kind.", pin.Name),
			Subject:  &missing,
		})
	}
	word, diag := keyword(kindAttr.Expr)
	if diag != nil {
		return pin, append(diags, diag)
	}
	pinKind, err := graph.ParsePinKind(word)
	if err != nil {
		return pin, append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unknown pin kind",
			Detail:   err.Error(),
			Subject:  kindAttr.Expr.Range().Ptr(),
		})
	}
	pin.Kind = pinKind

	if attr, ok := content.Attributes["mandatory"]; ok {
		if block.Type != "input" {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Misplaced 'mandatory' attribute",
				Detail:   "Only input pins can be mandatory.",
				Subject:  attr.Expr.Range().Ptr(),
			})
		}
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &pin.Mandatory)...)
	}
	if attr, ok := content.Attributes["variant"]; ok {
		if block.Type != "output" {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Misplaced 'variant' attribute",
				Detail:   "Only output pins declare a variant policy.",
				Subject:  attr.Expr.Range().Ptr(),
			})
		}
		word, diag := keyword(attr.Expr)
		if diag != nil {
			return pin, append(diags, diag)
		}
		switch word {
		case "preserve":
			pin.Variant = VariantPreserve
		case "produce":
			pin.Variant = VariantProduce
		default:
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown variant policy",
				Detail:   fmt.Sprintf("Variant must be 'preserve' or 'produce', got %q.", word),
				Subject:  attr.Expr.Range().Ptr(),
			})
		}
	}
	return pin, diags
}

func parseParamBlock(block *hcl.Block) (ParamManifest, hcl.Diagnostics) {
	param := ParamManifest{Name: block.Labels[0], Default: cty.NilVal}

	content, diags := block.Body.Content(paramBodySchema)
	if diags.HasErrors() {
		return param, diags
	}

	typeAttr, ok := content.Attributes["type"]
	if !ok {
		missing := block.Body.MissingItemRange()
		return param, append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing 'type' attribute",
			Detail:   fmt.Sprintf("Parameter %q must declare its type.", param.Name),
			Subject:  &missing,
		})
	}
	word, diag := keyword(typeAttr.Expr)
	if diag != nil {
		return param, append(diags, diag)
	}
	paramType, err := graph.ParseParamType(word)
	if err != nil {
		return param, append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unknown parameter type",
			Detail:   err.Error(),
			Subject:  typeAttr.Expr.Range().Ptr(),
		})
	}
	param.Type = paramType

	if attr, ok := content.Attributes["default"]; ok {
		// Defaults are literals; no evaluation context is offered.
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			param.Default = val
		}
	}
	for attrName, dst := range map[string]*string{
		"label":      &param.Label,
		"category":   &param.Category,
		"folder":     &param.Folder,
		"visible_if": &param.VisibleIf,
		"enabled_if": &param.EnabledIf,
	} {
		if attr, ok := content.Attributes[attrName]; ok {
			diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, dst)...)
		}
	}
	return param, diags
}

// keyword decodes a bare identifier expression such as `float` or
// `preserve`.
func keyword(expr hcl.Expression) (string, *hcl.Diagnostic) {
	trav, ok := expr.(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(trav.Traversal) != 1 {
		return "", &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid keyword",
			Detail:   "Expected a bare identifier.",
			Subject:  expr.Range().Ptr(),
		}
	}
	return trav.Traversal.RootName(), nil
}
