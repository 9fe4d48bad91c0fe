package kind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/graph"
)

const sampleManifest = `
kind "test.double" {
  description = "Doubles a float pack."
  category    = "test"

  input "in" {
    kind      = float
    mandatory = true
  }

  output "out" {
    kind    = float
    variant = produce
  }

  param "gain" {
    type    = float
    default = 2
    label   = "Gain"
  }

  param "opts" {
    type = folder_tab
  }

  param "note" {
    type   = string
    folder = "opts"
  }
}
`

func TestParseManifest(t *testing.T) {
	defs, err := ParseManifest("test.hcl", []byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "test.double", def.Tag)
	assert.Equal(t, "Doubles a float pack.", def.Description)
	assert.Equal(t, "test", def.Category)

	require.Len(t, def.Inputs, 1)
	in := def.Inputs[0]
	assert.Equal(t, "in", in.Name)
	assert.Equal(t, graph.PinFloat, in.Kind)
	assert.True(t, in.Mandatory)

	require.Len(t, def.Outputs, 1)
	out := def.Outputs[0]
	assert.Equal(t, "out", out.Name)
	assert.Equal(t, VariantProduce, out.Variant)

	require.Len(t, def.Params, 3)
	assert.Equal(t, "gain", def.Params[0].Name)
	assert.Equal(t, graph.ParamFloat, def.Params[0].Type)
	assert.Equal(t, "Gain", def.Params[0].Label)
	assert.True(t, def.Params[0].Default.RawEquals(cty.NumberIntVal(2)))
	assert.Equal(t, graph.ParamFolderTab, def.Params[1].Type)
	assert.Equal(t, "opts", def.Params[2].Folder)
}

func TestParseManifestMultipleKinds(t *testing.T) {
	src := `
kind "a.one" {
  output "out" {
    kind = any
  }
}

kind "a.two" {
  input "in" {
    kind = any
  }
}
`
	defs, err := ParseManifest("multi.hcl", []byte(src))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a.one", defs[0].Tag)
	assert.Equal(t, "a.two", defs[1].Tag)
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"syntax error",
			`kind "x" {`,
			"parse manifest",
		},
		{
			"no kinds",
			`# just a comment`,
			"declares no kinds",
		},
		{
			"pin without kind",
			`kind "x" {
  input "in" {}
}`,
			"Missing 'kind' attribute",
		},
		{
			"unknown pin kind",
			`kind "x" {
  input "in" {
    kind = quaternion
  }
}`,
			"Unknown pin kind",
		},
		{
			"quoted keyword",
			`kind "x" {
  input "in" {
    kind = "float"
  }
}`,
			"Invalid keyword",
		},
		{
			"unknown parameter type",
			`kind "x" {
  param "p" {
    type = ramp
  }
}`,
			"Unknown parameter type",
		},
		{
			"param without type",
			`kind "x" {
  param "p" {
    default = 1
  }
}`,
			"Missing 'type' attribute",
		},
		{
			"duplicate pin",
			`kind "x" {
  input "in" {
    kind = float
  }
  output "in" {
    kind = float
  }
}`,
			"Duplicate pin",
		},
		{
			"duplicate parameter",
			`kind "x" {
  param "p" {
    type = float
  }
  param "p" {
    type = int
  }
}`,
			"Duplicate parameter",
		},
		{
			"variant on an input",
			`kind "x" {
  input "in" {
    kind    = float
    variant = preserve
  }
}`,
			"Misplaced 'variant'",
		},
		{
			"mandatory on an output",
			`kind "x" {
  output "out" {
    kind      = float
    mandatory = true
  }
}`,
			"Misplaced 'mandatory'",
		},
		{
			"unknown variant policy",
			`kind "x" {
  output "out" {
    kind    = float
    variant = recycle
  }
}`,
			"Unknown variant policy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest("bad.hcl", []byte(tt.src))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestDefinitionSpec(t *testing.T) {
	defs, err := ParseManifest("test.hcl", []byte(sampleManifest))
	require.NoError(t, err)

	spec := defs[0].Spec()
	assert.Equal(t, "test.double", spec.Kind)
	require.Len(t, spec.Inputs, 1)
	assert.True(t, spec.Inputs[0].Required)
	require.Len(t, spec.Params, 3)
	assert.Equal(t, "opts", spec.Params[2].Folder)
	assert.NoError(t, spec.Validate())
}

func TestDefinitionPinLookup(t *testing.T) {
	defs, err := ParseManifest("test.hcl", []byte(sampleManifest))
	require.NoError(t, err)
	def := defs[0]

	in, ok := def.Input("in")
	require.True(t, ok)
	assert.True(t, in.Mandatory)
	_, ok = def.Input("out")
	assert.False(t, ok, "outputs are not inputs")

	out, ok := def.Output("out")
	require.True(t, ok)
	assert.Equal(t, VariantProduce, out.Variant)
}
