package script

import (
	"context"
	"fmt"

	"github.com/Shopify/go-lua"

	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// runLua executes the node's source parameter. The first input pack is
// exposed as a 1-based `input` array with its dimensions in `shape`;
// `iteration` and `total` mirror the enclosing loop. The script's result
// is the chunk's return value, or the `output` global when the chunk
// returns nothing. A number becomes a scalar pack, an array of numbers a
// one-dimensional pack.
func runLua(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	source, err := call.String("source")
	if err != nil {
		return nil, err
	}
	if source == "" {
		return nil, fmt.Errorf("node %s has no script source", call.Node)
	}

	l := lua.NewState()
	sandbox(l)
	if err := pushGlobals(l, call); err != nil {
		return nil, err
	}

	if err := lua.DoString(l, source); err != nil {
		return nil, fmt.Errorf("script of %s: %w", call.Node, err)
	}
	if l.Top() == 0 {
		l.Global("output")
	}
	if l.TypeOf(-1) == lua.TypeNil {
		return nil, fmt.Errorf("script of %s returned nothing", call.Node)
	}
	out, err := pullResult(l, call.Node)
	if err != nil {
		return nil, err
	}
	return map[string][]pack.Pack{"output": {out}}, nil
}

// sandbox loads the safe libraries and strips the loaders that would let
// a snippet reach the filesystem or other chunks.
func sandbox(l *lua.State) {
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		l.PushNil()
		l.SetGlobal(name)
	}
}

func pushGlobals(l *lua.State, call *kind.Call) error {
	packs := call.Inputs["input"]
	if len(packs) == 0 {
		l.PushNil()
		l.SetGlobal("input")
		l.PushNil()
		l.SetGlobal("shape")
	} else {
		p := packs[0]
		l.NewTable()
		for i := 0; i < p.Len(); i++ {
			v, err := p.Value(i)
			if err != nil {
				return err
			}
			l.PushInteger(i + 1)
			l.PushNumber(v)
			l.SetTable(-3)
		}
		l.SetGlobal("input")

		l.NewTable()
		for i, dim := range p.Shape() {
			l.PushInteger(i + 1)
			l.PushInteger(dim)
			l.SetTable(-3)
		}
		l.SetGlobal("shape")
	}

	l.PushInteger(call.Iteration)
	l.SetGlobal("iteration")
	l.PushInteger(call.Total)
	l.SetGlobal("total")
	return nil
}

// pullResult converts the value at the top of the stack into a pack.
func pullResult(l *lua.State, node string) (pack.Pack, error) {
	switch l.TypeOf(-1) {
	case lua.TypeNumber:
		v, _ := l.ToNumber(-1)
		return pack.NewScalar(v), nil
	case lua.TypeTable:
		// Probe the array part; the first hole ends it.
		n := 0
		for {
			l.PushInteger(n + 1)
			l.Table(-2)
			empty := l.TypeOf(-1) == lua.TypeNil
			l.Pop(1)
			if empty {
				break
			}
			n++
		}
		if n == 0 {
			return nil, fmt.Errorf("script of %s produced an empty table", node)
		}
		data := make([]float64, n)
		for i := 1; i <= n; i++ {
			l.PushInteger(i)
			l.Table(-2)
			v, ok := l.ToNumber(-1)
			l.Pop(1)
			if !ok {
				return nil, fmt.Errorf("script of %s produced a non-numeric element at index %d", node, i)
			}
			data[i-1] = v
		}
		return pack.NewNumericArray(data, []int{n}, nil)
	default:
		return nil, fmt.Errorf("script of %s produced %s, expected a number or an array of numbers",
			node, typeName(l.TypeOf(-1)))
	}
}

func typeName(t lua.Type) string {
	switch t {
	case lua.TypeBoolean:
		return "a boolean"
	case lua.TypeString:
		return "a string"
	case lua.TypeFunction:
		return "a function"
	default:
		return "an unsupported value"
	}
}
