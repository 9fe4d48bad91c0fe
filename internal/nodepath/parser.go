package nodepath

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentRegex matches a single path segment. Dots are excluded so that
// `node.pin` output keys and parameter leaf names stay unambiguous.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidSegment reports whether name is usable as a node name.
func ValidSegment(name string) bool {
	return segmentRegex.MatchString(name)
}

// Parse creates a Path from its canonical string representation. `.` and
// `..` are accepted as segments of relative paths and folded later during
// resolution; in absolute paths they are folded immediately.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return Path{}, fmt.Errorf("path cannot be empty")
	}

	p := Path{}
	rest := raw
	if strings.HasPrefix(raw, "/") {
		p.absolute = true
		rest = raw[1:]
	}
	if rest == "" {
		if !p.absolute {
			return Path{}, fmt.Errorf("path cannot be empty")
		}
		return p, nil
	}

	for _, seg := range strings.Split(rest, "/") {
		if seg == "" {
			return Path{}, fmt.Errorf("path %q contains an empty segment", raw)
		}
		if seg != "." && seg != ".." && !segmentRegex.MatchString(seg) {
			return Path{}, fmt.Errorf("path %q contains invalid segment %q", raw, seg)
		}
		p.segments = append(p.segments, seg)
	}

	if p.absolute {
		// Fold dot segments now so absolute paths are canonical on entry.
		// ResolveFrom passes absolute paths through untouched, so resolve
		// the segments as if they were relative to the root.
		folded, err := (Path{segments: p.segments}).ResolveFrom(Root())
		if err != nil {
			return Path{}, fmt.Errorf("path %q escapes above the root", raw)
		}
		return folded, nil
	}
	return p, nil
}

// MustParse is a Parse that panics on malformed input. For fixed paths in
// tests and kind declarations.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Ref addresses a parameter or pin on a node: the final segment of the raw
// string is the leaf name, everything before it the node path. A bare leaf
// such as `x` therefore refers to the evaluating node's own parameter, and
// `../x` to a parameter on its parent.
type Ref struct {
	Node Path
	Leaf string
}

// ParseRef splits a raw reference into its node path and leaf name.
func ParseRef(raw string) (Ref, error) {
	p, err := Parse(raw)
	if err != nil {
		return Ref{}, err
	}
	leaf := p.Name()
	if leaf == "" || leaf == "." || leaf == ".." {
		return Ref{}, fmt.Errorf("reference %q does not name a parameter or pin", raw)
	}
	return Ref{Node: p.Parent(), Leaf: leaf}, nil
}

// String serializes the reference back into its canonical form.
func (r Ref) String() string {
	if !r.Node.absolute && len(r.Node.segments) == 0 {
		return r.Leaf
	}
	if r.Node.IsRoot() {
		return "/" + r.Leaf
	}
	return r.Node.String() + "/" + r.Leaf
}

// ResolveFrom resolves the reference's node path against an absolute base.
func (r Ref) ResolveFrom(base Path) (Ref, error) {
	node, err := r.Node.ResolveFrom(base)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Node: node, Leaf: r.Leaf}, nil
}
