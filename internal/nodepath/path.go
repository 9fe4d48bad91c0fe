package nodepath

import (
	"fmt"
	"strings"
)

// Path is the structured representation of a node address. The zero value is
// an empty relative path, which resolves to the base node itself.
type Path struct {
	segments []string
	absolute bool
}

// Root returns the absolute path of the graph root, `/`.
func Root() Path {
	return Path{absolute: true}
}

// Absolute constructs an absolute path from the given segments. It is
// intended for callers that already hold validated segment names.
func Absolute(segments ...string) Path {
	return Path{segments: append([]string(nil), segments...), absolute: true}
}

// IsAbsolute reports whether the path is rooted at `/`.
func (p Path) IsAbsolute() bool {
	return p.absolute
}

// IsRoot reports whether the path is exactly the graph root.
func (p Path) IsRoot() bool {
	return p.absolute && len(p.segments) == 0
}

// Segments returns a copy of the path's segments.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Name returns the final segment of the path, or the empty string for the
// root and for the empty relative path.
func (p Path) Name() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path with its final segment removed. The parent of the
// root is the root itself.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return p
	}
	return Path{
		segments: append([]string(nil), p.segments[:len(p.segments)-1]...),
		absolute: p.absolute,
	}
}

// Child returns the path extended by one segment.
func (p Path) Child(name string) Path {
	segs := make([]string, 0, len(p.segments)+1)
	segs = append(segs, p.segments...)
	segs = append(segs, name)
	return Path{segments: segs, absolute: p.absolute}
}

// String serializes the path into its canonical string representation.
func (p Path) String() string {
	if p.absolute {
		return "/" + strings.Join(p.segments, "/")
	}
	if len(p.segments) == 0 {
		return "."
	}
	return strings.Join(p.segments, "/")
}

// Equal reports whether two paths are identical segment for segment.
func (p Path) Equal(other Path) bool {
	if p.absolute != other.absolute || len(p.segments) != len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether p lies strictly below ancestor. Both paths
// must be absolute for the answer to be meaningful.
func (p Path) IsDescendantOf(ancestor Path) bool {
	if !p.absolute || !ancestor.absolute {
		return false
	}
	if len(p.segments) <= len(ancestor.segments) {
		return false
	}
	for i, seg := range ancestor.segments {
		if p.segments[i] != seg {
			return false
		}
	}
	return true
}

// ResolveFrom folds the path against an absolute base, interpreting `.` as
// the base node and `..` as one level up. Absolute paths resolve to
// themselves. Walking above the root is an error, as the caller is holding a
// reference that cannot name any node.
func (p Path) ResolveFrom(base Path) (Path, error) {
	if p.absolute {
		return p, nil
	}
	if !base.absolute {
		return Path{}, fmt.Errorf("cannot resolve %q against relative base %q", p.String(), base.String())
	}

	segs := append([]string(nil), base.segments...)
	for _, seg := range p.segments {
		switch seg {
		case ".":
			// Stay at the current level.
		case "..":
			if len(segs) == 0 {
				return Path{}, fmt.Errorf("path %q escapes above the root when resolved from %q", p.String(), base.String())
			}
			segs = segs[:len(segs)-1]
		default:
			segs = append(segs, seg)
		}
	}
	return Path{segments: segs, absolute: true}, nil
}
