/*
Package nodepath provides a structured, type-safe representation for the
hierarchical node addresses used throughout the graph, based on the
slash-separated canonical format `/obj/model/conv1`.

A path is either absolute (rooted at `/`) or relative to some node, in which
case it may contain `.` and `..` segments that are folded away when the path
is resolved against an absolute base. Parameter references such as `../lr`
additionally carry a leaf name naming a parameter or pin on the addressed
node.

This package centralizes all parsing, formatting, and resolution logic so
that no other package manipulates path strings directly.
*/
package nodepath
