/*
Package expr implements the parameter formula language: a small, closed
expression grammar with literals, arithmetic/comparison/boolean operators, a
ternary conditional, and a fixed set of accessor functions for reading
parameters, pack metadata, and node details across the graph.

The language is deliberately hand-rolled: source is scanned and parsed by a
recursive-descent parser into an explicit AST, which a tree interpreter
walks against an Env. Nothing outside the accessor allowlist is reachable
from a formula, and accessor path arguments must be string literals so that
a formula's dependency set is known statically from a single parse.

Values are cty.Value restricted to numbers, strings, bools, and numeric
tuples (vectors).
*/
package expr
