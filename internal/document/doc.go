// Package document persists projects. A project travels as a JSON
// document carrying the graph's nodes (with positions, parameter values,
// instance parameters and formula sources), its connections, and its
// ForEach registrations, tagged with a format version. Loading validates
// the bytes against an embedded JSON schema, applies a caller-supplied
// migration hook for older versions, and rebuilds the graph through the
// kind registry in two passes so that formulas and connections only ever
// reference nodes that already exist.
package document
