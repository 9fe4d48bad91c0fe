// Package engine executes a graph. A run plans a deterministic order over
// the connection dag with every ForEach region contracted to a single
// step, drives each node's compute in that order, routes the produced
// Packs across connections, and publishes its progress through the graph's
// event stream. One Engine serves one Graph, and runs are strictly one at
// a time.
package engine
