// Package dag implements the directed-graph bookkeeping shared by the
// connection validator, the expression dependency registry, and the
// execution scheduler: edge storage, cycle detection, reachability, and a
// stable topological sort that breaks ties by insertion order.
package dag
