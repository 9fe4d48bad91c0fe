// Package graph holds the document model of a project: nodes with
// hierarchical paths, typed pins, validated connections, parameters with
// formulas and reactive dependency tracking, and ForEach loop group
// registrations.
//
// Node paths form a namespace, not a containment hierarchy. A node at
// /rig/arm/joint is addressable relative to /rig/arm (and its parameters
// reachable through relative references such as ../length), but execution
// order is decided solely by connections between pins.
//
// All mutation goes through Graph methods, which validate before applying.
// A rejected mutation leaves the graph untouched. While a run holds the
// graph (Graph.LockRun), structural mutation is rejected outright.
package graph
