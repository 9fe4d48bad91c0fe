// Package app wires the pieces into one runnable application: logger,
// kind registry, project loading and the run itself.
package app
