// Package pack defines the immutable typed payloads exchanged between pins
// during one execution pass. A pack is created fresh by a node's compute
// step and never mutated afterwards; the engine reads only its kind and
// shape, never the buffer contents.
package pack
