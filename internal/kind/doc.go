// Package kind is the node-kind capability registry. A kind couples an HCL
// manifest declaring its pins and parameters with a Go compute constructor;
// the registry parity-checks the two at startup and stamps out graph node
// specs plus compute instances on demand. Registration problems are
// programming errors and panic.
package kind
