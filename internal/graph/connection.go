package graph

// Connection is a directed edge from a source output pin to a target input
// pin. Instances are only created through Graph.Connect, which validates
// direction, kind compatibility and acyclicity first.
type Connection struct {
	id     string
	source *Pin
	target *Pin
}

func (c *Connection) ID() string {
	return c.id
}

// Source returns the producing output pin.
func (c *Connection) Source() *Pin {
	return c.source
}

// Target returns the consuming input pin.
func (c *Connection) Target() *Pin {
	return c.target
}
