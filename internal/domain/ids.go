package domain

import "sync/atomic"

// IDGenerator hands out strictly increasing order ids. It is safe for
// concurrent use; every order source in the process shares one generator.
type IDGenerator struct {
	last atomic.Uint64
}

// NewIDGenerator returns a generator whose first id is start+1.
func NewIDGenerator(start uint64) *IDGenerator {
	g := &IDGenerator{}
	g.last.Store(start)
	return g
}

// Next returns the next id.
func (g *IDGenerator) Next() uint64 {
	return g.last.Add(1)
}
