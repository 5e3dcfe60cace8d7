// Package engine contains the live processing resources behind the ports of a
// patch: parameter cells, audio nodes, synth voices, filters and effects.
//
// Apart from Param values, which can be set from any goroutine, the types in
// this package are not safe for concurrent use: rendering and rewiring must be
// serialized by the caller.
package engine

// Node is anything that produces a block of audio. frame identifies the block
// being rendered: a node asked twice for the same frame returns the same
// samples, so one output can feed several inputs.
type Node interface {
	Render(frame uint64, out []float64)
}

// Connector is implemented by the nodes that audio can be routed into.
type Connector interface {
	Connect(src Node)
	Disconnect()
}

// Input is an audio input slot. It renders whatever is connected to it, or
// silence.
type Input struct {
	src Node
}

func (in *Input) Connect(src Node) { in.src = src }
func (in *Input) Disconnect()      { in.src = nil }

// Source returns the node connected to the input, or nil.
func (in *Input) Source() Node { return in.src }

func (in *Input) Render(frame uint64, out []float64) {
	if in.src == nil {
		clear(out)
		return
	}
	in.src.Render(frame, out)
}

// blockCache remembers the last block a node rendered. It also breaks
// feedback loops: a node reached again while it is rendering yields silence.
type blockCache struct {
	frame uint64
	valid bool
	busy  bool
	buf   []float64
}

func (c *blockCache) render(frame uint64, out []float64, fill func(buf []float64)) {
	if c.busy {
		clear(out)
		return
	}
	if !c.valid || c.frame != frame || len(c.buf) != len(out) {
		if cap(c.buf) < len(out) {
			c.buf = make([]float64, len(out))
		}
		c.buf = c.buf[:len(out)]
		c.busy = true
		fill(c.buf)
		c.busy = false
		c.frame, c.valid = frame, true
	}
	copy(out, c.buf)
}

// grow returns buf resized to n, reallocating only when needed.
func grow(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}
