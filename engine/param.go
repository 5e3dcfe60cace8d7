package engine

import (
	"math"
	"slices"
	"sync/atomic"

	"github.com/viterin/vek"
)

// Param is a live numeric parameter. Its base value can be read and written
// from any goroutine without locking; the audio thread picks up the new value
// on the next block. Audio nodes can be attached as modulation sources: the
// mean of each source's block, scaled to half the parameter range, is added
// to the base value.
type Param struct {
	bits     atomic.Uint64
	min, max float64
	mods     []Node
	scratch  []float64
}

// NewParam returns a parameter with the given value and inclusive range.
func NewParam(value, min, max float64) *Param {
	p := &Param{min: min, max: max}
	p.Set(value)
	return p
}

// Set clamps v to the range of the parameter, stores it and returns the
// stored value.
func (p *Param) Set(v float64) float64 {
	if math.IsNaN(v) {
		v = p.min
	}
	v = math.Min(math.Max(v, p.min), p.max)
	p.bits.Store(math.Float64bits(v))
	return v
}

// Value returns the base value, ignoring modulation.
func (p *Param) Value() float64 {
	return math.Float64frombits(p.bits.Load())
}

// Range returns the inclusive range of the parameter.
func (p *Param) Range() (min, max float64) {
	return p.min, p.max
}

// Modulate adds src as a modulation source. Adding the same source twice has
// no effect.
func (p *Param) Modulate(src Node) {
	if !slices.Contains(p.mods, src) {
		p.mods = append(p.mods, src)
	}
}

// Unmodulate removes src from the modulation sources.
func (p *Param) Unmodulate(src Node) {
	p.mods = slices.DeleteFunc(p.mods, func(n Node) bool { return n == src })
}

// ClearModulation removes every modulation source.
func (p *Param) ClearModulation() {
	p.mods = p.mods[:0]
}

// Modulators returns the number of modulation sources.
func (p *Param) Modulators() int {
	return len(p.mods)
}

// Resolve returns the value of the parameter for the block: the base value
// plus the contribution of each modulation source, clamped to the range.
// blockLen is the length of the block being rendered.
func (p *Param) Resolve(frame uint64, blockLen int) float64 {
	v := p.Value()
	if len(p.mods) == 0 {
		return v
	}
	p.scratch = grow(p.scratch, blockLen)
	depth := (p.max - p.min) / 2
	for _, m := range p.mods {
		m.Render(frame, p.scratch)
		v += vek.Mean(p.scratch) * depth
	}
	return math.Min(math.Max(v, p.min), p.max)
}
