package engine

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/viterin/vek"
)

// processor is the wet path of an effect. It transforms block in place,
// reading its parameters through get.
type processor interface {
	process(frame uint64, block []float64, get func(name string, def float64) float64)
}

// processors maps effect kinds to constructors.
var processors = map[string]func(sampleRate float64) processor{
	"bitcrusher": func(float64) processor { return &bitcrusher{} },
	"distortion": func(float64) processor { return distortion{} },
	"delay":      func(sr float64) processor { return newDelay(sr) },
	"gain":       func(float64) processor { return gain{} },
}

// Effect mixes a processed copy of the signal with the dry signal.
type Effect struct {
	kind    string
	Wetness *Param
	bypass  atomic.Bool
	params  map[string]*Param
	proc    processor
	wet     []float64
}

// NewEffect returns an effect of the given kind. params are the live
// parameters of the processor; missing ones fall back to the processor's
// defaults.
func NewEffect(kind string, sampleRate float64, wetness *Param, params map[string]*Param) (*Effect, error) {
	newProc, ok := processors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown effect kind %q", kind)
	}
	if wetness == nil {
		wetness = NewParam(1, 0, 1)
	}
	if params == nil {
		params = map[string]*Param{}
	}
	return &Effect{kind: kind, Wetness: wetness, params: params, proc: newProc(sampleRate)}, nil
}

func (e *Effect) Kind() string { return e.kind }

// Param returns the live parameter of the processor with the given name.
func (e *Effect) Param(name string) (*Param, bool) {
	p, ok := e.params[name]
	return p, ok
}

func (e *Effect) SetBypass(b bool) { e.bypass.Store(b) }
func (e *Effect) Bypassed() bool   { return e.bypass.Load() }

// Process runs the effect on block in place.
func (e *Effect) Process(frame uint64, block []float64) {
	if e.bypass.Load() {
		return
	}
	w := e.Wetness.Resolve(frame, len(block))
	if w <= 0 {
		return
	}
	e.wet = grow(e.wet, len(block))
	copy(e.wet, block)
	e.proc.process(frame, e.wet, func(name string, def float64) float64 {
		if p, ok := e.params[name]; ok {
			return p.Resolve(frame, len(block))
		}
		return def
	})
	if w >= 1 {
		copy(block, e.wet)
		return
	}
	vek.MulNumber_Inplace(block, 1-w)
	vek.MulNumber_Inplace(e.wet, w)
	vek.Add_Inplace(block, e.wet)
}

// Chain is an ordered list of effects applied in series.
type Chain struct {
	effects []*Effect
}

func (c *Chain) Len() int           { return len(c.effects) }
func (c *Chain) At(i int) *Effect   { return c.effects[i] }
func (c *Chain) Append(e *Effect)   { c.effects = append(c.effects, e) }
func (c *Chain) Effects() []*Effect { return c.effects }

// Remove deletes the i:th effect and returns it, or nil if i is out of range.
func (c *Chain) Remove(i int) *Effect {
	if i < 0 || i >= len(c.effects) {
		return nil
	}
	e := c.effects[i]
	c.effects = append(c.effects[:i], c.effects[i+1:]...)
	return e
}

func (c *Chain) Clear() { c.effects = nil }

// Process runs every effect on block in order.
func (c *Chain) Process(frame uint64, block []float64) {
	for _, e := range c.effects {
		e.Process(frame, block)
	}
}

// EffectNode is an effect with its own audio input, usable as a standalone
// module.
type EffectNode struct {
	*Effect
	In    Input
	cache blockCache
}

func NewEffectNode(e *Effect) *EffectNode {
	return &EffectNode{Effect: e}
}

func (n *EffectNode) Render(frame uint64, out []float64) {
	n.cache.render(frame, out, func(buf []float64) {
		n.In.Render(frame, buf)
		n.Process(frame, buf)
	})
}

type bitcrusher struct {
	hold    float64
	counter int
}

func (b *bitcrusher) process(_ uint64, block []float64, get func(string, float64) float64) {
	bits := get("bits", 8)
	downsample := max(int(get("downsample", 1)), 1)
	levels := math.Exp2(bits - 1)
	for i, x := range block {
		if b.counter == 0 {
			b.hold = math.Round(x*levels) / levels
		}
		b.counter = (b.counter + 1) % downsample
		block[i] = b.hold
	}
}

type distortion struct{}

func (distortion) process(_ uint64, block []float64, get func(string, float64) float64) {
	drive := min(get("drive", 0.5), 0.999)
	level := get("level", 1)
	k := 2 * drive / (1 - drive)
	for i, x := range block {
		block[i] = level * (1 + k) * x / (1 + k*math.Abs(x))
	}
}

type delay struct {
	sampleRate float64
	line       []float64
	pos        int
}

func newDelay(sampleRate float64) *delay {
	return &delay{sampleRate: sampleRate, line: make([]float64, int(2*sampleRate)+1)}
}

func (d *delay) process(_ uint64, block []float64, get func(string, float64) float64) {
	n := len(d.line)
	samples := min(max(int(get("time", 0.25)*d.sampleRate), 1), n-1)
	feedback := get("feedback", 0.4)
	for i, x := range block {
		read := d.pos - samples
		if read < 0 {
			read += n
		}
		y := d.line[read]
		d.line[d.pos] = x + y*feedback
		d.pos = (d.pos + 1) % n
		block[i] = y
	}
}

type gain struct{}

func (gain) process(_ uint64, block []float64, get func(string, float64) float64) {
	vek.MulNumber_Inplace(block, get("gain", 1))
}
