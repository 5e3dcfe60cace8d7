package engine

import "github.com/viterin/vek"

// Output sums its inputs and applies a gain. It is the node rendered to the
// audio device.
type Output struct {
	Gain    *Param
	inputs  []Input
	cache   blockCache
	scratch []float64
}

// NewOutput returns an output with n input slots.
func NewOutput(gain *Param, n int) *Output {
	if gain == nil {
		gain = NewParam(1, 0, 4)
	}
	return &Output{Gain: gain, inputs: make([]Input, n)}
}

// Input returns the i:th input slot.
func (o *Output) Input(i int) *Input {
	return &o.inputs[i]
}

func (o *Output) NumInputs() int { return len(o.inputs) }

func (o *Output) Render(frame uint64, out []float64) {
	o.cache.render(frame, out, func(buf []float64) {
		clear(buf)
		o.scratch = grow(o.scratch, len(buf))
		for i := range o.inputs {
			if o.inputs[i].Source() == nil {
				continue
			}
			o.inputs[i].Render(frame, o.scratch)
			vek.Add_Inplace(buf, o.scratch)
		}
		vek.MulNumber_Inplace(buf, o.Gain.Resolve(frame, len(buf)))
	})
}

// Close disconnects every input.
func (o *Output) Close() {
	for i := range o.inputs {
		o.inputs[i].Disconnect()
	}
}
