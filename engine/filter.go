package engine

import "math"

// FilterType selects the response of a Biquad designed by Design.
type FilterType int

const (
	Lowpass FilterType = iota
	Highpass
	Bandpass
)

// Coefficients of one second-order section, with a0 normalized to 1.
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Biquad is a second-order IIR section in Direct Form II Transposed.
type Biquad struct {
	Coefficients
	d0, d1 float64
}

// ProcessSample filters one sample.
func (b *Biquad) ProcessSample(x float64) float64 {
	y := b.B0*x + b.d0
	b.d0 = b.B1*x - b.A1*y + b.d1
	b.d1 = b.B2*x - b.A2*y
	return y
}

// ProcessBlock filters buf in place.
func (b *Biquad) ProcessBlock(buf []float64) {
	for i, x := range buf {
		buf[i] = b.ProcessSample(x)
	}
}

// Reset clears the filter state.
func (b *Biquad) Reset() {
	b.d0, b.d1 = 0, 0
}

// Design returns the RBJ cookbook coefficients for the filter type at freq Hz
// with quality q. A frequency outside (0, nyquist) yields a pass-through
// section.
func Design(typ FilterType, freq, q, sampleRate float64) Coefficients {
	if sampleRate <= 0 || freq <= 0 || freq >= sampleRate/2 {
		return Coefficients{B0: 1}
	}
	if q <= 0 {
		q = 1 / math.Sqrt2
	}
	w0 := 2 * math.Pi * freq / sampleRate
	cw, sw := math.Cos(w0), math.Sin(w0)
	alpha := sw / (2 * q)
	var b0, b1, b2 float64
	switch typ {
	case Highpass:
		b0 = (1 + cw) / 2
		b1 = -(1 + cw)
		b2 = (1 + cw) / 2
	case Bandpass:
		b0 = sw / 2
		b1 = 0
		b2 = -sw / 2
	default:
		b0 = (1 - cw) / 2
		b1 = 1 - cw
		b2 = (1 - cw) / 2
	}
	a0 := 1 + alpha
	return Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: -2 * cw / a0,
		A2: (1 - alpha) / a0,
	}
}
