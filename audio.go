package patchbay

import "github.com/viterin/vek/vek32"

// AudioSource renders mono blocks of audio. *session.Session is one.
type AudioSource interface {
	Render(out []float64)
	SampleRate() int
}

// DefaultBlockSize is the number of samples rendered per block when none is
// configured.
const DefaultBlockSize = 256

// Stereo converts a mono buffer to an interleaved stereo float32 buffer, both
// channels carrying the same signal.
func Stereo(mono []float64) []float32 {
	samples := vek32.FromFloat64(mono)
	ret := make([]float32, 2*len(samples))
	for i, v := range samples {
		ret[2*i], ret[2*i+1] = v, v
	}
	return ret
}
