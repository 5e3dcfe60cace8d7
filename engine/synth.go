package engine

import (
	"math"

	"github.com/viterin/vek"
)

// Waveform of the synth oscillators.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Sawtooth
	Triangle
)

const (
	// DefaultPolyphony is the number of voices of a synth when none is given.
	DefaultPolyphony = 8
	// MaxUnison is the largest number of oscillators stacked per voice.
	MaxUnison = 32

	attackTime   = 0.005
	releaseTime  = 0.08
	unisonSpread = 15.0 // cents between the outermost unison oscillators and the center
)

type (
	// SynthParams are the live parameters of a synth.
	SynthParams struct {
		Detune          *Param // cents
		FilterFrequency *Param // Hz
		FilterQ         *Param
		FilterDetune    *Param // cents applied to the filter frequency
		Gain            *Param
	}

	// Synth is a polyphonic oscillator bank followed by a filter, an effect
	// chain and a gain stage.
	Synth struct {
		sampleRate float64
		params     SynthParams
		waveform   Waveform
		unison     int
		filterType FilterType
		filter     Biquad
		chain      Chain
		voices     []voice
		bend       float64 // semitones
		cache      blockCache
	}

	voice struct {
		note              int
		velocity          float64
		sustain           bool
		level             float64
		samplesSinceEvent int
		phases            [MaxUnison]float64
	}
)

// NewSynth returns a synth with the given number of voices. Nil parameters
// are replaced with fresh ones at their default values.
func NewSynth(sampleRate float64, polyphony int, params SynthParams) *Synth {
	if polyphony <= 0 {
		polyphony = DefaultPolyphony
	}
	if params.Detune == nil {
		params.Detune = NewParam(0, -300, 300)
	}
	if params.FilterFrequency == nil {
		params.FilterFrequency = NewParam(4400, 10, 20000)
	}
	if params.FilterQ == nil {
		params.FilterQ = NewParam(1, 0.0001, 30)
	}
	if params.FilterDetune == nil {
		params.FilterDetune = NewParam(0, -1200, 1200)
	}
	if params.Gain == nil {
		params.Gain = NewParam(0.1, 0, 4)
	}
	return &Synth{
		sampleRate: sampleRate,
		params:     params,
		unison:     1,
		voices:     make([]voice, polyphony),
	}
}

func (s *Synth) Params() SynthParams { return s.params }
func (s *Synth) Chain() *Chain       { return &s.chain }

func (s *Synth) SetWaveform(w Waveform) { s.waveform = w }

func (s *Synth) SetUnison(n int) { s.unison = min(max(n, 1), MaxUnison) }

func (s *Synth) SetFilterType(t FilterType) {
	if t != s.filterType {
		s.filterType = t
		s.filter.Reset()
	}
}

// SetBend sets the pitch bend of every voice, in semitones.
func (s *Synth) SetBend(semitones float64) { s.bend = semitones }

// Gate starts the note on a free voice. A voice that has been released is
// preferred over one that is still playing; among equals the oldest voice is
// taken. Gating a note that is already sounding retriggers it.
func (s *Synth) Gate(note int, velocity float64) {
	s.Ungate(note)
	age := 0
	oldestReleased := false
	oldestVoice := 0
	for i := range s.voices {
		if (!s.voices[i].sustain && !oldestReleased) ||
			(!s.voices[i].sustain == oldestReleased && s.voices[i].samplesSinceEvent >= age) {
			oldestVoice = i
			oldestReleased = !s.voices[i].sustain
			age = s.voices[i].samplesSinceEvent
		}
	}
	v := &s.voices[oldestVoice]
	level := v.level
	*v = voice{note: note, velocity: velocity, sustain: true, level: level}
}

// Ungate releases the voice playing the note, if any.
func (s *Synth) Ungate(note int) {
	for i := range s.voices {
		if s.voices[i].note == note && s.voices[i].sustain {
			s.voices[i].sustain = false
			s.voices[i].samplesSinceEvent = 0
			return
		}
	}
}

// Panic releases every voice.
func (s *Synth) Panic() {
	for i := range s.voices {
		if s.voices[i].sustain {
			s.voices[i].sustain = false
			s.voices[i].samplesSinceEvent = 0
		}
	}
}

// Gated returns the notes currently held, in voice order.
func (s *Synth) Gated() []int {
	var ret []int
	for _, v := range s.voices {
		if v.sustain {
			ret = append(ret, v.note)
		}
	}
	return ret
}

// Close silences the synth and drops its effect chain.
func (s *Synth) Close() {
	for i := range s.voices {
		s.voices[i] = voice{}
	}
	s.chain.Clear()
}

func (s *Synth) Render(frame uint64, out []float64) {
	s.cache.render(frame, out, func(buf []float64) {
		s.render(frame, buf)
	})
}

func (s *Synth) render(frame uint64, buf []float64) {
	clear(buf)
	n := len(buf)
	detune := s.params.Detune.Resolve(frame, n)
	attackStep := 1 / (attackTime * s.sampleRate)
	releaseStep := 1 / (releaseTime * s.sampleRate)
	norm := 1 / math.Sqrt(float64(s.unison))
	var incs [MaxUnison]float64
	for vi := range s.voices {
		v := &s.voices[vi]
		if !v.sustain && v.level <= 0 {
			v.samplesSinceEvent += n
			continue
		}
		base := 440 * math.Exp2((float64(v.note)-69+s.bend)/12+detune/1200)
		for u := 0; u < s.unison; u++ {
			incs[u] = base * math.Exp2(unisonOffset(u, s.unison)/1200) / s.sampleRate
		}
		for i := range buf {
			if v.sustain {
				v.level = math.Min(v.level+attackStep, 1)
			} else {
				v.level = math.Max(v.level-releaseStep, 0)
			}
			var sample float64
			for u := 0; u < s.unison; u++ {
				sample += oscillate(s.waveform, v.phases[u])
				v.phases[u] += incs[u]
				v.phases[u] -= math.Floor(v.phases[u])
			}
			buf[i] += sample * norm * v.level * v.velocity
		}
		v.samplesSinceEvent += n
	}
	freq := s.params.FilterFrequency.Resolve(frame, n) * math.Exp2(s.params.FilterDetune.Resolve(frame, n)/1200)
	s.filter.Coefficients = Design(s.filterType, freq, s.params.FilterQ.Resolve(frame, n), s.sampleRate)
	s.filter.ProcessBlock(buf)
	s.chain.Process(frame, buf)
	vek.MulNumber_Inplace(buf, s.params.Gain.Resolve(frame, n))
}

// unisonOffset spreads n oscillators evenly over [-unisonSpread,
// unisonSpread] cents.
func unisonOffset(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return -unisonSpread + 2*unisonSpread*float64(i)/float64(n-1)
}

func oscillate(w Waveform, phase float64) float64 {
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Sawtooth:
		return 2*phase - 1
	case Triangle:
		return 1 - 4*math.Abs(phase-0.5)
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
