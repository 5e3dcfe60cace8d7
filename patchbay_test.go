package patchbay_test

import (
	"encoding/binary"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/websynth/patchbay"
	"github.com/websynth/patchbay/engine"
)

func TestModulePortsFollowEffectChain(t *testing.T) {
	m := patchbay.Module{Type: patchbay.SynthType}
	m.FillDefaults()
	names := portNames(m.Ports())
	assert.Equal(t, []string{"detune", "filter_frequency", "filter_q", "filter_detune", "gain", "output"}, names)

	e, err := patchbay.NewEffect("delay")
	require.NoError(t, err)
	m.Effects = append(m.Effects, e)
	names = portNames(m.Ports())
	assert.Contains(t, names, "effect_0_wetness")
	assert.Contains(t, names, "effect_0_time")
	assert.Contains(t, names, "effect_0_feedback")
	assert.Equal(t, "output", names[len(names)-1])
}

func TestModulePortsIgnoreParameterValues(t *testing.T) {
	a := patchbay.Module{Type: patchbay.SynthType}
	a.FillDefaults()
	b := a.Copy()
	b.Parameters["detune"] = 100
	b.Parameters["waveform"] = patchbay.Triangle
	assert.Equal(t, a.Ports(), b.Ports())
}

func TestFillDefaultsClamps(t *testing.T) {
	m := patchbay.Module{Type: patchbay.SynthType, Parameters: map[string]float64{"detune": 1000, "unison": 0}}
	m.FillDefaults()
	assert.Equal(t, 300.0, m.Parameters["detune"])
	assert.Equal(t, 1.0, m.Parameters["unison"])
	assert.Equal(t, 0.1, m.Parameters["gain"])
}

func TestEffectModuleParameters(t *testing.T) {
	m := patchbay.Module{Type: patchbay.EffectType, Kind: "distortion"}
	require.NoError(t, m.Validate())
	m.FillDefaults()
	assert.Equal(t, []string{"wetness", "drive", "level", "input", "output"}, portNames(m.Ports()))
	_, ok := m.Parameter("bypass")
	assert.True(t, ok)

	m.Kind = "flanger"
	assert.ErrorIs(t, m.Validate(), patchbay.ErrUnknownEffectType)
}

func TestValidateRejectsUnknownParameter(t *testing.T) {
	m := patchbay.Module{Type: patchbay.VoiceType, Parameters: map[string]float64{"cutoff": 1}}
	assert.ErrorIs(t, m.Validate(), patchbay.ErrUnknownParameter)
	m = patchbay.Module{Type: "sampler"}
	assert.ErrorIs(t, m.Validate(), patchbay.ErrUnknownModuleType)
}

func TestParseEffectPort(t *testing.T) {
	i, param, ok := patchbay.ParseEffectPort(patchbay.EffectPort(3, "wetness"))
	assert.True(t, ok)
	assert.Equal(t, 3, i)
	assert.Equal(t, "wetness", param)
	for _, bad := range []string{"detune", "effect_", "effect_x_drive", "effect_1_", "effect_-1_drive"} {
		_, _, ok := patchbay.ParseEffectPort(bad)
		assert.False(t, ok, bad)
	}
}

func TestCopyIsDeep(t *testing.T) {
	m := patchbay.Module{
		Type:        patchbay.VoiceType,
		Parameters:  map[string]float64{"gain": 1},
		Connections: map[string]patchbay.Address{"x": {Module: "a", Port: "output"}},
		Steps:       []bool{true, false},
	}
	c := m.Copy()
	c.Parameters["gain"] = 0.5
	c.Connections["x"] = patchbay.Address{}
	c.Steps[0] = false
	assert.Equal(t, 1.0, m.Parameters["gain"])
	assert.False(t, m.Connections["x"].IsZero())
	assert.True(t, m.Steps[0])
}

func TestSnapshotBuilderLastWriteWins(t *testing.T) {
	first := patchbay.NumberParameter{Param: engine.NewParam(0, 0, 1)}
	second := patchbay.NumberParameter{Param: engine.NewParam(1, 0, 1)}
	b := patchbay.NewSnapshotBuilder(4)
	addr := patchbay.Address{Module: "a", Port: "gain"}
	assert.False(t, b.Put(addr, patchbay.PortDescriptor{Direction: patchbay.Input, Endpoint: first}))
	assert.False(t, b.Put(patchbay.Address{Module: "b", Port: "gain"}, patchbay.PortDescriptor{Direction: patchbay.Input, Endpoint: first}))
	assert.True(t, b.Put(addr, patchbay.PortDescriptor{Direction: patchbay.Input, Endpoint: second}))
	s := b.Build()
	assert.Equal(t, uint64(4), s.Version())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []patchbay.Address{addr}, s.Conflicts())
	d, ok := s.Get(addr)
	require.True(t, ok)
	assert.Same(t, second.Param, d.Endpoint.(patchbay.NumberParameter).Param)
	assert.Equal(t, []patchbay.ModuleID{"a", "b"}, s.Modules())
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("c"))
	_, ok = s.Get(patchbay.Address{Module: "c", Port: "gain"})
	assert.False(t, ok)
}

func TestAddressString(t *testing.T) {
	a := patchbay.Address{Module: "f00", Port: "effect_0_drive"}
	parsed, err := patchbay.ParseAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
	assert.Equal(t, "<none>", patchbay.Address{}.String())
	_, err = patchbay.ParseAddress("nodot")
	assert.Error(t, err)
}

func TestUnmarshalDescription(t *testing.T) {
	yml := []byte(`
modules:
  - id: v1
    type: voice
    target: s1
    note: 60
    steps: [true, false]
  - id: s1
    type: synth
    parameters: {detune: 12}
sequencer:
  bpm: 2000
  scheme: swung
`)
	d, err := patchbay.UnmarshalDescription(yml)
	require.NoError(t, err)
	require.Len(t, d.Modules, 2)
	assert.Equal(t, patchbay.ModuleID("s1"), d.Modules[0].Target)
	assert.Equal(t, 12.0, d.Modules[1].Parameters["detune"])
	assert.Equal(t, float64(patchbay.MaxBPM), d.Sequencer.BPM)
	assert.Equal(t, patchbay.DefaultWidth, d.Sequencer.Width)
	assert.Equal(t, patchbay.Swung, d.Sequencer.Scheme)

	out, err := d.Marshal()
	require.NoError(t, err)
	again, err := patchbay.UnmarshalDescription(out)
	require.NoError(t, err)
	assert.Equal(t, d, again)

	json := []byte(`{"modules":[{"id":"o","type":"output"}],"sequencer":{"bpm":120}}`)
	d, err = patchbay.UnmarshalDescription(json)
	require.NoError(t, err)
	assert.Equal(t, patchbay.OutputType, d.Modules[0].Type)
	assert.Equal(t, patchbay.Stable, d.Sequencer.Scheme)

	_, err = patchbay.UnmarshalDescription([]byte("modules: [{type: theremin}]"))
	assert.ErrorIs(t, err, patchbay.ErrUnknownModuleType)
	_, err = patchbay.UnmarshalDescription([]byte("{{{"))
	assert.Error(t, err)
}

func TestStepDuration(t *testing.T) {
	s := patchbay.SequencerSettings{BPM: 60, Width: 16, Scheme: patchbay.Stable}
	assert.Equal(t, 250*time.Millisecond, s.StepDuration(0, nil))
	s.Scheme = patchbay.Swung
	long, short := s.StepDuration(0, nil), s.StepDuration(1, nil)
	assert.Greater(t, long, short)
	assert.InDelta(t, float64(500*time.Millisecond), float64(long+short), float64(time.Microsecond))
	s.Scheme = patchbay.Random
	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 32; i++ {
		d := s.StepDuration(i, rnd)
		assert.GreaterOrEqual(t, d, 187500*time.Microsecond)
		assert.LessOrEqual(t, d, 312500*time.Microsecond)
	}
}

func TestParameterHint(t *testing.T) {
	p, ok := patchbay.ModuleTypes[patchbay.SynthType].Parameter("waveform")
	require.True(t, ok)
	assert.Equal(t, "sawtooth", p.Hint(patchbay.Sawtooth))
	p, _ = patchbay.ModuleTypes[patchbay.SynthType].Parameter("filter_frequency")
	assert.Equal(t, "440 Hz", p.Hint(440))
	p, _ = patchbay.ModuleTypes[patchbay.SynthType].Parameter("gain")
	assert.Equal(t, "0.0 dB", p.Hint(1))
}

func portNames(ports []patchbay.PortSpec) []string {
	ret := make([]string, len(ports))
	for i, p := range ports {
		ret[i] = p.Name
	}
	return ret
}

func TestStereo(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0.5, -1, -1}, patchbay.Stereo([]float64{0.5, -1}))
	assert.Empty(t, patchbay.Stereo(nil))
}

func TestWav(t *testing.T) {
	buffer := []float32{0, 0, 0.5, 0.5, -2, -2}
	data, err := patchbay.Wav(buffer, 48000, true)
	require.NoError(t, err)
	require.Len(t, data, 44+2*len(buffer))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(2*len(buffer)), binary.LittleEndian.Uint32(data[40:44]))
	// clipped to the int16 range
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(data[44+8:])))

	data, err = patchbay.Wav(buffer, 44100, false)
	require.NoError(t, err)
	require.Len(t, data, 58+4*len(buffer))
	assert.Equal(t, "fact", string(data[38:42]))
	assert.Equal(t, uint32(len(buffer)/2), binary.LittleEndian.Uint32(data[46:50]))
}

func TestModuleIDValidate(t *testing.T) {
	assert.NoError(t, patchbay.ModuleID("0e797054-synth").Validate())
	assert.ErrorIs(t, patchbay.ModuleID("").Validate(), patchbay.ErrInvalidModuleID)
	assert.ErrorIs(t, patchbay.ModuleID("a.b").Validate(), patchbay.ErrInvalidModuleID)

	_, err := patchbay.UnmarshalDescription([]byte("modules: [{type: synth}]"))
	assert.ErrorIs(t, err, patchbay.ErrInvalidModuleID)
	_, err = patchbay.UnmarshalDescription([]byte("modules: [{id: a.b, type: synth}]"))
	assert.ErrorIs(t, err, patchbay.ErrInvalidModuleID)
}

func TestCountType(t *testing.T) {
	p := patchbay.Patch{{Type: patchbay.VoiceType}, {Type: patchbay.SynthType}, {Type: patchbay.VoiceType}}
	assert.Equal(t, 2, p.CountType(patchbay.VoiceType))
	assert.Zero(t, p.CountType(patchbay.OutputType))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "number", patchbay.NumberKind.String())
	assert.Equal(t, "audioSignal", patchbay.AudioKind.String())
}
