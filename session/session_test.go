package session

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/websynth/patchbay"
)

func addr(id patchbay.ModuleID, port string) patchbay.Address {
	return patchbay.Address{Module: id, Port: port}
}

func mustAdd(t *testing.T, s *Session, spec ModuleSpec) patchbay.ModuleID {
	t.Helper()
	id, err := s.AddModule(spec)
	require.NoError(t, err)
	return id
}

func firstVoice(t *testing.T, s *Session) patchbay.ModuleID {
	t.Helper()
	for _, m := range s.Modules() {
		if m.Type == patchbay.VoiceType {
			return m.ID
		}
	}
	t.Fatal("session has no voice")
	return ""
}

func gated(t *testing.T, s *Session, id patchbay.ModuleID) []int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.noteTarget(id)
	require.True(t, ok)
	return inst.synth.Gated()
}

// sequence returns an id generator that hands out ids in order and then
// repeats the last one forever.
func sequence(ids ...string) func() patchbay.ModuleID {
	i := 0
	return func() patchbay.ModuleID {
		id := ids[min(i, len(ids)-1)]
		i++
		return patchbay.ModuleID(id)
	}
}

func assertSnapshotMatchesModules(t *testing.T, s *Session) {
	t.Helper()
	live := map[patchbay.ModuleID]bool{}
	for _, m := range s.Modules() {
		live[m.ID] = true
	}
	snap := s.Snapshot()
	for _, a := range snap.Addresses() {
		assert.True(t, live[a.Module], "snapshot holds %v of a module that is gone", a)
	}
	for id := range live {
		assert.True(t, snap.Contains(id), "snapshot lacks module %v", id)
	}
}

func TestNewSessionHasOneVoice(t *testing.T) {
	s := New()
	mods := s.Modules()
	require.Len(t, mods, 1)
	assert.Equal(t, patchbay.VoiceType, mods[0].Type)
	assert.Len(t, mods[0].Steps, patchbay.DefaultWidth)
	assert.Equal(t, uint64(1), s.Rebuilds())
	assert.Equal(t, []patchbay.Address{addr(mods[0].ID, "gain")}, s.Ports(mods[0].ID))
}

func TestSnapshotNeverHoldsRemovedModules(t *testing.T) {
	types := patchbay.ModuleTypeNames
	rnd := rand.New(rand.NewPCG(1, 2))
	s := New()
	for i := 0; i < 500; i++ {
		mods := s.Modules()
		if rnd.IntN(3) > 0 || len(mods) < 2 {
			typ := types[rnd.IntN(len(types))]
			spec := ModuleSpec{Type: typ}
			if typ == patchbay.EffectType {
				spec.Kind = patchbay.EffectTypeNames[rnd.IntN(len(patchbay.EffectTypeNames))]
			}
			mustAdd(t, s, spec)
		} else {
			m := mods[rnd.IntN(len(mods))]
			r := s.RemoveModule(m.ID)
			assert.NotEqual(t, NotFound, r)
			if r == Removed {
				_, ok := s.Port(m.ID, m.Ports()[0].Name)
				assert.False(t, ok)
			}
		}
		assertSnapshotMatchesModules(t, s)
		assert.Empty(t, s.Snapshot().Conflicts())
	}
}

func TestRemoveModuleClearsReferences(t *testing.T) {
	s := New()
	voice := firstVoice(t, s)
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	fx := mustAdd(t, s, ModuleSpec{Type: patchbay.EffectType, Kind: "gain"})
	out := mustAdd(t, s, ModuleSpec{Type: patchbay.OutputType})

	require.NoError(t, s.SetVoiceTarget(voice, synth, 64))
	require.NoError(t, s.Mark(voice, 0))
	s.Step(0)
	require.NoError(t, s.SetKeyboardTarget(synth))
	require.NoError(t, s.Bind(MIDIControl{Channel: 0, Control: 1}, MIDIParam{Module: synth, Param: "detune"}))
	require.NoError(t, s.BindNext(MIDIParam{Module: synth, Param: "gain"}))
	require.NoError(t, s.Connect(addr(fx, "input"), addr(synth, "output")))
	require.NoError(t, s.Connect(addr(out, "input_1"), addr(synth, "output")))

	assert.Equal(t, Removed, s.RemoveModule(synth))

	v, ok := s.Module(voice)
	require.True(t, ok)
	assert.Equal(t, patchbay.ModuleID(""), v.Target)
	f, _ := s.Module(fx)
	assert.True(t, f.Connections["input"].IsZero())
	o, _ := s.Module(out)
	assert.True(t, o.Connections["input_1"].IsZero())
	assert.Empty(t, s.Description().Keyboard.Target)
	assert.Empty(t, s.Bindings().List())
	s.mu.Lock()
	assert.Nil(t, s.binding)
	assert.Empty(t, s.held)
	s.mu.Unlock()
	assert.False(t, s.Snapshot().Contains(synth))
	for _, m := range s.Modules() {
		for port, src := range m.Connections {
			assert.NotEqual(t, synth, src.Module, "%v.%s still points at the removed module", m.ID, port)
		}
	}
}

func TestSetParameterDoesNotRebuild(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	before := s.Snapshot()
	rebuilds := s.Rebuilds()
	for i := 0; i < 100; i++ {
		require.NoError(t, s.SetParameter(synth, "filter_frequency", float64(100+i)))
	}
	assert.Equal(t, rebuilds, s.Rebuilds())
	assert.Same(t, before, s.Snapshot())

	desc, ok := s.Port(synth, "filter_frequency")
	require.True(t, ok)
	num, ok := desc.Endpoint.(patchbay.NumberParameter)
	require.True(t, ok)
	assert.Equal(t, 199.0, num.Param.Value())
}

func TestSetParameterClampsAndReportsMissing(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	require.NoError(t, s.SetParameter(synth, "detune", 10000))
	m, _ := s.Module(synth)
	assert.Equal(t, 300.0, m.Parameters["detune"])

	assert.ErrorIs(t, s.SetParameter(synth, "nope", 1), ErrParameterNotFound)
	assert.ErrorIs(t, s.SetParameter("ghost", "gain", 1), ErrModuleNotFound)
}

func TestRemoveLastVoiceIsRejected(t *testing.T) {
	s := New()
	voice := firstVoice(t, s)
	before := s.Modules()
	rebuilds := s.Rebuilds()

	assert.False(t, s.CanRemoveModule(voice))
	assert.Equal(t, Rejected, s.RemoveModule(voice))
	assert.Equal(t, before, s.Modules())
	assert.Equal(t, rebuilds, s.Rebuilds())

	second := mustAdd(t, s, ModuleSpec{Type: patchbay.VoiceType})
	assert.True(t, s.CanRemoveModule(voice))
	assert.Equal(t, Removed, s.RemoveModule(voice))
	assert.Equal(t, Rejected, s.RemoveModule(second))
	assert.Equal(t, NotFound, s.RemoveModule(voice))
}

func TestRemoveSourceNullsInput(t *testing.T) {
	s := New()
	a := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	b := mustAdd(t, s, ModuleSpec{Type: patchbay.EffectType, Kind: "delay"})
	require.NoError(t, s.Connect(addr(b, "input"), addr(a, "output")))
	bm, _ := s.Module(b)
	require.Equal(t, addr(a, "output"), bm.Connections["input"])

	require.Equal(t, Removed, s.RemoveModule(a))

	bm, _ = s.Module(b)
	assert.True(t, bm.Connections["input"].IsZero())
	assert.Empty(t, s.Ports(a))
	assert.Equal(t, []patchbay.Address{
		addr(b, "wetness"), addr(b, "time"), addr(b, "feedback"), addr(b, "input"), addr(b, "output"),
	}, s.Ports(b))

	desc, ok := s.Port(b, "input")
	require.True(t, ok)
	in, ok := desc.Endpoint.(patchbay.AudioSignal)
	require.True(t, ok)
	s.mu.Lock()
	assert.Nil(t, s.modules[len(s.modules)-1].inst.(*effectInstance).node.In.Source())
	s.mu.Unlock()
	assert.Equal(t, patchbay.AudioKind, in.Kind())
}

func TestReAddGetsFreshID(t *testing.T) {
	s := New()
	a := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	b := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	c := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	require.Equal(t, Removed, s.RemoveModule(b))
	d := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	assert.NotContains(t, []patchbay.ModuleID{a, b, c}, d)
}

func TestIDGeneratorCollisionsAreSkipped(t *testing.T) {
	s := New(WithIDGenerator(sequence("v", "a", "b", "c", "b", "a", "d")))
	assert.Equal(t, patchbay.ModuleID("v"), firstVoice(t, s))
	mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	b := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	require.Equal(t, patchbay.ModuleID("b"), b)
	require.Equal(t, Removed, s.RemoveModule(b))

	d := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	assert.Equal(t, patchbay.ModuleID("d"), d)

	_, err := s.AddModule(ModuleSpec{Type: patchbay.SynthType})
	assert.ErrorIs(t, err, ErrIDExhausted)
	assert.Len(t, s.Modules(), 4)
}

func TestAddModuleValidates(t *testing.T) {
	s := New()
	rebuilds := s.Rebuilds()
	_, err := s.AddModule(ModuleSpec{Type: "theremin"})
	assert.ErrorIs(t, err, patchbay.ErrUnknownModuleType)
	_, err = s.AddModule(ModuleSpec{Type: patchbay.EffectType, Kind: "flanger"})
	assert.ErrorIs(t, err, patchbay.ErrUnknownEffectType)
	_, err = s.AddModule(ModuleSpec{Type: patchbay.SynthType, Parameters: map[string]float64{"volume": 1}})
	assert.ErrorIs(t, err, patchbay.ErrUnknownParameter)
	assert.Equal(t, rebuilds, s.Rebuilds())
	assert.Len(t, s.Modules(), 1)
}

func duplicateDescription() patchbay.Description {
	return patchbay.Description{
		Modules: patchbay.Patch{
			{ID: "v", Type: patchbay.VoiceType},
			{ID: "dup", Type: patchbay.SynthType, Parameters: map[string]float64{"gain": 0.5}},
			{ID: "dup", Type: patchbay.SynthType, Parameters: map[string]float64{"gain": 0.25}},
		},
		Sequencer: patchbay.DefaultSequencer(),
	}
}

func TestLoadDuplicateAddressesLastWins(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(WithMetrics(NewMetrics(reg)))
	require.NoError(t, s.Load(duplicateDescription()))

	snap := s.Snapshot()
	assert.NotEmpty(t, snap.Conflicts())
	assert.Equal(t, 1, countAddresses(snap.Addresses(), addr("dup", "gain")))
	m, ok := s.Module("dup")
	require.True(t, ok)
	assert.Equal(t, 0.25, m.Parameters["gain"])
	desc, _ := s.Port("dup", "gain")
	assert.Equal(t, 0.25, desc.Endpoint.(patchbay.NumberParameter).Param.Value())
	assert.Equal(t, float64(len(snap.Conflicts())), counterValue(t, reg, "patchbay_snapshot_address_conflicts_total"))

	// removing the winner uncovers the shadowed module
	assert.Equal(t, Removed, s.RemoveModule("dup"))
	m, ok = s.Module("dup")
	require.True(t, ok)
	assert.Equal(t, 0.5, m.Parameters["gain"])
	assert.Empty(t, s.Snapshot().Conflicts())
}

func TestStrictLoadRejectsDuplicateAddresses(t *testing.T) {
	s := New(WithStrictAddresses())
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	before := s.Modules()
	snap := s.Snapshot()

	err := s.Load(duplicateDescription())
	assert.ErrorIs(t, err, ErrAddressConflict)
	assert.Equal(t, before, s.Modules())
	assert.Same(t, snap, s.Snapshot())
	_, ok := s.Port(synth, "output")
	assert.True(t, ok)
}

func TestLoadDropsDanglingReferences(t *testing.T) {
	s := New()
	d := patchbay.Description{
		Modules: patchbay.Patch{
			{ID: "v", Type: patchbay.VoiceType, Target: "gone", Steps: []bool{true}},
			{ID: "fx", Type: patchbay.EffectType, Kind: "gain", Connections: map[string]patchbay.Address{"input": addr("gone", "output")}},
		},
		Keyboard: patchbay.KeyboardSettings{Target: "gone"},
		Bindings: []patchbay.MIDIBinding{{Channel: 0, Control: 7, Module: "gone", Param: "gain"}},
	}
	require.NoError(t, s.Load(d))
	v, _ := s.Module("v")
	assert.Empty(t, v.Target)
	assert.Len(t, v.Steps, patchbay.DefaultWidth)
	assert.True(t, v.Steps[0])
	fx, _ := s.Module("fx")
	assert.True(t, fx.Connections["input"].IsZero())
	assert.Empty(t, s.Description().Keyboard.Target)
	assert.Empty(t, s.Bindings().List())
}

func TestLoadAddsMissingVoice(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(patchbay.Description{Modules: patchbay.Patch{{ID: "s", Type: patchbay.SynthType}}}))
	mods := s.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, patchbay.VoiceType, mods[1].Type)
	assert.NotEqual(t, patchbay.ModuleID("s"), mods[1].ID)
}

func TestDescriptionRoundTrip(t *testing.T) {
	s := New()
	voice := firstVoice(t, s)
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType, Name: "lead"})
	_, err := s.AddEffect(synth, "delay")
	require.NoError(t, err)
	out := mustAdd(t, s, ModuleSpec{Type: patchbay.OutputType})
	require.NoError(t, s.Connect(addr(out, "input_1"), addr(synth, "output")))
	require.NoError(t, s.SetVoiceTarget(voice, synth, 48))
	require.NoError(t, s.Bind(MIDIControl{Channel: 1, Control: 74}, MIDIParam{Module: synth, Param: "effect_0_time"}))
	s.SetBPM(120)

	data, err := s.Description().Marshal()
	require.NoError(t, err)
	d, err := patchbay.UnmarshalDescription(data)
	require.NoError(t, err)

	other := New()
	require.NoError(t, other.Load(d))
	assert.Equal(t, s.Description(), other.Description())
	assert.Equal(t, s.Snapshot().Addresses(), other.Snapshot().Addresses())
}

func TestConnectRejectsCycles(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	e1 := mustAdd(t, s, ModuleSpec{Type: patchbay.EffectType, Kind: "gain"})
	e2 := mustAdd(t, s, ModuleSpec{Type: patchbay.EffectType, Kind: "gain"})
	rebuilds := s.Rebuilds()

	require.NoError(t, s.Connect(addr(e1, "input"), addr(synth, "output")))
	require.NoError(t, s.Connect(addr(e2, "input"), addr(e1, "output")))
	assert.ErrorIs(t, s.Connect(addr(e1, "input"), addr(e2, "output")), ErrCycle)
	assert.ErrorIs(t, s.Connect(addr(synth, "detune"), addr(e2, "output")), ErrCycle)
	assert.ErrorIs(t, s.Connect(addr(e1, "gain"), addr(e1, "output")), ErrCycle)
	assert.Equal(t, rebuilds, s.Rebuilds())

	m, _ := s.Module(e1)
	assert.Equal(t, addr(synth, "output"), m.Connections["input"])
}

func TestConnectChecksPorts(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	e1 := mustAdd(t, s, ModuleSpec{Type: patchbay.EffectType, Kind: "gain"})
	e2 := mustAdd(t, s, ModuleSpec{Type: patchbay.EffectType, Kind: "gain"})

	assert.ErrorIs(t, s.Connect(addr(e1, "input"), addr(e2, "input")), ErrIncompatible)
	assert.ErrorIs(t, s.Connect(addr(e1, "output"), addr(synth, "output")), ErrPortNotFound)
	assert.ErrorIs(t, s.Connect(addr(e1, "nope"), addr(synth, "output")), ErrPortNotFound)
	assert.ErrorIs(t, s.Connect(addr("ghost", "input"), addr(synth, "output")), ErrModuleNotFound)
	assert.ErrorIs(t, s.Disconnect(addr(e1, "output")), ErrPortNotFound)
}

func TestConnectModulatesNumberPorts(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	lfo := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	require.NoError(t, s.Connect(addr(synth, "filter_frequency"), addr(lfo, "output")))

	desc, _ := s.Port(synth, "filter_frequency")
	param := desc.Endpoint.(patchbay.NumberParameter).Param
	assert.Equal(t, 1, param.Modulators())

	require.NoError(t, s.Disconnect(addr(synth, "filter_frequency")))
	assert.Equal(t, 0, param.Modulators())
	m, _ := s.Module(synth)
	assert.True(t, m.Connections["filter_frequency"].IsZero())
}

func TestRemoveEffectRenamesPorts(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	src := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	i, err := s.AddEffect(synth, "delay")
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	i, err = s.AddEffect(synth, "gain")
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	_, ok := s.Port(synth, "effect_1_gain")
	require.True(t, ok)

	require.NoError(t, s.Connect(addr(synth, "effect_1_gain"), addr(src, "output")))
	require.NoError(t, s.Connect(addr(synth, "effect_0_time"), addr(src, "output")))
	require.NoError(t, s.Bind(MIDIControl{Control: 1}, MIDIParam{Module: synth, Param: "effect_0_time"}))
	require.NoError(t, s.Bind(MIDIControl{Control: 2}, MIDIParam{Module: synth, Param: "effect_1_gain"}))
	rebuilds := s.Rebuilds()

	require.NoError(t, s.RemoveEffect(synth, 0))
	assert.Equal(t, rebuilds+1, s.Rebuilds())

	m, _ := s.Module(synth)
	require.Len(t, m.Effects, 1)
	assert.Equal(t, "gain", m.Effects[0].Type)
	assert.Equal(t, map[string]patchbay.Address{"effect_0_gain": addr(src, "output")}, m.Connections)
	assert.Equal(t, []patchbay.MIDIBinding{{Channel: 0, Control: 2, Module: synth, Param: "effect_0_gain"}}, s.Bindings().List())
	_, ok = s.Port(synth, "effect_1_gain")
	assert.False(t, ok)
	desc, ok := s.Port(synth, "effect_0_gain")
	require.True(t, ok)
	assert.Equal(t, 1, desc.Endpoint.(patchbay.NumberParameter).Param.Modulators())

	assert.ErrorIs(t, s.RemoveEffect(synth, 3), ErrOutOfRange)
	voice := firstVoice(t, s)
	_, err = s.AddEffect(voice, "gain")
	assert.ErrorIs(t, err, ErrWrongModuleType)
}

func TestEffectParameters(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	_, err := s.AddEffect(synth, "bitcrusher")
	require.NoError(t, err)
	require.NoError(t, s.SetParameter(synth, "effect_0_bits", 4))
	require.NoError(t, s.SetParameter(synth, "effect_0_wetness", 0.5))
	require.NoError(t, s.SetParameter(synth, "effect_0_bypass", 1))
	m, _ := s.Module(synth)
	assert.Equal(t, 4.0, m.Effects[0].Parameters["bits"])
	assert.Equal(t, 0.5, m.Effects[0].Wetness)
	assert.True(t, m.Effects[0].Bypass)
	assert.ErrorIs(t, s.SetParameter(synth, "effect_1_bits", 4), ErrParameterNotFound)
}

func TestSequencerStep(t *testing.T) {
	s := New()
	voice := firstVoice(t, s)
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	fx := mustAdd(t, s, ModuleSpec{Type: patchbay.EffectType, Kind: "gain"})

	assert.ErrorIs(t, s.SetVoiceTarget(voice, fx, 60), ErrWrongModuleType)
	assert.ErrorIs(t, s.SetVoiceTarget(synth, synth, 60), ErrWrongModuleType)
	require.NoError(t, s.SetVoiceTarget(voice, synth, 64))
	require.NoError(t, s.Mark(voice, 0))
	require.NoError(t, s.Mark(voice, 2))
	assert.ErrorIs(t, s.Mark(voice, patchbay.DefaultWidth), ErrOutOfRange)

	s.Step(0)
	assert.Equal(t, []int{64}, gated(t, s, synth))
	s.Step(1)
	assert.Empty(t, gated(t, s, synth))
	s.Step(2)
	assert.Equal(t, []int{64}, gated(t, s, synth))
	require.NoError(t, s.Unmark(voice, 2))
	s.Step(2)
	assert.Empty(t, gated(t, s, synth))
}

func TestSetWidthKeepsMarks(t *testing.T) {
	s := New()
	voice := firstVoice(t, s)
	require.NoError(t, s.Mark(voice, 3))
	require.NoError(t, s.Mark(voice, 10))
	require.NoError(t, s.SetWidth(8))
	v, _ := s.Module(voice)
	assert.Len(t, v.Steps, 8)
	assert.True(t, v.Steps[3])
	require.NoError(t, s.SetWidth(32))
	v, _ = s.Module(voice)
	assert.Len(t, v.Steps, 32)
	assert.False(t, v.Steps[10])
	assert.ErrorIs(t, s.SetWidth(0), ErrOutOfRange)

	added := mustAdd(t, s, ModuleSpec{Type: patchbay.VoiceType})
	a, _ := s.Module(added)
	assert.Len(t, a.Steps, 32)

	s.SetBPM(5000)
	assert.Equal(t, float64(patchbay.MaxBPM), s.Sequencer().BPM)
	assert.Error(t, s.SetScheme("wobbly"))
	require.NoError(t, s.SetScheme(patchbay.Swung))
	assert.Equal(t, patchbay.Swung, s.Sequencer().Scheme)
}

func TestKeyboard(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	assert.False(t, s.KeyDown("z", false, false))

	require.NoError(t, s.SetKeyboardTarget(synth))
	assert.True(t, s.KeyDown("z", false, false))
	assert.False(t, s.KeyDown("z", true, false))
	assert.False(t, s.KeyDown("x", false, true))
	assert.False(t, s.KeyDown("q", false, false))
	s.SetOctave(1)
	assert.True(t, s.KeyDown("X", false, false))
	assert.ElementsMatch(t, []int{33, 47}, gated(t, s, synth))

	s.KeyUp("Z")
	assert.Equal(t, []int{47}, gated(t, s, synth))
	require.NoError(t, s.SetKeyboardTarget(""))
	assert.Empty(t, gated(t, s, synth))

	s.SetOctave(100)
	assert.Equal(t, maxOctave, s.Description().Keyboard.Octave)
}

func TestHandleMIDI(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	require.NoError(t, s.SetKeyboardTarget(synth))

	s.HandleMIDI(midi.NoteOn(0, 60, 127))
	s.HandleMIDI(midi.NoteOn(0, 64, 100))
	assert.ElementsMatch(t, []int{60, 64}, gated(t, s, synth))
	s.HandleMIDI(midi.NoteOff(0, 60))
	s.HandleMIDI(midi.NoteOn(0, 64, 0))
	assert.Empty(t, gated(t, s, synth))

	require.NoError(t, s.BindNext(MIDIParam{Module: synth, Param: "filter_frequency"}))
	s.HandleMIDI(midi.ControlChange(2, 74, 127))
	m, _ := s.Module(synth)
	assert.Equal(t, 20000.0, m.Parameters["filter_frequency"])
	c, ok := s.Bindings().GetControl(MIDIParam{Module: synth, Param: "filter_frequency"})
	require.True(t, ok)
	assert.Equal(t, MIDIControl{Channel: 2, Control: 74}, c)

	s.HandleMIDI(midi.ControlChange(2, 74, 0))
	m, _ = s.Module(synth)
	assert.Equal(t, 10.0, m.Parameters["filter_frequency"])

	// unbound controllers are ignored
	s.HandleMIDI(midi.ControlChange(2, 75, 64))
	s.HandleMIDI(midi.Pitchbend(0, 8191))
	assert.ErrorIs(t, s.BindNext(MIDIParam{Module: synth, Param: "nope"}), ErrParameterNotFound)
}

func TestMIDIBindingsAreOneToOne(t *testing.T) {
	var b MIDIBindings
	p1 := MIDIParam{Module: "a", Param: "gain"}
	p2 := MIDIParam{Module: "b", Param: "gain"}
	c1 := MIDIControl{Channel: 0, Control: 1}
	c2 := MIDIControl{Channel: 0, Control: 2}
	b.Link(c1, p1)
	b.Link(c1, p2)
	_, ok := b.GetControl(p1)
	assert.False(t, ok)
	b.Link(c2, p2)
	_, ok = b.GetParam(c1)
	assert.False(t, ok)
	assert.Len(t, b.List(), 1)

	copied := b.Copy()
	copied.UnlinkModule("b")
	assert.Empty(t, copied.List())
	assert.Len(t, b.List(), 1)
}

func TestLoadDropsPendingBinding(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	require.NoError(t, s.BindNext(MIDIParam{Module: synth, Param: "detune"}))
	require.NoError(t, s.Load(patchbay.Description{}))

	s.HandleMIDI(midi.ControlChange(0, 7, 64))
	_, ok := s.Module(synth)
	assert.False(t, ok)
	assert.Empty(t, s.Bindings().List())
	assert.Empty(t, s.Description().Bindings)
}

func TestLoadKeepsPendingBindingOfLoadedModule(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(patchbay.Description{Modules: patchbay.Patch{{ID: "s", Type: patchbay.SynthType}}}))
	require.NoError(t, s.BindNext(MIDIParam{Module: "s", Param: "detune"}))
	require.NoError(t, s.Load(s.Description()))

	s.HandleMIDI(midi.ControlChange(0, 7, 64))
	assert.Equal(t, []patchbay.MIDIBinding{{Channel: 0, Control: 7, Module: "s", Param: "detune"}}, s.Bindings().List())
}

func TestLoadRejectsInvalidIDs(t *testing.T) {
	for _, id := range []patchbay.ModuleID{"", "a.b"} {
		s := New()
		before := s.Modules()
		err := s.Load(patchbay.Description{Modules: patchbay.Patch{{ID: id, Type: patchbay.SynthType}}})
		assert.ErrorIs(t, err, patchbay.ErrInvalidModuleID, "id %q", id)
		assert.Equal(t, before, s.Modules())
	}
}

func TestIDGeneratorInvalidIDsAreSkipped(t *testing.T) {
	s := New(WithIDGenerator(sequence("v", "a.b", "", "w")))
	id, err := s.AddModule(ModuleSpec{Type: patchbay.SynthType})
	require.NoError(t, err)
	assert.Equal(t, patchbay.ModuleID("w"), id)
}

func TestRenderSumsOutputs(t *testing.T) {
	s := New(WithSampleRate(48000))
	buf := make([]float64, 256)
	s.Render(buf)
	assert.Equal(t, make([]float64, 256), buf)

	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	out := mustAdd(t, s, ModuleSpec{Type: patchbay.OutputType})
	require.NoError(t, s.Connect(addr(out, "input_1"), addr(synth, "output")))
	require.NoError(t, s.SetKeyboardTarget(synth))
	require.True(t, s.KeyDown("m", false, false))

	s.Render(buf)
	peak := 0.0
	for _, v := range buf {
		peak = math.Max(peak, math.Abs(v))
	}
	assert.Greater(t, peak, 0.0)

	require.Equal(t, Removed, s.RemoveModule(synth))
	s.Render(buf)
	assert.Equal(t, make([]float64, 256), buf)
	assert.Equal(t, 48000, s.SampleRate())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(WithMetrics(NewMetrics(reg)))
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	require.NoError(t, s.SetParameter(synth, "gain", 0.2))
	s.RemoveModule(firstVoice(t, s))
	s.RemoveModule(synth)
	s.RemoveModule(synth)

	assert.Equal(t, 3.0, counterValue(t, reg, "patchbay_snapshot_rebuilds_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "patchbay_parameter_sets_total"))
	assert.Equal(t, 3.0, counterValue(t, reg, "patchbay_module_removals_total"))
	assert.Equal(t, 2.0, counterValue(t, reg, "patchbay_modules_added_total"))
}

func TestCloseEmptiesSession(t *testing.T) {
	s := New()
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	s.Close()
	assert.Empty(t, s.Modules())
	assert.Zero(t, s.Snapshot().Len())
	_, ok := s.Port(synth, "output")
	assert.False(t, ok)
}

func countAddresses(all []patchbay.Address, a patchbay.Address) int {
	n := 0
	for _, x := range all {
		if x == a {
			n++
		}
	}
	return n
}

// counterValue sums every series of the named counter.
func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		sum := 0.0
		for _, m := range f.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	require.Fail(t, fmt.Sprintf("no metric %s", name))
	return 0
}
