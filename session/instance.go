package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/websynth/patchbay"
	"github.com/websynth/patchbay/engine"
)

// instance is the live engine side of a module. Each module of the session
// owns exactly one.
type instance interface {
	// endpoint returns the live resource behind the named port.
	endpoint(port string) (patchbay.Endpoint, bool)
	// set applies an already clamped parameter value.
	set(name string, v float64)
	close()
}

// instanceFactories maps module types to the constructors of their
// instances. The module passed in has its defaults filled.
var instanceFactories = map[string]func(m *patchbay.Module, cfg engineConfig) (instance, error){
	patchbay.SynthType:  newSynthInstance,
	patchbay.EffectType: newEffectInstance,
	patchbay.VoiceType:  newVoiceInstance,
	patchbay.OutputType: newOutputInstance,
}

type engineConfig struct {
	sampleRate float64
	polyphony  int
}

func newInstance(m *patchbay.Module, cfg engineConfig) (instance, error) {
	f, ok := instanceFactories[m.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", patchbay.ErrUnknownModuleType, m.Type)
	}
	return f(m, cfg)
}

// paramsFor creates one live parameter per modulatable parameter in docs,
// initialized from values.
func paramsFor(docs []patchbay.ModuleParameter, values map[string]float64) map[string]*engine.Param {
	ret := make(map[string]*engine.Param)
	for _, d := range docs {
		if !d.CanModulate {
			continue
		}
		v, ok := values[d.Name]
		if !ok {
			v = d.Default
		}
		ret[d.Name] = engine.NewParam(v, d.MinValue, d.MaxValue)
	}
	return ret
}

func numberEndpoint(params map[string]*engine.Param, name string) (patchbay.Endpoint, bool) {
	p, ok := params[name]
	if !ok {
		return nil, false
	}
	return patchbay.NumberParameter{Param: p}, true
}

type synthInstance struct {
	synth   *engine.Synth
	params  map[string]*engine.Param
	effects []effectSlot
	cfg     engineConfig
}

type effectSlot struct {
	effect *engine.Effect
	params map[string]*engine.Param
}

func newSynthInstance(m *patchbay.Module, cfg engineConfig) (instance, error) {
	params := paramsFor(m.ParameterDocs(), m.Parameters)
	s := &synthInstance{
		params: params,
		cfg:    cfg,
		synth: engine.NewSynth(cfg.sampleRate, cfg.polyphony, engine.SynthParams{
			Detune:          params["detune"],
			FilterFrequency: params["filter_frequency"],
			FilterQ:         params["filter_q"],
			FilterDetune:    params["filter_detune"],
			Gain:            params["gain"],
		}),
	}
	for _, name := range []string{"waveform", "unison", "filter_type"} {
		s.set(name, m.Parameters[name])
	}
	for _, e := range m.Effects {
		if err := s.addEffect(e); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

func (s *synthInstance) addEffect(e patchbay.Effect) error {
	wetDoc, _ := patchbay.EffectParameter(e.Type, "wetness")
	wetness := engine.NewParam(e.Wetness, wetDoc.MinValue, wetDoc.MaxValue)
	params := paramsFor(patchbay.EffectTypes[e.Type], e.Parameters)
	eff, err := engine.NewEffect(e.Type, s.cfg.sampleRate, wetness, params)
	if err != nil {
		return err
	}
	eff.SetBypass(e.Bypass)
	s.synth.Chain().Append(eff)
	s.effects = append(s.effects, effectSlot{effect: eff, params: params})
	return nil
}

func (s *synthInstance) removeEffect(i int) {
	s.synth.Chain().Remove(i)
	s.effects = append(s.effects[:i], s.effects[i+1:]...)
}

func (s *synthInstance) endpoint(port string) (patchbay.Endpoint, bool) {
	if port == "output" {
		return patchbay.AudioSignal{Node: s.synth}, true
	}
	if i, param, ok := patchbay.ParseEffectPort(port); ok {
		if i >= len(s.effects) {
			return nil, false
		}
		if param == "wetness" {
			return patchbay.NumberParameter{Param: s.effects[i].effect.Wetness}, true
		}
		return numberEndpoint(s.effects[i].params, param)
	}
	return numberEndpoint(s.params, port)
}

func (s *synthInstance) set(name string, v float64) {
	switch name {
	case "waveform":
		s.synth.SetWaveform(engine.Waveform(int(v)))
		return
	case "unison":
		s.synth.SetUnison(int(v))
		return
	case "filter_type":
		s.synth.SetFilterType(engine.FilterType(int(v)))
		return
	}
	if i, param, ok := patchbay.ParseEffectPort(name); ok && i < len(s.effects) {
		slot := s.effects[i]
		switch param {
		case "bypass":
			slot.effect.SetBypass(v >= 0.5)
		case "wetness":
			slot.effect.Wetness.Set(v)
		default:
			if p, ok := slot.params[param]; ok {
				p.Set(v)
			}
		}
		return
	}
	if p, ok := s.params[name]; ok {
		p.Set(v)
	}
}

func (s *synthInstance) close() {
	s.synth.Close()
	s.effects = nil
}

type effectInstance struct {
	node   *engine.EffectNode
	params map[string]*engine.Param
}

func newEffectInstance(m *patchbay.Module, cfg engineConfig) (instance, error) {
	params := paramsFor(m.ParameterDocs(), m.Parameters)
	wetness := params["wetness"]
	delete(params, "wetness")
	eff, err := engine.NewEffect(m.Kind, cfg.sampleRate, wetness, params)
	if err != nil {
		return nil, err
	}
	eff.SetBypass(m.Parameters["bypass"] >= 0.5)
	return &effectInstance{node: engine.NewEffectNode(eff), params: params}, nil
}

func (e *effectInstance) endpoint(port string) (patchbay.Endpoint, bool) {
	switch port {
	case "input":
		return patchbay.AudioSignal{Node: &e.node.In}, true
	case "output":
		return patchbay.AudioSignal{Node: e.node}, true
	case "wetness":
		return patchbay.NumberParameter{Param: e.node.Wetness}, true
	}
	return numberEndpoint(e.params, port)
}

func (e *effectInstance) set(name string, v float64) {
	switch name {
	case "bypass":
		e.node.SetBypass(v >= 0.5)
	case "wetness":
		e.node.Wetness.Set(v)
	default:
		if p, ok := e.params[name]; ok {
			p.Set(v)
		}
	}
}

func (e *effectInstance) close() {
	e.node.In.Disconnect()
}

type voiceInstance struct {
	gain *engine.Param
}

func newVoiceInstance(m *patchbay.Module, _ engineConfig) (instance, error) {
	doc, _ := patchbay.ModuleTypes[patchbay.VoiceType].Parameter("gain")
	return &voiceInstance{gain: engine.NewParam(m.Parameters["gain"], doc.MinValue, doc.MaxValue)}, nil
}

func (v *voiceInstance) endpoint(port string) (patchbay.Endpoint, bool) {
	if port == "gain" {
		return patchbay.NumberParameter{Param: v.gain}, true
	}
	return nil, false
}

func (v *voiceInstance) set(name string, val float64) {
	if name == "gain" {
		v.gain.Set(val)
	}
}

func (v *voiceInstance) close() {}

type outputInstance struct {
	out *engine.Output
}

func newOutputInstance(m *patchbay.Module, _ engineConfig) (instance, error) {
	doc, _ := patchbay.ModuleTypes[patchbay.OutputType].Parameter("gain")
	gain := engine.NewParam(m.Parameters["gain"], doc.MinValue, doc.MaxValue)
	n := len(patchbay.ModuleTypes[patchbay.OutputType].AudioInputs)
	return &outputInstance{out: engine.NewOutput(gain, n)}, nil
}

func (o *outputInstance) endpoint(port string) (patchbay.Endpoint, bool) {
	if port == "gain" {
		return patchbay.NumberParameter{Param: o.out.Gain}, true
	}
	num, ok := strings.CutPrefix(port, "input_")
	if !ok {
		return nil, false
	}
	i, err := strconv.Atoi(num)
	if err != nil || i < 1 || i > o.out.NumInputs() {
		return nil, false
	}
	return patchbay.AudioSignal{Node: o.out.Input(i - 1)}, true
}

func (o *outputInstance) set(name string, v float64) {
	if name == "gain" {
		o.out.Gain.Set(v)
	}
}

func (o *outputInstance) close() {
	o.out.Close()
}
