package session

import (
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2"

	"github.com/websynth/patchbay"
)

// pitchBendRange is the bend in semitones at full pitch wheel deflection.
const pitchBendRange = 2

type (
	// Two-way map between MIDI controls and parameters that makes sure only one control channel is linked to only one parameter and vice versa.
	MIDIBindings struct {
		ControlBindings map[MIDIControl]MIDIParam
		ParamBindings   map[MIDIParam]MIDIControl
	}

	MIDIParam struct {
		Module patchbay.ModuleID
		Param  string
	}

	MIDIControl struct{ Channel, Control int }
)

func controlLess(a, b MIDIControl) bool {
	if a.Channel != b.Channel {
		return a.Channel < b.Channel
	}
	return a.Control < b.Control
}

func (t MIDIBindings) GetParam(m MIDIControl) (MIDIParam, bool) {
	p, ok := t.ControlBindings[m]
	return p, ok
}

func (t MIDIBindings) GetControl(p MIDIParam) (MIDIControl, bool) {
	c, ok := t.ParamBindings[p]
	return c, ok
}

func (t *MIDIBindings) Link(m MIDIControl, p MIDIParam) {
	if t.ControlBindings == nil {
		t.ControlBindings = make(map[MIDIControl]MIDIParam)
	}
	if t.ParamBindings == nil {
		t.ParamBindings = make(map[MIDIParam]MIDIControl)
	}
	if p, ok := t.ControlBindings[m]; ok {
		delete(t.ParamBindings, p)
	}
	if m, ok := t.ParamBindings[p]; ok {
		delete(t.ControlBindings, m)
	}
	t.ControlBindings[m] = p
	t.ParamBindings[p] = m
}

func (t *MIDIBindings) UnlinkParam(p MIDIParam) {
	if c, ok := t.ParamBindings[p]; ok {
		delete(t.ParamBindings, p)
		delete(t.ControlBindings, c)
	}
}

// UnlinkModule removes every binding to a parameter of the module.
func (t *MIDIBindings) UnlinkModule(id patchbay.ModuleID) {
	for p, c := range t.ParamBindings {
		if p.Module == id {
			delete(t.ParamBindings, p)
			delete(t.ControlBindings, c)
		}
	}
}

// RenameParams rewrites the parameter names bound on a module. rename
// returns the new name, or false to drop the binding.
func (t *MIDIBindings) RenameParams(id patchbay.ModuleID, rename func(string) (string, bool)) {
	for p, c := range t.ParamBindings {
		if p.Module != id {
			continue
		}
		newName, keep := rename(p.Param)
		if keep && newName == p.Param {
			continue
		}
		delete(t.ParamBindings, p)
		delete(t.ControlBindings, c)
		if keep {
			defer t.Link(c, MIDIParam{Module: id, Param: newName})
		}
	}
}

// Params returns every bound parameter.
func (t MIDIBindings) Params() []MIDIParam {
	ret := make([]MIDIParam, 0, len(t.ParamBindings))
	for p := range t.ParamBindings {
		ret = append(ret, p)
	}
	return ret
}

// List returns the bindings in control order.
func (t MIDIBindings) List() []patchbay.MIDIBinding {
	var ret []patchbay.MIDIBinding
	for c, p := range t.ControlBindings {
		ret = append(ret, patchbay.MIDIBinding{Channel: c.Channel, Control: c.Control, Module: p.Module, Param: p.Param})
	}
	sort.Slice(ret, func(i, j int) bool {
		return controlLess(MIDIControl{ret[i].Channel, ret[i].Control}, MIDIControl{ret[j].Channel, ret[j].Control})
	})
	return ret
}

func (t MIDIBindings) Copy() MIDIBindings {
	ret := MIDIBindings{
		ControlBindings: make(map[MIDIControl]MIDIParam, len(t.ControlBindings)),
		ParamBindings:   make(map[MIDIParam]MIDIControl, len(t.ParamBindings)),
	}
	for k, v := range t.ControlBindings {
		ret.ControlBindings[k] = v
	}
	for k, v := range t.ParamBindings {
		ret.ParamBindings[k] = v
	}
	return ret
}

// Bindings returns a copy of the MIDI controller bindings.
func (s *Session) Bindings() MIDIBindings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings.Copy()
}

// Bind links a MIDI control change directly to a module parameter.
func (s *Session) Bind(c MIDIControl, p MIDIParam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkParam(p); err != nil {
		return fmt.Errorf("Bind: %w", err)
	}
	s.bindings.Link(c, p)
	return nil
}

// BindNext arms binding: the next control change received by HandleMIDI is
// linked to the parameter.
func (s *Session) BindNext(p MIDIParam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkParam(p); err != nil {
		return fmt.Errorf("BindNext: %w", err)
	}
	s.binding = &p
	return nil
}

// Unbind removes the binding of a parameter.
func (s *Session) Unbind(p MIDIParam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings.UnlinkParam(p)
}

func (s *Session) checkParam(p MIDIParam) error {
	i, ok := s.find(p.Module)
	if !ok {
		return fmt.Errorf("%v: %w", p.Module, ErrModuleNotFound)
	}
	if _, ok := s.modules[i].module.Parameter(p.Param); !ok {
		return fmt.Errorf("%v.%s: %w", p.Module, p.Param, ErrParameterNotFound)
	}
	return nil
}

// HandleMIDI routes one MIDI message: notes play on the keyboard target,
// control changes drive bound parameters and the pitch wheel bends the
// keyboard target.
func (s *Session) HandleMIDI(msg midi.Message) {
	var channel, key, velocity, control, value uint8
	var relative int16
	var absolute uint16
	switch {
	case msg.GetNoteStart(&channel, &key, &velocity):
		s.noteOn(int(key), float64(velocity)/127)
	case msg.GetNoteEnd(&channel, &key):
		s.noteOff(int(key))
	case msg.GetControlChange(&channel, &control, &value):
		s.handleControlEvent(MIDIControl{Channel: int(channel), Control: int(control)}, int(value))
	case msg.GetPitchBend(&channel, &relative, &absolute):
		s.pitchBend(float64(relative) / 8192 * pitchBendRange)
	}
}

func (s *Session) noteOn(note int, velocity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target, ok := s.noteTarget(s.keyboard.target); ok {
		target.synth.Gate(note, velocity)
	}
}

func (s *Session) noteOff(note int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target, ok := s.noteTarget(s.keyboard.target); ok {
		target.synth.Ungate(note)
	}
}

func (s *Session) pitchBend(semitones float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target, ok := s.noteTarget(s.keyboard.target); ok {
		target.synth.SetBend(semitones)
	}
}

func (s *Session) handleControlEvent(key MIDIControl, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding != nil {
		p := *s.binding
		s.binding = nil
		s.bindings.Link(key, p)
		s.logger.Info("bound MIDI controller", "channel", key.Channel+1, "control", key.Control, "module", p.Module, "param", p.Param)
	}
	t, ok := s.bindings.GetParam(key)
	if !ok {
		return
	}
	i, ok := s.find(t.Module)
	if !ok {
		return
	}
	doc, ok := s.modules[i].module.Parameter(t.Param)
	if !ok {
		return
	}
	newVal := doc.MinValue + float64(value)*(doc.MaxValue-doc.MinValue)/127
	if _, err := s.setParameter(t.Module, t.Param, newVal); err != nil {
		s.logger.Warn("MIDI control change failed", "module", t.Module, "param", t.Param, "error", err)
	}
}
