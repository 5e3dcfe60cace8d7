package patchbay

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

type (
	// ModuleID identifies a module for the lifetime of the process. IDs are
	// never reused, even after the module has been removed.
	ModuleID string

	// Module is e.g. a synth, an effect or a sequencer voice and its
	// parameters.
	Module struct {
		// ID is assigned by the session when the module is added. An empty ID
		// means the module has not been added to any session yet.
		ID ModuleID `yaml:",omitempty" json:"id,omitempty"`

		// Type is the type of the module, e.g. "synth" or "voice". Always one
		// of the keys of ModuleTypes.
		Type string `json:"type"`

		// Kind is the processor of an effect module, one of the keys of
		// EffectTypes. Empty for other module types.
		Kind string `yaml:",omitempty" json:"kind,omitempty"`

		Name string `yaml:",omitempty" json:"name,omitempty"`

		// Parameters is a map[string]float64 of parameters of a module. For
		// example, for a synth, Parameters["filter_frequency"] could be 4400.
		Parameters map[string]float64 `yaml:",flow,omitempty" json:"parameters,omitempty"`

		// Effects is the effect chain of a synth module, in processing order.
		Effects []Effect `yaml:",omitempty" json:"effects,omitempty"`

		// Connections maps the name of an input port of this module to the
		// output port feeding it. A zero Address means the input is not
		// connected.
		Connections map[string]Address `yaml:",omitempty" json:"connections,omitempty"`

		// Target is the module a sequencer voice plays its note on. Empty
		// means the voice has no target.
		Target ModuleID `yaml:",omitempty" json:"target,omitempty"`
		Note   int      `yaml:",omitempty" json:"note,omitempty"`

		// Steps holds the marks of a sequencer voice, one per column.
		Steps []bool `yaml:",flow,omitempty" json:"steps,omitempty"`
	}

	// Effect is one stage of a synth's effect chain.
	Effect struct {
		Type       string             `json:"type"`
		Wetness    float64            `json:"wetness"`
		Bypass     bool               `yaml:",omitempty" json:"bypass,omitempty"`
		Parameters map[string]float64 `yaml:",flow,omitempty" json:"parameters,omitempty"`
	}
)

// Copy makes a deep copy of a module.
func (m *Module) Copy() Module {
	ret := *m
	ret.Parameters = maps.Clone(m.Parameters)
	ret.Connections = maps.Clone(m.Connections)
	ret.Steps = slices.Clone(m.Steps)
	if m.Effects != nil {
		ret.Effects = make([]Effect, len(m.Effects))
		for i, e := range m.Effects {
			ret.Effects[i] = e.Copy()
		}
	}
	return ret
}

// Copy makes a deep copy of an effect.
func (e *Effect) Copy() Effect {
	ret := *e
	ret.Parameters = maps.Clone(e.Parameters)
	return ret
}

// NewEffect returns an effect of the given type with every parameter at its
// default value.
func NewEffect(typ string) (Effect, error) {
	params, ok := EffectTypes[typ]
	if !ok {
		return Effect{}, fmt.Errorf("%w: %q", ErrUnknownEffectType, typ)
	}
	e := Effect{Type: typ, Wetness: 1, Parameters: make(map[string]float64, len(params))}
	for _, p := range params {
		e.Parameters[p.Name] = p.Default
	}
	return e, nil
}

// ParameterDocs returns the documentation of every parameter the module
// takes, in declaration order: the parameters of its type followed by the
// parameters of its effect kind, if any.
func (m *Module) ParameterDocs() []ModuleParameter {
	t := ModuleTypes[m.Type]
	ret := slices.Clone(t.Parameters)
	if m.Type == EffectType {
		ret = append(ret, EffectTypes[m.Kind]...)
	}
	return ret
}

// Parameter returns the documentation of one parameter of the module,
// including the effect-chain parameters of a synth.
func (m *Module) Parameter(name string) (ModuleParameter, bool) {
	for _, p := range m.ParameterDocs() {
		if p.Name == name {
			return p, true
		}
	}
	if i, param, ok := ParseEffectPort(name); ok && i < len(m.Effects) {
		return EffectParameter(m.Effects[i].Type, param)
	}
	return ModuleParameter{}, false
}

// Validate checks that the module has a known type and kind and that all its
// parameters are known to the type.
func (m *Module) Validate() error {
	if _, ok := ModuleTypes[m.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModuleType, m.Type)
	}
	if m.Type == EffectType {
		if _, ok := EffectTypes[m.Kind]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEffectType, m.Kind)
		}
	}
	for name := range m.Parameters {
		if _, ok := m.Parameter(name); !ok {
			return fmt.Errorf("%w: %s has no parameter %q", ErrUnknownParameter, m.Type, name)
		}
	}
	for i, e := range m.Effects {
		if _, ok := EffectTypes[e.Type]; !ok {
			return fmt.Errorf("effect %d: %w: %q", i, ErrUnknownEffectType, e.Type)
		}
	}
	return nil
}

// FillDefaults sets every missing parameter to its default value and clamps
// the present ones to their range.
func (m *Module) FillDefaults() {
	if m.Parameters == nil {
		m.Parameters = make(map[string]float64)
	}
	for _, p := range m.ParameterDocs() {
		if v, ok := m.Parameters[p.Name]; ok {
			m.Parameters[p.Name] = p.Clamp(v)
		} else {
			m.Parameters[p.Name] = p.Default
		}
	}
	for i := range m.Effects {
		e := &m.Effects[i]
		if e.Parameters == nil {
			e.Parameters = make(map[string]float64)
		}
		for _, p := range EffectTypes[e.Type] {
			if v, ok := e.Parameters[p.Name]; ok {
				e.Parameters[p.Name] = p.Clamp(v)
			} else {
				e.Parameters[p.Name] = p.Default
			}
		}
	}
}

// Ports lists the ports this module declares, in declaration order: number
// ports first, then the effect-chain ports of a synth, then audio inputs and
// audio outputs. The list depends only on the module's type, kind and effect
// chain, never on parameter values.
func (m *Module) Ports() []PortSpec {
	t := ModuleTypes[m.Type]
	var ret []PortSpec
	for _, p := range m.ParameterDocs() {
		if p.CanModulate {
			ret = append(ret, PortSpec{Name: p.Name, Direction: Input, Kind: NumberKind})
		}
	}
	for i, e := range m.Effects {
		ret = append(ret, PortSpec{Name: EffectPort(i, "wetness"), Direction: Input, Kind: NumberKind})
		for _, p := range EffectTypes[e.Type] {
			if p.CanModulate {
				ret = append(ret, PortSpec{Name: EffectPort(i, p.Name), Direction: Input, Kind: NumberKind})
			}
		}
	}
	for _, name := range t.AudioInputs {
		ret = append(ret, PortSpec{Name: name, Direction: Input, Kind: AudioKind})
	}
	for _, name := range t.AudioOutputs {
		ret = append(ret, PortSpec{Name: name, Direction: Output, Kind: AudioKind})
	}
	return ret
}

// Marked reports whether the sequencer voice has a mark at the column.
func (m *Module) Marked(column int) bool {
	if len(m.Steps) == 0 {
		return false
	}
	column %= len(m.Steps)
	if column < 0 {
		column += len(m.Steps)
	}
	return m.Steps[column]
}

// EffectPort returns the port name of a parameter of the i:th effect in a
// synth's effect chain, e.g. "effect_0_drive".
func EffectPort(i int, param string) string {
	return "effect_" + strconv.Itoa(i) + "_" + param
}

// ParseEffectPort is the inverse of EffectPort.
func ParseEffectPort(name string) (index int, param string, ok bool) {
	rest, found := strings.CutPrefix(name, "effect_")
	if !found {
		return 0, "", false
	}
	num, param, found := strings.Cut(rest, "_")
	if !found || param == "" {
		return 0, "", false
	}
	index, err := strconv.Atoi(num)
	if err != nil || index < 0 {
		return 0, "", false
	}
	return index, param, true
}
