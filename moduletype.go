package patchbay

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

type (
	// ModuleType documents one kind of module: the parameters it takes, the
	// audio ports it exposes and whether the session must always keep at least
	// one of them.
	ModuleType struct {
		Name         string
		Required     bool     // the session refuses to remove the last module of this type
		AcceptsNotes bool     // can be gated by sequencer voices and the keyboard
		AudioInputs  []string // names of audio input ports, in declaration order
		AudioOutputs []string // names of audio output ports, in declaration order
		Parameters   []ModuleParameter
	}

	// ModuleParameter documents one parameter that a module takes
	ModuleParameter struct {
		Name        string  // should be found with this name in the Module.Parameters map
		MinValue    float64 // minimum value of the parameter, inclusive
		MaxValue    float64 // maximum value of the parameter, inclusive
		Default     float64
		CanModulate bool // if this parameter is exposed as a number port
		DisplayFunc ParameterDisplayFunc
	}

	ParameterDisplayFunc func(float64) (value string, unit string)
)

// Module type names.
const (
	SynthType  = "synth"
	EffectType = "effect"
	VoiceType  = "voice"
	OutputType = "output"
)

// Waveforms of a synth module, stored in its "waveform" parameter.
const (
	Sine = iota
	Square
	Sawtooth
	Triangle
)

// Filter types of a synth module, stored in its "filter_type" parameter.
const (
	Lowpass = iota
	Highpass
	Bandpass
)

var waveformNames = [...]string{"sine", "square", "sawtooth", "triangle"}
var filterTypeNames = [...]string{"lowpass", "highpass", "bandpass"}

// MaxUnison is the largest number of oscillators a synth voice stacks.
const MaxUnison = 32

// ModuleTypes documents all the available module types.
var ModuleTypes = map[string]ModuleType{
	SynthType: {
		Name:         SynthType,
		AcceptsNotes: true,
		AudioOutputs: []string{"output"},
		Parameters: []ModuleParameter{
			{Name: "waveform", MinValue: Sine, MaxValue: Triangle, Default: Sine, DisplayFunc: arrDispFunc(waveformNames[:])},
			{Name: "unison", MinValue: 1, MaxValue: MaxUnison, Default: 1, DisplayFunc: intDispFunc("")},
			{Name: "detune", MinValue: -300, MaxValue: 300, Default: 0, CanModulate: true, DisplayFunc: unitDispFunc("cents")},
			{Name: "filter_type", MinValue: Lowpass, MaxValue: Bandpass, Default: Lowpass, DisplayFunc: arrDispFunc(filterTypeNames[:])},
			{Name: "filter_frequency", MinValue: 10, MaxValue: 20000, Default: 4400, CanModulate: true, DisplayFunc: unitDispFunc("Hz")},
			{Name: "filter_q", MinValue: 0.0001, MaxValue: 30, Default: 1, CanModulate: true, DisplayFunc: unitDispFunc("")},
			{Name: "filter_detune", MinValue: -1200, MaxValue: 1200, Default: 0, CanModulate: true, DisplayFunc: unitDispFunc("cents")},
			{Name: "gain", MinValue: 0, MaxValue: 4, Default: 0.1, CanModulate: true, DisplayFunc: decibelDispFunc},
		},
	},
	EffectType: {
		Name:         EffectType,
		AudioInputs:  []string{"input"},
		AudioOutputs: []string{"output"},
		Parameters: []ModuleParameter{
			{Name: "wetness", MinValue: 0, MaxValue: 1, Default: 1, CanModulate: true, DisplayFunc: percentDispFunc},
			{Name: "bypass", MinValue: 0, MaxValue: 1, Default: 0, DisplayFunc: arrDispFunc([]string{"off", "on"})},
		},
	},
	VoiceType: {
		Name:     VoiceType,
		Required: true,
		Parameters: []ModuleParameter{
			{Name: "gain", MinValue: 0, MaxValue: 1, Default: 1, CanModulate: true, DisplayFunc: percentDispFunc},
		},
	},
	OutputType: {
		Name:        OutputType,
		AudioInputs: []string{"input_1", "input_2", "input_3", "input_4"},
		Parameters: []ModuleParameter{
			{Name: "gain", MinValue: 0, MaxValue: 4, Default: 1, CanModulate: true, DisplayFunc: decibelDispFunc},
		},
	},
}

// EffectTypes documents the processors that can sit in a synth's effect chain
// or inside an effect module, and the parameters each one takes.
var EffectTypes = map[string][]ModuleParameter{
	"bitcrusher": {
		{Name: "bits", MinValue: 1, MaxValue: 32, Default: 8, CanModulate: true, DisplayFunc: intDispFunc("bits")},
		{Name: "downsample", MinValue: 1, MaxValue: 64, Default: 1, CanModulate: true, DisplayFunc: intDispFunc("x")},
	},
	"distortion": {
		{Name: "drive", MinValue: 0, MaxValue: 1, Default: 0.5, CanModulate: true, DisplayFunc: percentDispFunc},
		{Name: "level", MinValue: 0, MaxValue: 4, Default: 1, CanModulate: true, DisplayFunc: decibelDispFunc},
	},
	"delay": {
		{Name: "time", MinValue: 0.001, MaxValue: 2, Default: 0.25, CanModulate: true, DisplayFunc: timeDispFunc},
		{Name: "feedback", MinValue: 0, MaxValue: 0.99, Default: 0.4, CanModulate: true, DisplayFunc: percentDispFunc},
	},
	"gain": {
		{Name: "gain", MinValue: 0, MaxValue: 4, Default: 1, CanModulate: true, DisplayFunc: decibelDispFunc},
	},
}

// ModuleTypeNames and EffectTypeNames list the keys of ModuleTypes and
// EffectTypes, sorted alphabetically.
var ModuleTypeNames, EffectTypeNames []string

func init() {
	for k := range ModuleTypes {
		ModuleTypeNames = append(ModuleTypeNames, k)
	}
	sort.Strings(ModuleTypeNames)
	for k := range EffectTypes {
		EffectTypeNames = append(EffectTypeNames, k)
	}
	sort.Strings(EffectTypeNames)
}

// Parameter returns the documentation of the named parameter of a module
// type.
func (t ModuleType) Parameter(name string) (ModuleParameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ModuleParameter{}, false
}

// EffectParameter returns the documentation of the named parameter of an
// effect type. "wetness" and "bypass" are shared by all effect types.
func EffectParameter(effect, name string) (ModuleParameter, bool) {
	if name == "wetness" || name == "bypass" {
		return ModuleTypes[EffectType].Parameter(name)
	}
	for _, p := range EffectTypes[effect] {
		if p.Name == name {
			return p, true
		}
	}
	return ModuleParameter{}, false
}

// Clamp limits v to the range of the parameter.
func (p ModuleParameter) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return p.Default
	}
	return math.Min(math.Max(v, p.MinValue), p.MaxValue)
}

// Hint returns a human readable representation of the value, e.g. "440 Hz".
func (p ModuleParameter) Hint(v float64) string {
	if p.DisplayFunc == nil {
		return formatFloat(v)
	}
	value, unit := p.DisplayFunc(v)
	if unit == "" {
		return value
	}
	return value + " " + unit
}

func arrDispFunc(arr []string) ParameterDisplayFunc {
	return func(v float64) (string, string) {
		i := int(v)
		if i < 0 || i >= len(arr) {
			return "???", ""
		}
		return arr[i], ""
	}
}

func intDispFunc(unit string) ParameterDisplayFunc {
	return func(v float64) (string, string) {
		return strconv.Itoa(int(v)), unit
	}
}

func unitDispFunc(unit string) ParameterDisplayFunc {
	return func(v float64) (string, string) {
		return formatFloat(v), unit
	}
}

func percentDispFunc(v float64) (string, string) {
	return strconv.FormatFloat(v*100, 'f', 0, 64), "%"
}

func decibelDispFunc(v float64) (string, string) {
	if v <= 0 {
		return "-inf", "dB"
	}
	return strconv.FormatFloat(20*math.Log10(v), 'f', 1, 64), "dB"
}

func timeDispFunc(sec float64) (string, string) {
	if sec < 1e-3 {
		return fmt.Sprintf("%.2f", sec*1e6), "us"
	} else if sec < 1 {
		return fmt.Sprintf("%.2f", sec*1e3), "ms"
	}
	return fmt.Sprintf("%.2f", sec), "s"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
