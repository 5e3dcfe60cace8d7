package patchbay

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Description is the serializable state of a session: its modules in
	// insertion order plus the sequencer and keyboard settings. Live
	// processing resources are not part of it; they are recreated when a
	// description is loaded.
	Description struct {
		Modules   Patch             `json:"modules"`
		Sequencer SequencerSettings `json:"sequencer"`
		Keyboard  KeyboardSettings  `json:"keyboard"`
		Bindings  []MIDIBinding     `yaml:",omitempty" json:"bindings,omitempty"`
	}

	// MIDIBinding links a MIDI control change to a module parameter.
	MIDIBinding struct {
		Channel int      `json:"channel"`
		Control int      `json:"control"`
		Module  ModuleID `json:"module"`
		Param   string   `json:"param"`
	}

	// SequencerSettings hold the tempo and grid of the step sequencer. The
	// marks themselves live in the voice modules.
	SequencerSettings struct {
		BPM    float64 `json:"bpm"`
		Width  int     `json:"width"`
		Scheme Scheme  `json:"scheme"`
	}

	// KeyboardSettings hold the computer keyboard routing: the module notes
	// are played on and the octave offset.
	KeyboardSettings struct {
		Target ModuleID `yaml:",omitempty" json:"target,omitempty"`
		Octave int      `yaml:",omitempty" json:"octave,omitempty"`
	}

	// Scheme decides how the steps of the sequencer are spaced in time.
	Scheme string
)

const (
	Stable Scheme = "stable"
	Swung  Scheme = "swung"
	Random Scheme = "random"
)

const (
	DefaultBPM   = 80
	DefaultWidth = 16
	MinBPM       = 1
	MaxBPM       = 999
	MaxWidth     = 64
)

// DefaultSequencer returns the sequencer settings of a fresh session.
func DefaultSequencer() SequencerSettings {
	return SequencerSettings{BPM: DefaultBPM, Width: DefaultWidth, Scheme: Stable}
}

// Normalize clamps the settings to their valid ranges and fills in the zero
// values with defaults.
func (s *SequencerSettings) Normalize() {
	if s.BPM == 0 {
		s.BPM = DefaultBPM
	}
	s.BPM = min(max(s.BPM, MinBPM), MaxBPM)
	if s.Width <= 0 {
		s.Width = DefaultWidth
	}
	s.Width = min(s.Width, MaxWidth)
	switch s.Scheme {
	case Stable, Swung, Random:
	default:
		s.Scheme = Stable
	}
}

// StepDuration returns the time between the start of the column and the start
// of the next one. A step is a sixteenth note. rnd is only used by the Random
// scheme and may be nil otherwise.
func (s SequencerSettings) StepDuration(column int, rnd *rand.Rand) time.Duration {
	bpm := s.BPM
	if bpm <= 0 {
		bpm = DefaultBPM
	}
	step := float64(time.Minute) / bpm / 4
	switch s.Scheme {
	case Swung:
		// pairs of steps are split 2:1
		if column%2 == 0 {
			step *= 4.0 / 3
		} else {
			step *= 2.0 / 3
		}
	case Random:
		if rnd != nil {
			step *= 0.75 + rnd.Float64()*0.5
		}
	}
	return time.Duration(step)
}

// ParseScheme returns the scheme with the given name.
func ParseScheme(name string) (Scheme, error) {
	switch s := Scheme(name); s {
	case Stable, Swung, Random:
		return s, nil
	}
	return "", fmt.Errorf("unknown scheduler scheme %q", name)
}

// Copy makes a deep copy of a description.
func (d Description) Copy() Description {
	return Description{
		Modules:   d.Modules.Copy(),
		Sequencer: d.Sequencer,
		Keyboard:  d.Keyboard,
		Bindings:  slices.Clone(d.Bindings),
	}
}

// Marshal encodes the description as a YAML document.
func (d Description) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// UnmarshalDescription decodes a description from either JSON or YAML.
func UnmarshalDescription(data []byte) (Description, error) {
	var d Description
	if errJSON := json.Unmarshal(data, &d); errJSON != nil {
		d = Description{}
		if errYaml := yaml.Unmarshal(data, &d); errYaml != nil {
			return Description{}, fmt.Errorf("the description could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	d.Sequencer.Normalize()
	if err := d.Modules.Validate(); err != nil {
		return Description{}, err
	}
	return d, nil
}
