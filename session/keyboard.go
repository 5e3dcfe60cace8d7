package session

import (
	"fmt"
	"strings"

	"github.com/websynth/patchbay"
)

// keyboardKeys are the computer keys played as a piano, lowest first.
const keyboardKeys = "zsxcfvgbnjmk,l./"

const (
	keyboardStartNote = 33
	maxOctave         = 4
)

type keyboardState struct {
	target  patchbay.ModuleID
	octave  int
	pressed map[string]int // key -> note gated by it
}

func clampOctave(o int) int {
	return min(max(o, -maxOctave), maxOctave)
}

// KeyNote returns the note a computer key plays at octave offset 0.
func KeyNote(key string) (int, bool) {
	if len(key) != 1 {
		return 0, false
	}
	i := strings.Index(keyboardKeys, key)
	if i < 0 {
		return 0, false
	}
	return keyboardStartNote + i, true
}

// SetKeyboardTarget sets the module the keyboard and MIDI notes play on. An
// empty id detaches the keyboard.
func (s *Session) SetKeyboardTarget(id patchbay.ModuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if err := s.checkPlayable(id); err != nil {
			return fmt.Errorf("SetKeyboardTarget: %w", err)
		}
	}
	s.releaseKeys()
	s.keyboard.target = id
	return nil
}

// SetOctave sets the octave offset of the computer keyboard.
func (s *Session) SetOctave(octave int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyboard.octave = clampOctave(octave)
}

// KeyDown plays the note of a computer key. Auto-repeated presses and
// presses with ctrl held are ignored. It reports whether a note was gated.
func (s *Session) KeyDown(key string, repeat, ctrl bool) bool {
	if repeat || ctrl {
		return false
	}
	key = strings.ToLower(key)
	note, ok := KeyNote(key)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.noteTarget(s.keyboard.target)
	if !ok {
		return false
	}
	note += s.keyboard.octave * 12
	if note < 0 || note > 127 {
		return false
	}
	if s.keyboard.pressed == nil {
		s.keyboard.pressed = make(map[string]int)
	}
	s.keyboard.pressed[key] = note
	target.synth.Gate(note, 1)
	return true
}

// KeyUp releases the note gated by the key.
func (s *Session) KeyUp(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = strings.ToLower(key)
	note, ok := s.keyboard.pressed[key]
	if !ok {
		return
	}
	delete(s.keyboard.pressed, key)
	if target, ok := s.noteTarget(s.keyboard.target); ok {
		target.synth.Ungate(note)
	}
}

func (s *Session) releaseKeys() {
	target, ok := s.noteTarget(s.keyboard.target)
	for key, note := range s.keyboard.pressed {
		if ok {
			target.synth.Ungate(note)
		}
		delete(s.keyboard.pressed, key)
	}
}
