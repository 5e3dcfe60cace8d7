package session

import (
	"fmt"

	"github.com/websynth/patchbay"
)

// heldNote is a note a voice has gated on its target and not yet released.
type heldNote struct {
	target patchbay.ModuleID
	note   int
}

// SetVoiceTarget points a sequencer voice at the module its note plays on.
// An empty target leaves the voice silent.
func (s *Session) SetVoiceTarget(voice, target patchbay.ModuleID, note int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.voiceEntry(voice)
	if err != nil {
		return fmt.Errorf("SetVoiceTarget: %w", err)
	}
	if target != "" {
		if err := s.checkPlayable(target); err != nil {
			return fmt.Errorf("SetVoiceTarget: %w", err)
		}
	}
	if h, ok := s.held[voice]; ok {
		s.releaseHeld(voice, h)
	}
	e.module.Target = target
	e.module.Note = min(max(note, 0), 127)
	return nil
}

func (s *Session) checkPlayable(id patchbay.ModuleID) error {
	i, ok := s.find(id)
	if !ok {
		return fmt.Errorf("%v: %w", id, ErrModuleNotFound)
	}
	if t := s.modules[i].module.Type; !patchbay.ModuleTypes[t].AcceptsNotes {
		return fmt.Errorf("%v is a %s: %w", id, t, ErrWrongModuleType)
	}
	return nil
}

// Mark sets the step of the voice at column.
func (s *Session) Mark(voice patchbay.ModuleID, column int) error {
	return s.setMark(voice, column, true)
}

// Unmark clears the step of the voice at column.
func (s *Session) Unmark(voice patchbay.ModuleID, column int) error {
	return s.setMark(voice, column, false)
}

func (s *Session) setMark(voice patchbay.ModuleID, column int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.voiceEntry(voice)
	if err != nil {
		return err
	}
	if column < 0 || column >= len(e.module.Steps) {
		return fmt.Errorf("column %d: %w", column, ErrOutOfRange)
	}
	e.module.Steps[column] = on
	return nil
}

func (s *Session) voiceEntry(id patchbay.ModuleID) (*entry, error) {
	i, ok := s.find(id)
	if !ok {
		return nil, fmt.Errorf("%v: %w", id, ErrModuleNotFound)
	}
	if s.modules[i].module.Type != patchbay.VoiceType {
		return nil, fmt.Errorf("%v is a %s: %w", id, s.modules[i].module.Type, ErrWrongModuleType)
	}
	return s.modules[i], nil
}

// SetBPM sets the tempo, clamped to the valid range.
func (s *Session) SetBPM(bpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequencer.BPM = min(max(bpm, patchbay.MinBPM), patchbay.MaxBPM)
}

// SetScheme sets how steps are spaced in time.
func (s *Session) SetScheme(scheme patchbay.Scheme) error {
	if _, err := patchbay.ParseScheme(string(scheme)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequencer.Scheme = scheme
	return nil
}

// SetWidth changes the number of columns, keeping the marks that still fit.
func (s *Session) SetWidth(width int) error {
	if width <= 0 || width > patchbay.MaxWidth {
		return fmt.Errorf("width %d: %w", width, ErrOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequencer.Width = width
	for _, e := range s.modules {
		if e.module.Type == patchbay.VoiceType {
			e.module.Steps = resize(e.module.Steps, width)
		}
	}
	return nil
}

// Sequencer returns the current sequencer settings.
func (s *Session) Sequencer() patchbay.SequencerSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequencer
}

// Step plays one column: every voice releases the note it holds, and the
// voices marked at the column gate their note on their target. Voices without
// a target are skipped. The velocity is the voice's gain.
func (s *Session) Step(column int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.modules {
		if e.module.Type != patchbay.VoiceType {
			continue
		}
		id := e.module.ID
		if h, ok := s.held[id]; ok {
			s.releaseHeld(id, h)
		}
		if e.module.Target == "" || !e.module.Marked(column) {
			continue
		}
		target, ok := s.noteTarget(e.module.Target)
		if !ok {
			continue
		}
		velocity := 1.0
		if v, ok := e.inst.(*voiceInstance); ok {
			velocity = v.gain.Value()
		}
		target.synth.Gate(e.module.Note, velocity)
		s.held[id] = heldNote{target: e.module.Target, note: e.module.Note}
	}
}

func (s *Session) releaseHeld(voice patchbay.ModuleID, h heldNote) {
	delete(s.held, voice)
	if target, ok := s.noteTarget(h.target); ok {
		target.synth.Ungate(h.note)
	}
}

// noteTarget returns the synth instance of the module, if it is one.
func (s *Session) noteTarget(id patchbay.ModuleID) (*synthInstance, bool) {
	i, ok := s.find(id)
	if !ok {
		return nil, false
	}
	inst, ok := s.modules[i].inst.(*synthInstance)
	return inst, ok
}

// stopAll releases every note held by voices and the keyboard.
func (s *Session) stopAll() {
	for id, h := range s.held {
		s.releaseHeld(id, h)
	}
	s.releaseKeys()
}
