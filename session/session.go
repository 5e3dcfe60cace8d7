// Package session holds the state of one patching session: the modules, the
// live engine instances behind them and the snapshot of their ports that the
// patch wiring consumes.
//
// All methods of a Session are safe for concurrent use. Rendering shares the
// same lock as structural changes, so the audio callback never observes a
// half-applied change.
package session

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/websynth/patchbay"
	"github.com/websynth/patchbay/internal/logging"
)

type (
	// Session is a session-scoped container for modules. Create one with
	// New; the zero value is not usable.
	Session struct {
		logger     *slog.Logger
		metrics    *Metrics
		strict     bool
		sampleRate float64
		polyphony  int
		newID      func() patchbay.ModuleID

		mu        sync.Mutex
		modules   []*entry
		usedIDs   map[patchbay.ModuleID]bool
		snapshot  *patchbay.Snapshot
		rebuilds  uint64
		sequencer patchbay.SequencerSettings
		keyboard  keyboardState
		bindings  MIDIBindings
		binding   *MIDIParam
		held      map[patchbay.ModuleID]heldNote
		frame     uint64
		mix       []float64
	}

	entry struct {
		module patchbay.Module
		inst   instance
	}

	// ModuleSpec describes a module to add.
	ModuleSpec struct {
		Type       string             `mapstructure:"type" json:"type"`
		Kind       string             `mapstructure:"kind" json:"kind,omitempty"`
		Name       string             `mapstructure:"name" json:"name,omitempty"`
		Parameters map[string]float64 `mapstructure:"parameters" json:"parameters,omitempty"`
	}

	// RemoveResult tells what RemoveModule did.
	RemoveResult int
)

const (
	// Removed means the module and every reference to it are gone.
	Removed RemoveResult = iota
	// NotFound means no module has the id; nothing changed.
	NotFound
	// Rejected means the module is the last of a required type; nothing
	// changed.
	Rejected
)

const (
	DefaultSampleRate = 44100
	defaultNote       = 60
	maxIDAttempts     = 16
)

func (r RemoveResult) String() string {
	switch r {
	case Removed:
		return "removed"
	case NotFound:
		return "not_found"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("RemoveResult(%d)", int(r))
}

// New creates a session in its initial state: a single sequencer voice and
// default sequencer settings.
func New(opts ...Option) *Session {
	s := &Session{
		logger:     logging.NewNop(),
		sampleRate: DefaultSampleRate,
		newID:      newUUID,
		usedIDs:    make(map[patchbay.ModuleID]bool),
		held:       make(map[patchbay.ModuleID]heldNote),
		sequencer:  patchbay.DefaultSequencer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot = patchbay.NewSnapshotBuilder(0).Build()
	if _, err := s.addModule(ModuleSpec{Type: patchbay.VoiceType}); err != nil {
		s.logger.Error("could not create the initial voice", "error", err)
	}
	return s
}

func (s *Session) engineConfig() engineConfig {
	return engineConfig{sampleRate: s.sampleRate, polyphony: s.polyphony}
}

// AddModule creates a module of the given type with a fresh identifier and
// its live engine instance, and recomposes the snapshot. Parameters missing
// from the spec get their defaults; the given ones are clamped to range.
func (s *Session) AddModule(spec ModuleSpec) (patchbay.ModuleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addModule(spec)
}

func (s *Session) addModule(spec ModuleSpec) (patchbay.ModuleID, error) {
	m := patchbay.Module{
		Type:       spec.Type,
		Kind:       spec.Kind,
		Name:       spec.Name,
		Parameters: make(map[string]float64, len(spec.Parameters)),
	}
	for k, v := range spec.Parameters {
		m.Parameters[k] = v
	}
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("AddModule: %w", err)
	}
	m.FillDefaults()
	if m.Type == patchbay.VoiceType {
		m.Steps = make([]bool, s.sequencer.Width)
		m.Note = defaultNote
	}
	id, err := s.allocateID()
	if err != nil {
		return "", fmt.Errorf("AddModule: %w", err)
	}
	m.ID = id
	inst, err := newInstance(&m, s.engineConfig())
	if err != nil {
		return "", fmt.Errorf("AddModule: %w", err)
	}
	s.modules = append(s.modules, &entry{module: m, inst: inst})
	err = s.commit("AddModule", func() {
		s.modules = s.modules[:len(s.modules)-1]
		inst.close()
	})
	if err != nil {
		return "", err
	}
	s.metrics.moduleAdded(m.Type)
	s.logger.Debug("module added", "id", id, "type", m.Type)
	return id, nil
}

// allocateID returns an identifier never handed out by this session before.
func (s *Session) allocateID() (patchbay.ModuleID, error) {
	for range maxIDAttempts {
		id := s.newID()
		if id.Validate() != nil || s.usedIDs[id] {
			continue
		}
		s.usedIDs[id] = true
		return id, nil
	}
	return "", ErrIDExhausted
}

// CanRemoveModule reports whether RemoveModule would remove the module.
func (s *Session) CanRemoveModule(id patchbay.ModuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(id)
	return ok && s.canRemove(i)
}

func (s *Session) canRemove(i int) bool {
	m := &s.modules[i].module
	if !patchbay.ModuleTypes[m.Type].Required {
		return true
	}
	count := 0
	for _, e := range s.modules {
		if e.module.Type == m.Type {
			count++
		}
	}
	return count > 1
}

// RemoveModule removes the module and every reference to it. Removing the
// last module of a required type is rejected and changes nothing.
//
// References are retracted before the snapshot is recomposed: connections
// from the removed module are nulled, voices targeting it lose their target,
// MIDI bindings to it are dropped and the live wiring to its endpoints is
// detached. Only then is its engine instance closed and the snapshot rebuilt.
func (s *Session) RemoveModule(id patchbay.ModuleID) RemoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.removeModule(id)
	s.metrics.removal(r)
	return r
}

func (s *Session) removeModule(id patchbay.ModuleID) RemoveResult {
	i, ok := s.find(id)
	if !ok {
		return NotFound
	}
	if !s.canRemove(i) {
		s.logger.Info("refusing to remove the last module of a required type", "id", id, "type", s.modules[i].module.Type)
		return Rejected
	}
	removed := s.modules[i]
	s.modules = slices.Delete(s.modules, i, i+1)
	if _, shadowed := s.find(id); !shadowed {
		s.retract(id, removed)
	}
	removed.inst.close()
	if err := s.commit("RemoveModule", nil); err != nil {
		s.logger.Error("could not recompose after removal", "id", id, "error", err)
	}
	s.logger.Debug("module removed", "id", id, "type", removed.module.Type)
	return Removed
}

// retract clears every reference to id held by the remaining modules and the
// session, and detaches the live wiring that pointed at the removed module.
func (s *Session) retract(id patchbay.ModuleID, removed *entry) {
	if h, ok := s.held[id]; ok {
		s.releaseHeld(id, h)
	}
	for _, e := range s.modules {
		touched := false
		for port, src := range e.module.Connections {
			if src.Module == id {
				e.module.Connections[port] = patchbay.Address{}
				touched = true
			}
		}
		if touched {
			s.rewireEntry(e)
		}
		if e.module.Type == patchbay.VoiceType && e.module.Target == id {
			if h, ok := s.held[e.module.ID]; ok {
				s.releaseHeld(e.module.ID, h)
			}
			e.module.Target = ""
		}
	}
	if s.keyboard.target == id {
		s.keyboard.target = ""
		clear(s.keyboard.pressed)
	}
	if s.binding != nil && s.binding.Module == id {
		s.binding = nil
	}
	s.bindings.UnlinkModule(id)
	for _, spec := range removed.module.Ports() {
		if spec.Direction != patchbay.Input {
			continue
		}
		if ep, ok := removed.inst.endpoint(spec.Name); ok {
			detach(ep)
		}
	}
}

// SetParameter writes a parameter of a module. The value is clamped to the
// parameter's range. The live parameter is updated in place; the snapshot is
// never recomposed.
func (s *Session) SetParameter(id patchbay.ModuleID, name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.setParameter(id, name, value)
	return err
}

func (s *Session) setParameter(id patchbay.ModuleID, name string, value float64) (float64, error) {
	i, ok := s.find(id)
	if !ok {
		return 0, fmt.Errorf("SetParameter %v: %w", id, ErrModuleNotFound)
	}
	e := s.modules[i]
	doc, ok := e.module.Parameter(name)
	if !ok {
		return 0, fmt.Errorf("SetParameter %v.%s: %w", id, name, ErrParameterNotFound)
	}
	v := doc.Clamp(value)
	if idx, param, ok := patchbay.ParseEffectPort(name); ok && e.module.Type == patchbay.SynthType {
		eff := &e.module.Effects[idx]
		switch param {
		case "wetness":
			eff.Wetness = v
		case "bypass":
			eff.Bypass = v >= 0.5
		default:
			eff.Parameters[param] = v
		}
	} else {
		e.module.Parameters[name] = v
	}
	e.inst.set(name, v)
	s.metrics.parameterSet()
	return v, nil
}

// AddEffect appends an effect to the chain of a synth module and returns its
// index. The synth gains one port per effect parameter.
func (s *Session) AddEffect(synth patchbay.ModuleID, effectType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, inst, err := s.synthEntry(synth)
	if err != nil {
		return 0, fmt.Errorf("AddEffect: %w", err)
	}
	eff, err := patchbay.NewEffect(effectType)
	if err != nil {
		return 0, fmt.Errorf("AddEffect: %w", err)
	}
	if err := inst.addEffect(eff); err != nil {
		return 0, fmt.Errorf("AddEffect: %w", err)
	}
	e.module.Effects = append(e.module.Effects, eff)
	index := len(e.module.Effects) - 1
	err = s.commit("AddEffect", func() {
		e.module.Effects = e.module.Effects[:index]
		inst.removeEffect(index)
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// RemoveEffect removes the index:th effect of a synth's chain. Connections
// and MIDI bindings to the removed effect's ports are dropped; those of later
// effects follow their effect to its new index.
func (s *Session) RemoveEffect(synth patchbay.ModuleID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, inst, err := s.synthEntry(synth)
	if err != nil {
		return fmt.Errorf("RemoveEffect: %w", err)
	}
	if index < 0 || index >= len(e.module.Effects) {
		return fmt.Errorf("RemoveEffect %d: %w", index, ErrOutOfRange)
	}
	rename := func(port string) (string, bool) {
		i, param, ok := patchbay.ParseEffectPort(port)
		switch {
		case !ok || i < index:
			return port, true
		case i == index:
			return "", false
		}
		return patchbay.EffectPort(i-1, param), true
	}
	if e.module.Connections != nil {
		conns := make(map[string]patchbay.Address, len(e.module.Connections))
		for port, src := range e.module.Connections {
			if newPort, keep := rename(port); keep {
				conns[newPort] = src
			}
		}
		e.module.Connections = conns
	}
	s.bindings.RenameParams(synth, rename)
	e.module.Effects = slices.Delete(e.module.Effects, index, index+1)
	inst.removeEffect(index)
	return s.commit("RemoveEffect", nil)
}

func (s *Session) synthEntry(id patchbay.ModuleID) (*entry, *synthInstance, error) {
	i, ok := s.find(id)
	if !ok {
		return nil, nil, fmt.Errorf("%v: %w", id, ErrModuleNotFound)
	}
	inst, ok := s.modules[i].inst.(*synthInstance)
	if !ok {
		return nil, nil, fmt.Errorf("%v is a %s: %w", id, s.modules[i].module.Type, ErrWrongModuleType)
	}
	return s.modules[i], inst, nil
}

// find returns the index of the module with the id. With duplicate ids the
// last one is returned, the same one the snapshot resolves to.
func (s *Session) find(id patchbay.ModuleID) (int, bool) {
	for i := len(s.modules) - 1; i >= 0; i-- {
		if s.modules[i].module.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Module returns a copy of the module with the id.
func (s *Session) Module(id patchbay.ModuleID) (patchbay.Module, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(id)
	if !ok {
		return patchbay.Module{}, false
	}
	return s.modules[i].module.Copy(), true
}

// Modules returns a copy of all modules in insertion order.
func (s *Session) Modules() patchbay.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patch()
}

func (s *Session) patch() patchbay.Patch {
	ret := make(patchbay.Patch, len(s.modules))
	for i, e := range s.modules {
		ret[i] = e.module.Copy()
	}
	return ret
}

// Port returns the descriptor of a port. The boolean is false if the module
// or the port does not exist.
func (s *Session) Port(id patchbay.ModuleID, port string) (patchbay.PortDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Get(patchbay.Address{Module: id, Port: port})
}

// Ports returns the addresses of the ports of a module in declaration order.
func (s *Session) Ports(id patchbay.ModuleID) []patchbay.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.ModulePorts(id)
}

// Snapshot returns the current snapshot. It stays valid and unchanged after
// later modifications of the session.
func (s *Session) Snapshot() *patchbay.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Rebuilds returns the number of times the snapshot has been recomposed.
func (s *Session) Rebuilds() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuilds
}

// Description returns the serializable state of the session.
func (s *Session) Description() patchbay.Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	return patchbay.Description{
		Modules:   s.patch(),
		Sequencer: s.sequencer,
		Keyboard:  patchbay.KeyboardSettings{Target: s.keyboard.target, Octave: s.keyboard.octave},
		Bindings:  s.bindings.List(),
	}
}

// Load replaces the whole state of the session with the description.
// Modules keep their identifiers. If the description has no voice, one is
// added. On error the session is left as it was.
func (s *Session) Load(d patchbay.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := d.Modules.Validate(); err != nil {
		return fmt.Errorf("Load: %w", err)
	}
	d = d.Copy()
	d.Sequencer.Normalize()
	entries := make([]*entry, 0, len(d.Modules))
	closeAll := func() {
		for _, e := range entries {
			e.inst.close()
		}
	}
	for _, m := range d.Modules {
		m.FillDefaults()
		if m.Type == patchbay.VoiceType {
			m.Steps = resize(m.Steps, d.Sequencer.Width)
		}
		inst, err := newInstance(&m, s.engineConfig())
		if err != nil {
			closeAll()
			return fmt.Errorf("Load: %w", err)
		}
		entries = append(entries, &entry{module: m, inst: inst})
	}
	old := s.modules
	oldSeq, oldKeyboard, oldBindings := s.sequencer, s.keyboard, s.bindings
	s.stopAll()
	s.modules = entries
	s.sequencer = d.Sequencer
	s.keyboard = keyboardState{target: d.Keyboard.Target, octave: clampOctave(d.Keyboard.Octave)}
	s.bindings = MIDIBindings{}
	for _, b := range d.Bindings {
		s.bindings.Link(MIDIControl{Channel: b.Channel, Control: b.Control}, MIDIParam{Module: b.Module, Param: b.Param})
	}
	s.dropDanglingReferences()
	err := s.commit("Load", func() {
		closeAll()
		s.modules = old
		s.sequencer, s.keyboard, s.bindings = oldSeq, oldKeyboard, oldBindings
		s.rewire()
	})
	if err != nil {
		return err
	}
	for _, e := range old {
		e.inst.close()
	}
	for _, e := range s.modules {
		s.usedIDs[e.module.ID] = true
	}
	if d.Modules.CountType(patchbay.VoiceType) == 0 {
		if _, err := s.addModule(ModuleSpec{Type: patchbay.VoiceType}); err != nil {
			return fmt.Errorf("Load: %w", err)
		}
	}
	s.logger.Info("description loaded", "modules", len(s.modules))
	return nil
}

// dropDanglingReferences nulls references to modules that do not exist, so a
// loaded description obeys the same invariants as one built incrementally.
func (s *Session) dropDanglingReferences() {
	exists := func(id patchbay.ModuleID) bool {
		_, ok := s.find(id)
		return ok
	}
	for _, e := range s.modules {
		for port, src := range e.module.Connections {
			if !src.IsZero() && !exists(src.Module) {
				e.module.Connections[port] = patchbay.Address{}
			}
		}
		if e.module.Target != "" && !exists(e.module.Target) {
			e.module.Target = ""
		}
	}
	if s.keyboard.target != "" && !exists(s.keyboard.target) {
		s.keyboard.target = ""
	}
	for _, p := range s.bindings.Params() {
		if !exists(p.Module) {
			s.bindings.UnlinkModule(p.Module)
		}
	}
	if s.binding != nil && !exists(s.binding.Module) {
		s.binding = nil
	}
}

// Close tears down every engine instance. The session must not be used
// afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAll()
	for _, e := range s.modules {
		e.inst.close()
	}
	s.modules = nil
	s.snapshot = patchbay.NewSnapshotBuilder(s.rebuilds).Build()
}

func resize(steps []bool, width int) []bool {
	if len(steps) >= width {
		return steps[:width]
	}
	return append(steps, make([]bool, width-len(steps))...)
}
