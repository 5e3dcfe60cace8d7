package session

import (
	"fmt"

	"github.com/websynth/patchbay"
	"github.com/websynth/patchbay/engine"
)

// commit recomposes the snapshot after a structural change named op. If the
// session is strict and the new snapshot has duplicate addresses, rollback
// is called to undo the change and ErrAddressConflict is returned; the old
// snapshot stays in place. A nil rollback means the change cannot be undone
// and the conflicting snapshot is installed regardless.
func (s *Session) commit(op string, rollback func()) error {
	snap := s.compose()
	if conflicts := snap.Conflicts(); len(conflicts) > 0 {
		s.metrics.conflict(len(conflicts))
		if s.strict && rollback != nil {
			rollback()
			s.logger.Warn("structural change rolled back", "op", op, "conflicts", len(conflicts))
			return fmt.Errorf("%s: %w: %v", op, ErrAddressConflict, conflicts[0])
		}
	}
	s.snapshot = snap
	s.rebuilds++
	s.metrics.rebuild()
	s.rewire()
	s.logger.Debug("snapshot rebuilt", "op", op, "version", snap.Version(), "ports", snap.Len())
	return nil
}

// compose walks the modules in insertion order and collects every declared
// port into a new snapshot. A duplicate address keeps the last descriptor.
func (s *Session) compose() *patchbay.Snapshot {
	b := patchbay.NewSnapshotBuilder(s.rebuilds + 1)
	for _, e := range s.modules {
		for _, spec := range e.module.Ports() {
			ep, ok := e.inst.endpoint(spec.Name)
			if !ok {
				s.logger.Error("module declares a port without an endpoint", "id", e.module.ID, "port", spec.Name)
				continue
			}
			addr := patchbay.Address{Module: e.module.ID, Port: spec.Name}
			if b.Put(addr, patchbay.PortDescriptor{Direction: spec.Direction, Endpoint: ep}) {
				s.logger.Warn("duplicate port address, last module wins", "address", addr.String())
			}
		}
	}
	return b.Build()
}

// rewire makes the engine graph mirror the connections of every module.
func (s *Session) rewire() {
	for _, e := range s.modules {
		s.rewireEntry(e)
	}
}

// rewireEntry detaches every input of the module and links the ones that
// have a source in the current snapshot.
func (s *Session) rewireEntry(e *entry) {
	for _, spec := range e.module.Ports() {
		if spec.Direction != patchbay.Input {
			continue
		}
		if ep, ok := e.inst.endpoint(spec.Name); ok {
			detach(ep)
		}
	}
	for port, src := range e.module.Connections {
		if src.IsZero() {
			continue
		}
		dst, ok := e.inst.endpoint(port)
		if !ok {
			s.logger.Warn("connection to an unknown input", "id", e.module.ID, "port", port)
			continue
		}
		desc, ok := s.snapshot.Get(src)
		if !ok {
			s.logger.Warn("connection from an unknown output", "id", e.module.ID, "port", port, "source", src.String())
			continue
		}
		if err := link(dst, desc); err != nil {
			s.logger.Warn("could not link connection", "id", e.module.ID, "port", port, "source", src.String(), "error", err)
		}
	}
}

func detach(ep patchbay.Endpoint) {
	switch ep := ep.(type) {
	case patchbay.NumberParameter:
		ep.Param.ClearModulation()
	case patchbay.AudioSignal:
		if c, ok := ep.Node.(engine.Connector); ok {
			c.Disconnect()
		}
	default:
		panic(fmt.Sprintf("unknown endpoint %T", ep))
	}
}

// link routes the signal of src into dst. Audio flows into audio inputs and
// modulates number inputs; numbers cannot be sources.
func link(dst patchbay.Endpoint, src patchbay.PortDescriptor) error {
	if src.Direction != patchbay.Output {
		return fmt.Errorf("%w: source is an input", ErrIncompatible)
	}
	var node engine.Node
	switch ep := src.Endpoint.(type) {
	case patchbay.AudioSignal:
		node = ep.Node
	case patchbay.NumberParameter:
		return fmt.Errorf("%w: number outputs cannot be sources", ErrIncompatible)
	default:
		panic(fmt.Sprintf("unknown endpoint %T", ep))
	}
	switch ep := dst.(type) {
	case patchbay.NumberParameter:
		ep.Param.Modulate(node)
	case patchbay.AudioSignal:
		c, ok := ep.Node.(engine.Connector)
		if !ok {
			return fmt.Errorf("%w: destination is not an input", ErrIncompatible)
		}
		c.Connect(node)
	default:
		panic(fmt.Sprintf("unknown endpoint %T", ep))
	}
	return nil
}

// Connect routes the output port src into the input port dst. An input has
// at most one source; connecting replaces the previous one. Connecting does
// not change the shape of any module, so the snapshot is not rebuilt.
func (s *Session) Connect(dst, src patchbay.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(dst.Module)
	if !ok {
		return fmt.Errorf("Connect %v: %w", dst.Module, ErrModuleNotFound)
	}
	e := s.modules[i]
	dstDesc, ok := s.snapshot.Get(dst)
	if !ok || dstDesc.Direction != patchbay.Input {
		return fmt.Errorf("Connect %v: %w", dst, ErrPortNotFound)
	}
	srcDesc, ok := s.snapshot.Get(src)
	if !ok {
		return fmt.Errorf("Connect %v: %w", src, ErrPortNotFound)
	}
	if srcDesc.Direction != patchbay.Output {
		return fmt.Errorf("Connect %v: %w: source is an input", src, ErrIncompatible)
	}
	if s.dependsOn(src.Module, dst.Module) {
		return fmt.Errorf("Connect %v -> %v: %w", src, dst, ErrCycle)
	}
	if e.module.Connections == nil {
		e.module.Connections = make(map[string]patchbay.Address)
	}
	prev := e.module.Connections[dst.Port]
	e.module.Connections[dst.Port] = src
	s.rewireEntry(e)
	s.logger.Debug("connected", "from", src.String(), "to", dst.String(), "previous", prev.String())
	return nil
}

// Disconnect nulls the source of the input port dst.
func (s *Session) Disconnect(dst patchbay.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(dst.Module)
	if !ok {
		return fmt.Errorf("Disconnect %v: %w", dst.Module, ErrModuleNotFound)
	}
	e := s.modules[i]
	if desc, ok := s.snapshot.Get(dst); !ok || desc.Direction != patchbay.Input {
		return fmt.Errorf("Disconnect %v: %w", dst, ErrPortNotFound)
	}
	if src, ok := e.module.Connections[dst.Port]; ok && !src.IsZero() {
		e.module.Connections[dst.Port] = patchbay.Address{}
		s.rewireEntry(e)
	}
	return nil
}

// dependsOn reports whether the signal of module from already reaches module
// to through existing connections, i.e. whether feeding from into to would
// close a loop. A module always depends on itself.
func (s *Session) dependsOn(from, to patchbay.ModuleID) bool {
	seen := map[patchbay.ModuleID]bool{}
	stack := []patchbay.ModuleID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		i, ok := s.find(id)
		if !ok {
			continue
		}
		for _, src := range s.modules[i].module.Connections {
			if !src.IsZero() {
				stack = append(stack, src.Module)
			}
		}
	}
	return false
}
