package patchbay

import "slices"

// Snapshot is an immutable view of every port of every module of a session at
// one point in time. It is rebuilt whenever the set of modules or the ports of
// a module change, and never modified after it has been built.
type Snapshot struct {
	version   uint64
	ports     map[Address]PortDescriptor
	order     []Address
	modules   []ModuleID
	conflicts []Address
}

// SnapshotBuilder collects ports into a new Snapshot. Ports are kept in the
// order they are first put; putting an address twice keeps the last
// descriptor and records the address as a conflict.
type SnapshotBuilder struct {
	s    Snapshot
	seen map[ModuleID]bool
}

// NewSnapshotBuilder returns a builder for a snapshot with the given version.
func NewSnapshotBuilder(version uint64) *SnapshotBuilder {
	return &SnapshotBuilder{
		s:    Snapshot{version: version, ports: make(map[Address]PortDescriptor)},
		seen: make(map[ModuleID]bool),
	}
}

// Put adds the port. It returns true if the address was already present, in
// which case the new descriptor replaces the old one.
func (b *SnapshotBuilder) Put(addr Address, desc PortDescriptor) (conflict bool) {
	if !b.seen[addr.Module] {
		b.seen[addr.Module] = true
		b.s.modules = append(b.s.modules, addr.Module)
	}
	if _, ok := b.s.ports[addr]; ok {
		b.s.conflicts = append(b.s.conflicts, addr)
		b.s.ports[addr] = desc
		return true
	}
	b.s.ports[addr] = desc
	b.s.order = append(b.s.order, addr)
	return false
}

// Build returns the snapshot. The builder must not be used afterwards.
func (b *SnapshotBuilder) Build() *Snapshot {
	s := b.s
	b.s = Snapshot{}
	return &s
}

// Version is a number that grows by one on every rebuild of a session.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Get returns the descriptor of the port at the address.
func (s *Snapshot) Get(addr Address) (PortDescriptor, bool) {
	d, ok := s.ports[addr]
	return d, ok
}

// Len returns the number of addresses in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Addresses returns all addresses in the order they were composed.
func (s *Snapshot) Addresses() []Address {
	return slices.Clone(s.order)
}

// ModulePorts returns the addresses of one module, in declaration order.
func (s *Snapshot) ModulePorts(id ModuleID) []Address {
	var ret []Address
	for _, a := range s.order {
		if a.Module == id {
			ret = append(ret, a)
		}
	}
	return ret
}

// Modules returns the modules that have at least one port, in insertion
// order.
func (s *Snapshot) Modules() []ModuleID {
	return slices.Clone(s.modules)
}

// Contains reports whether any address of the module is in the snapshot.
func (s *Snapshot) Contains(id ModuleID) bool {
	return slices.Contains(s.modules, id)
}

// Conflicts returns the addresses that were put more than once while the
// snapshot was composed. A healthy session has none.
func (s *Snapshot) Conflicts() []Address {
	return slices.Clone(s.conflicts)
}
