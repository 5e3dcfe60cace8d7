package patchbay

import (
	"fmt"
	"strings"
)

// Patch is the ordered list of modules of a session. Order is insertion
// order.
type Patch []Module

// Copy makes a deep copy of a Patch.
func (p Patch) Copy() Patch {
	modules := make([]Module, len(p))
	for i, m := range p {
		modules[i] = m.Copy()
	}
	return modules
}

// CountType returns the number of modules of the given type.
func (p Patch) CountType(typ string) int {
	ret := 0
	for _, m := range p {
		if m.Type == typ {
			ret++
		}
	}
	return ret
}

// Validate checks the contents and the id of every module of the patch.
func (p Patch) Validate() error {
	for i := range p {
		if err := p[i].Validate(); err != nil {
			return fmt.Errorf("module %d (%v): %w", i, p[i].ID, err)
		}
		if err := p[i].ID.Validate(); err != nil {
			return fmt.Errorf("module %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the id can name a module: it is not empty and has no
// dots, which separate the module from the port in an address.
func (id ModuleID) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModuleID)
	}
	if strings.Contains(string(id), ".") {
		return fmt.Errorf("%w: %q contains a dot", ErrInvalidModuleID, id)
	}
	return nil
}
