package patchbay

import (
	"fmt"
	"strings"

	"github.com/websynth/patchbay/engine"
)

type (
	// Direction tells whether a port consumes or produces a signal.
	Direction int

	// Kind tells what flows through a port: a number or an audio signal.
	Kind int

	// Address names one port of one module. The zero Address refers to no
	// port at all and is used for disconnected inputs.
	Address struct {
		Module ModuleID `json:"module"`
		Port   string   `json:"port"`
	}

	// PortSpec is a port as declared by a module, before it is bound to a
	// live endpoint.
	PortSpec struct {
		Name      string
		Direction Direction
		Kind      Kind
	}

	// PortDescriptor is the value the snapshot stores for an address: which
	// way the port points and the live processing endpoint behind it.
	PortDescriptor struct {
		Direction Direction
		Endpoint  Endpoint
	}

	// Endpoint is the live processing resource behind a port. It is a closed
	// union: the only implementations are NumberParameter and AudioSignal.
	Endpoint interface {
		Kind() Kind
		endpoint()
	}

	// NumberParameter is an endpoint carrying a single modulatable number.
	NumberParameter struct {
		Param *engine.Param
	}

	// AudioSignal is an endpoint carrying audio. For output ports Node
	// produces the signal; for input ports Node is the *engine.Input slot the
	// signal is routed into.
	AudioSignal struct {
		Node engine.Node
	}
)

const (
	Input Direction = iota
	Output
)

const (
	NumberKind Kind = iota
	AudioKind
)

func (NumberParameter) Kind() Kind { return NumberKind }
func (AudioSignal) Kind() Kind     { return AudioKind }
func (NumberParameter) endpoint()  {}
func (AudioSignal) endpoint()      {}

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func (k Kind) String() string {
	switch k {
	case NumberKind:
		return "number"
	case AudioKind:
		return "audioSignal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsZero reports whether the address refers to no port.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) String() string {
	if a.IsZero() {
		return "<none>"
	}
	return string(a.Module) + "." + a.Port
}

// ParseAddress parses the "module.port" form produced by Address.String.
// Module IDs never contain dots, so the first dot separates the two.
func ParseAddress(s string) (Address, error) {
	module, port, ok := strings.Cut(s, ".")
	if !ok || module == "" || port == "" {
		return Address{}, fmt.Errorf("invalid address %q, expected module.port", s)
	}
	return Address{Module: ModuleID(module), Port: port}, nil
}
