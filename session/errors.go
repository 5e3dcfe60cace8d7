package session

import "errors"

var (
	ErrModuleNotFound    = errors.New("module not found")
	ErrParameterNotFound = errors.New("parameter not found")
	ErrPortNotFound      = errors.New("port not found")
	ErrAddressConflict   = errors.New("duplicate port address")
	ErrIncompatible      = errors.New("incompatible ports")
	ErrCycle             = errors.New("connection would create a cycle")
	ErrWrongModuleType   = errors.New("operation not supported by module type")
	ErrOutOfRange        = errors.New("index out of range")
	ErrIDExhausted       = errors.New("could not allocate a fresh module id")
)
