package patchbay

import "errors"

var (
	ErrUnknownModuleType = errors.New("unknown module type")
	ErrUnknownEffectType = errors.New("unknown effect type")
	ErrUnknownParameter  = errors.New("unknown parameter")
	ErrInvalidModuleID   = errors.New("invalid module id")
)
