//go:build !cgo

package midiin

// NewContext returns a NullContext: without cgo there is no MIDI driver.
func NewContext() Context {
	return NullContext{}
}
