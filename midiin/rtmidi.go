//go:build cgo

package midiin

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// RTMIDIContext opens inputs through rtmidi.
type RTMIDIContext struct {
	driver    *rtmididrv.Driver
	currentIn drivers.In
	stop      func()
}

// NewContext opens the rtmidi driver. If that fails, the returned context has
// no devices and Open reports ErrNoDriver.
func NewContext() Context {
	m := &RTMIDIContext{}
	// there's not much we can do if this fails, so just use m.driver = nil to
	// indicate no driver available
	m.driver, _ = rtmididrv.New()
	return m
}

func (m *RTMIDIContext) InputDevices() []string {
	if m.driver == nil {
		return nil
	}
	ins, err := m.driver.Ins()
	if err != nil {
		return nil
	}
	ret := make([]string, len(ins))
	for i, in := range ins {
		ret[i] = in.String()
	}
	return ret
}

// Open the input device while closing the currently open if necessary.
func (m *RTMIDIContext) Open(namePrefix string, takeFirst bool, r *Router) error {
	if m.driver == nil {
		return ErrNoDriver
	}
	ins, err := m.driver.Ins()
	if err != nil {
		return fmt.Errorf("listing MIDI inputs failed: %w", err)
	}
	for _, in := range ins {
		if !takeFirst && !strings.HasPrefix(in.String(), namePrefix) {
			continue
		}
		m.closeCurrent()
		if err := in.Open(); err != nil {
			return fmt.Errorf("opening MIDI input failed: %w", err)
		}
		stop, err := midi.ListenTo(in, r.Listen)
		if err != nil {
			in.Close()
			return fmt.Errorf("listening to MIDI input failed: %w", err)
		}
		m.currentIn, m.stop = in, stop
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNoDevice, namePrefix)
}

func (m *RTMIDIContext) closeCurrent() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	if m.currentIn != nil && m.currentIn.IsOpen() {
		m.currentIn.Close()
	}
	m.currentIn = nil
}

func (m *RTMIDIContext) Close() {
	if m.driver == nil {
		return
	}
	m.closeCurrent()
	m.driver.Close()
}
