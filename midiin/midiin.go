// Package midiin feeds messages from MIDI input devices to a handler, usually
// a session.
package midiin

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"
)

var (
	ErrNoDriver = errors.New("no MIDI driver available")
	ErrNoDevice = errors.New("no matching MIDI input")
)

type (
	// Handler consumes MIDI messages. *session.Session implements it.
	Handler interface {
		HandleMIDI(msg midi.Message)
	}

	// Context lists and opens MIDI input devices.
	Context interface {
		InputDevices() []string
		// Open starts listening to the first device whose name starts with
		// namePrefix, or to the first device at all if takeFirst is set.
		Open(namePrefix string, takeFirst bool, r *Router) error
		Close()
	}

	// NullContext is the Context used when no MIDI driver is compiled in.
	NullContext struct{}

	// Router decouples the driver callback from the handler: Listen never
	// blocks, and Run delivers the queued messages in order.
	Router struct {
		handler Handler
		logger  *slog.Logger
		events  chan midi.Message
		dropped atomic.Int64
	}
)

func (NullContext) InputDevices() []string { return nil }
func (NullContext) Open(string, bool, *Router) error { return ErrNoDriver }
func (NullContext) Close() {}

// NewRouter returns a router that queues at most size messages.
func NewRouter(h Handler, size int, logger *slog.Logger) *Router {
	if size <= 0 {
		size = 1024
	}
	return &Router{handler: h, logger: logger, events: make(chan midi.Message, size)}
}

// Listen queues the message. If the queue is full the message is dropped.
// Its signature matches the callback of midi.ListenTo.
func (r *Router) Listen(msg midi.Message, _ int32) {
	select {
	case r.events <- msg:
	default:
		if r.dropped.Add(1) == 1 && r.logger != nil {
			r.logger.Warn("MIDI queue full, dropping messages")
		}
	}
}

// Dropped returns the number of messages dropped so far.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

// Run delivers queued messages to the handler until ctx is done.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.events:
			r.handler.HandleMIDI(msg)
		}
	}
}
