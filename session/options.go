package session

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/websynth/patchbay"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics makes the session report to m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithStrictAddresses makes a structural change that would compose a
// snapshot with duplicate addresses fail with ErrAddressConflict and leave
// the session unchanged. Without it the last module wins and the conflict is
// only logged and counted.
func WithStrictAddresses() Option {
	return func(s *Session) {
		s.strict = true
	}
}

// WithSampleRate sets the sample rate the engine renders at.
func WithSampleRate(rate int) Option {
	return func(s *Session) {
		if rate > 0 {
			s.sampleRate = float64(rate)
		}
	}
}

// WithPolyphony sets the number of voices of each synth.
func WithPolyphony(voices int) Option {
	return func(s *Session) {
		if voices > 0 {
			s.polyphony = voices
		}
	}
}

// WithIDGenerator replaces the uuid based identifier source. Identifiers the
// session has already handed out are skipped, so the generator does not need
// to be collision free.
func WithIDGenerator(gen func() patchbay.ModuleID) Option {
	return func(s *Session) {
		s.newID = gen
	}
}

func newUUID() patchbay.ModuleID {
	return patchbay.ModuleID(uuid.NewString())
}
