package main

import (
	"context"
	"log/slog"

	"github.com/websynth/patchbay/midiin"
	"github.com/websynth/patchbay/oto"
	"github.com/websynth/patchbay/session"
)

// startAudio plays the session on the default output device until the
// returned func is called.
func startAudio(cfg Config, s *session.Session, logger *slog.Logger) (func(), error) {
	ctx, err := oto.NewContext(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	player := ctx.Play(s, cfg.BlockSize)
	logger.Info("audio started", "sample_rate", cfg.SampleRate, "block_size", cfg.BlockSize)
	return func() {
		if err := player.Close(); err != nil {
			logger.Warn("closing audio failed", "error", err)
		}
	}, nil
}

// startMIDI feeds the MIDI input named by cfg.MIDIInput to the session until
// ctx is done. "*" takes the first input available. An empty name or a
// missing driver is not an error; MIDI is just left off.
func startMIDI(ctx context.Context, cfg Config, s *session.Session, logger *slog.Logger) func() {
	if cfg.MIDIInput == "" {
		return func() {}
	}
	mctx := midiin.NewContext()
	router := midiin.NewRouter(s, 0, logger)
	if err := mctx.Open(cfg.MIDIInput, cfg.MIDIInput == "*", router); err != nil {
		logger.Warn("MIDI input unavailable", "error", err, "devices", mctx.InputDevices())
		mctx.Close()
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		router.Run(ctx)
		close(done)
	}()
	logger.Info("MIDI input opened", "name", cfg.MIDIInput)
	return func() {
		mctx.Close()
		cancel()
		<-done
		if n := router.Dropped(); n > 0 {
			logger.Warn("MIDI messages dropped", "count", n)
		}
	}
}
