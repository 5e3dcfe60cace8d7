package session

import (
	"context"
	"math/rand/v2"
	"time"
)

// Panic releases every note held by the sequencer and the keyboard.
func (s *Session) Panic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAll()
}

// RunSequencer steps through the columns in real time, starting from column
// 0, until ctx is done. Tempo and width changes apply from the next step.
func (s *Session) RunSequencer(ctx context.Context, rnd *rand.Rand) {
	column := 0
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Panic()
			return
		case <-timer.C:
			settings := s.Sequencer()
			column %= settings.Width
			s.Step(column)
			timer.Reset(settings.StepDuration(column, rnd))
			column++
		}
	}
}

// Bounce renders length samples offline in blocks of at most blockSize,
// stepping the sequencer at the sample its steps fall on, as if RunSequencer
// had been started at the first sample. Held notes are released afterwards.
func (s *Session) Bounce(length, blockSize int, rnd *rand.Rand) []float64 {
	if blockSize <= 0 {
		blockSize = 256
	}
	out := make([]float64, length)
	column := 0
	nextStep := 0.0
	for pos := 0; pos < length; {
		if float64(pos) >= nextStep {
			settings := s.Sequencer()
			column %= settings.Width
			s.Step(column)
			nextStep += settings.StepDuration(column, rnd).Seconds() * s.sampleRate
			column++
		}
		n := min(blockSize, length-pos, max(int(nextStep)-pos, 1))
		s.Render(out[pos : pos+n])
		pos += n
	}
	s.Panic()
	return out
}
