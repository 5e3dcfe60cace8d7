package session

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/websynth/patchbay"
)

// patchedSynth returns a session with a synth wired to an output, played by
// the first voice.
func patchedSynth(t *testing.T, opts ...Option) (*Session, patchbay.ModuleID, patchbay.ModuleID) {
	t.Helper()
	s := New(opts...)
	voice := firstVoice(t, s)
	synth := mustAdd(t, s, ModuleSpec{Type: patchbay.SynthType})
	out := mustAdd(t, s, ModuleSpec{Type: patchbay.OutputType})
	require.NoError(t, s.Connect(addr(out, "input_1"), addr(synth, "output")))
	require.NoError(t, s.SetVoiceTarget(voice, synth, 60))
	return s, voice, synth
}

func TestBounceStepsOnTime(t *testing.T) {
	s, voice, synth := patchedSynth(t, WithSampleRate(8000))
	s.SetBPM(60)
	require.NoError(t, s.SetWidth(4))
	require.NoError(t, s.Mark(voice, 1))

	// a step lasts 250 ms, so column 1 starts at sample 2000
	out := s.Bounce(4000, 300, rand.New(rand.NewPCG(1, 2)))
	require.Len(t, out, 4000)
	for i, v := range out[:2000] {
		require.Zero(t, v, "sample %d before the marked step", i)
	}
	peak := 0.0
	for _, v := range out[2000:] {
		peak = math.Max(peak, math.Abs(v))
	}
	assert.Greater(t, peak, 0.0)
	assert.Empty(t, gated(t, s, synth))
}

func TestRunSequencer(t *testing.T) {
	s, voice, synth := patchedSynth(t)
	s.SetBPM(patchbay.MaxBPM)
	require.NoError(t, s.SetWidth(1))
	require.NoError(t, s.Mark(voice, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSequencer(ctx, nil)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return len(gated(t, s, synth)) == 1
	}, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, gated(t, s, synth))
}
