package session

import "github.com/viterin/vek"

// Render fills out with the next block of the session's audio: the sum of
// every output module. Each call renders a new frame, so every node in the
// graph is evaluated once per call no matter how many ports it feeds.
func (s *Session) Render(out []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(out)
	if len(out) == 0 {
		return
	}
	s.frame++
	if cap(s.mix) < len(out) {
		s.mix = make([]float64, len(out))
	}
	s.mix = s.mix[:len(out)]
	for _, e := range s.modules {
		o, ok := e.inst.(*outputInstance)
		if !ok {
			continue
		}
		o.out.Render(s.frame, s.mix)
		vek.Add_Inplace(out, s.mix)
	}
}

// SampleRate returns the rate the session renders at.
func (s *Session) SampleRate() int {
	return int(s.sampleRate)
}
