// Package oto plays an audio source on the default output device.
package oto

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/viterin/vek/vek32"

	"github.com/websynth/patchbay"
)

const bytesPerFrame = 2 * 4 // stereo float32

// Context is an open audio device.
type Context struct {
	ctx *oto.Context
}

// Player pulls blocks from its source as the device asks for them.
type Player struct {
	player *oto.Player
}

// NewContext opens the default output device at the sample rate and waits
// until it is ready.
func NewContext(sampleRate int) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx}, nil
}

// Play starts playing src. blockSize is the number of samples src renders at
// a time.
func (c *Context) Play(src patchbay.AudioSource, blockSize int) *Player {
	p := c.ctx.NewPlayer(NewStream(src, blockSize))
	p.Play()
	return &Player{player: p}
}

// Close disposes of resources
func (p *Player) Close() error {
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

// Stream is an io.Reader of interleaved stereo float32 little-endian frames
// rendered from a mono source. It never returns an error or io.EOF.
type Stream struct {
	mu      sync.Mutex
	src     patchbay.AudioSource
	block   []float64
	samples []float32
	buf     []byte
	pending []byte // unread tail of buf
}

// NewStream returns a stream rendering blockSize samples of src at a time.
// A non-positive blockSize means patchbay.DefaultBlockSize.
func NewStream(src patchbay.AudioSource, blockSize int) *Stream {
	if blockSize <= 0 {
		blockSize = patchbay.DefaultBlockSize
	}
	return &Stream{
		src:     src,
		block:   make([]float64, blockSize),
		samples: make([]float32, blockSize),
		buf:     make([]byte, 0, blockSize*bytesPerFrame),
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(p) {
		if len(s.pending) == 0 {
			s.fill()
		}
		c := copy(p[n:], s.pending)
		s.pending = s.pending[c:]
		n += c
	}
	return n, nil
}

// fill renders the next block into pending.
func (s *Stream) fill() {
	s.src.Render(s.block)
	vek32.FromFloat64_Into(s.samples, s.block)
	s.buf = s.buf[:0]
	var b [4]byte
	for _, v := range s.samples {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		s.buf = append(s.buf, b[:]...)
		s.buf = append(s.buf, b[:]...)
	}
	s.pending = s.buf
}
