package patchbay

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const wavChannels = 2

type (
	// wavFormat is the body of the "fmt " chunk, extension size included.
	// Refer to: http://www-mmsp.ece.mcgill.ca/Documents/AudioFormats/WAVE/WAVE.html
	wavFormat struct {
		Format         uint16
		Channels       uint16
		SampleRate     uint32
		BytesPerSecond uint32
		BlockAlign     uint16
		BitsPerSample  uint16
		ExtensionSize  uint16
	}

	wavChunk struct {
		ID   [4]byte
		Size uint32
	}
)

// Wav encodes an interleaved stereo buffer as a .wav file, either as 16-bit
// PCM or as float32 samples. PCM samples are clipped to [-1, 1].
func Wav(buffer []float32, sampleRate int, pcm16 bool) ([]byte, error) {
	var data any = buffer
	format := wavFormat{Format: 3, BitsPerSample: 32} // IEEE float
	fmtSize := binary.Size(format)
	if pcm16 {
		samples := make([]int16, len(buffer))
		for i, v := range buffer {
			samples[i] = int16(min(max(int(v*math.MaxInt16), math.MinInt16), math.MaxInt16))
		}
		data = samples
		format = wavFormat{Format: 1, BitsPerSample: 16}
		fmtSize -= 2 // PCM has no extension
	}
	bytesPerSample := int(format.BitsPerSample / 8)
	format.Channels = wavChannels
	format.SampleRate = uint32(sampleRate)
	format.BlockAlign = uint16(wavChannels * bytesPerSample)
	format.BytesPerSecond = uint32(sampleRate * wavChannels * bytesPerSample)
	dataSize := bytesPerSample * len(buffer)

	// RIFF size counts everything after its own header
	riffSize := 4 + 8 + fmtSize + 8 + dataSize
	if !pcm16 {
		riffSize += 8 + 4 // fact chunk
	}
	buf := new(bytes.Buffer)
	buf.Grow(8 + riffSize)
	write := func(v any) {
		binary.Write(buf, binary.LittleEndian, v) // writes to a bytes.Buffer do not fail
	}
	write(wavChunk{ID: [4]byte{'R', 'I', 'F', 'F'}, Size: uint32(riffSize)})
	buf.WriteString("WAVE")
	write(wavChunk{ID: [4]byte{'f', 'm', 't', ' '}, Size: uint32(fmtSize)})
	if pcm16 {
		write(format.pcm())
	} else {
		write(format)
		write(wavChunk{ID: [4]byte{'f', 'a', 'c', 't'}, Size: 4})
		write(uint32(len(buffer) / wavChannels)) // sample frames
	}
	write(wavChunk{ID: [4]byte{'d', 'a', 't', 'a'}, Size: uint32(dataSize)})
	if err := binary.Write(buf, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("could not encode samples: %w", err)
	}
	return buf.Bytes(), nil
}

// pcm returns the format without the extension size field.
func (f wavFormat) pcm() [16]byte {
	var ret [16]byte
	binary.LittleEndian.PutUint16(ret[0:], f.Format)
	binary.LittleEndian.PutUint16(ret[2:], f.Channels)
	binary.LittleEndian.PutUint32(ret[4:], f.SampleRate)
	binary.LittleEndian.PutUint32(ret[8:], f.BytesPerSecond)
	binary.LittleEndian.PutUint16(ret[12:], f.BlockAlign)
	binary.LittleEndian.PutUint16(ret[14:], f.BitsPerSample)
	return ret
}
