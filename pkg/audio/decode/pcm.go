// ABOUTME: PCM and WAV audio decoders
// ABOUTME: Decodes 8/16/24/32-bit little-endian PCM to int32 samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/avslink/avslink-go/pkg/audio"
)

// wavHeaderSize is the canonical RIFF/WAVE header length
const wavHeaderSize = 44

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	bitDepth int
	// partial sample left over from the previous call
	carry []byte
	// header bytes still to skip (WAV)
	skip int
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	return newPCM(format.BitDepth)
}

// NewWAV creates a decoder for a WAV stream: the 44-byte header is skipped
// and the rest is decoded as PCM
func NewWAV(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecWAV {
		return nil, fmt.Errorf("invalid codec for WAV decoder: %s", format.Codec)
	}
	d, err := newPCM(format.BitDepth)
	if err != nil {
		return nil, err
	}
	d.skip = wavHeaderSize
	return d, nil
}

func newPCM(bitDepth int) (*PCMDecoder, error) {
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 8, 16, 24, 32)", bitDepth)
	}
	return &PCMDecoder{bitDepth: bitDepth}, nil
}

// Decode converts PCM bytes to int32 samples
func (d *PCMDecoder) Decode(data []byte) ([]int32, error) {
	if d.skip > 0 {
		n := min(d.skip, len(data))
		d.skip -= n
		data = data[n:]
	}

	if len(d.carry) > 0 {
		data = append(d.carry, data...)
		d.carry = nil
	}

	width := d.bitDepth / 8
	numSamples := len(data) / width
	if rest := data[numSamples*width:]; len(rest) > 0 {
		d.carry = append([]byte(nil), rest...)
	}

	samples := make([]int32, numSamples)
	for i := range samples {
		b := data[i*width:]
		switch d.bitDepth {
		case 8:
			samples[i] = audio.SampleFromUint8(b[0])
		case 16:
			samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(b)))
		case 24:
			samples[i] = audio.SampleFrom24Bit([3]byte{b[0], b[1], b[2]})
		case 32:
			samples[i] = audio.SampleFromInt32(int32(binary.LittleEndian.Uint32(b)))
		}
	}
	return samples, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	d.carry = nil
	return nil
}
