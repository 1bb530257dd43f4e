// ABOUTME: PCM and μ-law audio encoders
// ABOUTME: Encodes int32 samples to 8/16/24/32-bit PCM or G.711 μ-law bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/zaf/g711"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	bitDepth int
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}

	switch format.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 8, 16, 24, 32)", format.BitDepth)
	}

	return &PCMEncoder{bitDepth: format.BitDepth}, nil
}

// Encode converts int32 samples to PCM bytes
func (e *PCMEncoder) Encode(samples []int32) ([]byte, error) {
	width := e.bitDepth / 8
	output := make([]byte, len(samples)*width)
	for i, sample := range samples {
		b := output[i*width:]
		switch e.bitDepth {
		case 8:
			b[0] = audio.SampleToUint8(sample)
		case 16:
			binary.LittleEndian.PutUint16(b, uint16(audio.SampleToInt16(sample)))
		case 24:
			packed := audio.SampleTo24Bit(sample)
			copy(b, packed[:])
		case 32:
			binary.LittleEndian.PutUint32(b, uint32(audio.SampleToInt32(sample)))
		}
	}
	return output, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}

// ULawEncoder compresses samples to one μ-law byte each
type ULawEncoder struct{}

// NewULaw creates a new μ-law encoder
func NewULaw(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecULaw {
		return nil, fmt.Errorf("invalid codec for μ-law encoder: %s", format.Codec)
	}
	return &ULawEncoder{}, nil
}

// Encode converts int32 samples to μ-law bytes
func (e *ULawEncoder) Encode(samples []int32) ([]byte, error) {
	output := make([]byte, len(samples))
	for i, sample := range samples {
		output[i] = g711.EncodeUlawFrame(audio.SampleToInt16(sample))
	}
	return output, nil
}

// Close releases resources
func (e *ULawEncoder) Close() error {
	return nil
}

// CompressPCM16 converts 16-bit little-endian PCM to μ-law, halving its size.
// A trailing odd byte is dropped.
func CompressPCM16(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm[:len(pcm)&^1])
}

// ExpandULaw converts μ-law bytes to 16-bit little-endian PCM
func ExpandULaw(ulaw []byte) []byte {
	return g711.DecodeUlaw(ulaw)
}
