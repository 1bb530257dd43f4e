// ABOUTME: G.711 μ-law decoder
// ABOUTME: Expands 8-bit μ-law bytes to int32 samples
package decode

import (
	"fmt"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/zaf/g711"
)

// ULawDecoder decodes μ-law audio, one byte per sample
type ULawDecoder struct{}

// NewULaw creates a new μ-law decoder
func NewULaw(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecULaw {
		return nil, fmt.Errorf("invalid codec for μ-law decoder: %s", format.Codec)
	}
	return &ULawDecoder{}, nil
}

// Decode converts μ-law bytes to int32 samples
func (d *ULawDecoder) Decode(data []byte) ([]int32, error) {
	samples := make([]int32, len(data))
	for i, b := range data {
		samples[i] = audio.SampleFromInt16(g711.DecodeUlawFrame(b))
	}
	return samples, nil
}

// Close releases resources
func (d *ULawDecoder) Close() error {
	return nil
}
