// ABOUTME: Opus packet decoder
// ABOUTME: Decodes voice-service Opus packets to int32 samples
package decode

import (
	"fmt"

	"github.com/avslink/avslink-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120 ms at 48 kHz, the longest frame Opus allows
const maxOpusFrame = 5760

// OpusDecoder decodes Opus audio. Each Decode call takes exactly one packet.
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
	pcm      []int16
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder:  dec,
		channels: format.Channels,
		pcm:      make([]int16, maxOpusFrame*format.Channels),
	}, nil
}

// Decode converts one Opus packet to int32 samples
func (d *OpusDecoder) Decode(data []byte) ([]int32, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	out := make([]int32, n*d.channels)
	for i := range out {
		out[i] = audio.SampleFromInt16(d.pcm[i])
	}
	return out, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
