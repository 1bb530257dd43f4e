// ABOUTME: Opus audio encoder
// ABOUTME: Encodes int32 samples to Opus packets in 20 ms frames
package encode

import (
	"fmt"

	"github.com/avslink/avslink-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the largest packet Encode will produce
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder  *opus.Encoder
	channels int
	// samples per packet across all channels
	frameSamples int
	pending      []int32
}

// NewOpus creates a new Opus encoder using 20 ms frames
func NewOpus(format audio.Format) (*OpusEncoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder:      encoder,
		channels:     format.Channels,
		frameSamples: format.SampleRate / 50 * format.Channels,
	}, nil
}

// FrameSamples returns the number of interleaved samples in one packet
func (e *OpusEncoder) FrameSamples() int {
	return e.frameSamples
}

// Encode converts exactly one frame of int32 samples to an Opus packet
func (e *OpusEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples) != e.frameSamples {
		return nil, fmt.Errorf("opus frame needs %d samples, got %d", e.frameSamples, len(samples))
	}

	pcm := make([]int16, len(samples))
	for i, sample := range samples {
		pcm[i] = audio.SampleToInt16(sample)
	}

	data := make([]byte, maxOpusPacket)
	n, err := e.encoder.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}
	return data[:n], nil
}

// Packets buffers samples and returns a packet for every complete frame.
// Leftover samples wait for the next call.
func (e *OpusEncoder) Packets(samples []int32) ([][]byte, error) {
	e.pending = append(e.pending, samples...)

	var packets [][]byte
	for len(e.pending) >= e.frameSamples {
		packet, err := e.Encode(e.pending[:e.frameSamples])
		if err != nil {
			return packets, err
		}
		packets = append(packets, packet)
		e.pending = e.pending[e.frameSamples:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return packets, nil
}

// Flush pads any buffered samples with silence and encodes them
func (e *OpusEncoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	frame := make([]int32, e.frameSamples)
	copy(frame, e.pending)
	e.pending = nil
	return e.Encode(frame)
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	e.pending = nil
	return nil
}
