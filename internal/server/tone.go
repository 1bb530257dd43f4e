// ABOUTME: Test tone generator for the file responder
// ABOUTME: Generates a sine wave answer when no response file is configured
package server

import (
	"math"
	"time"

	"github.com/avslink/avslink-go/pkg/audio"
)

const (
	toneSampleRate = 48000
	toneChannels   = 2
)

// Tone describes a generated sine response
type Tone struct {
	Frequency float64
	Duration  time.Duration
}

// DefaultTone is one second of A4
func DefaultTone() Tone {
	return Tone{Frequency: 440.0, Duration: time.Second}
}

// Buffer renders the tone at 48 kHz stereo, 50% volume
func (t Tone) Buffer() audio.Buffer {
	frames := int(t.Duration * toneSampleRate / time.Second)
	samples := make([]int32, frames*toneChannels)

	for i := 0; i < frames; i++ {
		v := math.Sin(2 * math.Pi * t.Frequency * float64(i) / toneSampleRate)
		pcm := int32(v * audio.Max24Bit * 0.5)

		samples[i*toneChannels] = pcm
		samples[i*toneChannels+1] = pcm
	}

	return audio.Buffer{
		Samples: samples,
		Format: audio.Format{
			Codec:      audio.CodecPCM,
			SampleRate: toneSampleRate,
			Channels:   toneChannels,
			BitDepth:   24,
		},
	}
}
