// ABOUTME: Decoder interface definition and capability-based selection
// ABOUTME: Common interface for all audio decoders
package decode

import (
	"fmt"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/protocol"
)

// Decoder decodes audio in various formats to PCM int32 samples.
// Input may be split at any byte boundary; decoders carry partial samples
// over to the next call.
type Decoder interface {
	// Decode converts encoded audio data to PCM samples
	Decode(data []byte) ([]int32, error)

	// Close releases decoder resources
	Close() error
}

// Flusher is implemented by decoders that buffer input internally.
// Flush ends the stream and returns any samples still pending.
type Flusher interface {
	Flush() ([]int32, error)
}

// Supported reports whether New can decode codec
func Supported(codec string) bool {
	switch codec {
	case audio.CodecPCM, audio.CodecWAV, audio.CodecULaw, audio.CodecMP3, audio.CodecOpus:
		return true
	}
	return false
}

// New returns a decoder for format
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecWAV:
		return NewWAV(format)
	case audio.CodecULaw:
		return NewULaw(format)
	case audio.CodecMP3:
		return NewMP3(format)
	case audio.CodecOpus:
		return NewOpus(format)
	}
	return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
}

// ForCapabilities returns a decoder for audio described by a capability word
func ForCapabilities(c protocol.Capabilities) (Decoder, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return New(audio.FormatFromCapabilities(c))
}

// OutputFormat returns the format of the samples a decoder for format produces
func OutputFormat(format audio.Format) audio.Format {
	out := audio.Format{
		Codec:      audio.CodecPCM,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		BitDepth:   24,
	}
	if format.Codec == audio.CodecMP3 {
		// go-mp3 always produces stereo
		out.Channels = 2
	}
	return out
}
