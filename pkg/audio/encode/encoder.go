// ABOUTME: Encoder interface definition and format-based selection
// ABOUTME: Common interface for all audio encoders
package encode

import (
	"fmt"

	"github.com/avslink/avslink-go/pkg/audio"
)

// Encoder encodes PCM int32 samples to various formats
type Encoder interface {
	// Encode converts PCM samples to encoded audio data
	Encode(samples []int32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New returns an encoder producing format. Only uncompressed and μ-law
// formats are streamable this way; Opus uses NewOpus directly.
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecULaw:
		return NewULaw(format)
	}
	return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
}
