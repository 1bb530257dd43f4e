// ABOUTME: Tests for WAV container encoding
// ABOUTME: Decodes encoded files with the WAV decoder
package encode

import (
	"bytes"
	"testing"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/audio/decode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVDecodes(t *testing.T) {
	format := audio.Format{Codec: audio.CodecWAV, SampleRate: 44100, Channels: 2, BitDepth: 16}
	samples := []int32{0, 256, -256, 1 << 20, -(1 << 20), 0}

	data, err := EncodeWAV(format, samples)
	require.NoError(t, err)
	assert.Len(t, data, WAVHeaderSize+len(samples)*2)

	buf, err := decode.DecodeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 44100, buf.Format.SampleRate)
	assert.Equal(t, 2, buf.Format.Channels)
	assert.Equal(t, samples, buf.Samples)
}

func TestEncodeWAVRejectsEightBit(t *testing.T) {
	_, err := EncodeWAV(audio.Format{Codec: audio.CodecWAV, SampleRate: 8000, Channels: 1, BitDepth: 8}, []int32{0})
	assert.Error(t, err)
}
