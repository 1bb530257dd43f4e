// ABOUTME: WAV container encoding
// ABOUTME: Canonical 44-byte RIFF header followed by little-endian PCM
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/avslink/avslink-go/pkg/audio"
)

// WAVHeaderSize is the size of the canonical header written by WAVHeader
const WAVHeaderSize = 44

// WAVHeader returns a PCM WAV header for dataLen bytes of audio in format
func WAVHeader(format audio.Format, dataLen int) []byte {
	blockAlign := format.Channels * format.BitDepth / 8
	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(format.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(format.BitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// EncodeWAV encodes samples as a complete WAV file
func EncodeWAV(format audio.Format, samples []int32) ([]byte, error) {
	if format.BitDepth == 8 {
		return nil, fmt.Errorf("unsupported WAV bit depth: 8")
	}
	enc, err := NewPCM(audio.Format{Codec: audio.CodecPCM, SampleRate: format.SampleRate, Channels: format.Channels, BitDepth: format.BitDepth})
	if err != nil {
		return nil, err
	}
	pcm, err := enc.Encode(samples)
	if err != nil {
		return nil, err
	}
	return append(WAVHeader(format, len(pcm)), pcm...), nil
}
