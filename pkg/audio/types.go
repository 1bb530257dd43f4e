// ABOUTME: Audio type definitions
// ABOUTME: Defines audio formats, decoded buffers and sample conversions
package audio

import (
	"fmt"
	"time"

	"github.com/avslink/avslink-go/pkg/protocol"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Codec names used in Format.Codec
const (
	CodecPCM  = "pcm"
	CodecULaw = "ulaw"
	CodecMP3  = "mp3"
	CodecWAV  = "wav"
	CodecAAC  = "aac"
	CodecFLAC = "flac"
	CodecOpus = "opus"
)

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dHz %dch %dbit", f.Codec, f.SampleRate, f.Channels, f.BitDepth)
}

// BytesPerSecond is the byte rate of uncompressed audio in this format.
// Zero for compressed codecs.
func (f Format) BytesPerSecond() int {
	switch f.Codec {
	case CodecPCM, CodecWAV:
		return f.SampleRate * f.Channels * f.BitDepth / 8
	case CodecULaw:
		return f.SampleRate * f.Channels
	}
	return 0
}

// Duration returns how long n bytes of uncompressed audio play for
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// FormatFromCapabilities maps a handshake capability word to a stream format.
// Raw 8-bit audio on the device link is always G.711 μ-law.
func FormatFromCapabilities(c protocol.Capabilities) Format {
	f := Format{
		SampleRate: c.Rate.Hz(),
		Channels:   c.Channels.Count(),
		BitDepth:   c.Depth.Bits(),
	}
	switch c.Format {
	case protocol.FormatMP3:
		f.Codec = CodecMP3
	case protocol.FormatWAV:
		f.Codec = CodecWAV
	case protocol.FormatAAC:
		f.Codec = CodecAAC
	default:
		f.Codec = CodecPCM
		if f.BitDepth == 8 {
			f.Codec = CodecULaw
		}
	}
	return f
}

// Buffer represents decoded PCM audio
type Buffer struct {
	Samples []int32 // PCM samples in 24-bit range
	Format  Format
}

// Duration returns the play time of the buffer
func (b Buffer) Duration() time.Duration {
	if b.Format.SampleRate == 0 || b.Format.Channels == 0 {
		return 0
	}
	frames := len(b.Samples) / b.Format.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.Format.SampleRate)
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// sign extend from bit 23
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// SampleFromInt32 scales a full-range 32-bit sample into the 24-bit range
func SampleFromInt32(sample int32) int32 {
	return sample >> 8
}

// SampleToInt32 scales a 24-bit range sample to full 32-bit range
func SampleToInt32(sample int32) int32 {
	return sample << 8
}

// SampleFromUint8 converts unsigned 8-bit PCM to the 24-bit range
func SampleFromUint8(sample uint8) int32 {
	return (int32(sample) - 128) << 16
}

// SampleToUint8 converts a 24-bit range sample to unsigned 8-bit PCM
func SampleToUint8(sample int32) uint8 {
	return uint8((sample >> 16) + 128)
}

// ScaleToBitDepth converts a sample of the given bit depth to the 24-bit range
func ScaleToBitDepth(sample int32, bits int) int32 {
	switch {
	case bits == 24:
		return sample
	case bits < 24:
		return sample << (24 - bits)
	default:
		return sample >> (bits - 24)
	}
}
