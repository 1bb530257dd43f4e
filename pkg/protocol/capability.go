// ABOUTME: Device audio capability word codec
// ABOUTME: Packs format, bit depth, sample rate and channel count into 16 bits
package protocol

import (
	"fmt"
	"strings"
)

// Bit offsets of the capability fields. Every field is 4 bits wide.
const (
	capOffsetFormat   = 0
	capOffsetDepth    = 4
	capOffsetRate     = 8
	capOffsetChannels = 12
	capFieldMask      = 0xF
)

// AudioFormat is the container/codec code of a capability word
type AudioFormat uint8

const (
	FormatRAW AudioFormat = 0
	FormatMP3 AudioFormat = 1
	FormatWAV AudioFormat = 2
	FormatAAC AudioFormat = 3
)

// BitDepth is the sample width code of a capability word
type BitDepth uint8

const (
	Depth8  BitDepth = 0
	Depth16 BitDepth = 1
	Depth24 BitDepth = 2
	Depth32 BitDepth = 3
)

// SampleRate is the sample rate code of a capability word.
// The codes are not ordered by rate; 8000 Hz was added last.
type SampleRate uint8

const (
	Rate16000 SampleRate = 0
	Rate32000 SampleRate = 1
	Rate44100 SampleRate = 2
	Rate48000 SampleRate = 3
	Rate96000 SampleRate = 4
	Rate8000  SampleRate = 5
)

// ChannelCount is the channel layout code of a capability word
type ChannelCount uint8

const (
	Mono   ChannelCount = 0
	Stereo ChannelCount = 1
)

// Capabilities describes the audio a device sends or accepts
type Capabilities struct {
	Format   AudioFormat
	Depth    BitDepth
	Rate     SampleRate
	Channels ChannelCount
}

// DefaultCapabilities returns RAW 16-bit 16 kHz mono, the format every device supports
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Format:   FormatRAW,
		Depth:    Depth16,
		Rate:     Rate16000,
		Channels: Mono,
	}
}

// EncodeCapabilities packs c into a capability word.
// Each field is masked to 4 bits before shifting, so out-of-range values
// are truncated rather than rejected. Call Validate first when that matters.
func EncodeCapabilities(c Capabilities) uint16 {
	var w uint16
	w |= (uint16(c.Format) & capFieldMask) << capOffsetFormat
	w |= (uint16(c.Depth) & capFieldMask) << capOffsetDepth
	w |= (uint16(c.Rate) & capFieldMask) << capOffsetRate
	w |= (uint16(c.Channels) & capFieldMask) << capOffsetChannels
	return w
}

// DecodeCapabilities unpacks a capability word. It never fails; fields that
// do not name a known value are returned as-is and rejected by Validate.
func DecodeCapabilities(w uint16) Capabilities {
	return Capabilities{
		Format:   AudioFormat((w >> capOffsetFormat) & capFieldMask),
		Depth:    BitDepth((w >> capOffsetDepth) & capFieldMask),
		Rate:     SampleRate((w >> capOffsetRate) & capFieldMask),
		Channels: ChannelCount((w >> capOffsetChannels) & capFieldMask),
	}
}

// Validate reports whether every field names a known value
func (c Capabilities) Validate() error {
	switch {
	case c.Format > FormatAAC:
		return fmt.Errorf("%w: format %d", ErrUnknownCapability, c.Format)
	case c.Depth > Depth32:
		return fmt.Errorf("%w: bit depth %d", ErrUnknownCapability, c.Depth)
	case c.Rate > Rate8000:
		return fmt.Errorf("%w: sample rate %d", ErrUnknownCapability, c.Rate)
	case c.Channels > Stereo:
		return fmt.Errorf("%w: channels %d", ErrUnknownCapability, c.Channels)
	}
	return nil
}

func (c Capabilities) String() string {
	return fmt.Sprintf("%s/%d-bit/%dHz/%dch", c.Format, c.Depth.Bits(), c.Rate.Hz(), c.Channels.Count())
}

var formatNames = map[AudioFormat]string{
	FormatRAW: "raw",
	FormatMP3: "mp3",
	FormatWAV: "wav",
	FormatAAC: "aac",
}

func (f AudioFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// ParseAudioFormat parses a format name such as "raw" or "MP3"
func ParseAudioFormat(s string) (AudioFormat, error) {
	for f, name := range formatNames {
		if strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: format %q", ErrUnknownCapability, s)
}

var depthBits = [...]int{Depth8: 8, Depth16: 16, Depth24: 24, Depth32: 32}

// Bits returns the sample width in bits, or 0 for unknown codes
func (d BitDepth) Bits() int {
	if int(d) < len(depthBits) {
		return depthBits[d]
	}
	return 0
}

// BytesPerSample returns the sample width in bytes
func (d BitDepth) BytesPerSample() int {
	return d.Bits() / 8
}

// BitDepthFromBits maps a sample width in bits to its code
func BitDepthFromBits(bits int) (BitDepth, error) {
	for code, b := range depthBits {
		if b == bits {
			return BitDepth(code), nil
		}
	}
	return 0, fmt.Errorf("%w: bit depth %d", ErrUnknownCapability, bits)
}

var rateHz = [...]int{
	Rate16000: 16000,
	Rate32000: 32000,
	Rate44100: 44100,
	Rate48000: 48000,
	Rate96000: 96000,
	Rate8000:  8000,
}

// Hz returns the sample rate in hertz, or 0 for unknown codes
func (r SampleRate) Hz() int {
	if int(r) < len(rateHz) {
		return rateHz[r]
	}
	return 0
}

// SampleRateFromHz maps a sample rate in hertz to its code
func SampleRateFromHz(hz int) (SampleRate, error) {
	for code, v := range rateHz {
		if v == hz {
			return SampleRate(code), nil
		}
	}
	return 0, fmt.Errorf("%w: sample rate %d", ErrUnknownCapability, hz)
}

// Count returns the number of channels, or 0 for unknown codes
func (c ChannelCount) Count() int {
	switch c {
	case Mono:
		return 1
	case Stereo:
		return 2
	}
	return 0
}

// ChannelCountFromCount maps a channel count to its code
func ChannelCountFromCount(n int) (ChannelCount, error) {
	switch n {
	case 1:
		return Mono, nil
	case 2:
		return Stereo, nil
	}
	return 0, fmt.Errorf("%w: channels %d", ErrUnknownCapability, n)
}
