// ABOUTME: Tests for audio types
// ABOUTME: Tests capability mapping, durations and sample conversion
package audio

import (
	"testing"
	"time"

	"github.com/avslink/avslink-go/pkg/protocol"
)

func TestFormatFromCapabilities(t *testing.T) {
	tests := []struct {
		name     string
		caps     protocol.Capabilities
		expected Format
	}{
		{"default", protocol.DefaultCapabilities(), Format{Codec: CodecPCM, SampleRate: 16000, Channels: 1, BitDepth: 16}},
		{"ulaw", protocol.Capabilities{Format: protocol.FormatRAW, Depth: protocol.Depth8, Rate: protocol.Rate8000}, Format{Codec: CodecULaw, SampleRate: 8000, Channels: 1, BitDepth: 8}},
		{"mp3 stereo", protocol.Capabilities{Format: protocol.FormatMP3, Depth: protocol.Depth16, Rate: protocol.Rate44100, Channels: protocol.Stereo}, Format{Codec: CodecMP3, SampleRate: 44100, Channels: 2, BitDepth: 16}},
		{"wav 24", protocol.Capabilities{Format: protocol.FormatWAV, Depth: protocol.Depth24, Rate: protocol.Rate48000}, Format{Codec: CodecWAV, SampleRate: 48000, Channels: 1, BitDepth: 24}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatFromCapabilities(tt.caps)
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	f := Format{Codec: CodecPCM, SampleRate: 16000, Channels: 1, BitDepth: 16}
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}

	ulaw := Format{Codec: CodecULaw, SampleRate: 8000, Channels: 1, BitDepth: 8}
	if got := ulaw.Duration(4000); got != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", got)
	}

	mp3 := Format{Codec: CodecMP3, SampleRate: 44100, Channels: 2, BitDepth: 16}
	if got := mp3.Duration(1000); got != 0 {
		t.Errorf("expected 0 for compressed audio, got %v", got)
	}
}

func TestBufferDuration(t *testing.T) {
	b := Buffer{
		Samples: make([]int32, 48000),
		Format:  Format{Codec: CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16},
	}
	if got := b.Duration(); got != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", got)
	}
}

func TestSampleFromInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int16
		expected int32
	}{
		{"zero", 0, 0},
		{"positive", 100, 100 << 8},
		{"negative", -100, -100 << 8},
		{"max", 32767, 32767 << 8},
		{"min", -32768, -32768 << 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFromInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
			if back := SampleToInt16(result); back != tt.input {
				t.Errorf("round trip gave %d", back)
			}
		})
	}
}

func TestSampleFrom24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    [3]byte
		expected int32
	}{
		{"zero", [3]byte{0, 0, 0}, 0},
		{"positive", [3]byte{0x56, 0x34, 0x12}, 0x123456},
		{"negative", [3]byte{0x00, 0xFF, 0xFF}, -256},
		{"max positive", [3]byte{0xFF, 0xFF, 0x7F}, Max24Bit},
		{"max negative", [3]byte{0x00, 0x00, 0x80}, Min24Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFrom24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
			if packed := SampleTo24Bit(result); packed != tt.input {
				t.Errorf("repack gave %v", packed)
			}
		})
	}
}

func TestUint8Samples(t *testing.T) {
	if got := SampleFromUint8(128); got != 0 {
		t.Errorf("expected silence at 128, got %d", got)
	}
	if got := SampleFromUint8(0); got != -128<<16 {
		t.Errorf("expected %d, got %d", -128<<16, got)
	}
	for _, v := range []uint8{0, 1, 127, 128, 200, 255} {
		if got := SampleToUint8(SampleFromUint8(v)); got != v {
			t.Errorf("round trip %d gave %d", v, got)
		}
	}
}

func TestScaleToBitDepth(t *testing.T) {
	if got := ScaleToBitDepth(100, 16); got != 100<<8 {
		t.Errorf("16-bit: got %d", got)
	}
	if got := ScaleToBitDepth(100, 24); got != 100 {
		t.Errorf("24-bit: got %d", got)
	}
	if got := ScaleToBitDepth(100<<8, 32); got != 100 {
		t.Errorf("32-bit: got %d", got)
	}
}
