// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Buffer types and sample conversion functions
// Package audio provides the audio types shared by the device and the gateway.
//
// Samples are carried as int32 in 24-bit range regardless of source depth:
//   - Format: codec, sample rate, channels, bit depth
//   - Buffer: decoded PCM audio
//
// FormatFromCapabilities turns a handshake capability word into a Format:
//
//	f := audio.FormatFromCapabilities(protocol.DefaultCapabilities())
//	// f == audio.Format{Codec: "pcm", SampleRate: 16000, Channels: 1, BitDepth: 16}
//
//	sample24 := audio.SampleFromInt16(sample16)
package audio
