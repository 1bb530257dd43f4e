// ABOUTME: Audio decoder package for device and gateway audio
// ABOUTME: Provides Decoder interface and PCM, WAV, μ-law, MP3, Opus implementations
// Package decode turns encoded audio into int32 samples in 24-bit range.
//
// Streaming decoders (PCM, WAV, μ-law, MP3) accept input split at any byte
// boundary, which is how response frames reach the device. Opus decodes one
// packet per call. ReadFile loads whole MP3, FLAC or WAV files.
//
// Example:
//
//	dec, err := decode.ForCapabilities(handshake.Recv)
//	samples, err := dec.Decode(chunk)
package decode
