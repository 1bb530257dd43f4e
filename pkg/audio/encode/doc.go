// ABOUTME: Audio encoder package for encoding PCM to wire formats
// ABOUTME: Provides Encoder interface and implementations for PCM, μ-law, Opus
// Package encode provides audio encoders for device and upstream audio.
//
// All encoders accept int32 samples in 24-bit range. PCM and μ-law match the
// device link formats; Opus is used when the gateway transcodes requests for
// a voice service.
//
// Example:
//
//	enc, err := encode.New(audio.FormatFromCapabilities(caps))
//	data, err := enc.Encode(samples)
package encode
