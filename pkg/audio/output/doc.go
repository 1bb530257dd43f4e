// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface with oto and discarding implementations
// Package output provides audio playback sinks.
//
// Oto plays through the system audio device. Discard counts samples and is
// used when the device simulator runs headless.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(audio.Format{SampleRate: 16000, Channels: 1})
//	err = out.Write(samples)
package output
