// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between sample rates and channel layouts
// Package resample provides sample rate and channel conversion.
//
// The gateway's file responder uses it to bring MP3 or FLAC answers down to
// the rate a device declared in its handshake.
//
// Example:
//
//	r := resample.New(44100, 16000, 1)
//	out := r.Convert(resample.Remix(stereo, 2, 1))
package resample
