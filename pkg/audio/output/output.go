// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for playback sinks plus software volume
package output

import (
	"sync"

	"github.com/avslink/avslink-go/pkg/audio"
)

// Output represents an audio output device
type Output interface {
	// Open initializes the output for samples in format
	Open(format audio.Format) error

	// Write outputs audio samples (blocks until written)
	Write(samples []int32) error

	// Close releases output resources
	Close() error
}

// Volume is software gain shared by outputs. The zero value plays at full volume.
type Volume struct {
	mu sync.RWMutex
	// cut is 100 minus the volume level
	cut   int
	muted bool
}

// SetVolume sets the volume (0-100)
func (v *Volume) SetVolume(level int) {
	level = max(0, min(level, 100))
	v.mu.Lock()
	v.cut = 100 - level
	v.mu.Unlock()
}

// SetMuted sets mute state
func (v *Volume) SetMuted(muted bool) {
	v.mu.Lock()
	v.muted = muted
	v.mu.Unlock()
}

// Level returns the current volume
func (v *Volume) Level() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return 100 - v.cut
}

// Muted returns mute state
func (v *Volume) Muted() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.muted
}

// Apply scales samples in place, clamping to the 24-bit range
func (v *Volume) Apply(samples []int32) {
	multiplier := volumeMultiplier(v.Level(), v.Muted())
	if multiplier == 1.0 {
		return
	}
	for i, sample := range samples {
		scaled := int64(float64(sample) * multiplier)
		if scaled > audio.Max24Bit {
			scaled = audio.Max24Bit
		} else if scaled < audio.Min24Bit {
			scaled = audio.Min24Bit
		}
		samples[i] = int32(scaled)
	}
}

func volumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
