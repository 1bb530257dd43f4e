// ABOUTME: Output that drops audio after counting it
// ABOUTME: Used for headless devices and tests
package output

import (
	"errors"
	"sync"

	"github.com/avslink/avslink-go/pkg/audio"
)

// ErrNotOpen is returned when writing to an output that was never opened
var ErrNotOpen = errors.New("output not initialized")

// Discard counts and optionally keeps samples instead of playing them
type Discard struct {
	Volume

	// Keep retains written samples for inspection
	Keep bool

	mu      sync.Mutex
	format  audio.Format
	open    bool
	written int
	samples []int32
}

// NewDiscard creates a discarding output
func NewDiscard() *Discard {
	return &Discard{}
}

// Open records the format
func (d *Discard) Open(format audio.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.format = format
	d.open = true
	return nil
}

// Write counts samples
func (d *Discard) Write(samples []int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrNotOpen
	}
	d.written += len(samples)
	if d.Keep {
		d.samples = append(d.samples, samples...)
	}
	return nil
}

// Close marks the output closed
func (d *Discard) Close() error {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return nil
}

// Written returns the number of samples written so far
func (d *Discard) Written() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Samples returns a copy of kept samples
func (d *Discard) Samples() []int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int32(nil), d.samples...)
}

// Format returns the format passed to Open
func (d *Discard) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}
