// ABOUTME: Audio output tests
// ABOUTME: Verifies volume handling and the discarding sink
package output

import (
	"testing"

	"github.com/avslink/avslink-go/pkg/audio"
)

func TestImplementsOutput(t *testing.T) {
	var _ Output = (*Oto)(nil)
	var _ Output = (*Discard)(nil)
}

func TestVolumeMultiplier(t *testing.T) {
	tests := []struct {
		volume   int
		muted    bool
		expected float64
	}{
		{100, false, 1.0},
		{50, false, 0.5},
		{0, false, 0.0},
		{80, true, 0.0},
	}

	for _, tt := range tests {
		result := volumeMultiplier(tt.volume, tt.muted)
		if result != tt.expected {
			t.Errorf("volume=%d, muted=%v: expected %f, got %f",
				tt.volume, tt.muted, tt.expected, result)
		}
	}
}

func TestVolumeApply(t *testing.T) {
	var v Volume
	if v.Level() != 100 {
		t.Fatalf("zero value should be full volume, got %d", v.Level())
	}

	samples := []int32{1000, -1000}
	v.Apply(samples)
	if samples[0] != 1000 {
		t.Errorf("full volume changed sample to %d", samples[0])
	}

	v.SetVolume(50)
	v.Apply(samples)
	if samples[0] != 500 || samples[1] != -500 {
		t.Errorf("expected ±500, got %v", samples)
	}

	v.SetVolume(150)
	if v.Level() != 100 {
		t.Errorf("expected clamp to 100, got %d", v.Level())
	}

	v.SetMuted(true)
	v.Apply(samples)
	if samples[0] != 0 {
		t.Errorf("muted output should be silent, got %d", samples[0])
	}
}

func TestDiscard(t *testing.T) {
	d := NewDiscard()
	if err := d.Write([]int32{1}); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}

	format := audio.Format{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitDepth: 24}
	d.Keep = true
	if err := d.Open(format); err != nil {
		t.Fatal(err)
	}
	d.Write([]int32{1, 2, 3})
	d.Write([]int32{4})

	if d.Written() != 4 {
		t.Errorf("expected 4 samples written, got %d", d.Written())
	}
	if got := d.Samples(); len(got) != 4 || got[3] != 4 {
		t.Errorf("unexpected kept samples %v", got)
	}
	if d.Format() != format {
		t.Errorf("unexpected format %v", d.Format())
	}
	d.Close()
}
