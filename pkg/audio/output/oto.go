// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams 16-bit PCM through a pipe into one persistent oto player
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
)

// oto allows a single context per process
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat audio.Format
	otoErr    error
)

// Oto output implementation using oto library
type Oto struct {
	Volume

	mu         sync.Mutex
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	ready      bool
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{}
}

func sharedContext(format audio.Format) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-readyChan
		otoCtx = ctx
		otoFormat = format
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoFormat.SampleRate != format.SampleRate || otoFormat.Channels != format.Channels {
		log.Warn().Stringer("have", otoFormat).Stringer("want", format).
			Msg("oto context cannot change format, keeping the first one")
	}
	return otoCtx, nil
}

// Open initializes the output device. Output is always 16-bit.
func (o *Oto) Open(format audio.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ready {
		return nil
	}

	ctx, err := sharedContext(format)
	if err != nil {
		return err
	}
	ctx.Resume()

	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = ctx.NewPlayer(o.pipeReader)
	o.player.Play()
	o.ready = true

	log.Info().Int("rate", format.SampleRate).Int("channels", format.Channels).Msg("audio output initialized")
	return nil
}

// Write outputs audio samples (blocks until the player has taken them)
func (o *Oto) Write(samples []int32) error {
	o.mu.Lock()
	pw, ready := o.pipeWriter, o.ready
	o.mu.Unlock()
	if !ready {
		return ErrNotOpen
	}

	scaled := append([]int32(nil), samples...)
	o.Apply(scaled)

	buf := make([]byte, len(scaled)*2)
	for i, s := range scaled {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(audio.SampleToInt16(s)))
	}

	if _, err := pw.Write(buf); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// Close releases output resources. The shared oto context is suspended, not destroyed.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.ready {
		return nil
	}
	o.ready = false

	o.pipeWriter.Close()
	o.player.Close()
	o.pipeReader.Close()
	o.player = nil

	if otoCtx != nil {
		return otoCtx.Suspend()
	}
	return nil
}
