// ABOUTME: Response playback loop
// ABOUTME: Drains the queue, decodes per response and writes to an output
package player

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/audio/decode"
	"github.com/avslink/avslink-go/pkg/audio/output"
	"github.com/rs/zerolog/log"
)

// DefaultPollTimeout bounds each wait on an empty queue
const DefaultPollTimeout = 100 * time.Millisecond

// Stats tracks playback counters
type Stats struct {
	Chunks    uint64
	Samples   uint64
	Responses uint64
	Dropped   uint64
}

// Player plays queued response audio
type Player struct {
	queue       *Queue
	out         output.Output
	format      audio.Format
	pollTimeout time.Duration

	chunks    atomic.Uint64
	samples   atomic.Uint64
	responses atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a player for audio in format, the device's receive format
func New(queue *Queue, out output.Output, format audio.Format) *Player {
	return &Player{
		queue:       queue,
		out:         out,
		format:      format,
		pollTimeout: DefaultPollTimeout,
	}
}

// SetPollTimeout changes how long each queue poll waits
func (p *Player) SetPollTimeout(d time.Duration) {
	p.pollTimeout = d
}

// Run plays until the queue is closed and empty or ctx is cancelled
func (p *Player) Run(ctx context.Context) error {
	if err := p.out.Open(decode.OutputFormat(p.format)); err != nil {
		return err
	}
	defer p.out.Close()

	var (
		dec decode.Decoder
		fed bool
		// skip drops the rest of a response no decoder can handle
		skip bool
	)
	defer func() {
		if dec != nil {
			dec.Close()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, ok, err := p.queue.Pop(p.pollTimeout)
		if errors.Is(err, ErrQueueClosed) {
			if fed {
				p.finish(dec)
			}
			return nil
		}
		if !ok {
			continue
		}

		if chunk == nil {
			// response boundary
			skip = false
			if fed {
				p.finish(dec)
				dec.Close()
				dec = nil
				fed = false
			}
			continue
		}

		if skip {
			p.dropped.Add(1)
			continue
		}
		if dec == nil {
			dec, err = decode.New(p.format)
			if err != nil {
				p.dropped.Add(1)
				log.Warn().Err(err).Msg("dropping response")
				skip = true
				continue
			}
		}
		fed = true

		samples, err := dec.Decode(chunk)
		if err != nil {
			p.dropped.Add(1)
			log.Warn().Err(err).Int("bytes", len(chunk)).Msg("dropping undecodable chunk")
			continue
		}
		p.chunks.Add(1)
		p.write(samples)
	}
}

// finish flushes a buffering decoder at the end of a response
func (p *Player) finish(dec decode.Decoder) {
	p.responses.Add(1)
	f, ok := dec.(decode.Flusher)
	if !ok {
		return
	}
	samples, err := f.Flush()
	if err != nil {
		log.Warn().Err(err).Msg("response audio ended badly")
	}
	p.write(samples)
}

func (p *Player) write(samples []int32) {
	if len(samples) == 0 {
		return
	}
	if err := p.out.Write(samples); err != nil {
		p.dropped.Add(1)
		log.Warn().Err(err).Msg("audio output write failed")
		return
	}
	p.samples.Add(uint64(len(samples)))
}

// Stats returns playback counters
func (p *Player) Stats() Stats {
	return Stats{
		Chunks:    p.chunks.Load(),
		Samples:   p.samples.Load(),
		Responses: p.responses.Load(),
		Dropped:   p.dropped.Load(),
	}
}
