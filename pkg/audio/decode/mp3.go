// ABOUTME: Streaming MP3 audio decoder
// ABOUTME: Feeds chunks through a pipe into go-mp3 and collects int32 samples
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3Decoder decodes an MP3 byte stream that arrives in pieces.
// go-mp3 pulls from a pipe on its own goroutine; decoded samples are
// collected and handed out by the next Decode or Flush.
type MP3Decoder struct {
	pw   *io.PipeWriter
	done chan struct{}

	mu         sync.Mutex
	pending    []int32
	err        error
	sampleRate int
}

// NewMP3 creates a new MP3 decoder
func NewMP3(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecMP3 {
		return nil, fmt.Errorf("invalid codec for MP3 decoder: %s", format.Codec)
	}

	pr, pw := io.Pipe()
	d := &MP3Decoder{
		pw:   pw,
		done: make(chan struct{}),
	}
	go d.run(pr)
	return d, nil
}

func (d *MP3Decoder) run(pr *io.PipeReader) {
	defer close(d.done)

	dec, err := mp3.NewDecoder(pr)
	if err != nil {
		d.fail(pr, fmt.Errorf("failed to create mp3 decoder: %w", err))
		return
	}

	d.mu.Lock()
	d.sampleRate = dec.SampleRate()
	d.mu.Unlock()

	buf := make([]byte, 8192)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			samples := make([]int32, n/2)
			for i := range samples {
				samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[i*2:])))
			}
			d.mu.Lock()
			d.pending = append(d.pending, samples...)
			d.mu.Unlock()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				pr.Close()
				return
			}
			d.fail(pr, fmt.Errorf("mp3 decode error: %w", err))
			return
		}
	}
}

func (d *MP3Decoder) fail(pr *io.PipeReader, err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	pr.CloseWithError(err)
}

// Decode feeds MP3 bytes and returns the samples decoded so far
func (d *MP3Decoder) Decode(data []byte) ([]int32, error) {
	if len(data) > 0 {
		if _, err := d.pw.Write(data); err != nil {
			if derr := d.takeErr(); derr != nil {
				return nil, derr
			}
			return nil, fmt.Errorf("mp3 decode error: %w", err)
		}
	}
	return d.take(), nil
}

// Flush ends the stream and returns every remaining sample
func (d *MP3Decoder) Flush() ([]int32, error) {
	d.pw.Close()
	<-d.done
	samples := d.take()
	if err := d.takeErr(); err != nil {
		return samples, err
	}
	return samples, nil
}

// SampleRate returns the rate from the first frame header, or 0 before it is parsed
func (d *MP3Decoder) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleRate
}

func (d *MP3Decoder) take() []int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	samples := d.pending
	d.pending = nil
	return samples
}

func (d *MP3Decoder) takeErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close releases decoder resources
func (d *MP3Decoder) Close() error {
	d.pw.CloseWithError(io.ErrClosedPipe)
	<-d.done
	return nil
}
