// ABOUTME: Length-prefixed frame codec for request and response audio
// ABOUTME: Chunked payload reads with a guard against duplicated headers
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// FrameHeaderSize is the size of the little-endian length prefix
	FrameHeaderSize = 4

	// DefaultChunkSize matches the receive buffer of the device firmware
	DefaultChunkSize = 512

	// DefaultMaxFrameSize is the largest length accepted before the
	// oversize guard kicks in
	DefaultMaxFrameSize = 150 * 1024
)

// FrameOptions controls how frames are read
type FrameOptions struct {
	// ChunkSize is the largest single payload read
	ChunkSize int
	// MaxFrameSize is the largest plausible payload length
	MaxFrameSize uint32
	// OversizeGuard substitutes the previous frame length when a header
	// exceeds MaxFrameSize. The serial link between the device MCU and its
	// Wi-Fi module is known to replay bytes, which shows up as a bogus
	// header in the middle of a response. Disable it for clean transports.
	OversizeGuard bool
}

// DefaultFrameOptions returns the options used by deployed devices
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{
		ChunkSize:     DefaultChunkSize,
		MaxFrameSize:  DefaultMaxFrameSize,
		OversizeGuard: true,
	}
}

func (o FrameOptions) withDefaults() FrameOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	return o
}

// WriteFrame writes the length header followed by the payload.
// Header and payload go out in one buffer so a frame is never interleaved
// with another writer's bytes. Any error leaves the stream unusable.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)

	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// FrameReader reads consecutive frames from one stream.
// It is not safe for concurrent use.
type FrameReader struct {
	r         io.Reader
	opts      FrameOptions
	chunk     []byte
	prevLen   uint32
	hasPrev   bool
	recovered uint64
}

// NewFrameReader creates a frame reader over r
func NewFrameReader(r io.Reader, opts FrameOptions) *FrameReader {
	opts = opts.withDefaults()
	return &FrameReader{
		r:     r,
		opts:  opts,
		chunk: make([]byte, opts.ChunkSize),
	}
}

// Recovered returns how many headers the oversize guard replaced
func (fr *FrameReader) Recovered() uint64 {
	return fr.recovered
}

// ReadFrame reads one complete frame.
// A clean close before the first header byte returns io.EOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	length, prefix, err := fr.readHeader()
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, length)
	payload = append(payload, prefix...)
	err = fr.readPayload(int(length)-len(prefix), func(chunk []byte) error {
		payload = append(payload, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// StreamFrame reads one frame and hands the payload to fn chunk by chunk,
// as it arrives. The chunk slice is reused; fn must copy what it keeps.
// Returns the frame length.
func (fr *FrameReader) StreamFrame(fn func(chunk []byte) error) (int, error) {
	length, prefix, err := fr.readHeader()
	if err != nil {
		return 0, err
	}

	if len(prefix) > 0 {
		if err := fn(prefix); err != nil {
			return 0, err
		}
	}
	if err := fr.readPayload(int(length)-len(prefix), fn); err != nil {
		return 0, err
	}
	return int(length), nil
}

// readHeader returns the payload length and, when the oversize guard fired,
// the header bytes that belong to the payload
func (fr *FrameReader) readHeader() (uint32, []byte, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: %w", ErrShortHeader, err)
		}
		return 0, nil, err
	}

	length := binary.LittleEndian.Uint32(hdr[:])
	if length <= fr.opts.MaxFrameSize {
		fr.prevLen = length
		fr.hasPrev = true
		return length, nil, nil
	}

	if !fr.opts.OversizeGuard || !fr.hasPrev || fr.prevLen < FrameHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, fr.opts.MaxFrameSize)
	}

	fr.recovered++
	prefix := make([]byte, FrameHeaderSize)
	copy(prefix, hdr[:])
	return fr.prevLen, prefix, nil
}

func (fr *FrameReader) readPayload(remaining int, fn func([]byte) error) error {
	for remaining > 0 {
		want := min(len(fr.chunk), remaining)

		n, err := fr.r.Read(fr.chunk[:want])
		if n > 0 {
			remaining -= n
			if ferr := fn(fr.chunk[:n]); ferr != nil {
				return ferr
			}
		}
		if remaining == 0 {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %d bytes missing", ErrShortPayload, remaining)
			}
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: zero-byte read", ErrShortPayload)
		}
	}
	return nil
}

// ReadFrame reads a single frame from r
func ReadFrame(r io.Reader, opts FrameOptions) ([]byte, error) {
	return NewFrameReader(r, opts).ReadFrame()
}
