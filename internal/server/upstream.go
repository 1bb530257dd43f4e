// ABOUTME: Upstream voice service abstraction for the gateway
// ABOUTME: One Stream per device session; includes the loopback echo upstream
package server

import (
	"context"
	"errors"
	"sync"

	"github.com/avslink/avslink-go/pkg/protocol"
)

// ErrStreamClosed is returned when sending on a closed upstream stream
var ErrStreamClosed = errors.New("upstream stream closed")

// SessionInfo identifies a device session to the upstream
type SessionInfo struct {
	ID         string
	DeviceID   uint32
	RemoteAddr string
	// Send is the device's request audio; Recv is what it plays
	Send protocol.Capabilities
	Recv protocol.Capabilities
}

// Response is one unit from the upstream. Audio is written to the device as
// one frame; a nil Audio carries nothing (card-only), an empty non-nil
// Audio is forwarded as a zero-length frame.
type Response struct {
	Audio []byte
	Card  *protocol.Card
}

// Stream is an open upstream conversation for one device session
type Stream interface {
	// Send forwards one request frame
	Send(ctx context.Context, payload []byte) error
	// Responses is closed when the upstream ends the session
	Responses() <-chan Response
	Close() error
}

// Upstream opens voice service streams
type Upstream interface {
	Open(ctx context.Context, info SessionInfo) (Stream, error)
}

// EchoUpstream answers every request frame with the same bytes
type EchoUpstream struct {
	// Buffer is the response channel capacity
	Buffer int
}

func (EchoUpstream) String() string { return "echo" }

// Open starts an echo stream
func (u EchoUpstream) Open(ctx context.Context, info SessionInfo) (Stream, error) {
	buffer := u.Buffer
	if buffer <= 0 {
		buffer = 16
	}
	return newResponseStream(buffer, func(ctx context.Context, s *responseStream, payload []byte) error {
		return s.emit(ctx, Response{Audio: append([]byte{}, payload...)})
	}), nil
}

// responseStream is a Stream whose responses are produced in-process
type responseStream struct {
	onSend    func(ctx context.Context, s *responseStream, payload []byte) error
	responses chan Response
	done      chan struct{}
	closeOnce sync.Once

	// emitters hold the read lock; Close takes the write lock before
	// closing responses
	mu     sync.RWMutex
	closed bool
}

func newResponseStream(buffer int, onSend func(context.Context, *responseStream, []byte) error) *responseStream {
	return &responseStream{
		onSend:    onSend,
		responses: make(chan Response, buffer),
		done:      make(chan struct{}),
	}
}

func (s *responseStream) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	return s.onSend(ctx, s, payload)
}

// emit queues a response, blocking while the buffer is full
func (s *responseStream) emit(ctx context.Context, r Response) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStreamClosed
	}
	select {
	case s.responses <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStreamClosed
	}
}

func (s *responseStream) Responses() <-chan Response {
	return s.responses
}

// Close ends the stream and closes Responses
func (s *responseStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.responses)
		s.mu.Unlock()
	})
	return nil
}
