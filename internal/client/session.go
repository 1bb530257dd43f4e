// ABOUTME: Device-side audio session over one TCP connection
// ABOUTME: Handshake, framed request writes, framed response reads, disconnect
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avslink/avslink-go/internal/metrics"
	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyConnected is returned by Connect on a session that is not disconnected
var ErrAlreadyConnected = errors.New("client: session already connected")

// State is the lifecycle state of a Session
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dialer opens the transport connection
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds session configuration
type Config struct {
	ServerAddr       string
	DeviceID         uint32
	Send             protocol.Capabilities
	Recv             protocol.Capabilities
	HandshakeVersion protocol.HandshakeVersion

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// ReadTimeout bounds the wait for a frame header when ReceiveResponse
	// is called with a zero timeout
	ReadTimeout time.Duration
	// ChunkTimeout bounds each read once a frame has started
	ChunkTimeout time.Duration

	Frame  protocol.FrameOptions
	Dialer Dialer
}

// DefaultConfig returns the timeouts used by deployed devices
func DefaultConfig() Config {
	return Config{
		DeviceID:         1,
		Send:             protocol.DefaultCapabilities(),
		Recv:             protocol.DefaultCapabilities(),
		HandshakeVersion: protocol.HandshakeCapabilities,
		ConnectTimeout:   10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      1 * time.Second,
		ChunkTimeout:     3 * time.Second,
		Frame:            protocol.DefaultFrameOptions(),
	}
}

// Stats counts session traffic
type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64
	Recovered      uint64
}

// Session is one device's connection to a gateway.
// SendRequest and ReceiveResponse may run concurrently with each other;
// concurrent calls to the same one are serialized.
type Session struct {
	config Config

	mu         sync.RWMutex
	state      State
	conn       net.Conn
	reader     *protocol.FrameReader
	deadlines  *deadlineReader
	cancelDial context.CancelFunc

	writeMu sync.Mutex
	readMu  sync.Mutex

	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
	recovered      atomic.Uint64
}

// NewSession creates a disconnected session
func NewSession(config Config) *Session {
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}
	return &Session{config: config}
}

// Connect dials the gateway and sends the handshake.
// On failure the session is back in StateDisconnected; retrying is up to the caller.
func (s *Session) Connect(ctx context.Context) (err error) {
	defer func() { metrics.ConnectAttempt(err) }()

	var (
		dialCtx context.Context
		cancel  context.CancelFunc
	)
	if s.config.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
	} else {
		dialCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.cancelDial = cancel
	s.mu.Unlock()

	log.Debug().Str("addr", s.config.ServerAddr).Uint32("device", s.config.DeviceID).Msg("connecting")

	conn, err := s.config.Dialer.DialContext(dialCtx, "tcp", s.config.ServerAddr)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", protocol.ErrConnectFailed, err)
	}

	if !s.transition(StateConnecting, StateHandshaking) {
		conn.Close()
		return protocol.ErrNotConnected
	}

	if s.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err = protocol.WriteHandshake(conn, protocol.Handshake{
		Version:  s.config.HandshakeVersion,
		DeviceID: s.config.DeviceID,
		Send:     s.config.Send,
		Recv:     s.config.Recv,
	})
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHandshaking {
		// Disconnect raced with the handshake
		conn.Close()
		return protocol.ErrNotConnected
	}
	s.conn = conn
	s.deadlines = &deadlineReader{conn: conn}
	s.reader = protocol.NewFrameReader(s.deadlines, s.config.Frame)
	s.cancelDial = nil
	s.state = StateStreaming

	log.Info().Str("addr", conn.RemoteAddr().String()).Uint32("device", s.config.DeviceID).
		Stringer("send", s.config.Send).Stringer("recv", s.config.Recv).Msg("session streaming")
	return nil
}

// SendRequest writes one request frame
func (s *Session) SendRequest(payload []byte) error {
	conn := s.streamingConn()
	if conn == nil {
		return protocol.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := protocol.WriteFrame(conn, payload); err != nil {
		if !s.drop(conn) {
			return protocol.ErrNotConnected
		}
		return fmt.Errorf("%w: %w", protocol.ErrFrameWriteError, err)
	}

	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(len(payload)))
	metrics.Frame("device", metrics.DirUpstream, len(payload))
	return nil
}

// ReceiveResponse reads one complete response frame.
// timeout bounds the wait for the frame to start; zero uses Config.ReadTimeout.
// A timeout before any byte arrives returns ErrFrameReadTimeout and leaves
// the session streaming. Any other failure disconnects the session.
func (s *Session) ReceiveResponse(timeout time.Duration) ([]byte, error) {
	var payload []byte
	err := s.receive(timeout, func(fr *protocol.FrameReader) (int, error) {
		var err error
		payload, err = fr.ReadFrame()
		return len(payload), err
	})
	return payload, err
}

// ReceiveStream reads one response frame and passes each chunk to fn as it
// arrives. The chunk is only valid during the call. Returns the frame length.
func (s *Session) ReceiveStream(timeout time.Duration, fn func(chunk []byte) error) (int, error) {
	var n int
	err := s.receive(timeout, func(fr *protocol.FrameReader) (int, error) {
		var err error
		n, err = fr.StreamFrame(fn)
		return n, err
	})
	return n, err
}

func (s *Session) receive(timeout time.Duration, read func(*protocol.FrameReader) (int, error)) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.mu.RLock()
	state, conn, reader, deadlines := s.state, s.conn, s.reader, s.deadlines
	s.mu.RUnlock()
	if state != StateStreaming {
		return protocol.ErrNotConnected
	}

	if timeout <= 0 {
		timeout = s.config.ReadTimeout
	}
	deadlines.begin(timeout, s.config.ChunkTimeout)

	before := reader.Recovered()
	n, err := read(reader)
	if recovered := reader.Recovered() - before; recovered > 0 {
		s.recovered.Add(recovered)
		log.Warn().Uint32("device", s.config.DeviceID).Msg("oversized frame header, reused previous length")
		metrics.OversizeRecovered("device", recovered)
	}

	if err == nil {
		s.framesReceived.Add(1)
		s.bytesReceived.Add(uint64(n))
		metrics.Frame("device", metrics.DirDownstream, n)
		return nil
	}

	if !deadlines.consumed && isTimeout(err) {
		return fmt.Errorf("%w: %w", protocol.ErrFrameReadTimeout, err)
	}
	if !s.drop(conn) {
		return protocol.ErrNotConnected
	}
	return fmt.Errorf("%w: %w", protocol.ErrFrameReadError, err)
}

// Disconnect closes the transport. Safe to call at any time, repeatedly and
// concurrently with SendRequest or ReceiveResponse, which then fail fast.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	wasStreaming := s.state == StateStreaming
	s.state = StateDisconnected

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if wasStreaming {
		log.Info().Uint32("device", s.config.DeviceID).Msg("session disconnected")
	}
	return err
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether the session is streaming
func (s *Session) IsConnected() bool {
	return s.State() == StateStreaming
}

// DeviceID returns the device id sent in the handshake
func (s *Session) DeviceID() uint32 {
	return s.config.DeviceID
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.config
}

// Stats returns traffic counters for the session's lifetime
func (s *Session) Stats() Stats {
	st := Stats{
		FramesSent:     s.framesSent.Load(),
		FramesReceived: s.framesReceived.Load(),
		BytesSent:      s.bytesSent.Load(),
		BytesReceived:  s.bytesReceived.Load(),
		Recovered:      s.recovered.Load(),
	}
	return st
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Session) streamingConn() net.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateStreaming {
		return nil
	}
	return s.conn
}

// drop disconnects after an I/O failure on conn. It returns false when conn
// was already replaced or closed by Disconnect.
func (s *Session) drop(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn || conn == nil {
		return false
	}
	s.conn.Close()
	s.conn = nil
	s.state = StateDisconnected
	log.Warn().Uint32("device", s.config.DeviceID).Msg("session dropped after I/O error")
	return true
}

// deadlineReader sets a read deadline before every read: the header
// timeout until the first byte of a frame arrives, then the chunk timeout.
// Guarded by Session.readMu.
type deadlineReader struct {
	conn     net.Conn
	first    time.Duration
	next     time.Duration
	consumed bool
}

func (d *deadlineReader) begin(first, next time.Duration) {
	d.first = first
	d.next = next
	d.consumed = false
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	timeout := d.first
	if d.consumed {
		timeout = d.next
	}
	if timeout > 0 {
		d.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		d.conn.SetReadDeadline(time.Time{})
	}

	n, err := d.conn.Read(p)
	if n > 0 {
		d.consumed = true
	}
	return n, err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
