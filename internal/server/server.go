// ABOUTME: Gateway server implementation for the Audio Session Protocol
// ABOUTME: Accepts device sessions on TCP, validates handshakes and relays frames upstream
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/avslink/avslink-go/internal/discovery"
	"github.com/avslink/avslink-go/internal/metrics"
	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/audio/decode"
	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultHandshakeTimeout bounds the wait for a device handshake
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultSendQueue is the number of responses buffered per device
	DefaultSendQueue = 32
)

// Rejection reasons reported to metrics
const (
	rejectHandshake    = "handshake"
	rejectDeviceID     = "device_id"
	rejectSlot         = "slot"
	rejectCapabilities = "capabilities"
	rejectDuplicate    = "duplicate"
	rejectUpstream     = "upstream"
	rejectShutdown     = "shutdown"
)

// Config holds server configuration
type Config struct {
	Host string
	Port int
	// PerDevicePorts opens one listener per device slot at Port + id - 1;
	// a device may only connect on its own slot's port
	PerDevicePorts bool
	// Devices restricts the accepted device ids; empty accepts 1-16
	Devices          []uint32
	HandshakeVersion protocol.HandshakeVersion
	HandshakeTimeout time.Duration
	Frame            protocol.FrameOptions
	// ReadTimeout closes a session idle for this long; zero never does
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendQueue    int

	Upstream Upstream

	// PushCards forwards upstream display cards to the device renderer at
	// the device address on session port + CardPortOffset
	PushCards      bool
	CardPortOffset int

	Name        string
	EnableMDNS  bool
	UseTUI      bool
	MetricsAddr string
}

// DefaultConfig returns the gateway defaults: shared port 11234, echo upstream
func DefaultConfig() Config {
	return Config{
		Port:             protocol.DefaultPort,
		HandshakeVersion: protocol.HandshakeCapabilities,
		HandshakeTimeout: DefaultHandshakeTimeout,
		Frame:            protocol.DefaultFrameOptions(),
		WriteTimeout:     10 * time.Second,
		SendQueue:        DefaultSendQueue,
		Upstream:         EchoUpstream{},
		CardPortOffset:   protocol.CardPortOffset,
		Name:             "avs-gateway",
	}
}

// Server is the device gateway
type Server struct {
	config Config

	listeners []slotListener
	listenMu  sync.Mutex

	sessions   map[uint32]*session
	sessionsMu sync.RWMutex

	tui       *GatewayTUI
	startTime time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// slotListener accepts connections for one device slot; slot 0 accepts any device
type slotListener struct {
	net.Listener
	slot uint32
}

// New creates a new server instance
func New(config Config) *Server {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.SendQueue <= 0 {
		config.SendQueue = DefaultSendQueue
	}
	if config.Upstream == nil {
		config.Upstream = EchoUpstream{}
	}
	if config.Frame.ChunkSize == 0 {
		config.Frame = protocol.DefaultFrameOptions()
	}
	if config.Name == "" {
		config.Name = "avs-gateway"
	}

	return &Server{
		config:    config,
		sessions:  make(map[uint32]*session),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}
}

// slots returns the device ids the gateway accepts
func (s *Server) slots() []uint32 {
	if len(s.config.Devices) > 0 {
		return s.config.Devices
	}
	ids := make([]uint32, 0, protocol.MaxDevices)
	for id := uint32(1); id <= protocol.MaxDevices; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Listen binds the listeners. Start calls it when it has not been called.
func (s *Server) Listen() error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if len(s.listeners) > 0 {
		return nil
	}

	if !s.config.PerDevicePorts {
		ln, err := s.listen(s.config.Port)
		if err != nil {
			return err
		}
		s.listeners = []slotListener{{Listener: ln}}
		return nil
	}

	for _, id := range s.slots() {
		if err := protocol.ValidateDeviceID(id); err != nil {
			s.closeListeners()
			return err
		}
		port := 0
		if s.config.Port != 0 {
			port = protocol.DevicePort(s.config.Port, id, true)
		}
		ln, err := s.listen(port)
		if err != nil {
			s.closeListeners()
			return err
		}
		s.listeners = append(s.listeners, slotListener{Listener: ln, slot: id})
	}
	return nil
}

func (s *Server) listen(port int) (net.Listener, error) {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = nil
}

// Addrs returns the bound listener addresses, in slot order
func (s *Server) Addrs() []net.Addr {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Start runs the server until ctx is cancelled, Stop is called or the TUI quits
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	metrics.Register()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.listenMu.Lock()
	listeners := s.listeners
	s.listenMu.Unlock()

	if s.config.UseTUI {
		s.tui = NewGatewayTUI(s.config.Name, s.upstreamName())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tui.Start(); err != nil {
				log.Error().Err(err).Msg("TUI failed")
			}
		}()
		go s.refreshTUI(ctx)
	}

	log.Info().
		Str("name", s.config.Name).
		Str("upstream", s.upstreamName()).
		Stringer("handshake", s.config.HandshakeVersion).
		Int("listeners", len(listeners)).
		Msg("gateway starting")

	g, gctx := errgroup.WithContext(ctx)
	for _, ln := range listeners {
		ln := ln
		g.Go(func() error {
			return s.acceptLoop(gctx, ln)
		})
	}

	if s.config.EnableMDNS {
		g.Go(func() error {
			err := discovery.Advertise(gctx, discovery.Config{
				ServiceName:      s.config.Name,
				Port:             s.basePort(),
				PerDevicePorts:   s.config.PerDevicePorts,
				HandshakeVersion: int(s.config.HandshakeVersion),
			})
			if err != nil {
				log.Warn().Err(err).Msg("failed to start mDNS advertisement")
			}
			return nil
		})
	}

	if s.config.MetricsAddr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, s.config.MetricsAddr); err != nil {
				log.Warn().Err(err).Str("addr", s.config.MetricsAddr).Msg("metrics server failed")
			}
			return nil
		})
	}

	var tuiQuit <-chan struct{}
	if s.tui != nil {
		tuiQuit = s.tui.QuitChan()
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stopChan:
			log.Info().Msg("gateway shutting down")
		case <-tuiQuit:
			log.Info().Msg("TUI quit requested, shutting down")
		}
		cancel()
		s.listenMu.Lock()
		s.closeListeners()
		s.listenMu.Unlock()
		return nil
	})

	err := g.Wait()

	if s.tui != nil {
		s.tui.Stop()
	}
	// sessions observe ctx and close their connections
	s.wg.Wait()
	log.Info().Msg("gateway stopped")
	return err
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) basePort() int {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if len(s.listeners) == 0 {
		return s.config.Port
	}
	return s.listeners[0].Addr().(*net.TCPAddr).Port
}

func (s *Server) upstreamName() string {
	if named, ok := s.config.Upstream.(fmt.Stringer); ok {
		return named.String()
	}
	return fmt.Sprintf("%T", s.config.Upstream)
}

func (s *Server) acceptLoop(ctx context.Context, ln slotListener) error {
	log.Info().Str("addr", ln.Addr().String()).Uint32("slot", ln.slot).Msg("listening for devices")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn, ln.slot)
		}()
	}
}

// handleConnection runs one device session from handshake to close
func (s *Server) handleConnection(ctx context.Context, conn net.Conn, slot uint32) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	if ctx.Err() != nil {
		s.reject(remote, rejectShutdown, nil)
		return
	}

	conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))
	hs, err := protocol.ReadHandshake(conn, s.config.HandshakeVersion)
	if err != nil {
		s.reject(remote, rejectHandshake, err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if reason, err := s.admit(hs, slot); err != nil {
		s.reject(remote, reason, err)
		return
	}

	sess := &session{
		info: SessionInfo{
			ID:         uuid.New().String(),
			DeviceID:   hs.DeviceID,
			RemoteAddr: remote,
			Send:       hs.Send,
			Recv:       hs.Recv,
		},
		conn:    conn,
		started: time.Now(),
	}
	if existing, ok := s.register(sess); !ok {
		s.reject(remote, rejectDuplicate, fmt.Errorf("device %d already connected as session %s", hs.DeviceID, existing))
		return
	}
	defer s.unregister(sess)

	logger := log.With().Str("session", sess.info.ID).Uint32("device", hs.DeviceID).Logger()
	if !decode.Supported(audio.FormatFromCapabilities(hs.Recv).Codec) {
		logger.Warn().Stringer("recv", hs.Recv).Msg("device has no decoder for its receive format")
	}

	stream, err := s.config.Upstream.Open(ctx, sess.info)
	if err != nil {
		s.reject(remote, rejectUpstream, err)
		return
	}
	defer stream.Close()

	metrics.SessionOpened()
	logger.Info().
		Str("addr", remote).
		Stringer("send", hs.Send).
		Stringer("recv", hs.Recv).
		Msg("device session started")

	err = s.relay(ctx, sess, stream)
	metrics.SessionClosed(time.Since(sess.started))

	stats := sess.status()
	event := logger.Info()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.
		Uint64("frames_in", stats.FramesIn).
		Uint64("frames_out", stats.FramesOut).
		Dur("duration", time.Since(sess.started)).
		Msg("device session ended")
}

// admit checks a handshake against the gateway's slots and returns the
// rejection reason on failure
func (s *Server) admit(hs protocol.Handshake, slot uint32) (string, error) {
	if err := protocol.ValidateDeviceID(hs.DeviceID); err != nil {
		return rejectDeviceID, err
	}
	if slot != 0 && hs.DeviceID != slot {
		return rejectSlot, fmt.Errorf("device %d connected on the port of device %d", hs.DeviceID, slot)
	}
	if len(s.config.Devices) > 0 && !containsID(s.config.Devices, hs.DeviceID) {
		return rejectDeviceID, fmt.Errorf("%w: %d is not configured", protocol.ErrInvalidDeviceID, hs.DeviceID)
	}
	if hs.Version == protocol.HandshakeCapabilities {
		if err := hs.Send.Validate(); err != nil {
			return rejectCapabilities, fmt.Errorf("send capabilities: %w", err)
		}
		if err := hs.Recv.Validate(); err != nil {
			return rejectCapabilities, fmt.Errorf("recv capabilities: %w", err)
		}
	}
	return "", nil
}

func containsID(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *Server) reject(remote, reason string, err error) {
	metrics.SessionRejected(reason)
	log.Warn().Err(err).Str("addr", remote).Str("reason", reason).Msg("device session rejected")
}

// register adds sess unless its device already has a live session
func (s *Server) register(sess *session) (string, bool) {
	s.sessionsMu.Lock()
	if existing, ok := s.sessions[sess.info.DeviceID]; ok {
		s.sessionsMu.Unlock()
		return existing.info.ID, false
	}
	s.sessions[sess.info.DeviceID] = sess
	s.sessionsMu.Unlock()

	s.updateTUI()
	return "", true
}

func (s *Server) unregister(sess *session) {
	s.sessionsMu.Lock()
	if s.sessions[sess.info.DeviceID] == sess {
		delete(s.sessions, sess.info.DeviceID)
	}
	s.sessionsMu.Unlock()

	s.updateTUI()
}

// Sessions returns a snapshot of live sessions ordered by device id
func (s *Server) Sessions() []SessionStatus {
	s.sessionsMu.RLock()
	out := make([]SessionStatus, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.status())
	}
	s.sessionsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
