// ABOUTME: Per-device session relay between the device socket and the upstream stream
// ABOUTME: One reader, one upstream pump and a single frame writer per session
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/avslink/avslink-go/internal/metrics"
	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const cardDialTimeout = 3 * time.Second

var (
	// errDeviceClosed ends a session the device closed cleanly
	errDeviceClosed = errors.New("device closed the session")
	// errUpstreamClosed ends a session the upstream finished
	errUpstreamClosed = errors.New("upstream closed the session")
)

// SessionStatus is a snapshot of one live session
type SessionStatus struct {
	ID         string
	DeviceID   uint32
	RemoteAddr string
	Send       protocol.Capabilities
	Recv       protocol.Capabilities
	Started    time.Time
	FramesIn   uint64
	FramesOut  uint64
	BytesIn    uint64
	BytesOut   uint64
	Cards      uint64
}

type session struct {
	info    SessionInfo
	conn    net.Conn
	started time.Time

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
	cards     atomic.Uint64
}

func (s *session) status() SessionStatus {
	return SessionStatus{
		ID:         s.info.ID,
		DeviceID:   s.info.DeviceID,
		RemoteAddr: s.info.RemoteAddr,
		Send:       s.info.Send,
		Recv:       s.info.Recv,
		Started:    s.started,
		FramesIn:   s.framesIn.Load(),
		FramesOut:  s.framesOut.Load(),
		BytesIn:    s.bytesIn.Load(),
		BytesOut:   s.bytesOut.Load(),
		Cards:      s.cards.Load(),
	}
}

// relay runs until the device or the upstream ends the session or ctx is
// cancelled. A clean close from either side returns nil. When the upstream
// ends, responses it queued are written to the device before the drop.
func (s *Server) relay(ctx context.Context, sess *session, stream Stream) error {
	g, gctx := errgroup.WithContext(ctx)
	out := make(chan []byte, s.config.SendQueue)
	upstreamDone := make(chan struct{})

	g.Go(func() error {
		return s.readDevice(gctx, sess, stream)
	})
	g.Go(func() error {
		defer close(out)
		return s.pumpUpstream(gctx, sess, stream, out, upstreamDone)
	})
	g.Go(func() error {
		return s.writeDevice(gctx, sess, out, upstreamDone)
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.conn.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errDeviceClosed) || errors.Is(err, errUpstreamClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// readDevice forwards request frames upstream unmodified
func (s *Server) readDevice(ctx context.Context, sess *session, stream Stream) error {
	fr := protocol.NewFrameReader(sess.conn, s.config.Frame)
	for {
		if s.config.ReadTimeout > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		before := fr.Recovered()
		payload, err := fr.ReadFrame()
		if recovered := fr.Recovered() - before; recovered > 0 {
			log.Warn().Str("session", sess.info.ID).Msg("oversized frame header, reused previous length")
			metrics.OversizeRecovered("gateway", recovered)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return errDeviceClosed
			}
			return fmt.Errorf("%w: %w", protocol.ErrFrameReadError, err)
		}

		sess.framesIn.Add(1)
		sess.bytesIn.Add(uint64(len(payload)))
		metrics.Frame("gateway", metrics.DirUpstream, len(payload))

		if err := stream.Send(ctx, payload); err != nil {
			// a finished upstream ends the session once its responses are written
			if ctx.Err() != nil || errors.Is(err, ErrStreamClosed) {
				return nil
			}
			return fmt.Errorf("upstream send: %w", err)
		}
	}
}

// pumpUpstream hands response audio to the writer and pushes cards.
// It closes done when the upstream ends the stream.
func (s *Server) pumpUpstream(ctx context.Context, sess *session, stream Stream, out chan<- []byte, done chan<- struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case resp, ok := <-stream.Responses():
			if !ok {
				close(done)
				return nil
			}
			if resp.Card != nil {
				s.pushCard(ctx, sess, *resp.Card)
			}
			if resp.Audio == nil {
				continue
			}
			select {
			case out <- resp.Audio:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// writeDevice is the only writer on the device socket. Once the upstream
// has ended it drains out and then ends the session.
func (s *Server) writeDevice(ctx context.Context, sess *session, out <-chan []byte, upstreamDone <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-out:
			if !ok {
				select {
				case <-upstreamDone:
					return errUpstreamClosed
				default:
					return nil
				}
			}
			if s.config.WriteTimeout > 0 {
				sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			}
			if err := protocol.WriteFrame(sess.conn, payload); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %w", protocol.ErrFrameWriteError, err)
			}
			sess.framesOut.Add(1)
			sess.bytesOut.Add(uint64(len(payload)))
			metrics.Frame("gateway", metrics.DirDownstream, len(payload))
		}
	}
}

// pushCard delivers a display card to the device renderer. Failures are
// logged; a device without a screen simply refuses the connection.
func (s *Server) pushCard(ctx context.Context, sess *session, card protocol.Card) {
	if !s.config.PushCards {
		return
	}
	addr, err := cardAddr(sess.conn, s.config.CardPortOffset)
	if err != nil {
		log.Warn().Err(err).Str("session", sess.info.ID).Msg("cannot address display card")
		return
	}

	dialer := net.Dialer{Timeout: cardDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("display card not delivered")
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(cardDialTimeout))
	if err := protocol.WriteCard(conn, card); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("display card write failed")
		return
	}
	sess.cards.Add(1)
	log.Debug().Str("session", sess.info.ID).Stringer("type", card.Type).Int("bytes", len(card.Payload)).Msg("display card pushed")
}

// cardAddr is the device's address with the session port shifted by offset
func cardAddr(conn net.Conn, offset int) (string, error) {
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected remote address %v", conn.RemoteAddr())
	}
	return net.JoinHostPort(remote.IP.String(), strconv.Itoa(local.Port+offset)), nil
}
