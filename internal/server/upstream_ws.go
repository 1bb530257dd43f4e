// ABOUTME: WebSocket upstream relaying device sessions to a remote voice service
// ABOUTME: JSON control messages plus binary audio, with optional Opus transcoding
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/avslink/avslink-go/internal/protocol"
	"github.com/avslink/avslink-go/internal/version"
	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/audio/decode"
	"github.com/avslink/avslink-go/pkg/audio/encode"
	"github.com/avslink/avslink-go/pkg/audio/resample"
	devproto "github.com/avslink/avslink-go/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteDeadline = 10 * time.Second
	wsPingInterval  = 30 * time.Second

	// opusRate is the rate voice-service Opus audio is decoded at
	opusRate = 48000
)

// WebSocketConfig holds the voice service connection settings
type WebSocketConfig struct {
	// URL of the voice service, e.g. ws://localhost:8927/avs
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration

	// RequestCodec "opus" transcodes RAW 16-bit device requests to Opus
	// packets; empty forwards device frames unmodified
	RequestCodec string
	// ResponseCodec "opus" decodes Opus responses and re-encodes them in
	// the device's recv format; empty forwards response bytes unmodified
	ResponseCodec string
}

// WebSocketUpstream opens one WebSocket connection per device session
type WebSocketUpstream struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketUpstream creates a WebSocket upstream
func NewWebSocketUpstream(config WebSocketConfig) *WebSocketUpstream {
	timeout := config.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebSocketUpstream{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

func (u *WebSocketUpstream) String() string {
	return "websocket: " + u.config.URL
}

// Open dials the voice service and announces the session
func (u *WebSocketUpstream) Open(ctx context.Context, info SessionInfo) (Stream, error) {
	s := &wsStream{
		info:      info,
		responses: make(chan Response, 16),
		done:      make(chan struct{}),
	}

	request, err := s.setupRequest(u.config.RequestCodec)
	if err != nil {
		return nil, err
	}
	response, err := s.setupResponse(u.config.ResponseCodec)
	if err != nil {
		return nil, err
	}

	conn, _, err := u.dialer.DialContext(ctx, u.config.URL, u.config.Header)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	s.conn = conn

	start := protocol.SessionStart{
		SessionID: info.ID,
		DeviceID:  info.DeviceID,
		Request:   request,
		Response:  response,
		DeviceInfo: &protocol.DeviceInfo{
			ProductName:     version.Product + "-gateway",
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
	}
	if err := s.sendJSON(protocol.TypeSessionStart, start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send %s: %w", protocol.TypeSessionStart, err)
	}

	go s.readMessages()
	go s.keepalive()
	return s, nil
}

// wsStream is one device session on the voice service
type wsStream struct {
	info SessionInfo
	conn *websocket.Conn

	writeMu sync.Mutex

	// request transcoding, nil when frames pass through
	pcmIn   decode.Decoder
	opusOut *encode.OpusEncoder

	// response transcoding, nil when bytes pass through
	opusIn  decode.Decoder
	rate    *resample.Resampler
	devOut  encode.Encoder
	pending []byte

	responses chan Response
	done      chan struct{}
	closeOnce sync.Once
}

// setupRequest prepares request transcoding and returns the format sent upstream
func (s *wsStream) setupRequest(codec string) (protocol.AudioFormat, error) {
	send := audio.FormatFromCapabilities(s.info.Send)
	if codec != audio.CodecOpus {
		return wireFormat(send), nil
	}

	if send.Codec != audio.CodecPCM || send.BitDepth != 16 {
		return protocol.AudioFormat{}, fmt.Errorf("opus requests need RAW 16-bit device audio, device sends %s", send)
	}
	opusFormat := audio.Format{Codec: audio.CodecOpus, SampleRate: send.SampleRate, Channels: send.Channels, BitDepth: 16}
	enc, err := encode.NewOpus(opusFormat)
	if err != nil {
		return protocol.AudioFormat{}, err
	}
	dec, err := decode.NewPCM(send)
	if err != nil {
		return protocol.AudioFormat{}, err
	}
	s.pcmIn, s.opusOut = dec, enc
	return wireFormat(opusFormat), nil
}

// setupResponse prepares response transcoding and returns the format expected
// from upstream
func (s *wsStream) setupResponse(codec string) (protocol.AudioFormat, error) {
	recv := audio.FormatFromCapabilities(s.info.Recv)
	if codec != audio.CodecOpus {
		return wireFormat(recv), nil
	}

	opusFormat := audio.Format{Codec: audio.CodecOpus, SampleRate: opusRate, Channels: recv.Channels, BitDepth: 16}
	dec, err := decode.NewOpus(opusFormat)
	if err != nil {
		return protocol.AudioFormat{}, err
	}
	enc, err := encode.New(recv)
	if err != nil {
		return protocol.AudioFormat{}, fmt.Errorf("cannot transcode opus responses: %w", err)
	}
	s.opusIn, s.devOut = dec, enc
	if recv.SampleRate != opusRate {
		s.rate = resample.New(opusRate, recv.SampleRate, recv.Channels)
	}
	return wireFormat(opusFormat), nil
}

func wireFormat(f audio.Format) protocol.AudioFormat {
	return protocol.AudioFormat{Codec: f.Codec, Channels: f.Channels, SampleRate: f.SampleRate, BitDepth: f.BitDepth}
}

// Send forwards one device request frame
func (s *wsStream) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	if s.opusOut == nil {
		return s.sendBinary(payload)
	}

	samples, err := s.pcmIn.Decode(payload)
	if err != nil {
		return err
	}
	packets, err := s.opusOut.Packets(samples)
	if err != nil {
		return err
	}
	// a request frame is a complete utterance
	if last, err := s.opusOut.Flush(); err != nil {
		return err
	} else if last != nil {
		packets = append(packets, last)
	}
	for _, p := range packets {
		if err := s.sendBinary(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *wsStream) sendBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsStream) sendJSON(msgType string, payload any) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return s.conn.WriteJSON(msg)
}

func (s *wsStream) Responses() <-chan Response {
	return s.responses
}

// readMessages reads and routes incoming messages until the connection ends
func (s *wsStream) readMessages() {
	defer close(s.responses)
	defer s.Close()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("session", s.info.ID).Msg("voice service read error")
				}
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := s.handleAudio(data); err != nil {
				log.Warn().Err(err).Str("session", s.info.ID).Msg("dropping voice service audio")
			}
		case websocket.TextMessage:
			if !s.handleJSONMessage(data) {
				return
			}
		}
	}
}

// handleAudio buffers response audio until response/end
func (s *wsStream) handleAudio(data []byte) error {
	if s.opusIn == nil {
		s.pending = append(s.pending, data...)
		return nil
	}

	samples, err := s.opusIn.Decode(data)
	if err != nil {
		return err
	}
	if s.rate != nil {
		samples = s.rate.Convert(samples)
	}
	encoded, err := s.devOut.Encode(samples)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, encoded...)
	return nil
}

// handleJSONMessage handles control messages; false ends the session
func (s *wsStream) handleJSONMessage(data []byte) bool {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("session", s.info.ID).Msg("bad voice service message")
		return true
	}

	switch msg.Type {
	case protocol.TypeResponseEnd:
		data := s.pending
		s.pending = nil
		if s.rate != nil {
			s.rate.Reset()
		}
		if data == nil {
			data = []byte{}
		}
		return s.emit(Response{Audio: data})

	case protocol.TypeRenderCard:
		var rc protocol.RenderCard
		if err := msg.Decode(&rc); err != nil {
			log.Warn().Err(err).Str("session", s.info.ID).Msg("bad display card")
			return true
		}
		card := devproto.Card{Type: devproto.CardType(rc.CardType), Payload: rc.Content}
		if card.Type.IsImage() {
			card.Payload = rc.Image
		}
		return s.emit(Response{Card: &card})

	case protocol.TypeSessionEnd:
		log.Info().Str("session", s.info.ID).Msg("voice service ended the session")
		return false

	case protocol.TypeError:
		var e protocol.Error
		if err := msg.Decode(&e); err == nil {
			log.Warn().Err(e).Str("session", s.info.ID).Msg("voice service error")
		}
		return false

	default:
		log.Debug().Str("type", msg.Type).Msg("unknown voice service message")
		return true
	}
}

func (s *wsStream) emit(r Response) bool {
	select {
	case s.responses <- r:
		return true
	case <-s.done:
		return false
	}
}

// keepalive pings the voice service until the stream closes
func (s *wsStream) keepalive() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline))
			s.writeMu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		}
	}
}

// Close announces the end of the session and closes the connection
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.sendJSON(protocol.TypeSessionEnd, protocol.SessionEnd{SessionID: s.info.ID})

		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}
