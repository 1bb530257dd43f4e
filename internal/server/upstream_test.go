// ABOUTME: Tests for the echo, file and WebSocket upstreams
// ABOUTME: The WebSocket upstream runs against an httptest voice service
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avslink/avslink-go/internal/protocol"
	"github.com/avslink/avslink-go/pkg/audio"
	devproto "github.com/avslink/avslink-go/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextResponse(t *testing.T, s Stream) Response {
	t.Helper()
	select {
	case r, ok := <-s.Responses():
		require.True(t, ok, "stream closed")
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no response")
	}
	return Response{}
}

func TestEchoUpstream(t *testing.T) {
	s, err := EchoUpstream{}.Open(context.Background(), SessionInfo{DeviceID: 1})
	require.NoError(t, err)

	payload := []byte{1, 2, 3}
	require.NoError(t, s.Send(context.Background(), payload))
	payload[0] = 9

	r := nextResponse(t, s)
	assert.Equal(t, []byte{1, 2, 3}, r.Audio)
	assert.Nil(t, r.Card)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send(context.Background(), payload), ErrStreamClosed)

	_, ok := <-s.Responses()
	assert.False(t, ok)
}

func TestEchoUpstreamCloseUnblocksSend(t *testing.T) {
	s, err := EchoUpstream{Buffer: 1}.Open(context.Background(), SessionInfo{})
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), []byte{1}))

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), []byte{2}) }()

	time.Sleep(20 * time.Millisecond)
	s.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("send stayed blocked after close")
	}
}

func TestToneRenderMatchesDeviceFormat(t *testing.T) {
	u := NewToneUpstream(Tone{Frequency: 440, Duration: time.Second})

	pcm, duration, err := u.Render(audio.FormatFromCapabilities(devproto.DefaultCapabilities()))
	require.NoError(t, err)
	assert.Equal(t, time.Second, duration)
	// 16 kHz mono 16-bit
	assert.InDelta(t, 32000, len(pcm), 8)

	ulaw, _, err := u.Render(audio.FormatFromCapabilities(devproto.Capabilities{
		Format: devproto.FormatRAW, Depth: devproto.Depth8, Rate: devproto.Rate8000, Channels: devproto.Mono,
	}))
	require.NoError(t, err)
	assert.InDelta(t, 8000, len(ulaw), 4)

	wav, _, err := u.Render(audio.FormatFromCapabilities(devproto.Capabilities{
		Format: devproto.FormatWAV, Depth: devproto.Depth16, Rate: devproto.Rate48000, Channels: devproto.Stereo,
	}))
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(wav[:4]))
	assert.Len(t, wav, 44+48000*2*2)
}

func TestToneRenderIsCached(t *testing.T) {
	u := NewToneUpstream(DefaultTone())
	format := audio.FormatFromCapabilities(devproto.DefaultCapabilities())

	a, _, err := u.Render(format)
	require.NoError(t, err)
	b, _, err := u.Render(format)
	require.NoError(t, err)
	assert.Same(t, &a[0], &b[0])
}

func TestToneCannotRenderCompressed(t *testing.T) {
	u := NewToneUpstream(DefaultTone())
	_, err := u.Open(context.Background(), SessionInfo{Recv: devproto.Capabilities{Format: devproto.FormatAAC, Depth: devproto.Depth16}})
	assert.Error(t, err)
}

func TestFileUpstreamMissingFile(t *testing.T) {
	_, err := NewFileUpstream("/does/not/exist.mp3")
	assert.ErrorContains(t, err, "not found")
}

func TestFileUpstreamAnswersEachRequest(t *testing.T) {
	u := NewToneUpstream(Tone{Frequency: 440, Duration: 10 * time.Millisecond})
	u.Card = true

	s, err := u.Open(context.Background(), SessionInfo{Recv: devproto.DefaultCapabilities()})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Send(context.Background(), []byte("request")))
		r := nextResponse(t, s)
		assert.NotEmpty(t, r.Audio)
		require.NotNil(t, r.Card)
		fields, err := r.Card.Fields()
		require.NoError(t, err)
		assert.Equal(t, "Test Tone (440Hz)", fields["title"])
	}
}

func TestFileUpstreamPacesResponses(t *testing.T) {
	u := NewToneUpstream(Tone{Frequency: 440, Duration: 150 * time.Millisecond})
	u.Pace = true

	s, err := u.Open(context.Background(), SessionInfo{Recv: devproto.DefaultCapabilities()})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), []byte("a")))
	require.NoError(t, s.Send(context.Background(), []byte("b")))

	nextResponse(t, s)
	first := time.Now()
	nextResponse(t, s)
	assert.GreaterOrEqual(t, time.Since(first), 100*time.Millisecond)
}

// voiceService is a fake upstream voice service
type voiceService struct {
	t        *testing.T
	starts   chan protocol.SessionStart
	requests chan []byte
	ends     chan protocol.SessionEnd
	// reply runs after each binary request
	reply func(conn *websocket.Conn, request []byte)
}

func newVoiceService(t *testing.T, reply func(*websocket.Conn, []byte)) (*voiceService, string) {
	v := &voiceService{
		t:        t,
		starts:   make(chan protocol.SessionStart, 4),
		requests: make(chan []byte, 16),
		ends:     make(chan protocol.SessionEnd, 4),
		reply:    reply,
	}
	srv := httptest.NewServer(http.HandlerFunc(v.handle))
	t.Cleanup(srv.Close)
	return v, "ws" + strings.TrimPrefix(srv.URL, "http") + "/avs"
}

func (v *voiceService) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.BinaryMessage {
			v.requests <- data
			if v.reply != nil {
				v.reply(conn, data)
			}
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeSessionStart:
			var start protocol.SessionStart
			if msg.Decode(&start) == nil {
				v.starts <- start
			}
		case protocol.TypeSessionEnd:
			var end protocol.SessionEnd
			if msg.Decode(&end) == nil {
				v.ends <- end
			}
		}
	}
}

func writeControl(conn *websocket.Conn, msgType string, payload any) {
	msg, _ := protocol.NewMessage(msgType, payload)
	conn.WriteJSON(msg)
}

func TestWebSocketUpstreamRelay(t *testing.T) {
	v, url := newVoiceService(t, func(conn *websocket.Conn, request []byte) {
		writeControl(conn, protocol.TypeRenderCard, protocol.RenderCard{
			CardType: uint8(devproto.CardTemplateRender),
			Content:  json.RawMessage(`{"title":"Time"}`),
		})
		conn.WriteMessage(websocket.BinaryMessage, []byte("it is "))
		conn.WriteMessage(websocket.BinaryMessage, []byte("noon"))
		writeControl(conn, protocol.TypeResponseEnd, nil)
	})

	u := NewWebSocketUpstream(WebSocketConfig{URL: url})
	info := SessionInfo{ID: "s1", DeviceID: 3, Send: devproto.DefaultCapabilities(), Recv: devproto.DefaultCapabilities()}
	s, err := u.Open(context.Background(), info)
	require.NoError(t, err)

	select {
	case start := <-v.starts:
		assert.Equal(t, "s1", start.SessionID)
		assert.Equal(t, uint32(3), start.DeviceID)
		assert.Equal(t, protocol.AudioFormat{Codec: "pcm", Channels: 1, SampleRate: 16000, BitDepth: 16}, start.Request)
		require.NotNil(t, start.DeviceInfo)
	case <-time.After(3 * time.Second):
		t.Fatal("no session/start")
	}

	require.NoError(t, s.Send(context.Background(), []byte("what time is it")))
	assert.Equal(t, []byte("what time is it"), <-v.requests)

	card := nextResponse(t, s)
	require.NotNil(t, card.Card)
	assert.Equal(t, devproto.CardTemplateRender, card.Card.Type)
	assert.JSONEq(t, `{"title":"Time"}`, string(card.Card.Payload))
	assert.Nil(t, card.Audio)

	answer := nextResponse(t, s)
	assert.Equal(t, []byte("it is noon"), answer.Audio)

	require.NoError(t, s.Close())
	select {
	case end := <-v.ends:
		assert.Equal(t, "s1", end.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("no session/end")
	}
}

func TestWebSocketUpstreamSessionEnd(t *testing.T) {
	_, url := newVoiceService(t, func(conn *websocket.Conn, request []byte) {
		writeControl(conn, protocol.TypeSessionEnd, protocol.SessionEnd{Reason: "done"})
	})

	s, err := NewWebSocketUpstream(WebSocketConfig{URL: url}).Open(context.Background(), SessionInfo{
		Send: devproto.DefaultCapabilities(),
		Recv: devproto.DefaultCapabilities(),
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), []byte("stop")))
	select {
	case _, ok := <-s.Responses():
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("stream stayed open after session/end")
	}
}

func TestWebSocketUpstreamOpusRequests(t *testing.T) {
	v, url := newVoiceService(t, nil)

	u := NewWebSocketUpstream(WebSocketConfig{URL: url, RequestCodec: audio.CodecOpus})
	s, err := u.Open(context.Background(), SessionInfo{Send: devproto.DefaultCapabilities(), Recv: devproto.DefaultCapabilities()})
	require.NoError(t, err)
	defer s.Close()

	start := <-v.starts
	assert.Equal(t, "opus", start.Request.Codec)

	// 50 ms of 16 kHz mono silence is 2.5 Opus frames
	require.NoError(t, s.Send(context.Background(), make([]byte, 800*2)))
	for i := 0; i < 3; i++ {
		select {
		case packet := <-v.requests:
			assert.NotEmpty(t, packet)
		case <-time.After(3 * time.Second):
			t.Fatalf("missing opus packet %d", i)
		}
	}
}

func TestWebSocketUpstreamOpusNeedsRaw16(t *testing.T) {
	u := NewWebSocketUpstream(WebSocketConfig{URL: "ws://127.0.0.1:1/avs", RequestCodec: audio.CodecOpus})
	_, err := u.Open(context.Background(), SessionInfo{
		Send: devproto.Capabilities{Format: devproto.FormatMP3, Depth: devproto.Depth16},
		Recv: devproto.DefaultCapabilities(),
	})
	assert.ErrorContains(t, err, "RAW 16-bit")
}

func TestWebSocketUpstreamDialFailure(t *testing.T) {
	u := NewWebSocketUpstream(WebSocketConfig{URL: "ws://127.0.0.1:1/avs", HandshakeTimeout: time.Second})
	_, err := u.Open(context.Background(), SessionInfo{Send: devproto.DefaultCapabilities(), Recv: devproto.DefaultCapabilities()})
	assert.ErrorContains(t, err, "dial failed")
}
