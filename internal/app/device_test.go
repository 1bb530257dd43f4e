// ABOUTME: Tests for the device runtime
// ABOUTME: Drives a device against an in-process echo gateway
package app

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/avslink/avslink-go/internal/artwork"
	"github.com/avslink/avslink-go/internal/client"
	"github.com/avslink/avslink-go/pkg/audio/output"
	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoGateway answers every request frame with the same bytes and reports
// what it received
type echoGateway struct {
	ln       net.Listener
	requests chan []byte
	conns    chan net.Conn
}

func newEchoGateway(t *testing.T) *echoGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	g := &echoGateway{ln: ln, requests: make(chan []byte, 16), conns: make(chan net.Conn, 4)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			g.conns <- conn
			go g.serve(conn)
		}
	}()
	return g
}

func (g *echoGateway) serve(conn net.Conn) {
	defer conn.Close()
	if _, err := protocol.ReadHandshake(conn, protocol.HandshakeCapabilities); err != nil {
		return
	}
	fr := protocol.NewFrameReader(conn, protocol.DefaultFrameOptions())
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			return
		}
		g.requests <- payload
		if err := protocol.WriteFrame(conn, payload); err != nil {
			return
		}
	}
}

func (g *echoGateway) addr() string { return g.ln.Addr().String() }

func writeRequest(t *testing.T, dir, name string, samples ...int16) []byte {
	t.Helper()
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	require.NoError(t, os.WriteFile(RequestFile(dir, name), data, 0o644))
	return data
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func testDevice(t *testing.T, addr string, events *eventLog) (*Device, *output.Discard, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(addr, 2, dir)
	cfg.PollTimeout = 20 * time.Millisecond
	cfg.Session.ConnectTimeout = time.Second
	sink := output.NewDiscard()
	sink.Keep = true
	cfg.Output = sink
	cfg.OnEvent = events.add
	return New(cfg), sink, dir
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeviceSendsRequestAndPlaysResponse(t *testing.T) {
	gw := newEchoGateway(t)
	events := &eventLog{}
	dev, sink, dir := testDevice(t, gw.addr(), events)
	request := writeRequest(t, dir, "what_time_is_it", 100, -100, 200)

	done := make(chan error, 1)
	go func() { done <- dev.Run(context.Background()) }()

	waitFor(t, "connection", dev.Session().IsConnected)
	require.NoError(t, dev.Submit('t'))

	select {
	case got := <-gw.requests:
		assert.Equal(t, request, got)
	case <-time.After(3 * time.Second):
		t.Fatal("gateway never got the request")
	}

	waitFor(t, "playback", func() bool { return sink.Written() == 3 })
	assert.Equal(t, []int32{100 << 8, -100 << 8, 200 << 8}, sink.Samples())
	assert.Equal(t, 1, events.count(EventRequestSent))

	dev.Quit()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("device did not stop")
	}
	assert.Equal(t, client.StateDisconnected, dev.Session().State())
}

func TestDeviceQuitKeySendsStopFirst(t *testing.T) {
	gw := newEchoGateway(t)
	dev, _, dir := testDevice(t, gw.addr(), &eventLog{})
	stop := writeRequest(t, dir, "stop", 1, 2)

	done := make(chan error, 1)
	go func() { done <- dev.Run(context.Background()) }()
	waitFor(t, "connection", dev.Session().IsConnected)

	require.NoError(t, dev.Submit(KeyQuit))

	select {
	case got := <-gw.requests:
		assert.Equal(t, stop, got)
	case <-time.After(3 * time.Second):
		t.Fatal("stop request was not sent")
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("device did not quit")
	}
	assert.True(t, dev.Quitting())
}

func TestDeviceExitKeySendsNothing(t *testing.T) {
	gw := newEchoGateway(t)
	dev, _, dir := testDevice(t, gw.addr(), &eventLog{})
	writeRequest(t, dir, "stop", 1)

	done := make(chan error, 1)
	go func() { done <- dev.Run(context.Background()) }()
	waitFor(t, "connection", dev.Session().IsConnected)

	require.NoError(t, dev.Submit(KeyExit))
	require.NoError(t, <-done)

	select {
	case <-gw.requests:
		t.Fatal("exit must not send a request")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeviceCompressesEightBitRequests(t *testing.T) {
	gw := newEchoGateway(t)
	dev, _, dir := testDevice(t, gw.addr(), &eventLog{})
	dev.config.Session.Send = protocol.Capabilities{Format: protocol.FormatRAW, Depth: protocol.Depth8, Rate: protocol.Rate8000}
	dev.session = client.NewSession(dev.config.Session)
	writeRequest(t, dir, "yes", 0, 1000, -1000, 5000)

	go dev.Run(context.Background())
	defer dev.Quit()
	waitFor(t, "connection", dev.Session().IsConnected)

	require.NoError(t, dev.Submit('y'))
	select {
	case got := <-gw.requests:
		assert.Len(t, got, 4, "expected one μ-law byte per sample")
	case <-time.After(3 * time.Second):
		t.Fatal("request was not sent")
	}
}

func TestDeviceMissingRecordingIsNotFatal(t *testing.T) {
	gw := newEchoGateway(t)
	events := &eventLog{}
	dev, _, dir := testDevice(t, gw.addr(), events)
	request := writeRequest(t, dir, "list_todo", 9)

	go dev.Run(context.Background())
	defer dev.Quit()
	waitFor(t, "connection", dev.Session().IsConnected)

	require.NoError(t, dev.Submit('w'))
	require.NoError(t, dev.Submit('l'))

	select {
	case got := <-gw.requests:
		assert.Equal(t, request, got)
	case <-time.After(3 * time.Second):
		t.Fatal("second request was not sent")
	}
	assert.Equal(t, 1, events.count(EventError))
	assert.True(t, dev.Session().IsConnected())
}

func TestDeviceRunEndsWhenGatewayDrops(t *testing.T) {
	gw := newEchoGateway(t)
	dev, _, _ := testDevice(t, gw.addr(), &eventLog{})

	done := make(chan error, 1)
	go func() { done <- dev.Run(context.Background()) }()

	conn := <-gw.conns
	waitFor(t, "connection", dev.Session().IsConnected)
	conn.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, protocol.ErrFrameReadError)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not end after the gateway dropped")
	}
	assert.False(t, dev.Quitting())
}

func TestDeviceRunLoopReconnects(t *testing.T) {
	gw := newEchoGateway(t)
	dev, _, _ := testDevice(t, gw.addr(), &eventLog{})

	done := make(chan error, 1)
	go func() { done <- dev.RunLoop(context.Background(), 10*time.Millisecond) }()

	first := <-gw.conns
	first.Close()

	select {
	case <-gw.conns:
	case <-time.After(3 * time.Second):
		t.Fatal("device did not reconnect")
	}

	dev.Quit()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestDeviceRendersCards(t *testing.T) {
	gw := newEchoGateway(t)
	events := &eventLog{}
	dev, _, _ := testDevice(t, gw.addr(), events)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cardAddr := ln.Addr().String()
	ln.Close()
	dev.config.CardAddr = cardAddr
	store, err := artwork.NewStore(t.TempDir())
	require.NoError(t, err)
	dev.config.Artwork = store

	go dev.Run(context.Background())
	defer dev.Quit()
	waitFor(t, "connection", dev.Session().IsConnected)

	var conn net.Conn
	waitFor(t, "card listener", func() bool {
		conn, err = net.Dial("tcp", cardAddr)
		return err == nil
	})
	require.NoError(t, protocol.WriteCard(conn, protocol.Card{
		Type:    protocol.CardImagePNG,
		Payload: []byte("png"),
	}))
	conn.Close()

	waitFor(t, "card event", func() bool { return events.count(EventCard) == 1 })
	assert.NotEmpty(t, store.CurrentPath())
	events.mu.Lock()
	defer events.mu.Unlock()
	for _, e := range events.events {
		if e.Kind == EventCard {
			assert.Equal(t, store.CurrentPath(), e.Name)
		}
	}
}

func TestDeviceQuitKeyWhileConnecting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	events := &eventLog{}
	dev, _, _ := testDevice(t, addr, events)
	dev.config.Retry.Interval = 20 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- dev.RunLoop(context.Background(), 10*time.Millisecond) }()
	waitFor(t, "failed connect attempt", func() bool { return events.count(EventError) > 0 })

	require.NoError(t, dev.Submit(KeyQuit))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("quit key ignored while connecting")
	}
	assert.True(t, dev.Quitting())
}

func TestSubmitUnknownKey(t *testing.T) {
	dev := New(DefaultConfig("127.0.0.1:1", 1, t.TempDir()))
	assert.Error(t, dev.Submit('z'))
}
