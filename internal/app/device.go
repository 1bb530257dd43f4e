// ABOUTME: Device runtime orchestration
// ABOUTME: Runs the session streamer, request commander, player and card listener
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avslink/avslink-go/internal/artwork"
	"github.com/avslink/avslink-go/internal/client"
	"github.com/avslink/avslink-go/internal/player"
	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/audio/encode"
	"github.com/avslink/avslink-go/pkg/audio/output"
	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultResetDelay is the pause before a dropped session is restarted
const DefaultResetDelay = 1 * time.Second

// ErrQueueFull is returned by Submit when commands arrive faster than they are sent
var ErrQueueFull = errors.New("app: command queue full")

// EventKind classifies device events
type EventKind int

const (
	EventConnecting EventKind = iota
	EventConnected
	EventDisconnected
	EventRequestSent
	EventResponse
	EventCard
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventRequestSent:
		return "request"
	case EventResponse:
		return "response"
	case EventCard:
		return "card"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event reports device activity to a UI
type Event struct {
	Kind    EventKind
	Name    string
	Bytes   int
	Attempt int
	Card    *protocol.Card
	Err     error
}

// Config holds device configuration
type Config struct {
	Session client.Config
	Retry   client.RetryPolicy

	Commands []Command
	// PollTimeout bounds each wait for a response frame; cancellation is
	// observed within one interval
	PollTimeout   time.Duration
	QueueCapacity int
	CommandQueue  int

	// CardAddr is where display cards are accepted; empty disables the renderer
	CardAddr string
	// Artwork stores card images when set
	Artwork *artwork.Store

	Output  output.Output
	OnEvent func(Event)
}

// DefaultConfig returns a device config for deviceID talking to serverAddr
func DefaultConfig(serverAddr string, deviceID uint32, requestDir string) Config {
	session := client.DefaultConfig()
	session.ServerAddr = serverAddr
	session.DeviceID = deviceID
	return Config{
		Session:       session,
		Retry:         client.DefaultRetryPolicy(),
		Commands:      DefaultCommands(requestDir),
		PollTimeout:   session.ReadTimeout,
		QueueCapacity: player.DefaultQueueCapacity,
		CommandQueue:  16,
	}
}

// Device is a simulated voice-assistant device
type Device struct {
	config   Config
	session  *client.Session
	commands chan Command

	mu     sync.Mutex
	cancel context.CancelFunc
	quit   atomic.Bool
}

// New creates a device; Run starts it
func New(config Config) *Device {
	if config.PollTimeout <= 0 {
		config.PollTimeout = time.Second
	}
	if config.CommandQueue <= 0 {
		config.CommandQueue = 16
	}
	if config.Output == nil {
		config.Output = output.NewDiscard()
	}
	return &Device{
		config:   config,
		session:  client.NewSession(config.Session),
		commands: make(chan Command, config.CommandQueue),
	}
}

// Session returns the device's session
func (d *Device) Session() *client.Session {
	return d.session
}

// Commands returns the configured key bindings
func (d *Device) Commands() []Command {
	return d.config.Commands
}

// Submit handles a key press. Requests are queued for the commander and
// sent in order. KeyExit quits at once, as does KeyQuit while there is no
// session to carry the stop request.
func (d *Device) Submit(key rune) error {
	if key == KeyExit || (key == KeyQuit && !d.session.IsConnected()) {
		d.Quit()
		return nil
	}
	cmd, ok := Lookup(d.config.Commands, key)
	if !ok {
		return fmt.Errorf("no request bound to %q", key)
	}
	select {
	case d.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Quit stops the device; Run returns and RunLoop does not restart it
func (d *Device) Quit() {
	d.quit.Store(true)
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
}

// Quitting reports whether Quit was called
func (d *Device) Quitting() bool {
	return d.quit.Load()
}

func (d *Device) emit(e Event) {
	if d.config.OnEvent != nil {
		d.config.OnEvent(e)
	}
}

// Run connects (retrying) and runs one session until it ends, the device
// quits or ctx is cancelled. Returns nil on quit or cancellation.
func (d *Device) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	if d.Quitting() {
		return nil
	}

	d.emit(Event{Kind: EventConnecting})
	_, err := client.ConnectWithRetry(ctx, d.session, d.config.Retry, func(attempt int, err error) {
		if err != nil {
			d.emit(Event{Kind: EventError, Attempt: attempt, Err: err})
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer d.session.Disconnect()
	d.emit(Event{Kind: EventConnected})

	queue := player.NewQueue(d.config.QueueCapacity)
	recv := audio.FormatFromCapabilities(d.config.Session.Recv)
	play := player.New(queue, d.config.Output, recv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer queue.Close()
		return d.stream(gctx, queue)
	})
	g.Go(func() error {
		return d.command(gctx)
	})
	g.Go(func() error {
		if err := play.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if d.config.CardAddr != "" {
		g.Go(func() error {
			err := listenCards(gctx, d.config.CardAddr, func(c protocol.Card) {
				d.emit(Event{Kind: EventCard, Card: &c, Bytes: len(c.Payload), Name: d.storeArtwork(gctx, c)})
			})
			if err != nil {
				log.Warn().Err(err).Str("addr", d.config.CardAddr).Msg("display card listener failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		d.session.Disconnect()
		return nil
	})

	err = g.Wait()
	d.emit(Event{Kind: EventDisconnected, Err: err})

	if d.Quitting() || ctx.Err() != nil {
		return nil
	}
	return err
}

// stream receives response frames and queues their audio for playback
func (d *Device) stream(ctx context.Context, queue *player.Queue) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := d.session.ReceiveStream(d.config.PollTimeout, func(chunk []byte) error {
			return queue.Push(ctx, chunk)
		})
		switch {
		case err == nil:
			if n > 0 {
				queue.EndResponse(ctx)
			}
			d.emit(Event{Kind: EventResponse, Bytes: n})
		case errors.Is(err, protocol.ErrFrameReadTimeout):
			continue
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// command sends queued requests one at a time
func (d *Device) command(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-d.commands:
			err := d.send(cmd)
			if err != nil {
				d.emit(Event{Kind: EventError, Name: cmd.Name, Err: err})
			}
			if cmd.Quit {
				d.Quit()
				return nil
			}
			// a missing recording is not fatal to the session
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
	}
}

func (d *Device) send(cmd Command) error {
	if cmd.Path == "" {
		return nil
	}
	data, err := os.ReadFile(cmd.Path)
	if err != nil {
		return err
	}

	send := d.config.Session.Send
	if send.Format == protocol.FormatRAW && send.Depth == protocol.Depth8 {
		data = encode.CompressPCM16(data)
	}

	if err := d.session.SendRequest(data); err != nil {
		return err
	}
	log.Info().Str("request", cmd.Name).Int("bytes", len(data)).Msg("request sent")
	d.emit(Event{Kind: EventRequestSent, Name: cmd.Name, Bytes: len(data)})
	return nil
}

// RunLoop runs sessions back to back, pausing reset between them, until
// the device quits or ctx is cancelled
func (d *Device) RunLoop(ctx context.Context, reset time.Duration) error {
	for {
		err := d.Run(ctx)
		if d.Quitting() || ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Dur("reset", reset).Msg("session ended, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reset):
		}
	}
}

// storeArtwork saves the card's artwork and returns its path, or ""
func (d *Device) storeArtwork(ctx context.Context, c protocol.Card) string {
	if d.config.Artwork == nil {
		return ""
	}
	path, err := d.config.Artwork.Handle(ctx, c)
	if err != nil {
		log.Warn().Err(err).Stringer("type", c.Type).Msg("card artwork not stored")
		return ""
	}
	return path
}
