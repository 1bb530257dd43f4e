// ABOUTME: File responder upstream that answers every request with canned audio
// ABOUTME: Loads MP3/FLAC/WAV files or URLs, converts to the device format and paces responses
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/avslink/avslink-go/pkg/audio/decode"
	"github.com/avslink/avslink-go/pkg/audio/encode"
	"github.com/avslink/avslink-go/pkg/audio/resample"
	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/rs/zerolog/log"
)

const httpSourceTimeout = 30 * time.Second

// FileUpstream answers each request frame with one response rendered from
// a file, URL or test tone in the device's recv format
type FileUpstream struct {
	source audio.Buffer
	// raw holds the original file bytes, sent untouched to devices that
	// accept the file's own codec
	raw      []byte
	rawCodec string
	title    string

	// Pace holds each response until the previous one has played out
	Pace bool
	// Card sends a template card naming the response alongside it
	Card bool

	mu       sync.Mutex
	rendered map[audio.Format]rendered
}

type rendered struct {
	data     []byte
	duration time.Duration
}

// NewFileUpstream loads path, which may be a local .mp3/.flac/.wav file or
// an http(s) URL. An empty path answers with DefaultTone.
func NewFileUpstream(path string) (*FileUpstream, error) {
	if path == "" {
		return NewToneUpstream(DefaultTone()), nil
	}
	u := &FileUpstream{rendered: make(map[audio.Format]rendered)}

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		buf, err := fetchAudio(path)
		if err != nil {
			return nil, err
		}
		u.source = buf
		u.title = path
		return u, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %s", path)
	}
	buf, err := decode.ReadFile(path)
	if err != nil {
		return nil, err
	}
	u.source = buf
	u.title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	// MP3 devices get the file itself; everything else is re-encoded
	if strings.ToLower(filepath.Ext(path)) == ".mp3" {
		u.rawCodec = audio.CodecMP3
		if u.raw, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("file", path).
		Stringer("format", buf.Format).
		Dur("duration", buf.Duration()).
		Msg("loaded response audio")
	return u, nil
}

// NewToneUpstream answers every request with a generated tone
func NewToneUpstream(tone Tone) *FileUpstream {
	return &FileUpstream{
		source:   tone.Buffer(),
		title:    fmt.Sprintf("Test Tone (%gHz)", tone.Frequency),
		rendered: make(map[audio.Format]rendered),
	}
}

// fetchAudio downloads and decodes an MP3 or FLAC stream
func fetchAudio(url string) (audio.Buffer, error) {
	client := &http.Client{Timeout: httpSourceTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return audio.Buffer{}, fmt.Errorf("failed to fetch %s: %s", url, resp.Status)
	}

	if strings.HasSuffix(strings.ToLower(url), ".flac") || resp.Header.Get("Content-Type") == "audio/flac" {
		return decode.DecodeFLAC(resp.Body)
	}
	return decode.DecodeMP3(resp.Body)
}

func (u *FileUpstream) String() string {
	return "file: " + u.title
}

// Title names the response audio
func (u *FileUpstream) Title() string {
	return u.title
}

// Render returns the response bytes for a device accepting format
func (u *FileUpstream) Render(format audio.Format) ([]byte, time.Duration, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if r, ok := u.rendered[format]; ok {
		return r.data, r.duration, nil
	}

	var data []byte
	switch {
	case format.Codec == u.rawCodec && u.raw != nil:
		data = u.raw

	case format.Codec == audio.CodecPCM || format.Codec == audio.CodecULaw || format.Codec == audio.CodecWAV:
		samples := resample.Remix(u.source.Samples, u.source.Format.Channels, format.Channels)
		if u.source.Format.SampleRate != format.SampleRate {
			samples = resample.New(u.source.Format.SampleRate, format.SampleRate, format.Channels).Convert(samples)
		}

		var err error
		if format.Codec == audio.CodecWAV {
			data, err = encode.EncodeWAV(format, samples)
		} else {
			data, err = encodeAll(format, samples)
		}
		if err != nil {
			return nil, 0, err
		}

	default:
		return nil, 0, fmt.Errorf("cannot render %s response from %s", format.Codec, u.title)
	}

	r := rendered{data: data, duration: u.source.Duration()}
	u.rendered[format] = r
	return r.data, r.duration, nil
}

func encodeAll(format audio.Format, samples []int32) ([]byte, error) {
	enc, err := encode.New(format)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.Encode(samples)
}

// card describes the response on the device screen
func (u *FileUpstream) card() *protocol.Card {
	payload, _ := json.Marshal(map[string]string{
		"type":  "BodyTemplate1",
		"title": u.title,
	})
	return &protocol.Card{Type: protocol.CardTemplateRender, Payload: payload}
}

// Open renders the response for the device and starts the response engine
func (u *FileUpstream) Open(ctx context.Context, info SessionInfo) (Stream, error) {
	format := audio.FormatFromCapabilities(info.Recv)
	data, duration, err := u.Render(format)
	if err != nil {
		return nil, err
	}

	engine := &responseEngine{
		response: Response{Audio: data},
		duration: duration,
		pace:     u.Pace,
		requests: make(chan struct{}, 4),
	}
	if u.Card {
		engine.response.Card = u.card()
	}
	engine.stream = newResponseStream(4, func(ctx context.Context, s *responseStream, payload []byte) error {
		select {
		case engine.requests <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrStreamClosed
		}
	})

	go engine.run(ctx)
	return engine.stream, nil
}

// responseEngine answers queued requests in order, one response each
type responseEngine struct {
	stream   *responseStream
	response Response
	duration time.Duration
	pace     bool
	requests chan struct{}
}

func (e *responseEngine) run(ctx context.Context) {
	var busyUntil time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stream.done:
			return
		case <-e.requests:
		}

		if wait := time.Until(busyUntil); e.pace && wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-e.stream.done:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		if err := e.stream.emit(ctx, e.response); err != nil {
			return
		}
		busyUntil = time.Now().Add(e.duration)
	}
}
