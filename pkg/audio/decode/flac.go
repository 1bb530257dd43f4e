// ABOUTME: Whole-file decoders for FLAC, MP3 and WAV sources
// ABOUTME: Used by the gateway's file responder to load canned answers
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/avslink/avslink-go/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// ReadFile decodes an .mp3, .flac or .wav file into memory
func ReadFile(path string) (audio.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return DecodeMP3(f)
	case ".flac":
		return DecodeFLAC(f)
	case ".wav":
		return DecodeWAV(f)
	default:
		return audio.Buffer{}, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac, .wav)", ext)
	}
}

// DecodeFLAC reads a complete FLAC stream
func DecodeFLAC(r io.Reader) (audio.Buffer, error) {
	stream, err := flac.New(r)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	defer stream.Close()

	format := audio.Format{
		Codec:      audio.CodecPCM,
		SampleRate: int(stream.Info.SampleRate),
		Channels:   int(stream.Info.NChannels),
		BitDepth:   24,
	}
	bits := int(stream.Info.BitsPerSample)

	var samples []int32
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return audio.Buffer{}, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < format.Channels; ch++ {
				samples = append(samples, audio.ScaleToBitDepth(frame.Subframes[ch].Samples[i], bits))
			}
		}
	}

	return audio.Buffer{Samples: samples, Format: format}, nil
}

// DecodeMP3 reads a complete MP3 stream
func DecodeMP3(r io.Reader) (audio.Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to decode MP3: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("mp3 decode error: %w", err)
	}

	samples := make([]int32, len(pcm)/2)
	for i := range samples {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return audio.Buffer{
		Samples: samples,
		Format: audio.Format{
			Codec:      audio.CodecPCM,
			SampleRate: dec.SampleRate(),
			Channels:   2,
			BitDepth:   24,
		},
	}, nil
}

// DecodeWAV reads a canonical 44-byte-header PCM WAV stream
func DecodeWAV(r io.Reader) (audio.Buffer, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return audio.Buffer{}, fmt.Errorf("not a WAV file")
	}
	if tag := binary.LittleEndian.Uint16(header[20:22]); tag != 1 {
		return audio.Buffer{}, fmt.Errorf("unsupported WAV encoding: %d", tag)
	}

	channels := int(binary.LittleEndian.Uint16(header[22:24]))
	rate := int(binary.LittleEndian.Uint32(header[24:28]))
	bits := int(binary.LittleEndian.Uint16(header[34:36]))

	dec, err := newPCM(bits)
	if err != nil {
		return audio.Buffer{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to read WAV data: %w", err)
	}
	samples, _ := dec.Decode(data)

	return audio.Buffer{
		Samples: samples,
		Format: audio.Format{
			Codec:      audio.CodecPCM,
			SampleRate: rate,
			Channels:   channels,
			BitDepth:   24,
		},
	}, nil
}
