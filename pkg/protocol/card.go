// ABOUTME: Display card codec for the device renderer channel
// ABOUTME: 8-byte header (size, type, reserved) followed by a JSON or image payload
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// CardHeaderSize is the size of a display card header
	CardHeaderSize = 8

	// CardPortOffset is added to the session port to get the renderer port
	CardPortOffset = 100

	// MaxCardSize bounds card payloads; album art is the largest card seen
	MaxCardSize = 4 * 1024 * 1024
)

// CardType identifies the display card content
type CardType uint8

const (
	CardPlayerInfoRender CardType = 0
	CardPlayerInfoClear  CardType = 1
	CardTemplateRender   CardType = 2
	CardTemplateClear    CardType = 3
	CardImagePNG         CardType = 4
	CardImageJPG         CardType = 5
)

func (t CardType) String() string {
	switch t {
	case CardPlayerInfoRender:
		return "player-info-render"
	case CardPlayerInfoClear:
		return "player-info-clear"
	case CardTemplateRender:
		return "template-render"
	case CardTemplateClear:
		return "template-clear"
	case CardImagePNG:
		return "image-png"
	case CardImageJPG:
		return "image-jpg"
	}
	return fmt.Sprintf("card(%d)", uint8(t))
}

// IsImage reports whether the payload is an image instead of JSON
func (t CardType) IsImage() bool {
	return t == CardImagePNG || t == CardImageJPG
}

// Card is one display card pushed to a device
type Card struct {
	Type    CardType
	Payload []byte
}

// Fields decodes a JSON card payload
func (c Card) Fields() (map[string]any, error) {
	if c.Type.IsImage() {
		return nil, fmt.Errorf("card %s has no JSON payload", c.Type)
	}
	fields := make(map[string]any)
	if len(c.Payload) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(c.Payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse card payload: %w", err)
	}
	return fields, nil
}

// WriteCard writes the card header and payload
func WriteCard(w io.Writer, c Card) error {
	if len(c.Payload) > MaxCardSize {
		return fmt.Errorf("card payload too large: %d bytes", len(c.Payload))
	}

	buf := make([]byte, CardHeaderSize+len(c.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(c.Payload)))
	buf[4] = byte(c.Type)
	copy(buf[CardHeaderSize:], c.Payload)

	_, err := w.Write(buf)
	return err
}

// ReadCard reads one card. Reserved header fields are ignored.
func ReadCard(r io.Reader) (Card, error) {
	var hdr [CardHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Card{}, fmt.Errorf("%w: %w", ErrShortCard, err)
		}
		return Card{}, err
	}

	size := binary.LittleEndian.Uint32(hdr[0:4])
	if size > MaxCardSize {
		return Card{}, fmt.Errorf("card payload too large: %d bytes", size)
	}

	card := Card{Type: CardType(hdr[4]), Payload: make([]byte, size)}
	if _, err := io.ReadFull(r, card.Payload); err != nil {
		return Card{}, fmt.Errorf("%w: %w", ErrShortCard, err)
	}
	return card, nil
}
