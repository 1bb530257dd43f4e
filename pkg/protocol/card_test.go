// ABOUTME: Tests for display card encoding
// ABOUTME: Header layout, JSON fields and image cards
package protocol

import (
	"bytes"
	"testing"
)

func TestCardRoundTrip(t *testing.T) {
	card := Card{
		Type:    CardTemplateRender,
		Payload: []byte(`{"title":"Weather","subtitle":"Seattle"}`),
	}

	var buf bytes.Buffer
	if err := WriteCard(&buf, card); err != nil {
		t.Fatalf("WriteCard failed: %v", err)
	}

	raw := buf.Bytes()
	if len(raw) != CardHeaderSize+len(card.Payload) {
		t.Fatalf("expected %d bytes, got %d", CardHeaderSize+len(card.Payload), len(raw))
	}
	if raw[4] != byte(CardTemplateRender) {
		t.Errorf("expected type byte %d, got %d", CardTemplateRender, raw[4])
	}
	if raw[5] != 0 || raw[6] != 0 || raw[7] != 0 {
		t.Errorf("expected reserved bytes to be zero, got %v", raw[5:8])
	}

	got, err := ReadCard(&buf)
	if err != nil {
		t.Fatalf("ReadCard failed: %v", err)
	}
	if got.Type != card.Type {
		t.Errorf("expected type %s, got %s", card.Type, got.Type)
	}

	fields, err := got.Fields()
	if err != nil {
		t.Fatalf("Fields failed: %v", err)
	}
	if fields["title"] != "Weather" {
		t.Errorf("expected title Weather, got %v", fields["title"])
	}
}

func TestCardEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCard(&buf, Card{Type: CardPlayerInfoClear}); err != nil {
		t.Fatalf("WriteCard failed: %v", err)
	}

	got, err := ReadCard(&buf)
	if err != nil {
		t.Fatalf("ReadCard failed: %v", err)
	}
	fields, err := got.Fields()
	if err != nil {
		t.Fatalf("Fields failed: %v", err)
	}
	if len(fields) != 0 {
		t.Errorf("expected no fields, got %v", fields)
	}
}

func TestImageCardHasNoFields(t *testing.T) {
	card := Card{Type: CardImagePNG, Payload: []byte{0x89, 'P', 'N', 'G'}}
	if _, err := card.Fields(); err == nil {
		t.Error("expected error for image card")
	}
	if !card.Type.IsImage() {
		t.Error("expected PNG card to be an image")
	}
}

func TestReadCardTruncated(t *testing.T) {
	data := []byte{10, 0, 0, 0, 2, 0, 0, 0, '{'}
	if _, err := ReadCard(bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for truncated payload")
	}

	if _, err := ReadCard(bytes.NewReader([]byte{1, 0})); err == nil {
		t.Fatal("expected error for truncated header")
	}
}
