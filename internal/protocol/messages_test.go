// ABOUTME: Tests for voice service message types
// ABOUTME: Verifies JSON wrapping and payload decoding
package protocol

import (
	"encoding/json"
	"testing"
)

func TestSessionStartMarshaling(t *testing.T) {
	start := SessionStart{
		SessionID: "abc",
		DeviceID:  3,
		Request:   AudioFormat{Codec: "pcm", Channels: 1, SampleRate: 16000, BitDepth: 16},
		Response:  AudioFormat{Codec: "mp3", Channels: 1, SampleRate: 44100, BitDepth: 16},
		DeviceInfo: &DeviceInfo{
			ProductName:     "avslink",
			Manufacturer:    "avslink",
			SoftwareVersion: "0.3.0",
		},
	}

	msg, err := NewMessage(TypeSessionStart, start)
	if err != nil {
		t.Fatalf("failed to wrap: %v", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeSessionStart {
		t.Errorf("expected type %s, got %s", TypeSessionStart, decoded.Type)
	}

	var got SessionStart
	if err := decoded.Decode(&got); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if got.DeviceID != 3 || got.Response.Codec != "mp3" || got.DeviceInfo == nil {
		t.Errorf("payload mismatch: %+v", got)
	}
}

func TestMessageWithoutPayload(t *testing.T) {
	msg, err := NewMessage(TypeResponseEnd, nil)
	if err != nil {
		t.Fatalf("failed to wrap: %v", err)
	}
	data, _ := json.Marshal(msg)
	if string(data) != `{"type":"response/end"}` {
		t.Errorf("unexpected encoding %s", data)
	}

	var end ResponseEnd
	if err := msg.Decode(&end); err == nil {
		t.Error("expected error decoding empty payload")
	}
}

func TestRenderCardImageIsBase64(t *testing.T) {
	msg, err := NewMessage(TypeRenderCard, RenderCard{CardType: 4, Image: []byte{0x89, 'P', 'N', 'G'}})
	if err != nil {
		t.Fatalf("failed to wrap: %v", err)
	}
	if string(msg.Payload) != `{"card_type":4,"image":"iVBORw=="}` {
		t.Errorf("unexpected payload %s", msg.Payload)
	}
}

func TestErrorMessage(t *testing.T) {
	raw := []byte(`{"type":"server/error","payload":{"error":"busy","message":"try later"}}`)
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	var e Error
	if err := msg.Decode(&e); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if e.Error() != "voice service: busy: try later" {
		t.Errorf("unexpected error text %q", e.Error())
	}
}
