// ABOUTME: Voice service message type definitions
// ABOUTME: JSON control messages exchanged with the upstream voice service over WebSocket
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types
const (
	TypeSessionStart = "session/start"
	TypeSessionEnd   = "session/end"
	TypeRenderCard   = "render/card"
	TypeResponseEnd  = "response/end"
	TypeError        = "server/error"
)

// Message is the top-level wrapper for all control messages.
// Audio travels in binary WebSocket messages without a wrapper.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage wraps payload in a typed message
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	return nil
}

// AudioFormat describes audio on either side of the gateway
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// DeviceInfo contains gateway identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// SessionStart opens a voice session for one device
type SessionStart struct {
	SessionID string `json:"session_id"`
	DeviceID  uint32 `json:"device_id"`
	// Request is the audio the gateway will send
	Request AudioFormat `json:"request"`
	// Response is the audio the device accepts
	Response   AudioFormat `json:"response"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// SessionEnd closes a voice session
type SessionEnd struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// RenderCard carries a display card for the device screen.
// Image cards carry their bytes in Image; the rest carry JSON in Content.
type RenderCard struct {
	CardType uint8           `json:"card_type"`
	Content  json.RawMessage `json:"content,omitempty"`
	Image    []byte          `json:"image,omitempty"`
}

// ResponseEnd marks the end of one spoken response
type ResponseEnd struct {
	Bytes int `json:"bytes,omitempty"`
}

// Error is sent by the voice service before it closes a session
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e Error) Error() string {
	return fmt.Sprintf("voice service: %s: %s", e.Code, e.Message)
}
