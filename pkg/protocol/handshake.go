// ABOUTME: Session handshake: device identity followed by capability words
// ABOUTME: Also maps device ids to gateway ports
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultPort is the gateway port for device 1
	DefaultPort = 11234

	// MaxDevices is the number of device slots a gateway serves
	MaxDevices = 16
)

// HandshakeVersion selects the bytes sent after connect
type HandshakeVersion int

const (
	// HandshakeIdentityOnly sends only the 4-byte device id (legacy firmware)
	HandshakeIdentityOnly HandshakeVersion = 0
	// HandshakeCapabilities sends the device id and both capability words
	HandshakeCapabilities HandshakeVersion = 1
)

// Size returns the handshake size in bytes
func (v HandshakeVersion) Size() int {
	if v == HandshakeIdentityOnly {
		return 4
	}
	return 8
}

func (v HandshakeVersion) String() string {
	switch v {
	case HandshakeIdentityOnly:
		return "identity"
	case HandshakeCapabilities:
		return "capabilities"
	}
	return fmt.Sprintf("handshake(%d)", int(v))
}

// Handshake is the session identity plus the audio formats for both directions
type Handshake struct {
	Version  HandshakeVersion
	DeviceID uint32
	Send     Capabilities // device -> gateway
	Recv     Capabilities // gateway -> device
}

// WriteHandshake sends h in one write
func WriteHandshake(w io.Writer, h Handshake) error {
	buf := make([]byte, h.Version.Size())
	binary.LittleEndian.PutUint32(buf[0:4], h.DeviceID)
	if h.Version != HandshakeIdentityOnly {
		binary.LittleEndian.PutUint16(buf[4:6], EncodeCapabilities(h.Send))
		binary.LittleEndian.PutUint16(buf[6:8], EncodeCapabilities(h.Recv))
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return nil
}

// ReadHandshake reads a handshake of the given version.
// Identity-only handshakes carry no capabilities; both directions default
// to DefaultCapabilities.
func ReadHandshake(r io.Reader, version HandshakeVersion) (Handshake, error) {
	buf := make([]byte, version.Size())
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Handshake{}, fmt.Errorf("%w: connection closed during handshake", ErrHandshakeFailed)
		}
		return Handshake{}, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	h := Handshake{
		Version:  version,
		DeviceID: binary.LittleEndian.Uint32(buf[0:4]),
		Send:     DefaultCapabilities(),
		Recv:     DefaultCapabilities(),
	}
	if version != HandshakeIdentityOnly {
		h.Send = DecodeCapabilities(binary.LittleEndian.Uint16(buf[4:6]))
		h.Recv = DecodeCapabilities(binary.LittleEndian.Uint16(buf[6:8]))
	}
	return h, nil
}

// ValidateDeviceID checks that id names one of the gateway's device slots
func ValidateDeviceID(id uint32) error {
	if id < 1 || id > MaxDevices {
		return fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidDeviceID, id, MaxDevices)
	}
	return nil
}

// DevicePort returns the gateway port a device connects to.
// With per-device accounts each device gets its own port: base + id - 1.
func DevicePort(base int, id uint32, perDevice bool) int {
	if !perDevice || id == 0 {
		return base
	}
	return base + int(id) - 1
}
