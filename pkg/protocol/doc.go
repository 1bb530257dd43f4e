// ABOUTME: Audio session wire protocol package
// ABOUTME: Capability words, length-prefixed frames, handshake and display cards
// Package protocol implements the audio session wire protocol spoken between
// a voice-assistant device and its gateway.
//
// A session starts with a handshake (device id, then the send and receive
// capability words) followed by length-prefixed frames in both directions:
//
//	[deviceId:4][sendCaps:2][recvCaps:2]
//	[length:4][payload:length] ...
//
// All integers are little-endian.
//
// Example:
//
//	err := protocol.WriteHandshake(conn, protocol.Handshake{
//		Version:  protocol.HandshakeCapabilities,
//		DeviceID: 2,
//		Send:     protocol.DefaultCapabilities(),
//		Recv:     protocol.DefaultCapabilities(),
//	})
//	err = protocol.WriteFrame(conn, request)
//	reply, err := protocol.NewFrameReader(conn, protocol.DefaultFrameOptions()).ReadFrame()
package protocol
