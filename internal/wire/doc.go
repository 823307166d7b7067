// Package wire implements the framed message protocol shared by every
// peer-to-peer and coordinator-to-peer link in the cluster.
//
// # Overview
//
// Every link in the cluster — coordinator to client, and peer to peer — is a
// reliable, ordered, bidirectional byte stream carrying a sequence of
// length-prefixed Messages. wire.Conn wraps a net.Conn with that framing:
//
//	┌──────────────┬─────────────────────────────────────────┐
//	│ length (u32) │ msg_id | sender | target | kind | payload │
//	│  big-endian  │         little-endian fields              │
//	└──────────────┴─────────────────────────────────────────┘
//
// # Message kinds
//
//	Introduction  client -> coordinator   address, network_name, node_id
//	              (also the peer -> peer hello; node_id is the sender's id)
//	Directory     coordinator -> client   []  (NodeId, Address)
//	Kill          coordinator -> client   (empty)
//	Get           peer -> peer            key_name, home
//	Value         peer -> peer            key_name, home, bytes
//	Blob          peer -> peer            bytes
//
// # Error handling
//
// A receiver closes the link on any length exceeding MaxFrameLength, a
// truncated payload, or an unrecognized kind tag. All three surface as
// ErrProtocolViolation. Underlying socket failures surface as
// ErrIoFailure-wrapped errors.
package wire
