package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind identifies the payload layout of a Message.
type Kind uint8

const (
	// KindIntroduction carries a client's listen address and network name to
	// the Coordinator, or a peer's hello to another peer during mesh dial.
	KindIntroduction Kind = 1
	// KindDirectory carries the Coordinator's snapshot of already-registered
	// peers back to a newly introduced client.
	KindDirectory Kind = 2
	// KindKill is the Coordinator's empty-payload shutdown broadcast.
	KindKill Kind = 3
	// KindGet requests a key's value from its home node.
	KindGet Kind = 4
	// KindValue carries a key's value, either in answer to a Get or as a
	// cross-node put.
	KindValue Kind = 5
	// KindBlob carries an opaque application-level control message.
	KindBlob Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindIntroduction:
		return "Introduction"
	case KindDirectory:
		return "Directory"
	case KindKill:
		return "Kill"
	case KindGet:
		return "Get"
	case KindValue:
		return "Value"
	case KindBlob:
		return "Blob"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// CoordinatorID is the reserved sender id for frames originating at the
// Coordinator; no node is ever assigned this id.
const CoordinatorID uint64 = 0

// MaxFrameLength is the default ceiling on a single frame's encoded length,
// including the fixed header.
const MaxFrameLength = 1 << 28

// headerLen is the byte length of msg_id+sender+target+kind, before payload.
const headerLen = 8 + 8 + 8 + 1

// Message is a fully decoded frame: the fixed header fields plus a
// kind-specific payload. Payload is one of IntroductionPayload,
// DirectoryPayload, KillPayload, GetPayload, ValuePayload or BlobPayload,
// matching Kind.
type Message struct {
	Payload any
	MsgID   uint64
	Sender  uint64
	Target  uint64
	Kind    Kind
}

// IntroductionPayload is the payload of KindIntroduction: a client
// announcing its dial address, or a peer announcing its assigned id during
// mesh handshake (NodeID is ignored on the coordinator link, where the
// sender field itself is unassigned).
type IntroductionPayload struct {
	Address     string
	NetworkName string
	NodeID      uint64
}

// DirectoryEntry is one row of a DirectoryPayload: a peer's assigned id and
// dial address.
type DirectoryEntry struct {
	Address string
	NodeID  uint64
}

// DirectoryPayload is the payload of KindDirectory.
type DirectoryPayload struct {
	Peers []DirectoryEntry
}

// KillPayload is the (empty) payload of KindKill.
type KillPayload struct{}

// GetPayload is the payload of KindGet.
type GetPayload struct {
	KeyName string
	Home    uint64
}

// ValuePayload is the payload of KindValue.
type ValuePayload struct {
	KeyName string
	Bytes   []byte
	Home    uint64
}

// BlobPayload is the payload of KindBlob.
type BlobPayload struct {
	Bytes []byte
}

// ErrProtocolViolation is returned when a frame violates the wire format:
// oversize length, truncated payload, or an unrecognized kind tag. Always
// fatal for the affected link.
var ErrProtocolViolation = errors.New("wire: protocol violation")

// ErrIoFailure wraps an underlying socket or codec failure. Fatal for the
// affected link; callers should treat it like ErrProtocolViolation for
// teardown purposes.
var ErrIoFailure = errors.New("wire: io failure")

// encode serializes m's fixed header and kind-specific payload, without the
// length prefix (Conn.WriteMessage adds that).
func encode(m *Message) ([]byte, error) {
	buf := make([]byte, headerLen, headerLen+64)
	binary.LittleEndian.PutUint64(buf[0:8], m.MsgID)
	binary.LittleEndian.PutUint64(buf[8:16], m.Sender)
	binary.LittleEndian.PutUint64(buf[16:24], m.Target)
	buf[24] = byte(m.Kind)

	switch p := m.Payload.(type) {
	case IntroductionPayload:
		buf = appendString(buf, p.Address)
		buf = appendString(buf, p.NetworkName)
		buf = appendUint64(buf, p.NodeID)
	case DirectoryPayload:
		buf = appendUint32(buf, uint32(len(p.Peers)))
		for _, e := range p.Peers {
			buf = appendUint64(buf, e.NodeID)
			buf = appendString(buf, e.Address)
		}
	case KillPayload:
		// empty payload
	case GetPayload:
		buf = appendString(buf, p.KeyName)
		buf = appendUint64(buf, p.Home)
	case ValuePayload:
		buf = appendString(buf, p.KeyName)
		buf = appendUint64(buf, p.Home)
		buf = appendBlob(buf, p.Bytes)
	case BlobPayload:
		buf = appendBlob(buf, p.Bytes)
	default:
		return nil, fmt.Errorf("%w: unknown payload type %T for kind %s", ErrProtocolViolation, p, m.Kind)
	}
	return buf, nil
}

// decode parses a header+payload frame (as produced by encode, without its
// length prefix) into a Message.
func decode(raw []byte) (*Message, error) {
	if len(raw) < headerLen {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrProtocolViolation, len(raw))
	}
	m := &Message{
		MsgID:  binary.LittleEndian.Uint64(raw[0:8]),
		Sender: binary.LittleEndian.Uint64(raw[8:16]),
		Target: binary.LittleEndian.Uint64(raw[16:24]),
		Kind:   Kind(raw[24]),
	}
	rest := raw[headerLen:]

	var err error
	switch m.Kind {
	case KindIntroduction:
		var p IntroductionPayload
		if p.Address, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if p.NetworkName, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if p.NodeID, rest, err = readUint64(rest); err != nil {
			return nil, err
		}
		m.Payload = p
	case KindDirectory:
		var p DirectoryPayload
		var count uint32
		if count, rest, err = readUint32(rest); err != nil {
			return nil, err
		}
		p.Peers = make([]DirectoryEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			var e DirectoryEntry
			if e.NodeID, rest, err = readUint64(rest); err != nil {
				return nil, err
			}
			if e.Address, rest, err = readString(rest); err != nil {
				return nil, err
			}
			p.Peers = append(p.Peers, e)
		}
		m.Payload = p
	case KindKill:
		m.Payload = KillPayload{}
	case KindGet:
		var p GetPayload
		if p.KeyName, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if p.Home, rest, err = readUint64(rest); err != nil {
			return nil, err
		}
		m.Payload = p
	case KindValue:
		var p ValuePayload
		if p.KeyName, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if p.Home, rest, err = readUint64(rest); err != nil {
			return nil, err
		}
		if p.Bytes, rest, err = readBlob(rest); err != nil {
			return nil, err
		}
		m.Payload = p
	case KindBlob:
		var p BlobPayload
		if p.Bytes, rest, err = readBlob(rest); err != nil {
			return nil, err
		}
		m.Payload = p
	default:
		return nil, fmt.Errorf("%w: unknown kind tag %d", ErrProtocolViolation, raw[24])
	}
	return m, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendBlob(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated u32", ErrProtocolViolation)
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func readUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("%w: truncated u64", ErrProtocolViolation)
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8:], nil
}

func readString(b []byte) (string, []byte, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < uint64(n) {
		return "", nil, fmt.Errorf("%w: truncated string", ErrProtocolViolation)
	}
	return string(rest[:n]), rest[n:], nil
}

func readBlob(b []byte) ([]byte, []byte, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < uint64(n) {
		return nil, nil, fmt.Errorf("%w: truncated blob", ErrProtocolViolation)
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}
