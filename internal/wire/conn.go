package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// lengthPrefixSize is the size of the big-endian length prefix that precedes
// every frame on the wire.
const lengthPrefixSize = 4

// Conn frames Messages over a net.Conn: a 4-byte big-endian length prefix
// followed by the header+payload produced by encode. One Conn exists per
// peer link or per client-to-coordinator link.
//
// Reads are not safe for concurrent use: each link has exactly one inbound
// reader goroutine. Writes are serialized internally so that concurrent
// senders never interleave a frame.
type Conn struct {
	netConn   net.Conn
	writeMu   sync.Mutex
	nextMsgID atomic.Uint64
	maxFrame  int
}

// NewConn wraps nc with the framed protocol, using MaxFrameLength as the
// receive-side frame size ceiling.
func NewConn(nc net.Conn) *Conn {
	return &Conn{netConn: nc, maxFrame: MaxFrameLength}
}

// SetMaxFrameLength overrides the default frame size ceiling, mainly for
// tests that want to exercise ErrProtocolViolation without allocating huge
// buffers.
func (c *Conn) SetMaxFrameLength(n int) {
	c.maxFrame = n
}

// LastMsgID returns the most recently assigned outbound msg_id, for
// diagnostics only: msg_id correlates nothing on its own.
func (c *Conn) LastMsgID() uint64 {
	return c.nextMsgID.Load()
}

// WriteMessage assigns the next msg_id for this Conn's sender, encodes m,
// and writes it as one framed, length-prefixed record. Safe for concurrent
// callers.
func (c *Conn) WriteMessage(sender, target uint64, kind Kind, payload any) error {
	msgID := c.nextMsgID.Add(1)
	m := &Message{MsgID: msgID, Sender: sender, Target: target, Kind: kind, Payload: payload}
	body, err := encode(m)
	if err != nil {
		return err
	}
	if len(body) > c.maxFrame {
		return fmt.Errorf("%w: frame of %d bytes exceeds max %d", ErrProtocolViolation, len(body), c.maxFrame)
	}

	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.netConn.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return nil
}

// ReadMessage blocks for exactly one framed record and decodes it. It
// returns ErrProtocolViolation (wrapped) for an oversize length, a
// truncated payload, or an unrecognized kind tag; the caller must close the
// link on any such error. It returns ErrIoFailure (wrapped) for any other
// I/O failure, including a clean io.EOF.
func (c *Conn) ReadMessage() (*Message, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(c.netConn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > c.maxFrame {
		return nil, fmt.Errorf("%w: frame length %d exceeds max %d", ErrProtocolViolation, n, c.maxFrame)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.netConn, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return decode(body)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.netConn.Close()
}

// RemoteAddr returns the underlying connection's remote address, for
// logging.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}
