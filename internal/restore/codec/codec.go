// Package codec reads and writes the typed dictionary messages exchanged
// with the on-device restore daemon: a plist payload framed by a 4-byte
// big-endian length prefix.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"howett.net/plist"

	"github.com/stek29/idevicerestore/internal/bytesize"
	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// Message is the generic structured-value envelope exchanged over the
// restore protocol: a dictionary of string keys to arbitrary plist-typed
// values (dictionary, array, string, integer, boolean, or binary blob).
type Message map[string]interface{}

// MsgType returns the message's top-level type, or "" if absent or not a
// string.
func (m Message) MsgType() string {
	v, _ := m["MsgType"].(string)
	return v
}

// GetString returns m[key] as a string, and whether it was present with
// the right type.
func (m Message) GetString(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// GetInt64 returns m[key] as an int64, accepting any of the integer-ish
// types plist.Unmarshal may produce.
func (m Message) GetInt64(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

// GetBool returns m[key] as a bool, and whether it was present with the
// right type.
func (m Message) GetBool(key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

// GetDict returns m[key] as a nested Message, and whether it was present
// with the right type.
func (m Message) GetDict(key string) (Message, bool) {
	switch v := m[key].(type) {
	case Message:
		return v, true
	case map[string]interface{}:
		return Message(v), true
	}
	return nil, false
}

// GetData returns m[key] as a []byte, and whether it was present with the
// right type.
func (m Message) GetData(key string) ([]byte, bool) {
	v, ok := m[key].([]byte)
	return v, ok
}

// defaultMaxMessageSize bounds a single framed message when the caller
// does not override it via NewWithMaxSize.
const defaultMaxMessageSize = 64 * bytesize.MiB

// Codec frames Messages over a net.Conn using the restore protocol's
// 4-byte big-endian length prefix and binary plist encoding.
type Codec struct {
	conn        net.Conn
	maxMsgSize  bytesize.ByteSize
}

// New wraps conn in a Codec, bounding incoming frames at the default
// maximum message size.
func New(conn net.Conn) *Codec {
	return NewWithMaxSize(conn, defaultMaxMessageSize)
}

// NewWithMaxSize wraps conn in a Codec, bounding incoming frames at
// maxSize -- configurable via restoreconfig for callers restoring over a
// transport with different framing headroom than the USB default.
func NewWithMaxSize(conn net.Conn, maxSize bytesize.ByteSize) *Codec {
	return &Codec{conn: conn, maxMsgSize: maxSize}
}

// Send encodes msg as a binary plist and writes it length-prefixed.
func (c *Codec) Send(msg Message) error {
	var buf bytes.Buffer
	enc := plist.NewBinaryEncoder(&buf)
	if err := enc.Encode(map[string]interface{}(msg)); err != nil {
		return restoreerrors.NewProtocolError("codec.encode", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))

	if _, err := c.conn.Write(lenPrefix[:]); err != nil {
		return restoreerrors.NewTransportError("codec.send", err)
	}
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return restoreerrors.NewTransportError("codec.send", err)
	}
	return nil
}

// ErrTimeout is returned by Receive when the read deadline elapses before a
// full message arrives. Callers must treat this as a transient condition,
// not a fatal error: an empty tick that continues the message loop.
var ErrTimeout = fmt.Errorf("codec: receive timed out")

// Receive reads one length-prefixed plist message, applying deadline as the
// read deadline on the underlying connection. A deadline of zero disables
// the timeout.
func (c *Codec) Receive(deadline time.Duration) (Message, error) {
	if deadline > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return nil, restoreerrors.NewTransportError("codec.receive", err)
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}

	var lenPrefix [4]byte
	if _, err := io.ReadFull(c.conn, lenPrefix[:]); err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, restoreerrors.NewTransportError("codec.receive", err)
	}

	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size == 0 || bytesize.ByteSize(size) > c.maxMsgSize {
		return nil, restoreerrors.NewProtocolError("codec.receive", fmt.Errorf("invalid frame size %d", size))
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, restoreerrors.NewTransportError("codec.receive", err)
	}

	var raw map[string]interface{}
	if _, err := plist.Unmarshal(payload, &raw); err != nil {
		logger.Warn("malformed restore message, skipping", logger.Err(err))
		return nil, restoreerrors.NewProtocolError("codec.decode", err)
	}

	msg := Message(raw)
	if _, ok := msg.GetString("MsgType"); !ok {
		logger.Warn("restore message missing MsgType, skipping")
		return nil, restoreerrors.NewProtocolError("codec.decode", fmt.Errorf("missing MsgType"))
	}

	return msg, nil
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
