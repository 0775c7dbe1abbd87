package codec

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stek29/idevicerestore/internal/bytesize"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

func TestMessageAccessors(t *testing.T) {
	t.Parallel()

	msg := Message{
		"MsgType": "DataRequestMsg",
		"Count":   int64(3),
		"Flag":    true,
		"Nested":  map[string]interface{}{"Inner": "value"},
		"Blob":    []byte{0x01, 0x02},
	}

	assert.Equal(t, "DataRequestMsg", msg.MsgType())

	s, ok := msg.GetString("MsgType")
	assert.True(t, ok)
	assert.Equal(t, "DataRequestMsg", s)

	n, ok := msg.GetInt64("Count")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	b, ok := msg.GetBool("Flag")
	assert.True(t, ok)
	assert.True(t, b)

	dict, ok := msg.GetDict("Nested")
	require.True(t, ok)
	inner, ok := dict.GetString("Inner")
	assert.True(t, ok)
	assert.Equal(t, "value", inner)

	data, ok := msg.GetData("Blob")
	assert.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	_, ok = msg.GetString("Missing")
	assert.False(t, ok)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn)
	server := New(serverConn)

	sent := Message{"MsgType": "StatusMsg", "Status": int64(0)}

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Send(sent)
	}()

	received, err := server.Receive(time.Second)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, "StatusMsg", received.MsgType())
	status, ok := received.GetInt64("Status")
	require.True(t, ok)
	assert.Equal(t, int64(0), status)
}

func TestReceiveTimeout(t *testing.T) {
	t.Parallel()

	_, serverConn := net.Pipe()
	defer serverConn.Close()

	server := New(serverConn)
	_, err := server.Receive(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReceiveRejectsOversizedFrame(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := NewWithMaxSize(serverConn, 8)

	big := Message{"MsgType": "DataRequestMsg", "Padding": make([]byte, 1024)}
	errCh := make(chan error, 1)
	go func() {
		errCh <- New(clientConn).Send(big)
	}()

	_, err := server.Receive(time.Second)
	require.Error(t, err)
	code, ok := restoreerrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, restoreerrors.ProtocolError, code)
	// Receive rejected the frame without reading its payload; closing the
	// server end releases the client's blocked payload write.
	serverConn.Close()
	<-errCh
}

func TestReceiveRejectsMissingMsgType(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn)
	server := New(serverConn)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Send(Message{"NoMsgType": "oops"})
	}()

	_, err := server.Receive(time.Second)
	require.Error(t, err)
	<-errCh
}

func TestNewDefaultsToDefaultMaxMessageSize(t *testing.T) {
	t.Parallel()

	clientConn, _ := net.Pipe()
	defer clientConn.Close()

	c := New(clientConn)
	assert.Equal(t, bytesize.ByteSize(defaultMaxMessageSize), c.maxMsgSize)
}
