package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stek29/idevicerestore/internal/restore/codec"
	"github.com/stek29/idevicerestore/pkg/restoreconfig"
)

type fakeDialer struct {
	conn     net.Conn
	identity string
	err      error
}

func (f *fakeDialer) DialRestore(ctx context.Context, udid string, timeout time.Duration) (net.Conn, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.conn, f.identity, nil
}

func handshakeOptions(ecid string) *restoreconfig.Options {
	return &restoreconfig.Options{
		ECID:           ecid,
		Variant:        "Erase",
		ConnectTimeout: time.Second,
		MaxMessageSize: 64 * 1024 * 1024,
	}
}

func TestOpenSucceedsOnMatchingECID(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		c := codec.New(serverConn)
		c.Send(codec.Message{
			"MsgType":         "HelloMsg",
			"ProtocolVersion": int64(15),
			"Image4Supported":  true,
			"HardwareInfo": codec.Message{
				"UniqueChipID": int64(0x1234),
				"SerialNumber": "ABC123",
				"ProductType":  "iPhone10,1",
			},
		})
	}()

	dialer := &fakeDialer{conn: clientConn, identity: expectedServiceIdentity}
	sess, err := Open(context.Background(), dialer, "udid-1", handshakeOptions("0x1234"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0x1234), sess.State.ECID)
	assert.Equal(t, "ABC123", sess.State.Serial)
	assert.Equal(t, "iPhone10,1", sess.State.HardwareModel)
	assert.Equal(t, 15, sess.State.ProtocolVersion)
	assert.True(t, sess.State.Image4Supported)
	assert.True(t, sess.State.Flags.Erase)
}

func TestOpenRejectsECIDMismatch(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		c := codec.New(serverConn)
		c.Send(codec.Message{
			"MsgType": "HelloMsg",
			"HardwareInfo": codec.Message{
				"UniqueChipID": int64(0x1234),
			},
		})
	}()

	dialer := &fakeDialer{conn: clientConn, identity: expectedServiceIdentity}
	_, err := Open(context.Background(), dialer, "udid-1", handshakeOptions("0x9999"))
	assert.Error(t, err)
}

func TestOpenRejectsUnexpectedIdentity(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	dialer := &fakeDialer{conn: clientConn, identity: "com.apple.mobile.notrestore"}
	_, err := Open(context.Background(), dialer, "udid-1", handshakeOptions("0x1234"))
	assert.Error(t, err)
}

func TestOpenRejectsMissingHardwareInfo(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		codec.New(serverConn).Send(codec.Message{"MsgType": "Hello"})
	}()

	dialer := &fakeDialer{conn: clientConn, identity: expectedServiceIdentity}
	_, err := Open(context.Background(), dialer, "udid-1", handshakeOptions("0x1234"))
	assert.Error(t, err)
}

func TestOpenPropagatesDialerError(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{err: assert.AnError}
	_, err := Open(context.Background(), dialer, "udid-1", handshakeOptions("0x1234"))
	assert.Error(t, err)
}

func TestCacheBasebandTicketIsSetOnce(t *testing.T) {
	t.Parallel()

	st := &State{}
	st.CacheBasebandTicket(map[string]interface{}{"BBTicket": []byte{0x01}})
	st.CacheBasebandTicket(map[string]interface{}{"BBTicket": []byte{0x02}})

	resp, ok := st.CachedBasebandTicket()
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, resp["BBTicket"])
}

func TestSetQuitAndShouldQuit(t *testing.T) {
	t.Parallel()

	st := &State{}
	assert.False(t, st.ShouldQuit())
	st.SetQuit()
	assert.True(t, st.ShouldQuit())
}

func TestOnDeviceEventWakesReboot(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	state := &State{inRestoreMode: true}
	state.deviceEventCv = sync.NewCond(&state.deviceEventMu)

	sess := &Session{State: state, Codec: codec.New(clientConn), conn: clientConn}

	done := make(chan error, 1)
	go func() {
		_, err := codec.New(serverConn).Receive(time.Second)
		done <- err
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		sess.OnDeviceEvent(false)
	}()

	err := sess.Reboot(context.Background())
	assert.NoError(t, err)
	require.NoError(t, <-done)
}
