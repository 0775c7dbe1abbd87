package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialRestoreDefaultsIdentity(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	d := &TCPDialer{Addr: ln.Addr().String()}
	conn, identity, err := d.DialRestore(context.Background(), "udid", time.Second)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, defaultIdentity, identity)
}

func TestDialRestoreHonorsIdentityAssumed(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	d := &TCPDialer{Addr: ln.Addr().String(), IdentityAssumed: "com.apple.custom.restore"}
	conn, identity, err := d.DialRestore(context.Background(), "udid", time.Second)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "com.apple.custom.restore", identity)
}

func TestDialRestoreFailureIsTransportError(t *testing.T) {
	t.Parallel()

	d := &TCPDialer{Addr: "127.0.0.1:1"}
	_, _, err := d.DialRestore(context.Background(), "udid", 100*time.Millisecond)
	assert.Error(t, err)
}
