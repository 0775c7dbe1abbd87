// Package transport provides a concrete Dialer for the Device Session:
// the actual device multiplexer (USB lockdownd/usbmuxd) is an external
// collaborator out of scope for this driver, so this package supplies the
// one transport it can implement standalone -- a plain TCP connection to
// an address that already speaks the restore protocol, such as a
// network-attached or virtualized device endpoint.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// TCPDialer implements session.Dialer over a pre-resolved host:port
// address. It does not perform the lockdownd service-start handshake real
// USB-attached devices require -- that negotiation is the USB multiplexer
// layer's job, out of scope here -- so it reports IdentityAssumed as the
// remote service identity unconditionally, trusting that whatever put
// this address in front of the driver already selected the restore
// service.
type TCPDialer struct {
	// Addr is the restore endpoint's network address, e.g. "10.0.0.5:62078".
	Addr string

	// IdentityAssumed is the service identity to report, bypassing the
	// lockdownd handshake. Defaults to the restore service name.
	IdentityAssumed string
}

const defaultIdentity = "com.apple.mobile.restored"

// DialRestore dials Addr with the given timeout.
func (d *TCPDialer) DialRestore(ctx context.Context, udid string, timeout time.Duration) (net.Conn, string, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, "", restoreerrors.NewTransportError("transport.dial", err)
	}

	identity := d.IdentityAssumed
	if identity == "" {
		identity = defaultIdentity
	}
	return conn, identity, nil
}
