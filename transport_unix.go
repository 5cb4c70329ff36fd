package mqtt5

import (
	"context"
	"net"
)

// UnixDialer dials unix:// server URIs; the address is the socket path.
type UnixDialer struct {
	dialer net.Dialer
}

func (d *UnixDialer) Dial(ctx context.Context, path string) (net.Conn, error) {
	return d.dialer.DialContext(ctx, "unix", path)
}
