package mqtt5

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned for server URIs with an unknown scheme.
var ErrUnsupportedScheme = errors.New("unsupported server URI scheme")

// Dialer opens the byte stream a session runs on.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// contextDialer is satisfied by net.Dialer and ProxyDialer.
type contextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPDialer dials plain TCP, optionally through a proxy.
type TCPDialer struct {
	Forward contextDialer
}

func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	fwd := d.Forward
	if fwd == nil {
		fwd = &net.Dialer{}
	}
	return fwd.DialContext(ctx, "tcp", address)
}

// TLSDialer dials TCP and performs a TLS handshake, optionally through a
// proxy.
type TLSDialer struct {
	Config  *tls.Config
	Forward contextDialer
}

func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	cfg := d.Config
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			cfg = cfg.Clone()
			cfg.ServerName = host
		}
	}

	raw, err := (&TCPDialer{Forward: d.Forward}).Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return conn, nil
}

var defaultPorts = map[string]string{
	"tcp":   "1883",
	"mqtt":  "1883",
	"ssl":   "8883",
	"tls":   "8883",
	"mqtts": "8883",
	"ws":    "80",
	"wss":   "443",
	"quic":  "8883",
}

// resolveDialer picks the transport for serverURI and returns the address
// to pass to it.
func resolveDialer(serverURI string, opts *ConnectionOptions) (Dialer, string, error) {
	u, err := url.Parse(serverURI)
	if err != nil {
		return nil, "", fmt.Errorf("parse server URI: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)

	host := u.Host
	if port, ok := defaultPorts[scheme]; ok && u.Port() == "" && u.Hostname() != "" {
		host = net.JoinHostPort(u.Hostname(), port)
	}

	var forward contextDialer
	if opts.ProxyURL != "" && scheme != "unix" && scheme != "quic" {
		pd, err := NewProxyDialer(opts.ProxyURL, "", "")
		if err != nil {
			return nil, "", err
		}
		forward = pd
	}

	switch scheme {
	case "tcp", "mqtt":
		return &TCPDialer{Forward: forward}, host, nil
	case "ssl", "tls", "mqtts":
		return &TLSDialer{Config: opts.TLSConfig, Forward: forward}, host, nil
	case "ws", "wss":
		d := NewWSDialer(opts.TLSConfig)
		if forward != nil {
			d.Dialer.NetDialContext = forward.DialContext
		}
		return d, serverURI, nil
	case "unix":
		path := u.Path
		if u.Host != "" && u.Host != "localhost" {
			path = u.Host + u.Path
		}
		return &UnixDialer{}, path, nil
	case "quic":
		return NewQUICDialer(opts.TLSConfig), host, nil
	}
	return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}
