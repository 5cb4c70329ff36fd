package mqtt5

import "context"

// ClientEnhancedAuthContext is passed to the authenticator for every AUTH
// packet the server sends during or after the connect handshake.
type ClientEnhancedAuthContext struct {
	AuthMethod string
	AuthData   []byte
	ReasonCode ReasonCode

	// State is whatever the previous step returned.
	State any
}

// ClientEnhancedAuthResult is one step of an enhanced authentication
// exchange.
type ClientEnhancedAuthResult struct {
	// Done reports that no further AUTH packets need to be sent.
	Done     bool
	AuthData []byte
	State    any
}

// ClientEnhancedAuthenticator drives the client side of MQTT v5 enhanced
// authentication.
type ClientEnhancedAuthenticator interface {
	// AuthMethod is sent as the Authentication Method property.
	AuthMethod() string

	// AuthStart returns the Authentication Data placed in CONNECT.
	AuthStart(ctx context.Context) (*ClientEnhancedAuthResult, error)

	// AuthContinue answers a server AUTH packet. It is also called with the
	// CONNACK authentication data so the client can verify the server.
	AuthContinue(ctx context.Context, authCtx *ClientEnhancedAuthContext) (*ClientEnhancedAuthResult, error)
}
