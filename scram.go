package mqtt5

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SCRAM-SHA-1 interop
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAMHash selects the SCRAM hash function.
type SCRAMHash int

// Supported hashes.
const (
	SCRAMHashSHA1 SCRAMHash = iota
	SCRAMHashSHA256
	SCRAMHashSHA512
)

// String returns the MQTT Authentication Method name.
func (h SCRAMHash) String() string {
	switch h {
	case SCRAMHashSHA1:
		return "SCRAM-SHA-1"
	case SCRAMHashSHA512:
		return "SCRAM-SHA-512"
	default:
		return "SCRAM-SHA-256"
	}
}

func (h SCRAMHash) new() func() hash.Hash {
	switch h {
	case SCRAMHashSHA1:
		return sha1.New
	case SCRAMHashSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

// SCRAM errors.
var (
	ErrSCRAMServerFirst     = errors.New("scram: malformed server-first-message")
	ErrSCRAMNonceMismatch   = errors.New("scram: server nonce does not extend client nonce")
	ErrSCRAMServerSignature = errors.New("scram: server signature mismatch")
	ErrSCRAMState           = errors.New("scram: unexpected exchange state")
)

// SCRAMClient authenticates with SCRAM (RFC 5802) over the MQTT v5 AUTH
// exchange. A SCRAMClient is single use per connection attempt; the engine
// calls AuthStart again for every new connect.
type SCRAMClient struct {
	hash     SCRAMHash
	username string
	password string

	// nonce overrides the random client nonce in tests.
	nonce func() string
}

// NewSCRAMClient returns a SCRAM authenticator for username and password.
func NewSCRAMClient(h SCRAMHash, username, password string) *SCRAMClient {
	return &SCRAMClient{hash: h, username: username, password: password, nonce: scramNonce}
}

type scramClientState struct {
	step            int
	clientFirstBare string
	authMessage     string
	saltedPassword  []byte
}

func (s *SCRAMClient) AuthMethod() string { return s.hash.String() }

// AuthStart produces the client-first-message.
func (s *SCRAMClient) AuthStart(context.Context) (*ClientEnhancedAuthResult, error) {
	bare := "n=" + scramEscape(s.username) + ",r=" + s.nonce()
	return &ClientEnhancedAuthResult{
		AuthData: []byte("n,," + bare),
		State:    &scramClientState{step: 1, clientFirstBare: bare},
	}, nil
}

// AuthContinue answers the server-first-message with the client proof, then
// verifies the server-final-message carried by the CONNACK.
func (s *SCRAMClient) AuthContinue(_ context.Context, ac *ClientEnhancedAuthContext) (*ClientEnhancedAuthResult, error) {
	st, ok := ac.State.(*scramClientState)
	if !ok || st == nil {
		return nil, ErrSCRAMState
	}
	switch st.step {
	case 1:
		return s.clientFinal(st, string(ac.AuthData))
	case 2:
		return s.verifyServer(st, string(ac.AuthData))
	}
	return nil, ErrSCRAMState
}

func (s *SCRAMClient) clientFinal(st *scramClientState, serverFirst string) (*ClientEnhancedAuthResult, error) {
	attrs := scramAttributes(serverFirst)
	nonce, saltB64, iterStr := attrs["r"], attrs["s"], attrs["i"]
	if nonce == "" || saltB64 == "" || iterStr == "" {
		return nil, ErrSCRAMServerFirst
	}
	clientNonce := scramAttributes(st.clientFirstBare)["r"]
	if !strings.HasPrefix(nonce, clientNonce) || len(nonce) == len(clientNonce) {
		return nil, ErrSCRAMNonceMismatch
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrSCRAMServerFirst, err)
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("%w: iteration count %q", ErrSCRAMServerFirst, iterStr)
	}

	h := s.hash.new()
	st.saltedPassword = pbkdf2.Key([]byte(s.password), salt, iterations, h().Size(), h)

	withoutProof := "c=biws,r=" + nonce
	st.authMessage = st.clientFirstBare + "," + serverFirst + "," + withoutProof

	clientKey := scramHMAC(h, st.saltedPassword, "Client Key")
	stored := h()
	stored.Write(clientKey)
	signature := scramHMAC(h, stored.Sum(nil), st.authMessage)

	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ signature[i]
	}

	st.step = 2
	return &ClientEnhancedAuthResult{
		AuthData: []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)),
		State:    st,
	}, nil
}

func (s *SCRAMClient) verifyServer(st *scramClientState, serverFinal string) (*ClientEnhancedAuthResult, error) {
	attrs := scramAttributes(serverFinal)
	if e := attrs["e"]; e != "" {
		return nil, fmt.Errorf("scram: server error %q", e)
	}
	got, err := base64.StdEncoding.DecodeString(attrs["v"])
	if err != nil {
		return nil, ErrSCRAMServerSignature
	}
	h := s.hash.new()
	serverKey := scramHMAC(h, st.saltedPassword, "Server Key")
	if !hmac.Equal(got, scramHMAC(h, serverKey, st.authMessage)) {
		return nil, ErrSCRAMServerSignature
	}
	st.step = 3
	return &ClientEnhancedAuthResult{Done: true, State: st}, nil
}

func scramHMAC(h func() hash.Hash, key []byte, msg string) []byte {
	mac := hmac.New(h, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// scramAttributes parses "k=v,k=v" into a map; values may contain '='.
func scramAttributes(msg string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		if k, v, ok := strings.Cut(part, "="); ok && len(k) == 1 {
			out[k] = v
		}
	}
	return out
}

func scramEscape(s string) string {
	return strings.NewReplacer("=", "=3D", ",", "=2C").Replace(s)
}

func scramNonce() string {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("scram: read random nonce: %v", err))
	}
	return base64.RawStdEncoding.EncodeToString(b)
}
