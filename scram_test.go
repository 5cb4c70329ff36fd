package mqtt5

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSCRAMExchange(t *testing.T) {
	tests := []struct {
		hash        SCRAMHash
		clientNonce string
		serverFirst string
		clientFinal string
		serverFinal string
	}{
		{
			hash:        SCRAMHashSHA1,
			clientNonce: "fyko+d2lbbFgONRv9qkxdawL",
			serverFirst: "r=fyko+d2lbbFgONRv9qkxdawL3rfcNHYJY1ZVvWVs7j,s=QSXCR+Q6sek8bf92,i=4096",
			clientFinal: "c=biws,r=fyko+d2lbbFgONRv9qkxdawL3rfcNHYJY1ZVvWVs7j,p=v0X8v3Bz2T0CJGbJQyF0X+HI4Ts=",
			serverFinal: "v=rmF9pqV8S7suAoZWja4dJRkFsKQ=",
		},
		{
			hash:        SCRAMHashSHA256,
			clientNonce: "rOprNGfwEbeRWgbNEkqO",
			serverFirst: "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096",
			clientFinal: "c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ=",
			serverFinal: "v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.hash.String(), func(t *testing.T) {
			ctx := context.Background()
			c := NewSCRAMClient(tt.hash, "user", "pencil")
			c.nonce = func() string { return tt.clientNonce }
			assert.Equal(t, tt.hash.String(), c.AuthMethod())

			first, err := c.AuthStart(ctx)
			require.NoError(t, err)
			assert.Equal(t, "n,,n=user,r="+tt.clientNonce, string(first.AuthData))
			assert.False(t, first.Done)

			final, err := c.AuthContinue(ctx, &ClientEnhancedAuthContext{
				AuthData:   []byte(tt.serverFirst),
				ReasonCode: ReasonContinueAuth,
				State:      first.State,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.clientFinal, string(final.AuthData))
			assert.False(t, final.Done)

			done, err := c.AuthContinue(ctx, &ClientEnhancedAuthContext{
				AuthData: []byte(tt.serverFinal),
				State:    final.State,
			})
			require.NoError(t, err)
			assert.True(t, done.Done)
		})
	}
}

func TestSCRAMErrors(t *testing.T) {
	ctx := context.Background()
	start := func(t *testing.T) (*SCRAMClient, any) {
		c := NewSCRAMClient(SCRAMHashSHA256, "user", "pencil")
		c.nonce = func() string { return "abc" }
		res, err := c.AuthStart(ctx)
		require.NoError(t, err)
		return c, res.State
	}

	tests := []struct {
		name        string
		serverFirst string
		want        error
	}{
		{"missing salt", "r=abcdef,i=4096", ErrSCRAMServerFirst},
		{"nonce not extended", "r=xyz123,s=c2FsdA==,i=4096", ErrSCRAMNonceMismatch},
		{"nonce not extended by server", "r=abc,s=c2FsdA==,i=4096", ErrSCRAMNonceMismatch},
		{"bad salt", "r=abcdef,s=!!!,i=4096", ErrSCRAMServerFirst},
		{"bad iterations", "r=abcdef,s=c2FsdA==,i=zero", ErrSCRAMServerFirst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, state := start(t)
			_, err := c.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte(tt.serverFirst), State: state})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("wrong server signature", func(t *testing.T) {
		c, state := start(t)
		res, err := c.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte("r=abcdef,s=c2FsdA==,i=1"), State: state})
		require.NoError(t, err)

		_, err = c.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte("v=AAAA"), State: res.State})
		assert.ErrorIs(t, err, ErrSCRAMServerSignature)
	})

	t.Run("server error attribute", func(t *testing.T) {
		c, state := start(t)
		res, err := c.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte("r=abcdef,s=c2FsdA==,i=1"), State: state})
		require.NoError(t, err)

		_, err = c.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte("e=invalid-proof"), State: res.State})
		assert.ErrorContains(t, err, "invalid-proof")
	})

	t.Run("missing state", func(t *testing.T) {
		c := NewSCRAMClient(SCRAMHashSHA512, "user", "pencil")
		_, err := c.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte("r=x")})
		assert.ErrorIs(t, err, ErrSCRAMState)
	})

	t.Run("username escaping", func(t *testing.T) {
		c := NewSCRAMClient(SCRAMHashSHA512, "a=b,c", "pw")
		c.nonce = func() string { return "n1" }
		res, err := c.AuthStart(ctx)
		require.NoError(t, err)
		assert.Equal(t, "n,,n=a=3Db=2Cc,r=n1", string(res.AuthData))
		assert.Equal(t, "SCRAM-SHA-512", c.AuthMethod())
	})
}
