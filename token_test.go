package mqtt5

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCompleteWakesAllWaiters(t *testing.T) {
	tok := newToken(TokenSubscribe, nil)
	assert.False(t, tok.IsComplete())

	const waiters = 10
	errs := make(chan error, waiters)
	var wg sync.WaitGroup
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tok.WaitForCompletion(0)
		}()
	}

	ack := &SubackPacket{reasonList{PacketID: 3, ReasonCodes: []ReasonCode{ReasonGrantedQoS1}}}
	assert.True(t, tok.notifyComplete(ack))
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, tok.IsComplete())
	assert.Same(t, ack, tok.Response())
	assert.Equal(t, []byte{1}, tok.GrantedQoS())
}

func TestTokenFailureWakesAllWaitersWithSameError(t *testing.T) {
	tok := newToken(TokenConnect, nil)
	boom := errors.New("boom")

	const waiters = 5
	errs := make(chan error, waiters)
	for range waiters {
		go func() { errs <- tok.Wait(context.Background()) }()
	}

	assert.True(t, tok.notifyFailure(nil, boom))
	for range waiters {
		assert.ErrorIs(t, <-errs, boom)
	}
	assert.ErrorIs(t, tok.Err(), boom)
}

func TestTokenCompletesOnce(t *testing.T) {
	var successes, failures atomic.Int32
	tok := newToken(TokenPublish, &ActionListener{
		OnSuccess: func(*Token) { successes.Add(1) },
		OnFailure: func(*Token, error) { failures.Add(1) },
	})

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = tok.notifyComplete(&PubackPacket{})
			} else {
				ok = tok.notifyFailure(nil, errors.New("late"))
			}
			if ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(1), successes.Load()+failures.Load())
}

func TestTokenWaitForCompletionTimeout(t *testing.T) {
	tok := newToken(TokenSubscribe, nil)

	err := tok.WaitForCompletion(20 * time.Millisecond)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrClientTimeout)
	assert.False(t, tok.IsComplete())

	tok.notifyComplete(nil)
	assert.NoError(t, tok.WaitForCompletion(time.Second))
}

func TestTokenWaitContext(t *testing.T) {
	tok := newToken(TokenUnsubscribe, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, tok.Wait(ctx), context.DeadlineExceeded)
}

func TestTokenListenerRunsAfterWaitersReleased(t *testing.T) {
	var tok *Token
	sawDone := make(chan bool, 1)
	tok = newToken(TokenSubscribe, &ActionListener{
		OnSuccess: func(t *Token) {
			select {
			case <-t.Done():
				sawDone <- true
			default:
				sawDone <- false
			}
		},
	})
	tok.notifyComplete(nil)
	assert.True(t, <-sawDone)
}

func TestDeliveryTokenMessage(t *testing.T) {
	msg := &Message{Topic: "a", QoS: QoS1}

	t.Run("cleared on delivery", func(t *testing.T) {
		tok := newDeliveryToken(msg, nil)
		assert.Same(t, msg, tok.Message())
		tok.notifyComplete(&PubackPacket{})
		assert.Nil(t, tok.Message())
	})

	t.Run("kept on failure", func(t *testing.T) {
		tok := newDeliveryToken(msg, nil)
		tok.notifyFailure(nil, ErrConnectionLost)
		assert.Same(t, msg, tok.Message())
	})
}

func TestTokenAccessors(t *testing.T) {
	tok := newToken(TokenConnect, nil)
	req := &ConnectPacket{ClientID: "c"}
	tok.setRequest(req, 0)
	assert.Same(t, req, tok.Request())
	assert.Equal(t, "connect", tok.Kind().String())

	ack := &ConnackPacket{SessionPresent: true, ReasonCode: ReasonSuccess}
	ack.Props.Set(PropAssignedClientIdentifier, "assigned")
	tok.notifyComplete(ack)

	assert.True(t, tok.SessionPresent())
	assert.Equal(t, []ReasonCode{ReasonSuccess}, tok.ReasonCodes())
	assert.Equal(t, "assigned", tok.ResponseProperties().GetString(PropAssignedClientIdentifier))

	sub := newToken(TokenSubscribe, nil)
	sub.setRequest(&SubscribePacket{PacketID: 9}, 9)
	assert.Equal(t, uint16(9), sub.MessageID())
	assert.Nil(t, sub.ReasonCodes())
	assert.Nil(t, sub.ResponseProperties())
	assert.False(t, sub.SessionPresent())
}
