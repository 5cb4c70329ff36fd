package mqtt5

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	d := newDispatcher(func(ev Event) {
		mu.Lock()
		got = append(got, ev.(*ReconnectingEvent).Attempt)
		mu.Unlock()
	}, NewNoOpLogger())

	for i := 1; i <= 500; i++ {
		d.emit(&ReconnectingEvent{Attempt: i})
	}
	d.close()
	<-d.done

	require.Len(t, got, 500)
	for i, attempt := range got {
		assert.Equal(t, i+1, attempt)
	}

	d.emit(&ReconnectingEvent{Attempt: 501})
	assert.Len(t, got, 500)
}

func TestDispatcherDoesNotBlockEmitter(t *testing.T) {
	release := make(chan struct{})
	d := newDispatcher(func(Event) { <-release }, NewNoOpLogger())

	emitted := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.emit(&TraceEvent{})
		}
		close(emitted)
	}()

	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a slow handler")
	}
	close(release)
	d.close()
	<-d.done
}

func TestDispatcherRecoversPanic(t *testing.T) {
	l, logs := observedLogger(LogLevelDebug)

	var delivered []string
	d := newDispatcher(func(ev Event) {
		if _, ok := ev.(*ProtocolErrorEvent); ok {
			panic("handler bug")
		}
		delivered = append(delivered, ev.EventName())
	}, l)

	d.emit(&ProtocolErrorEvent{})
	d.emit(&ConnectionLostEvent{})
	d.close()
	<-d.done

	assert.Equal(t, []string{"connection_lost"}, delivered)
	entries := logs.FilterMessage("event handler panic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "protocol_error", entries[0].ContextMap()["event"])
}

func TestDispatcherSetHandler(t *testing.T) {
	d := newDispatcher(nil, NewNoOpLogger())
	d.emit(&TraceEvent{Tag: "unhandled"})

	var (
		mu   sync.Mutex
		tags []string
	)
	d.setHandler(func(ev Event) {
		mu.Lock()
		tags = append(tags, ev.(*TraceEvent).Tag)
		mu.Unlock()
	})
	assert.Eventually(t, func() bool {
		d.emit(&TraceEvent{Tag: "kept"})
		mu.Lock()
		defer mu.Unlock()
		return len(tags) > 0
	}, time.Second, 10*time.Millisecond)

	d.close()
	<-d.done
	assert.Contains(t, tags, "kept")
}

func TestEventNames(t *testing.T) {
	events := map[Event]string{
		&ConnectSuccessEvent{}:   "connect_success",
		&ConnectFailedEvent{}:    "connect_failed",
		&ConnectionLostEvent{}:   "connection_lost",
		&DisconnectedEvent{}:     "disconnected",
		&ProtocolErrorEvent{}:    "protocol_error",
		&MessageArrivedEvent{}:   "message_arrived",
		&DeliveryCompleteEvent{}: "delivery_complete",
		&ConnectCompleteEvent{}:  "connect_complete",
		&AuthArrivedEvent{}:      "auth_arrived",
		&ReconnectingEvent{}:     "reconnecting",
		&TraceEvent{}:            "trace",
	}
	for ev, name := range events {
		assert.Equal(t, name, ev.EventName())
	}
	assert.Equal(t, "exception", TraceException.String())
}
