package mqtt5

import (
	"context"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// sendQuota bounds outbound QoS 1 and QoS 2 publishes awaiting
// acknowledgement to the server's Receive Maximum.
type sendQuota struct {
	sem      *semaphore.Weighted
	max      uint16
	inFlight atomic.Int32
}

func newSendQuota(receiveMaximum uint16) *sendQuota {
	if receiveMaximum == 0 {
		receiveMaximum = 65535
	}
	return &sendQuota{sem: semaphore.NewWeighted(int64(receiveMaximum)), max: receiveMaximum}
}

// acquire blocks until a slot is free or ctx is done.
func (q *sendQuota) acquire(ctx context.Context) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	q.inFlight.Inc()
	return nil
}

func (q *sendQuota) release() {
	if q.inFlight.Dec() < 0 {
		q.inFlight.Inc()
		return
	}
	q.sem.Release(1)
}

func (q *sendQuota) available() int {
	return int(q.max) - int(q.inFlight.Load())
}
