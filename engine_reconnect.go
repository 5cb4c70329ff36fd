package mqtt5

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// reconnector schedules reconnect attempts for the engine. Only one attempt
// is pending at a time; scheduling a new one replaces it.
type reconnector struct {
	mu       sync.Mutex
	policy   ReconnectPolicy
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
	timer    *time.Timer
	gen      uint64
}

func newReconnector(opts *ConnectionOptions) *reconnector {
	r := &reconnector{
		policy:   opts.ReconnectPolicy,
		minDelay: opts.ReconnectMinDelay,
		maxDelay: opts.ReconnectMaxDelay,
	}
	if opts.ReconnectRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.ReconnectRate), 1)
	}
	return r
}

// delay returns the wait before the given attempt, counted from 1.
func (r *reconnector) delay(attempt int) time.Duration {
	var d time.Duration
	if r.policy != ReconnectImmediate {
		d = r.minDelay
		for i := 1; i < attempt && d < r.maxDelay; i++ {
			d *= 2
		}
		if d > r.maxDelay {
			d = r.maxDelay
		}
	}
	if r.limiter != nil {
		if wait := r.limiter.Reserve().Delay(); wait > d {
			d = wait
		}
	}
	return d
}

// schedule runs fn after d unless stop or another schedule comes first.
func (r *reconnector) schedule(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		live := r.gen == gen
		if live {
			r.timer = nil
		}
		r.mu.Unlock()
		if live {
			fn()
		}
	})
}

// stop cancels the pending attempt, if any. The reconnector stays usable.
func (r *reconnector) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *reconnector) pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// scheduleReconnect arranges the next connect attempt according to the
// reconnect policy.
func (e *Engine) scheduleReconnect(attempt int) {
	e.mu.Lock()
	r, ctx := e.reconnect, e.ctx
	e.mu.Unlock()

	if r == nil || e.State() == StateRecycled || ctx.Err() != nil {
		return
	}

	d := r.delay(attempt)
	e.logger.Info("reconnecting", LogFields{LogFieldAttempt: attempt, LogFieldDelay: d.String()})
	e.emit(&ReconnectingEvent{Attempt: attempt, Delay: d})

	r.schedule(d, func() {
		if ctx.Err() != nil {
			return
		}
		if err := e.Connect(); err != nil {
			e.trace(TraceError, "reconnect", "reconnect attempt not started", err)
		}
	})
}
