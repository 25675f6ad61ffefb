// Package timer provides the server-authoritative countdown for poll rounds.
// The server owns the clock: clients only render the remaining seconds they
// are told, so every participant sees the same countdown regardless of local
// clock skew.
package timer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Handle identifies a live countdown. It is opaque to callers; the zero
// value never names a live timer.
type Handle string

// TickFunc is invoked once per second with the seconds remaining.
type TickFunc func(remaining int)

// CompleteFunc is invoked exactly once when a countdown reaches zero.
type CompleteFunc func()

// Coordinator runs countdowns that decrement once per second. Callbacks are
// invoked from the countdown's own goroutine with no coordinator lock held,
// so they may call back into the coordinator (Stop, Extend) freely.
type Coordinator struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timers map[Handle]*countdown
}

type countdown struct {
	remaining  int
	total      int
	cancel     chan struct{}
	cancelOnce sync.Once
}

// New creates a coordinator using the given clock. Production callers pass
// clockwork.NewRealClock(); tests pass a fake clock.
func New(clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		clock:  clock,
		timers: make(map[Handle]*countdown),
	}
}

// Start begins a countdown of seconds. onTick fires after each decrement
// with the remaining seconds (including the final tick at zero); onComplete
// fires once when the countdown reaches zero, after which the timer is
// retired. Either callback may be nil.
func (c *Coordinator) Start(seconds int, onTick TickFunc, onComplete CompleteFunc) Handle {
	handle := Handle(uuid.NewString())
	cd := &countdown{
		remaining: seconds,
		total:     seconds,
		cancel:    make(chan struct{}),
	}

	c.mu.Lock()
	c.timers[handle] = cd
	c.mu.Unlock()

	go c.run(handle, cd, onTick, onComplete)

	log.Debug().Str("timer_id", string(handle)).Int("seconds", seconds).Msg("timer started")
	return handle
}

func (c *Coordinator) run(handle Handle, cd *countdown, onTick TickFunc, onComplete CompleteFunc) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cd.cancel:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if _, live := c.timers[handle]; !live {
				// Stop won the race against a tick already in the channel.
				c.mu.Unlock()
				return
			}
			cd.remaining--
			remaining := cd.remaining
			done := remaining <= 0
			if done {
				delete(c.timers, handle)
			}
			c.mu.Unlock()

			if onTick != nil {
				onTick(remaining)
			}
			if done {
				log.Debug().Str("timer_id", string(handle)).Msg("timer completed")
				if onComplete != nil {
					onComplete()
				}
				return
			}
		}
	}
}

// Stop cancels a live countdown. No further ticks are scheduled, and a tick
// sitting in the channel is discarded. A callback already executing on the
// countdown goroutine can still finish, so callers needing a strict fence
// must guard inside the callback. Stopping a retired or unknown handle is a
// no-op.
func (c *Coordinator) Stop(handle Handle) bool {
	c.mu.Lock()
	cd, ok := c.timers[handle]
	if ok {
		delete(c.timers, handle)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	cd.cancelOnce.Do(func() { close(cd.cancel) })
	log.Debug().Str("timer_id", string(handle)).Msg("timer stopped")
	return true
}

// Extend adds seconds to both the remaining and total duration of a live
// countdown. No-op on an unknown handle.
func (c *Coordinator) Extend(handle Handle, seconds int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cd, ok := c.timers[handle]
	if !ok {
		return false
	}
	cd.remaining += seconds
	cd.total += seconds
	log.Debug().Str("timer_id", string(handle)).Int("extra_sec", seconds).Msg("timer extended")
	return true
}

// Remaining returns the seconds left on a live countdown, or 0 for an
// unknown handle.
func (c *Coordinator) Remaining(handle Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cd, ok := c.timers[handle]; ok {
		return cd.remaining
	}
	return 0
}

// Running reports whether the handle names a live countdown.
func (c *Coordinator) Running(handle Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[handle]
	return ok
}

// StopAll cancels every live countdown. Used on shutdown.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	timers := c.timers
	c.timers = make(map[Handle]*countdown)
	c.mu.Unlock()

	for _, cd := range timers {
		cd.cancelOnce.Do(func() { close(cd.cancel) })
	}
	if len(timers) > 0 {
		log.Debug().Int("count", len(timers)).Msg("all timers stopped")
	}
}
