// Package scheduler drives the sync loop's cooperative, one-task-at-a-
// time iteration with notification-based wakeup and capped exponential
// back-off (spec §4.5 "Driver").
//
// Grounded on luvjson/crdtsync/sync_manager.go's Start/Stop and its two
// background goroutines (periodicSync, listenForBroadcasts), collapsed
// from "two independently ticking goroutines" into the single
// notify-or-timer select loop spec §4.5 requires: at most one iteration
// in flight, woken by an editor change, the content client's active
// event, a stream close, an async call completing, or a capped
// back-off timer -- whichever fires first.
package scheduler

import (
	"context"
	"time"
)

// Tick runs one iteration of the driven loop. done reports that the
// loop should stop permanently (spec §4.5 point 1: "the editor view is
// gone"). A non-nil err means the iteration failed and the loop should
// back off before trying again; a nil err with done false means the
// iteration parked cleanly and should wait for the next notification.
type Tick func(ctx context.Context) (done bool, err error)

// backoff tracks the capped exponential delay of spec §4.5: starts at
// 1000ms, grows by a factor of 1.5 each consecutive failure, caps at
// 10000ms, and resets to the initial delay once an iteration succeeds.
type backoff struct {
	cur time.Duration
}

const (
	minDelay  = time.Second
	maxDelay  = 10 * time.Second
	factor    = 1.5
)

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = minDelay
		return b.cur
	}
	next := time.Duration(float64(b.cur) * factor)
	if next > maxDelay {
		next = maxDelay
	}
	b.cur = next
	return b.cur
}

func (b *backoff) reset() {
	b.cur = 0
}

// Loop runs a Tick repeatedly under the cooperative driver contract:
// never more than one Tick in flight, and any call to Notify while a
// Tick is running or the loop is backed off wakes it immediately.
type Loop struct {
	notify  chan struct{}
	onError func(error)
}

// New returns a Loop that reports iteration failures to onError, which
// may be nil.
func New(onError func(error)) *Loop {
	return &Loop{
		notify:  make(chan struct{}, 1),
		onError: onError,
	}
}

// Notify wakes the loop. Redundant notifications while one is already
// pending are coalesced, matching the "external notification queue"
// the spec describes as a wakeup signal, not an event queue whose
// length matters.
func (l *Loop) Notify() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run drives tick until ctx is cancelled or tick reports done.
func (l *Loop) Run(ctx context.Context, tick Tick) {
	var b backoff
	for {
		done, err := tick(ctx)
		if done {
			return
		}
		if err != nil {
			if l.onError != nil {
				l.onError(err)
			}
			if !l.wait(ctx, b.next()) {
				return
			}
			continue
		}
		b.reset()
		if !l.wait(ctx, 0) {
			return
		}
	}
}

// wait blocks until ctx is done (returns false), a notification arrives,
// or delay elapses (both return true). delay == 0 means wait
// indefinitely for a notification, used after a clean park.
func (l *Loop) wait(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-l.notify:
			return true
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-l.notify:
		return true
	case <-timer.C:
		return true
	}
}
