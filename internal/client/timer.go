package client

import (
	"sync/atomic"
	"time"
)

type timerKind int

const (
	pongTimer timerKind = iota
	reconnectTimer
)

type timerFire struct {
	kind timerKind
	gen  uint64
}

// loopTimer is a single-shot timer that fires into the event loop.
// Every Arm and Stop bumps the generation, and the loop only honours a fire
// carrying the current generation, so a stopped timer never fires late.
// Arm, Stop and accept must be called from the loop.
type loopTimer struct {
	kind   timerKind
	fire   chan<- timerFire
	done   <-chan struct{}
	t      *time.Timer
	gen    uint64
	active atomic.Bool
}

func newLoopTimer(kind timerKind, fire chan<- timerFire, done <-chan struct{}) *loopTimer {
	return &loopTimer{kind: kind, fire: fire, done: done}
}

// Arm (re)starts the timer
func (lt *loopTimer) Arm(d time.Duration) {
	lt.Stop()
	gen := lt.gen
	lt.active.Store(true)
	lt.t = time.AfterFunc(d, func() {
		select {
		case lt.fire <- timerFire{kind: lt.kind, gen: gen}:
		case <-lt.done:
		}
	})
}

// Stop cancels a pending fire
func (lt *loopTimer) Stop() {
	if lt.t != nil {
		lt.t.Stop()
		lt.t = nil
	}
	lt.gen++
	lt.active.Store(false)
}

// Active reports whether a fire is pending. Safe from any goroutine.
func (lt *loopTimer) Active() bool {
	return lt.active.Load()
}

// accept consumes a fire. Stale fires are rejected.
func (lt *loopTimer) accept(f timerFire) bool {
	if !lt.active.Load() || f.gen != lt.gen {
		return false
	}
	lt.t = nil
	lt.gen++
	lt.active.Store(false)
	return true
}
