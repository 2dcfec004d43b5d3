package nfc

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations so session timeouts and
// reader polling can be tested without real delays.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is the part of time.Timer the agent uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Ticker is the part of time.Ticker the agent uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is the wall clock.
type RealClock struct{}

// NewRealClock returns the wall clock.
func NewRealClock() Clock {
	return RealClock{}
}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{t: time.NewTimer(d)}
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// FakeClock is a Clock that only moves when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	timers  int
}

// NewFakeClock returns a FakeClock reading start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.timers++
	return fc.addLocked(d, 0)
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fakeTicker{fc.addLocked(d, d)}
}

func (fc *FakeClock) addLocked(d, period time.Duration) *fakeWaiter {
	w := &fakeWaiter{
		clock:  fc,
		next:   fc.now.Add(d),
		period: period,
		c:      make(chan time.Time, 1),
	}
	fc.waiters = append(fc.waiters, w)
	return w
}

// Timers returns the number of timers created so far. Tests use it to wait
// until the code under test has armed its timer before advancing.
func (fc *FakeClock) Timers() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.timers
}

// Advance moves the clock forward by d. Due timers fire once and due tickers
// fire at most once per call; a tick is dropped when the previous one is
// still unread.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	live := fc.waiters[:0]
	for _, w := range fc.waiters {
		if w.stopped {
			continue
		}
		if !fc.now.Before(w.next) {
			select {
			case w.c <- fc.now:
			default:
			}
			if w.period == 0 {
				w.stopped = true
				continue
			}
			for !fc.now.Before(w.next) {
				w.next = w.next.Add(w.period)
			}
		}
		live = append(live, w)
	}
	fc.waiters = live
}

// fakeWaiter backs both fake timers and tickers. A zero period is a timer.
type fakeWaiter struct {
	clock   *FakeClock
	next    time.Time
	period  time.Duration
	c       chan time.Time
	stopped bool
}

func (w *fakeWaiter) C() <-chan time.Time { return w.c }

func (w *fakeWaiter) Stop() bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	active := !w.stopped
	w.stopped = true
	return active
}

type fakeTicker struct{ *fakeWaiter }

func (t fakeTicker) Stop() { t.fakeWaiter.Stop() }
