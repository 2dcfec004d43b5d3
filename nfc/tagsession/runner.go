package tagsession

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jeremygit/gummi-nfc/nfc"
)

// ErrRunnerStopped is returned by Runner calls made after Stop.
var ErrRunnerStopped = errors.New("tagsession: runner stopped")

// DefaultTimeout bounds how long a session may hold the radio.
const DefaultTimeout = 60 * time.Second

// Runner owns a Controller and is its serial callback context: caller
// operations and radio events are all executed on one goroutine. Runner
// methods are safe for concurrent use.
type Runner struct {
	ctrl    *Controller
	clock   nfc.Clock
	timeout time.Duration

	ops    chan func()
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	// Loop goroutine only.
	timer        nfc.Timer
	timerSession uuid.UUID
}

// NewRunner creates a controller from cfg and starts its loop. A timeout of
// zero disables the session timeout.
func NewRunner(cfg Config, timeout time.Duration) *Runner {
	ctrl := NewController(cfg)
	r := &Runner{
		ctrl:    ctrl,
		clock:   ctrl.clock,
		timeout: timeout,
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	ctrl.setDeliver(r.deliver)
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer close(r.exited)
	for {
		var expired <-chan time.Time
		if r.timer != nil {
			expired = r.timer.C()
		}

		select {
		case fn := <-r.ops:
			fn()
		case <-expired:
			r.timer = nil
			r.ctrl.Expire(r.timerSession)
		case <-r.done:
			r.disarm()
			return
		}

		if r.ctrl.current == nil {
			r.disarm()
		}
	}
}

func (r *Runner) arm(id uuid.UUID) {
	r.disarm()
	if r.timeout <= 0 {
		return
	}
	r.timer = r.clock.NewTimer(r.timeout)
	r.timerSession = id
}

func (r *Runner) disarm() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// post queues fn on the loop. It reports false if the runner has stopped.
func (r *Runner) post(fn func()) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.ops <- fn:
		return true
	case <-r.done:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (r *Runner) do(fn func()) error {
	finished := make(chan struct{})
	if !r.post(func() { fn(); close(finished) }) {
		return ErrRunnerStopped
	}
	select {
	case <-finished:
		return nil
	case <-r.exited:
		return ErrRunnerStopped
	}
}

func (r *Runner) deliver(ev Event) {
	r.post(func() { r.ctrl.Dispatch(ev) })
}

// Start opens a session in mode and arms the session timeout.
func (r *Runner) Start(mode Mode) error {
	var err error
	if doErr := r.do(func() {
		err = r.ctrl.Start(mode)
		if err == nil {
			r.arm(r.ctrl.current.id)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Cancel ends the live session with a Cancelled error. It reports whether a
// session was live.
func (r *Runner) Cancel() bool {
	var cancelled bool
	r.do(func() { cancelled = r.ctrl.Cancel() })
	return cancelled
}

// SetPendingWritePayload sets the text the next write session encodes.
func (r *Runner) SetPendingWritePayload(text string) error {
	return r.do(func() { r.ctrl.SetPendingWritePayload(text) })
}

// ClearReadBuffer empties the read buffer.
func (r *Runner) ClearReadBuffer() error {
	return r.do(r.ctrl.ClearReadBuffer)
}

// Snapshot returns the latest published state.
func (r *Runner) Snapshot() Snapshot {
	return r.ctrl.Snapshot()
}

// Subscribe streams every published snapshot until the returned function is
// called.
func (r *Runner) Subscribe() (<-chan Snapshot, func()) {
	return r.ctrl.Subscribe()
}

// Stop cancels any live session so the radio is released, then ends the
// loop. It is safe to call more than once.
func (r *Runner) Stop() {
	r.do(func() { r.ctrl.Cancel() })
	r.once.Do(func() { close(r.done) })
	<-r.exited
}
