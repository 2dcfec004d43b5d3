// Package tagsession drives a single proximity-tag session: scan, connect,
// query capability, read or write, and invalidate the radio exactly once.
package tagsession

import (
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jeremygit/gummi-nfc/nfc"
)

// Default operator-facing prompts.
const (
	DefaultScanPrompt        = "Hold phone near tag"
	DefaultWriteConfirmation = "Wrote data."

	readingPrompt    = "Reading tag..."
	writingPrompt    = "Writing tag..."
	readConfirmation = "Read data."
)

// Alert texts paired with each failure.
var failureAlerts = map[nfc.ErrorKind]string{
	nfc.ErrScanningUnavailable:   "Scanning not supported on this device.",
	nfc.ErrTagConnectionFailed:   "Some tag error.",
	nfc.ErrStatusQueryFailed:     "Could not query tag status.",
	nfc.ErrTagNotSupported:       "Tag is not NDEF compatible.",
	nfc.ErrTagReadOnly:           "Tag is read only.",
	nfc.ErrPayloadEncodingFailed: "Nothing to write.",
	nfc.ErrWriteFailed:           "Write failed.",
	nfc.ErrReadFailed:            "Read failed.",
	nfc.ErrCancelled:             "Session cancelled.",
	nfc.ErrSessionTimeout:        "Session timed out.",
}

// Config holds the controller configuration.
type Config struct {
	Radio             Radio
	Logger            *log.Logger
	Clock             nfc.Clock
	ScanPrompt        string
	WriteConfirmation string
}

// session is the live unit of work. The controller owns at most one.
type session struct {
	id          uuid.UUID
	mode        Mode
	state       State
	handle      Handle
	tag         *TagRef
	capability  nfc.Capability
	invalidated bool
}

// Controller is the tag session state machine.
//
// It performs no locking: every method except Snapshot and Subscribe must be
// called from one serial context (see Runner). Radio events enter through
// Dispatch.
type Controller struct {
	radio             Radio
	logger            *log.Logger
	clock             nfc.Clock
	scanPrompt        string
	writeConfirmation string
	deliver           DeliverFunc

	current *session

	// Published fields, valid whether or not a session is live.
	state          State
	lastSession    uuid.UUID
	lastMode       Mode
	lastTag        *TagRef
	lastCapability nfc.Capability
	alertText      string
	readBuffer     []string
	pendingPayload string
	lastErr        error

	pub *publisher
}

// NewController creates a controller whose radio events are expected to be
// passed to Dispatch by the caller's serial context.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[tagsession] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = nfc.NewRealClock()
	}
	if cfg.ScanPrompt == "" {
		cfg.ScanPrompt = DefaultScanPrompt
	}
	if cfg.WriteConfirmation == "" {
		cfg.WriteConfirmation = DefaultWriteConfirmation
	}

	c := &Controller{
		radio:             cfg.Radio,
		logger:            cfg.Logger,
		clock:             cfg.Clock,
		scanPrompt:        cfg.ScanPrompt,
		writeConfirmation: cfg.WriteConfirmation,
		state:             StateIdle,
		readBuffer:        []string{},
		pub:               newPublisher(cfg.Logger),
	}
	c.deliver = c.Dispatch
	return c
}

// setDeliver replaces the callback handed to the radio. Runner uses it to
// marshal events onto its goroutine.
func (c *Controller) setDeliver(fn DeliverFunc) {
	c.deliver = fn
}

// Snapshot returns the latest published state. Safe from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	return c.pub.load()
}

// Subscribe returns a channel receiving every published snapshot, and a
// function that unsubscribes and closes it. Safe from any goroutine.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.pub.subscribe()
}

// SetPendingWritePayload sets the text the next write session will encode.
func (c *Controller) SetPendingWritePayload(text string) {
	c.pendingPayload = text
	c.publish()
}

// ClearReadBuffer empties the read buffer.
func (c *Controller) ClearReadBuffer() {
	c.readBuffer = []string{}
	c.publish()
}

// Start opens a new session in the given mode. It returns immediately;
// progress is driven by radio events.
func (c *Controller) Start(mode Mode) error {
	if c.current != nil {
		return nfc.Errorf(nfc.ErrSessionBusy, "Start", "session %s is still %s", c.current.id, c.current.state)
	}

	if c.radio == nil || !c.radio.ReadingAvailable() {
		c.logger.Println("error: Scanning not supported")
		return c.failStart(mode, nfc.NewError(nfc.ErrScanningUnavailable, "Start", nil))
	}

	s := &session{
		id:    uuid.New(),
		mode:  mode,
		state: StateScanning,
	}

	handle, err := c.radio.BeginScanning(s.id, c.scanPrompt, c.deliver)
	if err != nil {
		c.logger.Printf("error: BeginScanning failed: %v", err)
		return c.failStart(mode, nfc.NewError(nfc.ErrScanningUnavailable, "BeginScanning", err))
	}
	s.handle = handle

	c.current = s
	c.state = StateScanning
	c.lastSession = s.id
	c.lastMode = mode
	c.lastTag = nil
	c.lastCapability = nfc.CapabilityUnknown
	c.lastErr = nil
	c.alertText = c.scanPrompt
	c.logger.Printf("session %s: %s session began, scanning", s.id, mode)
	c.publish()
	return nil
}

// failStart records a start failure. No handle was opened, so there is
// nothing to invalidate.
func (c *Controller) failStart(mode Mode, err *nfc.Error) error {
	c.state = StateIdle
	c.lastMode = mode
	c.lastErr = err
	c.alertText = failureAlerts[err.Kind]
	c.publish()
	return err
}

// Cancel forces the live session, if any, to Invalidated with a Cancelled
// error. It reports whether a session was cancelled.
func (c *Controller) Cancel() bool {
	s := c.current
	if s == nil {
		return false
	}
	c.fail(s, nfc.NewError(nfc.ErrCancelled, "Cancel", nil))
	return true
}

// Expire ends session id with a SessionTimeout error if it is still live.
func (c *Controller) Expire(id uuid.UUID) bool {
	s := c.current
	if s == nil || s.id != id {
		return false
	}
	c.fail(s, nfc.NewError(nfc.ErrSessionTimeout, "Expire", nil))
	return true
}

// Dispatch feeds one radio event into the state machine. Events for a
// session that is no longer live, or that do not fit the current state, are
// ignored.
func (c *Controller) Dispatch(ev Event) {
	s := c.current
	if s == nil || s.invalidated || ev.Session != s.id {
		c.logger.Printf("ignoring stale %s for session %s", ev, ev.Session)
		return
	}

	switch ev.Kind {
	case EventTagsDetected:
		if c.expect(s, ev, StateScanning) {
			c.onTagsDetected(s, ev.Tags)
		}
	case EventConnectResult:
		if c.expect(s, ev, StateConnecting) {
			c.onConnectResult(s, ev.Err)
		}
	case EventStatusResult:
		if c.expect(s, ev, StateQuerying) {
			c.onStatusResult(s, ev.Status)
		}
	case EventOperationResult:
		switch s.state {
		case StateReading:
			c.onReadResult(s, ev.Messages, ev.Err)
		case StateWriting:
			c.onWriteResult(s, ev.Err)
		default:
			c.logger.Printf("session %s: ignoring %s in state %s", s.id, ev, s.state)
		}
	default:
		c.logger.Printf("session %s: ignoring unknown event kind %d", s.id, int(ev.Kind))
	}
}

func (c *Controller) expect(s *session, ev Event, want State) bool {
	if s.state != want {
		c.logger.Printf("session %s: ignoring %s in state %s", s.id, ev, s.state)
		return false
	}
	return true
}

func (c *Controller) onTagsDetected(s *session, tags []TagRef) {
	if len(tags) == 0 {
		c.fail(s, nfc.Errorf(nfc.ErrTagConnectionFailed, "TagsDetected", "no tags reported"))
		return
	}

	// Only the first reported tag is used.
	tag := tags[0]
	s.tag = &tag
	c.lastTag = &tag
	c.transition(s, StateDetected)

	c.transition(s, StateConnecting)
	s.handle.Connect(tag)
}

func (c *Controller) onConnectResult(s *session, err error) {
	if err != nil {
		c.fail(s, &nfc.Error{Kind: nfc.ErrTagConnectionFailed, Op: "Connect", TagUID: s.tag.UID, Message: "tag connection failed", Cause: err})
		return
	}
	c.transition(s, StateQuerying)
	s.handle.QueryStatus(*s.tag)
}

func (c *Controller) onStatusResult(s *session, status nfc.StatusResult) {
	if status.Err != nil {
		c.fail(s, &nfc.Error{Kind: nfc.ErrStatusQueryFailed, Op: "QueryStatus", TagUID: s.tag.UID, Message: "status query failed", Cause: status.Err})
		return
	}

	s.capability = nfc.Classify(status)
	c.lastCapability = s.capability
	c.logger.Printf("session %s: tag %s is %s", s.id, s.tag.UID, s.capability)

	switch s.mode {
	case ModeRead:
		c.beginRead(s)
	case ModeWrite:
		c.beginWrite(s)
	}
}

// transition moves a live session to next and publishes it.
func (c *Controller) transition(s *session, next State) {
	c.logger.Printf("session %s: %s -> %s", s.id, s.state, next)
	s.state = next
	c.state = next
	c.publish()
}

// setAlert updates the prompt shown while the session is live.
func (c *Controller) setAlert(s *session, text string) {
	c.alertText = text
	s.handle.SetAlert(text)
}

// fail invalidates s with err and its paired alert text.
func (c *Controller) fail(s *session, err *nfc.Error) {
	c.invalidate(s, err, failureAlerts[err.Kind])
}

// invalidate is the single terminal path. The handle is released at most
// once per session; later calls are no-ops.
func (c *Controller) invalidate(s *session, err error, alert string) {
	if s.invalidated {
		return
	}
	s.invalidated = true

	if err != nil {
		c.logger.Printf("session %s: %s -> %s: %v", s.id, s.state, StateInvalidated, err)
	} else {
		c.logger.Printf("session %s: %s -> %s", s.id, s.state, StateInvalidated)
	}

	s.state = StateInvalidated
	c.current = nil
	c.state = StateInvalidated
	c.lastErr = err
	if alert != "" {
		c.alertText = alert
	}

	s.handle.Invalidate(c.alertText)
	c.publish()
}

func (c *Controller) publish() {
	snap := Snapshot{
		SessionID:           c.lastSession,
		Mode:                c.lastMode,
		State:               c.state,
		AlertText:           c.alertText,
		Capability:          c.lastCapability,
		ReadBuffer:          append([]string{}, c.readBuffer...),
		PendingWritePayload: c.pendingPayload,
		UpdatedAt:           c.clock.Now(),
		Err:                 c.lastErr,
	}
	if c.lastTag != nil {
		tag := *c.lastTag
		snap.Tag = &tag
	}
	if c.lastErr != nil {
		snap.LastError = nfc.KindOf(c.lastErr)
		snap.LastErrorMessage = c.lastErr.Error()
	}
	c.pub.publish(snap)
}
