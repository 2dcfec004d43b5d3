// Package phonenfc lets a phone act as the tag radio. The phone app connects
// over WebSocket, registers, and then relays its reader session callbacks
// while the agent sends it session commands.
package phonenfc

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jeremygit/gummi-nfc/nfc"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
)

// Bridge errors.
var (
	ErrNoDevice         = errors.New("phonenfc: no phone connected")
	ErrDeviceAttached   = errors.New("phonenfc: a phone is already connected")
	ErrDeviceDisconnect = errors.New("phonenfc: phone disconnected")
)

// Bridge implements tagsession.Radio on top of a single connected phone.
type Bridge struct {
	clock             nfc.Clock
	logger            *log.Logger
	inactivityTimeout time.Duration

	mu     sync.Mutex
	device *Device
	active *phoneSession

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// phoneSession is the radio side of one tag session.
type phoneSession struct {
	bridge  *Bridge
	id      uuid.UUID
	device  *Device
	deliver tagsession.DeliverFunc

	// Guarded by bridge.mu.
	pending tagsession.EventKind // result the phone owes us, 0 if none
	closed  bool
}

// NewBridge creates a bridge and starts its inactivity cleanup. A zero
// timeout uses DeviceTimeout; a nil clock uses the real clock.
func NewBridge(inactivityTimeout time.Duration, clock nfc.Clock) *Bridge {
	if inactivityTimeout == 0 {
		inactivityTimeout = DeviceTimeout
	}
	if clock == nil {
		clock = nfc.NewRealClock()
	}

	b := &Bridge{
		clock:             clock,
		logger:            log.New(os.Stderr, "[phone] ", log.LstdFlags),
		inactivityTimeout: inactivityTimeout,
		stopCleanup:       make(chan struct{}),
	}
	b.startCleanupRoutine()
	return b
}

// SetLogger replaces the bridge logger.
func (b *Bridge) SetLogger(logger *log.Logger) {
	b.logger = logger
}

// Device returns the connected phone, if any.
func (b *Bridge) Device() (*Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device, b.device != nil
}

// ReadingAvailable reports whether a phone that can scan is connected.
func (b *Bridge) ReadingAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device != nil && b.device.IsActive() && b.device.ReadingAvailable()
}

// BeginScanning asks the phone to open a reader session.
func (b *Bridge) BeginScanning(id uuid.UUID, prompt string, deliver tagsession.DeliverFunc) (tagsession.Handle, error) {
	b.mu.Lock()
	device := b.device
	if device == nil {
		b.mu.Unlock()
		return nil, ErrNoDevice
	}
	if b.active != nil && !b.active.closed {
		b.logger.Printf("Replacing unreleased session %s", b.active.id)
		b.active.closed = true
	}
	s := &phoneSession{
		bridge:  b,
		id:      id,
		device:  device,
		deliver: deliver,
		pending: tagsession.EventTagsDetected,
	}
	b.active = s
	b.mu.Unlock()

	if err := device.Send(MessageTypeBeginScanning, BeginScanningPayload{Session: id.String(), Prompt: prompt}); err != nil {
		b.mu.Lock()
		if b.active == s {
			b.active = nil
		}
		s.closed = true
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to send beginScanning: %w", err)
	}

	b.logger.Printf("Session %s: scanning on %s", id, device)
	return s, nil
}

// attach makes d the connected phone.
func (b *Bridge) attach(d *Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil && b.device.IsActive() {
		return ErrDeviceAttached
	}
	b.device = d
	return nil
}

// detach forgets d. A session still waiting on d is failed with
// ErrDeviceDisconnect for its outstanding command.
func (b *Bridge) detach(d *Device) {
	b.mu.Lock()
	if b.device != d {
		b.mu.Unlock()
		return
	}
	b.device = nil

	var fail *phoneSession
	var kind tagsession.EventKind
	if s := b.active; s != nil && s.device == d && !s.closed {
		kind = s.pending
		s.pending = 0
		if kind != 0 {
			fail = s
		}
	}
	b.mu.Unlock()

	d.Close()
	if fail != nil {
		b.logger.Printf("Session %s: phone disconnected while waiting for %s", fail.id, kind)
		fail.deliver(failureEvent(fail.id, kind, ErrDeviceDisconnect))
	}
}

// route hands a phone callback to the session it belongs to. Callbacks for
// another session, or from a phone that is not the session's, are dropped.
func (b *Bridge) route(d *Device, session string, ev func(id uuid.UUID) tagsession.Event) error {
	b.mu.Lock()
	s := b.active
	if s == nil || s.closed || s.device != d || s.id.String() != session {
		b.mu.Unlock()
		return fmt.Errorf("no live session %q on this device", session)
	}
	event := ev(s.id)
	if s.pending != event.Kind {
		b.logger.Printf("Session %s: unexpected %s (waiting for %s)", s.id, event.Kind, s.pending)
	}
	s.pending = 0
	b.mu.Unlock()

	s.deliver(event)
	return nil
}

// Close stops the cleanup routine and disconnects the phone.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.stopCleanup)
	})

	b.mu.Lock()
	device := b.device
	b.mu.Unlock()
	if device != nil {
		b.detach(device)
	}
	b.logger.Printf("Bridge closed")
}

// startCleanupRoutine drops a phone that has stopped sending heartbeats.
func (b *Bridge) startCleanupRoutine() {
	ticker := b.clock.NewTicker(CleanupInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				b.cleanupInactiveDevice()
			case <-b.stopCleanup:
				return
			}
		}
	}()
}

func (b *Bridge) cleanupInactiveDevice() {
	b.mu.Lock()
	device := b.device
	b.mu.Unlock()
	if device == nil {
		return
	}

	idle := b.clock.Now().Sub(device.LastSeen())
	if idle > b.inactivityTimeout {
		b.logger.Printf("Cleaning up inactive device: %s (last seen %v ago)", device, idle)
		b.detach(device)
	}
}

// failureEvent builds the result event for kind carrying err.
func failureEvent(id uuid.UUID, kind tagsession.EventKind, err error) tagsession.Event {
	switch kind {
	case tagsession.EventTagsDetected:
		return tagsession.TagsDetected(id)
	case tagsession.EventConnectResult:
		return tagsession.ConnectResult(id, err)
	case tagsession.EventStatusResult:
		return tagsession.StatusResult(id, nfc.StatusResult{Err: err})
	default:
		return tagsession.OperationResult(id, nil, err)
	}
}

// command sends a session command whose result arrives as expect. A send
// failure is delivered as that result from another goroutine.
func (s *phoneSession) command(expect tagsession.EventKind, msgType string, payload any) {
	b := s.bridge
	b.mu.Lock()
	if s.closed {
		b.mu.Unlock()
		return
	}
	s.pending = expect
	b.mu.Unlock()

	if err := s.device.Send(msgType, payload); err != nil {
		b.logger.Printf("Session %s: failed to send %s: %v", s.id, msgType, err)

		b.mu.Lock()
		owed := s.pending == expect && !s.closed
		s.pending = 0
		b.mu.Unlock()
		if owed {
			go s.deliver(failureEvent(s.id, expect, err))
		}
	}
}

func (s *phoneSession) tagCommand(tag tagsession.TagRef) TagCommandPayload {
	return TagCommandPayload{Session: s.id.String(), Tag: TagDataFrom(tag)}
}

func (s *phoneSession) Connect(tag tagsession.TagRef) {
	s.command(tagsession.EventConnectResult, MessageTypeConnect, s.tagCommand(tag))
}

func (s *phoneSession) QueryStatus(tag tagsession.TagRef) {
	s.command(tagsession.EventStatusResult, MessageTypeQueryStatus, s.tagCommand(tag))
}

func (s *phoneSession) ReadMessages(tag tagsession.TagRef) {
	s.command(tagsession.EventOperationResult, MessageTypeReadNDEF, s.tagCommand(tag))
}

func (s *phoneSession) WriteMessage(tag tagsession.TagRef, msg nfc.Message) {
	s.command(tagsession.EventOperationResult, MessageTypeWriteNDEF, WriteNDEFPayload{
		Session: s.id.String(),
		Tag:     TagDataFrom(tag),
		Message: NDEFMessageDataFrom(msg),
	})
}

// SetAlert updates the phone's reader prompt. It has no result.
func (s *phoneSession) SetAlert(text string) {
	if err := s.device.Send(MessageTypeSetAlert, SetAlertPayload{Session: s.id.String(), Text: text}); err != nil {
		s.bridge.logger.Printf("Session %s: failed to send setAlert: %v", s.id, err)
	}
}

// Invalidate closes the phone's reader session.
func (s *phoneSession) Invalidate(finalPrompt string) {
	b := s.bridge
	b.mu.Lock()
	if s.closed && b.active != s {
		b.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = 0
	if b.active == s {
		b.active = nil
	}
	b.mu.Unlock()

	if err := s.device.Send(MessageTypeInvalidate, InvalidatePayload{Session: s.id.String(), FinalPrompt: finalPrompt}); err != nil {
		b.logger.Printf("Session %s: failed to send invalidate: %v", s.id, err)
	}
	b.logger.Printf("Session %s: invalidated", s.id)
}
