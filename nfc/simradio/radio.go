// Package simradio is an in-memory tag radio for running the agent without
// reader hardware. Tags are placed in and removed from the field by hand.
package simradio

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jeremygit/gummi-nfc/nfc"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
)

var (
	ErrUnknownTag   = errors.New("simradio: unknown tag")
	ErrTagGone      = errors.New("simradio: tag left the field")
	ErrInjected     = errors.New("simradio: injected failure")
	ErrNotConnected = errors.New("simradio: tag not connected")
)

// Radio implements tagsession.Radio over simulated tags. Results are
// delivered from a dedicated goroutine in command order.
type Radio struct {
	logger *log.Logger
	events chan func()

	mu       sync.Mutex
	tags     map[string]*simTag
	field    map[string]bool
	session  *simSession
	scanning bool
}

type simSession struct {
	radio     *Radio
	id        uuid.UUID
	deliver   tagsession.DeliverFunc
	connected string // guarded by radio.mu
	closed    atomic.Bool
}

// NewRadio creates a radio holding the given tags, none of them in the field.
func NewRadio(specs ...TagSpec) (*Radio, error) {
	r := &Radio{
		logger: log.New(os.Stderr, "[sim] ", log.LstdFlags),
		events: make(chan func(), 64),
		tags:   make(map[string]*simTag),
		field:  make(map[string]bool),
	}
	for _, spec := range specs {
		if err := r.AddTag(spec); err != nil {
			return nil, err
		}
	}
	go func() {
		for fn := range r.events {
			fn()
		}
	}()
	return r, nil
}

// SetLogger replaces the radio logger.
func (r *Radio) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// AddTag adds or replaces a simulated tag.
func (r *Radio) AddTag(spec TagSpec) error {
	t, err := newSimTag(spec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[t.spec.UID] = t
	return nil
}

// Tags returns the UIDs of all simulated tags, sorted.
func (r *Radio) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]string, 0, len(r.tags))
	for uid := range r.tags {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Messages returns the NDEF message stored on a tag.
func (r *Radio) Messages(uid string) (nfc.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tags[normalize(uid)]
	if !ok {
		return nfc.Message{}, fmt.Errorf("%w: %s", ErrUnknownTag, uid)
	}
	return t.message, nil
}

// Present places tags in the field. A session that is scanning is told about
// everything in the field.
func (r *Radio) Present(uids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range uids {
		uid = normalize(uid)
		if _, ok := r.tags[uid]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTag, uid)
		}
		r.field[uid] = true
	}
	r.detectLocked()
	return nil
}

// Remove takes tags out of the field.
func (r *Radio) Remove(uids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range uids {
		delete(r.field, normalize(uid))
	}
}

// ReadingAvailable is always true for the simulator.
func (r *Radio) ReadingAvailable() bool {
	return true
}

// BeginScanning opens a session. Tags already in the field are reported
// right away.
func (r *Radio) BeginScanning(id uuid.UUID, prompt string, deliver tagsession.DeliverFunc) (tagsession.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.session.closed.Store(true)
	}
	r.session = &simSession{radio: r, id: id, deliver: deliver}
	r.scanning = true
	r.logger.Printf("Session %s: %s", id, prompt)
	r.detectLocked()
	return r.session, nil
}

// detectLocked reports the field to a scanning session. Caller holds r.mu.
func (r *Radio) detectLocked() {
	if !r.scanning || r.session == nil || len(r.field) == 0 {
		return
	}
	r.scanning = false

	uids := make([]string, 0, len(r.field))
	for uid := range r.field {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	refs := make([]tagsession.TagRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, tagsession.TagRef{UID: uid, Type: r.tags[uid].spec.Type})
	}
	r.emitLocked(r.session, tagsession.TagsDetected(r.session.id, refs...))
}

// emitLocked queues ev for s. Caller holds r.mu.
func (r *Radio) emitLocked(s *simSession, ev tagsession.Event) {
	r.events <- func() {
		if !s.closed.Load() {
			s.deliver(ev)
		}
	}
}

// tagLocked returns the tag for ref if it is still in the field.
func (r *Radio) tagLocked(ref tagsession.TagRef) (*simTag, error) {
	t, ok := r.tags[ref.UID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, ref.UID)
	}
	if !r.field[ref.UID] {
		return nil, fmt.Errorf("%w: %s", ErrTagGone, ref.UID)
	}
	return t, nil
}

// connectedLocked returns the tag for ref if the session connected to it.
func (s *simSession) connectedLocked(ref tagsession.TagRef) (*simTag, error) {
	if s.connected != ref.UID {
		return nil, ErrNotConnected
	}
	return s.radio.tagLocked(ref)
}

func (s *simSession) Connect(ref tagsession.TagRef) {
	r := s.radio
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.tagLocked(ref)
	if err == nil && t.spec.FailConnect {
		err = ErrInjected
	}
	if err == nil {
		s.connected = ref.UID
	}
	r.emitLocked(s, tagsession.ConnectResult(s.id, err))
}

func (s *simSession) QueryStatus(ref tagsession.TagRef) {
	r := s.radio
	r.mu.Lock()
	defer r.mu.Unlock()

	var status nfc.StatusResult
	t, err := s.connectedLocked(ref)
	switch {
	case err != nil:
		status.Err = err
	case t.spec.FailStatus:
		status.Err = ErrInjected
	default:
		status = nfc.StatusResult{Status: t.status, Capacity: t.spec.Capacity}
	}
	r.emitLocked(s, tagsession.StatusResult(s.id, status))
}

func (s *simSession) ReadMessages(ref tagsession.TagRef) {
	r := s.radio
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := s.connectedLocked(ref)
	if err == nil && t.spec.FailRead {
		err = ErrInjected
	}
	var msgs []nfc.Message
	if err == nil && !t.message.IsZero() {
		msgs = []nfc.Message{t.message}
	}
	r.emitLocked(s, tagsession.OperationResult(s.id, msgs, err))
}

func (s *simSession) WriteMessage(ref tagsession.TagRef, msg nfc.Message) {
	r := s.radio
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := s.connectedLocked(ref)
	switch {
	case err != nil:
	case t.spec.FailWrite:
		err = ErrInjected
	case t.status != nfc.StatusReadWrite:
		err = fmt.Errorf("tag %s is not writable", ref.UID)
	default:
		err = t.write(msg)
	}
	r.emitLocked(s, tagsession.OperationResult(s.id, nil, err))
}

func (s *simSession) SetAlert(text string) {
	s.radio.logger.Printf("Session %s: %s", s.id, text)
}

func (s *simSession) Invalidate(finalPrompt string) {
	r := s.radio
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.closed.Swap(true) {
		return
	}
	s.connected = ""
	if r.session == s {
		r.session = nil
		r.scanning = false
	}
	if finalPrompt != "" {
		r.logger.Printf("Session %s: %s", s.id, finalPrompt)
	}
	r.logger.Printf("Session %s: invalidated", s.id)
}
