// Package libnfcradio drives a USB reader through libnfc as the tag radio.
// Only Type 2 tags (MIFARE Ultralight and NTAG21x) are supported.
package libnfcradio

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

// DefaultPollInterval is how often the reader is polled while scanning.
const DefaultPollInterval = 250 * time.Millisecond

var (
	ErrRadioClosed  = errors.New("libnfcradio: radio closed")
	ErrTagGone      = errors.New("libnfcradio: tag is no longer in the field")
	ErrNotConnected = errors.New("libnfcradio: tag not connected")
)

// Radio implements tagsession.Radio on a libnfc reader. All reader I/O runs
// on a single worker goroutine, which is also where results are delivered
// from.
type Radio struct {
	reader Reader
	logger *log.Logger

	work chan func()
	done chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	scanning *radioSession
	closed   bool
	once     sync.Once
}

// radioSession is the radio side of one tag session. Fields other than the
// immutable ones are owned by the worker goroutine.
type radioSession struct {
	radio   *Radio
	id      uuid.UUID
	deliver tagsession.DeliverFunc

	tags      map[string]PageTag
	connected PageTag
	dataSize  int

	closed bool // guarded by radio.mu
}

// NewRadio starts a radio on reader. A zero interval uses DefaultPollInterval;
// a nil clock uses the real clock.
func NewRadio(reader Reader, pollInterval time.Duration, clock nfc.Clock) *Radio {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if clock == nil {
		clock = nfc.NewRealClock()
	}

	r := &Radio{
		reader: reader,
		logger: log.New(os.Stderr, "[libnfc] ", log.LstdFlags),
		work:   make(chan func(), 16),
		done:   make(chan struct{}),
	}
	// The ticker is created here so a fake clock sees it before Advance.
	ticker := clock.NewTicker(pollInterval)
	r.wg.Add(1)
	go r.loop(ticker)
	return r
}

// SetLogger replaces the radio logger.
func (r *Radio) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// ReadingAvailable reports whether the reader is open.
func (r *Radio) ReadingAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reader != nil && !r.closed
}

// BeginScanning starts polling the reader for tags on behalf of session id.
func (r *Radio) BeginScanning(id uuid.UUID, prompt string, deliver tagsession.DeliverFunc) (tagsession.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRadioClosed
	}
	if r.scanning != nil {
		r.scanning.closed = true
	}
	s := &radioSession{radio: r, id: id, deliver: deliver}
	r.scanning = s

	r.logger.Printf("Session %s: %s", id, prompt)
	return s, nil
}

// Close stops the worker and closes the reader.
func (r *Radio) Close() error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.scanning = nil
		r.mu.Unlock()

		close(r.done)
		r.wg.Wait()
		if r.reader != nil {
			err = r.reader.Close()
		}
	})
	return err
}

func (r *Radio) loop(ticker nfc.Ticker) {
	defer r.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case fn := <-r.work:
			fn()
		case <-ticker.C():
			r.poll()
		case <-r.done:
			return
		}
	}
}

// poll looks for tags when a session is scanning and reports the first
// non-empty sighting.
func (r *Radio) poll() {
	r.mu.Lock()
	s := r.scanning
	r.mu.Unlock()
	if s == nil {
		return
	}

	tags, err := r.reader.Tags()
	if err != nil {
		r.logger.Printf("Polling %s failed: %v", r.reader, err)
		return
	}
	if len(tags) == 0 {
		return
	}

	r.mu.Lock()
	if r.scanning != s {
		r.mu.Unlock()
		return
	}
	r.scanning = nil
	r.mu.Unlock()

	s.tags = make(map[string]PageTag, len(tags))
	refs := make([]tagsession.TagRef, 0, len(tags))
	for _, t := range tags {
		ref := tagsession.TagRef{UID: t.UID(), Type: t.Type()}
		s.tags[ref.UID] = t
		refs = append(refs, ref)
	}
	r.logger.Printf("Session %s: found %d tag(s)", s.id, len(refs))
	s.deliver(tagsession.TagsDetected(s.id, refs...))
}

// post queues fn on the worker. It reports false once the radio is closed.
func (r *Radio) post(fn func()) bool {
	select {
	case r.work <- fn:
		return true
	case <-r.done:
		return false
	}
}

// run queues a session command. Commands for an invalidated session are
// dropped; a closed radio fails the command with ErrRadioClosed.
func (s *radioSession) run(fail tagsession.Event, fn func() tagsession.Event) {
	ok := s.radio.post(func() {
		if s.isClosed() {
			return
		}
		s.deliver(fn())
	})
	if !ok {
		go s.deliver(fail)
	}
}

func (s *radioSession) isClosed() bool {
	s.radio.mu.Lock()
	defer s.radio.mu.Unlock()
	return s.closed
}

func (s *radioSession) tag(ref tagsession.TagRef) (PageTag, error) {
	t, ok := s.tags[ref.UID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTagGone, ref.UID)
	}
	return t, nil
}

func (s *radioSession) Connect(ref tagsession.TagRef) {
	s.run(tagsession.ConnectResult(s.id, ErrRadioClosed), func() tagsession.Event {
		t, err := s.tag(ref)
		if err != nil {
			return tagsession.ConnectResult(s.id, err)
		}
		if err := t.Connect(); err != nil {
			return tagsession.ConnectResult(s.id, fmt.Errorf("connect %s: %w", ref.UID, err))
		}
		s.connected = t
		return tagsession.ConnectResult(s.id, nil)
	})
}

func (s *radioSession) QueryStatus(ref tagsession.TagRef) {
	s.run(tagsession.StatusResult(s.id, nfc.StatusResult{Err: ErrRadioClosed}), func() tagsession.Event {
		if s.connected == nil {
			return tagsession.StatusResult(s.id, nfc.StatusResult{Err: ErrNotConnected})
		}
		status := queryStatus(s.connected)
		if status.Err == nil {
			s.dataSize = status.Capacity
		}
		return tagsession.StatusResult(s.id, status)
	})
}

func (s *radioSession) ReadMessages(ref tagsession.TagRef) {
	s.run(tagsession.OperationResult(s.id, nil, ErrRadioClosed), func() tagsession.Event {
		if s.connected == nil {
			return tagsession.OperationResult(s.id, nil, ErrNotConnected)
		}
		msgs, err := readNDEF(s.connected, s.dataSize)
		return tagsession.OperationResult(s.id, msgs, err)
	})
}

func (s *radioSession) WriteMessage(ref tagsession.TagRef, msg nfc.Message) {
	s.run(tagsession.OperationResult(s.id, nil, ErrRadioClosed), func() tagsession.Event {
		if s.connected == nil {
			return tagsession.OperationResult(s.id, nil, ErrNotConnected)
		}
		return tagsession.OperationResult(s.id, nil, writeNDEF(s.connected, s.dataSize, msg))
	})
}

// SetAlert logs the prompt; a USB reader has no display.
func (s *radioSession) SetAlert(text string) {
	s.radio.logger.Printf("Session %s: %s", s.id, text)
}

// Invalidate ends the session and disconnects its tag.
func (s *radioSession) Invalidate(finalPrompt string) {
	r := s.radio
	r.mu.Lock()
	if s.closed {
		r.mu.Unlock()
		return
	}
	s.closed = true
	if r.scanning == s {
		r.scanning = nil
	}
	r.mu.Unlock()

	r.post(func() {
		if s.connected != nil {
			if err := s.connected.Disconnect(); err != nil {
				r.logger.Printf("Session %s: disconnect failed: %v", s.id, err)
			}
			s.connected = nil
		}
	})
	if finalPrompt != "" {
		r.logger.Printf("Session %s: %s", s.id, finalPrompt)
	} else {
		r.logger.Printf("Session %s: invalidated", s.id)
	}
}
