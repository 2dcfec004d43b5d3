package tagsession

import (
	"errors"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/jeremygit/gummi-nfc/nfc"
)

// fakeRadio records every command the controller issues. Events are fed by
// the test, never by the radio itself.
type fakeRadio struct {
	mu          sync.Mutex
	unavailable bool
	beginErr    error
	sessions    []uuid.UUID
	deliver     DeliverFunc
	handles     []*fakeHandle
}

func (r *fakeRadio) ReadingAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.unavailable
}

func (r *fakeRadio) BeginScanning(id uuid.UUID, prompt string, deliver DeliverFunc) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beginErr != nil {
		return nil, r.beginErr
	}
	h := &fakeHandle{prompt: prompt}
	r.sessions = append(r.sessions, id)
	r.deliver = deliver
	r.handles = append(r.handles, h)
	return h, nil
}

// last returns the id and handle of the most recent session.
func (r *fakeRadio) last() (uuid.UUID, *fakeHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handles) == 0 {
		return uuid.Nil, nil
	}
	return r.sessions[len(r.sessions)-1], r.handles[len(r.handles)-1]
}

func (r *fakeRadio) emit(ev Event) {
	r.mu.Lock()
	deliver := r.deliver
	r.mu.Unlock()
	deliver(ev)
}

type fakeHandle struct {
	mu          sync.Mutex
	prompt      string
	commands    []string
	written     []nfc.Message
	alerts      []string
	invalidated int
	finalPrompt string
}

func (h *fakeHandle) record(cmd string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)
}

func (h *fakeHandle) Connect(tag TagRef)      { h.record("connect " + tag.UID) }
func (h *fakeHandle) QueryStatus(tag TagRef)  { h.record("query " + tag.UID) }
func (h *fakeHandle) ReadMessages(tag TagRef) { h.record("read " + tag.UID) }

func (h *fakeHandle) WriteMessage(tag TagRef, msg nfc.Message) {
	h.mu.Lock()
	h.written = append(h.written, msg)
	h.mu.Unlock()
	h.record("write " + tag.UID)
}

func (h *fakeHandle) SetAlert(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, text)
}

func (h *fakeHandle) Invalidate(finalPrompt string) {
	h.mu.Lock()
	h.invalidated++
	h.finalPrompt = finalPrompt
	h.mu.Unlock()
	h.record("invalidate")
}

func (h *fakeHandle) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

func (h *fakeHandle) Invalidations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invalidated
}

func (h *fakeHandle) Written() []nfc.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]nfc.Message(nil), h.written...)
}

var (
	testTag      = TagRef{UID: "04a1b2c3d4e5f6", Type: "NTAG215"}
	errTagLost   = errors.New("tag lost")
	quietLogger  = log.New(io.Discard, "", 0)
	statusRW     = nfc.StatusResult{Status: nfc.StatusReadWrite, Capacity: 496}
	statusRO     = nfc.StatusResult{Status: nfc.StatusReadOnly, Capacity: 496}
	statusNotSup = nfc.StatusResult{Status: nfc.StatusNotSupported}
)
