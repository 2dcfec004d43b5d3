package tagsession

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jeremygit/gummi-nfc/nfc"
)

// SubscriberBuffer is the channel depth given to each Subscribe call.
const SubscriberBuffer = 8

// Snapshot is the published, read-only view of a controller.
type Snapshot struct {
	SessionID           uuid.UUID      `json:"sessionID"`
	Mode                Mode           `json:"mode"`
	State               State          `json:"state"`
	AlertText           string         `json:"alertText,omitempty"`
	Tag                 *TagRef        `json:"tag,omitempty"`
	Capability          nfc.Capability `json:"capability"`
	ReadBuffer          []string       `json:"readBuffer"`
	PendingWritePayload string         `json:"pendingWritePayload"`
	LastError           nfc.ErrorKind  `json:"lastError,omitempty"`
	LastErrorMessage    string         `json:"lastErrorMessage,omitempty"`
	UpdatedAt           time.Time      `json:"updatedAt"`

	// Err is the full error behind LastError.
	Err error `json:"-"`
}

// Live reports whether the snapshot was taken while a session held the radio.
func (s Snapshot) Live() bool {
	return s.State.Live()
}

// publisher stores the latest snapshot and fans it out to subscribers. It is
// the only part of the controller touched from outside the serial context.
type publisher struct {
	current atomic.Pointer[Snapshot]
	logger  *log.Logger

	mu   sync.Mutex
	subs map[chan Snapshot]struct{}
}

func newPublisher(logger *log.Logger) *publisher {
	p := &publisher{
		logger: logger,
		subs:   make(map[chan Snapshot]struct{}),
	}
	p.current.Store(&Snapshot{State: StateIdle, ReadBuffer: []string{}})
	return p
}

func (p *publisher) load() Snapshot {
	return *p.current.Load()
}

func (p *publisher) publish(s Snapshot) {
	p.current.Store(&s)

	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- s:
		default:
			p.logger.Println("Warning: snapshot subscriber channel full, dropping update.")
		}
	}
}

func (p *publisher) subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, SubscriberBuffer)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
			close(ch)
		})
	}
}
