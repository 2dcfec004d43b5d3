package tagsession

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jeremygit/gummi-nfc/nfc"
)

// EventKind enumerates the callbacks a radio reports for a session.
type EventKind int

const (
	EventTagsDetected EventKind = iota + 1
	EventConnectResult
	EventStatusResult
	EventOperationResult
)

func (k EventKind) String() string {
	switch k {
	case EventTagsDetected:
		return "tagsDetected"
	case EventConnectResult:
		return "connectResult"
	case EventStatusResult:
		return "statusResult"
	case EventOperationResult:
		return "operationResult"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// TagRef identifies a discovered tag to the radio that reported it.
type TagRef struct {
	UID  string `json:"uid"`
	Type string `json:"type,omitempty"`
}

// Event is a single radio callback, stamped with the session it belongs to.
// Only the fields relevant to Kind are set.
type Event struct {
	Session  uuid.UUID
	Kind     EventKind
	Tags     []TagRef         // EventTagsDetected
	Status   nfc.StatusResult // EventStatusResult
	Messages []nfc.Message    // EventOperationResult (read)
	Err      error            // EventConnectResult, EventOperationResult
}

func (e Event) String() string {
	switch e.Kind {
	case EventTagsDetected:
		return fmt.Sprintf("%s(%d tags)", e.Kind, len(e.Tags))
	case EventStatusResult:
		if e.Status.Err != nil {
			return fmt.Sprintf("%s(err=%v)", e.Kind, e.Status.Err)
		}
		return fmt.Sprintf("%s(%s)", e.Kind, nfc.Classify(e.Status))
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s(err=%v)", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

// TagsDetected reports the tags discovered while scanning.
func TagsDetected(session uuid.UUID, tags ...TagRef) Event {
	return Event{Session: session, Kind: EventTagsDetected, Tags: tags}
}

// ConnectResult reports the outcome of Handle.Connect.
func ConnectResult(session uuid.UUID, err error) Event {
	return Event{Session: session, Kind: EventConnectResult, Err: err}
}

// StatusResult reports the outcome of Handle.QueryStatus.
func StatusResult(session uuid.UUID, status nfc.StatusResult) Event {
	return Event{Session: session, Kind: EventStatusResult, Status: status}
}

// OperationResult reports the messages read, or the outcome of a write.
func OperationResult(session uuid.UUID, messages []nfc.Message, err error) Event {
	return Event{Session: session, Kind: EventOperationResult, Messages: messages, Err: err}
}
