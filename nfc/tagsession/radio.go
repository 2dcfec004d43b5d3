package tagsession

import (
	"github.com/google/uuid"
	"github.com/jeremygit/gummi-nfc/nfc"
)

// DeliverFunc hands a radio callback back to the session controller.
type DeliverFunc func(Event)

// Radio is the platform's proximity-tag subsystem.
//
// BeginScanning opens the radio for one session. Every callback for that
// session must be passed to deliver stamped with id, in protocol order, and
// never from inside a Radio or Handle method call: the controller is not
// re-entrant.
type Radio interface {
	ReadingAvailable() bool
	BeginScanning(id uuid.UUID, prompt string, deliver DeliverFunc) (Handle, error)
}

// Handle is the radio session opened by BeginScanning. Commands return
// immediately; their results arrive as events.
type Handle interface {
	Connect(tag TagRef)
	QueryStatus(tag TagRef)
	ReadMessages(tag TagRef)
	WriteMessage(tag TagRef, msg nfc.Message)
	SetAlert(text string)
	// Invalidate releases the radio. The controller calls it exactly once.
	Invalidate(finalPrompt string)
}
