package tagsession

import (
	"github.com/jeremygit/gummi-nfc/nfc"
)

// beginWrite gates the write on the tag classification. Only a ReadWrite tag
// ever receives a write command.
func (c *Controller) beginWrite(s *session) {
	switch s.capability {
	case nfc.CapabilityReadWrite:
	case nfc.CapabilityNotSupported:
		c.fail(s, &nfc.Error{Kind: nfc.ErrTagNotSupported, Op: "Write", TagUID: s.tag.UID, Message: "tag is not supported"})
		return
	case nfc.CapabilityReadOnly:
		c.fail(s, &nfc.Error{Kind: nfc.ErrTagReadOnly, Op: "Write", TagUID: s.tag.UID, Message: "tag is read only"})
		return
	default:
		c.fail(s, &nfc.Error{Kind: nfc.ErrStatusQueryFailed, Op: "Write", TagUID: s.tag.UID, Message: "tag capability unknown"})
		return
	}

	msg, err := c.buildMessage()
	if err != nil {
		c.fail(s, &nfc.Error{Kind: nfc.ErrPayloadEncodingFailed, Op: "Write", TagUID: s.tag.UID, Message: "payload encoding failed", Cause: err})
		return
	}

	c.setAlert(s, writingPrompt)
	c.transition(s, StateWriting)
	s.handle.WriteMessage(*s.tag, msg)
}

// buildMessage encodes the pending payload as a one-record message.
func (c *Controller) buildMessage() (nfc.Message, error) {
	rec, err := nfc.EncodeText(c.pendingPayload)
	if err != nil {
		return nfc.Message{}, err
	}
	return nfc.NewMessage(rec)
}

// onWriteResult ends a write session. The payload is consumed only on a
// confirmed write so a failed one can be retried.
func (c *Controller) onWriteResult(s *session, err error) {
	if err != nil {
		c.fail(s, &nfc.Error{Kind: nfc.ErrWriteFailed, Op: "WriteMessage", TagUID: s.tag.UID, Message: "write failed", Cause: err})
		return
	}

	c.logger.Printf("session %s: wrote %d bytes to %s", s.id, len(c.pendingPayload), s.tag.UID)
	c.pendingPayload = ""
	c.invalidate(s, nil, c.writeConfirmation)
}
