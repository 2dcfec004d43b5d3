package tagsession

import (
	"github.com/jeremygit/gummi-nfc/nfc"
)

// Read sessions proceed once connected whatever the classification; a
// published message can be retrieved from read-only tags too.
func (c *Controller) beginRead(s *session) {
	c.setAlert(s, readingPrompt)
	c.transition(s, StateReading)
	s.handle.ReadMessages(*s.tag)
}

// onReadResult appends every decodable text record and ends the session.
// Records that are not valid UTF-8 text are skipped.
func (c *Controller) onReadResult(s *session, msgs []nfc.Message, err error) {
	if err != nil {
		c.fail(s, &nfc.Error{Kind: nfc.ErrReadFailed, Op: "ReadMessages", TagUID: s.tag.UID, Message: "read failed", Cause: err})
		return
	}

	appended, skipped := 0, 0
	for _, msg := range msgs {
		for _, rec := range msg.Records() {
			text, ok := nfc.DecodeText(rec)
			if !ok {
				skipped++
				continue
			}
			c.readBuffer = append(c.readBuffer, text)
			appended++
		}
	}
	c.logger.Printf("session %s: read %d messages, buffered %d records, skipped %d", s.id, len(msgs), appended, skipped)

	c.invalidate(s, nil, readConfirmation)
}
