// Package nfc holds the tag data model shared by every radio: NDEF text
// records, Type 2 TLV framing, capability classification and the error kinds
// a session reports.
package nfc

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Type Name Format values from the NDEF record header.
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMediaType   byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06
	TNFReserved    byte = 0x07
)

// Format is the coarse classification of a record's type name format.
type Format int

const (
	FormatWellKnown Format = iota
	FormatAbsoluteURI
	FormatOther
)

func (f Format) String() string {
	switch f {
	case FormatWellKnown:
		return "wellKnown"
	case FormatAbsoluteURI:
		return "absoluteURI"
	default:
		return "other"
	}
}

// Record is a single tag-resident NDEF record. It is immutable: accessors
// return copies of the underlying byte slices.
type Record struct {
	tnf     byte
	typ     []byte
	id      []byte
	payload []byte
}

// NewRecord builds a record of the given format. FormatOther is stored with
// the Unknown TNF.
func NewRecord(format Format, recordType, id, payload []byte) Record {
	tnf := TNFUnknown
	switch format {
	case FormatWellKnown:
		tnf = TNFWellKnown
	case FormatAbsoluteURI:
		tnf = TNFAbsoluteURI
	}
	return NewRawRecord(tnf, recordType, id, payload)
}

// NewRawRecord builds a record from a raw TNF value, as found on the wire.
func NewRawRecord(tnf byte, recordType, id, payload []byte) Record {
	return Record{
		tnf:     tnf & 0x07,
		typ:     cloneBytes(recordType),
		id:      cloneBytes(id),
		payload: cloneBytes(payload),
	}
}

// Format returns the record's format classification.
func (r Record) Format() Format {
	switch r.tnf {
	case TNFWellKnown:
		return FormatWellKnown
	case TNFAbsoluteURI:
		return FormatAbsoluteURI
	default:
		return FormatOther
	}
}

// TNF returns the raw type name format.
func (r Record) TNF() byte { return r.tnf }

// Type returns a copy of the record type.
func (r Record) Type() []byte { return cloneBytes(r.typ) }

// ID returns a copy of the record identifier.
func (r Record) ID() []byte { return cloneBytes(r.id) }

// Payload returns a copy of the record payload.
func (r Record) Payload() []byte { return cloneBytes(r.payload) }

// Equal reports whether two records carry identical fields.
func (r Record) Equal(other Record) bool {
	return r.tnf == other.tnf &&
		bytes.Equal(r.typ, other.typ) &&
		bytes.Equal(r.id, other.id) &&
		bytes.Equal(r.payload, other.payload)
}

func (r Record) String() string {
	return fmt.Sprintf("Record{format=%s type=%q id=%q payload=%d bytes}", r.Format(), r.typ, r.id, len(r.payload))
}

// Message is an ordered, non-empty sequence of records.
type Message struct {
	records []Record
}

// NewMessage creates a message from the given records, in order.
func NewMessage(records ...Record) (Message, error) {
	if len(records) == 0 {
		return Message{}, fmt.Errorf("cannot build empty NDEF message (no records provided)")
	}
	rs := make([]Record, len(records))
	copy(rs, records)
	return Message{records: rs}, nil
}

// Records returns the records in wire order.
func (m Message) Records() []Record {
	rs := make([]Record, len(m.records))
	copy(rs, m.records)
	return rs
}

// Len returns the number of records.
func (m Message) Len() int { return len(m.records) }

// IsZero reports whether m is the zero Message (no records).
func (m Message) IsZero() bool { return len(m.records) == 0 }

// EncodeText wraps text in a Well Known record with empty type and id.
// A zero-length payload is rejected: writing it would be a no-op.
func EncodeText(text string) (Record, error) {
	if text == "" {
		return Record{}, Errorf(ErrPayloadEncodingFailed, "EncodeText", "payload is empty")
	}
	if !utf8.ValidString(text) {
		return Record{}, Errorf(ErrPayloadEncodingFailed, "EncodeText", "payload is not valid UTF-8")
	}
	return NewRecord(FormatWellKnown, nil, nil, []byte(text)), nil
}

// DecodeText returns the payload as text. ok is false when the payload is not
// valid UTF-8.
func DecodeText(r Record) (text string, ok bool) {
	if !utf8.Valid(r.payload) {
		return "", false
	}
	return string(r.payload), true
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
