package nfc

import (
	"bytes"
	"testing"
)

func TestNewRecord_Formats(t *testing.T) {
	tests := []struct {
		format Format
		tnf    byte
	}{
		{FormatWellKnown, TNFWellKnown},
		{FormatAbsoluteURI, TNFAbsoluteURI},
		{FormatOther, TNFUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			r := NewRecord(tt.format, []byte("T"), []byte("1"), []byte("data"))
			if r.TNF() != tt.tnf {
				t.Errorf("TNF() = %d, want %d", r.TNF(), tt.tnf)
			}
			if r.Format() != tt.format {
				t.Errorf("Format() = %v, want %v", r.Format(), tt.format)
			}
		})
	}

	// Media type and external records collapse to Other.
	if f := NewRawRecord(TNFMediaType, []byte("text/plain"), nil, nil).Format(); f != FormatOther {
		t.Errorf("media type Format() = %v, want other", f)
	}
}

func TestRecord_Immutable(t *testing.T) {
	payload := []byte("hello")
	r := NewRecord(FormatWellKnown, nil, nil, payload)

	payload[0] = 'j'
	if !bytes.Equal(r.Payload(), []byte("hello")) {
		t.Error("record should not alias the caller's payload")
	}

	out := r.Payload()
	out[0] = 'y'
	if !bytes.Equal(r.Payload(), []byte("hello")) {
		t.Error("Payload() should return a copy")
	}
}

func TestNewMessage(t *testing.T) {
	if _, err := NewMessage(); err == nil {
		t.Error("expected error for empty message")
	}

	a := NewRecord(FormatWellKnown, nil, nil, []byte("a"))
	b := NewRecord(FormatWellKnown, nil, nil, []byte("b"))
	msg, err := NewMessage(a, b)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.Len() != 2 || msg.IsZero() {
		t.Fatalf("Len() = %d, IsZero() = %v", msg.Len(), msg.IsZero())
	}

	recs := msg.Records()
	if !recs[0].Equal(a) || !recs[1].Equal(b) {
		t.Error("records out of order")
	}
	recs[0] = b
	if !msg.Records()[0].Equal(a) {
		t.Error("Records() should return a copy")
	}

	if !(Message{}).IsZero() {
		t.Error("zero Message should report IsZero")
	}
}

func TestEncodeText(t *testing.T) {
	r, err := EncodeText("hello, 世界")
	if err != nil {
		t.Fatalf("EncodeText: %v", err)
	}
	if r.Format() != FormatWellKnown || len(r.Type()) != 0 || len(r.ID()) != 0 {
		t.Errorf("unexpected record %v", r)
	}
	if !bytes.Equal(r.Payload(), []byte("hello, 世界")) {
		t.Errorf("payload = %q", r.Payload())
	}

	for _, bad := range []string{"", "\xff\xfe"} {
		_, err := EncodeText(bad)
		if !IsKind(err, ErrPayloadEncodingFailed) {
			t.Errorf("EncodeText(%q) error = %v, want PayloadEncodingFailed", bad, err)
		}
	}
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
		ok      bool
	}{
		{"ascii", []byte("hello"), "hello", true},
		{"multibyte", []byte("héllo"), "héllo", true},
		{"empty", nil, "", true},
		{"invalid", []byte{0xC3, 0x28}, "", false},
		{"truncated", []byte{0xE2, 0x82}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeText(NewRecord(FormatWellKnown, nil, nil, tt.payload))
			if ok != tt.ok || got != tt.want {
				t.Errorf("DecodeText() = %q, %v, want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
