package phonenfc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jeremygit/gummi-nfc/nfc"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
)

// DeviceRegistrationRequest is sent by mobile app to register as the tag reader.
type DeviceRegistrationRequest struct {
	DeviceName       string            `json:"deviceName"`       // e.g., "Jeremy's iPhone"
	Platform         string            `json:"platform"`         // "ios" or "android"
	AppVersion       string            `json:"appVersion"`       // e.g., "1.0.0"
	ReadingAvailable bool              `json:"readingAvailable"` // Whether the phone can scan tags
	Metadata         map[string]string `json:"metadata"`         // Optional metadata
}

// DeviceRegistrationResponse is sent by server after successful registration.
type DeviceRegistrationResponse struct {
	DeviceID   string     `json:"deviceID"` // Unique device identifier (UUID)
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo contains information about the server.
type ServerInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Protocol int    `json:"protocol"`
}

// DeviceHeartbeat is sent by mobile app periodically.
type DeviceHeartbeat struct {
	DeviceID  string    `json:"deviceID"`
	Timestamp time.Time `json:"timestamp"`
}

// TagData identifies a tag on the wire.
type TagData struct {
	UID  string `json:"uid"`            // Tag UID (hex format)
	Type string `json:"type,omitempty"` // "NTAG215", "MIFARE Ultralight", etc.
}

// NDEFMessageData is an NDEF message on the wire.
type NDEFMessageData struct {
	Records []NDEFRecordData `json:"records"`
}

// NDEFRecordData is a single NDEF record on the wire. Byte fields are base64.
type NDEFRecordData struct {
	TNF     uint8  `json:"tnf"`     // Type Name Format
	Type    []byte `json:"type"`    // Record type
	ID      []byte `json:"id"`      // Record ID (optional)
	Payload []byte `json:"payload"` // Record payload
}

// Phone to agent session callbacks. Session is the id sent in beginScanning.

type TagsDetectedPayload struct {
	Session string    `json:"session"`
	Tags    []TagData `json:"tags"`
}

type ConnectResultPayload struct {
	Session string `json:"session"`
	Error   string `json:"error,omitempty"`
}

type StatusResultPayload struct {
	Session  string `json:"session"`
	Status   string `json:"status"`
	Capacity int    `json:"capacity"`
	Error    string `json:"error,omitempty"`
}

type OperationResultPayload struct {
	Session  string            `json:"session"`
	Messages []NDEFMessageData `json:"messages,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Agent to phone session commands.

type BeginScanningPayload struct {
	Session string `json:"session"`
	Prompt  string `json:"prompt"`
}

type TagCommandPayload struct {
	Session string  `json:"session"`
	Tag     TagData `json:"tag"`
}

type WriteNDEFPayload struct {
	Session string          `json:"session"`
	Tag     TagData         `json:"tag"`
	Message NDEFMessageData `json:"message"`
}

type SetAlertPayload struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}

type InvalidatePayload struct {
	Session     string `json:"session"`
	FinalPrompt string `json:"finalPrompt"`
}

// phoneError turns a reported error string into an error, or nil.
func phoneError(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

// ConvertTagData converts a wire tag to a session tag reference.
func ConvertTagData(data TagData) (tagsession.TagRef, error) {
	uid, err := parseUID(data.UID)
	if err != nil {
		return tagsession.TagRef{}, fmt.Errorf("invalid UID format: %w", err)
	}
	return tagsession.TagRef{UID: uid, Type: data.Type}, nil
}

// TagDataFrom converts a session tag reference to its wire form.
func TagDataFrom(tag tagsession.TagRef) TagData {
	return TagData{UID: tag.UID, Type: tag.Type}
}

// ConvertStatus converts a statusResult payload to a status query result.
func ConvertStatus(p StatusResultPayload) nfc.StatusResult {
	if err := phoneError(p.Error); err != nil {
		return nfc.StatusResult{Err: err}
	}

	result := nfc.StatusResult{Capacity: p.Capacity}
	switch p.Status {
	case StatusNotSupported:
		result.Status = nfc.StatusNotSupported
	case StatusReadWrite:
		result.Status = nfc.StatusReadWrite
	case StatusReadOnly:
		result.Status = nfc.StatusReadOnly
	default:
		// Left as the zero status, which classifies as Unknown.
	}
	return result
}

// ConvertNDEFMessageData converts a wire message to an nfc.Message.
func ConvertNDEFMessageData(data NDEFMessageData) (nfc.Message, error) {
	if len(data.Records) == 0 {
		return nfc.Message{}, fmt.Errorf("empty NDEF message")
	}

	records := make([]nfc.Record, 0, len(data.Records))
	for i, recordData := range data.Records {
		if recordData.TNF > 0x07 {
			return nfc.Message{}, fmt.Errorf("record %d: invalid TNF value: 0x%02X", i, recordData.TNF)
		}
		records = append(records, nfc.NewRawRecord(recordData.TNF, recordData.Type, recordData.ID, recordData.Payload))
	}
	return nfc.NewMessage(records...)
}

// NDEFMessageDataFrom converts an nfc.Message to its wire form.
func NDEFMessageDataFrom(msg nfc.Message) NDEFMessageData {
	records := msg.Records()
	data := NDEFMessageData{Records: make([]NDEFRecordData, 0, len(records))}
	for _, r := range records {
		data.Records = append(data.Records, NDEFRecordData{
			TNF:     r.TNF(),
			Type:    r.Type(),
			ID:      r.ID(),
			Payload: r.Payload(),
		})
	}
	return data
}

var validHex = regexp.MustCompile(`^[0-9A-F]+$`)

// parseUID parses and normalizes UID from various formats.
// Supports: "04:AB:CD:EF", "04ABCDEF", "04 AB CD EF"
// Returns: normalized colon-separated uppercase hex (e.g., "04:AB:CD:EF")
func parseUID(uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("empty UID")
	}

	cleaned := strings.ReplaceAll(uid, ":", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ToUpper(cleaned)

	if !validHex.MatchString(cleaned) {
		return "", fmt.Errorf("UID contains invalid characters: %s", uid)
	}

	// Each byte is two hex characters
	if len(cleaned)%2 != 0 {
		return "", fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}

	var result strings.Builder
	for i := 0; i < len(cleaned); i += 2 {
		if i > 0 {
			result.WriteByte(':')
		}
		result.WriteString(cleaned[i : i+2])
	}

	return result.String(), nil
}
