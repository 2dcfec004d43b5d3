package simradio

import (
	"fmt"
	"strings"

	"github.com/jeremygit/gummi-nfc/nfc"
)

// TagSpec describes a simulated tag. It is loaded from the agent config file.
type TagSpec struct {
	UID      string   `yaml:"uid"`
	Type     string   `yaml:"type"`
	Status   string   `yaml:"status"`   // readWrite, readOnly or notSupported
	Capacity int      `yaml:"capacity"` // bytes, 0 for DefaultCapacity
	Text     []string `yaml:"text"`     // initial text records

	// Failure injection.
	FailConnect bool `yaml:"failConnect"`
	FailStatus  bool `yaml:"failStatus"`
	FailRead    bool `yaml:"failRead"`
	FailWrite   bool `yaml:"failWrite"`
}

// DefaultCapacity matches an NTAG215.
const DefaultCapacity = 496

// simTag is the live state of a simulated tag.
type simTag struct {
	spec    TagSpec
	status  nfc.RawStatus
	message nfc.Message
}

func parseStatus(s string) (nfc.RawStatus, error) {
	switch strings.ToLower(s) {
	case "", "readwrite":
		return nfc.StatusReadWrite, nil
	case "readonly":
		return nfc.StatusReadOnly, nil
	case "notsupported":
		return nfc.StatusNotSupported, nil
	default:
		return 0, fmt.Errorf("unknown tag status %q", s)
	}
}

func newSimTag(spec TagSpec) (*simTag, error) {
	if spec.UID == "" {
		return nil, fmt.Errorf("tag uid is required")
	}
	spec.UID = normalize(spec.UID)
	if spec.Type == "" {
		spec.Type = "NTAG215"
	}
	if spec.Capacity == 0 {
		spec.Capacity = DefaultCapacity
	}

	status, err := parseStatus(spec.Status)
	if err != nil {
		return nil, fmt.Errorf("tag %s: %w", spec.UID, err)
	}

	t := &simTag{spec: spec, status: status}
	if len(spec.Text) > 0 {
		records := make([]nfc.Record, 0, len(spec.Text))
		for _, text := range spec.Text {
			rec, err := nfc.EncodeText(text)
			if err != nil {
				return nil, fmt.Errorf("tag %s: %w", spec.UID, err)
			}
			records = append(records, rec)
		}
		if t.message, err = nfc.NewMessage(records...); err != nil {
			return nil, fmt.Errorf("tag %s: %w", spec.UID, err)
		}
	}
	return t, nil
}

// write stores msg if it fits in the tag's capacity.
func (t *simTag) write(msg nfc.Message) error {
	data, err := nfc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if len(data) > t.spec.Capacity {
		return fmt.Errorf("message of %d bytes exceeds capacity of %d", len(data), t.spec.Capacity)
	}
	t.message = msg
	return nil
}

func normalize(uid string) string {
	return strings.ToUpper(uid)
}

// Validate reports whether the spec describes a usable tag.
func (s TagSpec) Validate() error {
	_, err := newSimTag(s)
	return err
}
