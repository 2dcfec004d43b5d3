package libnfcradio

import (
	"fmt"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
)

// DeviceEnumRetries is how many times device listing is attempted.
const DeviceEnumRetries = 3

// PageTag is a Type 2 tag addressed in 4-byte pages.
type PageTag interface {
	UID() string
	Type() string
	Connect() error
	Disconnect() error
	ReadPage(page byte) ([4]byte, error)
	WritePage(page byte, data [4]byte) error
}

// Reader finds tags in the field of a reader.
type Reader interface {
	Tags() ([]PageTag, error)
	String() string
	Close() error
}

// ultralightTag adapts a freefare Ultralight-family tag. NTAG21x tags are
// reported by freefare as Ultralight.
type ultralightTag struct {
	tag freefare.UltralightTag
}

func (u ultralightTag) UID() string {
	return strings.ToUpper(u.tag.UID())
}

func (u ultralightTag) Type() string {
	switch u.tag.Type() {
	case freefare.Ultralight:
		return "MIFARE Ultralight"
	case freefare.UltralightC:
		return "MIFARE Ultralight C"
	default:
		return fmt.Sprintf("MIFARE Ultralight (type %d)", u.tag.Type())
	}
}

func (u ultralightTag) Connect() error    { return u.tag.Connect() }
func (u ultralightTag) Disconnect() error { return u.tag.Disconnect() }

func (u ultralightTag) ReadPage(page byte) ([4]byte, error) {
	return u.tag.ReadPage(page)
}

func (u ultralightTag) WritePage(page byte, data [4]byte) error {
	return u.tag.WritePage(page, data)
}

// libnfcReader is a Reader backed by a libnfc device.
type libnfcReader struct {
	device nfc.Device
}

// ListDevices returns the libnfc connection strings of attached readers.
func ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(time.Millisecond * 100)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

// OpenReader opens the libnfc device named by connstring, or the first
// attached reader when connstring is empty, and puts it in initiator mode.
func OpenReader(connstring string) (Reader, error) {
	if connstring == "" {
		devices, err := ListDevices()
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, fmt.Errorf("no NFC devices found")
		}
		connstring = devices[0]
	}

	dev, err := nfc.Open(connstring)
	if err != nil {
		return nil, fmt.Errorf("failed to open NFC device %q: %w", connstring, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to initialize NFC device %q: %w", connstring, err)
	}
	return &libnfcReader{device: dev}, nil
}

// Tags polls the reader and returns the Ultralight-family tags in its field.
func (r *libnfcReader) Tags() ([]PageTag, error) {
	ffTags, err := freefare.GetTags(r.device)
	if err != nil {
		return nil, fmt.Errorf("freefare.GetTags: %w", err)
	}

	var tags []PageTag
	for _, ffTag := range ffTags {
		if t, ok := ffTag.(freefare.UltralightTag); ok {
			tags = append(tags, ultralightTag{tag: t})
		}
	}
	return tags, nil
}

func (r *libnfcReader) String() string {
	return r.device.String()
}

func (r *libnfcReader) Close() error {
	return r.device.Close()
}
