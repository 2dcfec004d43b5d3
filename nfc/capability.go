package nfc

// Capability is the read/write classification of a discovered tag.
type Capability int

const (
	// CapabilityUnknown is transient: it must never be used to gate a write.
	CapabilityUnknown Capability = iota
	CapabilityNotSupported
	CapabilityReadOnly
	CapabilityReadWrite
)

func (c Capability) String() string {
	switch c {
	case CapabilityNotSupported:
		return "notSupported"
	case CapabilityReadOnly:
		return "readOnly"
	case CapabilityReadWrite:
		return "readWrite"
	default:
		return "unknown"
	}
}

// MarshalText renders the capability by name in JSON payloads.
func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// RawStatus is the NDEF status code reported by the radio. The values follow
// the mobile platform's NDEF status enumeration.
type RawStatus uint8

const (
	StatusNotSupported RawStatus = 1
	StatusReadWrite    RawStatus = 2
	StatusReadOnly     RawStatus = 3
)

// StatusResult is the radio's answer to a status query.
type StatusResult struct {
	Status   RawStatus
	Capacity int   // Maximum NDEF message size in bytes, 0 if not reported
	Err      error // Set when the query itself failed
}

// Classify maps a status response onto a Capability. A failed query or an
// unrecognised status yields CapabilityUnknown, never CapabilityNotSupported.
func Classify(result StatusResult) Capability {
	if result.Err != nil {
		return CapabilityUnknown
	}
	switch result.Status {
	case StatusNotSupported:
		return CapabilityNotSupported
	case StatusReadOnly:
		return CapabilityReadOnly
	case StatusReadWrite:
		return CapabilityReadWrite
	default:
		return CapabilityUnknown
	}
}

// Type 2 tag capability container layout (page 3).
const (
	ccMagic          = 0xE1
	ccAccessReadOK   = 0x00
	ccAccessWriteOK  = 0x00
	ccAccessReadOnly = 0x0F
)

// StatusFromCapabilityContainer interprets the 4-byte capability container of
// a Type 2 tag: [magic][version][data area size / 8][access].
func StatusFromCapabilityContainer(cc [4]byte) StatusResult {
	if cc[0] != ccMagic {
		return StatusResult{Status: StatusNotSupported}
	}

	capacity := int(cc[2]) * 8
	readAccess := cc[3] >> 4
	writeAccess := cc[3] & 0x0F

	if readAccess != ccAccessReadOK {
		return StatusResult{Status: StatusNotSupported, Capacity: capacity}
	}

	switch writeAccess {
	case ccAccessWriteOK:
		return StatusResult{Status: StatusReadWrite, Capacity: capacity}
	case ccAccessReadOnly:
		return StatusResult{Status: StatusReadOnly, Capacity: capacity}
	default:
		// Proprietary write access conditions; treat as not writable.
		return StatusResult{Status: StatusReadOnly, Capacity: capacity}
	}
}
