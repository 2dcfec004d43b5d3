package nfc

import "encoding/binary"

// TLV block types in Type 2 tag memory.
const (
	TLVNull        = 0x00
	TLVLockCtrl    = 0x01
	TLVMemCtrl     = 0x02
	TLVNDEF        = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// tlvLongLength marks a three byte length field.
const tlvLongLength = 0xFF

// TLVEncode wraps data in a TLV block of the given type followed by a
// terminator. Values of 255 bytes or more use the three byte length form.
func TLVEncode(data []byte, tlvType byte) []byte {
	out := make([]byte, 0, len(data)+5)
	out = append(out, tlvType)
	if len(data) < tlvLongLength {
		out = append(out, byte(len(data)))
	} else {
		out = append(out, tlvLongLength)
		out = binary.BigEndian.AppendUint16(out, uint16(len(data)))
	}
	out = append(out, data...)
	return append(out, TLVTerminator)
}

// TLVHeader parses the type and length fields of the block at data[0]. It
// returns the header size and the value length, or ok false when the header
// is cut short.
func TLVHeader(data []byte) (size, length int, ok bool) {
	switch {
	case len(data) < 2:
		return 0, 0, false
	case data[1] != tlvLongLength:
		return 2, int(data[1]), true
	case len(data) < 4:
		return 0, 0, false
	default:
		return 4, int(binary.BigEndian.Uint16(data[2:4])), true
	}
}

// TLVFindNDEF returns the value of the first NDEF block in data. It stops
// at a terminator and reports false when the block is missing or incomplete,
// so callers reading page by page can fetch more and retry.
func TLVFindNDEF(data []byte) ([]byte, bool) {
	for i := 0; i < len(data); {
		switch data[i] {
		case TLVNull:
			i++
			continue
		case TLVTerminator:
			return nil, false
		}

		size, length, ok := TLVHeader(data[i:])
		end := i + size + length
		if !ok || end > len(data) {
			return nil, false
		}
		if data[i] == TLVNDEF {
			return data[i+size : end], true
		}
		i = end
	}
	return nil, false
}
