package libnfcradio

import (
	"fmt"

	"github.com/jeremygit/gummi-nfc/nfc"
)

// Type 2 tag memory layout.
const (
	pageSize      = 4
	ccPage        = 3
	dataStartPage = 4

	// Data area of a MIFARE Ultralight, used when the capability container
	// does not report a size.
	defaultDataSize = 48
)

// queryStatus reads the capability container.
func queryStatus(t PageTag) nfc.StatusResult {
	cc, err := t.ReadPage(ccPage)
	if err != nil {
		return nfc.StatusResult{Err: fmt.Errorf("read capability container: %w", err)}
	}
	return nfc.StatusFromCapabilityContainer(cc)
}

// readNDEF reads the data area page by page until the NDEF TLV is complete.
// A tag without an NDEF TLV, or with an empty one, has no messages.
func readNDEF(t PageTag, dataSize int) ([]nfc.Message, error) {
	if dataSize <= 0 {
		dataSize = defaultDataSize
	}

	buf := make([]byte, 0, dataSize)
	var ndef []byte
	found := false
	for i := 0; i < dataSize/pageSize && !found; i++ {
		page, err := t.ReadPage(byte(dataStartPage + i))
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", dataStartPage+i, err)
		}
		buf = append(buf, page[:]...)
		ndef, found = nfc.TLVFindNDEF(buf)
	}

	if !found || len(ndef) == 0 {
		return nil, nil
	}

	msg, err := nfc.DecodeMessage(ndef)
	if err != nil {
		return nil, fmt.Errorf("decode NDEF message: %w", err)
	}
	return []nfc.Message{msg}, nil
}

// writeNDEF writes msg as the only TLV in the data area.
func writeNDEF(t PageTag, dataSize int, msg nfc.Message) error {
	if dataSize <= 0 {
		dataSize = defaultDataSize
	}

	data, err := nfc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode NDEF message: %w", err)
	}
	tlv := nfc.TLVEncode(data, nfc.TLVNDEF)
	if len(tlv) > dataSize {
		return fmt.Errorf("message of %d bytes does not fit in %d byte data area", len(tlv), dataSize)
	}
	for len(tlv)%pageSize != 0 {
		tlv = append(tlv, 0x00)
	}

	for i := 0; i < len(tlv)/pageSize; i++ {
		var page [4]byte
		copy(page[:], tlv[i*pageSize:])
		if err := t.WritePage(byte(dataStartPage+i), page); err != nil {
			return fmt.Errorf("write page %d: %w", dataStartPage+i, err)
		}
	}
	return nil
}
