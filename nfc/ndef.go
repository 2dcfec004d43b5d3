package nfc

import (
	"encoding/binary"
	"fmt"
)

// NDEF record header flags.
const (
	flagMB  = 0x80 // Message Begin
	flagME  = 0x40 // Message End
	flagCF  = 0x20 // Chunk Flag
	flagSR  = 0x10 // Short Record
	flagIL  = 0x08 // ID Length present
	maskTNF = 0x07
)

// EncodeMessage serializes a message into raw NDEF bytes.
func EncodeMessage(m Message) ([]byte, error) {
	if m.IsZero() {
		return nil, fmt.Errorf("cannot encode empty NDEF message")
	}

	var result []byte
	for i, record := range m.records {
		isFirst := i == 0
		isLast := i == len(m.records)-1

		payloadLen := len(record.payload)
		typeLen := len(record.typ)
		idLen := len(record.id)
		if typeLen > 0xFF || idLen > 0xFF {
			return nil, fmt.Errorf("record %d: type or id longer than 255 bytes", i)
		}

		isShortRecord := payloadLen <= 0xFF
		hasID := idLen > 0

		header := record.tnf & maskTNF
		if isFirst {
			header |= flagMB
		}
		if isLast {
			header |= flagME
		}
		if isShortRecord {
			header |= flagSR
		}
		if hasID {
			header |= flagIL
		}

		result = append(result, header, byte(typeLen))
		if isShortRecord {
			result = append(result, byte(payloadLen))
		} else {
			result = binary.BigEndian.AppendUint32(result, uint32(payloadLen))
		}
		if hasID {
			result = append(result, byte(idLen))
		}
		result = append(result, record.typ...)
		result = append(result, record.id...)
		result = append(result, record.payload...)
	}

	return result, nil
}

// DecodeMessage parses raw NDEF bytes. Chunked records are rejected.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("empty NDEF message")
	}

	var records []Record
	offset := 0

	for offset < len(data) {
		header := data[offset]
		if header&flagCF != 0 {
			return Message{}, fmt.Errorf("invalid NDEF message: chunked record at offset %d not supported", offset)
		}
		me := header&flagME != 0
		sr := header&flagSR != 0
		il := header&flagIL != 0
		tnf := header & maskTNF

		pos := offset + 1
		if pos+1 > len(data) {
			return Message{}, fmt.Errorf("invalid NDEF message: truncated type length at offset %d", pos)
		}
		typeLength := int(data[pos])
		pos++

		var payloadLength int
		if sr {
			if pos+1 > len(data) {
				return Message{}, fmt.Errorf("invalid NDEF message: truncated short record payload length at offset %d", pos)
			}
			payloadLength = int(data[pos])
			pos++
		} else {
			if pos+4 > len(data) {
				return Message{}, fmt.Errorf("invalid NDEF message: truncated payload length at offset %d", pos)
			}
			payloadLength = int(binary.BigEndian.Uint32(data[pos : pos+4]))
			pos += 4
		}

		var idLength int
		if il {
			if pos+1 > len(data) {
				return Message{}, fmt.Errorf("invalid NDEF message: truncated ID length at offset %d", pos)
			}
			idLength = int(data[pos])
			pos++
		}

		end := pos + typeLength + idLength + payloadLength
		if end > len(data) || end < pos {
			return Message{}, fmt.Errorf("invalid NDEF message: record at offset %d exceeds buffer bounds", offset)
		}

		recordType := data[pos : pos+typeLength]
		pos += typeLength
		recordID := data[pos : pos+idLength]
		pos += idLength
		recordPayload := data[pos : pos+payloadLength]
		pos += payloadLength

		records = append(records, NewRawRecord(tnf, recordType, recordID, recordPayload))
		offset = pos

		if me {
			break
		}
	}

	return NewMessage(records...)
}
