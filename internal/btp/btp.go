// Package btp implements the parts of the Bluetooth Test Protocol the IUT
// controller needs: the frame header, a WebSocket transport to the tester
// app and a worker that receives frames in the background.
package btp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultPort is the port the BTP tester app listens on.
const DefaultPort = 8765

// Service identifiers.
const (
	ServiceCore  uint8 = 0x00
	ServiceGAP   uint8 = 0x01
	ServiceGATT  uint8 = 0x02
	ServiceL2CAP uint8 = 0x03
	ServiceMesh  uint8 = 0x04
)

// Opcodes used by the controller. Opcodes from 0x80 up are events.
const (
	OpStatus uint8 = 0x00

	CoreEvIUTReady uint8 = 0x80

	GAPEvPasskeyDisplay    uint8 = 0x84
	GAPEvPasskeyConfirmReq uint8 = 0x86
	GAPEvPairingConsentReq uint8 = 0x8a
)

// IndexNone is the controller index for frames not tied to a controller.
const IndexNone uint8 = 0xff

// HeaderSize is the encoded size of a Header.
const HeaderSize = 5

// Header is the fixed BTP frame header. Len is little-endian on the wire.
type Header struct {
	Service uint8
	Opcode  uint8
	Index   uint8
	Len     uint16
}

// Frame is a header plus its payload.
type Frame struct {
	Header
	Data []byte
}

// NewFrame builds a frame with Len set from data.
func NewFrame(service, opcode, index uint8, data []byte) Frame {
	return Frame{
		Header: Header{Service: service, Opcode: opcode, Index: index, Len: uint16(len(data))},
		Data:   data,
	}
}

// IsEvent reports whether the frame is an unsolicited event.
func (h Header) IsEvent() bool {
	return h.Opcode >= 0x80
}

// String returns a short description of the header for logging.
func (h Header) String() string {
	return fmt.Sprintf("svc=0x%02x op=0x%02x idx=0x%02x len=%d", h.Service, h.Opcode, h.Index, h.Len)
}

// Marshal encodes f. Header.Len is taken from len(f.Data).
func (f Frame) Marshal() ([]byte, error) {
	if len(f.Data) > 0xffff {
		return nil, fmt.Errorf("btp: payload of %d bytes exceeds 65535", len(f.Data))
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(f.Data))
	buf[0] = f.Service
	buf[1] = f.Opcode
	buf[2] = f.Index
	binary.LittleEndian.PutUint16(buf[3:], uint16(len(f.Data)))
	return append(buf, f.Data...), nil
}

// UnmarshalFrame decodes one complete frame.
func UnmarshalFrame(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, errors.New("btp: truncated header")
	}
	h := Header{
		Service: b[0],
		Opcode:  b[1],
		Index:   b[2],
		Len:     binary.LittleEndian.Uint16(b[3:]),
	}
	payload := b[HeaderSize:]
	if int(h.Len) != len(payload) {
		return Frame{}, fmt.Errorf("btp: header length %d does not match payload of %d bytes", h.Len, len(payload))
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	return Frame{Header: h, Data: data}, nil
}
