package tropic01

import (
	"encoding/binary"
	"fmt"
)

// L2 request ids.
const (
	ReqGetInfo             byte = 0x01
	ReqHandshake           byte = 0x02
	ReqEncryptedCmd        byte = 0x04
	ReqEncryptedSessionAbt byte = 0x08
	ReqResend              byte = 0x10
	ReqSleep               byte = 0x20
	ReqGetLog              byte = 0xA2
	ReqMutableFwUpdate     byte = 0xB0
	ReqMutableFwUpdateData byte = 0xB1
	ReqMutableFwErase      byte = 0xB2
	ReqStartup             byte = 0xB3
)

// GetResponse is the first byte clocked out on an L1 read.
const GetResponse byte = 0xAA

// ChunkSize is the largest data field a single L2 frame carries.
const ChunkSize = 252

// MaxFrameSize is the largest L1 transfer: chip status, status, length, data and CRC.
const MaxFrameSize = 1 + 1 + 1 + ChunkSize + 2

// Chip status bits, first byte of every L1 read.
const (
	ChipStatusReady   byte = 0x01
	ChipStatusAlarm   byte = 0x02
	ChipStatusStartup byte = 0x04
)

// requestShape bounds the data field of a request frame.
type requestShape struct {
	name     string
	min, max int
}

// requestShapes is shared by the host encoder and the chip model decoder.
// MUTABLE_FW_UPDATE(+DATA) bounds cover both silicon revisions.
var requestShapes = map[byte]requestShape{
	ReqGetInfo:             {name: "GET_INFO", min: 2, max: 2},
	ReqHandshake:           {name: "HANDSHAKE", min: 33, max: 33},
	ReqEncryptedCmd:        {name: "ENCRYPTED_CMD", min: 1, max: ChunkSize},
	ReqEncryptedSessionAbt: {name: "ENCRYPTED_SESSION_ABT", min: 0, max: 0},
	ReqResend:              {name: "RESEND", min: 0, max: 0},
	ReqSleep:               {name: "SLEEP", min: 1, max: 1},
	ReqGetLog:              {name: "GET_LOG", min: 0, max: 0},
	ReqMutableFwUpdate:     {name: "MUTABLE_FW_UPDATE", min: fwUpdateHeaderSize, max: fwUpdateHeaderSize},
	ReqMutableFwUpdateData: {name: "MUTABLE_FW_UPDATE_DATA", min: 4, max: ChunkSize},
	ReqMutableFwErase:      {name: "MUTABLE_FW_ERASE", min: 1, max: 1},
	ReqStartup:             {name: "STARTUP", min: 1, max: 1},
}

// RequestName returns the protocol name of an L2 request id.
func RequestName(id byte) string {
	if s, ok := requestShapes[id]; ok {
		return s.name
	}
	return fmt.Sprintf("REQ_0x%02X", id)
}

// Request is an L2 request frame without its CRC.
type Request struct {
	ID   byte
	Data []byte
}

// Response is an L2 response frame without its CRC.
type Response struct {
	ChipStatus byte
	Status     Status
	Data       []byte
}

// EncodeRequest serializes a request frame: id, length, data, CRC16 (LE).
//
// Returns:
//   - Frame bytes ready for an L1 write
//   - ErrInvalidParameter if the data length is outside the request's bounds
func EncodeRequest(req Request) ([]byte, error) {
	if err := CheckRequestShape(req.ID, len(req.Data)); err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 2+len(req.Data)+2)
	frame = append(frame, req.ID, byte(len(req.Data)))
	frame = append(frame, req.Data...)
	return binary.LittleEndian.AppendUint16(frame, CRC16(frame)), nil
}

// DecodeRequest parses a request frame and verifies its CRC. Used by the chip side.
func DecodeRequest(frame []byte) (Request, error) {
	if len(frame) < 4 {
		return Request{}, fmt.Errorf("%w: request too short (%d bytes)", ErrFrameCorrupt, len(frame))
	}
	n := int(frame[1])
	if len(frame) != 2+n+2 {
		return Request{}, fmt.Errorf("%w: request length %d does not match frame size %d", ErrFrameCorrupt, n, len(frame))
	}
	want := binary.LittleEndian.Uint16(frame[2+n:])
	if got := CRC16(frame[:2+n]); got != want {
		return Request{}, fmt.Errorf("%w: request crc %04X, computed %04X", ErrFrameCorrupt, want, got)
	}
	data := make([]byte, n)
	copy(data, frame[2:2+n])
	return Request{ID: frame[0], Data: data}, nil
}

// EncodeResponse serializes a response frame: chip status, status, length, data, CRC16 (LE).
// The CRC covers status, length and data.
func EncodeResponse(resp Response) ([]byte, error) {
	if len(resp.Data) > ChunkSize {
		return nil, fmt.Errorf("%w: response data %d exceeds %d", ErrInvalidParameter, len(resp.Data), ChunkSize)
	}
	frame := make([]byte, 0, 3+len(resp.Data)+2)
	frame = append(frame, resp.ChipStatus, byte(resp.Status), byte(len(resp.Data)))
	frame = append(frame, resp.Data...)
	return binary.LittleEndian.AppendUint16(frame, CRC16(frame[1:])), nil
}

// DecodeResponse parses a response frame read over L1 and verifies its CRC.
// A CRC mismatch is reported as ErrFrameCorrupt; the caller decides whether
// to request a RESEND.
func DecodeResponse(frame []byte) (*Response, error) {
	if len(frame) < 5 {
		return nil, fmt.Errorf("%w: response too short (%d bytes)", ErrFrameCorrupt, len(frame))
	}
	n := int(frame[2])
	if n > ChunkSize || len(frame) != 3+n+2 {
		return nil, fmt.Errorf("%w: response length %d does not match frame size %d", ErrFrameCorrupt, n, len(frame))
	}
	want := binary.LittleEndian.Uint16(frame[3+n:])
	if got := CRC16(frame[1 : 3+n]); got != want {
		return nil, fmt.Errorf("%w: response crc %04X, computed %04X", ErrFrameCorrupt, want, got)
	}
	data := make([]byte, n)
	copy(data, frame[3:3+n])
	return &Response{ChipStatus: frame[0], Status: Status(frame[1]), Data: data}, nil
}

// CheckRequestShape reports whether n data bytes fit request id. Unknown
// ids are only held to ChunkSize.
func CheckRequestShape(id byte, n int) error {
	if n > ChunkSize {
		return fmt.Errorf("%w: %s data %d exceeds %d", ErrInvalidParameter, RequestName(id), n, ChunkSize)
	}
	s, ok := requestShapes[id]
	if !ok {
		return nil
	}
	if n < s.min || n > s.max {
		return fmt.Errorf("%w: %s data length %d outside %d..%d", ErrInvalidParameter, s.name, n, s.min, s.max)
	}
	return nil
}
