package tropic01

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameCorrupt is returned when a frame fails its CRC or length checks.
	ErrFrameCorrupt = errors.New("frame corrupt")
	// ErrHandshakeFailed is returned when the chip cannot be authenticated
	// during session establishment.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrAuthenticationFailed is returned when an encrypted command or response
	// does not verify. The session is aborted.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrSessionBusy is returned when a handshake is already in flight.
	ErrSessionBusy = errors.New("session busy")
	// ErrNoSession is returned when an encrypted command needs an established session.
	ErrNoSession = errors.New("no secure session")
	// ErrChipAlarm is returned when the chip reports the ALARM bit.
	ErrChipAlarm = errors.New("chip in alarm mode")
	// ErrChipBusy is returned when the chip did not become ready within the
	// configured number of polls.
	ErrChipBusy = errors.New("chip busy")
	// ErrNonceExhausted is returned when a session counter would wrap.
	ErrNonceExhausted = errors.New("session nonce exhausted")
	// ErrInvalidParameter is returned for out-of-range slots, sizes or ids.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrFirmwareTooNew is returned by Init when the application firmware is
	// newer than any constant set this package knows.
	ErrFirmwareTooNew = errors.New("application firmware too new")
	// ErrCertStoreInvalid is returned when the certificate store header is malformed.
	ErrCertStoreInvalid = errors.New("certificate store invalid")
)

// Status is the L2 status byte of a response frame.
type Status byte

const (
	StatusRequestOK  Status = 0x01 // request accepted (last chunk)
	StatusResultOK   Status = 0x02 // L3 result complete (last chunk)
	StatusRequestCon Status = 0x03 // request chunk accepted, more expected
	StatusResultCon  Status = 0x04 // L3 result chunk, more follow
	StatusHskErr     Status = 0x79 // handshake rejected
	StatusNoSession  Status = 0x7A // no secure session on chip side
	StatusTagErr     Status = 0x7B // L3 tag did not verify on chip side
	StatusCRCErr     Status = 0x7C // chip saw a CRC error in our frame
	StatusUnknownReq Status = 0x7E // unknown request id
	StatusGenErr     Status = 0x7F // generic error
	StatusNoResp     Status = 0xFF // nothing to read yet
)

func (s Status) String() string {
	switch s {
	case StatusRequestOK:
		return "request ok"
	case StatusResultOK:
		return "result ok"
	case StatusRequestCon:
		return "request continue"
	case StatusResultCon:
		return "result continue"
	case StatusHskErr:
		return "handshake error"
	case StatusNoSession:
		return "no session"
	case StatusTagErr:
		return "tag error"
	case StatusCRCErr:
		return "crc error"
	case StatusUnknownReq:
		return "unknown request"
	case StatusGenErr:
		return "generic error"
	case StatusNoResp:
		return "no response"
	default:
		return "unrecognized status"
	}
}

// StatusError represents an unexpected L2 status returned by the chip.
type StatusError struct {
	Request byte   // L2 request id
	Status  Status // Status byte from the response frame
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request 0x%02X failed with status 0x%02X (%s)", e.Request, byte(e.Status), e.Status)
}

// Is maps chip-side statuses onto the package sentinels so callers can use
// errors.Is without inspecting the status byte.
func (e *StatusError) Is(target error) bool {
	switch e.Status {
	case StatusTagErr:
		return target == ErrAuthenticationFailed
	case StatusNoSession:
		return target == ErrNoSession
	case StatusHskErr:
		return target == ErrHandshakeFailed
	}
	return false
}

// IsStatus reports whether err carries the given L2 status.
func IsStatus(err error, status Status) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == status
	}
	return false
}

// TransportError represents a fault on the physical link.
type TransportError struct {
	Op    string // "csn-low", "transfer", "csn-high", "dial", ...
	Cause error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransportError checks if an error originated on the physical link.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// HandshakeError represents a session establishment failure at a specific step.
type HandshakeError struct {
	Step  string // "request", "response", "verify"
	Slot  PairingSlot
	Cause error
}

func (e *HandshakeError) Error() string {
	if e == nil {
		return "handshake error"
	}
	return fmt.Sprintf("handshake %s on pairing slot %d failed: %v", e.Step, e.Slot, e.Cause)
}

func (e *HandshakeError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrHandshakeFailed, e.Cause}
}

// ClassifyHandshakeError extracts details from a HandshakeError.
func ClassifyHandshakeError(err error) (step string, slot PairingSlot, ok bool) {
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.Step, he.Slot, true
	}
	return "", 0, false
}
