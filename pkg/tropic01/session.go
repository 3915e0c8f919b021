package tropic01

import (
	"crypto/cipher"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// SessionState is the lifecycle state of the secure channel.
type SessionState int

const (
	SessionUninitialized SessionState = iota
	SessionHandshaking
	SessionEstablished
	SessionAborted
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionHandshaking:
		return "handshaking"
	case SessionEstablished:
		return "established"
	case SessionAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state %d", int(s))
	}
}

// Session holds the transport keys and per-direction counters of one secure
// channel. Counters advance only after a successful transmit (send) or a
// verified decrypt (receive).
type Session struct {
	mu      sync.Mutex
	state   SessionState
	slot    PairingSlot
	encrypt cipher.AEAD
	decrypt cipher.AEAD
	sendCtr uint32
	recvCtr uint32

	handshaking atomic.Bool
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Slot returns the pairing slot the session was established with.
func (s *Session) Slot() PairingSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

// Counters returns the next send and receive counter values.
func (s *Session) Counters() (send, recv uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCtr, s.recvCtr
}

// beginHandshake claims the session for a handshake. A second caller gets
// ErrSessionBusy until endHandshake runs.
func (s *Session) beginHandshake() error {
	if !s.handshaking.CompareAndSwap(false, true) {
		return ErrSessionBusy
	}
	s.mu.Lock()
	s.state = SessionHandshaking
	s.wipeLocked()
	s.mu.Unlock()
	return nil
}

func (s *Session) endHandshake() {
	s.handshaking.Store(false)
}

func (s *Session) establish(slot PairingSlot, keys *SessionKeys) error {
	enc, err := NewAEAD(keys.Cmd)
	if err != nil {
		return err
	}
	dec, err := NewAEAD(keys.Res)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionEstablished
	s.slot = slot
	s.encrypt = enc
	s.decrypt = dec
	s.sendCtr = 0
	s.recvCtr = 0
	return nil
}

// abort discards the keys; a fresh handshake is required.
func (s *Session) abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionAborted {
		slog.Info("secure session aborted", "reason", reason)
	}
	s.state = SessionAborted
	s.wipeLocked()
}

// reset returns to Uninitialized after sleep or startup.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionUninitialized
	s.wipeLocked()
}

func (s *Session) wipeLocked() {
	s.encrypt = nil
	s.decrypt = nil
	s.sendCtr = 0
	s.recvCtr = 0
}

// seal encrypts an L3 plaintext under the current send counter without
// advancing it.
func (s *Session) seal(plaintext []byte) ([]byte, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionEstablished {
		return nil, 0, ErrNoSession
	}
	if s.sendCtr == math.MaxUint32 {
		return nil, 0, ErrNonceExhausted
	}
	frame, err := SealEnvelope(s.encrypt, s.sendCtr, plaintext)
	return frame, s.sendCtr, err
}

// commitSend advances the send counter once the chip accepted the command.
func (s *Session) commitSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCtr++
}

// open verifies and decrypts an L3 response under the receive counter. The
// counter advances only on success; a failure aborts the session.
func (s *Session) open(frame []byte) ([]byte, error) {
	s.mu.Lock()
	if s.state != SessionEstablished {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	plaintext, err := OpenEnvelope(s.decrypt, s.recvCtr, frame)
	if err == nil {
		s.recvCtr++
	}
	s.mu.Unlock()
	if err != nil {
		s.abort("response did not verify")
		return nil, err
	}
	return plaintext, nil
}
