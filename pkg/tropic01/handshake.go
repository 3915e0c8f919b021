package tropic01

import (
	"crypto/ecdh"
	"crypto/subtle"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
)

// StartSession runs the Noise KK1 handshake against the chip's static key
// stpub using the host pairing key. Running it on an established session
// replaces the keys and resets both counters.
//
// Parameters:
//   - stpub: chip static X25519 public key (from the certificate store)
//   - key: host pairing key and the slot it is registered in
//
// Returns:
//   - nil once the session is Established
//   - ErrSessionBusy if another handshake is in flight
//   - *HandshakeError (errors.Is ErrHandshakeFailed) otherwise; the session is Aborted
func (d *Device) StartSession(stpub *ecdh.PublicKey, key *PairingKey) error {
	if key == nil || key.Private == nil || stpub == nil {
		return fmt.Errorf("%w: pairing key and chip public key are required", ErrInvalidParameter)
	}
	if key.Slot > PairingSlotMax {
		return fmt.Errorf("%w: pairing slot %d (max %d)", ErrInvalidParameter, key.Slot, PairingSlotMax)
	}
	if err := d.session.beginHandshake(); err != nil {
		return err
	}
	defer d.session.endHandshake()

	keys, err := d.handshake(stpub, key)
	if err != nil {
		d.session.abort("handshake failed")
		d.cfg.metrics.ObserveSession("failed")
		return err
	}
	if err := d.session.establish(key.Slot, keys); err != nil {
		d.session.abort("key setup failed")
		d.cfg.metrics.ObserveSession("failed")
		return &HandshakeError{Step: "keys", Slot: key.Slot, Cause: err}
	}
	d.cfg.metrics.ObserveSession("established")
	slog.Info("secure session established", "slot", key.Slot)
	return nil
}

func (d *Device) handshake(stpub *ecdh.PublicKey, key *PairingKey) (*SessionKeys, error) {
	slot := key.Slot
	eh, err := ecdh.X25519().GenerateKey(d.cfg.rand)
	if err != nil {
		return nil, &HandshakeError{Step: "keygen", Slot: slot, Cause: err}
	}
	ehpub := eh.PublicKey().Bytes()

	req := make([]byte, 0, KeySize+1)
	req = append(req, ehpub...)
	req = append(req, byte(slot))
	resp, err := d.request(Request{ID: ReqHandshake, Data: req}, StatusRequestOK)
	if err != nil {
		return nil, &HandshakeError{Step: "request", Slot: slot, Cause: err}
	}
	if len(resp.Data) != KeySize+TagSize {
		return nil, &HandshakeError{Step: "response", Slot: slot,
			Cause: fmt.Errorf("%w: handshake response of %d bytes", ErrFrameCorrupt, len(resp.Data))}
	}
	etpub, err := ecdh.X25519().NewPublicKey(resp.Data[:KeySize])
	if err != nil {
		return nil, &HandshakeError{Step: "response", Slot: slot, Cause: err}
	}

	ee, err := X25519(eh, etpub)
	if err != nil {
		return nil, &HandshakeError{Step: "response", Slot: slot, Cause: err}
	}
	se, err := X25519(key.Private, etpub)
	if err != nil {
		return nil, &HandshakeError{Step: "response", Slot: slot, Cause: err}
	}
	es, err := X25519(eh, stpub)
	if err != nil {
		return nil, &HandshakeError{Step: "response", Slot: slot, Cause: err}
	}
	keys, err := KeySchedule(ee, se, es)
	if err != nil {
		return nil, &HandshakeError{Step: "keys", Slot: slot, Cause: err}
	}

	h := TranscriptHash(key.Private.PublicKey().Bytes(), stpub.Bytes(), ehpub, slot, etpub.Bytes())
	tag, err := HandshakeTag(keys.Auth, h)
	if err != nil {
		return nil, &HandshakeError{Step: "verify", Slot: slot, Cause: err}
	}
	if subtle.ConstantTimeCompare(tag, resp.Data[KeySize:]) != 1 {
		slog.Debug("handshake tag mismatch", "slot", slot, "got", hexUpper(resp.Data[KeySize:]))
		return nil, &HandshakeError{Step: "verify", Slot: slot, Cause: errors.New("chip authentication tag mismatch")}
	}
	return keys, nil
}

// VerifyChipAndStartSession reads the certificate store, verifies the chain
// against roots (skipped when roots is nil), extracts the chip static key
// and starts a session with it.
func (d *Device) VerifyChipAndStartSession(roots *x509.CertPool, key *PairingKey) error {
	store, err := d.GetCertStore()
	if err != nil {
		return err
	}
	if roots != nil {
		if err := store.Verify(roots); err != nil {
			return err
		}
	}
	stpub, err := store.StaticPublicKey()
	if err != nil {
		return err
	}
	return d.StartSession(stpub, key)
}

// AbortSession asks the chip to drop the secure session and marks the local
// session Aborted whatever the chip answers.
func (d *Device) AbortSession() error {
	_, err := d.request(Request{ID: ReqEncryptedSessionAbt}, StatusRequestOK)
	d.session.abort("requested")
	d.cfg.metrics.ObserveSession("aborted")
	return err
}
