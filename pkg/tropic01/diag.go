package tropic01

import "crypto/ecdh"

// PairingSlotResult holds the result of a handshake attempt for diagnostics.
type PairingSlotResult struct {
	Slot    PairingSlot // Pairing slot tried
	Success bool        // True if the handshake succeeded
	Step    string      // Handshake step where failure occurred
	Status  Status      // L2 status of the rejection, 0 if none
	Err     error       // Underlying error
}

// DiagnosePairingSlots attempts a handshake with one host private key on
// several pairing slots. This is useful to find which slot a key was
// provisioned in. A successful attempt leaves that session established
// until the next attempt replaces it; the last session is aborted before
// returning.
//
// Parameters:
//   - stpub: chip static public key
//   - priv: host X25519 private key to test
//   - slots: slot numbers to test (typically 0-3)
//
// Returns:
//   - Slice of PairingSlotResult, one per slot tested
func (d *Device) DiagnosePairingSlots(stpub *ecdh.PublicKey, priv *ecdh.PrivateKey, slots []PairingSlot) []PairingSlotResult {
	results := make([]PairingSlotResult, 0, len(slots))
	for _, slot := range slots {
		err := d.StartSession(stpub, &PairingKey{Slot: slot, Private: priv})
		result := PairingSlotResult{Slot: slot, Success: err == nil, Err: err}
		if err != nil {
			if step, _, ok := ClassifyHandshakeError(err); ok {
				result.Step = step
			}
			for _, st := range []Status{StatusHskErr, StatusGenErr, StatusCRCErr, StatusUnknownReq} {
				if IsStatus(err, st) {
					result.Status = st
				}
			}
		}
		results = append(results, result)
	}
	if d.session.State() == SessionEstablished {
		_ = d.AbortSession()
	}
	return results
}
