package main

import (
	"crypto/ecdh"
	"fmt"
	"log/slog"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// slotInfo is what Pairing_Key_Read reports for one slot.
type slotInfo struct {
	slot   tropic01.PairingSlot
	result tropic01.Result
	pub    []byte
}

func (s slotInfo) status() string {
	switch s.result {
	case tropic01.ResultOK:
		return "written " + hexUpper(s.pub[:8]) + "..."
	case tropic01.ResultSlotEmpty:
		return "empty"
	case tropic01.ResultSlotInvalid:
		return "invalidated"
	default:
		return s.result.String()
	}
}

// readSlots reads all pairing slots through the open session.
func readSlots(dev *tropic01.Device) ([]slotInfo, error) {
	var out []slotInfo
	for slot := tropic01.PairingSlot(0); slot <= tropic01.PairingSlotMax; slot++ {
		resp, err := dev.PairingKeyRead(slot)
		if err != nil {
			return nil, fmt.Errorf("read pairing slot %d: %w", slot, err)
		}
		out = append(out, slotInfo{slot: slot, result: resp.Result, pub: resp.PublicKey})
	}
	return out, nil
}

// swapPairingKey registers newKey in its slot, proves it with a fresh
// handshake and, when asked, invalidates the slot of the old key. The
// device must hold a session opened with oldKey.
//
// Steps:
//  1. Pairing_Key_Write of SHiPUB into newKey.Slot
//  2. Handshake on newKey.Slot with newKey
//  3. Pairing_Key_Invalidate of oldKey.Slot (optional, through the new session)
func swapPairingKey(dev *tropic01.Device, stpub *ecdh.PublicKey, oldKey, newKey *tropic01.PairingKey, invalidateOld bool) error {
	if invalidateOld && oldKey.Slot == newKey.Slot {
		return fmt.Errorf("cannot invalidate slot %d, it is the target slot", oldKey.Slot)
	}

	// 1) Register the new key
	r, err := dev.PairingKeyWrite(newKey.Slot, newKey.PublicKey())
	if err != nil {
		return fmt.Errorf("write pairing slot %d: %w", newKey.Slot, err)
	}
	if !r.OK() {
		return fmt.Errorf("write pairing slot %d: chip answered %s", newKey.Slot, r)
	}

	// 2) Prove it
	if err := dev.StartSession(stpub, newKey); err != nil {
		return fmt.Errorf("handshake on slot %d with the new key: %w", newKey.Slot, err)
	}
	slog.Info("new pairing key verified", "slot", newKey.Slot)

	// 3) Retire the old slot
	if !invalidateOld {
		return nil
	}
	r, err = dev.PairingKeyInvalidate(oldKey.Slot)
	if err != nil {
		return fmt.Errorf("invalidate pairing slot %d: %w", oldKey.Slot, err)
	}
	if !r.OK() {
		return fmt.Errorf("invalidate pairing slot %d: chip answered %s", oldKey.Slot, r)
	}
	slog.Info("old pairing slot invalidated", "slot", oldKey.Slot)
	return nil
}
