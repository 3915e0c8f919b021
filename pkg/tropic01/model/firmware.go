package model

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// Firmware types carried in ACAB update headers and bank headers.
const (
	FwTypeRISCV uint16 = 1
	FwTypeSPECT uint16 = 2
)

// Update file layout.
const (
	updateHeaderSize = 64 + 32 + 2 + 1 + 1 + 4
	updateChunkHead  = 32 + 2
	// UpdateChunkMax is the most firmware bytes one update record carries.
	UpdateChunkMax = 255 - updateChunkHead
)

type bank struct {
	header *tropic01.BankHeader
	data   []byte
}

// acabUpdate tracks a signed update between its header and last chunk.
type acabUpdate struct {
	bank    byte
	fwType  uint16
	hdrVer  byte
	version uint32
	expect  []byte // hash of the next record
	data    []byte
}

// installFirmware fills the first bank of each pair with the running
// firmware and leaves the second empty.
func (c *Chip) installFirmware() {
	hdr := func(bank byte, fwType uint16, v tropic01.FirmwareVersion) *tropic01.BankHeader {
		image := derive(c.seed, fmt.Sprintf("firmware-%d", bank))
		sum := sha256.Sum256(image)
		h := &tropic01.BankHeader{
			Bank:    bank,
			Type:    uint32(fwType),
			Version: binary.LittleEndian.Uint32(v.Bytes()),
			Size:    uint32(len(image)),
			GitHash: binary.LittleEndian.Uint32(sum[:4]),
		}
		if c.rev == tropic01.RevisionABAB {
			h.HeaderVersion = 1
			h.Hash = sum[:4]
		} else {
			h.HeaderVersion = 2
			h.Hash = sum[:]
		}
		return h
	}
	c.banks[tropic01.BankFW1] = &bank{header: hdr(tropic01.BankFW1, FwTypeRISCV, c.appFw)}
	c.banks[tropic01.BankSPECT1] = &bank{header: hdr(tropic01.BankSPECT1, FwTypeSPECT, c.spectFw)}
	for _, b := range []byte{tropic01.BankFW2, tropic01.BankSPECT2} {
		c.banks[b] = &bank{header: &tropic01.BankHeader{Bank: b, Empty: true}}
	}
}

// firmwareRequest runs the mutable firmware requests of the chip's
// silicon revision. Any failure aborts an update in progress.
func (c *Chip) firmwareRequest(req tropic01.Request) {
	var err error
	switch {
	case c.rev == tropic01.RevisionABAB && req.ID == tropic01.ReqMutableFwErase:
		err = c.eraseBank(req.Data[0])
	case c.rev == tropic01.RevisionABAB && req.ID == tropic01.ReqMutableFwUpdateData:
		err = c.writeABAB(req.Data)
	case c.rev == tropic01.RevisionACAB && req.ID == tropic01.ReqMutableFwUpdate:
		err = c.beginACAB(req.Data)
	case c.rev == tropic01.RevisionACAB && req.ID == tropic01.ReqMutableFwUpdateData:
		err = c.writeACAB(req.Data)
	default:
		c.respond(tropic01.StatusUnknownReq, nil)
		return
	}
	if err != nil {
		c.update = nil
		c.logf("%s: %v", tropic01.RequestName(req.ID), err)
		c.respond(tropic01.StatusGenErr, nil)
		return
	}
	c.respond(tropic01.StatusRequestOK, nil)
}

func (c *Chip) eraseBank(id byte) error {
	if _, ok := c.banks[id]; !ok {
		return fmt.Errorf("no bank %d", id)
	}
	c.banks[id] = &bank{header: &tropic01.BankHeader{Bank: id, Empty: true}}
	c.logf("bank %d erased", id)
	return nil
}

// writeABAB appends one chunk (bank, offset, data) to an erased bank.
// Offsets must be sequential.
func (c *Chip) writeABAB(data []byte) error {
	id := byte(binary.LittleEndian.Uint16(data[0:2]))
	off := int(binary.LittleEndian.Uint16(data[2:4]))
	b, ok := c.banks[id]
	if !ok {
		return fmt.Errorf("no bank %d", id)
	}
	if off == 0 && !b.header.Empty {
		return fmt.Errorf("bank %d not erased", id)
	}
	if off != len(b.data) {
		return fmt.Errorf("offset %d, bank holds %d bytes", off, len(b.data))
	}
	if off+len(data)-4 > c.rev.FirmwareUpdateMax() {
		return errors.New("image exceeds the bank")
	}
	b.data = append(b.data, data[4:]...)
	sum := sha256.Sum256(b.data)
	fwType := FwTypeRISCV
	if id == tropic01.BankSPECT1 || id == tropic01.BankSPECT2 {
		fwType = FwTypeSPECT
	}
	b.header = &tropic01.BankHeader{
		Bank:          id,
		HeaderVersion: 1,
		Type:          uint32(fwType),
		Size:          uint32(len(b.data)),
		GitHash:       binary.LittleEndian.Uint32(sum[:4]),
		Hash:          sum[:4],
	}
	return nil
}

// beginACAB verifies the signed update header and picks the target bank:
// the one of the pair not holding the newer firmware.
func (c *Chip) beginACAB(h []byte) error {
	if !ed25519.Verify(c.updateKey, h[64:], h[:64]) {
		return errors.New("update header signature invalid")
	}
	u := &acabUpdate{
		expect:  append([]byte(nil), h[64:96]...),
		fwType:  binary.LittleEndian.Uint16(h[96:98]),
		hdrVer:  h[99],
		version: binary.LittleEndian.Uint32(h[100:104]),
	}
	var pair [2]byte
	switch u.fwType {
	case FwTypeRISCV:
		pair = [2]byte{tropic01.BankFW1, tropic01.BankFW2}
	case FwTypeSPECT:
		pair = [2]byte{tropic01.BankSPECT1, tropic01.BankSPECT2}
	default:
		return fmt.Errorf("firmware type %d", u.fwType)
	}
	a, b := c.banks[pair[0]].header, c.banks[pair[1]].header
	u.bank = pair[1]
	if a.Empty || (!b.Empty && b.Version > a.Version) {
		u.bank = pair[0]
	}
	c.banks[u.bank] = &bank{header: &tropic01.BankHeader{Bank: u.bank, Empty: true}}
	c.update = u
	c.logf("firmware update into bank %d", u.bank)
	return nil
}

// writeACAB checks one record against the hash chain and appends its data.
// A zero next-hash closes the update.
func (c *Chip) writeACAB(rec []byte) error {
	u := c.update
	if u == nil {
		return errors.New("no update in progress")
	}
	if len(rec) <= updateChunkHead {
		return fmt.Errorf("record of %d bytes", len(rec))
	}
	sum := sha256.Sum256(rec)
	if !bytes.Equal(sum[:], u.expect) {
		return errors.New("record hash does not match the chain")
	}
	if off := int(binary.LittleEndian.Uint16(rec[32:34])); off != len(u.data) {
		return fmt.Errorf("offset %d, update holds %d bytes", off, len(u.data))
	}
	u.data = append(u.data, rec[updateChunkHead:]...)
	u.expect = append(u.expect[:0], rec[:32]...)
	if !bytes.Equal(u.expect, make([]byte, 32)) {
		return nil
	}

	image := sha256.Sum256(u.data)
	c.banks[u.bank] = &bank{
		data: u.data,
		header: &tropic01.BankHeader{
			Bank:          u.bank,
			HeaderVersion: int(u.hdrVer),
			Type:          uint32(u.fwType),
			Version:       u.version,
			Size:          uint32(len(u.data)),
			GitHash:       binary.LittleEndian.Uint32(image[:4]),
			Hash:          image[:],
		},
	}
	if u.fwType == FwTypeRISCV {
		v, _ := tropic01.ParseFirmwareVersion(binary.LittleEndian.AppendUint32(nil, u.version))
		c.pendingApp = v
	}
	c.logf("firmware update into bank %d complete, %d bytes", u.bank, len(u.data))
	c.update = nil
	return nil
}

// BuildACABImage packs firmware into a signed update file: a length byte
// before each record, the header record first, then data records chained
// by the hash of their successor.
//
// Parameters:
//   - signer: key whose public half the chip trusts (Identity.UpdateKey for the model)
//   - fwType: FwTypeRISCV or FwTypeSPECT
//   - version: firmware version written into the bank header
//   - fw: the firmware image
func BuildACABImage(signer ed25519.PrivateKey, fwType uint16, version tropic01.FirmwareVersion, fw []byte) ([]byte, error) {
	if len(fw) == 0 {
		return nil, fmt.Errorf("%w: empty firmware", tropic01.ErrInvalidParameter)
	}
	var records [][]byte
	next := make([]byte, 32)
	last := (len(fw) - 1) / UpdateChunkMax * UpdateChunkMax
	for off := last; off >= 0; off -= UpdateChunkMax {
		end := min(off+UpdateChunkMax, len(fw))
		rec := make([]byte, 0, updateChunkHead+end-off)
		rec = append(rec, next...)
		rec = binary.LittleEndian.AppendUint16(rec, uint16(off))
		rec = append(rec, fw[off:end]...)
		sum := sha256.Sum256(rec)
		next = sum[:]
		records = append([][]byte{rec}, records...)
	}

	hdr := make([]byte, updateHeaderSize)
	copy(hdr[64:96], next)
	binary.LittleEndian.PutUint16(hdr[96:98], fwType)
	hdr[99] = 2
	copy(hdr[100:104], version.Bytes())
	copy(hdr[:64], ed25519.Sign(signer, hdr[64:]))

	out := []byte{byte(len(hdr))}
	out = append(out, hdr...)
	for _, rec := range records {
		out = append(out, byte(len(rec)))
		out = append(out, rec...)
	}
	if len(out) > tropic01.RevisionACAB.FirmwareUpdateMax() {
		return nil, fmt.Errorf("%w: update file of %d bytes exceeds %d", tropic01.ErrInvalidParameter, len(out), tropic01.RevisionACAB.FirmwareUpdateMax())
	}
	return out, nil
}
