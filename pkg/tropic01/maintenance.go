package tropic01

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"
)

// Sleep kinds for the SLEEP request.
const (
	SleepKindSleep     byte = 0x05
	SleepKindDeepSleep byte = 0x0A
)

// Startup ids for the STARTUP request.
const (
	StartupReboot            byte = 0x01
	StartupMaintenanceReboot byte = 0x03
)

// RebootDelay is how long the chip needs after STARTUP before it answers again.
const RebootDelay = 100 * time.Millisecond

const (
	// fwUpdateHeaderSize is the ACAB update request: signature, first chunk
	// hash, type, padding, header version and firmware version.
	fwUpdateHeaderSize = 64 + 32 + 2 + 1 + 1 + 4
	// fwChunkHeaderSize prefixes every ACAB data chunk: hash of the next chunk and offset.
	fwChunkHeaderSize = 32 + 2
	// fwABABChunk is the data carried by one ABAB update request.
	fwABABChunk = 128
)

// Sleep puts the chip to sleep. The secure session does not survive it.
func (d *Device) Sleep(kind byte) error {
	if kind != SleepKindSleep && kind != SleepKindDeepSleep {
		return fmt.Errorf("%w: sleep kind 0x%02X", ErrInvalidParameter, kind)
	}
	if _, err := d.request(Request{ID: ReqSleep, Data: []byte{kind}}, StatusRequestOK); err != nil {
		return err
	}
	d.resetSession("sleep")
	return nil
}

// Reboot restarts the chip into the application (StartupReboot) or the
// bootloader (StartupMaintenanceReboot), waits RebootDelay and refreshes
// the mode. The secure session does not survive it.
func (d *Device) Reboot(startupID byte) error {
	if startupID != StartupReboot && startupID != StartupMaintenanceReboot {
		return fmt.Errorf("%w: startup id 0x%02X", ErrInvalidParameter, startupID)
	}
	if _, err := d.request(Request{ID: ReqStartup, Data: []byte{startupID}}, StatusRequestOK); err != nil {
		return err
	}
	d.resetSession("startup")
	if err := d.link.port.Delay(RebootDelay); err != nil {
		return &TransportError{Op: "delay", Cause: err}
	}
	mode, err := d.RefreshMode()
	if err != nil {
		return err
	}
	slog.Info("chip rebooted", "mode", mode.String())
	return nil
}

func (d *Device) resetSession(reason string) {
	if d.session.State() == SessionEstablished {
		slog.Info("secure session reset", "reason", reason)
	}
	d.session.reset()
	d.cfg.metrics.ObserveSession("reset")
}

// GetLog returns the chip's RISC-V firmware log (possibly empty).
func (d *Device) GetLog() (string, error) {
	resp, err := d.request(Request{ID: ReqGetLog}, StatusRequestOK)
	if err != nil {
		return "", err
	}
	return string(resp.Data), nil
}

// Progress reports firmware update progress in bytes.
type Progress func(done, total int)

// EraseFirmwareBank erases one bank. ABAB silicon only; ACAB manages banks itself.
func (d *Device) EraseFirmwareBank(bank byte) error {
	if d.revision != RevisionABAB {
		return fmt.Errorf("%w: bank erase needs ABAB silicon, have %s", ErrInvalidParameter, d.revision)
	}
	if err := checkBank(bank); err != nil {
		return err
	}
	_, err := d.request(Request{ID: ReqMutableFwErase, Data: []byte{bank}}, StatusRequestOK)
	return err
}

// UpdateFirmware writes a mutable firmware image using the flow of the
// device's silicon revision. The chip must be in maintenance mode.
//
// Parameters:
//   - image: ABAB raw firmware, or an ACAB update file (length-prefixed header then chunks)
//   - bank: target bank (ignored on ACAB, the chip picks the bank)
//   - progress: optional callback
func (d *Device) UpdateFirmware(image []byte, bank byte, progress Progress) error {
	if len(image) == 0 || len(image) > d.revision.FirmwareUpdateMax() {
		return fmt.Errorf("%w: firmware image of %d bytes (max %d)", ErrInvalidParameter, len(image), d.revision.FirmwareUpdateMax())
	}
	if d.link.Mode() != ModeMaintenance {
		return fmt.Errorf("%w: firmware update needs maintenance mode", ErrInvalidParameter)
	}
	if progress == nil {
		progress = func(int, int) {}
	}
	switch d.revision {
	case RevisionABAB:
		return d.updateABAB(image, bank, progress)
	case RevisionACAB:
		return d.updateACAB(image, progress)
	default:
		return fmt.Errorf("%w: silicon revision unknown, run Init or configure it", ErrInvalidParameter)
	}
}

func (d *Device) updateABAB(image []byte, bank byte, progress Progress) error {
	if err := d.EraseFirmwareBank(bank); err != nil {
		return fmt.Errorf("erase bank %d: %w", bank, err)
	}
	for off := 0; off < len(image); off += fwABABChunk {
		end := min(off+fwABABChunk, len(image))
		data := make([]byte, 4, 4+end-off)
		binary.LittleEndian.PutUint16(data[0:2], uint16(bank))
		binary.LittleEndian.PutUint16(data[2:4], uint16(off))
		data = append(data, image[off:end]...)
		if _, err := d.request(Request{ID: ReqMutableFwUpdateData, Data: data}, StatusRequestOK); err != nil {
			return fmt.Errorf("firmware chunk at %d: %w", off, err)
		}
		progress(end, len(image))
	}
	slog.Info("firmware written", "bank", bank, "bytes", len(image))
	return nil
}

// updateACAB walks the update file: a length byte then a record, first the
// signed header, then the data chunks.
func (d *Device) updateACAB(image []byte, progress Progress) error {
	records, err := splitUpdateRecords(image)
	if err != nil {
		return err
	}
	if len(records[0]) != fwUpdateHeaderSize {
		return fmt.Errorf("%w: update header of %d bytes", ErrInvalidParameter, len(records[0]))
	}
	if _, err := d.request(Request{ID: ReqMutableFwUpdate, Data: records[0]}, StatusRequestOK); err != nil {
		return fmt.Errorf("firmware update header: %w", err)
	}
	done := 1 + len(records[0])
	progress(done, len(image))
	for i, rec := range records[1:] {
		if len(rec) <= fwChunkHeaderSize {
			return fmt.Errorf("%w: update chunk %d of %d bytes", ErrInvalidParameter, i, len(rec))
		}
		if _, err := d.request(Request{ID: ReqMutableFwUpdateData, Data: rec}, StatusRequestOK); err != nil {
			return fmt.Errorf("firmware chunk %d: %w", i, err)
		}
		done += 1 + len(rec)
		progress(done, len(image))
	}
	slog.Info("firmware written", "chunks", len(records)-1, "bytes", len(image))
	return nil
}

func splitUpdateRecords(image []byte) ([][]byte, error) {
	var out [][]byte
	for off := 0; off < len(image); {
		n := int(image[off])
		if n == 0 || off+1+n > len(image) {
			return nil, fmt.Errorf("%w: update record at %d overruns the image", ErrInvalidParameter, off)
		}
		out = append(out, image[off+1:off+1+n])
		off += 1 + n
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("%w: update file has no data chunks", ErrInvalidParameter)
	}
	return out, nil
}

func checkBank(bank byte) error {
	switch bank {
	case BankFW1, BankFW2, BankSPECT1, BankSPECT2:
		return nil
	}
	return fmt.Errorf("%w: unknown firmware bank %d", ErrInvalidParameter, bank)
}
