package tropic01

import (
	"fmt"
	"io"
)

// Package type ids in CHIP_ID.
const (
	PackageBareSilicon uint16 = 0x8000
	PackageQFN32       uint16 = 0x80AA
)

// Fab ids in CHIP_ID.
const (
	FabTropicSquareLab uint16 = 0xF00
	FabEPSBrno         uint16 = 0x001
)

func packageLabel(id uint16) string {
	switch id {
	case PackageBareSilicon:
		return "Bare silicon die"
	case PackageQFN32:
		return "QFN32, 4x4mm"
	default:
		return "N/A"
	}
}

func fabLabel(id uint16) string {
	switch id {
	case FabTropicSquareLab:
		return "Tropic Square Lab"
	case FabEPSBrno:
		return "EPS Global - Brno"
	default:
		return "N/A"
	}
}

func passLabel(b byte) string {
	if b == 0x01 {
		return "PASSED"
	}
	return "N/A"
}

// FabID extracts the 12-bit fab id from the provisioning field.
func (c *ChipID) FabID() uint16 {
	return (uint16(c.ProvVerFabIDPN[1])<<4 | uint16(c.ProvVerFabIDPN[2])>>4) & 0xFFF
}

// PartNumberID extracts the 12-bit part number id from the provisioning field.
func (c *ChipID) PartNumberID() uint16 {
	return (uint16(c.ProvVerFabIDPN[2])<<8 | uint16(c.ProvVerFabIDPN[3])) & 0xFFF
}

// PrintChipID writes the chip id in a human-readable format.
func PrintChipID(w io.Writer, c *ChipID) {
	fmt.Fprintf(w, "  CHIP_ID ver:        %s (v%d.%d.%d.%d)\n", hexUpper(c.Version[:]), c.Version[0], c.Version[1], c.Version[2], c.Version[3])
	fmt.Fprintf(w, "  FL_PROD_DATA:       %s (%s)\n", hexUpper(c.FLChipInfo[:]), passLabel(c.FLChipInfo[0]))
	fmt.Fprintf(w, "  MAN_FUNC_TEST:      %s (%s)\n", hexUpper(c.FuncTestInfo[:]), passLabel(c.FuncTestInfo[0]))
	fmt.Fprintf(w, "  Silicon rev:        %s (%s)\n", hexUpper(c.SiliconRev[:]), string(c.SiliconRev[:]))
	fmt.Fprintf(w, "  Package ID:         %04X (%s)\n", c.PackageTypeID, packageLabel(c.PackageTypeID))
	fmt.Fprintf(w, "  Prov info ver:      %02X (v%d)\n", c.ProvVerFabIDPN[0], c.ProvVerFabIDPN[0])
	fmt.Fprintf(w, "  Fab ID:             %03X (%s)\n", c.FabID(), fabLabel(c.FabID()))
	fmt.Fprintf(w, "  P/N ID (short):     %03X\n", c.PartNumberID())
	fmt.Fprintf(w, "  Prov date:          %04X\n", c.ProvisioningDate)
	fmt.Fprintf(w, "  HSM HW/FW/SW ver:   %s\n", hexUpper(c.HSMVersion[:]))
	fmt.Fprintf(w, "  Programmer ver:     %s\n", hexUpper(c.ProgVersion[:]))
	fmt.Fprintf(w, "  S/N:                %s\n", c.SerialNumber)
	if pn := c.PartNumber(); pn != "" {
		fmt.Fprintf(w, "  P/N (long):         %s\n", pn)
	} else {
		fmt.Fprintf(w, "  P/N (long):         N/A\n")
	}
	fmt.Fprintf(w, "  Prov template:      v%d.%d (tag %s)\n", c.ProvTemplateVer[0], c.ProvTemplateVer[1], hexUpper(c.ProvTemplateTag[:]))
	fmt.Fprintf(w, "  Prov spec:          v%d.%d (tag %s)\n", c.ProvSpecVer[0], c.ProvSpecVer[1], hexUpper(c.ProvSpecTag[:]))
	fmt.Fprintf(w, "  Batch ID:           %s\n", hexUpper(c.BatchID[:]))
}

func bankLabel(bank byte) string {
	switch bank {
	case BankFW1:
		return "Firmware bank 1"
	case BankFW2:
		return "Firmware bank 2"
	case BankSPECT1:
		return "SPECT bank 1"
	case BankSPECT2:
		return "SPECT bank 2"
	default:
		return fmt.Sprintf("Bank %d", bank)
	}
}

// PrintBankHeader writes a firmware bank header.
func PrintBankHeader(w io.Writer, h *BankHeader) {
	fmt.Fprintf(w, "  %s header:\n", bankLabel(h.Bank))
	if h.Empty {
		fmt.Fprintln(w, "    [empty]")
		return
	}
	fmt.Fprintf(w, "    Type:             %08X\n", h.Type)
	if h.HeaderVersion != 1 {
		fmt.Fprintf(w, "    Header version:   %02X\n", h.HeaderVersion)
	}
	fmt.Fprintf(w, "    Version:          %08X\n", h.Version)
	fmt.Fprintf(w, "    Size:             %08X\n", h.Size)
	fmt.Fprintf(w, "    Git hash:         %08X\n", h.GitHash)
	fmt.Fprintf(w, "    Hash:             %s\n", hexUpper(h.Hash))
	if h.HeaderVersion != 1 {
		fmt.Fprintf(w, "    Pair version:     %08X\n", h.PairVersion)
	}
}

// PrintSession writes the secure session state and counters.
func PrintSession(w io.Writer, s *Session) {
	send, recv := s.Counters()
	fmt.Fprintf(w, "  Session:            %s (slot %d, tx %d, rx %d)\n", s.State(), s.Slot(), send, recv)
}
