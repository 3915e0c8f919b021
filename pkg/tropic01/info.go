package tropic01

import (
	"encoding/binary"
	"fmt"
)

// GET_INFO object ids.
const (
	InfoCertStore      byte = 0x00
	InfoChipID         byte = 0x01
	InfoRISCVFwVersion byte = 0x02
	InfoSPECTFwVersion byte = 0x04
	InfoFwBank         byte = 0xB0
)

// InfoBlockSize is the size of one certificate store block.
const InfoBlockSize = 128

// ChipIDSize is the length of the CHIP_ID object.
const ChipIDSize = 128

// Firmware bank ids for InfoFwBank.
const (
	BankFW1    byte = 1
	BankFW2    byte = 2
	BankSPECT1 byte = 17
	BankSPECT2 byte = 18
)

// Bank header sizes per bootloader generation.
const (
	BankHeaderV1Size = 20
	BankHeaderV2Size = 52
)

// GetInfo reads one GET_INFO object (or one block of it).
func (d *Device) GetInfo(object, block byte) ([]byte, error) {
	resp, err := d.request(Request{ID: ReqGetInfo, Data: []byte{object, block}}, StatusRequestOK)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SerialNumber is the serial number block of the chip id.
type SerialNumber struct {
	SN      byte
	FabData [3]byte // fab id (12 bits) and part number id (12 bits)
	FabDate uint16  // days since an epoch chosen by the fab
	LotID   [5]byte
	WaferID byte
	X       uint16
	Y       uint16
}

func (s SerialNumber) String() string {
	return fmt.Sprintf("%02X-%s-%04X-%s-%02X-%d,%d", s.SN, hexUpper(s.FabData[:]), s.FabDate, hexUpper(s.LotID[:]), s.WaferID, s.X, s.Y)
}

// ChipID is the parsed CHIP_ID object.
type ChipID struct {
	Version          [4]byte  // chip id structure version
	FLChipInfo       [16]byte // factory level test info
	FuncTestInfo     [8]byte  // manufacturing level test info
	SiliconRev       [4]byte  // ASCII, e.g. "ACAB"
	PackageTypeID    uint16
	ProvVerFabIDPN   [4]byte // provisioning version, fab id and part number
	ProvisioningDate uint16
	HSMVersion       [4]byte
	ProgVersion      [4]byte
	SerialNumber     SerialNumber
	PartNumberData   [16]byte // length-prefixed ASCII part number
	ProvTemplateVer  [2]byte
	ProvTemplateTag  [4]byte
	ProvSpecVer      [2]byte
	ProvSpecTag      [4]byte
	BatchID          [5]byte
}

// ParseChipID decodes the 128-byte CHIP_ID object.
func ParseChipID(b []byte) (*ChipID, error) {
	if len(b) != ChipIDSize {
		return nil, fmt.Errorf("%w: chip id of %d bytes, want %d", ErrFrameCorrupt, len(b), ChipIDSize)
	}
	var c ChipID
	copy(c.Version[:], b[0:4])
	copy(c.FLChipInfo[:], b[4:20])
	copy(c.FuncTestInfo[:], b[20:28])
	copy(c.SiliconRev[:], b[28:32])
	c.PackageTypeID = binary.BigEndian.Uint16(b[32:34])
	// 34:36 reserved
	copy(c.ProvVerFabIDPN[:], b[36:40])
	c.ProvisioningDate = binary.BigEndian.Uint16(b[40:42])
	copy(c.HSMVersion[:], b[42:46])
	copy(c.ProgVersion[:], b[46:50])
	// 50:52 reserved
	sn := b[52:68]
	c.SerialNumber.SN = sn[0]
	copy(c.SerialNumber.FabData[:], sn[1:4])
	c.SerialNumber.FabDate = binary.BigEndian.Uint16(sn[4:6])
	copy(c.SerialNumber.LotID[:], sn[6:11])
	c.SerialNumber.WaferID = sn[11]
	c.SerialNumber.X = binary.BigEndian.Uint16(sn[12:14])
	c.SerialNumber.Y = binary.BigEndian.Uint16(sn[14:16])
	copy(c.PartNumberData[:], b[68:84])
	copy(c.ProvTemplateVer[:], b[84:86])
	copy(c.ProvTemplateTag[:], b[86:90])
	copy(c.ProvSpecVer[:], b[90:92])
	copy(c.ProvSpecTag[:], b[92:96])
	copy(c.BatchID[:], b[96:101])
	return &c, nil
}

// Bytes encodes the chip id back into its 128-byte wire form. Reserved
// bytes are zero.
func (c *ChipID) Bytes() []byte {
	b := make([]byte, ChipIDSize)
	copy(b[0:4], c.Version[:])
	copy(b[4:20], c.FLChipInfo[:])
	copy(b[20:28], c.FuncTestInfo[:])
	copy(b[28:32], c.SiliconRev[:])
	binary.BigEndian.PutUint16(b[32:34], c.PackageTypeID)
	copy(b[36:40], c.ProvVerFabIDPN[:])
	binary.BigEndian.PutUint16(b[40:42], c.ProvisioningDate)
	copy(b[42:46], c.HSMVersion[:])
	copy(b[46:50], c.ProgVersion[:])
	sn := b[52:68]
	sn[0] = c.SerialNumber.SN
	copy(sn[1:4], c.SerialNumber.FabData[:])
	binary.BigEndian.PutUint16(sn[4:6], c.SerialNumber.FabDate)
	copy(sn[6:11], c.SerialNumber.LotID[:])
	sn[11] = c.SerialNumber.WaferID
	binary.BigEndian.PutUint16(sn[12:14], c.SerialNumber.X)
	binary.BigEndian.PutUint16(sn[14:16], c.SerialNumber.Y)
	copy(b[68:84], c.PartNumberData[:])
	copy(b[84:86], c.ProvTemplateVer[:])
	copy(b[86:90], c.ProvTemplateTag[:])
	copy(b[90:92], c.ProvSpecVer[:])
	copy(b[92:96], c.ProvSpecTag[:])
	copy(b[96:101], c.BatchID[:])
	return b
}

// Revision maps the ASCII silicon revision to a Revision.
func (c *ChipID) Revision() Revision {
	r, err := ParseRevision(string(c.SiliconRev[:]))
	if err != nil {
		return RevisionUnknown
	}
	return r
}

// PartNumber returns the ASCII part number (first byte is its length).
func (c *ChipID) PartNumber() string {
	n := int(c.PartNumberData[0])
	if n == 0 || n > len(c.PartNumberData)-1 {
		return ""
	}
	return string(c.PartNumberData[1 : 1+n])
}

// GetChipID reads and parses the CHIP_ID object.
func (d *Device) GetChipID() (*ChipID, error) {
	b, err := d.GetInfo(InfoChipID, 0)
	if err != nil {
		return nil, err
	}
	return ParseChipID(b)
}

// FirmwareVersion is a RISC-V or SPECT firmware version. On the wire the
// bytes are build, patch, minor, major; in maintenance mode the RISC-V
// version is the bootloader's and has bit 7 of major set.
type FirmwareVersion struct {
	Major, Minor, Patch, Build byte
}

// ParseFirmwareVersion decodes the 4-byte version object.
func ParseFirmwareVersion(b []byte) (*FirmwareVersion, error) {
	if len(b) != 4 {
		return nil, fmt.Errorf("%w: firmware version of %d bytes", ErrFrameCorrupt, len(b))
	}
	return &FirmwareVersion{Major: b[3], Minor: b[2], Patch: b[1], Build: b[0]}, nil
}

// Bytes returns the wire form.
func (v FirmwareVersion) Bytes() []byte {
	return []byte{v.Build, v.Patch, v.Minor, v.Major}
}

// Bootloader reports whether the version was reported by the bootloader.
func (v FirmwareVersion) Bootloader() bool {
	return v.Major&0x80 != 0
}

// Compare orders versions by major, minor then patch. The build number is ignored.
func (v FirmwareVersion) Compare(o FirmwareVersion) int {
	for _, p := range [][2]byte{{v.Major & 0x7F, o.Major & 0x7F}, {v.Minor, o.Minor}, {v.Patch, o.Patch}} {
		switch {
		case p[0] < p[1]:
			return -1
		case p[0] > p[1]:
			return 1
		}
	}
	return 0
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d (+.%d)", v.Major&0x7F, v.Minor, v.Patch, v.Build)
}

// GetRISCVFirmwareVersion reads the RISC-V firmware version (bootloader
// version in maintenance mode).
func (d *Device) GetRISCVFirmwareVersion() (*FirmwareVersion, error) {
	b, err := d.GetInfo(InfoRISCVFwVersion, 0)
	if err != nil {
		return nil, err
	}
	return ParseFirmwareVersion(b)
}

// GetSPECTFirmwareVersion reads the SPECT coprocessor firmware version.
func (d *Device) GetSPECTFirmwareVersion() (*FirmwareVersion, error) {
	b, err := d.GetInfo(InfoSPECTFwVersion, 0)
	if err != nil {
		return nil, err
	}
	return ParseFirmwareVersion(b)
}

// BankHeader is a firmware bank header. Only the fields of the reported
// generation are set; an empty bank yields a zero header with Empty set.
type BankHeader struct {
	Bank          byte
	Empty         bool
	HeaderVersion int // 1 or 2
	Type          uint32
	Version       uint32
	Size          uint32
	GitHash       uint32
	Hash          []byte // 4 bytes in v1, 32 in v2
	PairVersion   uint32 // v2 only
}

// ParseBankHeader decodes a FW_BANK object of either generation.
func ParseBankHeader(bank byte, b []byte) (*BankHeader, error) {
	h := &BankHeader{Bank: bank}
	switch len(b) {
	case 0:
		h.Empty = true
	case BankHeaderV1Size:
		h.HeaderVersion = 1
		h.Type = binary.LittleEndian.Uint32(b[0:4])
		h.Version = binary.LittleEndian.Uint32(b[4:8])
		h.Size = binary.LittleEndian.Uint32(b[8:12])
		h.GitHash = binary.LittleEndian.Uint32(b[12:16])
		h.Hash = append([]byte(nil), b[16:20]...)
	case BankHeaderV2Size:
		h.HeaderVersion = int(b[3])
		h.Type = uint32(binary.LittleEndian.Uint16(b[0:2]))
		h.Version = binary.LittleEndian.Uint32(b[4:8])
		h.Size = binary.LittleEndian.Uint32(b[8:12])
		h.GitHash = binary.LittleEndian.Uint32(b[12:16])
		h.Hash = append([]byte(nil), b[16:48]...)
		h.PairVersion = binary.LittleEndian.Uint32(b[48:52])
	default:
		return nil, fmt.Errorf("%w: bank header of %d bytes", ErrFrameCorrupt, len(b))
	}
	return h, nil
}

// Bytes encodes the header in the layout of its generation; an empty bank
// encodes to nothing.
func (h *BankHeader) Bytes() []byte {
	switch {
	case h.Empty:
		return nil
	case h.HeaderVersion == 1:
		b := make([]byte, BankHeaderV1Size)
		binary.LittleEndian.PutUint32(b[0:4], h.Type)
		binary.LittleEndian.PutUint32(b[4:8], h.Version)
		binary.LittleEndian.PutUint32(b[8:12], h.Size)
		binary.LittleEndian.PutUint32(b[12:16], h.GitHash)
		copy(b[16:20], h.Hash)
		return b
	default:
		b := make([]byte, BankHeaderV2Size)
		binary.LittleEndian.PutUint16(b[0:2], uint16(h.Type))
		b[3] = byte(h.HeaderVersion)
		binary.LittleEndian.PutUint32(b[4:8], h.Version)
		binary.LittleEndian.PutUint32(b[8:12], h.Size)
		binary.LittleEndian.PutUint32(b[12:16], h.GitHash)
		copy(b[16:48], h.Hash)
		binary.LittleEndian.PutUint32(b[48:52], h.PairVersion)
		return b
	}
}

// GetBankHeader reads the header of one firmware bank. The chip serves bank
// headers in maintenance mode only.
func (d *Device) GetBankHeader(bank byte) (*BankHeader, error) {
	if err := checkBank(bank); err != nil {
		return nil, err
	}
	b, err := d.GetInfo(InfoFwBank, bank)
	if err != nil {
		return nil, err
	}
	return ParseBankHeader(bank, b)
}
