package tropic01

import "fmt"

// CommandID identifies an L3 command.
type CommandID byte

const (
	CmdPing                 CommandID = 0x01
	CmdPairingKeyWrite      CommandID = 0x10
	CmdPairingKeyRead       CommandID = 0x11
	CmdPairingKeyInvalidate CommandID = 0x12
	CmdRConfigWrite         CommandID = 0x20
	CmdRConfigRead          CommandID = 0x21
	CmdRConfigErase         CommandID = 0x22
	CmdIConfigWrite         CommandID = 0x30
	CmdIConfigRead          CommandID = 0x31
	CmdRMemDataWrite        CommandID = 0x40
	CmdRMemDataRead         CommandID = 0x41
	CmdRMemDataErase        CommandID = 0x42
	CmdRandomValueGet       CommandID = 0x50
	CmdECCKeyGenerate       CommandID = 0x60
	CmdECCKeyStore          CommandID = 0x61
	CmdECCKeyRead           CommandID = 0x62
	CmdECCKeyErase          CommandID = 0x63
	CmdECDSASign            CommandID = 0x70
	CmdEdDSASign            CommandID = 0x71
	CmdMCounterInit         CommandID = 0x80
	CmdMCounterUpdate       CommandID = 0x81
	CmdMCounterGet          CommandID = 0x82
	CmdMACAndDestroy        CommandID = 0x90
	CmdSerialCodeGet        CommandID = 0xA0
)

// Result is the first plaintext byte of every L3 response.
type Result byte

const (
	ResultOK             Result = 0xC3
	ResultFail           Result = 0x3C
	ResultUnauthorized   Result = 0x01
	ResultInvalidCmd     Result = 0x02
	ResultSlotNotEmpty   Result = 0x10
	ResultSlotExpired    Result = 0x11
	ResultInvalidKey     Result = 0x12
	ResultUpdateErr      Result = 0x13
	ResultCounterInvalid Result = 0x14
	ResultSlotEmpty      Result = 0x15
	ResultSlotInvalid    Result = 0x16
	ResultHardwareFail   Result = 0x17
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultFail:
		return "FAIL"
	case ResultUnauthorized:
		return "UNAUTHORIZED"
	case ResultInvalidCmd:
		return "INVALID_CMD"
	case ResultSlotNotEmpty:
		return "SLOT_NOT_EMPTY"
	case ResultSlotExpired:
		return "SLOT_EXPIRED"
	case ResultInvalidKey:
		return "INVALID_KEY"
	case ResultUpdateErr:
		return "UPDATE_ERR"
	case ResultCounterInvalid:
		return "COUNTER_INVALID"
	case ResultSlotEmpty:
		return "SLOT_EMPTY"
	case ResultSlotInvalid:
		return "SLOT_INVALID"
	case ResultHardwareFail:
		return "HARDWARE_FAIL"
	default:
		return fmt.Sprintf("RESULT_0x%02X", byte(r))
	}
}

// OK reports whether the chip accepted the command.
func (r Result) OK() bool {
	return r == ResultOK
}

// Slot and size bounds.
const (
	PairingSlotMax   = 3
	ECCSlotMax       = 31
	RMemSlotMax      = 511
	MCounterMax      = 15
	MACAndDestroyMax = 127

	PingMax          = 4096
	EdDSAMessageMax  = 4096
	RandomMax        = 255
	RMemDataMaxV1    = 444
	RMemDataMaxV2    = 475
	RConfigAddrMax   = 0x1FF
	IConfigBitMax    = 31
	MCounterValueMax = 0xFFFFFFFE
)

// PairingSlot indexes one of the four pairing key slots.
type PairingSlot uint8

// Curve selects the ECC key type.
type Curve byte

const (
	CurveP256    Curve = 0x01
	CurveEd25519 Curve = 0x02
)

func (c Curve) String() string {
	switch c {
	case CurveP256:
		return "P256"
	case CurveEd25519:
		return "Ed25519"
	default:
		return fmt.Sprintf("curve 0x%02X", byte(c))
	}
}

// PublicKeySize returns the raw public key length the chip reports for c.
func (c Curve) PublicKeySize() int {
	if c == CurveP256 {
		return 64
	}
	return 32
}

// Origin records how an ECC key got into its slot.
type Origin byte

const (
	OriginGenerated Origin = 0x01
	OriginStored    Origin = 0x02
)

func (o Origin) String() string {
	switch o {
	case OriginGenerated:
		return "generated"
	case OriginStored:
		return "stored"
	default:
		return fmt.Sprintf("origin 0x%02X", byte(o))
	}
}

// CommandShape describes the plaintext sizes of one command. CmdMin/CmdMax
// count cmd_id plus fields; ResMin/ResMax count result plus fields.
type CommandShape struct {
	ID             CommandID
	Name           string
	CmdMin, CmdMax int
	ResMin, ResMax int
}

// commandShapes is the single id to shape table used by the host catalog
// and the chip model. R_Mem_Data bounds use the larger constant set; the
// active Attributes narrow them.
var commandShapes = map[CommandID]CommandShape{
	CmdPing:                 {CmdPing, "Ping", 1, 1 + PingMax, 1, 1 + PingMax},
	CmdPairingKeyWrite:      {CmdPairingKeyWrite, "Pairing_Key_Write", 36, 36, 1, 1},
	CmdPairingKeyRead:       {CmdPairingKeyRead, "Pairing_Key_Read", 3, 3, 1, 36},
	CmdPairingKeyInvalidate: {CmdPairingKeyInvalidate, "Pairing_Key_Invalidate", 3, 3, 1, 1},
	CmdRConfigWrite:         {CmdRConfigWrite, "R_Config_Write", 8, 8, 1, 1},
	CmdRConfigRead:          {CmdRConfigRead, "R_Config_Read", 3, 3, 1, 8},
	CmdRConfigErase:         {CmdRConfigErase, "R_Config_Erase", 1, 1, 1, 1},
	CmdIConfigWrite:         {CmdIConfigWrite, "I_Config_Write", 4, 4, 1, 1},
	CmdIConfigRead:          {CmdIConfigRead, "I_Config_Read", 3, 3, 1, 8},
	CmdRMemDataWrite:        {CmdRMemDataWrite, "R_Mem_Data_Write", 5, 4 + RMemDataMaxV2, 1, 1},
	CmdRMemDataRead:         {CmdRMemDataRead, "R_Mem_Data_Read", 3, 3, 1, 4 + RMemDataMaxV2},
	CmdRMemDataErase:        {CmdRMemDataErase, "R_Mem_Data_Erase", 3, 3, 1, 1},
	CmdRandomValueGet:       {CmdRandomValueGet, "Random_Value_Get", 2, 2, 1, 4 + RandomMax},
	CmdECCKeyGenerate:       {CmdECCKeyGenerate, "ECC_Key_Generate", 4, 4, 1, 1},
	CmdECCKeyStore:          {CmdECCKeyStore, "ECC_Key_Store", 48, 48, 1, 1},
	CmdECCKeyRead:           {CmdECCKeyRead, "ECC_Key_Read", 3, 3, 1, 16 + 64},
	CmdECCKeyErase:          {CmdECCKeyErase, "ECC_Key_Erase", 3, 3, 1, 1},
	CmdECDSASign:            {CmdECDSASign, "ECDSA_Sign", 48, 48, 1, 80},
	CmdEdDSASign:            {CmdEdDSASign, "EdDSA_Sign", 17, 16 + EdDSAMessageMax, 1, 80},
	CmdMCounterInit:         {CmdMCounterInit, "MCounter_Init", 8, 8, 1, 1},
	CmdMCounterUpdate:       {CmdMCounterUpdate, "MCounter_Update", 3, 3, 1, 1},
	CmdMCounterGet:          {CmdMCounterGet, "MCounter_Get", 3, 3, 1, 8},
	CmdMACAndDestroy:        {CmdMACAndDestroy, "MAC_And_Destroy", 36, 36, 1, 36},
	CmdSerialCodeGet:        {CmdSerialCodeGet, "Serial_Code_Get", 1, 1, 1, 36},
}

// MaxL3Plaintext is the largest L3 plaintext in either direction, taken
// from the widest command or result in commandShapes.
var MaxL3Plaintext = func() int {
	n := 0
	for _, s := range commandShapes {
		n = max(n, s.CmdMax, s.ResMax)
	}
	return n
}()

// LookupCommand returns the shape descriptor of a command id.
func LookupCommand(id CommandID) (CommandShape, bool) {
	s, ok := commandShapes[id]
	return s, ok
}

func (c CommandID) String() string {
	if s, ok := commandShapes[c]; ok {
		return s.Name
	}
	return fmt.Sprintf("CMD_0x%02X", byte(c))
}

// Revision is the silicon revision; it selects the firmware update flow.
type Revision int

const (
	RevisionUnknown Revision = iota
	RevisionABAB
	RevisionACAB
)

func (r Revision) String() string {
	switch r {
	case RevisionABAB:
		return "ABAB"
	case RevisionACAB:
		return "ACAB"
	default:
		return "unknown"
	}
}

// ParseRevision maps a silicon revision name (case-insensitive) to a Revision.
func ParseRevision(s string) (Revision, error) {
	switch s {
	case "ABAB", "abab":
		return RevisionABAB, nil
	case "ACAB", "acab":
		return RevisionACAB, nil
	case "", "auto":
		return RevisionUnknown, nil
	default:
		return RevisionUnknown, fmt.Errorf("%w: unknown silicon revision %q", ErrInvalidParameter, s)
	}
}

// FirmwareUpdateMax returns the largest mutable firmware image the revision accepts.
func (r Revision) FirmwareUpdateMax() int {
	if r == RevisionABAB {
		return 25600
	}
	return 30720
}

// Attributes is the constant set selected by the application firmware version.
type Attributes struct {
	RMemDataMax int
}

// Latest application firmware version with a known constant set.
const (
	latestFirmwareMajor = 2
	latestFirmwareMinor = 0
	latestFirmwarePatch = 0
)

// AttributesFor selects the constant set for an application firmware version.
//
// Returns:
//   - Attributes for the version (user data slots are 444 bytes before 2.0.0, 475 after)
//   - ErrFirmwareTooNew for versions past the latest known one
func AttributesFor(v FirmwareVersion) (Attributes, error) {
	latest := FirmwareVersion{Major: latestFirmwareMajor, Minor: latestFirmwareMinor, Patch: latestFirmwarePatch}
	if v.Compare(latest) > 0 {
		return Attributes{}, fmt.Errorf("%w: %s", ErrFirmwareTooNew, v)
	}
	if v.Major < 2 {
		return Attributes{RMemDataMax: RMemDataMaxV1}, nil
	}
	return Attributes{RMemDataMax: RMemDataMaxV2}, nil
}

// DefaultAttributes is used until the firmware version has been read.
func DefaultAttributes() Attributes {
	return Attributes{RMemDataMax: RMemDataMaxV1}
}
