package tropic01

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// PingResponse carries the echoed message.
type PingResponse struct {
	Result  Result
	Message []byte
}

// PairingKeyResponse carries a pairing public key.
type PairingKeyResponse struct {
	Result    Result
	PublicKey []byte
}

// ConfigReadResponse carries one R-config or I-config word.
type ConfigReadResponse struct {
	Result Result
	Value  uint32
}

// DataResponse carries variable-length data (user memory, random bytes,
// MAC-and-destroy output, serial code).
type DataResponse struct {
	Result Result
	Data   []byte
}

// ECCKeyResponse describes the key in an ECC slot.
type ECCKeyResponse struct {
	Result    Result
	Curve     Curve
	Origin    Origin
	PublicKey []byte // 64 bytes (X||Y) for P256, 32 for Ed25519
}

// SignatureResponse carries an ECDSA or EdDSA signature.
type SignatureResponse struct {
	Result Result
	R, S   []byte
}

// MCounterResponse carries a monotonic counter value.
type MCounterResponse struct {
	Result Result
	Value  uint32
}

// call runs a command and checks the size of successful responses against
// the command table.
func (d *Device) call(cmd CommandID, fields []byte) (*CommandResponse, error) {
	resp, err := d.SendCommand(cmd, fields)
	if err != nil {
		return nil, err
	}
	if !resp.Result.OK() {
		return resp, nil
	}
	if shape, ok := LookupCommand(cmd); ok {
		n := 1 + len(resp.Data)
		if n < shape.ResMin || n > shape.ResMax {
			return nil, fmt.Errorf("%w: %s response of %d bytes outside %d..%d", ErrFrameCorrupt, shape.Name, n, shape.ResMin, shape.ResMax)
		}
	}
	return resp, nil
}

// result runs a command whose response carries only the result byte.
func (d *Device) result(cmd CommandID, fields []byte) (Result, error) {
	resp, err := d.call(cmd, fields)
	if err != nil {
		return 0, err
	}
	return resp.Result, nil
}

func slotField(slot uint16, pad int) []byte {
	b := make([]byte, 2+pad)
	binary.LittleEndian.PutUint16(b, slot)
	return b
}

func checkRange(what string, v, limit int) error {
	if v < 0 || v > limit {
		return fmt.Errorf("%w: %s %d (max %d)", ErrInvalidParameter, what, v, limit)
	}
	return nil
}

// fieldsAfterPad strips the reserved bytes that follow the result byte.
func fieldsAfterPad(resp *CommandResponse, pad, want int) ([]byte, error) {
	if len(resp.Data) < pad+want {
		return nil, fmt.Errorf("%w: response of %d bytes, want %d", ErrFrameCorrupt, len(resp.Data), pad+want)
	}
	return resp.Data[pad:], nil
}

// Ping echoes msg through the secure channel.
func (d *Device) Ping(msg []byte) (*PingResponse, error) {
	if len(msg) > PingMax {
		return nil, fmt.Errorf("%w: ping message of %d bytes (max %d)", ErrInvalidParameter, len(msg), PingMax)
	}
	resp, err := d.call(CmdPing, msg)
	if err != nil {
		return nil, err
	}
	return &PingResponse{Result: resp.Result, Message: resp.Data}, nil
}

// PairingKeyWrite stores a host X25519 public key in a pairing slot.
func (d *Device) PairingKeyWrite(slot PairingSlot, pub []byte) (Result, error) {
	if err := checkRange("pairing slot", int(slot), PairingSlotMax); err != nil {
		return 0, err
	}
	if len(pub) != KeySize {
		return 0, fmt.Errorf("%w: pairing key must be %d bytes, got %d", ErrInvalidParameter, KeySize, len(pub))
	}
	return d.result(CmdPairingKeyWrite, append(slotField(uint16(slot), 1), pub...))
}

// PairingKeyRead reads the public key of a pairing slot.
func (d *Device) PairingKeyRead(slot PairingSlot) (*PairingKeyResponse, error) {
	if err := checkRange("pairing slot", int(slot), PairingSlotMax); err != nil {
		return nil, err
	}
	resp, err := d.call(CmdPairingKeyRead, slotField(uint16(slot), 0))
	if err != nil {
		return nil, err
	}
	out := &PairingKeyResponse{Result: resp.Result}
	if resp.Result.OK() {
		if out.PublicKey, err = fieldsAfterPad(resp, 3, KeySize); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PairingKeyInvalidate permanently invalidates a pairing slot.
func (d *Device) PairingKeyInvalidate(slot PairingSlot) (Result, error) {
	if err := checkRange("pairing slot", int(slot), PairingSlotMax); err != nil {
		return 0, err
	}
	return d.result(CmdPairingKeyInvalidate, slotField(uint16(slot), 0))
}

func checkConfigAddr(addr uint16) error {
	if !ConfigAddrValid(addr) {
		return fmt.Errorf("%w: unknown configuration address 0x%03X", ErrInvalidParameter, addr)
	}
	return nil
}

// RConfigWrite writes one R-config word.
func (d *Device) RConfigWrite(addr uint16, value uint32) (Result, error) {
	if err := checkConfigAddr(addr); err != nil {
		return 0, err
	}
	f := slotField(addr, 1)
	f = binary.LittleEndian.AppendUint32(f, value)
	return d.result(CmdRConfigWrite, f)
}

// RConfigRead reads one R-config word.
func (d *Device) RConfigRead(addr uint16) (*ConfigReadResponse, error) {
	return d.configRead(CmdRConfigRead, addr)
}

// RConfigErase resets the whole R-config to its erased state.
func (d *Device) RConfigErase() (Result, error) {
	return d.result(CmdRConfigErase, nil)
}

// IConfigWrite latches one I-config bit. Latching a set bit is a no-op.
func (d *Device) IConfigWrite(addr uint16, bit uint8) (Result, error) {
	if err := checkConfigAddr(addr); err != nil {
		return 0, err
	}
	if err := checkRange("I-config bit", int(bit), IConfigBitMax); err != nil {
		return 0, err
	}
	return d.result(CmdIConfigWrite, append(slotField(addr, 0), bit))
}

// IConfigRead reads one I-config word.
func (d *Device) IConfigRead(addr uint16) (*ConfigReadResponse, error) {
	return d.configRead(CmdIConfigRead, addr)
}

func (d *Device) configRead(cmd CommandID, addr uint16) (*ConfigReadResponse, error) {
	if err := checkConfigAddr(addr); err != nil {
		return nil, err
	}
	resp, err := d.call(cmd, slotField(addr, 0))
	if err != nil {
		return nil, err
	}
	out := &ConfigReadResponse{Result: resp.Result}
	if resp.Result.OK() {
		b, err := fieldsAfterPad(resp, 3, 4)
		if err != nil {
			return nil, err
		}
		out.Value = binary.LittleEndian.Uint32(b)
	}
	return out, nil
}

// RMemDataWrite writes a user data slot. The slot must be empty.
func (d *Device) RMemDataWrite(slot uint16, data []byte) (Result, error) {
	if err := checkRange("user data slot", int(slot), RMemSlotMax); err != nil {
		return 0, err
	}
	if len(data) == 0 || len(data) > d.attrs.RMemDataMax {
		return 0, fmt.Errorf("%w: user data of %d bytes (1..%d)", ErrInvalidParameter, len(data), d.attrs.RMemDataMax)
	}
	return d.result(CmdRMemDataWrite, append(slotField(slot, 1), data...))
}

// RMemDataRead reads a user data slot.
func (d *Device) RMemDataRead(slot uint16) (*DataResponse, error) {
	if err := checkRange("user data slot", int(slot), RMemSlotMax); err != nil {
		return nil, err
	}
	resp, err := d.call(CmdRMemDataRead, slotField(slot, 0))
	if err != nil {
		return nil, err
	}
	out := &DataResponse{Result: resp.Result}
	if resp.Result.OK() {
		if out.Data, err = fieldsAfterPad(resp, 3, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RMemDataErase empties a user data slot.
func (d *Device) RMemDataErase(slot uint16) (Result, error) {
	if err := checkRange("user data slot", int(slot), RMemSlotMax); err != nil {
		return 0, err
	}
	return d.result(CmdRMemDataErase, slotField(slot, 0))
}

// RandomValueGet returns n bytes from the chip's TRNG.
func (d *Device) RandomValueGet(n int) (*DataResponse, error) {
	if err := checkRange("random length", n, RandomMax); err != nil {
		return nil, err
	}
	resp, err := d.call(CmdRandomValueGet, []byte{byte(n)})
	if err != nil {
		return nil, err
	}
	out := &DataResponse{Result: resp.Result}
	if resp.Result.OK() {
		b, err := fieldsAfterPad(resp, 3, n)
		if err != nil {
			return nil, err
		}
		out.Data = b[:n]
	}
	return out, nil
}

func checkCurve(c Curve) error {
	if c != CurveP256 && c != CurveEd25519 {
		return fmt.Errorf("%w: %s", ErrInvalidParameter, c)
	}
	return nil
}

// ECCKeyGenerate generates a key in an empty ECC slot.
func (d *Device) ECCKeyGenerate(slot uint16, curve Curve) (Result, error) {
	if err := checkRange("ECC slot", int(slot), ECCSlotMax); err != nil {
		return 0, err
	}
	if err := checkCurve(curve); err != nil {
		return 0, err
	}
	return d.result(CmdECCKeyGenerate, append(slotField(slot, 0), byte(curve)))
}

// ECCKeyStore stores a 32-byte private key (P256 scalar or Ed25519 seed) in an empty ECC slot.
func (d *Device) ECCKeyStore(slot uint16, curve Curve, key []byte) (Result, error) {
	if err := checkRange("ECC slot", int(slot), ECCSlotMax); err != nil {
		return 0, err
	}
	if err := checkCurve(curve); err != nil {
		return 0, err
	}
	if len(key) != 32 {
		return 0, fmt.Errorf("%w: private key must be 32 bytes, got %d", ErrInvalidParameter, len(key))
	}
	f := append(slotField(slot, 0), byte(curve))
	f = append(f, make([]byte, 12)...)
	return d.result(CmdECCKeyStore, append(f, key...))
}

// ECCKeyRead reads the public key, curve and origin of an ECC slot.
func (d *Device) ECCKeyRead(slot uint16) (*ECCKeyResponse, error) {
	if err := checkRange("ECC slot", int(slot), ECCSlotMax); err != nil {
		return nil, err
	}
	resp, err := d.call(CmdECCKeyRead, slotField(slot, 0))
	if err != nil {
		return nil, err
	}
	out := &ECCKeyResponse{Result: resp.Result}
	if !resp.Result.OK() {
		return out, nil
	}
	if len(resp.Data) < 15 {
		return nil, fmt.Errorf("%w: ECC key response of %d bytes", ErrFrameCorrupt, len(resp.Data))
	}
	out.Curve = Curve(resp.Data[0])
	out.Origin = Origin(resp.Data[1])
	if err := checkCurve(out.Curve); err != nil {
		return nil, fmt.Errorf("%w: chip reported %s", ErrFrameCorrupt, out.Curve)
	}
	if out.PublicKey, err = fieldsAfterPad(resp, 15, out.Curve.PublicKeySize()); err != nil {
		return nil, err
	}
	out.PublicKey = out.PublicKey[:out.Curve.PublicKeySize()]
	return out, nil
}

// ECCKeyErase empties an ECC slot.
func (d *Device) ECCKeyErase(slot uint16) (Result, error) {
	if err := checkRange("ECC slot", int(slot), ECCSlotMax); err != nil {
		return 0, err
	}
	return d.result(CmdECCKeyErase, slotField(slot, 0))
}

// ECDSASign signs the SHA-256 digest of msg with the P256 key in slot.
func (d *Device) ECDSASign(slot uint16, msg []byte) (*SignatureResponse, error) {
	digest := sha256.Sum256(msg)
	return d.ECDSASignDigest(slot, digest[:])
}

// ECDSASignDigest signs a precomputed 32-byte digest.
func (d *Device) ECDSASignDigest(slot uint16, digest []byte) (*SignatureResponse, error) {
	if err := checkRange("ECC slot", int(slot), ECCSlotMax); err != nil {
		return nil, err
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("%w: digest must be 32 bytes, got %d", ErrInvalidParameter, len(digest))
	}
	f := append(slotField(slot, 13), digest...)
	return d.sign(CmdECDSASign, f)
}

// EdDSASign signs msg with the Ed25519 key in slot.
func (d *Device) EdDSASign(slot uint16, msg []byte) (*SignatureResponse, error) {
	if err := checkRange("ECC slot", int(slot), ECCSlotMax); err != nil {
		return nil, err
	}
	if len(msg) == 0 || len(msg) > EdDSAMessageMax {
		return nil, fmt.Errorf("%w: message of %d bytes (1..%d)", ErrInvalidParameter, len(msg), EdDSAMessageMax)
	}
	f := append(slotField(slot, 13), msg...)
	return d.sign(CmdEdDSASign, f)
}

func (d *Device) sign(cmd CommandID, fields []byte) (*SignatureResponse, error) {
	resp, err := d.call(cmd, fields)
	if err != nil {
		return nil, err
	}
	out := &SignatureResponse{Result: resp.Result}
	if resp.Result.OK() {
		b, err := fieldsAfterPad(resp, 15, 64)
		if err != nil {
			return nil, err
		}
		out.R, out.S = b[:32], b[32:64]
	}
	return out, nil
}

// MCounterInit sets a monotonic counter to value.
func (d *Device) MCounterInit(index uint16, value uint32) (Result, error) {
	if err := checkRange("counter index", int(index), MCounterMax); err != nil {
		return 0, err
	}
	if value > MCounterValueMax {
		return 0, fmt.Errorf("%w: counter value 0x%08X (max 0x%08X)", ErrInvalidParameter, value, uint32(MCounterValueMax))
	}
	return d.result(CmdMCounterInit, binary.LittleEndian.AppendUint32(slotField(index, 1), value))
}

// MCounterUpdate decrements a monotonic counter. At zero the chip answers COUNTER_INVALID.
func (d *Device) MCounterUpdate(index uint16) (Result, error) {
	if err := checkRange("counter index", int(index), MCounterMax); err != nil {
		return 0, err
	}
	return d.result(CmdMCounterUpdate, slotField(index, 0))
}

// MCounterGet reads a monotonic counter.
func (d *Device) MCounterGet(index uint16) (*MCounterResponse, error) {
	if err := checkRange("counter index", int(index), MCounterMax); err != nil {
		return nil, err
	}
	resp, err := d.call(CmdMCounterGet, slotField(index, 0))
	if err != nil {
		return nil, err
	}
	out := &MCounterResponse{Result: resp.Result}
	if resp.Result.OK() {
		b, err := fieldsAfterPad(resp, 3, 4)
		if err != nil {
			return nil, err
		}
		out.Value = binary.LittleEndian.Uint32(b)
	}
	return out, nil
}

// MACAndDestroy runs the one-shot MAC-and-destroy primitive on slot.
func (d *Device) MACAndDestroy(slot uint16, data []byte) (*DataResponse, error) {
	if err := checkRange("MAC-and-destroy slot", int(slot), MACAndDestroyMax); err != nil {
		return nil, err
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("%w: MAC-and-destroy input must be 32 bytes, got %d", ErrInvalidParameter, len(data))
	}
	resp, err := d.call(CmdMACAndDestroy, append(slotField(slot, 1), data...))
	if err != nil {
		return nil, err
	}
	out := &DataResponse{Result: resp.Result}
	if resp.Result.OK() {
		if out.Data, err = fieldsAfterPad(resp, 3, 32); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SerialCodeGet reads the chip's 32-byte serial code.
func (d *Device) SerialCodeGet() (*DataResponse, error) {
	resp, err := d.call(CmdSerialCodeGet, nil)
	if err != nil {
		return nil, err
	}
	out := &DataResponse{Result: resp.Result}
	if resp.Result.OK() {
		if out.Data, err = fieldsAfterPad(resp, 3, 32); err != nil {
			return nil, err
		}
	}
	return out, nil
}
