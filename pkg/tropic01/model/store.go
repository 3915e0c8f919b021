package model

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// Non-volatile slot counts.
const (
	pairingSlots  = tropic01.PairingSlotMax + 1
	eccSlots      = tropic01.ECCSlotMax + 1
	mcounters     = tropic01.MCounterMax + 1
	macSlots      = tropic01.MACAndDestroyMax + 1
	erasedRConfig = 0xFFFFFFFF
)

type pairingState byte

const (
	pairingBlank pairingState = iota
	pairingWritten
	pairingInvalidated
)

type pairingSlot struct {
	state pairingState
	pub   []byte
}

type eccKey struct {
	curve  tropic01.Curve
	origin tropic01.Origin
	pub    []byte // as reported by ECC_Key_Read
	p256   *ecdsa.PrivateKey
	ed     ed25519.PrivateKey
}

type mcounter struct {
	initialized bool
	value       uint32
}

// Store is the chip's non-volatile state, indexed by slot. It survives
// sleep, reboot and power cycles of the model.
type Store struct {
	pairing  [pairingSlots]pairingSlot
	rconfig  map[uint16]uint32
	iconfig  map[uint16]uint32
	rmem     map[uint16][]byte
	ecc      [eccSlots]*eccKey
	counters [mcounters]mcounter
	mac      [macSlots][]byte
}

func newStore(seed []byte) *Store {
	s := &Store{
		rconfig: make(map[uint16]uint32),
		iconfig: make(map[uint16]uint32),
		rmem:    make(map[uint16][]byte),
	}
	s.eraseRConfig()
	for _, o := range tropic01.ConfigObjects {
		s.iconfig[o.Addr] = 0
	}
	for i := range s.mac {
		s.mac[i] = derive(seed, fmt.Sprintf("mac-and-destroy-%d", i))
	}
	return s
}

func (s *Store) eraseRConfig() {
	for _, o := range tropic01.ConfigObjects {
		s.rconfig[o.Addr] = erasedRConfig
	}
}

// pairingKey returns the public key of a written pairing slot.
func (s *Store) pairingKey(slot tropic01.PairingSlot) ([]byte, bool) {
	if int(slot) >= pairingSlots || s.pairing[slot].state != pairingWritten {
		return nil, false
	}
	return s.pairing[slot].pub, true
}

// uapWords maps each command to the R-config word holding its per-slot
// permission bits (bit n allows pairing slot n).
var uapWords = map[tropic01.CommandID]uint16{
	tropic01.CmdPing:                 0x100,
	tropic01.CmdPairingKeyWrite:      0x020,
	tropic01.CmdPairingKeyRead:       0x024,
	tropic01.CmdPairingKeyInvalidate: 0x028,
	tropic01.CmdRConfigWrite:         0x030,
	tropic01.CmdRConfigErase:         0x030,
	tropic01.CmdRConfigRead:          0x034,
	tropic01.CmdIConfigWrite:         0x040,
	tropic01.CmdIConfigRead:          0x044,
	tropic01.CmdRMemDataWrite:        0x110,
	tropic01.CmdRMemDataRead:         0x114,
	tropic01.CmdRMemDataErase:        0x118,
	tropic01.CmdRandomValueGet:       0x120,
	tropic01.CmdECCKeyGenerate:       0x130,
	tropic01.CmdECCKeyStore:          0x134,
	tropic01.CmdECCKeyRead:           0x138,
	tropic01.CmdECCKeyErase:          0x13C,
	tropic01.CmdECDSASign:            0x140,
	tropic01.CmdEdDSASign:            0x144,
	tropic01.CmdMCounterInit:         0x150,
	tropic01.CmdMCounterGet:          0x154,
	tropic01.CmdMCounterUpdate:       0x158,
	tropic01.CmdMACAndDestroy:        0x160,
	tropic01.CmdSerialCodeGet:        0x170,
}

func (s *Store) authorized(cmd tropic01.CommandID, slot tropic01.PairingSlot) bool {
	addr, ok := uapWords[cmd]
	if !ok {
		return true
	}
	return s.rconfig[addr]&(1<<slot) != 0
}

func reply(r tropic01.Result) []byte {
	return []byte{byte(r)}
}

// ok builds an OK response: result, pad zero bytes, then fields.
func ok(pad int, fields ...[]byte) []byte {
	out := make([]byte, 1+pad, 1+pad+64)
	out[0] = byte(tropic01.ResultOK)
	for _, f := range fields {
		out = append(out, f...)
	}
	return out
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func u32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

// env is what command execution needs from the running chip.
type env struct {
	rng        io.Reader
	rmemMax    int
	serialCode []byte
}

// run executes one authorized, well-sized command and returns the response
// plaintext (result byte then fields).
func (s *Store) run(cmd tropic01.CommandID, f []byte, e env) []byte {
	switch cmd {
	case tropic01.CmdPing:
		return ok(0, f)

	case tropic01.CmdPairingKeyWrite:
		slot := le16(f)
		if slot >= pairingSlots || s.pairing[slot].state != pairingBlank {
			return reply(tropic01.ResultFail)
		}
		s.pairing[slot] = pairingSlot{state: pairingWritten, pub: append([]byte(nil), f[3:35]...)}
		return ok(0)
	case tropic01.CmdPairingKeyRead:
		slot := le16(f)
		if slot >= pairingSlots {
			return reply(tropic01.ResultFail)
		}
		switch s.pairing[slot].state {
		case pairingBlank:
			return reply(tropic01.ResultSlotEmpty)
		case pairingInvalidated:
			return reply(tropic01.ResultSlotInvalid)
		}
		return ok(3, s.pairing[slot].pub)
	case tropic01.CmdPairingKeyInvalidate:
		slot := le16(f)
		if slot >= pairingSlots {
			return reply(tropic01.ResultFail)
		}
		s.pairing[slot] = pairingSlot{state: pairingInvalidated}
		return ok(0)

	case tropic01.CmdRConfigWrite:
		addr := le16(f)
		if !tropic01.ConfigAddrValid(addr) {
			return reply(tropic01.ResultFail)
		}
		s.rconfig[addr] = le32(f[3:7])
		return ok(0)
	case tropic01.CmdRConfigRead:
		addr := le16(f)
		if !tropic01.ConfigAddrValid(addr) {
			return reply(tropic01.ResultFail)
		}
		return ok(3, u32(s.rconfig[addr]))
	case tropic01.CmdRConfigErase:
		s.eraseRConfig()
		return ok(0)
	case tropic01.CmdIConfigWrite:
		addr, bit := le16(f), f[2]
		if !tropic01.ConfigAddrValid(addr) || bit > tropic01.IConfigBitMax {
			return reply(tropic01.ResultFail)
		}
		s.iconfig[addr] |= 1 << bit
		return ok(0)
	case tropic01.CmdIConfigRead:
		addr := le16(f)
		if !tropic01.ConfigAddrValid(addr) {
			return reply(tropic01.ResultFail)
		}
		return ok(3, u32(s.iconfig[addr]))

	case tropic01.CmdRMemDataWrite:
		slot, data := le16(f), f[3:]
		if slot > tropic01.RMemSlotMax || len(data) > e.rmemMax {
			return reply(tropic01.ResultFail)
		}
		if _, used := s.rmem[slot]; used {
			return reply(tropic01.ResultSlotNotEmpty)
		}
		s.rmem[slot] = append([]byte(nil), data...)
		return ok(0)
	case tropic01.CmdRMemDataRead:
		slot := le16(f)
		data, used := s.rmem[slot]
		if !used {
			return reply(tropic01.ResultSlotEmpty)
		}
		return ok(3, data)
	case tropic01.CmdRMemDataErase:
		delete(s.rmem, le16(f))
		return ok(0)

	case tropic01.CmdRandomValueGet:
		buf := make([]byte, f[0])
		if _, err := io.ReadFull(e.rng, buf); err != nil {
			return reply(tropic01.ResultHardwareFail)
		}
		return ok(3, buf)

	case tropic01.CmdECCKeyGenerate:
		return s.eccGenerate(le16(f), tropic01.Curve(f[2]), e.rng)
	case tropic01.CmdECCKeyStore:
		return s.eccStore(le16(f), tropic01.Curve(f[2]), f[15:47], tropic01.OriginStored)
	case tropic01.CmdECCKeyRead:
		slot := le16(f)
		if slot >= eccSlots {
			return reply(tropic01.ResultFail)
		}
		k := s.ecc[slot]
		if k == nil {
			return reply(tropic01.ResultSlotEmpty)
		}
		return ok(0, []byte{byte(k.curve), byte(k.origin)}, make([]byte, 13), k.pub)
	case tropic01.CmdECCKeyErase:
		slot := le16(f)
		if slot >= eccSlots {
			return reply(tropic01.ResultFail)
		}
		if s.ecc[slot] == nil {
			return reply(tropic01.ResultSlotEmpty)
		}
		s.ecc[slot] = nil
		return ok(0)
	case tropic01.CmdECDSASign:
		return s.ecdsaSign(le16(f), f[15:47], e.rng)
	case tropic01.CmdEdDSASign:
		return s.eddsaSign(le16(f), f[15:])

	case tropic01.CmdMCounterInit:
		idx := le16(f)
		if idx >= mcounters {
			return reply(tropic01.ResultFail)
		}
		s.counters[idx] = mcounter{initialized: true, value: le32(f[3:7])}
		return ok(0)
	case tropic01.CmdMCounterUpdate:
		idx := le16(f)
		if idx >= mcounters {
			return reply(tropic01.ResultFail)
		}
		c := &s.counters[idx]
		if !c.initialized {
			return reply(tropic01.ResultCounterInvalid)
		}
		// The decrement that lands on zero depletes the counter and reports it.
		if c.value <= 1 {
			c.value = 0
			return reply(tropic01.ResultCounterInvalid)
		}
		c.value--
		return ok(0)
	case tropic01.CmdMCounterGet:
		idx := le16(f)
		if idx >= mcounters {
			return reply(tropic01.ResultFail)
		}
		if !s.counters[idx].initialized {
			return reply(tropic01.ResultCounterInvalid)
		}
		return ok(3, u32(s.counters[idx].value))

	case tropic01.CmdMACAndDestroy:
		slot := le16(f)
		if slot >= macSlots {
			return reply(tropic01.ResultFail)
		}
		secret := s.mac[slot]
		if secret == nil {
			return reply(tropic01.ResultSlotEmpty)
		}
		s.mac[slot] = nil
		return ok(3, kmac256(secret, f[3:35], 32, "MACANDD"))

	case tropic01.CmdSerialCodeGet:
		return ok(3, e.serialCode)
	}
	return reply(tropic01.ResultInvalidCmd)
}

func (s *Store) eccGenerate(slot uint16, curve tropic01.Curve, rng io.Reader) []byte {
	if slot >= eccSlots {
		return reply(tropic01.ResultFail)
	}
	if s.ecc[slot] != nil {
		return reply(tropic01.ResultSlotNotEmpty)
	}
	// Retry scalars that fall outside the P256 group order.
	for range 8 {
		k := make([]byte, 32)
		if _, err := io.ReadFull(rng, k); err != nil {
			return reply(tropic01.ResultHardwareFail)
		}
		if res := s.eccStore(slot, curve, k, tropic01.OriginGenerated); tropic01.Result(res[0]) != tropic01.ResultInvalidKey {
			return res
		}
	}
	return reply(tropic01.ResultHardwareFail)
}

func (s *Store) eccStore(slot uint16, curve tropic01.Curve, k []byte, origin tropic01.Origin) []byte {
	if slot >= eccSlots {
		return reply(tropic01.ResultFail)
	}
	if s.ecc[slot] != nil {
		return reply(tropic01.ResultSlotNotEmpty)
	}
	key := &eccKey{curve: curve, origin: origin}
	switch curve {
	case tropic01.CurveP256:
		priv, pub, err := p256Key(k)
		if err != nil {
			return reply(tropic01.ResultInvalidKey)
		}
		key.p256, key.pub = priv, pub
	case tropic01.CurveEd25519:
		key.ed = ed25519.NewKeyFromSeed(k)
		key.pub = append([]byte(nil), key.ed.Public().(ed25519.PublicKey)...)
	default:
		return reply(tropic01.ResultFail)
	}
	s.ecc[slot] = key
	return ok(0)
}

// p256Key builds an ECDSA key from a raw scalar and returns it with the
// 64-byte X||Y public key.
func p256Key(k []byte) (*ecdsa.PrivateKey, []byte, error) {
	pk, err := ecdh.P256().NewPrivateKey(k)
	if err != nil {
		return nil, nil, err
	}
	pub := pk.PublicKey().Bytes()[1:]
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[:32]),
			Y:     new(big.Int).SetBytes(pub[32:]),
		},
		D: new(big.Int).SetBytes(k),
	}
	return priv, pub, nil
}

func (s *Store) ecdsaSign(slot uint16, digest []byte, rng io.Reader) []byte {
	if slot >= eccSlots {
		return reply(tropic01.ResultFail)
	}
	k := s.ecc[slot]
	if k == nil || k.curve != tropic01.CurveP256 {
		return reply(tropic01.ResultInvalidKey)
	}
	r, sig, err := ecdsa.Sign(rng, k.p256, digest)
	if err != nil {
		return reply(tropic01.ResultFail)
	}
	return ok(15, r.FillBytes(make([]byte, 32)), sig.FillBytes(make([]byte, 32)))
}

func (s *Store) eddsaSign(slot uint16, msg []byte) []byte {
	if slot >= eccSlots {
		return reply(tropic01.ResultFail)
	}
	k := s.ecc[slot]
	if k == nil || k.curve != tropic01.CurveEd25519 {
		return reply(tropic01.ResultInvalidKey)
	}
	sig := ed25519.Sign(k.ed, msg)
	return ok(15, sig[:32], sig[32:])
}
