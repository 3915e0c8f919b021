// Package model is a software TROPIC01. It answers the host protocol at the
// SPI level (chip select, full-duplex transfers), runs the Noise responder
// and executes L3 commands against an in-memory slot store.
//
// A *Chip implements tropic01.Port, so a host Device can drive it directly
// in tests; Serve exposes it over the model server TCP protocol.
package model

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

var _ tropic01.Port = (*Chip)(nil)

// logMax bounds the firmware log buffer.
const logMax = 1024

// Chip is one simulated TROPIC01.
type Chip struct {
	mu sync.Mutex

	seed      []byte
	rev       tropic01.Revision
	appFw     tropic01.FirmwareVersion
	spectFw   tropic01.FirmwareVersion
	bootFw    tropic01.FirmwareVersion
	rng       io.Reader
	metrics   *tropic01.Metrics
	updateKey ed25519.PublicKey
	extraKeys map[tropic01.PairingSlot][]byte

	id    *Identity
	store *Store

	powered bool
	mode    tropic01.Mode
	alarm   bool

	// SPI transaction state
	selected bool
	reading  bool // transaction started with GET_RESPONSE
	stalled  bool // status poll answered not ready
	txn      []byte
	out      []byte
	outFull  bool

	queue [][]byte // response frames, without the chip status byte
	last  []byte   // last frame read out, for RESEND

	sess *channel
	l3in []byte

	banks      map[byte]*bank
	update     *acabUpdate
	pendingApp *tropic01.FirmwareVersion // runs after the next reboot

	log []byte

	// fault injection
	corrupt int
	rejects int
	busy    int
	tamper  bool
	nonces  []uint32
}

// Option configures a Chip.
type Option func(*Chip)

// WithSeed derives the chip identity from seed instead of DefaultSeed.
func WithSeed(seed []byte) Option {
	return func(c *Chip) {
		if len(seed) > 0 {
			c.seed = append([]byte(nil), seed...)
		}
	}
}

// WithRevision selects the silicon revision (default ACAB).
func WithRevision(r tropic01.Revision) Option {
	return func(c *Chip) {
		if r != tropic01.RevisionUnknown {
			c.rev = r
		}
	}
}

// WithFirmwareVersion sets the application firmware version reported by GET_INFO.
func WithFirmwareVersion(v tropic01.FirmwareVersion) Option {
	return func(c *Chip) {
		c.appFw = v
	}
}

// WithPairingKey registers a host public key in a pairing slot at power-up.
func WithPairingKey(slot tropic01.PairingSlot, pub []byte) Option {
	return func(c *Chip) {
		c.extraKeys[slot] = append([]byte(nil), pub...)
	}
}

// WithRand replaces the seeded entropy source used for ephemeral keys,
// random values and key generation.
func WithRand(r io.Reader) Option {
	return func(c *Chip) {
		if r != nil {
			c.rng = r
		}
	}
}

// WithMetrics records the chip side of the traffic on m.
func WithMetrics(m *tropic01.Metrics) Option {
	return func(c *Chip) {
		c.metrics = m
	}
}

// WithFirmwareSigner replaces the key that verifies ACAB update headers.
func WithFirmwareSigner(pub ed25519.PublicKey) Option {
	return func(c *Chip) {
		c.updateKey = pub
	}
}

// WithMaintenance starts the chip in the bootloader.
func WithMaintenance() Option {
	return func(c *Chip) {
		c.mode = tropic01.ModeMaintenance
	}
}

// New builds a powered-on chip.
func New(opts ...Option) (*Chip, error) {
	c := &Chip{
		seed:      DefaultSeed,
		rev:       tropic01.RevisionACAB,
		appFw:     tropic01.FirmwareVersion{Major: 2, Minor: 0, Patch: 0},
		spectFw:   tropic01.FirmwareVersion{Major: 1, Minor: 0, Patch: 0},
		extraKeys: make(map[tropic01.PairingSlot][]byte),
		powered:   true,
		banks:     make(map[byte]*bank),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = seededReader(c.seed, "trng")
	}
	id, err := NewIdentity(c.seed, c.rev)
	if err != nil {
		return nil, err
	}
	c.id = id
	if c.updateKey == nil {
		c.updateKey = id.UpdateKey.Public().(ed25519.PublicKey)
	}
	c.bootFw = tropic01.FirmwareVersion{Major: 0x80 | 1, Minor: 0, Patch: 1}
	if c.rev == tropic01.RevisionACAB {
		c.bootFw = tropic01.FirmwareVersion{Major: 0x80 | 2, Minor: 0, Patch: 1}
	}

	c.store = newStore(c.seed)
	eng, err := ecdh.X25519().NewPrivateKey(EngineeringPairingKey)
	if err != nil {
		return nil, err
	}
	c.store.pairing[0] = pairingSlot{state: pairingWritten, pub: eng.PublicKey().Bytes()}
	for slot, pub := range c.extraKeys {
		if int(slot) >= pairingSlots || len(pub) != tropic01.KeySize {
			return nil, fmt.Errorf("pairing key for slot %d: %w", slot, tropic01.ErrInvalidParameter)
		}
		c.store.pairing[slot] = pairingSlot{state: pairingWritten, pub: pub}
	}
	c.installFirmware()
	return c, nil
}

// Identity returns the chip's keys and certificates.
func (c *Chip) Identity() *Identity {
	return c.id
}

// StaticPublicKey returns STPUB.
func (c *Chip) StaticPublicKey() *ecdh.PublicKey {
	return c.id.StaticKey.PublicKey()
}

// CSNLow starts an SPI transaction.
func (c *Chip) CSNLow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected {
		return errors.New("chip select already asserted")
	}
	c.selected = true
	c.reading, c.stalled = false, false
	c.txn = c.txn[:0]
	c.out = nil
	c.outFull = false
	return nil
}

// Transfer clocks buf through the chip. The first byte out is always the
// chip status; on a GET_RESPONSE transaction the pending response follows.
func (c *Chip) Transfer(buf []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selected {
		return errors.New("transfer without chip select")
	}
	for i, b := range buf {
		pos := len(c.txn)
		c.txn = append(c.txn, b)
		switch {
		case !c.powered:
			buf[i] = 0
		case pos == 0:
			c.reading = b == tropic01.GetResponse
			buf[i] = c.chipStatus(c.reading)
		case c.reading && !c.stalled:
			buf[i] = c.responseByte(pos - 1)
		default:
			buf[i] = 0
		}
	}
	return nil
}

// CSNHigh ends the transaction. A request written in it is processed now;
// a response read out completely is dropped from the queue.
func (c *Chip) CSNHigh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selected {
		return errors.New("chip select already released")
	}
	c.selected = false
	if !c.powered || len(c.txn) == 0 {
		return nil
	}
	if !c.reading {
		c.handleRequest(append([]byte(nil), c.txn...))
		return nil
	}
	if c.out != nil && c.outFull {
		c.last = c.queue[0]
		c.queue = c.queue[1:]
	}
	return nil
}

// Delay does nothing; the model answers instantly.
func (c *Chip) Delay(time.Duration) error {
	return nil
}

func (c *Chip) chipStatus(poll bool) byte {
	var st byte
	if c.alarm {
		st |= tropic01.ChipStatusAlarm
	}
	if c.mode == tropic01.ModeMaintenance {
		st |= tropic01.ChipStatusStartup
	}
	if poll && c.busy > 0 {
		c.busy--
		c.stalled = true
		return st
	}
	return st | tropic01.ChipStatusReady
}

// responseByte returns byte k of the pending response frame, selecting the
// frame when the first byte after the chip status is clocked.
func (c *Chip) responseByte(k int) byte {
	if k == 0 {
		if len(c.queue) == 0 {
			return byte(tropic01.StatusNoResp)
		}
		c.out = c.queue[0]
		if c.corrupt > 0 {
			c.corrupt--
			c.out = append([]byte(nil), c.out...)
			c.out[len(c.out)-1] ^= 0x01
		}
	}
	if c.out == nil || k >= len(c.out) {
		return 0
	}
	if k == len(c.out)-1 {
		c.outFull = true
	}
	return c.out[k]
}

// respond queues a response frame.
func (c *Chip) respond(status tropic01.Status, data []byte) {
	frame, err := tropic01.EncodeResponse(tropic01.Response{Status: status, Data: data})
	if err != nil {
		slog.Error("model response", "error", err)
		frame, _ = tropic01.EncodeResponse(tropic01.Response{Status: tropic01.StatusGenErr})
	}
	c.queue = append(c.queue, frame[1:])
}

// logf appends a line to the firmware log returned by GET_LOG.
func (c *Chip) logf(format string, args ...any) {
	c.log = append(c.log, fmt.Sprintf(format, args...)+"\n"...)
	if len(c.log) > logMax {
		c.log = c.log[len(c.log)-logMax:]
	}
}

// PowerOff cuts power: volatile state (session, pending responses, partial
// commands, firmware updates) is lost, the slot store is kept.
func (c *Chip) PowerOff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powered = false
	c.volatileReset("power off")
}

// PowerOn restores power; the chip boots into the application.
func (c *Chip) PowerOn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powered = true
	c.mode = tropic01.ModeApplication
}

// Reset reboots the chip into the application.
func (c *Chip) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volatileReset("reset")
	c.powered = true
	c.mode = tropic01.ModeApplication
}

func (c *Chip) volatileReset(reason string) {
	c.dropSession(reason)
	c.queue = nil
	c.last = nil
	c.l3in = nil
	c.update = nil
	c.selected = false
}

// SetAlarm raises or clears the ALARM status bit.
func (c *Chip) SetAlarm(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alarm = on
}

// CorruptResponses flips a CRC bit in the next n response frames read out.
// The stored frame stays intact, so a RESEND recovers it.
func (c *Chip) CorruptResponses(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrupt = n
}

// RejectRequests answers the next n requests with CRC_ERR without running them.
func (c *Chip) RejectRequests(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects = n
}

// BusyPolls reports the chip not ready on the next n response polls.
func (c *Chip) BusyPolls(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = n
}

// TamperNextTag flips a bit in the tag of the next encrypted response.
func (c *Chip) TamperNextTag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tamper = true
}

// ObservedNonces returns the counters of every command the chip decrypted,
// in arrival order.
func (c *Chip) ObservedNonces() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.nonces...)
}

// SessionActive reports whether the chip holds an established session.
func (c *Chip) SessionActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Mode returns the mode the chip reports in its status byte.
func (c *Chip) Mode() tropic01.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ArmMACSlot loads a fresh secret into a MAC-and-destroy slot.
func (c *Chip) ArmMACSlot(slot int, secret []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot < 0 || slot >= macSlots || len(secret) == 0 {
		return tropic01.ErrInvalidParameter
	}
	c.store.mac[slot] = append([]byte(nil), secret...)
	return nil
}
