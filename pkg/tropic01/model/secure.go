package model

import (
	"crypto/cipher"
	"crypto/ecdh"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// channel is the chip end of a secure session: it decrypts with the
// command key and encrypts with the result key.
type channel struct {
	slot       tropic01.PairingSlot
	dec, enc   cipher.AEAD
	recv, send uint32
}

func (c *Chip) dropSession(reason string) {
	if c.sess != nil {
		slog.Debug("model session dropped", "slot", c.sess.slot, "reason", reason)
		c.logf("session on slot %d dropped: %s", c.sess.slot, reason)
	}
	c.sess = nil
	c.l3in = nil
}

// handshake is the Noise KK1 responder. A new handshake always replaces the
// current session, even when it fails.
func (c *Chip) handshake(data []byte) {
	c.dropSession("handshake")
	ehpub, slot := data[:tropic01.KeySize], tropic01.PairingSlot(data[tropic01.KeySize])
	keys, etpub, err := c.respondHandshake(ehpub, slot)
	if err != nil {
		slog.Debug("model handshake failed", "slot", slot, "error", err)
		c.logf("handshake on slot %d failed: %v", slot, err)
		c.respond(tropic01.StatusHskErr, nil)
		return
	}
	shipub, _ := c.store.pairingKey(slot)
	h := tropic01.TranscriptHash(shipub, c.StaticPublicKey().Bytes(), ehpub, slot, etpub)
	tag, err := tropic01.HandshakeTag(keys.Auth, h)
	if err != nil {
		c.respond(tropic01.StatusHskErr, nil)
		return
	}
	dec, err := tropic01.NewAEAD(keys.Cmd)
	if err != nil {
		c.respond(tropic01.StatusHskErr, nil)
		return
	}
	enc, err := tropic01.NewAEAD(keys.Res)
	if err != nil {
		c.respond(tropic01.StatusHskErr, nil)
		return
	}
	c.sess = &channel{slot: slot, dec: dec, enc: enc}
	c.logf("session on slot %d established", slot)
	c.respond(tropic01.StatusRequestOK, append(etpub, tag...))
}

func (c *Chip) respondHandshake(ehpub []byte, slot tropic01.PairingSlot) (*tropic01.SessionKeys, []byte, error) {
	shipub, ok := c.store.pairingKey(slot)
	if !ok {
		return nil, nil, errors.New("pairing slot not written")
	}
	eh, err := ecdh.X25519().NewPublicKey(ehpub)
	if err != nil {
		return nil, nil, err
	}
	sh, err := ecdh.X25519().NewPublicKey(shipub)
	if err != nil {
		return nil, nil, err
	}
	seed := make([]byte, tropic01.KeySize)
	if _, err := io.ReadFull(c.rng, seed); err != nil {
		return nil, nil, err
	}
	et, err := ecdh.X25519().NewPrivateKey(seed)
	if err != nil {
		return nil, nil, err
	}
	ee, err := tropic01.X25519(et, eh)
	if err != nil {
		return nil, nil, err
	}
	se, err := tropic01.X25519(et, sh)
	if err != nil {
		return nil, nil, err
	}
	es, err := tropic01.X25519(c.id.StaticKey, eh)
	if err != nil {
		return nil, nil, err
	}
	keys, err := tropic01.KeySchedule(ee, se, es)
	if err != nil {
		return nil, nil, err
	}
	return keys, et.PublicKey().Bytes(), nil
}

// encryptedCmd collects ENCRYPTED_CMD chunks until the L3 envelope named by
// the size prefix is complete, then runs it and queues the acknowledgement
// followed by the result chunks.
func (c *Chip) encryptedCmd(chunk []byte) {
	if c.sess == nil {
		c.l3in = nil
		c.respond(tropic01.StatusNoSession, nil)
		return
	}
	c.l3in = append(c.l3in, chunk...)
	if len(c.l3in) < 2 {
		c.respond(tropic01.StatusRequestCon, nil)
		return
	}
	total := 2 + int(binary.LittleEndian.Uint16(c.l3in)) + tropic01.TagSize
	switch {
	case len(c.l3in) < total:
		c.respond(tropic01.StatusRequestCon, nil)
		return
	case len(c.l3in) > total || total > tropic01.MaxL3Size:
		c.l3in = nil
		c.respond(tropic01.StatusGenErr, nil)
		return
	}
	envelope := c.l3in
	c.l3in = nil

	plaintext, err := tropic01.OpenEnvelope(c.sess.dec, c.sess.recv, envelope)
	if err != nil {
		c.dropSession("command tag mismatch")
		c.respond(tropic01.StatusTagErr, nil)
		return
	}
	c.nonces = append(c.nonces, c.sess.recv)
	c.sess.recv++

	start := time.Now()
	cmd, res := c.execute(plaintext)
	c.metrics.ObserveCommand(cmd, tropic01.Result(res[0]), time.Since(start))

	out, err := tropic01.SealEnvelope(c.sess.enc, c.sess.send, res)
	if err != nil {
		slog.Error("model seal", "error", err)
		c.respond(tropic01.StatusGenErr, nil)
		return
	}
	c.sess.send++
	if c.tamper {
		c.tamper = false
		out[len(out)-1] ^= 0x01
	}

	c.respond(tropic01.StatusRequestOK, nil)
	for off := 0; off < len(out); off += tropic01.ChunkSize {
		end := min(off+tropic01.ChunkSize, len(out))
		status := tropic01.StatusResultCon
		if end == len(out) {
			status = tropic01.StatusResultOK
		}
		c.respond(status, out[off:end])
	}
}

// execute checks a decrypted command against its shape and the user
// access policy, then runs it on the store. An empty plaintext carries no
// command id and is answered with INVALID_CMD.
func (c *Chip) execute(plaintext []byte) (tropic01.CommandID, []byte) {
	if len(plaintext) == 0 {
		slog.Debug("model command rejected", "len", 0)
		return 0, reply(tropic01.ResultInvalidCmd)
	}
	cmd := tropic01.CommandID(plaintext[0])
	shape, ok := tropic01.LookupCommand(cmd)
	if !ok || len(plaintext) < shape.CmdMin || len(plaintext) > shape.CmdMax {
		slog.Debug("model command rejected", "cmd", cmd.String(), "len", len(plaintext))
		return cmd, reply(tropic01.ResultInvalidCmd)
	}
	if !c.store.authorized(cmd, c.sess.slot) {
		c.logf("%s denied to slot %d", shape.Name, c.sess.slot)
		return cmd, reply(tropic01.ResultUnauthorized)
	}
	attrs, err := tropic01.AttributesFor(c.appFw)
	if err != nil {
		attrs = tropic01.Attributes{RMemDataMax: tropic01.RMemDataMaxV2}
	}
	res := c.store.run(cmd, plaintext[1:], env{rng: c.rng, rmemMax: attrs.RMemDataMax, serialCode: c.id.SerialCode})
	slog.Debug("model command", "cmd", cmd.String(), "slot", c.sess.slot, "result", tropic01.Result(res[0]).String())
	return cmd, res
}
