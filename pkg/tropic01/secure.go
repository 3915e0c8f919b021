package tropic01

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MaxL3Size is the largest L3 envelope: size prefix, the largest plaintext
// and the tag.
var MaxL3Size = 2 + MaxL3Plaintext + TagSize

// maxResultChunks bounds RESULT_CONT frames read for one response.
const maxResultChunks = 42

// SealEnvelope encrypts an L3 plaintext under counter and lays out the
// envelope: size (LE u16), ciphertext, tag.
func SealEnvelope(aead cipher.AEAD, counter uint32, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 || len(plaintext) > MaxL3Plaintext {
		return nil, fmt.Errorf("%w: L3 plaintext of %d bytes", ErrInvalidParameter, len(plaintext))
	}
	out := make([]byte, 2, 2+len(plaintext)+TagSize)
	binary.LittleEndian.PutUint16(out, uint16(len(plaintext)))
	return aead.Seal(out, nonceIV(counter), plaintext, nil), nil
}

// OpenEnvelope verifies and decrypts an L3 envelope under counter.
//
// Fail states:
//   - ErrFrameCorrupt if the size prefix does not match the frame
//   - ErrAuthenticationFailed if the tag does not verify
func OpenEnvelope(aead cipher.AEAD, counter uint32, frame []byte) ([]byte, error) {
	if len(frame) < 2+TagSize {
		return nil, fmt.Errorf("%w: L3 frame too short (%d bytes)", ErrFrameCorrupt, len(frame))
	}
	n := int(binary.LittleEndian.Uint16(frame))
	if len(frame) != 2+n+TagSize {
		return nil, fmt.Errorf("%w: L3 size %d does not match frame of %d bytes", ErrFrameCorrupt, n, len(frame))
	}
	plaintext, err := aead.Open(nil, nonceIV(counter), frame[2:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: L3 tag mismatch at counter %d", ErrAuthenticationFailed, counter)
	}
	return plaintext, nil
}

// CommandResponse is the decrypted answer to an L3 command.
type CommandResponse struct {
	Result Result
	Data   []byte // fields after the result byte
}

// SendCommand runs one L3 command over the established session.
// It encrypts the command, sends it in L2 chunks, reassembles the chip's
// answer and decrypts it.
//
// Parameters:
//   - cmd: L3 command id
//   - fields: command fields after the id
//
// Returns:
//   - CommandResponse with the chip's Result; a non-OK Result is not an error
//   - ErrNoSession without an established session
//   - ErrAuthenticationFailed if either side rejects a tag (the session is aborted)
//   - ErrNonceExhausted when the send counter would wrap
func (d *Device) SendCommand(cmd CommandID, fields []byte) (*CommandResponse, error) {
	if shape, ok := LookupCommand(cmd); ok {
		n := 1 + len(fields)
		if n < shape.CmdMin || n > shape.CmdMax {
			return nil, fmt.Errorf("%w: %s command of %d bytes outside %d..%d", ErrInvalidParameter, shape.Name, n, shape.CmdMin, shape.CmdMax)
		}
	}
	plaintext := make([]byte, 0, 1+len(fields))
	plaintext = append(plaintext, byte(cmd))
	plaintext = append(plaintext, fields...)

	envelope, counter, err := d.session.seal(plaintext)
	if err != nil {
		return nil, err
	}
	slog.Debug("l3 command", "cmd", cmd.String(), "counter", counter, "len", len(plaintext))

	start := time.Now()
	raw, err := d.encryptedCommand(envelope)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrNoSession) {
			d.session.abort(err.Error())
			d.cfg.metrics.ObserveSession("aborted")
		}
		return nil, err
	}

	res, err := d.session.open(raw)
	if err != nil {
		d.cfg.metrics.ObserveSession("aborted")
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty L3 result", ErrFrameCorrupt)
	}
	resp := &CommandResponse{Result: Result(res[0]), Data: res[1:]}
	d.cfg.metrics.ObserveCommand(cmd, resp.Result, time.Since(start))
	slog.Debug("l3 result", "cmd", cmd.String(), "result", resp.Result.String(), "len", len(resp.Data))
	return resp, nil
}

// encryptedCommand sends an L3 envelope in ENCRYPTED_CMD chunks and returns
// the reassembled L3 response envelope. The send counter advances once the
// chip acknowledges the final chunk with REQUEST_OK.
func (d *Device) encryptedCommand(envelope []byte) ([]byte, error) {
	for off := 0; off < len(envelope); off += ChunkSize {
		end := min(off+ChunkSize, len(envelope))
		want := StatusRequestCon
		if end == len(envelope) {
			want = StatusRequestOK
		}
		if _, err := d.request(Request{ID: ReqEncryptedCmd, Data: envelope[off:end]}, want); err != nil {
			return nil, err
		}
	}
	d.session.commitSend()

	out := make([]byte, 0, 64)
	for range maxResultChunks {
		resp, err := d.receive(nil)
		if err != nil {
			return nil, err
		}
		switch resp.Status {
		case StatusResultCon, StatusResultOK:
			out = append(out, resp.Data...)
			if len(out) > MaxL3Size {
				return nil, fmt.Errorf("%w: L3 response exceeds %d bytes", ErrFrameCorrupt, MaxL3Size)
			}
			if resp.Status == StatusResultOK {
				return out, nil
			}
		default:
			return nil, &StatusError{Request: ReqEncryptedCmd, Status: resp.Status}
		}
	}
	return nil, fmt.Errorf("%w: L3 response did not complete within %d frames", ErrFrameCorrupt, maxResultChunks)
}
