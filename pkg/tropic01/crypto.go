package tropic01

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// protocolName is the Noise protocol name zero padded to the hash length.
const protocolName = "Noise_KK1_25519_AESGCM_SHA256\x00\x00\x00"

const (
	// KeySize is the length of X25519 keys and AES-256 session keys.
	KeySize = 32
	// TagSize is the AES-GCM tag length used by the handshake and L3 envelopes.
	TagSize = 16
	// IVSize is the AES-GCM nonce length.
	IVSize = 12
)

// SessionKeys is the output of the handshake key schedule.
type SessionKeys struct {
	Auth []byte // verifies the chip's handshake tag
	Cmd  []byte // host to chip
	Res  []byte // chip to host
}

// TranscriptHash folds the handshake inputs into the Noise handshake hash h.
func TranscriptHash(shipub, stpub, ehpub []byte, slot PairingSlot, etpub []byte) []byte {
	h := sha256.Sum256([]byte(protocolName))
	for _, part := range [][]byte{shipub, stpub, ehpub, {byte(slot)}, etpub} {
		s := sha256.New()
		s.Write(h[:])
		s.Write(part)
		s.Sum(h[:0])
	}
	return h[:]
}

// KeySchedule derives the session keys from the three X25519 shared secrets:
// ee = X25519(EHPRIV, ETPUB), se = X25519(SHiPRIV, ETPUB), es = X25519(EHPRIV, STPUB).
// Either side of the handshake computes the same secrets.
func KeySchedule(ee, se, es []byte) (*SessionKeys, error) {
	ck, _, err := noiseHKDF([]byte(protocolName), ee)
	if err != nil {
		return nil, err
	}
	if ck, _, err = noiseHKDF(ck, se); err != nil {
		return nil, err
	}
	ck, kauth, err := noiseHKDF(ck, es)
	if err != nil {
		return nil, err
	}
	kcmd, kres, err := noiseHKDF(ck, nil)
	if err != nil {
		return nil, err
	}
	return &SessionKeys{Auth: kauth, Cmd: kcmd, Res: kres}, nil
}

// noiseHKDF returns the two 32-byte outputs of HKDF-SHA256 with ck as salt
// and an empty info string.
func noiseHKDF(ck, ikm []byte) (out1, out2 []byte, err error) {
	out := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, ck, nil), out); err != nil {
		return nil, nil, fmt.Errorf("hkdf: %w", err)
	}
	return out[:KeySize], out[KeySize:], nil
}

// NewAEAD returns AES-256-GCM keyed with key.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// HandshakeTag computes the chip's authentication tag over the transcript hash.
func HandshakeTag(kauth, h []byte) ([]byte, error) {
	aead, err := NewAEAD(kauth)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonceIV(0), nil, h), nil
}

// nonceIV lays out a session counter as the 12-byte GCM nonce:
// little-endian counter in bytes 0..3, zeros after.
func nonceIV(counter uint32) []byte {
	iv := make([]byte, IVSize)
	binary.LittleEndian.PutUint32(iv, counter)
	return iv
}

// X25519 runs the key agreement and wraps failures (low order points).
func X25519(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return secret, nil
}

// VerifyECDSA checks a P-256 signature (r, s) over a 32-byte hash against the
// raw 64-byte public key reported by ECC_Key_Read.
func VerifyECDSA(pub []byte, hash []byte, r, s []byte) (bool, error) {
	if len(pub) != 64 {
		return false, fmt.Errorf("%w: P256 public key must be 64 bytes, got %d", ErrInvalidParameter, len(pub))
	}
	if _, err := ecdh.P256().NewPublicKey(append([]byte{0x04}, pub...)); err != nil {
		return false, fmt.Errorf("%w: P256 public key not on curve", ErrInvalidParameter)
	}
	key := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(pub[:32]),
		Y:     new(big.Int).SetBytes(pub[32:]),
	}
	return ecdsa.Verify(key, hash, new(big.Int).SetBytes(r), new(big.Int).SetBytes(s)), nil
}

// VerifyEdDSA checks an Ed25519 signature (R || S) over msg.
func VerifyEdDSA(pub []byte, msg []byte, r, s []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: Ed25519 public key must be 32 bytes, got %d", ErrInvalidParameter, len(pub))
	}
	sig := append(append([]byte{}, r...), s...)
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}
