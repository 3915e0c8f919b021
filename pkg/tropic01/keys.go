package tropic01

import (
	"bufio"
	"crypto/ecdh"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PairingKey is a host static X25519 key (SHiPRIV) and the pairing slot its
// public half is registered in.
type PairingKey struct {
	Slot    PairingSlot
	Private *ecdh.PrivateKey
}

// PublicKey returns SHiPUB.
func (k *PairingKey) PublicKey() []byte {
	return k.Private.PublicKey().Bytes()
}

// NewPairingKey wraps a raw 32-byte X25519 private key.
func NewPairingKey(slot PairingSlot, priv []byte) (*PairingKey, error) {
	if slot > PairingSlotMax {
		return nil, fmt.Errorf("%w: pairing slot %d (max %d)", ErrInvalidParameter, slot, PairingSlotMax)
	}
	key, err := ecdh.X25519().NewPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: pairing key: %v", ErrInvalidParameter, err)
	}
	return &PairingKey{Slot: slot, Private: key}, nil
}

// GeneratePairingKey creates a fresh pairing key for slot.
func GeneratePairingKey(rand io.Reader, slot PairingSlot) (*PairingKey, error) {
	key, err := ecdh.X25519().GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return NewPairingKey(slot, key.Bytes())
}

// LoadKeyHexFile loads a 32-byte key from a .hex file.
// The file should contain a single line with 64 hexadecimal characters.
func LoadKeyHexFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) != 2*KeySize {
			return nil, fmt.Errorf("key must be %d hex chars, got %d", 2*KeySize, len(line))
		}
		key, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("invalid hex key: %v", err)
		}
		return key, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("key file is empty")
}

// WriteKeyHexFile stores key as one line of upper-case hex, readable only by the owner.
func WriteKeyHexFile(path string, key []byte) error {
	return os.WriteFile(path, []byte(hexUpper(key)+"\n"), 0o600)
}

// LoadPairingKey reads SHiPRIV from a .hex file.
func LoadPairingKey(path string, slot PairingSlot) (*PairingKey, error) {
	raw, err := LoadKeyHexFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewPairingKey(slot, raw)
}

// LoadPublicKeyFile reads an X25519 public key (e.g. a pinned STPUB) from a .hex file.
func LoadPublicKeyFile(path string) (*ecdh.PublicKey, error) {
	raw, err := LoadKeyHexFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ecdh.X25519().NewPublicKey(raw)
}

// KeyFile is a key loaded from a .hex file.
type KeyFile struct {
	Name string // File name (e.g., "sh1priv.hex")
	Key  []byte
}

// LoadAllHexKeys loads all .hex key files from a directory, skipping invalid ones.
func LoadAllHexKeys(dir string) ([]KeyFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var keys []KeyFile
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".hex" {
			continue
		}
		key, err := LoadKeyHexFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, KeyFile{Name: e.Name(), Key: key})
	}
	return keys, nil
}

// PairingKeyFromEnv builds a pairing key from environment variables (for
// testing/debugging).
// Environment variables:
//   - TROPIC01_SHIPRIV: 64-character hex string (32 bytes)
//   - TROPIC01_PAIRING_SLOT: optional slot number, default 0
func PairingKeyFromEnv() (*PairingKey, error) {
	privHex := strings.TrimSpace(os.Getenv("TROPIC01_SHIPRIV"))
	slotStr := strings.TrimSpace(os.Getenv("TROPIC01_PAIRING_SLOT"))
	if len(privHex) != 2*KeySize {
		return nil, fmt.Errorf("TROPIC01_SHIPRIV must be %d hex", 2*KeySize)
	}
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("TROPIC01_SHIPRIV invalid hex: %v", err)
	}
	var slot uint64
	if slotStr != "" {
		if slot, err = strconv.ParseUint(slotStr, 10, 8); err != nil {
			return nil, fmt.Errorf("TROPIC01_PAIRING_SLOT invalid: %v", err)
		}
	}
	return NewPairingKey(PairingSlot(slot), priv)
}
